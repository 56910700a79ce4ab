package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rewired-gh/niftyoracle/internal/models"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := New(100, ":memory:")
	if err != nil {
		t.Fatalf("failed to create test storage: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func countActive(t *testing.T, s *Storage) int {
	t.Helper()
	contests, err := s.ListContests()
	if err != nil {
		t.Fatalf("ListContests: %v", err)
	}
	n := 0
	for _, c := range contests {
		if c.IsActive {
			n++
		}
	}
	return n
}

func TestStorage_EnsureDefaultContest(t *testing.T) {
	s := newTestStorage(t)
	if err := s.EnsureDefaultContest("Default Contest"); err != nil {
		t.Fatalf("EnsureDefaultContest: %v", err)
	}
	if err := s.EnsureDefaultContest("Default Contest"); err != nil {
		t.Fatalf("EnsureDefaultContest (second): %v", err)
	}
	contests, _ := s.ListContests()
	if len(contests) != 1 {
		t.Fatalf("got %d contests, want 1", len(contests))
	}
	active, err := s.GetActiveContest()
	if err != nil {
		t.Fatalf("GetActiveContest: %v", err)
	}
	if active.Name != "Default Contest" {
		t.Errorf("active name = %q", active.Name)
	}
}

func TestStorage_GetActiveContest_None(t *testing.T) {
	s := newTestStorage(t)
	if _, err := s.GetActiveContest(); !errors.Is(err, ErrNoActiveContest) {
		t.Errorf("expected ErrNoActiveContest, got %v", err)
	}
}

func TestStorage_CreateContest_SingleActive(t *testing.T) {
	s := newTestStorage(t)
	if err := s.EnsureDefaultContest("Default Contest"); err != nil {
		t.Fatal(err)
	}
	first, err := s.CreateContest("Week 1")
	if err != nil {
		t.Fatalf("CreateContest: %v", err)
	}
	second, err := s.CreateContest("Week 2")
	if err != nil {
		t.Fatalf("CreateContest: %v", err)
	}
	if n := countActive(t, s); n != 1 {
		t.Fatalf("got %d active contests, want 1", n)
	}
	active, _ := s.GetActiveContest()
	if active.ID != second.ID {
		t.Errorf("active contest = %d, want %d", active.ID, second.ID)
	}
	if first.ID == second.ID {
		t.Error("contest IDs should differ")
	}
}

func TestStorage_ListContests_NewestFirst(t *testing.T) {
	s := newTestStorage(t)
	for _, name := range []string{"a", "b", "c"} {
		if _, err := s.CreateContest(name); err != nil {
			t.Fatal(err)
		}
	}
	contests, err := s.ListContests()
	if err != nil {
		t.Fatal(err)
	}
	if len(contests) != 3 || contests[0].Name != "c" || contests[2].Name != "a" {
		t.Errorf("unexpected order: %+v", contests)
	}
}

func TestStorage_AddAndListPredictions(t *testing.T) {
	s := newTestStorage(t)
	c, _ := s.CreateContest("Week 1")
	now := time.Now()

	p1 := &models.Prediction{ContestID: c.ID, Name: "Asha", PredictedValue: 24000, SubmittedAt: now.Add(-time.Minute)}
	p2 := &models.Prediction{ContestID: c.ID, Name: "Ravi", PredictedValue: 24100, SubmittedAt: now}
	for _, p := range []*models.Prediction{p1, p2} {
		if err := s.AddPrediction(p); err != nil {
			t.Fatalf("AddPrediction: %v", err)
		}
		if p.ID == 0 {
			t.Error("expected ID to be set")
		}
	}

	got, err := s.ListPredictions(c.ID)
	if err != nil {
		t.Fatalf("ListPredictions: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d predictions, want 2", len(got))
	}
	if got[0].Name != "Ravi" {
		t.Errorf("expected newest first, got %s", got[0].Name)
	}
	if got[1].PredictedValue != 24000 {
		t.Errorf("value = %v", got[1].PredictedValue)
	}
}

func TestStorage_AddPrediction_UnknownContest(t *testing.T) {
	s := newTestStorage(t)
	err := s.AddPrediction(&models.Prediction{ContestID: 42, Name: "x", PredictedValue: 1})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStorage_AddPredictions_Batch(t *testing.T) {
	s := newTestStorage(t)
	c, _ := s.CreateContest("Week 1")
	batch := []models.Prediction{
		{ContestID: c.ID, Name: "A", PredictedValue: 101},
		{ContestID: c.ID, Name: "B", PredictedValue: 102},
	}
	n, err := s.AddPredictions(batch)
	if err != nil {
		t.Fatalf("AddPredictions: %v", err)
	}
	if n != 2 {
		t.Errorf("inserted %d, want 2", n)
	}
	got, _ := s.ListPredictions(c.ID)
	if len(got) != 2 {
		t.Errorf("got %d predictions, want 2", len(got))
	}
}

func TestStorage_AddPredictions_RollsBackOnBadContest(t *testing.T) {
	s := newTestStorage(t)
	c, _ := s.CreateContest("Week 1")
	batch := []models.Prediction{
		{ContestID: c.ID, Name: "A", PredictedValue: 101},
		{ContestID: c.ID + 99, Name: "B", PredictedValue: 102},
	}
	if _, err := s.AddPredictions(batch); err == nil {
		t.Fatal("expected error")
	}
	got, _ := s.ListPredictions(c.ID)
	if len(got) != 0 {
		t.Errorf("expected rollback, got %d predictions", len(got))
	}
}

func TestStorage_DeletePrediction(t *testing.T) {
	s := newTestStorage(t)
	c, _ := s.CreateContest("Week 1")
	p := &models.Prediction{ContestID: c.ID, Name: "A", PredictedValue: 1}
	if err := s.AddPrediction(p); err != nil {
		t.Fatal(err)
	}
	if err := s.DeletePrediction(p.ID); err != nil {
		t.Fatalf("DeletePrediction: %v", err)
	}
	if err := s.DeletePrediction(p.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestStorage_LatestPrice(t *testing.T) {
	s := newTestStorage(t)
	latest, err := s.LatestPrice()
	if err != nil {
		t.Fatalf("LatestPrice: %v", err)
	}
	if latest != nil {
		t.Fatalf("expected nil before any sample, got %+v", latest)
	}

	now := time.Now()
	for i, price := range []float64{24000, 24050, 24010} {
		sample := &models.PriceSample{Price: price, FetchedAt: now.Add(time.Duration(i) * time.Second)}
		if err := s.AddPriceSample(sample); err != nil {
			t.Fatalf("AddPriceSample: %v", err)
		}
	}
	latest, err = s.LatestPrice()
	if err != nil {
		t.Fatal(err)
	}
	if latest.Price != 24010 {
		t.Errorf("latest price = %v, want 24010", latest.Price)
	}
}

func TestStorage_RotateSamples(t *testing.T) {
	s, err := New(5, ":memory:")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	now := time.Now()
	for i := 0; i < 10; i++ {
		sample := &models.PriceSample{Price: float64(i), FetchedAt: now.Add(time.Duration(i) * time.Second)}
		if err := s.AddPriceSample(sample); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.RotateSamples(); err != nil {
		t.Fatalf("RotateSamples: %v", err)
	}
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM price_samples`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 5 {
		t.Errorf("got %d samples after rotation, want 5", n)
	}
	latest, _ := s.LatestPrice()
	if latest.Price != 9 {
		t.Errorf("newest sample should survive rotation, got %v", latest.Price)
	}
}

func TestStorage_Ping(t *testing.T) {
	s := newTestStorage(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}
