// Package contest implements the public and admin actions of the prediction
// contest on top of storage, the token manager and the price feed.
package contest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rewired-gh/niftyoracle/internal/feed"
	"github.com/rewired-gh/niftyoracle/internal/logger"
	"github.com/rewired-gh/niftyoracle/internal/models"
	"github.com/rewired-gh/niftyoracle/internal/ranking"
	"github.com/rewired-gh/niftyoracle/internal/storage"
)

// Messages shown to participants and the operator.
const (
	MsgNoActiveContest   = "No active contest"
	MsgRequiredFields    = "Name and prediction value are required"
	MsgNotANumber        = "Prediction value must be a number"
	MsgRangeUnavailable  = "Unable to verify prediction range. Please try again later."
	MsgSubmitFailed      = "Error submitting prediction"
	MsgNoReferencePrice  = "Waiting for the first price update"
	MsgInvalidPIN        = "Invalid PIN"
	MsgConfigureToken    = "Please configure access token first"
	MsgFetchInProgress   = "A price fetch is already in progress"
	MsgStorageFailed     = "Something went wrong, please try again"
	DefaultContestName   = "Default Contest"
	UnnamedContestName   = "New Contest"
)

// Error is a failure carrying a message safe to show to users. Err is the
// underlying cause, kept for logs and errors.Is.
type Error struct {
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func userError(msg string, cause error) *Error {
	return &Error{Message: msg, Err: cause}
}

// Store is the persistence the contest needs.
type Store interface {
	GetActiveContest() (*models.Contest, error)
	CreateContest(name string) (*models.Contest, error)
	ListContests() ([]models.Contest, error)
	AddPrediction(p *models.Prediction) error
	AddPredictions(batch []models.Prediction) (int, error)
	DeletePrediction(id int64) error
	ListPredictions(contestID int64) ([]models.Prediction, error)
	LatestPrice() (*models.PriceSample, error)
}

// Tokens is the token manager surface used by admin actions.
type Tokens interface {
	Regenerate(ctx context.Context, requestToken string) (string, error)
	SetAccessToken(accessToken string) error
	Snapshot() models.TokenState
}

// Feed is the price feed surface.
type Feed interface {
	Snapshot() feed.MarketState
	TriggerImmediateFetch(ctx context.Context) (feed.Outcome, error)
}

// Recorder counts predictions and token regenerations.
type Recorder interface {
	ObservePredictions(source string, accepted int, rejectedReason string, rejected int)
	ObserveRegeneration(err error)
}

// Config tunes the contest rules and admin sessions.
type Config struct {
	BandPct    float64
	TopN       int
	AdminPIN   string
	SessionTTL time.Duration
}

// Service serves home, prediction submission and admin actions.
type Service struct {
	store    Store
	tokens   Tokens
	feed     Feed
	recorder Recorder
	now      func() time.Time
	log      *logger.Logger

	bandPct    float64
	topN       int
	adminPIN   string
	sessionTTL time.Duration

	mu       sync.Mutex
	sessions map[string]time.Time
}

// Option customizes a Service.
type Option func(*Service)

// WithRecorder reports predictions and regenerations to r.
func WithRecorder(r Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

// WithClock overrides time.Now for session expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService builds a Service. Zero config values fall back to defaults.
func NewService(cfg Config, store Store, tokens Tokens, f Feed, opts ...Option) *Service {
	if cfg.BandPct <= 0 {
		cfg.BandPct = models.DefaultBandPct
	}
	if cfg.TopN <= 0 {
		cfg.TopN = ranking.DefaultTopN
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 12 * time.Hour
	}
	s := &Service{
		store:      store,
		tokens:     tokens,
		feed:       f,
		now:        time.Now,
		log:        logger.Named("contest"),
		bandPct:    cfg.BandPct,
		topN:       cfg.TopN,
		adminPIN:   cfg.AdminPIN,
		sessionTTL: cfg.SessionTTL,
		sessions:   make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// HomeView is the public leaderboard.
type HomeView struct {
	Contest        *models.Contest
	TopPredictions []ranking.Ranked
	CurrentPrice   *float64
	LastClosePrice *float64
	// Reference is the price the leaderboard was ranked against; it may come
	// from the stored price log when the feed has not fetched since startup.
	Reference *float64
	Message   string
}

// ViewHome ranks the active contest against the live price, falling back to
// the newest stored sample. With no price at all the leaderboard is empty.
func (s *Service) ViewHome() (HomeView, error) {
	market := s.feed.Snapshot()
	view := HomeView{
		TopPredictions: []ranking.Ranked{},
		CurrentPrice:   market.CurrentPrice,
		LastClosePrice: market.LastClosePrice,
	}

	contest, err := s.store.GetActiveContest()
	if errors.Is(err, storage.ErrNoActiveContest) {
		view.Message = MsgNoActiveContest
		return view, nil
	}
	if err != nil {
		s.log.Error("Failed to load active contest: %v", err)
		return view, userError(MsgStorageFailed, err)
	}
	view.Contest = contest

	reference := market.CurrentPrice
	if reference == nil {
		sample, err := s.store.LatestPrice()
		if err != nil {
			s.log.Error("Failed to load latest price: %v", err)
			return view, userError(MsgStorageFailed, err)
		}
		if sample != nil {
			p := sample.Price
			reference = &p
		}
	}

	predictions, err := s.store.ListPredictions(contest.ID)
	if err != nil {
		s.log.Error("Failed to list predictions: %v", err)
		return view, userError(MsgStorageFailed, err)
	}

	top, err := ranking.TopN(predictions, reference, s.topN)
	if errors.Is(err, ranking.ErrNoReference) {
		view.Message = MsgNoReferencePrice
		return view, nil
	}
	if err != nil {
		return view, err
	}
	view.TopPredictions = top
	view.Reference = reference
	return view, nil
}

// Band returns the acceptance band around the current close price, if known.
func (s *Service) Band() (models.Band, bool) {
	close := s.feed.Snapshot().LastClosePrice
	if close == nil {
		return models.Band{}, false
	}
	return models.NewBand(*close, s.bandPct), true
}

// SubmitPrediction validates and stores a participant's guess for the active
// contest. rawValue is the value as typed. The band is checked once, here,
// against the close price known right now.
func (s *Service) SubmitPrediction(name, rawValue string) (*models.Prediction, error) {
	name = strings.TrimSpace(name)
	rawValue = strings.TrimSpace(rawValue)
	if name == "" || rawValue == "" {
		return nil, s.rejectForm("missing", userError(MsgRequiredFields, nil))
	}
	value, err := strconv.ParseFloat(rawValue, 64)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
		return nil, s.rejectForm("invalid", userError(MsgNotANumber, err))
	}

	band, ok := s.Band()
	if !ok {
		return nil, s.rejectForm("no_close", userError(MsgRangeUnavailable, nil))
	}
	if !band.Contains(value) {
		msg := fmt.Sprintf("Prediction must be within %.0f%% of last close price (%.2f - %.2f)",
			s.bandPct*100, band.Min, band.Max)
		return nil, s.rejectForm("out_of_band", userError(msg, nil))
	}

	contest, err := s.store.GetActiveContest()
	if errors.Is(err, storage.ErrNoActiveContest) {
		return nil, s.rejectForm("no_contest", userError(MsgNoActiveContest, err))
	}
	if err != nil {
		s.log.Error("Failed to load active contest: %v", err)
		return nil, s.rejectForm("storage", userError(MsgSubmitFailed, err))
	}

	p := &models.Prediction{
		ContestID:      contest.ID,
		Name:           name,
		PredictedValue: value,
		SubmittedAt:    s.now(),
	}
	if err := s.store.AddPrediction(p); err != nil {
		s.log.Error("Failed to store prediction from %q: %v", name, err)
		return nil, s.rejectForm("storage", userError(MsgSubmitFailed, err))
	}
	if s.recorder != nil {
		s.recorder.ObservePredictions("form", 1, "", 0)
	}
	s.log.Info("Prediction %d accepted for contest %d: %.2f", p.ID, contest.ID, value)
	return p, nil
}

func (s *Service) rejectForm(reason string, err *Error) error {
	if s.recorder != nil {
		s.recorder.ObservePredictions("form", 0, reason, 1)
	}
	return err
}
