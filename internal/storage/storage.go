// Package storage provides SQLite-backed persistence for contests, predictions, and price samples.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rewired-gh/niftyoracle/internal/models"
	_ "modernc.org/sqlite"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrNoActiveContest = errors.New("no active contest")
)

// Storage wraps a SQLite database for all persistence operations.
type Storage struct {
	db         *sql.DB
	maxSamples int
}

// New opens or creates the SQLite database at dbPath.
// An empty dbPath defaults to $TMPDIR/niftyoracle/data.db.
func New(maxSamples int, dbPath string) (*Storage, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "niftyoracle", "data.db")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	s := &Storage{db: db, maxSamples: maxSamples}
	if err := s.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Storage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Storage) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS contests (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			name       TEXT    NOT NULL,
			created_at INTEGER NOT NULL,
			is_active  INTEGER NOT NULL DEFAULT 1
		)`,
		`CREATE TABLE IF NOT EXISTS predictions (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			contest_id      INTEGER NOT NULL REFERENCES contests(id) ON DELETE CASCADE,
			name            TEXT    NOT NULL,
			predicted_value REAL    NOT NULL,
			submitted_at    INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS price_samples (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			price      REAL    NOT NULL,
			fetched_at INTEGER NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_contests_single_active ON contests(is_active) WHERE is_active = 1`,
		`CREATE INDEX IF NOT EXISTS idx_predictions_contest ON predictions(contest_id, submitted_at)`,
		`CREATE INDEX IF NOT EXISTS idx_price_samples_fetched_at ON price_samples(fetched_at DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// EnsureDefaultContest inserts an active contest named name when the table is empty.
func (s *Storage) EnsureDefaultContest(name string) error {
	_, err := s.db.Exec(`
		INSERT INTO contests (name, created_at, is_active)
		SELECT ?, ?, 1 WHERE NOT EXISTS (SELECT 1 FROM contests)`,
		name, time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to seed default contest: %w", err)
	}
	return nil
}

// GetActiveContest returns the active contest or ErrNoActiveContest.
func (s *Storage) GetActiveContest() (*models.Contest, error) {
	row := s.db.QueryRow(`SELECT ` + contestCols + ` FROM contests WHERE is_active = 1 LIMIT 1`)
	c, err := scanContest(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoActiveContest
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active contest: %w", err)
	}
	return c, nil
}

// CreateContest deactivates every contest and inserts name as the only active one.
// Both steps run in one transaction so a failure never leaves zero active contests.
func (s *Storage) CreateContest(name string) (*models.Contest, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.Exec(`UPDATE contests SET is_active = 0 WHERE is_active = 1`); err != nil {
		return nil, fmt.Errorf("failed to deactivate contests: %w", err)
	}

	c := &models.Contest{Name: name, CreatedAt: time.Now(), IsActive: true}
	res, err := tx.Exec(`INSERT INTO contests (name, created_at, is_active) VALUES (?, ?, 1)`,
		c.Name, c.CreatedAt.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("failed to insert contest: %w", err)
	}
	if c.ID, err = res.LastInsertId(); err != nil {
		return nil, fmt.Errorf("failed to read contest id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit contest: %w", err)
	}
	return c, nil
}

// ListContests returns all contests, newest first.
func (s *Storage) ListContests() ([]models.Contest, error) {
	rows, err := s.db.Query(`SELECT ` + contestCols + ` FROM contests ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query contests: %w", err)
	}
	defer rows.Close()

	contests := []models.Contest{}
	for rows.Next() {
		c, err := scanContest(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan contest: %w", err)
		}
		contests = append(contests, *c)
	}
	return contests, rows.Err()
}

// AddPrediction inserts p and sets its ID. The owning contest must exist.
func (s *Storage) AddPrediction(p *models.Prediction) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid prediction: %w", err)
	}
	if p.SubmittedAt.IsZero() {
		p.SubmittedAt = time.Now()
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := contestExists(tx, p.ContestID); err != nil {
		return err
	}
	res, err := tx.Exec(`INSERT INTO predictions (contest_id, name, predicted_value, submitted_at) VALUES (?,?,?,?)`,
		p.ContestID, p.Name, p.PredictedValue, p.SubmittedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to insert prediction: %w", err)
	}
	if p.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("failed to read prediction id: %w", err)
	}
	return tx.Commit()
}

// AddPredictions inserts a batch in one transaction and returns the number inserted.
// Every row must reference an existing contest; one bad row aborts the batch.
func (s *Storage) AddPredictions(batch []models.Prediction) (int, error) {
	if len(batch) == 0 {
		return 0, nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.Prepare(`INSERT INTO predictions (contest_id, name, predicted_value, submitted_at) VALUES (?,?,?,?)`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	checked := make(map[int64]bool)
	now := time.Now()
	for i := range batch {
		p := &batch[i]
		if err := p.Validate(); err != nil {
			return 0, fmt.Errorf("invalid prediction %d: %w", i, err)
		}
		if !checked[p.ContestID] {
			if err := contestExists(tx, p.ContestID); err != nil {
				return 0, err
			}
			checked[p.ContestID] = true
		}
		if p.SubmittedAt.IsZero() {
			p.SubmittedAt = now
		}
		if _, err := stmt.Exec(p.ContestID, p.Name, p.PredictedValue, p.SubmittedAt.UnixNano()); err != nil {
			return 0, fmt.Errorf("failed to insert prediction %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit predictions: %w", err)
	}
	return len(batch), nil
}

// DeletePrediction removes a prediction by id.
func (s *Storage) DeletePrediction(id int64) error {
	res, err := s.db.Exec(`DELETE FROM predictions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete prediction: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("prediction %d: %w", id, ErrNotFound)
	}
	return nil
}

// ListPredictions returns a contest's predictions, newest first.
func (s *Storage) ListPredictions(contestID int64) ([]models.Prediction, error) {
	rows, err := s.db.Query(`
		SELECT id, contest_id, name, predicted_value, submitted_at
		FROM predictions WHERE contest_id = ?
		ORDER BY submitted_at DESC, id DESC`, contestID)
	if err != nil {
		return nil, fmt.Errorf("failed to query predictions: %w", err)
	}
	defer rows.Close()

	predictions := []models.Prediction{}
	for rows.Next() {
		var p models.Prediction
		var submittedAtNano int64
		if err := rows.Scan(&p.ID, &p.ContestID, &p.Name, &p.PredictedValue, &submittedAtNano); err != nil {
			return nil, fmt.Errorf("failed to scan prediction: %w", err)
		}
		p.SubmittedAt = time.Unix(0, submittedAtNano)
		predictions = append(predictions, p)
	}
	return predictions, rows.Err()
}

// AddPriceSample appends a sample to the price log.
func (s *Storage) AddPriceSample(sample *models.PriceSample) error {
	if sample.FetchedAt.IsZero() {
		sample.FetchedAt = time.Now()
	}
	res, err := s.db.Exec(`INSERT INTO price_samples (price, fetched_at) VALUES (?, ?)`,
		sample.Price, sample.FetchedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to insert price sample: %w", err)
	}
	sample.ID, _ = res.LastInsertId()
	return nil
}

// LatestPrice returns the most recent sample, or nil when none was ever recorded.
func (s *Storage) LatestPrice() (*models.PriceSample, error) {
	row := s.db.QueryRow(`SELECT id, price, fetched_at FROM price_samples ORDER BY fetched_at DESC, id DESC LIMIT 1`)
	var sample models.PriceSample
	var fetchedAtNano int64
	err := row.Scan(&sample.ID, &sample.Price, &fetchedAtNano)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load latest price: %w", err)
	}
	sample.FetchedAt = time.Unix(0, fetchedAtNano)
	return &sample, nil
}

// RotateSamples keeps at most maxSamples newest price samples.
func (s *Storage) RotateSamples() error {
	if s.maxSamples <= 0 {
		return nil
	}
	_, err := s.db.Exec(`
		DELETE FROM price_samples WHERE id NOT IN (
			SELECT id FROM price_samples ORDER BY fetched_at DESC, id DESC LIMIT ?
		)`, s.maxSamples)
	if err != nil {
		return fmt.Errorf("failed to rotate price samples: %w", err)
	}
	return nil
}

const contestCols = `id, name, created_at, is_active`

func scanContest(scan func(...any) error) (*models.Contest, error) {
	var c models.Contest
	var createdAtNano int64
	var active int
	if err := scan(&c.ID, &c.Name, &createdAtNano, &active); err != nil {
		return nil, err
	}
	c.CreatedAt = time.Unix(0, createdAtNano)
	c.IsActive = active != 0
	return &c, nil
}

func contestExists(tx *sql.Tx, id int64) error {
	var one int
	err := tx.QueryRow(`SELECT 1 FROM contests WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("contest %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to look up contest: %w", err)
	}
	return nil
}
