package contest

import (
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"strings"

	"github.com/google/uuid"

	"github.com/rewired-gh/niftyoracle/internal/feed"
	"github.com/rewired-gh/niftyoracle/internal/importer"
	"github.com/rewired-gh/niftyoracle/internal/models"
	"github.com/rewired-gh/niftyoracle/internal/storage"
)

// ErrUnauthorized is returned for an unknown or expired admin session.
var ErrUnauthorized = errors.New("admin session required")

// Login checks pin and opens an admin session. An empty configured PIN disables login.
func (s *Service) Login(pin string) (string, error) {
	if s.adminPIN == "" || subtle.ConstantTimeCompare([]byte(pin), []byte(s.adminPIN)) != 1 {
		s.log.Warn("Rejected admin login")
		return "", userError(MsgInvalidPIN, ErrUnauthorized)
	}

	id := uuid.NewString()
	s.mu.Lock()
	s.pruneLocked()
	s.sessions[id] = s.now().Add(s.sessionTTL)
	s.mu.Unlock()

	s.log.Info("Admin logged in")
	return id, nil
}

// Logout ends the session. Unknown IDs are ignored.
func (s *Service) Logout(sessionID string) {
	s.mu.Lock()
	delete(s.sessions, sessionID)
	s.mu.Unlock()
}

// Admin returns the admin actions for a live session.
func (s *Service) Admin(sessionID string) (*Admin, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expires, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrUnauthorized
	}
	if !s.now().Before(expires) {
		delete(s.sessions, sessionID)
		return nil, ErrUnauthorized
	}
	return &Admin{s: s}, nil
}

func (s *Service) pruneLocked() {
	now := s.now()
	for id, expires := range s.sessions {
		if !now.Before(expires) {
			delete(s.sessions, id)
		}
	}
}

// Admin groups the operator actions. Obtain one through Service.Admin.
type Admin struct {
	s *Service
}

// CreateContest makes name the only active contest. An empty name becomes "New Contest".
func (a *Admin) CreateContest(name string) (*models.Contest, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = UnnamedContestName
	}
	c, err := a.s.store.CreateContest(name)
	if err != nil {
		a.s.log.Error("Failed to create contest %q: %v", name, err)
		return nil, userError(MsgStorageFailed, err)
	}
	a.s.log.Info("Contest %d %q is now active", c.ID, c.Name)
	return c, nil
}

// DeletePrediction removes a prediction unconditionally. Deleting an id that
// no longer exists succeeds, so a repeated request is harmless.
func (a *Admin) DeletePrediction(id int64) error {
	err := a.s.store.DeletePrediction(id)
	if errors.Is(err, storage.ErrNotFound) {
		a.s.log.Debug("Prediction %d already gone", id)
		return nil
	}
	if err != nil {
		a.s.log.Error("Failed to delete prediction %d: %v", id, err)
		return userError(MsgStorageFailed, err)
	}
	a.s.log.Info("Prediction %d deleted", id)
	return nil
}

// ImportSummary reports a bulk import.
type ImportSummary struct {
	ContestID int64
	Imported  int
	Rejected  []importer.Rejection
	// Malformed counts CSV lines that could not be decoded at all.
	Malformed int
}

// BulkImport validates rows against the current band and inserts the accepted
// ones into the active contest in one transaction. Rejected rows never abort the batch.
func (a *Admin) BulkImport(rows [][]string) (ImportSummary, error) {
	return a.importRecords(importer.FromRows(rows))
}

// BulkImportCSV decodes headerless name,value CSV and imports it. Rejections
// carry the CSV line number.
func (a *Admin) BulkImportCSV(r io.Reader) (ImportSummary, error) {
	records, malformed, err := importer.ReadCSV(r)
	if err != nil {
		return ImportSummary{}, userError("Unable to read CSV file", err)
	}
	sum, err := a.importRecords(records)
	sum.Malformed = malformed
	return sum, err
}

func (a *Admin) importRecords(records []importer.Record) (ImportSummary, error) {
	contest, err := a.s.store.GetActiveContest()
	if errors.Is(err, storage.ErrNoActiveContest) {
		return ImportSummary{}, userError(MsgNoActiveContest, err)
	}
	if err != nil {
		a.s.log.Error("Failed to load active contest: %v", err)
		return ImportSummary{}, userError(MsgStorageFailed, err)
	}

	res := importer.NewValidator(a.s.bandPct).ValidateRecords(records, contest.ID, a.s.feed.Snapshot().LastClosePrice)
	sum := ImportSummary{ContestID: contest.ID, Rejected: res.Rejected}

	now := a.s.now()
	for i := range res.Accepted {
		res.Accepted[i].SubmittedAt = now
	}
	n, err := a.s.store.AddPredictions(res.Accepted)
	if err != nil {
		a.s.log.Error("Failed to import %d predictions: %v", len(res.Accepted), err)
		return sum, userError(MsgStorageFailed, err)
	}
	sum.Imported = n

	if a.s.recorder != nil {
		a.s.recorder.ObservePredictions("import", n, "invalid", len(res.Rejected))
	}
	a.s.log.Info("Imported %d predictions into contest %d (%d rejected)", n, contest.ID, len(res.Rejected))
	return sum, nil
}

// RefreshResult is what a token refresh reports back to the operator.
type RefreshResult struct {
	Success      bool
	IsTokenValid bool
	Error        string
	AccessToken  string
}

// RefreshToken regenerates the access token from requestToken (or the last
// known one) and, on success, fetches a quote right away.
func (a *Admin) RefreshToken(ctx context.Context, requestToken string) RefreshResult {
	accessToken, err := a.s.tokens.Regenerate(ctx, strings.TrimSpace(requestToken))
	if a.s.recorder != nil {
		a.s.recorder.ObserveRegeneration(err)
	}
	if err != nil {
		st := a.s.tokens.Snapshot()
		return RefreshResult{IsTokenValid: st.IsValid(), Error: st.LastError}
	}

	a.fetchNow(ctx)
	return RefreshResult{
		Success:      true,
		IsTokenValid: a.s.tokens.Snapshot().IsValid(),
		AccessToken:  accessToken,
	}
}

// SetAccessToken installs an operator-supplied token without verifying it,
// then fetches a quote so a bad token is caught immediately.
func (a *Admin) SetAccessToken(ctx context.Context, accessToken string) error {
	if err := a.s.tokens.SetAccessToken(strings.TrimSpace(accessToken)); err != nil {
		var ve *models.ValidationError
		if errors.As(err, &ve) {
			return userError(ve.Message, err)
		}
		return userError(MsgStorageFailed, err)
	}
	a.fetchNow(ctx)
	return nil
}

// TriggerFetch fetches a quote now. It needs a configured token, verified or
// not. A fetch that fails reports the feed's error to the operator.
func (a *Admin) TriggerFetch(ctx context.Context) (feed.Outcome, error) {
	outcome, err := a.s.feed.TriggerImmediateFetch(ctx)
	switch {
	case errors.Is(err, feed.ErrNoAccessToken):
		return outcome, userError(MsgConfigureToken, err)
	case outcome == feed.OutcomeBusy:
		return outcome, userError(MsgFetchInProgress, nil)
	case outcome == feed.OutcomeAuth || outcome == feed.OutcomeTransport:
		msg := a.s.feed.Snapshot().LastError
		if msg == "" && err != nil {
			msg = err.Error()
		}
		return outcome, userError("Price fetch failed: "+msg, err)
	}
	return outcome, nil
}

func (a *Admin) fetchNow(ctx context.Context) {
	if outcome, err := a.s.feed.TriggerImmediateFetch(ctx); err != nil {
		a.s.log.Warn("Fetch after token update ended with %s: %v", outcome, err)
	}
}

// View is the admin dashboard.
type View struct {
	Contests       []models.Contest
	ActiveContest  *models.Contest
	Predictions    []models.Prediction
	CurrentPrice   *float64
	LastClosePrice *float64
	Market         feed.MarketState
	TokenStatus    models.TokenStatus
	IsTokenValid   bool
	TokenError     string
	RequestToken   string
}

// View gathers everything the admin dashboard shows. Predictions belong to the
// active contest, newest first.
func (a *Admin) View() (View, error) {
	market := a.s.feed.Snapshot()
	tok := a.s.tokens.Snapshot()
	v := View{
		Predictions:    []models.Prediction{},
		CurrentPrice:   market.CurrentPrice,
		LastClosePrice: market.LastClosePrice,
		Market:         market,
		TokenStatus:    tok.Status,
		IsTokenValid:   tok.IsValid(),
		TokenError:     tok.LastError,
		RequestToken:   tok.RequestToken,
	}

	contests, err := a.s.store.ListContests()
	if err != nil {
		a.s.log.Error("Failed to list contests: %v", err)
		return v, userError(MsgStorageFailed, err)
	}
	v.Contests = contests

	active, err := a.s.store.GetActiveContest()
	if errors.Is(err, storage.ErrNoActiveContest) {
		return v, nil
	}
	if err != nil {
		a.s.log.Error("Failed to load active contest: %v", err)
		return v, userError(MsgStorageFailed, err)
	}
	v.ActiveContest = active

	if v.Predictions, err = a.s.store.ListPredictions(active.ID); err != nil {
		a.s.log.Error("Failed to list predictions: %v", err)
		return v, userError(MsgStorageFailed, err)
	}
	return v, nil
}
