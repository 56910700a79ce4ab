// Package feed drives the periodic Kite quote poll and owns the in-memory market state.
package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rewired-gh/niftyoracle/internal/kite"
	"github.com/rewired-gh/niftyoracle/internal/logger"
	"github.com/rewired-gh/niftyoracle/internal/models"
)

const (
	DefaultInterval     = time.Minute
	DefaultFetchTimeout = 10 * time.Second

	msgTokenExpired = "Access token invalid or expired"
)

// ErrNoAccessToken is returned by TriggerImmediateFetch when nothing is configured.
var ErrNoAccessToken = errors.New("access token not configured")

// Outcome labels what a fetch attempt did.
type Outcome string

const (
	OutcomeOK        Outcome = "ok"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeBackoff   Outcome = "backoff"
	OutcomeBusy      Outcome = "busy"
	OutcomeAuth      Outcome = "auth_error"
	OutcomeTransport Outcome = "transport_error"
)

// QuoteFetcher is the broker call used on every tick.
type QuoteFetcher interface {
	FetchQuote(ctx context.Context, accessToken string) (models.Quote, error)
}

// TokenSource is the slice of the token manager the scheduler needs.
type TokenSource interface {
	Pollable() bool
	AccessToken() (string, bool)
	Invalidate(accessToken, reason string)
	MarkVerified(accessToken string)
}

// SampleStore persists successful fetches.
type SampleStore interface {
	AddPriceSample(sample *models.PriceSample) error
	RotateSamples() error
}

// Notifier tells the operator about feed health changes.
type Notifier interface {
	SendTokenInvalid(reason string) error
	SendError(err error) error
	SendRecovery(failureCount int) error
}

// Recorder receives fetch outcomes and prices for metrics.
type Recorder interface {
	ObserveFetch(outcome string)
	SetPrices(last, close float64)
}

// MarketState is the scheduler-owned view of the market. Nil prices are unknown.
type MarketState struct {
	CurrentPrice        *float64
	LastClosePrice      *float64
	LastFetchAt         time.Time
	LastError           string
	ConsecutiveFailures int
}

func (m MarketState) clone() MarketState {
	out := m
	if m.CurrentPrice != nil {
		v := *m.CurrentPrice
		out.CurrentPrice = &v
	}
	if m.LastClosePrice != nil {
		v := *m.LastClosePrice
		out.LastClosePrice = &v
	}
	return out
}

// Config holds scheduler tuning.
type Config struct {
	Interval     time.Duration
	FetchTimeout time.Duration
	RetryBase    time.Duration
	RetryMax     time.Duration
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithNotifier sends feed health changes to n.
func WithNotifier(n Notifier) Option {
	return func(s *Scheduler) { s.notifier = n }
}

// WithRecorder reports outcomes and prices to r.
func WithRecorder(r Recorder) Option {
	return func(s *Scheduler) { s.recorder = r }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// Scheduler polls quotes on a fixed cadence and on demand. At most one fetch
// runs at a time; a trigger that arrives mid-fetch returns OutcomeBusy.
type Scheduler struct {
	fetcher  QuoteFetcher
	tokens   TokenSource
	store    SampleStore
	notifier Notifier
	recorder Recorder
	now      func() time.Time
	log      *logger.Logger

	interval     time.Duration
	fetchTimeout time.Duration

	inFlight atomic.Bool

	mu    sync.RWMutex
	state MarketState
	retry *RetryPolicy
}

// New builds a scheduler. Zero config values fall back to defaults.
func New(cfg Config, fetcher QuoteFetcher, tokens TokenSource, store SampleStore, opts ...Option) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = cfg.Interval
	}
	s := &Scheduler{
		fetcher:      fetcher,
		tokens:       tokens,
		store:        store,
		now:          time.Now,
		log:          logger.Named("feed"),
		interval:     cfg.Interval,
		fetchTimeout: cfg.FetchTimeout,
		retry:        NewRetryPolicy(cfg.RetryBase, cfg.RetryMax),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Snapshot returns a copy of the market state.
func (s *Scheduler) Snapshot() MarketState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.clone()
}

// Run ticks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.log.Info("Starting price feed (interval: %v)", s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("Price feed stopped")
			return
		case <-ticker.C:
			s.Tick(ctx)
			if err := s.store.RotateSamples(); err != nil {
				s.log.Warn("Failed to rotate price samples: %v", err)
			}
		}
	}
}

// Tick is the timer entry point. It skips silently while no usable token is
// configured and while the retry policy is backing off. Pending tokens are
// polled so a token that hit a transient failure at startup still gets verified.
func (s *Scheduler) Tick(ctx context.Context) Outcome {
	if !s.tokens.Pollable() {
		s.log.Debug("No pollable token, skipping tick")
		s.record(OutcomeSkipped)
		return OutcomeSkipped
	}
	s.mu.RLock()
	allowed := s.retry.Allow(s.now())
	s.mu.RUnlock()
	if !allowed {
		s.log.Debug("Backing off after %d failures, skipping tick", s.Snapshot().ConsecutiveFailures)
		s.record(OutcomeBackoff)
		return OutcomeBackoff
	}
	tok, _ := s.tokens.AccessToken()
	outcome, _ := s.fetch(ctx, tok)
	return outcome
}

// TriggerImmediateFetch fetches now, bypassing the retry backoff. It requires a
// configured token but not a verified one, so a freshly loaded token can be checked.
func (s *Scheduler) TriggerImmediateFetch(ctx context.Context) (Outcome, error) {
	tok, ok := s.tokens.AccessToken()
	if !ok {
		return OutcomeSkipped, ErrNoAccessToken
	}
	return s.fetch(ctx, tok)
}

func (s *Scheduler) fetch(ctx context.Context, accessToken string) (Outcome, error) {
	if !s.inFlight.CompareAndSwap(false, true) {
		s.log.Debug("Fetch already in flight")
		s.record(OutcomeBusy)
		return OutcomeBusy, nil
	}
	defer s.inFlight.Store(false)

	started := s.now()
	fctx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	defer cancel()

	quote, err := s.fetcher.FetchQuote(fctx, accessToken)
	if err == nil && quote.LastPrice <= 0 {
		err = fmt.Errorf("quote has non-positive last price %v", quote.LastPrice)
	}

	switch {
	case err == nil:
		s.onSuccess(quote, accessToken, started)
		s.record(OutcomeOK)
		return OutcomeOK, nil

	case kite.IsAuthError(err):
		s.mu.Lock()
		s.state.LastError = msgTokenExpired
		s.retry.RecordSuccess()
		s.state.ConsecutiveFailures = 0
		s.mu.Unlock()

		s.tokens.Invalidate(accessToken, msgTokenExpired)
		s.log.Warn("Access token invalid or expired, polling paused until the operator refreshes it")
		if s.notifier != nil {
			if nerr := s.notifier.SendTokenInvalid(msgTokenExpired); nerr != nil {
				s.log.Warn("Failed to send token notification: %v", nerr)
			}
		}
		s.record(OutcomeAuth)
		return OutcomeAuth, err

	default:
		s.mu.Lock()
		wait := s.retry.RecordFailure(started)
		s.state.ConsecutiveFailures = s.retry.Failures()
		s.state.LastError = err.Error()
		failures := s.state.ConsecutiveFailures
		s.mu.Unlock()

		s.log.Error("Error fetching quote (failure %d, next attempt in %v): %v", failures, wait, err)
		if failures == 1 && s.notifier != nil {
			if nerr := s.notifier.SendError(err); nerr != nil {
				s.log.Warn("Failed to send error notification: %v", nerr)
			}
		}
		s.record(OutcomeTransport)
		return OutcomeTransport, err
	}
}

func (s *Scheduler) onSuccess(q models.Quote, accessToken string, at time.Time) {
	last := q.LastPrice

	s.mu.Lock()
	failures := s.retry.Failures()
	s.retry.RecordSuccess()
	s.state.CurrentPrice = &last
	if q.ClosePrice > 0 {
		c := q.ClosePrice
		s.state.LastClosePrice = &c
	}
	s.state.LastFetchAt = at
	s.state.LastError = ""
	s.state.ConsecutiveFailures = 0
	s.mu.Unlock()

	s.tokens.MarkVerified(accessToken)

	if err := s.store.AddPriceSample(&models.PriceSample{Price: last, FetchedAt: at}); err != nil {
		s.log.Error("Failed to persist price sample: %v", err)
	}
	if s.recorder != nil {
		s.recorder.SetPrices(last, q.ClosePrice)
	}
	s.log.Debug("Fetched quote: last=%.2f close=%.2f", last, q.ClosePrice)

	if failures > 0 && s.notifier != nil {
		if err := s.notifier.SendRecovery(failures); err != nil {
			s.log.Warn("Failed to send recovery notification: %v", err)
		}
	}
}

func (s *Scheduler) record(o Outcome) {
	if s.recorder != nil {
		s.recorder.ObserveFetch(string(o))
	}
}
