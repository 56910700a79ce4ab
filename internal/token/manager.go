// Package token owns the Kite access-token lifecycle: regeneration, operator
// overrides, and invalidation when the broker rejects the token.
package token

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/rewired-gh/niftyoracle/internal/credentials"
	"github.com/rewired-gh/niftyoracle/internal/kite"
	"github.com/rewired-gh/niftyoracle/internal/logger"
	"github.com/rewired-gh/niftyoracle/internal/models"
)

// PlaceholderAccessToken is the sample value shipped in example env files.
const PlaceholderAccessToken = "your_access_token_here"

const (
	MsgMissingCredentials = "Missing API credentials or request token"
	MsgExpiredRequest     = "Invalid or expired request token. Please get a new one from Kite Connect login."
	MsgAccessTokenMissing = "Access token is required"
)

// Exchanger trades a request token for an access token.
type Exchanger interface {
	ExchangeToken(ctx context.Context, requestToken, checksum string) (string, error)
}

// Config carries the static credentials. RequestToken is the externally configured default.
type Config struct {
	APIKey       string
	APISecret    string
	RequestToken string
	AccessToken  string
}

// Observer is notified after every state transition, outside the manager lock.
type Observer func(prev, next models.TokenState)

// Manager is the single writer of the token state.
type Manager struct {
	apiKey              string
	apiSecret           string
	defaultRequestToken string
	exchanger           Exchanger
	store               credentials.Store
	log                 *logger.Logger

	// writeMu serializes regenerate and direct-set so their exchanges and
	// credential writes never interleave.
	writeMu sync.Mutex

	mu       sync.RWMutex
	state    models.TokenState
	observer Observer
}

// New builds a manager. A configured access token starts Pending until the
// first successful broker call confirms it.
func New(cfg Config, ex Exchanger, store credentials.Store) *Manager {
	m := &Manager{
		apiKey:              cfg.APIKey,
		apiSecret:           cfg.APISecret,
		defaultRequestToken: cfg.RequestToken,
		exchanger:           ex,
		store:               store,
		log:                 logger.Named("token"),
	}
	m.state.RequestToken = cfg.RequestToken
	if cfg.AccessToken != "" && cfg.AccessToken != PlaceholderAccessToken {
		m.state.AccessToken = cfg.AccessToken
		m.state.Status = models.TokenPending
	}
	return m
}

// SetObserver registers fn to receive state transitions.
func (m *Manager) SetObserver(fn Observer) {
	m.mu.Lock()
	m.observer = fn
	m.mu.Unlock()
}

// IsValid reports whether the current token has been verified.
func (m *Manager) IsValid() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.IsValid()
}

// Pollable reports whether scheduled polling should run.
func (m *Manager) Pollable() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Pollable()
}

// AccessToken returns the current token and whether one is configured at all.
func (m *Manager) AccessToken() (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.AccessToken, m.state.AccessToken != ""
}

// Snapshot returns a copy of the current state.
func (m *Manager) Snapshot() models.TokenState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Regenerate exchanges a request token for a new access token. The request
// token is requestToken if set, else the last known one, else the configured default.
// Missing credentials fail with models.ErrConfig before any network call.
func (m *Manager) Regenerate(ctx context.Context, requestToken string) (string, error) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	tokenToUse := requestToken
	if tokenToUse == "" {
		tokenToUse = m.Snapshot().RequestToken
	}
	if tokenToUse == "" {
		tokenToUse = m.defaultRequestToken
	}

	if m.apiKey == "" || m.apiSecret == "" || tokenToUse == "" {
		m.update(func(s *models.TokenState) {
			s.LastError = MsgMissingCredentials
		})
		m.log.Warn("Kite credentials incomplete for token generation")
		return "", fmt.Errorf("%w: %s", models.ErrConfig, MsgMissingCredentials)
	}

	checksum := kite.Checksum(m.apiKey, tokenToUse, m.apiSecret)
	accessToken, err := m.exchanger.ExchangeToken(ctx, tokenToUse, checksum)
	if err != nil {
		reason := describeExchangeError(err)
		m.update(func(s *models.TokenState) {
			s.Status = models.TokenInvalid
			s.LastError = reason
		})
		m.log.Error("Failed to generate access token: %v", err)
		return "", fmt.Errorf("token exchange failed: %w", err)
	}

	m.update(func(s *models.TokenState) {
		s.AccessToken = accessToken
		s.RequestToken = tokenToUse
		s.Status = models.TokenValid
		s.LastError = ""
	})
	m.log.Info("Access token generated successfully (%s)", models.MaskToken(accessToken))

	if err := m.store.SaveTokens(accessToken, tokenToUse); err != nil {
		m.log.Error("Failed to persist tokens: %v", err)
	}
	return accessToken, nil
}

// SetAccessToken installs an operator-supplied token and marks it valid
// without asking the broker. The operator is trusted here; a bad token is
// caught by the next quote fetch returning 403.
func (m *Manager) SetAccessToken(accessToken string) error {
	if accessToken == "" {
		return &models.ValidationError{Field: "access_token", Message: MsgAccessTokenMissing}
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	m.update(func(s *models.TokenState) {
		s.AccessToken = accessToken
		s.Status = models.TokenValid
		s.LastError = ""
	})
	m.log.Info("Access token set by operator (%s)", models.MaskToken(accessToken))

	if err := m.store.SaveTokens(accessToken, ""); err != nil {
		m.log.Error("Failed to persist access token: %v", err)
	}
	return nil
}

// Invalidate marks accessToken rejected. It is a no-op if the token has been
// replaced since the failing call was issued.
func (m *Manager) Invalidate(accessToken, reason string) {
	m.updateIf(accessToken, func(s *models.TokenState) {
		s.Status = models.TokenInvalid
		s.LastError = reason
	})
}

// MarkVerified records that the broker accepted accessToken.
func (m *Manager) MarkVerified(accessToken string) {
	m.updateIf(accessToken, func(s *models.TokenState) {
		s.Status = models.TokenValid
		s.LastError = ""
	})
}

func (m *Manager) updateIf(accessToken string, fn func(*models.TokenState)) {
	m.update(func(s *models.TokenState) {
		if s.AccessToken == accessToken {
			fn(s)
		}
	})
}

func (m *Manager) update(fn func(*models.TokenState)) {
	m.mu.Lock()
	prev := m.state
	fn(&m.state)
	next := m.state
	obs := m.observer
	m.mu.Unlock()

	if obs != nil && prev != next {
		obs(prev, next)
	}
}

// describeExchangeError picks the most specific message for the operator:
// the upstream message, then a fixed hint for 403, then the raw error.
func describeExchangeError(err error) string {
	if msg := kite.UpstreamMessage(err); msg != "" {
		return msg
	}
	if kite.StatusCode(err) == http.StatusForbidden {
		return MsgExpiredRequest
	}
	return err.Error()
}
