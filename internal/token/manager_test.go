package token

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/rewired-gh/niftyoracle/internal/credentials"
	"github.com/rewired-gh/niftyoracle/internal/kite"
	"github.com/rewired-gh/niftyoracle/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExchanger struct {
	mu        sync.Mutex
	calls     int
	lastToken string
	lastSum   string
	token     string
	err       error
}

func (f *fakeExchanger) ExchangeToken(_ context.Context, requestToken, checksum string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastToken = requestToken
	f.lastSum = checksum
	return f.token, f.err
}

func fullConfig() Config {
	return Config{APIKey: "key", APISecret: "secret", RequestToken: "default-req"}
}

func TestNew_InitialStatus(t *testing.T) {
	m := New(Config{}, &fakeExchanger{}, &credentials.Memory{})
	assert.Equal(t, models.TokenUnconfigured, m.Snapshot().Status)
	assert.False(t, m.Pollable())

	m = New(Config{AccessToken: PlaceholderAccessToken}, &fakeExchanger{}, &credentials.Memory{})
	assert.Equal(t, models.TokenUnconfigured, m.Snapshot().Status)

	m = New(Config{AccessToken: "acc"}, &fakeExchanger{}, &credentials.Memory{})
	assert.Equal(t, models.TokenPending, m.Snapshot().Status)
	assert.False(t, m.IsValid())
	assert.True(t, m.Pollable())
	tok, ok := m.AccessToken()
	assert.True(t, ok)
	assert.Equal(t, "acc", tok)
}

func TestRegenerate_MissingSecretIsConfigErrorWithoutNetwork(t *testing.T) {
	ex := &fakeExchanger{token: "acc"}
	m := New(Config{APIKey: "key", RequestToken: "req"}, ex, &credentials.Memory{})

	_, err := m.Regenerate(context.Background(), "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrConfig))
	assert.Equal(t, 0, ex.calls, "no network call expected")
	assert.Equal(t, MsgMissingCredentials, m.Snapshot().LastError)
}

func TestRegenerate_MissingRequestToken(t *testing.T) {
	ex := &fakeExchanger{token: "acc"}
	m := New(Config{APIKey: "key", APISecret: "secret"}, ex, &credentials.Memory{})

	_, err := m.Regenerate(context.Background(), "")
	assert.ErrorIs(t, err, models.ErrConfig)
	assert.Equal(t, 0, ex.calls)
}

func TestRegenerate_Success(t *testing.T) {
	ex := &fakeExchanger{token: "new-access"}
	store := &credentials.Memory{}
	m := New(fullConfig(), ex, store)

	var transitions []models.TokenStatus
	m.SetObserver(func(_, next models.TokenState) { transitions = append(transitions, next.Status) })

	tok, err := m.Regenerate(context.Background(), "fresh-req")
	require.NoError(t, err)
	assert.Equal(t, "new-access", tok)

	assert.Equal(t, "fresh-req", ex.lastToken)
	assert.Equal(t, kite.Checksum("key", "fresh-req", "secret"), ex.lastSum)

	s := m.Snapshot()
	assert.True(t, s.IsValid())
	assert.Empty(t, s.LastError)
	assert.Equal(t, "fresh-req", s.RequestToken)

	acc, req := store.Tokens()
	assert.Equal(t, "new-access", acc)
	assert.Equal(t, "fresh-req", req)
	assert.Equal(t, []models.TokenStatus{models.TokenValid}, transitions)
}

func TestRegenerate_FallsBackToLastKnownThenDefault(t *testing.T) {
	ex := &fakeExchanger{token: "acc"}
	m := New(fullConfig(), ex, &credentials.Memory{})

	_, err := m.Regenerate(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "default-req", ex.lastToken)

	_, err = m.Regenerate(context.Background(), "explicit")
	require.NoError(t, err)
	_, err = m.Regenerate(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "explicit", ex.lastToken, "last known request token should win over default")
}

func TestRegenerate_FailureMessages(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "upstream message wins",
			err:  &kite.APIError{StatusCode: http.StatusForbidden, Message: "Token is invalid or has expired."},
			want: "Token is invalid or has expired.",
		},
		{
			name: "bare 403",
			err:  &kite.APIError{StatusCode: http.StatusForbidden},
			want: MsgExpiredRequest,
		},
		{
			name: "transport error",
			err:  errors.New("dial tcp: connection refused"),
			want: "dial tcp: connection refused",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New(Config{APIKey: "key", APISecret: "secret", AccessToken: "old"}, &fakeExchanger{err: tt.err}, &credentials.Memory{})
			m.MarkVerified("old")
			require.True(t, m.IsValid())

			_, err := m.Regenerate(context.Background(), "req")
			require.Error(t, err)
			s := m.Snapshot()
			assert.Equal(t, models.TokenInvalid, s.Status)
			assert.Equal(t, tt.want, s.LastError)
		})
	}
}

func TestSetAccessToken_TrustsOperator(t *testing.T) {
	ex := &fakeExchanger{}
	store := &credentials.Memory{}
	m := New(Config{}, ex, store)

	require.NoError(t, m.SetAccessToken("operator-token"))
	assert.True(t, m.IsValid())
	assert.Equal(t, 0, ex.calls)
	acc, _ := store.Tokens()
	assert.Equal(t, "operator-token", acc)
}

func TestSetAccessToken_Empty(t *testing.T) {
	m := New(Config{}, &fakeExchanger{}, &credentials.Memory{})
	err := m.SetAccessToken("")
	require.Error(t, err)
	assert.True(t, models.IsValidation(err))
	assert.False(t, m.IsValid())
}

func TestSetAccessToken_ClearsError(t *testing.T) {
	m := New(Config{AccessToken: "old"}, &fakeExchanger{}, &credentials.Memory{})
	m.Invalidate("old", "expired")
	require.Equal(t, "expired", m.Snapshot().LastError)

	require.NoError(t, m.SetAccessToken("new"))
	assert.Empty(t, m.Snapshot().LastError)
}

func TestInvalidate_IgnoresStaleToken(t *testing.T) {
	m := New(Config{}, &fakeExchanger{}, &credentials.Memory{})
	require.NoError(t, m.SetAccessToken("current"))

	m.Invalidate("previous", "403")
	assert.True(t, m.IsValid())

	m.Invalidate("current", "403")
	assert.False(t, m.IsValid())
	assert.False(t, m.Pollable())
	assert.Equal(t, "403", m.Snapshot().LastError)
}

func TestMarkVerified_PromotesPending(t *testing.T) {
	m := New(Config{AccessToken: "acc"}, &fakeExchanger{}, &credentials.Memory{})
	m.MarkVerified("acc")
	assert.True(t, m.IsValid())
}
