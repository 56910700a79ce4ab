package kite

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(Config{BaseURL: srv.URL, APIKey: "key", Timeout: 2 * time.Second, RatePerSec: 100})
}

func TestChecksum(t *testing.T) {
	// sha256("abc") split across the three inputs.
	got := Checksum("a", "b", "c")
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", got)
}

func TestExchangeToken_Success(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/session/token", r.URL.Path)
		assert.Equal(t, "3", r.Header.Get("X-Kite-Version"))
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "key", r.PostForm.Get("api_key"))
		assert.Equal(t, "req", r.PostForm.Get("request_token"))
		assert.Equal(t, "sum", r.PostForm.Get("checksum"))
		_, _ = w.Write([]byte(`{"status":"success","data":{"access_token":"acc-123"}}`))
	})

	tok, err := c.ExchangeToken(context.Background(), "req", "sum")
	require.NoError(t, err)
	assert.Equal(t, "acc-123", tok)
}

func TestExchangeToken_UpstreamMessage(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"status":"error","message":"Token is invalid or has expired.","error_type":"TokenException"}`))
	})

	_, err := c.ExchangeToken(context.Background(), "req", "sum")
	require.Error(t, err)
	assert.True(t, IsAuthError(err))
	assert.Equal(t, "Token is invalid or has expired.", UpstreamMessage(err))
	assert.Equal(t, http.StatusForbidden, StatusCode(err))
}

func TestExchangeToken_MissingAccessToken(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"success","data":{}}`))
	})
	_, err := c.ExchangeToken(context.Background(), "req", "sum")
	require.Error(t, err)
	assert.False(t, IsAuthError(err))
}

func TestFetchQuote_Success(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/quote", r.URL.Path)
		assert.Equal(t, DefaultInstrument, r.URL.Query().Get("i"))
		assert.Equal(t, "token key:acc", r.Header.Get("Authorization"))
		assert.Equal(t, "3", r.Header.Get("X-Kite-Version"))
		_, _ = w.Write([]byte(`{"status":"success","data":{"NSE:NIFTY 50":{"last_price":24312.5,"ohlc":{"open":24200,"high":24400,"low":24150,"close":24250.75}}}}`))
	})

	q, err := c.FetchQuote(context.Background(), "acc")
	require.NoError(t, err)
	assert.InDelta(t, 24312.5, q.LastPrice, 1e-9)
	assert.InDelta(t, 24250.75, q.ClosePrice, 1e-9)
}

func TestFetchQuote_Forbidden(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`not json`))
	})
	_, err := c.FetchQuote(context.Background(), "acc")
	require.Error(t, err)
	assert.True(t, IsAuthError(err))
	assert.Empty(t, UpstreamMessage(err))
}

func TestFetchQuote_ServerErrorIsTransport(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	_, err := c.FetchQuote(context.Background(), "acc")
	require.Error(t, err)
	assert.False(t, IsAuthError(err))
	assert.True(t, IsTransportError(err))
}

func TestFetchQuote_MissingInstrument(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"success","data":{}}`))
	})
	_, err := c.FetchQuote(context.Background(), "acc")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing instrument")
}

func TestFetchQuote_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()
	c := NewClient(Config{BaseURL: srv.URL, APIKey: "key", Timeout: 50 * time.Millisecond, RatePerSec: 100})

	_, err := c.FetchQuote(context.Background(), "acc")
	require.Error(t, err)
	assert.True(t, IsTransportError(err))
}

func TestAPIError_Message(t *testing.T) {
	assert.Equal(t, "kite: status 500", (&APIError{StatusCode: 500}).Error())
	assert.Equal(t, "kite: status 403: TokenException: expired",
		(&APIError{StatusCode: 403, ErrorType: "TokenException", Message: "expired"}).Error())
}
