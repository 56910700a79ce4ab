package metrics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/niftyoracle/internal/models"
)

func scrape(t *testing.T, h http.Handler, path string) (int, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return rec.Code, string(body)
}

func TestMetrics_Exposition(t *testing.T) {
	m := New()
	m.ObserveFetch("ok")
	m.ObserveFetch("ok")
	m.ObserveFetch("auth_error")
	m.SetPrices(24312.5, 24250)
	m.SetTokenState(models.TokenState{AccessToken: "acc", Status: models.TokenValid})
	m.ObserveRegeneration(nil)
	m.ObserveRegeneration(fmt.Errorf("%w: missing", models.ErrConfig))
	m.ObserveRegeneration(errors.New("boom"))
	m.ObservePredictions("import", 3, "invalid", 2)

	code, body := scrape(t, m.Handler(), "/metrics")
	require.Equal(t, http.StatusOK, code)

	for _, want := range []string{
		`niftyoracle_feed_fetches_total{outcome="ok"} 2`,
		`niftyoracle_feed_fetches_total{outcome="auth_error"} 1`,
		`niftyoracle_feed_current_price 24312.5`,
		`niftyoracle_feed_close_price 24250`,
		`niftyoracle_token_valid 1`,
		`niftyoracle_token_regenerations_total{result="success"} 1`,
		`niftyoracle_token_regenerations_total{result="config_error"} 1`,
		`niftyoracle_token_regenerations_total{result="failure"} 1`,
		`niftyoracle_contest_predictions_accepted_total{source="import"} 3`,
		`niftyoracle_contest_predictions_rejected_total{reason="invalid",source="import"} 2`,
	} {
		assert.Contains(t, body, want)
	}
}

func TestMetrics_ZeroCloseKeepsGauge(t *testing.T) {
	m := New()
	m.SetPrices(100, 99)
	m.SetPrices(101, 0)

	_, body := scrape(t, m.Handler(), "/metrics")
	assert.Contains(t, body, "niftyoracle_feed_current_price 101")
	assert.Contains(t, body, "niftyoracle_feed_close_price 99")
}

func TestMetrics_TokenInvalid(t *testing.T) {
	m := New()
	m.SetTokenState(models.TokenState{AccessToken: "acc", Status: models.TokenValid})
	m.SetTokenState(models.TokenState{AccessToken: "acc", Status: models.TokenInvalid})

	_, body := scrape(t, m.Handler(), "/metrics")
	assert.Contains(t, body, "niftyoracle_token_valid 0")
}

func TestHealthz(t *testing.T) {
	m := New()

	code, body := scrape(t, NewMux(m, func(context.Context) error { return nil }), "/healthz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body)

	code, body = scrape(t, NewMux(m, func(context.Context) error { return errors.New("db closed") }), "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "unhealthy: db closed", body)
}
