// Package metrics exposes Prometheus counters and gauges for the price feed,
// the token lifecycle and prediction intake.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rewired-gh/niftyoracle/internal/logger"
	"github.com/rewired-gh/niftyoracle/internal/models"
)

const namespace = "niftyoracle"

// Metrics holds every collector the service reports.
type Metrics struct {
	registry *prometheus.Registry

	// Feed
	FeedFetches  *prometheus.CounterVec
	CurrentPrice prometheus.Gauge
	ClosePrice   prometheus.Gauge
	LastFetch    prometheus.Gauge

	// Token
	TokenRegenerations *prometheus.CounterVec
	TokenValid         prometheus.Gauge

	// Contest
	PredictionsAccepted *prometheus.CounterVec
	PredictionsRejected *prometheus.CounterVec
}

// New registers all collectors on a fresh registry, plus the Go and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		FeedFetches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "fetches_total",
			Help:      "Quote fetch attempts by outcome",
		}, []string{"outcome"}),
		CurrentPrice: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "current_price",
			Help:      "Last traded index price from the most recent successful fetch",
		}),
		ClosePrice: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "close_price",
			Help:      "Previous session close price",
		}),
		LastFetch: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful quote fetch",
		}),

		TokenRegenerations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "token",
			Name:      "regenerations_total",
			Help:      "Access token regenerations by result",
		}, []string{"result"}),
		TokenValid: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "token",
			Name:      "valid",
			Help:      "1 when the access token is usable for polling",
		}),

		PredictionsAccepted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "contest",
			Name:      "predictions_accepted_total",
			Help:      "Predictions stored, by source",
		}, []string{"source"}),
		PredictionsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "contest",
			Name:      "predictions_rejected_total",
			Help:      "Predictions rejected, by source and reason",
		}, []string{"source", "reason"}),
	}
}

// ObserveFetch counts one fetch attempt.
func (m *Metrics) ObserveFetch(outcome string) {
	m.FeedFetches.WithLabelValues(outcome).Inc()
}

// SetPrices records a successful quote. A non-positive close leaves the gauge as is.
func (m *Metrics) SetPrices(last, close float64) {
	m.CurrentPrice.Set(last)
	if close > 0 {
		m.ClosePrice.Set(close)
	}
	m.LastFetch.SetToCurrentTime()
}

// SetTokenState mirrors the token status into the validity gauge.
func (m *Metrics) SetTokenState(st models.TokenState) {
	if st.IsValid() {
		m.TokenValid.Set(1)
		return
	}
	m.TokenValid.Set(0)
}

// ObserveRegeneration counts a regenerate attempt.
func (m *Metrics) ObserveRegeneration(err error) {
	result := "success"
	if err != nil {
		result = "failure"
		if errors.Is(err, models.ErrConfig) {
			result = "config_error"
		}
	}
	m.TokenRegenerations.WithLabelValues(result).Inc()
}

// ObservePredictions counts accepted and rejected predictions for source ("form" or "import").
func (m *Metrics) ObservePredictions(source string, accepted int, rejectedReason string, rejected int) {
	if accepted > 0 {
		m.PredictionsAccepted.WithLabelValues(source).Add(float64(accepted))
	}
	if rejected > 0 {
		m.PredictionsRejected.WithLabelValues(source, rejectedReason).Add(float64(rejected))
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// HealthFunc reports whether the service can do useful work.
type HealthFunc func(ctx context.Context) error

// NewMux wires /metrics and /healthz.
func NewMux(m *Metrics, healthFn HealthFunc) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
		defer cancel()

		if err := healthFn(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = fmt.Fprintf(w, "unhealthy: %v", err)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// StartServer serves /metrics and /healthz on addr in a goroutine.
func StartServer(addr string, m *Metrics, healthFn HealthFunc) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           NewMux(m, healthFn),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed: %v", err)
		}
	}()
	logger.Info("Metrics server listening on %s", addr)
	return srv
}
