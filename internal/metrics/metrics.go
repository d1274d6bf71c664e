// Package metrics exposes Prometheus collectors for the enrichment job.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	apiRequestsTotal        *prometheus.CounterVec
	apiRequestDuration      *prometheus.HistogramVec
	httpRetriesTotal        prometheus.Counter
	keyRotationsTotal       prometheus.Counter
	cooldownsTotal          prometheus.Counter
	quotaRemaining          prometheus.Gauge
	rowsTotal               *prometheus.CounterVec
	cooldownSecondsObserved prometheus.Counter

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		apiRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "enricher_api_requests_total",
				Help: "Total number of upstream HTTP requests, labeled by endpoint and status code.",
			},
			[]string{"endpoint", "code"},
		)

		apiRequestDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "enricher_api_request_duration_seconds",
				Help:    "Histogram of single upstream request attempt latencies, labeled by endpoint.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"endpoint"},
		)

		httpRetriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "enricher_http_retries_total",
				Help: "Total number of HTTP retry attempts after transient failures.",
			},
		)

		keyRotationsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "enricher_key_rotations_total",
				Help: "Total number of API credential rotations.",
			},
		)

		cooldownsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "enricher_cooldowns_total",
				Help: "Total number of cooldowns entered after every credential was exhausted.",
			},
		)

		cooldownSecondsObserved = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "enricher_cooldown_seconds_total",
				Help: "Total seconds spent waiting in quota cooldowns.",
			},
		)

		quotaRemaining = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "enricher_quota_remaining",
				Help: "Remaining request quota reported for the active credential.",
			},
		)

		rowsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "enricher_rows_total",
				Help: "Total number of input rows handled, labeled by outcome.",
			},
			[]string{"outcome"},
		)
	})
}

// ObserveAPIRequest records one completed upstream request.
func ObserveAPIRequest(endpoint string, code int, duration time.Duration) {
	Init()
	apiRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(code)).Inc()
	apiRequestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// ObserveRetry increments the retry counter.
func ObserveRetry() {
	Init()
	httpRetriesTotal.Inc()
}

// ObserveRotation increments the credential rotation counter.
func ObserveRotation() {
	Init()
	keyRotationsTotal.Inc()
}

// ObserveCooldown records a cooldown of the given length.
func ObserveCooldown(d time.Duration) {
	Init()
	cooldownsTotal.Inc()
	cooldownSecondsObserved.Add(d.Seconds())
}

// SetQuotaRemaining publishes the last probed quota.
func SetQuotaRemaining(remaining int) {
	Init()
	quotaRemaining.Set(float64(remaining))
}

// ObserveRow increments the row counter for the given outcome.
func ObserveRow(outcome string) {
	Init()
	rowsTotal.WithLabelValues(outcome).Inc()
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// NewRouter builds the router served by the optional metrics listener.
func NewRouter() http.Handler {
	Init()
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", Handler())
	return r
}
