package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// APIMetrics records gateway activity per module (payments, escrow,
// certificates, supply).
type APIMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
	replays   *prometheus.CounterVec
}

var (
	apiMetricsOnce sync.Once
	apiMetrics     *APIMetrics
)

func API() *APIMetrics {
	apiMetricsOnce.Do(func() {
		apiMetrics = &APIMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "afrochain",
				Subsystem: "api",
				Name:      "requests_total",
				Help:      "API requests by module, method and outcome.",
			}, []string{"module", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "afrochain",
				Subsystem: "api",
				Name:      "errors_total",
				Help:      "API failures by module, method and HTTP status.",
			}, []string{"module", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "afrochain",
				Subsystem: "api",
				Name:      "request_duration_seconds",
				Help:      "Handler latency including ledger round trips.",
				Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			}, []string{"module", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "afrochain",
				Subsystem: "api",
				Name:      "throttles_total",
				Help:      "Requests rejected by rate limiting.",
			}, []string{"module", "reason"}),
			replays: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "afrochain",
				Subsystem: "api",
				Name:      "idempotent_replays_total",
				Help:      "Responses served from the idempotency store instead of re-executing.",
			}, []string{"path"}),
		}
		prometheus.MustRegister(
			apiMetrics.requests,
			apiMetrics.errors,
			apiMetrics.latency,
			apiMetrics.throttles,
			apiMetrics.replays,
		)
	})
	return apiMetrics
}

func orUnknown(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}

// Observe records one handled request with the HTTP status actually written.
func (m *APIMetrics) Observe(module, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	module, method = orUnknown(module), orUnknown(method)
	outcome := "success"
	if status >= 400 {
		outcome = "error"
		m.errors.WithLabelValues(module, method, strconv.Itoa(status)).Inc()
	}
	m.requests.WithLabelValues(module, method, outcome).Inc()
	m.latency.WithLabelValues(module, method).Observe(duration.Seconds())
}

// RecordThrottle counts a rejected request. Reasons should be stable strings
// such as "rate_limit".
func (m *APIMetrics) RecordThrottle(module, reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(orUnknown(module), reason).Inc()
}

func (m *APIMetrics) RecordReplay(path string) {
	if m == nil {
		return
	}
	m.replays.WithLabelValues(orUnknown(path)).Inc()
}
