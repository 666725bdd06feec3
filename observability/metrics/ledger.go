package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcomes recorded for ledger operations.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

type LedgerMetrics struct {
	operations        *prometheus.CounterVec
	latency           *prometheus.HistogramVec
	escrowTransitions *prometheus.CounterVec
}

var (
	ledgerOnce     sync.Once
	ledgerRegistry *LedgerMetrics
)

// Ledger returns the process-wide ledger metrics, registered on the default
// prometheus registry on first use.
func Ledger() *LedgerMetrics {
	ledgerOnce.Do(func() {
		ledgerRegistry = &LedgerMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "afrochain",
				Subsystem: "ledger",
				Name:      "operations_total",
				Help:      "Ledger-facing operations by operation, network label and outcome.",
			}, []string{"operation", "network", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "afrochain",
				Subsystem: "ledger",
				Name:      "operation_seconds",
				Help:      "Latency of ledger-facing operations.",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			}, []string{"operation", "network"}),
			escrowTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "afrochain",
				Subsystem: "escrow",
				Name:      "transitions_total",
				Help:      "Committed escrow status transitions.",
			}, []string{"from", "to"}),
		}
		prometheus.MustRegister(
			ledgerRegistry.operations,
			ledgerRegistry.latency,
			ledgerRegistry.escrowTransitions,
		)
	})
	return ledgerRegistry
}

func (m *LedgerMetrics) Observe(operation, network string, failed bool, d time.Duration) {
	if m == nil {
		return
	}
	if operation == "" {
		operation = "unknown"
	}
	if network == "" {
		network = "none"
	}
	outcome := OutcomeSuccess
	if failed {
		outcome = OutcomeFailure
	}
	m.operations.WithLabelValues(operation, network, outcome).Inc()
	m.latency.WithLabelValues(operation, network).Observe(d.Seconds())
}

func (m *LedgerMetrics) RecordEscrowTransition(from, to string) {
	if m == nil {
		return
	}
	m.escrowTransitions.WithLabelValues(from, to).Inc()
}
