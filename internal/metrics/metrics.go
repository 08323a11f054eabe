// Package metrics exposes Prometheus instruments for intent runs, orders,
// fills and ledger parity checks.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "allocator"

type Metrics struct {
	IntentRuns       *prometheus.CounterVec
	IntentDuration   *prometheus.HistogramVec
	OrdersPlaced     *prometheus.CounterVec
	FillsReconciled  *prometheus.CounterVec
	LedgerMismatches *prometheus.CounterVec
	StrategyFailures *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New registers all instruments with reg. A nil reg uses a private registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		IntentRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "intent",
			Name:      "runs_total",
			Help:      "Intent runs by intent and outcome (ok, error, skipped).",
		}, []string{"intent", "outcome"}),
		IntentDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "intent",
			Name:      "duration_seconds",
			Help:      "Intent run duration.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		}, []string{"intent"}),
		OrdersPlaced: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "placed_total",
			Help:      "Orders submitted to the broker by resulting state (active, filled, cancelled, error).",
		}, []string{"state"}),
		FillsReconciled: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconciliation",
			Name:      "fills_total",
			Help:      "Broker fills seen by reconciliation by result (settled, partial, unmatched).",
		}, []string{"result"}),
		LedgerMismatches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconciliation",
			Name:      "ledger_mismatches_total",
			Help:      "Instruments where consolidated holdings disagree with the broker portfolio.",
		}, []string{"intent"}),
		StrategyFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "allocation",
			Name:      "strategy_failures_total",
			Help:      "Strategies excluded from an allocation because they failed.",
		}, []string{"strategy"}),
		gatherer: reg,
	}
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveIntent(intent, outcome string, started time.Time) {
	if m == nil {
		return
	}
	m.IntentRuns.WithLabelValues(intent, outcome).Inc()
	m.IntentDuration.WithLabelValues(intent).Observe(time.Since(started).Seconds())
}

func (m *Metrics) OrderPlaced(state string) {
	if m == nil {
		return
	}
	m.OrdersPlaced.WithLabelValues(state).Inc()
}

func (m *Metrics) FillSeen(result string) {
	if m == nil {
		return
	}
	m.FillsReconciled.WithLabelValues(result).Inc()
}

func (m *Metrics) Mismatches(intent string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.LedgerMismatches.WithLabelValues(intent).Add(float64(n))
}

func (m *Metrics) StrategyFailed(strategy string) {
	if m == nil {
		return
	}
	m.StrategyFailures.WithLabelValues(strategy).Inc()
}
