package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Counters(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.ObserveIntent("allocation", "ok", time.Now())
	m.OrderPlaced("active")
	m.OrderPlaced("active")
	m.Mismatches("reconciliation", 3)
	m.Mismatches("reconciliation", 0)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.IntentRuns.WithLabelValues("allocation", "ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.OrdersPlaced.WithLabelValues("active")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.LedgerMismatches.WithLabelValues("reconciliation")))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.OrderPlaced("active")
	m.FillSeen("settled")
	m.StrategyFailed("s1")
	assert.NotNil(t, m.Handler())
}
