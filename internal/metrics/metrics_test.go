package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()
	m.Enrichment("success", 2*time.Second)
	m.Enrichment("success", 0)
	m.Enrichment("failed", time.Second)
	m.SignalUnavailable("rank")
	m.GateDecision("skipped", "already_enrolled")
	m.Delivery("ok")
	m.Job("enrich", "ok")
	m.BreakerState("rank", 1)

	assert.InDelta(t, 2, testutil.ToFloat64(m.enrichments.WithLabelValues("success")), 0.001)
	assert.InDelta(t, 1, testutil.ToFloat64(m.enrichments.WithLabelValues("failed")), 0.001)
	assert.InDelta(t, 1, testutil.ToFloat64(m.signalFailures.WithLabelValues("rank")), 0.001)
	assert.InDelta(t, 1, testutil.ToFloat64(m.gateDecisions.WithLabelValues("skipped", "already_enrolled")), 0.001)
	assert.InDelta(t, 1, testutil.ToFloat64(m.breakerState.WithLabelValues("rank")), 0.001)
	assert.Equal(t, 1, testutil.CollectAndCount(m.enrichDuration))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Enrichment("success", time.Second)
		m.SignalUnavailable("rank")
		m.GateDecision("enrolled", "")
		m.Delivery("ok")
		m.Job("enrich", "ok")
		m.BreakerState("rank", 0)
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.SignalUnavailable("safety")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `outreach_signal_unavailable_total{source="safety"} 1`)
}
