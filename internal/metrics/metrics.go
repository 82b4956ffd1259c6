// Package metrics exposes Prometheus collectors for the enrichment and
// enrollment pipeline. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "outreach"

// Metrics holds the pipeline collectors and the registry they live in.
type Metrics struct {
	Registry *prometheus.Registry

	enrichments    *prometheus.CounterVec
	enrichDuration prometheus.Histogram
	signalFailures *prometheus.CounterVec
	gateDecisions  *prometheus.CounterVec
	deliveries     *prometheus.CounterVec
	breakerState   *prometheus.GaugeVec
	jobsProcessed  *prometheus.CounterVec
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		enrichments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enrichments_total",
			Help:      "Prospect enrichments by outcome.",
		}, []string{"outcome"}),
		enrichDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "enrichment_duration_seconds",
			Help:      "Wall time of a single prospect enrichment.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80},
		}),
		signalFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signal_unavailable_total",
			Help:      "Signal sources that produced no value, by source.",
		}, []string{"source"}),
		gateDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gate_decisions_total",
			Help:      "Auto-enrollment gate outcomes by reason.",
		}, []string{"outcome", "reason"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enrollment_deliveries_total",
			Help:      "Enrollment delivery attempts by result.",
		}, []string{"result"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state per service (0 closed, 1 open, 2 half-open).",
		}, []string{"service"}),
		jobsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_processed_total",
			Help:      "Pipeline jobs by kind and result.",
		}, []string{"kind", "result"}),
	}
	reg.MustRegister(
		m.enrichments, m.enrichDuration, m.signalFailures, m.gateDecisions,
		m.deliveries, m.breakerState, m.jobsProcessed,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

func (m *Metrics) Enrichment(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.enrichments.WithLabelValues(outcome).Inc()
	if d > 0 {
		m.enrichDuration.Observe(d.Seconds())
	}
}

func (m *Metrics) SignalUnavailable(source string) {
	if m == nil {
		return
	}
	m.signalFailures.WithLabelValues(source).Inc()
}

// GateDecision counts an auto-enrollment outcome. reason is empty for
// successful enrollments.
func (m *Metrics) GateDecision(outcome, reason string) {
	if m == nil {
		return
	}
	m.gateDecisions.WithLabelValues(outcome, reason).Inc()
}

func (m *Metrics) Delivery(result string) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(result).Inc()
}

// BreakerState records a circuit breaker transition.
func (m *Metrics) BreakerState(service string, state int) {
	if m == nil {
		return
	}
	m.breakerState.WithLabelValues(service).Set(float64(state))
}

func (m *Metrics) Job(kind, result string) {
	if m == nil {
		return
	}
	m.jobsProcessed.WithLabelValues(kind, result).Inc()
}
