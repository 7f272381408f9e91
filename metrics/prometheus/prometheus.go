package prometheus

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/warp/municipal-wallet/metrics"
)

// PrometheusCollector implements metrics.Collector for Prometheus.
type PrometheusCollector struct {
	namespace string

	// Counters
	created       *prometheus.CounterVec
	decisions     *prometheus.CounterVec
	executions    *prometheus.CounterVec
	cancellations *prometheus.CounterVec
	auditFailures *prometheus.CounterVec

	// Histograms
	decisionLatency *prometheus.HistogramVec

	// Gauges
	circuitState *prometheus.GaugeVec
}

var _ metrics.Collector = (*PrometheusCollector)(nil)

// NewPrometheusCollector creates a new Prometheus metrics collector.
func NewPrometheusCollector(namespace string) *PrometheusCollector {
	return &PrometheusCollector{
		namespace: namespace,
		created: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transactions_created_total",
				Help:      "Total number of transaction creation attempts per type and result",
			},
			[]string{"type", "success"},
		),
		decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "approval_decisions_total",
				Help:      "Total number of approval decisions per action and outcome",
			},
			[]string{"action", "outcome"},
		),
		executions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transaction_executions_total",
				Help:      "Total number of execution attempts per type and result",
			},
			[]string{"type", "success"},
		),
		cancellations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transaction_cancellations_total",
				Help:      "Total number of cancellation attempts per result",
			},
			[]string{"success"},
		),
		auditFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "audit_failures_total",
				Help:      "Total number of audit entries that could not be delivered",
			},
			[]string{"action"},
		),
		decisionLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "approval_decision_duration_seconds",
				Help:      "Latency of approval decisions including execution",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"action"},
		),
		circuitState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_state",
				Help:      "Circuit breaker state per collaborator (0=closed, 1=half-open, 2=open)",
			},
			[]string{"name"},
		),
	}
}

// Register registers all metrics with the given registerer.
func (pc *PrometheusCollector) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		pc.created,
		pc.decisions,
		pc.executions,
		pc.cancellations,
		pc.auditFailures,
		pc.decisionLatency,
		pc.circuitState,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// MustRegister registers all metrics and panics on error.
func (pc *PrometheusCollector) MustRegister(reg prometheus.Registerer) {
	if err := pc.Register(reg); err != nil {
		panic(err)
	}
}

// RecordCreated records a creation attempt.
func (pc *PrometheusCollector) RecordCreated(txType string, success bool) {
	pc.created.WithLabelValues(txType, strconv.FormatBool(success)).Inc()
}

// RecordDecision records an approval decision and its latency.
func (pc *PrometheusCollector) RecordDecision(action string, outcome string, duration time.Duration) {
	pc.decisions.WithLabelValues(action, outcome).Inc()
	pc.decisionLatency.WithLabelValues(action).Observe(duration.Seconds())
}

// RecordExecution records an execution attempt.
func (pc *PrometheusCollector) RecordExecution(txType string, success bool) {
	pc.executions.WithLabelValues(txType, strconv.FormatBool(success)).Inc()
}

// RecordCancelled records a cancellation attempt.
func (pc *PrometheusCollector) RecordCancelled(success bool) {
	pc.cancellations.WithLabelValues(strconv.FormatBool(success)).Inc()
}

// RecordAuditFailure records an audit entry that was dropped.
func (pc *PrometheusCollector) RecordAuditFailure(action string) {
	pc.auditFailures.WithLabelValues(action).Inc()
}

// RecordCircuitState records the current state of a circuit breaker.
func (pc *PrometheusCollector) RecordCircuitState(name string, state metrics.CircuitState) {
	pc.circuitState.WithLabelValues(name).Set(float64(state))
}
