package metrics

import (
	"time"
)

// Collector defines the interface for collecting workflow metrics.
// Implementations can export metrics to various backends (Prometheus, etc.).
type Collector interface {
	// Lifecycle
	RecordCreated(txType string, success bool)
	RecordDecision(action string, outcome string, duration time.Duration)
	RecordExecution(txType string, success bool)
	RecordCancelled(success bool)

	// Collaborators
	RecordAuditFailure(action string)
	RecordCircuitState(name string, state CircuitState)
}

// CircuitState represents the state of a circuit breaker around a collaborator.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitHalfOpen
	CircuitOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitHalfOpen:
		return "half-open"
	case CircuitOpen:
		return "open"
	}
	return "unknown"
}

// Decision outcomes.
const (
	OutcomeAccepted = "accepted"
	OutcomeRefused  = "refused"
	OutcomeError    = "error"
)

// NoOpCollector is a no-op implementation of Collector.
// It's used as the default collector when metrics are not needed.
type NoOpCollector struct{}

// RecordCreated does nothing.
func (NoOpCollector) RecordCreated(txType string, success bool) {}

// RecordDecision does nothing.
func (NoOpCollector) RecordDecision(action string, outcome string, duration time.Duration) {}

// RecordExecution does nothing.
func (NoOpCollector) RecordExecution(txType string, success bool) {}

// RecordCancelled does nothing.
func (NoOpCollector) RecordCancelled(success bool) {}

// RecordAuditFailure does nothing.
func (NoOpCollector) RecordAuditFailure(action string) {}

// RecordCircuitState does nothing.
func (NoOpCollector) RecordCircuitState(name string, state CircuitState) {}
