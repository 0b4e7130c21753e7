package watchdog

import (
	"time"
)

// MetricsCollector defines the interface for collecting watchdog metrics
type MetricsCollector interface {
	// StateTransition records a state transition of a node
	StateTransition(node string, from, to State)

	// ProbeDuration records how long a probe took in the given phase
	ProbeDuration(node string, phase State, duration time.Duration, err error)

	// NodeDeath records a death; startup is true when the node never became live
	NodeDeath(node string, startup bool)
}

// noopMetricsCollector is a no-op implementation of MetricsCollector
type noopMetricsCollector struct{}

func (n *noopMetricsCollector) StateTransition(node string, from, to State) {}
func (n *noopMetricsCollector) ProbeDuration(node string, phase State, duration time.Duration, err error) {
}
func (n *noopMetricsCollector) NodeDeath(node string, startup bool) {}

// NewNoopMetricsCollector creates a no-op metrics collector
func NewNoopMetricsCollector() MetricsCollector {
	return &noopMetricsCollector{}
}
