package watchdog

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusMetricsCollector implements MetricsCollector using Prometheus metrics
type PrometheusMetricsCollector struct {
	stateTransitions *prometheus.CounterVec
	probeDuration    *prometheus.HistogramVec
	deaths           *prometheus.CounterVec
	nodeState        *prometheus.GaugeVec

	registry *prometheus.Registry
}

// NewPrometheusMetricsCollector creates a collector registered on its own registry
func NewPrometheusMetricsCollector(namespace string) *PrometheusMetricsCollector {
	return NewPrometheusMetricsCollectorWithRegistry(namespace, prometheus.NewRegistry())
}

// NewPrometheusMetricsCollectorWithRegistry creates a collector registered on reg
func NewPrometheusMetricsCollectorWithRegistry(namespace string, reg *prometheus.Registry) *PrometheusMetricsCollector {
	if namespace == "" {
		namespace = "nodesup"
	}

	pmc := &PrometheusMetricsCollector{
		registry: reg,
	}

	pmc.stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watchdog",
			Name:      "state_transitions_total",
			Help:      "Total number of node state transitions",
		},
		[]string{"node", "from_state", "to_state"},
	)

	pmc.probeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "watchdog",
			Name:      "probe_duration_seconds",
			Help:      "Duration of liveness probes",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		},
		[]string{"node", "phase", "status"},
	)

	pmc.deaths = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watchdog",
			Name:      "node_deaths_total",
			Help:      "Total number of node deaths",
		},
		[]string{"node", "startup"},
	)

	pmc.nodeState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "watchdog",
			Name:      "node_state",
			Help:      "Current state of a node (0=Starting, 1=Live, 2=Dead, 3=StoppedByOwner)",
		},
		[]string{"node"},
	)

	pmc.registry.MustRegister(
		pmc.stateTransitions,
		pmc.probeDuration,
		pmc.deaths,
		pmc.nodeState,
	)

	return pmc
}

// Registry returns the registry the metrics are registered on
func (pmc *PrometheusMetricsCollector) Registry() *prometheus.Registry {
	return pmc.registry
}

// StateTransition records a state transition
func (pmc *PrometheusMetricsCollector) StateTransition(node string, from, to State) {
	pmc.stateTransitions.WithLabelValues(
		node,
		from.String(),
		to.String(),
	).Inc()
	pmc.nodeState.WithLabelValues(node).Set(float64(to))
}

// ProbeDuration records the duration of a probe
func (pmc *PrometheusMetricsCollector) ProbeDuration(node string, phase State, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}

	pmc.probeDuration.WithLabelValues(
		node,
		phase.String(),
		status,
	).Observe(duration.Seconds())
}

// NodeDeath records a node death
func (pmc *PrometheusMetricsCollector) NodeDeath(node string, startup bool) {
	pmc.deaths.WithLabelValues(
		node,
		strconv.FormatBool(startup),
	).Inc()
}
