package cluster

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jrepp/nodesup/pkg/launcher"
)

// MetricsCollector defines the interface for collecting supervisor metrics
type MetricsCollector interface {
	// NodeLaunched records a started node process
	NodeLaunched(node, target string)

	// LaunchFailed records a node that could not be started, by failure stage
	LaunchFailed(node, stage string)

	// NetcfgPushed records a device configuration push
	NetcfgPushed(node string, err error)

	// NodeRespawned records a relaunch of a persistent node
	NodeRespawned(node string)

	// ClusterStarted records how long a Start or AddNodes call took
	ClusterStarted(nodes int, duration time.Duration)
}

// noopMetricsCollector is a no-op implementation of MetricsCollector
type noopMetricsCollector struct{}

func (n *noopMetricsCollector) NodeLaunched(node, target string)                 {}
func (n *noopMetricsCollector) LaunchFailed(node, stage string)                  {}
func (n *noopMetricsCollector) NetcfgPushed(node string, err error)              {}
func (n *noopMetricsCollector) NodeRespawned(node string)                        {}
func (n *noopMetricsCollector) ClusterStarted(nodes int, duration time.Duration) {}

// NewNoopMetricsCollector creates a no-op metrics collector
func NewNoopMetricsCollector() MetricsCollector {
	return &noopMetricsCollector{}
}

// PrometheusMetricsCollector implements MetricsCollector using Prometheus metrics
type PrometheusMetricsCollector struct {
	launches      *prometheus.CounterVec
	launchErrors  *prometheus.CounterVec
	pushes        *prometheus.CounterVec
	respawns      *prometheus.CounterVec
	startDuration prometheus.Histogram
	liveNodes     prometheus.Gauge

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

	pmc.launches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cluster",
			Name:      "node_launches_total",
			Help:      "Total number of node processes started",
		},
		[]string{"node", "target"},
	)

	pmc.launchErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cluster",
			Name:      "node_launch_errors_total",
			Help:      "Total number of nodes that failed to launch",
		},
		[]string{"node", "stage"},
	)

	pmc.pushes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cluster",
			Name:      "netcfg_pushes_total",
			Help:      "Total number of device configuration pushes",
		},
		[]string{"node", "status"},
	)

	pmc.respawns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cluster",
			Name:      "node_respawns_total",
			Help:      "Total number of persistent node relaunches",
		},
		[]string{"node"},
	)

	pmc.startDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "cluster",
			Name:      "start_duration_seconds",
			Help:      "Time until every node of a start batch was live or dead",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
		},
	)

	pmc.liveNodes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cluster",
			Name:      "batch_nodes",
			Help:      "Number of nodes in the last start batch",
		},
	)

	pmc.registry.MustRegister(
		pmc.launches,
		pmc.launchErrors,
		pmc.pushes,
		pmc.respawns,
		pmc.startDuration,
		pmc.liveNodes,
	)

	return pmc
}

// Registry returns the registry the metrics are registered on
func (pmc *PrometheusMetricsCollector) Registry() *prometheus.Registry {
	return pmc.registry
}

// NodeLaunched records a started node process
func (pmc *PrometheusMetricsCollector) NodeLaunched(node, target string) {
	pmc.launches.WithLabelValues(node, target).Inc()
}

// LaunchFailed records a node that could not be started
func (pmc *PrometheusMetricsCollector) LaunchFailed(node, stage string) {
	pmc.launchErrors.WithLabelValues(node, stage).Inc()
}

// NetcfgPushed records a device configuration push
func (pmc *PrometheusMetricsCollector) NetcfgPushed(node string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	pmc.pushes.WithLabelValues(node, status).Inc()
}

// NodeRespawned records a relaunch of a persistent node
func (pmc *PrometheusMetricsCollector) NodeRespawned(node string) {
	pmc.respawns.WithLabelValues(node).Inc()
}

// ClusterStarted records the duration of a start batch
func (pmc *PrometheusMetricsCollector) ClusterStarted(nodes int, duration time.Duration) {
	pmc.startDuration.Observe(duration.Seconds())
	pmc.liveNodes.Set(float64(nodes))
}

// metricsEventPublisher turns launcher lifecycle events into metrics.
type metricsEventPublisher struct {
	metrics MetricsCollector
}

// ReportLifecycleEvent implements launcher.EventPublisher
func (p metricsEventPublisher) ReportLifecycleEvent(node, eventType string, metadata map[string]string) {
	if eventType == launcher.EventRestarting {
		p.metrics.NodeRespawned(node)
	}
}
