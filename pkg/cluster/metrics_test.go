package cluster

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jrepp/nodesup/pkg/launcher"
)

// TestPrometheusMetricsCollector_Launches tests launch counters
func TestPrometheusMetricsCollector_Launches(t *testing.T) {
	pmc := NewPrometheusMetricsCollector("test")

	pmc.NodeLaunched("s1", "bmv2")
	pmc.NodeLaunched("s1", "bmv2")
	pmc.LaunchFailed("s2", "port")

	expected := `
		# HELP test_cluster_node_launches_total Total number of node processes started
		# TYPE test_cluster_node_launches_total counter
		test_cluster_node_launches_total{node="s1",target="bmv2"} 2
		# HELP test_cluster_node_launch_errors_total Total number of nodes that failed to launch
		# TYPE test_cluster_node_launch_errors_total counter
		test_cluster_node_launch_errors_total{node="s2",stage="port"} 1
	`
	err := testutil.GatherAndCompare(pmc.Registry(), strings.NewReader(expected),
		"test_cluster_node_launches_total", "test_cluster_node_launch_errors_total")
	assert.NoError(t, err)
}

// TestPrometheusMetricsCollector_Pushes tests netcfg push counters
func TestPrometheusMetricsCollector_Pushes(t *testing.T) {
	pmc := NewPrometheusMetricsCollector("test")

	pmc.NetcfgPushed("s1", nil)
	pmc.NetcfgPushed("s1", errors.New("503"))

	assert.Equal(t, 1.0, testutil.ToFloat64(pmc.pushes.WithLabelValues("s1", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pmc.pushes.WithLabelValues("s1", "error")))
}

// TestPrometheusMetricsCollector_ClusterStarted tests start duration recording
func TestPrometheusMetricsCollector_ClusterStarted(t *testing.T) {
	pmc := NewPrometheusMetricsCollector("")

	pmc.ClusterStarted(3, 2*time.Second)

	count, err := testutil.GatherAndCount(pmc.Registry(), "nodesup_cluster_start_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, 3.0, testutil.ToFloat64(pmc.liveNodes))
}

// TestMetricsEventPublisher tests that relaunch events are counted
func TestMetricsEventPublisher(t *testing.T) {
	pmc := NewPrometheusMetricsCollector("test")
	p := metricsEventPublisher{metrics: pmc}

	p.ReportLifecycleEvent("s1", launcher.EventStarted, nil)
	p.ReportLifecycleEvent("s1", launcher.EventRestarting, map[string]string{"pid": "42"})
	p.ReportLifecycleEvent("s1", launcher.EventRestarting, nil)

	assert.Equal(t, 2.0, testutil.ToFloat64(pmc.respawns.WithLabelValues("s1")))
}

func TestNoopMetricsCollector(t *testing.T) {
	mc := NewNoopMetricsCollector()
	mc.NodeLaunched("s1", "bmv2")
	mc.LaunchFailed("s1", "exec")
	mc.NetcfgPushed("s1", nil)
	mc.NodeRespawned("s1")
	mc.ClusterStarted(1, time.Second)
}
