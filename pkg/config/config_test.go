package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jrepp/nodesup/pkg/netcfg"
	"github.com/jrepp/nodesup/pkg/node"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "/tmp", cfg.Runtime.Dir)
	assert.Equal(t, netcfg.DefaultRESTPort, cfg.Controller.Port)
	assert.Equal(t, "onos", cfg.Controller.Username)
	assert.Equal(t, "rocks", cfg.Controller.Password)
	assert.True(t, cfg.Controller.Push)
	assert.Equal(t, "simple_switch_grpc", cfg.BMv2.Exe)
	assert.Equal(t, "stratum_bmv2", cfg.Stratum.Exe)
	assert.Equal(t, 3, cfg.Membership.Replication)
	assert.Equal(t, 5*time.Second, cfg.Watchdog.StartupTimeout)
	assert.Equal(t, 1, cfg.Watchdog.MaxFailures)
	assert.Zero(t, cfg.Metrics.Port)
	assert.False(t, cfg.Tracing.Enabled)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nodesup.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
cluster:
  name: lab
runtime:
  dir: /var/run/nodesup
  keep_files: true
watchdog:
  startup_timeout: 30s
  max_failures: 3
controller:
  ip: 10.0.0.10
  push: false
  status_command: [onos-status, "{name}"]
membership:
  replication: 5
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "lab", cfg.Cluster.Name)
	assert.Equal(t, "/var/run/nodesup", cfg.Runtime.Dir)
	assert.True(t, cfg.Runtime.KeepFiles)
	assert.Equal(t, 30*time.Second, cfg.Watchdog.StartupTimeout)
	assert.Equal(t, 3, cfg.Watchdog.MaxFailures)
	assert.Equal(t, "10.0.0.10", cfg.Controller.IP)
	assert.False(t, cfg.Controller.Push)
	assert.Equal(t, []string{"onos-status", "{name}"}, cfg.Controller.StatusCommand)
	assert.Equal(t, 5, cfg.Membership.Replication)
	assert.Equal(t, 250*time.Millisecond, cfg.Watchdog.StartupInterval, "unset keys keep defaults")
}

func TestLoad_Environment(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("ONOS_WEB_USER", "karaf")
	t.Setenv("ONOS_WEB_PASS", "secret")
	t.Setenv("ONOS_ROOT", "/opt/onos")
	t.Setenv("BMV2_EXE", "/usr/local/bin/simple_switch_grpc")
	t.Setenv("STRATUM_BMV2", "/usr/local/bin/stratum_bmv2")
	t.Setenv("NODESUP_WATCHDOG_MAX_FAILURES", "7")
	t.Setenv("NODESUP_WATCHDOG_LIVE_INTERVAL", "2s")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "karaf", cfg.Controller.Username)
	assert.Equal(t, "secret", cfg.Controller.Password)
	assert.Equal(t, "/opt/onos", cfg.ONOS.Root)
	assert.Equal(t, "/usr/local/bin/simple_switch_grpc", cfg.BMv2.Exe)
	assert.Equal(t, "/usr/local/bin/stratum_bmv2", cfg.Stratum.Exe)
	assert.Equal(t, 7, cfg.Watchdog.MaxFailures)
	assert.Equal(t, 2*time.Second, cfg.Watchdog.LiveInterval)
}

func TestLoad_PrefixedEnvWins(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("ONOS_WEB_USER", "karaf")
	t.Setenv("NODESUP_CONTROLLER_USERNAME", "admin")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "admin", cfg.Controller.Username)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "read config")
}

func TestLoad_InvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nodesup.yaml")
	require.NoError(t, os.WriteFile(path, []byte("watchdog: [\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestConfig_ClusterConfig(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("BMV2_EXE", "/opt/bmv2")

	cfg, err := Load("")
	require.NoError(t, err)
	cfg.Cluster.Name = "lab"
	cfg.Runtime.Dir = "/var/run/nodesup"

	cc := cfg.ClusterConfig()
	assert.Equal(t, "lab", cc.Name)
	assert.Equal(t, "/var/run/nodesup", cc.Layout.Dir)
	assert.Equal(t, "/opt/bmv2", cc.Executables[node.TargetBMv2])
	assert.Equal(t, "karaf", cc.Executables[node.TargetONOS])
	assert.Equal(t, cfg.Watchdog.StartupTimeout, cc.Watchdog.StartupTimeout)
	assert.Equal(t, "onos", cc.Membership.Seed)
	assert.Equal(t, netcfg.DefaultRESTPort, cc.Controller.Port)
	assert.True(t, cc.Controller.Push)
}
