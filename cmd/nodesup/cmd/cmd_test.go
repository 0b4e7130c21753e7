package cmd

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jrepp/nodesup/cmd/nodesup/internal/ui"
	"github.com/jrepp/nodesup/pkg/cluster"
	"github.com/jrepp/nodesup/pkg/membership"
	"github.com/jrepp/nodesup/pkg/netcfg"
	"github.com/jrepp/nodesup/pkg/node"
	"github.com/jrepp/nodesup/pkg/watchdog"
)

const testManifest = `
name: lab
controllers:
  - name: onos1
  - name: onos2
    ports: {cluster: 19876}
switches:
  - name: s1
    id: 1
    ports: {grpc: 50001}
    interfaces: {1: s1-eth1}
  - name: s2
    id: 2
`

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Chdir(t.TempDir())

	configPath, logLevel = "", ""
	netcfgIP, netcfgGRPCPort, portsCount = "", 0, 1

	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func writeTestManifest(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cluster.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testManifest), 0o644))
	return path
}

func TestPortsCommand(t *testing.T) {
	out, err := execute(t, "ports", "-n", "3")
	require.NoError(t, err)

	lines := strings.Fields(out)
	require.Len(t, lines, 3)
	seen := map[int]bool{}
	for _, l := range lines {
		p, err := strconv.Atoi(l)
		require.NoError(t, err)
		assert.Greater(t, p, 0)
		seen[p] = true
	}
	assert.Len(t, seen, 3)
}

func TestPortsCommand_InvalidCount(t *testing.T) {
	_, err := execute(t, "ports", "-n", "0")
	assert.ErrorContains(t, err, "count must be positive")
}

func TestMembershipCommand(t *testing.T) {
	out, err := execute(t, "membership", "-f", writeTestManifest(t))
	require.NoError(t, err)

	var cfg membership.Config
	require.NoError(t, json.Unmarshal([]byte(out), &cfg))
	assert.Equal(t, []membership.Member{
		{ID: "onos1", IP: "127.0.0.1", Port: membership.DefaultPort},
		{ID: "onos2", IP: "127.0.0.1", Port: 19876},
	}, cfg.Nodes)
	assert.Len(t, cfg.Partitions, 2)
	assert.Equal(t, membership.ClusterName(membership.DefaultSeed), cfg.Name)
}

func TestNetcfgCommand(t *testing.T) {
	out, err := execute(t, "netcfg", "-f", writeTestManifest(t), "--node", "s1")
	require.NoError(t, err)

	var doc netcfg.Document
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	dev, ok := doc.Devices["device:bmv2:s1"]
	require.True(t, ok, out)
	assert.Equal(t, "grpc://127.0.0.1:50001?device_id=1", dev.Basic.ManagementAddress)
}

func TestNetcfgCommand_Errors(t *testing.T) {
	path := writeTestManifest(t)

	_, err := execute(t, "netcfg", "-f", path, "--node", "s9")
	assert.ErrorIs(t, err, cluster.ErrUnknownNode)

	_, err = execute(t, "netcfg", "-f", path, "--node", "s2")
	assert.ErrorContains(t, err, "--grpc-port")

	_, err = execute(t, "netcfg", "-f", path, "--node", "onos1", "--grpc-port", "50000")
	assert.ErrorContains(t, err, "only built for switches")
}

func TestInvalidLogLevel(t *testing.T) {
	_, err := execute(t, "--log-level", "loud", "ports")
	assert.ErrorContains(t, err, "invalid log level")
}

func TestPrintReport(t *testing.T) {
	var out, errOut bytes.Buffer
	u := ui.New(&out, &errOut)

	printReport(u, &cluster.Report{
		Elapsed: 1500 * time.Millisecond,
		Nodes: []cluster.NodeStatus{
			{Name: "s1", Kind: node.KindSwitch, Target: node.TargetBMv2, State: watchdog.StateLive, PID: 42,
				Ports: map[string]int{"grpc": 50001, "thrift": 9090}},
			{Name: "s2", Kind: node.KindSwitch, Target: node.TargetBMv2, State: watchdog.StateDead,
				Err: errors.New("exited before becoming live"), LogTail: []string{"bind: address in use"}},
		},
	})

	assert.Contains(t, out.String(), "grpc=50001,thrift=9090")
	assert.Contains(t, out.String(), "1 of 2 nodes failed")
	assert.Contains(t, errOut.String(), "s2: exited before becoming live")
	assert.Contains(t, errOut.String(), "bind: address in use")
}

func TestAllLive(t *testing.T) {
	assert.False(t, allLive(nil))
	assert.True(t, allLive([]cluster.NodeStatus{{State: watchdog.StateLive}}))
	assert.False(t, allLive([]cluster.NodeStatus{{State: watchdog.StateLive}, {State: watchdog.StateStarting}}))
}
