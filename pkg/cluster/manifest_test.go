package cluster

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jrepp/nodesup/pkg/node"
)

func writeManifest(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cluster.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadManifest(t *testing.T) {
	path := writeManifest(t, `
name: lab
controllers:
  - name: onos1
    apps: [org.onosproject.drivers.bmv2]
switches:
  - name: s1
    id: 1
    target: stratum
    ports: {grpc: 50001}
    interfaces: {1: s1-eth1, 2: s1-eth2}
    pipeconf: org.onosproject.pipelines.fabric
    latitude: 37.4
    longitude: -122.1
  - name: s2
    id: 2
    persistent: true
forwards:
  - {host_port: 8181, node: onos1, port: rest}
`)

	m, err := LoadManifest(path)
	require.NoError(t, err)
	assert.Equal(t, "lab", m.Name)
	require.Len(t, m.Forwards, 1)
	assert.Equal(t, Forward{HostPort: 8181, Node: "onos1", Port: "rest"}, m.Forwards[0])
	assert.Nil(t, m.CommandNetwork())

	specs, err := m.Specs()
	require.NoError(t, err)
	require.Len(t, specs, 3)

	assert.Equal(t, "onos1", specs[0].Name)
	assert.Equal(t, node.KindController, specs[0].Kind)
	assert.Equal(t, node.TargetONOS, specs[0].Target)
	assert.Equal(t, []string{"org.onosproject.drivers.bmv2"}, specs[0].Apps)

	s1 := specs[1]
	assert.Equal(t, node.TargetStratum, s1.Target)
	assert.Equal(t, 50001, s1.Ports[node.PortGRPC])
	assert.Equal(t, map[int]string{1: "s1-eth1", 2: "s1-eth2"}, s1.Interfaces)
	require.NotNil(t, s1.Latitude)
	assert.InDelta(t, 37.4, *s1.Latitude, 1e-9)
	assert.Equal(t, "lab", s1.Cluster)

	assert.Equal(t, node.TargetBMv2, specs[2].Target, "switches default to bmv2")
	assert.True(t, specs[2].Persistent)
	assert.Empty(t, specs[2].Executable, "executables are filled in at start")
}

func TestLoadManifest_Network(t *testing.T) {
	path := writeManifest(t, `
switches:
  - name: s1
network:
  setup: [topo, up]
  attach: [topo, attach, "{name}", "{ip}"]
  destroy: [topo, down]
  addresses: {s1: 10.0.0.1}
`)
	m, err := LoadManifest(path)
	require.NoError(t, err)

	n := m.CommandNetwork()
	require.NotNil(t, n)
	assert.Equal(t, []string{"topo", "up"}, n.Setup)
	assert.Equal(t, "10.0.0.1", n.NodeIP("s1"))
	assert.Equal(t, "127.0.0.1", n.NodeIP("s2"))
}

func TestLoadManifest_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "no nodes",
			content: "name: empty\n",
			wantErr: "no nodes",
		},
		{
			name:    "duplicate names",
			content: "switches:\n  - name: s1\n  - name: s1\n",
			wantErr: "duplicate node name",
		},
		{
			name:    "controller target on a switch",
			content: "switches:\n  - name: s1\n    target: onos\n",
			wantErr: "is not a switch",
		},
		{
			name:    "unknown target",
			content: "switches:\n  - name: s1\n    target: ovs\n",
			wantErr: "unknown target",
		},
		{
			name:    "forward to unknown node",
			content: "switches:\n  - name: s1\nforwards:\n  - {host_port: 9000, node: s9, port: grpc}\n",
			wantErr: "unknown node",
		},
		{
			name:    "forward without port name",
			content: "switches:\n  - name: s1\nforwards:\n  - {host_port: 9000, node: s1}\n",
			wantErr: "port name is required",
		},
		{
			name:    "bad yaml",
			content: "switches: [\n",
			wantErr: "failed to parse manifest",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadManifest(writeManifest(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadManifest_Missing(t *testing.T) {
	_, err := LoadManifest(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "failed to read manifest")
}

func TestFillExecutables(t *testing.T) {
	specs := []NodeSpec{
		{Name: "s1", Target: node.TargetBMv2},
		{Name: "s2", Target: node.TargetStratum, Executable: "/opt/stratum"},
	}
	filled := FillExecutables(specs, DefaultExecutables())

	assert.Equal(t, "simple_switch_grpc", filled[0].Executable)
	assert.Equal(t, "/opt/stratum", filled[1].Executable)
	assert.Empty(t, specs[0].Executable, "input is not modified")
}
