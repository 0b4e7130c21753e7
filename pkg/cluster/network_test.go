package cluster

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jrepp/nodesup/pkg/node"
	"github.com/jrepp/nodesup/pkg/shell"
)

type commandLog struct {
	mu   sync.Mutex
	cmds []string
	fail string
}

func (c *commandLog) runner() shell.Runner {
	return shell.RunnerFunc(func(ctx context.Context, name string, args ...string) ([]byte, error) {
		c.mu.Lock()
		defer c.mu.Unlock()
		cmd := strings.TrimSpace(name + " " + strings.Join(args, " "))
		c.cmds = append(c.cmds, cmd)
		if c.fail != "" && strings.HasPrefix(cmd, c.fail) {
			return []byte("RTNETLINK answers: File exists"), errors.New("exit status 2")
		}
		return nil, nil
	})
}

func (c *commandLog) commands() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.cmds...)
}

func TestCommandNetwork(t *testing.T) {
	log := &commandLog{}
	n := &CommandNetwork{
		Runner:    log.runner(),
		Setup:     []string{"topo", "up"},
		Attach:    []string{"topo", "attach", "{name}", "{ip}"},
		Destroy:   []string{"topo", "down"},
		Addresses: map[string]string{"s1": "10.0.0.1"},
		DefaultIP: "10.0.0.254",
	}
	specs := []NodeSpec{{Name: "s1"}, {Name: "s2"}}

	require.NoError(t, n.Build(context.Background(), specs))
	require.NoError(t, n.AttachNodes(context.Background(), []NodeSpec{{Name: "s3"}}))
	require.NoError(t, n.Teardown(context.Background()))

	assert.Equal(t, []string{
		"topo up",
		"topo attach s1 10.0.0.1",
		"topo attach s2 10.0.0.254",
		"topo attach s3 10.0.0.254",
		"topo down",
	}, log.commands())
}

func TestCommandNetwork_Failure(t *testing.T) {
	log := &commandLog{fail: "topo attach s2"}
	n := &CommandNetwork{
		Runner: log.runner(),
		Attach: []string{"topo", "attach", "{name}"},
	}
	err := n.Build(context.Background(), []NodeSpec{{Name: "s1"}, {Name: "s2"}})
	assert.ErrorContains(t, err, "attach s2")
}

func TestSupervisor_CommandNetworkFailure(t *testing.T) {
	log := &commandLog{fail: "topo up"}
	s := New(testConfig(t), WithNetwork(&CommandNetwork{Runner: log.runner(), Setup: []string{"topo", "up"}}))

	_, err := s.Start(context.Background(), NodeSpec{
		Name: "s1", Kind: node.KindSwitch, Target: node.TargetBMv2, Executable: "true",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNetwork)
	assert.Empty(t, s.Nodes())
}

func TestLocalNetwork(t *testing.T) {
	assert.Equal(t, "127.0.0.1", LocalNetwork{}.NodeIP("s1"))
	assert.Equal(t, "10.1.1.1", LocalNetwork{IP: "10.1.1.1"}.NodeIP("s1"))
}

func TestIPTablesForwarder(t *testing.T) {
	var got [][]string
	runner := shell.RunnerFunc(func(ctx context.Context, name string, args ...string) ([]byte, error) {
		got = append(got, append([]string{name}, args...))
		return nil, nil
	})
	f := &IPTablesForwarder{Runner: runner}

	require.NoError(t, f.Install(context.Background(), 8181, "10.0.0.1", 38181))
	require.NoError(t, f.Remove(context.Background(), 8181, "10.0.0.1", 38181))

	assert.Equal(t, [][]string{
		{"iptables", "-t", "nat", "-A", "PREROUTING", "-p", "tcp", "--dport", "8181", "-j", "DNAT", "--to-destination", "10.0.0.1:38181"},
		{"iptables", "-t", "nat", "-D", "PREROUTING", "-p", "tcp", "--dport", "8181", "-j", "DNAT", "--to-destination", "10.0.0.1:38181"},
	}, got)
}

func TestIPTablesForwarder_Error(t *testing.T) {
	runner := shell.RunnerFunc(func(ctx context.Context, name string, args ...string) ([]byte, error) {
		return nil, errors.New("permission denied")
	})
	f := &IPTablesForwarder{Runner: runner, Binary: "iptables-legacy"}
	err := f.Install(context.Background(), 8181, "10.0.0.1", 38181)
	assert.ErrorContains(t, err, "forward 8181 to 10.0.0.1:38181")
}

func TestSupervisor_PartialNetworkIsTornDown(t *testing.T) {
	log := &commandLog{fail: "topo attach s2"}
	s := New(testConfig(t), WithNetwork(&CommandNetwork{
		Runner:  log.runner(),
		Setup:   []string{"topo", "up"},
		Attach:  []string{"topo", "attach", "{name}"},
		Destroy: []string{"topo", "down"},
	}))

	_, err := s.Start(context.Background(),
		NodeSpec{Name: "s1", Kind: node.KindSwitch, Target: node.TargetBMv2, Executable: "true"},
		NodeSpec{Name: "s2", Kind: node.KindSwitch, Target: node.TargetBMv2, Executable: "true"},
	)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNetwork)
	require.NoError(t, s.Stop(context.Background()))

	assert.Equal(t, []string{
		"topo up",
		"topo attach s1",
		"topo attach s2",
		"topo down",
	}, log.commands())
}

func TestSupervisor_PartialNetworkTeardownError(t *testing.T) {
	log := &commandLog{fail: "topo"}
	s := New(testConfig(t), WithNetwork(&CommandNetwork{
		Runner:  log.runner(),
		Setup:   []string{"topo", "up"},
		Destroy: []string{"topo", "down"},
	}))

	_, err := s.Start(context.Background(), NodeSpec{
		Name: "s1", Kind: node.KindSwitch, Target: node.TargetBMv2, Executable: "true",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNetwork)
	assert.ErrorContains(t, err, "teardown")
	assert.Equal(t, []string{"topo up", "topo down"}, log.commands())
}
