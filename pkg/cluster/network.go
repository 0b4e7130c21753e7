package cluster

import (
	"context"
	"errors"
	"fmt"

	"github.com/jrepp/nodesup/pkg/shell"
)

// ErrNetwork marks a failure to build the data-plane network. It is fatal to
// the whole cluster: no node is launched.
var ErrNetwork = errors.New("network build failed")

// Network builds the data-plane network the nodes attach to.
type Network interface {
	// Build creates the network for specs. It runs before any node starts.
	Build(ctx context.Context, specs []NodeSpec) error
	// Teardown removes the network.
	Teardown(ctx context.Context) error
	// NodeIP returns the address other nodes reach name at.
	NodeIP(name string) string
}

// NodeAttacher is implemented by networks that can attach nodes added after
// the network was built.
type NodeAttacher interface {
	AttachNodes(ctx context.Context, specs []NodeSpec) error
}

// LocalNetwork places every node on the loopback interface.
type LocalNetwork struct {
	IP string
}

// Build implements Network
func (LocalNetwork) Build(ctx context.Context, specs []NodeSpec) error {
	return nil
}

// Teardown implements Network
func (LocalNetwork) Teardown(ctx context.Context) error {
	return nil
}

// NodeIP implements Network
func (n LocalNetwork) NodeIP(name string) string {
	if n.IP != "" {
		return n.IP
	}
	return "127.0.0.1"
}

// CommandNetwork runs external commands to build and tear down the network,
// for example a topology script. Setup runs once, then Attach runs once per
// node with the {name} and {ip} placeholders expanded.
type CommandNetwork struct {
	Runner shell.Runner

	// Setup runs once before any node is attached
	Setup []string
	// Attach runs once per node
	Attach []string
	// Destroy runs on teardown
	Destroy []string

	// Addresses maps node names to addresses; missing nodes use DefaultIP
	Addresses map[string]string
	DefaultIP string
}

// Build implements Network
func (n *CommandNetwork) Build(ctx context.Context, specs []NodeSpec) error {
	if len(n.Setup) > 0 {
		if _, err := shell.RunArgv(ctx, n.runner(), n.Setup); err != nil {
			return fmt.Errorf("setup: %w", err)
		}
	}
	return n.AttachNodes(ctx, specs)
}

// AttachNodes runs the Attach command for every spec.
func (n *CommandNetwork) AttachNodes(ctx context.Context, specs []NodeSpec) error {
	if len(n.Attach) == 0 {
		return nil
	}
	for _, spec := range specs {
		argv := shell.Expand(n.Attach, map[string]string{"name": spec.Name, "ip": n.NodeIP(spec.Name)})
		if _, err := shell.RunArgv(ctx, n.runner(), argv); err != nil {
			return fmt.Errorf("attach %s: %w", spec.Name, err)
		}
	}
	return nil
}

// Teardown implements Network
func (n *CommandNetwork) Teardown(ctx context.Context) error {
	if len(n.Destroy) == 0 {
		return nil
	}
	_, err := shell.RunArgv(ctx, n.runner(), n.Destroy)
	return err
}

// NodeIP implements Network
func (n *CommandNetwork) NodeIP(name string) string {
	if ip, ok := n.Addresses[name]; ok {
		return ip
	}
	if n.DefaultIP != "" {
		return n.DefaultIP
	}
	return "127.0.0.1"
}

func (n *CommandNetwork) runner() shell.Runner {
	if n.Runner == nil {
		return shell.NewExecRunner()
	}
	return n.Runner
}
