package cluster

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jrepp/nodesup/pkg/shell"
)

// Forward exposes a node port on a host port.
type Forward struct {
	HostPort int    `yaml:"host_port"`
	Node     string `yaml:"node"`
	// Port is the name of the node port, e.g. "grpc"
	Port string `yaml:"port"`
}

// PortForwarder installs and removes host port forwarding rules.
type PortForwarder interface {
	Install(ctx context.Context, hostPort int, ip string, port int) error
	Remove(ctx context.Context, hostPort int, ip string, port int) error
}

// IPTablesForwarder forwards with DNAT rules in the nat table.
type IPTablesForwarder struct {
	Runner shell.Runner
	// Binary defaults to iptables
	Binary string
}

// Install implements PortForwarder
func (f *IPTablesForwarder) Install(ctx context.Context, hostPort int, ip string, port int) error {
	return f.run(ctx, "-A", hostPort, ip, port)
}

// Remove implements PortForwarder
func (f *IPTablesForwarder) Remove(ctx context.Context, hostPort int, ip string, port int) error {
	return f.run(ctx, "-D", hostPort, ip, port)
}

func (f *IPTablesForwarder) run(ctx context.Context, op string, hostPort int, ip string, port int) error {
	runner := f.Runner
	if runner == nil {
		runner = shell.NewExecRunner()
	}
	bin := f.Binary
	if bin == "" {
		bin = "iptables"
	}
	_, err := runner.Run(ctx, bin, DNATRule(op, hostPort, ip, port)...)
	if err != nil {
		return fmt.Errorf("forward %d to %s:%d: %w", hostPort, ip, port, err)
	}
	return nil
}

// DNATRule returns the iptables arguments of a forwarding rule.
func DNATRule(op string, hostPort int, ip string, port int) []string {
	return []string{
		"-t", "nat", op, "PREROUTING",
		"-p", "tcp", "--dport", strconv.Itoa(hostPort),
		"-j", "DNAT", "--to-destination", fmt.Sprintf("%s:%d", ip, port),
	}
}
