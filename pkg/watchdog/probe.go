package watchdog

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/jrepp/nodesup/pkg/shell"
)

// TCPProbe succeeds when a TCP connection to Addr can be opened.
type TCPProbe struct {
	Addr        string
	DialTimeout time.Duration
}

// Check implements Probe
func (p TCPProbe) Check(ctx context.Context) error {
	timeout := p.DialTimeout
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", p.Addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", p.Addr, err)
	}
	return conn.Close()
}

// GRPCProbe succeeds when a gRPC channel to Addr reaches the Ready state,
// which needs a completed HTTP/2 handshake rather than an open socket.
type GRPCProbe struct {
	Addr string
}

// Check implements Probe
func (p GRPCProbe) Check(ctx context.Context) error {
	conn, err := grpc.NewClient(p.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("grpc client %s: %w", p.Addr, err)
	}
	defer conn.Close()

	conn.Connect()
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.TransientFailure, connectivity.Shutdown:
			return fmt.Errorf("grpc %s: %s", p.Addr, state)
		}
		if !conn.WaitForStateChange(ctx, state) {
			return fmt.Errorf("grpc %s: stuck in %s: %w", p.Addr, state, ctx.Err())
		}
	}
}

// DefaultStepInterval is the retry interval of ControllerProbe steps.
const DefaultStepInterval = time.Second

// ControllerProbe checks a controller in gated steps: the status command
// reports it running, the admin port accepts connections, the data port
// accepts connections and the management query output contains QueryExpect.
// Empty steps are skipped. Each step is retried until it passes or ctx ends.
type ControllerProbe struct {
	Runner        shell.Runner
	StatusCommand []string
	AdminAddr     string
	DataAddr      string
	QueryCommand  []string
	QueryExpect   string
	StepInterval  time.Duration
}

type probeStep struct {
	name string
	fn   func(ctx context.Context) error
}

// Check implements Probe
func (p ControllerProbe) Check(ctx context.Context) error {
	var steps []probeStep
	if len(p.StatusCommand) > 0 {
		steps = append(steps, probeStep{"status", p.checkStatus})
	}
	if p.AdminAddr != "" {
		steps = append(steps, probeStep{"admin port", TCPProbe{Addr: p.AdminAddr}.Check})
	}
	if p.DataAddr != "" {
		steps = append(steps, probeStep{"data port", TCPProbe{Addr: p.DataAddr}.Check})
	}
	if len(p.QueryCommand) > 0 {
		steps = append(steps, probeStep{"query", p.checkQuery})
	}

	for _, s := range steps {
		if err := p.retry(ctx, s.fn); err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
	}
	return nil
}

func (p ControllerProbe) retry(ctx context.Context, fn func(ctx context.Context) error) error {
	interval := p.StepInterval
	if interval <= 0 {
		interval = DefaultStepInterval
	}
	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

	for {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		timer.Reset(interval)
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w (last error: %v)", ctx.Err(), err)
		case <-timer.C:
		}
	}
}

func (p ControllerProbe) checkStatus(ctx context.Context) error {
	out, err := shell.RunArgv(ctx, p.Runner, p.StatusCommand)
	if err != nil {
		return err
	}
	status := strings.ToLower(string(out))
	if !strings.Contains(status, "running") || strings.Contains(status, "not running") {
		return fmt.Errorf("status is %q", strings.TrimSpace(string(out)))
	}
	return nil
}

func (p ControllerProbe) checkQuery(ctx context.Context) error {
	out, err := shell.RunArgv(ctx, p.Runner, p.QueryCommand)
	if err != nil {
		return err
	}
	if !strings.Contains(string(out), p.QueryExpect) {
		return fmt.Errorf("query output does not contain %q", p.QueryExpect)
	}
	return nil
}
