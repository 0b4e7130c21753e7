package netcfg

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/jrepp/nodesup/pkg/shell"
)

// RouteResolver finds the local address the kernel would use to reach dst.
type RouteResolver interface {
	SourceIP(ctx context.Context, dst string) (string, error)
}

// UDPRouteResolver connects an unbound UDP socket to dst and reads the local
// address picked by the routing table. No packet is sent.
type UDPRouteResolver struct{}

// SourceIP implements RouteResolver.
func (UDPRouteResolver) SourceIP(ctx context.Context, dst string) (string, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp", net.JoinHostPort(dst, "9"))
	if err != nil {
		return "", fmt.Errorf("route to %s: %w", dst, err)
	}
	defer conn.Close()

	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return "", fmt.Errorf("route to %s: unexpected local address %s", dst, conn.LocalAddr())
	}
	return addr.IP.String(), nil
}

// IPRouteResolver asks `ip -o route get` for the source address. It sees
// policy routing inside the caller's network namespace.
type IPRouteResolver struct {
	Runner shell.Runner
}

// SourceIP implements RouteResolver.
func (r IPRouteResolver) SourceIP(ctx context.Context, dst string) (string, error) {
	runner := r.Runner
	if runner == nil {
		runner = shell.NewExecRunner()
	}
	out, err := runner.Run(ctx, "ip", "-o", "route", "get", dst)
	if err != nil {
		return "", fmt.Errorf("route to %s: %w", dst, err)
	}
	return parseRouteSource(string(out))
}

// parseRouteSource extracts the address following "src".
func parseRouteSource(out string) (string, error) {
	fields := strings.Fields(out)
	for i := 0; i < len(fields)-1; i++ {
		if fields[i] == "src" {
			if ip := net.ParseIP(fields[i+1]); ip != nil {
				return ip.String(), nil
			}
			return "", fmt.Errorf("invalid source address %s", strconv.Quote(fields[i+1]))
		}
	}
	return "", fmt.Errorf("no source address in route output %s", strconv.Quote(strings.TrimSpace(out)))
}
