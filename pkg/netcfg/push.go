package netcfg

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Controller REST defaults.
const (
	DefaultRESTPort = 8181
	DefaultUsername = "onos"
	DefaultPassword = "rocks"
	DefaultTimeout  = 10 * time.Second

	configurationPath = "/onos/v1/network/configuration/"
	maxErrorBody      = 4096
)

// EndpointFor returns the network configuration URL of a controller.
func EndpointFor(ip string, port int) string {
	if port <= 0 {
		port = DefaultRESTPort
	}
	return "http://" + net.JoinHostPort(ip, strconv.Itoa(port)) + configurationPath
}

// PushError reports a failed upload. Either StatusCode/Body or Err is set.
type PushError struct {
	Node       string
	URL        string
	StatusCode int
	Body       string
	Err        error
}

func (e *PushError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("push netcfg for %s to %s: %v", e.Node, e.URL, e.Err)
	}
	return fmt.Sprintf("push netcfg for %s to %s: status %d: %s", e.Node, e.URL, e.StatusCode, e.Body)
}

func (e *PushError) Unwrap() error {
	return e.Err
}

// Pusher writes device configuration files and optionally uploads them.
type Pusher struct {
	// Endpoint is the controller's network configuration URL
	Endpoint string
	Username string
	Password string
	// Online enables the HTTP upload; the file is always written
	Online bool

	Client *http.Client
	Logger *slog.Logger
}

// NewPusher returns a pusher for endpoint with default credentials.
func NewPusher(endpoint string, online bool) *Pusher {
	return &Pusher{
		Endpoint: endpoint,
		Username: DefaultUsername,
		Password: DefaultPassword,
		Online:   online,
	}
}

// Push writes doc to path and, when online, POSTs it to the controller.
func (p *Pusher) Push(ctx context.Context, nodeName, path string, doc *Document) error {
	data, err := doc.Marshal()
	if err != nil {
		return err
	}
	if err := writeFile(path, data); err != nil {
		return fmt.Errorf("node %s: %w", nodeName, err)
	}

	logger := p.logger().With("node", nodeName)
	if !p.Online {
		logger.Debug("netcfg written", "path", path)
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.Endpoint, bytes.NewReader(data))
	if err != nil {
		return &PushError{Node: nodeName, URL: p.Endpoint, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(p.Username, p.Password)

	resp, err := p.client().Do(req)
	if err != nil {
		return &PushError{Node: nodeName, URL: p.Endpoint, Err: err}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &PushError{
			Node:       nodeName,
			URL:        p.Endpoint,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
	}

	logger.Info("netcfg pushed", "url", p.Endpoint, "status", resp.StatusCode)
	return nil
}

func (p *Pusher) client() *http.Client {
	if p.Client != nil {
		return p.Client
	}
	return &http.Client{Timeout: DefaultTimeout}
}

func (p *Pusher) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger.With("component", "netcfg")
	}
	return slog.Default().With("component", "netcfg")
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create netcfg dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write netcfg: %w", err)
	}
	return nil
}
