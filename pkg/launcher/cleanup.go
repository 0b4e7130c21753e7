package launcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// StaleProcess is a node process left behind by an earlier supervisor run.
type StaleProcess struct {
	PID   int
	Node  string
	RunID string
}

// StaleReaper finds and terminates node processes from other runs. Node
// processes are recognized by the NODE_NAME and NODESUP_RUN_ID variables in
// their environment.
type StaleReaper struct {
	procDir string
	grace   time.Duration
	logger  *slog.Logger
}

// NewStaleReaper creates a reaper that waits grace before force killing.
func NewStaleReaper(grace time.Duration, logger *slog.Logger) *StaleReaper {
	if logger == nil {
		logger = slog.Default()
	}
	return &StaleReaper{
		procDir: "/proc",
		grace:   grace,
		logger:  logger.With("component", "reaper"),
	}
}

// Find returns node processes whose run id differs from currentRunID.
func (r *StaleReaper) Find(currentRunID string) ([]StaleProcess, error) {
	entries, err := os.ReadDir(r.procDir)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", r.procDir, err)
	}

	self := os.Getpid()
	var stale []StaleProcess
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		pid, err := strconv.Atoi(entry.Name())
		if err != nil || pid == self {
			continue
		}

		data, err := os.ReadFile(filepath.Join(r.procDir, entry.Name(), "environ"))
		if err != nil {
			continue
		}

		var p StaleProcess
		for _, kv := range strings.Split(string(data), "\x00") {
			switch {
			case strings.HasPrefix(kv, EnvNodeName+"="):
				p.Node = strings.TrimPrefix(kv, EnvNodeName+"=")
			case strings.HasPrefix(kv, EnvRunID+"="):
				p.RunID = strings.TrimPrefix(kv, EnvRunID+"=")
			}
		}
		if p.Node == "" || p.RunID == "" || p.RunID == currentRunID {
			continue
		}
		p.PID = pid
		stale = append(stale, p)
	}
	return stale, nil
}

// Reap terminates every stale node process and returns how many were found.
func (r *StaleReaper) Reap(ctx context.Context, currentRunID string) (int, error) {
	return r.ReapMatching(ctx, currentRunID, nil)
}

// ReapMatching is Reap restricted to the processes match accepts.
func (r *StaleReaper) ReapMatching(ctx context.Context, currentRunID string, match func(StaleProcess) bool) (int, error) {
	stale, err := r.Find(currentRunID)
	if err != nil {
		return 0, err
	}

	var (
		errs []error
		n    int
	)
	for _, p := range stale {
		if match != nil && !match(p) {
			continue
		}
		n++
		r.logger.Info("terminating stale node process", "node", p.Node, "pid", p.PID, "run_id", p.RunID)
		if err := Terminate(ctx, p.PID, r.grace); err != nil {
			errs = append(errs, fmt.Errorf("node %s (pid %d): %w", p.Node, p.PID, err))
		}
	}
	return n, errors.Join(errs...)
}

// Terminate sends SIGTERM to pid and SIGKILL if it is still alive after grace.
func Terminate(ctx context.Context, pid int, grace time.Duration) error {
	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("find process: %w", err)
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		// already gone
		return nil
	}

	timeout := time.NewTimer(grace)
	defer timeout.Stop()
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-timeout.C:
			if err := process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
				return fmt.Errorf("force kill: %w", err)
			}
			return nil

		case <-ticker.C:
			if err := process.Signal(syscall.Signal(0)); err != nil {
				return nil
			}
		}
	}
}
