// Package shell runs short helper commands (status queries, route lookups,
// iptables) under a context with a bounded timeout.
package shell

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// DefaultTimeout bounds a single helper command.
const DefaultTimeout = 30 * time.Second

// Runner executes a command and returns its combined output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// RunnerFunc adapts a function into a Runner.
type RunnerFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

// Run calls f.
func (f RunnerFunc) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return f(ctx, name, args...)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct {
	Timeout time.Duration
	Logger  *slog.Logger
}

// NewExecRunner returns a runner with the default timeout.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{Timeout: DefaultTimeout}
}

// Run executes name with args. The command is killed when ctx is done or the
// timeout expires.
func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	/* #nosec G204 */
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()

	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Debug("exec", "cmd", name, "args", args, "output", strings.TrimSpace(string(out)), "error", err)

	if err != nil {
		return out, fmt.Errorf("%s %s: %w", name, strings.Join(args, " "), err)
	}
	return out, nil
}

// RunArgv runs argv[0] with the remaining elements as arguments.
func RunArgv(ctx context.Context, r Runner, argv []string) ([]byte, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	return r.Run(ctx, argv[0], argv[1:]...)
}

// Expand replaces {key} placeholders in every element of argv.
func Expand(argv []string, vars map[string]string) []string {
	if len(argv) == 0 {
		return nil
	}
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	rep := strings.NewReplacer(pairs...)

	out := make([]string, len(argv))
	for i, a := range argv {
		out[i] = rep.Replace(a)
	}
	return out
}
