package launcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jrepp/nodesup/pkg/node"
	"github.com/jrepp/nodesup/pkg/portalloc"
)

// DefaultRestartDelay paces relaunches of persistent nodes.
const DefaultRestartDelay = time.Second

// Launcher forks node processes.
type Launcher struct {
	opts         BuilderOptions
	builders     map[node.Target]ArgvBuilder
	logger       *slog.Logger
	events       EventPublisher
	runID        string
	restartDelay time.Duration
}

// Option configures a Launcher.
type Option func(*Launcher)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(l *Launcher) {
		l.logger = logger
	}
}

// WithEventPublisher sets where lifecycle events go
func WithEventPublisher(p EventPublisher) Option {
	return func(l *Launcher) {
		l.events = p
	}
}

// WithRunID tags launched processes and sentinels with the supervisor run id
func WithRunID(id string) Option {
	return func(l *Launcher) {
		l.runID = id
	}
}

// WithRestartDelay sets the minimum time between relaunches of a persistent node
func WithRestartDelay(d time.Duration) Option {
	return func(l *Launcher) {
		if d > 0 {
			l.restartDelay = d
		}
	}
}

// WithBuilderOptions sets options shared by the default target builders
func WithBuilderOptions(opts BuilderOptions) Option {
	return func(l *Launcher) {
		l.opts = opts
	}
}

// WithBuilder overrides the builder of one target
func WithBuilder(t node.Target, b ArgvBuilder) Option {
	return func(l *Launcher) {
		l.builders[t] = b
	}
}

// New creates a Launcher.
func New(opts ...Option) *Launcher {
	l := &Launcher{
		builders:     make(map[node.Target]ArgvBuilder),
		logger:       slog.Default(),
		events:       NoopEventPublisher{},
		restartDelay: DefaultRestartDelay,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With("component", "launcher")
	return l
}

// RunID returns the run id the launcher tags processes with
func (l *Launcher) RunID() string {
	return l.runID
}

// Command builds the invocation of a node without starting it.
func (l *Launcher) Command(in Input) (*Command, error) {
	b, ok := l.builders[in.Spec.Target]
	if !ok {
		var err error
		b, err = BuilderFor(in.Spec.Target, l.opts)
		if err != nil {
			return nil, NewError(StageExec, in.Spec.Name, "unsupported target").WithCause(err)
		}
	}
	return b.Build(in)
}

// Launch builds and starts a node. Pinned ports are probed first so a port
// held by another process fails here instead of yielding a false liveness
// signal later. Persistent nodes are wrapped in a Respawner that lives until
// ctx is done or the node is stopped.
func (l *Launcher) Launch(ctx context.Context, in Input) (Process, error) {
	cmd, err := l.Command(in)
	if err != nil {
		return nil, err
	}

	for _, p := range in.Spec.PinnedPorts() {
		if err := portalloc.CheckFree(p.Port); err != nil {
			return nil, ErrPortBusy(in.Spec.Name, p.Name, p.Port, err)
		}
	}

	if in.Spec.Persistent {
		return l.startPersistent(ctx, cmd, in.Paths.Sentinel)
	}
	return l.Start(cmd)
}

// Start forks one incarnation of cmd. The child's stdout and stderr are
// appended to the command's log file.
func (l *Launcher) Start(cmd *Command) (*ProcessHandle, error) {
	path, err := exec.LookPath(cmd.Path)
	if err != nil {
		return nil, ErrExecutableNotFound(cmd.Node, cmd.Path, err)
	}

	if cmd.Dir != "" {
		if err := os.MkdirAll(cmd.Dir, 0o755); err != nil {
			return nil, ErrWorkDir(cmd.Node, cmd.Dir, err)
		}
	}
	for file, data := range cmd.Files {
		if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
			return nil, ErrWriteFile(cmd.Node, file, err)
		}
		if err := os.WriteFile(file, data, 0o644); err != nil {
			return nil, ErrWriteFile(cmd.Node, file, err)
		}
	}

	logPath := cmd.LogPath
	if logPath == "" {
		logPath = os.DevNull
	}
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, ErrLogFile(cmd.Node, logPath, err)
	}
	// The child keeps its own descriptor.
	defer logFile.Close()

	/* #nosec G204 */
	c := exec.Command(path, cmd.Args...)
	c.Dir = cmd.Dir
	c.Env = cmd.Environ()
	if l.runID != "" {
		c.Env = append(c.Env, EnvRunID+"="+l.runID)
	}
	c.Stdout = logFile
	c.Stderr = logFile
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	argv := cmd.Argv()
	if err := c.Start(); err != nil {
		return nil, ErrStartFailed(cmd.Node, argv, err)
	}

	h := newProcessHandle(cmd.Node, c, cmd.LogPath)
	l.logger.Info("node process started",
		"node", cmd.Node,
		"pid", h.PID(),
		"argv", strings.Join(argv, " "),
		"log", cmd.LogPath)
	l.events.ReportLifecycleEvent(cmd.Node, EventStarted, map[string]string{
		"pid": strconv.Itoa(h.PID()),
	})
	return h, nil
}

func writeSentinel(path, runID string) error {
	return os.WriteFile(path, []byte(fmt.Sprintf("%s\n", runID)), 0o644)
}
