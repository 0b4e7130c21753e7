// Package watchdog decides whether a launched node is alive.
//
// A Watchdog probes its node every StartupInterval until the first success
// or StartupTimeout, then every LiveInterval until MaxFailures consecutive
// probes fail. The context passed to Run is the abort token shared by every
// watchdog of a cluster: cancelling it moves each watchdog to StoppedByOwner
// without reporting an error.
package watchdog

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Watchdog tracks the liveness of one node
type Watchdog struct {
	node      string
	probe     Probe
	liveProbe Probe

	startupTimeout  time.Duration
	startupInterval time.Duration
	liveInterval    time.Duration
	probeTimeout    time.Duration
	maxFailures     int

	exited  <-chan struct{}
	logTail func() []string
	onDeath func(err error)
	metrics MetricsCollector
	logger  *slog.Logger

	mu          sync.Mutex
	state       State
	failures    int
	lastErr     error
	err         error
	liveSince   time.Time
	startState  State
	startErr    error
	startedOnce sync.Once
	started     chan struct{}

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// New creates a watchdog for node using probe
func New(node string, probe Probe, opts ...Option) *Watchdog {
	w := &Watchdog{
		node:            node,
		probe:           probe,
		startupTimeout:  DefaultStartupTimeout,
		startupInterval: DefaultStartupInterval,
		liveInterval:    DefaultLiveInterval,
		probeTimeout:    DefaultProbeTimeout,
		maxFailures:     DefaultMaxFailures,
		metrics:         NewNoopMetricsCollector(),
		logger:          slog.Default(),
		state:           StateStarting,
		started:         make(chan struct{}),
		stopCh:          make(chan struct{}),
		done:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.liveProbe == nil {
		w.liveProbe = w.probe
	}
	w.logger = w.logger.With("component", "watchdog", "node", node)
	return w
}

// Node returns the name of the watched node
func (w *Watchdog) Node() string {
	return w.node
}

// Run watches the node until it dies, Stop is called or ctx is cancelled.
// It blocks; run it in its own goroutine.
func (w *Watchdog) Run(ctx context.Context) {
	defer close(w.done)
	w.logger.Debug("watchdog started",
		"startup_timeout", w.startupTimeout,
		"live_interval", w.liveInterval,
		"max_failures", w.maxFailures)

	// Stop also cancels a probe in flight.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-w.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	if !w.awaitLive(ctx) {
		return
	}
	w.monitor(ctx)
}

func (w *Watchdog) awaitLive(ctx context.Context) bool {
	deadline := time.Now().Add(w.startupTimeout)
	timeout := time.NewTimer(w.startupTimeout)
	defer timeout.Stop()
	ticker := time.NewTicker(w.startupInterval)
	defer ticker.Stop()

	for {
		err := w.check(ctx, w.probe, StateStarting, deadline)
		if err == nil {
			select {
			case <-w.exited:
				// The probe was answered by someone else.
				w.die(ctx, true, fmt.Errorf("%w before becoming live", ErrProcessExited))
				return false
			default:
			}
			w.resetFailures()
			w.transition(StateLive, nil)
			w.logger.Info("node is live")
			return true
		}
		w.recordFailure(err)

		select {
		case <-ctx.Done():
			w.stopQuietly()
			return false
		case <-w.stopCh:
			w.stopQuietly()
			return false
		case <-w.exited:
			w.die(ctx, true, fmt.Errorf("%w before becoming live", ErrProcessExited))
			return false
		case <-timeout.C:
			w.die(ctx, true, err)
			return false
		case <-ticker.C:
		}
	}
}

func (w *Watchdog) monitor(ctx context.Context) {
	ticker := time.NewTicker(w.liveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.stopQuietly()
			return
		case <-w.stopCh:
			w.stopQuietly()
			return
		case <-w.exited:
			w.die(ctx, false, ErrProcessExited)
			return
		case <-ticker.C:
		}

		err := w.check(ctx, w.liveProbe, StateLive, time.Time{})
		if err == nil {
			w.resetFailures()
			continue
		}
		if n := w.recordFailure(err); n >= w.maxFailures {
			w.die(ctx, false, fmt.Errorf("%d consecutive probe failures: %w", n, err))
			return
		}
		w.logger.Warn("liveness probe failed", "error", err)
	}
}

// check runs one probe bounded by the probe timeout and, while starting, by
// the startup deadline.
func (w *Watchdog) check(ctx context.Context, p Probe, phase State, deadline time.Time) error {
	pctx, cancel := context.WithTimeout(ctx, w.probeTimeout)
	defer cancel()
	if !deadline.IsZero() {
		var cancelDeadline context.CancelFunc
		pctx, cancelDeadline = context.WithDeadline(pctx, deadline)
		defer cancelDeadline()
	}

	start := time.Now()
	err := p.Check(pctx)
	w.metrics.ProbeDuration(w.node, phase, time.Since(start), err)
	return err
}

func (w *Watchdog) recordFailure(err error) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.failures++
	w.lastErr = err
	return w.failures
}

func (w *Watchdog) resetFailures() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.failures = 0
}

func (w *Watchdog) stopRequested() bool {
	select {
	case <-w.stopCh:
		return true
	default:
		return false
	}
}

func (w *Watchdog) stopQuietly() {
	w.transition(StateStoppedByOwner, nil)
	w.logger.Debug("watchdog stopped by owner")
}

// die records a death unless the owner is already tearing the node down, in
// which case the failure is expected and is not reported.
func (w *Watchdog) die(ctx context.Context, startup bool, cause error) {
	if ctx.Err() != nil || w.stopRequested() {
		w.stopQuietly()
		return
	}

	var tail []string
	if w.logTail != nil {
		tail = w.logTail()
	}

	var err error
	if startup {
		err = &StartupError{Node: w.node, Timeout: w.startupTimeout, Cause: cause, LogTail: tail}
	} else {
		err = &DeathError{Node: w.node, Cause: cause, LogTail: tail}
	}

	w.transition(StateDead, err)
	w.metrics.NodeDeath(w.node, startup)
	w.logger.Error("node died", "error", err, "log_tail", FormatTail(tail))

	if w.onDeath != nil {
		w.onDeath(err)
	}
}

func (w *Watchdog) transition(to State, err error) {
	w.mu.Lock()
	from := w.state
	w.state = to
	if err != nil {
		w.err = err
	}
	if to == StateLive {
		w.liveSince = time.Now()
	}
	w.mu.Unlock()

	if from != to {
		w.metrics.StateTransition(w.node, from, to)
	}

	if to != StateStarting {
		w.startedOnce.Do(func() {
			w.mu.Lock()
			w.startState = to
			w.startErr = err
			w.mu.Unlock()
			close(w.started)
		})
	}
}

// Stop asks the watchdog to stop. It does not wait; use Done for that.
func (w *Watchdog) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
}

// Done is closed when Run has returned
func (w *Watchdog) Done() <-chan struct{} {
	return w.done
}

// Started is closed once the node left the Starting state
func (w *Watchdog) Started() <-chan struct{} {
	return w.started
}

// WaitStarted blocks until the node is live or reached a terminal state
// during startup, and returns that state with the startup error, if any.
func (w *Watchdog) WaitStarted(ctx context.Context) (State, error) {
	select {
	case <-w.started:
		w.mu.Lock()
		defer w.mu.Unlock()
		return w.startState, w.startErr
	case <-ctx.Done():
		return w.State(), ctx.Err()
	}
}

// State returns the current state
func (w *Watchdog) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Err returns the error that killed the node, if any
func (w *Watchdog) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Status returns a snapshot of the watchdog
func (w *Watchdog) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Status{
		Node:                w.node,
		State:               w.state,
		ConsecutiveFailures: w.failures,
		LastError:           w.lastErr,
		Err:                 w.err,
		LiveSince:           w.liveSince,
	}
}
