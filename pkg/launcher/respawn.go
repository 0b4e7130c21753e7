package launcher

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/time/rate"
)

// Respawner keeps a persistent node running. A new incarnation is started
// each time the previous one exits, as long as the respawner is armed and its
// sentinel file exists. Removing the sentinel disarms it; the current
// incarnation is left running.
type Respawner struct {
	launcher *Launcher
	cmd      *Command
	sentinel string
	limiter  *rate.Limiter
	logger   *slog.Logger

	mu       sync.Mutex
	current  *ProcessHandle
	armed    bool
	restarts int
	lastErr  error

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func (l *Launcher) startPersistent(ctx context.Context, cmd *Command, sentinel string) (*Respawner, error) {
	sentinel = filepath.Clean(sentinel)
	if err := writeSentinel(sentinel, l.runID); err != nil {
		return nil, ErrWriteFile(cmd.Node, sentinel, err)
	}

	h, err := l.Start(cmd)
	if err != nil {
		_ = os.Remove(sentinel)
		return nil, err
	}

	rctx, cancel := context.WithCancel(ctx)
	r := &Respawner{
		launcher: l,
		cmd:      cmd,
		sentinel: sentinel,
		limiter:  rate.NewLimiter(rate.Every(l.restartDelay), 1),
		logger:   l.logger.With("node", cmd.Node),
		current:  h,
		armed:    true,
		ctx:      rctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	// The first incarnation uses the initial token.
	r.limiter.Allow()

	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		if err = watcher.Add(filepath.Dir(sentinel)); err != nil {
			watcher.Close()
			watcher = nil
		}
	}
	if err != nil {
		r.logger.Warn("cannot watch keepalive sentinel, falling back to checks on exit", "error", err)
	}

	go r.loop(watcher)
	return r, nil
}

func (r *Respawner) loop(watcher *fsnotify.Watcher) {
	defer close(r.done)

	var (
		events <-chan fsnotify.Event
		errs   <-chan error
	)
	if watcher != nil {
		defer watcher.Close()
		events = watcher.Events
		errs = watcher.Errors
	}

	for {
		cur := r.Current()

		select {
		case <-r.ctx.Done():
			r.disarm()
			_ = cur.Kill()
			return

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Clean(ev.Name) == r.sentinel && ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				r.logger.Info("keepalive sentinel removed, respawning disabled", "sentinel", r.sentinel)
				r.disarm()
			}
			continue

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			r.logger.Warn("sentinel watcher error", "error", err)
			continue

		case <-cur.Exited():
		}

		if !r.Armed() || !sentinelExists(r.sentinel) {
			r.logger.Info("node exited, not respawning", "exit", cur.ExitErr())
			r.launcher.events.ReportLifecycleEvent(r.cmd.Node, EventExited, exitMetadata(cur))
			return
		}

		r.logger.Warn("node exited, respawning", "exit", cur.ExitErr(), "uptime", cur.Uptime().Round(time.Millisecond))
		r.launcher.events.ReportLifecycleEvent(r.cmd.Node, EventRestarting, exitMetadata(cur))

		if err := r.limiter.Wait(r.ctx); err != nil {
			return
		}

		r.mu.Lock()
		if !r.armed {
			r.mu.Unlock()
			return
		}
		h, err := r.launcher.Start(r.cmd)
		if err != nil {
			r.lastErr = err
			r.armed = false
			r.mu.Unlock()
			r.logger.Error("respawn failed", "error", err)
			return
		}
		r.current = h
		r.restarts++
		r.mu.Unlock()
	}
}

func exitMetadata(h *ProcessHandle) map[string]string {
	md := map[string]string{"pid": strconv.Itoa(h.PID())}
	if err := h.ExitErr(); err != nil {
		md["exit_error"] = err.Error()
	}
	return md
}

func sentinelExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func (r *Respawner) disarm() {
	r.mu.Lock()
	r.armed = false
	r.mu.Unlock()
}

// Armed reports whether the node will be relaunched when it exits
func (r *Respawner) Armed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.armed
}

// Current returns the running incarnation
func (r *Respawner) Current() *ProcessHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Restarts returns how many times the node was relaunched
func (r *Respawner) Restarts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.restarts
}

// Err returns the error that ended respawning, if a relaunch failed
func (r *Respawner) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

// Sentinel returns the path of the keepalive file
func (r *Respawner) Sentinel() string {
	return r.sentinel
}

// PID returns the pid of the running incarnation
func (r *Respawner) PID() int {
	return r.Current().PID()
}

// Exited is closed once respawning has ended and the last incarnation exited
func (r *Respawner) Exited() <-chan struct{} {
	return r.done
}

// Stop disarms the respawner, removes the sentinel and stops the current
// incarnation.
func (r *Respawner) Stop(grace time.Duration) error {
	r.disarm()
	err := r.removeSentinel()
	if stopErr := r.Current().Stop(grace); stopErr != nil {
		err = errors.Join(err, stopErr)
	}
	r.cancel()
	<-r.done
	r.launcher.events.ReportLifecycleEvent(r.cmd.Node, EventStopped, nil)
	return err
}

// Kill disarms the respawner and kills the current incarnation.
func (r *Respawner) Kill() error {
	r.disarm()
	err := r.removeSentinel()
	if killErr := r.Current().Kill(); killErr != nil {
		err = errors.Join(err, killErr)
	}
	r.cancel()
	<-r.done
	return err
}

func (r *Respawner) removeSentinel() error {
	if err := os.Remove(r.sentinel); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
