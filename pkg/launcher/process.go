package launcher

import (
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// killWait bounds how long we wait for the kernel to reap a SIGKILLed child.
const killWait = 5 * time.Second

// Process is a running node, either a single incarnation or a respawning one.
type Process interface {
	PID() int
	// Exited is closed once nothing is running for the node anymore
	Exited() <-chan struct{}
	// Stop sends SIGTERM and escalates to SIGKILL after grace
	Stop(grace time.Duration) error
	Kill() error
}

// ProcessHandle is one running incarnation of a node.
type ProcessHandle struct {
	Node    string
	Cmd     *exec.Cmd
	LogPath string
	Started time.Time

	mu      sync.Mutex
	stopped bool
	done    chan struct{}
	waitErr error
}

func newProcessHandle(node string, cmd *exec.Cmd, logPath string) *ProcessHandle {
	h := &ProcessHandle{
		Node:    node,
		Cmd:     cmd,
		LogPath: logPath,
		Started: time.Now(),
		done:    make(chan struct{}),
	}
	go h.reap()
	return h
}

func (h *ProcessHandle) reap() {
	err := h.Cmd.Wait()
	h.mu.Lock()
	h.waitErr = err
	h.mu.Unlock()
	close(h.done)
}

// PID returns the OS process id
func (h *ProcessHandle) PID() int {
	if h.Cmd == nil || h.Cmd.Process == nil {
		return 0
	}
	return h.Cmd.Process.Pid
}

// Exited is closed when the process has been reaped
func (h *ProcessHandle) Exited() <-chan struct{} {
	return h.done
}

// Running reports whether the process has not exited yet
func (h *ProcessHandle) Running() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// Stopped reports whether the owner asked the process to stop
func (h *ProcessHandle) Stopped() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stopped
}

// ExitErr returns the error from Wait once the process has exited
func (h *ProcessHandle) ExitErr() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.waitErr
}

// Uptime returns how long the process has been running
func (h *ProcessHandle) Uptime() time.Duration {
	return time.Since(h.Started)
}

// markStopped sets the stopped flag and reports whether it was already set.
func (h *ProcessHandle) markStopped() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	already := h.stopped
	h.stopped = true
	return already
}

// signal delivers sig to the process group of the child.
func (h *ProcessHandle) signal(sig syscall.Signal) error {
	pid := h.PID()
	if pid <= 0 {
		return fmt.Errorf("process not started")
	}
	err := syscall.Kill(-pid, sig)
	if errors.Is(err, syscall.ESRCH) {
		err = syscall.Kill(pid, sig)
	}
	if errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}

// Stop gracefully stops the process by sending SIGTERM, then SIGKILL once
// grace has passed. Calling Stop more than once is harmless.
func (h *ProcessHandle) Stop(grace time.Duration) error {
	if h.markStopped() {
		return h.waitReaped()
	}
	if !h.Running() {
		return nil
	}

	if err := h.signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("send SIGTERM to %s (pid %d): %w", h.Node, h.PID(), err)
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-h.done:
		return nil
	case <-timer.C:
	}

	if err := h.signal(syscall.SIGKILL); err != nil {
		return fmt.Errorf("send SIGKILL to %s (pid %d): %w", h.Node, h.PID(), err)
	}
	return h.waitReaped()
}

// Kill sends SIGKILL and waits for the process to be reaped.
func (h *ProcessHandle) Kill() error {
	h.markStopped()
	if !h.Running() {
		return nil
	}
	if err := h.signal(syscall.SIGKILL); err != nil {
		return fmt.Errorf("send SIGKILL to %s (pid %d): %w", h.Node, h.PID(), err)
	}
	return h.waitReaped()
}

func (h *ProcessHandle) waitReaped() error {
	select {
	case <-h.done:
		return nil
	case <-time.After(killWait):
		return fmt.Errorf("process %s (pid %d) did not exit", h.Node, h.PID())
	}
}
