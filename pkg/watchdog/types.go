package watchdog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// State represents the lifecycle state of a watched node
type State int

const (
	// StateStarting - the node is up but has not answered a probe yet
	StateStarting State = iota
	// StateLive - the node answered a probe
	StateLive
	// StateDead - startup timed out, probes failed or the process exited
	StateDead
	// StateStoppedByOwner - the owner stopped watching; not a failure
	StateStoppedByOwner
)

// String returns the string representation of a State
func (s State) String() string {
	switch s {
	case StateStarting:
		return "Starting"
	case StateLive:
		return "Live"
	case StateDead:
		return "Dead"
	case StateStoppedByOwner:
		return "StoppedByOwner"
	default:
		return "Unknown"
	}
}

// Terminal reports whether no further transitions can happen
func (s State) Terminal() bool {
	return s == StateDead || s == StateStoppedByOwner
}

// Probe checks whether a node is reachable.
type Probe interface {
	Check(ctx context.Context) error
}

// ProbeFunc adapts a function into a Probe.
type ProbeFunc func(ctx context.Context) error

// Check calls f
func (f ProbeFunc) Check(ctx context.Context) error {
	return f(ctx)
}

// ErrProcessExited is reported when the watched process exits on its own.
var ErrProcessExited = errors.New("process exited")

// StartupError is reported when a node never became live.
type StartupError struct {
	Node    string
	Timeout time.Duration
	Cause   error
	LogTail []string
}

// Error implements the error interface
func (e *StartupError) Error() string {
	msg := fmt.Sprintf("node %s did not start within %v", e.Node, e.Timeout)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying error for errors.Is/As compatibility
func (e *StartupError) Unwrap() error {
	return e.Cause
}

// DeathError is reported when a live node stopped answering or exited.
type DeathError struct {
	Node    string
	Cause   error
	LogTail []string
}

// Error implements the error interface
func (e *DeathError) Error() string {
	return fmt.Sprintf("node %s died: %v", e.Node, e.Cause)
}

// Unwrap returns the underlying error for errors.Is/As compatibility
func (e *DeathError) Unwrap() error {
	return e.Cause
}

// LogTailOf returns the log tail carried by a StartupError or DeathError.
func LogTailOf(err error) []string {
	var se *StartupError
	if errors.As(err, &se) {
		return se.LogTail
	}
	var de *DeathError
	if errors.As(err, &de) {
		return de.LogTail
	}
	return nil
}

// FormatTail renders a log tail for humans.
func FormatTail(lines []string) string {
	if len(lines) == 0 {
		return "(log is empty)"
	}
	return "  " + strings.Join(lines, "\n  ")
}

// Status is a snapshot of a watchdog
type Status struct {
	Node                string
	State               State
	ConsecutiveFailures int
	LastError           error
	Err                 error
	LiveSince           time.Time
}
