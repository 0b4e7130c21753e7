package launcher

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Stage identifies where a launch failed
type Stage string

const (
	// StageExec covers resolving and starting the executable
	StageExec Stage = "exec"
	// StageFS covers log files, sentinels and working directories
	StageFS Stage = "fs"
	// StagePort covers missing, busy or already claimed ports
	StagePort Stage = "port"
)

// LaunchError represents a launch failure with context for troubleshooting.
type LaunchError struct {
	// Stage is where the launch failed
	Stage Stage

	// Node is the name of the node being launched
	Node string

	// Message is the primary error message
	Message string

	// Context provides additional details
	Context map[string]interface{}

	// Cause is the underlying error (if any)
	Cause error

	// Suggestion provides actionable guidance for resolving the error
	Suggestion string
}

// Error implements the error interface
func (e *LaunchError) Error() string {
	var parts []string

	head := fmt.Sprintf("[%s] %s", e.Stage, e.Message)
	if e.Node != "" {
		head = fmt.Sprintf("[%s] node %s: %s", e.Stage, e.Node, e.Message)
	}
	parts = append(parts, head)

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		contextParts := make([]string, 0, len(keys))
		for _, k := range keys {
			contextParts = append(contextParts, fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		parts = append(parts, fmt.Sprintf("Context: %s", strings.Join(contextParts, ", ")))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("Cause: %v", e.Cause))
	}

	if e.Suggestion != "" {
		parts = append(parts, fmt.Sprintf("Suggestion: %s", e.Suggestion))
	}

	return strings.Join(parts, "; ")
}

// Unwrap returns the underlying error for errors.Is/As compatibility
func (e *LaunchError) Unwrap() error {
	return e.Cause
}

// NewError creates a new LaunchError for a node at the given stage
func NewError(stage Stage, node, message string) *LaunchError {
	return &LaunchError{
		Stage:   stage,
		Node:    node,
		Message: message,
		Context: make(map[string]interface{}),
	}
}

// WithContext adds context information to the error
func (e *LaunchError) WithContext(key string, value interface{}) *LaunchError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithCause adds the underlying cause to the error
func (e *LaunchError) WithCause(cause error) *LaunchError {
	e.Cause = cause
	return e
}

// WithSuggestion adds an actionable suggestion to the error
func (e *LaunchError) WithSuggestion(suggestion string) *LaunchError {
	e.Suggestion = suggestion
	return e
}

// ErrExecutableNotFound creates an error for a missing executable
func ErrExecutableNotFound(node, path string, cause error) *LaunchError {
	return NewError(StageExec, node, "executable not found").
		WithContext("executable", path).
		WithCause(cause).
		WithSuggestion(fmt.Sprintf("Check that %s is installed and on PATH, or set its path in the config", path))
}

// ErrStartFailed creates an error for fork/exec failures
func ErrStartFailed(node string, argv []string, cause error) *LaunchError {
	return NewError(StageExec, node, "failed to start process").
		WithContext("argv", strings.Join(argv, " ")).
		WithCause(cause)
}

// ErrWorkDir creates an error for a working directory that cannot be created
func ErrWorkDir(node, dir string, cause error) *LaunchError {
	return NewError(StageFS, node, "cannot create working directory").
		WithContext("dir", dir).
		WithCause(cause)
}

// ErrLogFile creates an error for a log file that cannot be opened
func ErrLogFile(node, path string, cause error) *LaunchError {
	return NewError(StageFS, node, "cannot open log file").
		WithContext("path", path).
		WithCause(cause).
		WithSuggestion("Check that the runtime directory exists and is writable")
}

// ErrWriteFile creates an error for a generated file that cannot be written
func ErrWriteFile(node, path string, cause error) *LaunchError {
	return NewError(StageFS, node, "cannot write file").
		WithContext("path", path).
		WithCause(cause)
}

// ErrMissingPort creates an error for a port the target requires but was not resolved
func ErrMissingPort(node, name string) *LaunchError {
	return NewError(StagePort, node, fmt.Sprintf("port %q was not resolved", name)).
		WithContext("port_name", name)
}

// ErrPortBusy creates an error for a pinned port that is already bound or claimed
func ErrPortBusy(node, name string, port int, cause error) *LaunchError {
	return NewError(StagePort, node, fmt.Sprintf("port %s (%d) is not available", name, port)).
		WithContext("port_name", name).
		WithContext("port", port).
		WithCause(cause).
		WithSuggestion("Pick a different port or leave it unset so one is allocated")
}

// IsStage checks whether err is a LaunchError at the given stage
func IsStage(err error, stage Stage) bool {
	var le *LaunchError
	if errors.As(err, &le) {
		return le.Stage == stage
	}
	return false
}

// StageOf returns the stage of a LaunchError, or "" if err is not one
func StageOf(err error) Stage {
	var le *LaunchError
	if errors.As(err, &le) {
		return le.Stage
	}
	return ""
}
