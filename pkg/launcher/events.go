package launcher

import (
	"log/slog"
)

// Lifecycle event types reported for launched nodes.
const (
	EventStarted    = "started"
	EventExited     = "exited"
	EventRestarting = "restarting"
	EventStopped    = "stopped"
)

// EventPublisher receives lifecycle events of launched nodes.
//
// Event types:
//   - started: a node incarnation was forked
//   - exited: an incarnation exited and will not be relaunched
//   - restarting: a persistent node exited and is about to be relaunched
//   - stopped: the owner stopped the node
type EventPublisher interface {
	// ReportLifecycleEvent records an event for node.
	//
	// Parameters:
	//   node: name of the node
	//   eventType: one of the Event* constants
	//   metadata: additional context (pid, restarts, exit_error, etc.)
	ReportLifecycleEvent(node, eventType string, metadata map[string]string)
}

// NoopEventPublisher drops every event.
type NoopEventPublisher struct{}

// ReportLifecycleEvent does nothing
func (NoopEventPublisher) ReportLifecycleEvent(node, eventType string, metadata map[string]string) {}

// LogEventPublisher writes events to a structured logger.
type LogEventPublisher struct {
	Logger *slog.Logger
}

// ReportLifecycleEvent logs the event at debug level
func (p LogEventPublisher) ReportLifecycleEvent(node, eventType string, metadata map[string]string) {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	args := []any{"node", node, "event", eventType}
	for k, v := range metadata {
		args = append(args, k, v)
	}
	logger.Debug("lifecycle event", args...)
}

// MultiEventPublisher fans events out to several publishers.
type MultiEventPublisher []EventPublisher

// ReportLifecycleEvent forwards the event to every publisher
func (m MultiEventPublisher) ReportLifecycleEvent(node, eventType string, metadata map[string]string) {
	for _, p := range m {
		p.ReportLifecycleEvent(node, eventType, metadata)
	}
}
