package cluster

import (
	"errors"
	"time"

	"github.com/jrepp/nodesup/pkg/node"
	"github.com/jrepp/nodesup/pkg/watchdog"
)

// NodeStatus is a snapshot of one node.
type NodeStatus struct {
	Name     string
	Kind     node.Kind
	Target   node.Target
	IP       string
	Ports    map[string]int
	PID      int
	State    watchdog.State
	Restarts int
	LogPath  string

	// Err is the launch or liveness error that stopped the node
	Err error
	// LogTail holds the last log lines captured when the node failed
	LogTail []string
	// NetcfgErr is the last device configuration push error. It does not
	// make the node fail.
	NetcfgErr error
}

// Failed reports whether the node could not be started or died.
func (s NodeStatus) Failed() bool {
	return s.Err != nil || s.State == watchdog.StateDead
}

// Report is the outcome of a Start or AddNodes call.
type Report struct {
	RunID   string
	Nodes   []NodeStatus
	Elapsed time.Duration
	Aborted bool
}

// Failed returns the nodes that failed.
func (r *Report) Failed() []NodeStatus {
	var failed []NodeStatus
	for _, n := range r.Nodes {
		if n.Failed() {
			failed = append(failed, n)
		}
	}
	return failed
}

// OK reports whether every node became live.
func (r *Report) OK() bool {
	if r.Aborted {
		return false
	}
	for _, n := range r.Nodes {
		if n.State != watchdog.StateLive {
			return false
		}
	}
	return true
}

// Node returns the status of name.
func (r *Report) Node(name string) (NodeStatus, bool) {
	for _, n := range r.Nodes {
		if n.Name == name {
			return n, true
		}
	}
	return NodeStatus{}, false
}

// Err joins the errors of every failed node.
func (r *Report) Err() error {
	var errs []error
	for _, n := range r.Failed() {
		if n.Err != nil {
			errs = append(errs, n.Err)
		}
	}
	if r.Aborted {
		errs = append(errs, ErrAborted)
	}
	return errors.Join(errs...)
}
