// Package launcher forks emulated switch and controller processes.
//
// A target-specific ArgvBuilder turns a node description and its resolved
// ports into a Command. Launcher.Start forks one incarnation of that command
// with stdout and stderr appended to the node's log file and returns a
// ProcessHandle. Launcher.Launch additionally probes pinned ports and, for
// persistent nodes, wraps the process in a Respawner.
//
// # Quick Start
//
//	l := launcher.New(
//	    launcher.WithRunID(runID),
//	    launcher.WithRestartDelay(time.Second),
//	)
//
//	paths := launcher.Layout{Dir: "/tmp"}.For("bmv2", "s1")
//	proc, err := l.Launch(ctx, launcher.Input{
//	    Spec:  spec,
//	    IP:    "127.0.0.1",
//	    Ports: map[string]int{"grpc": 50001, "thrift": 9090},
//	    Paths: paths,
//	})
//	if err != nil {
//	    // err is a *LaunchError; StageOf(err) tells exec, fs or port apart
//	}
//	defer proc.Stop(5 * time.Second)
//
// # Runtime Files
//
// Layout places per-node files under one directory:
//
//	<dir>/<prefix>-<name>-log          combined stdout and stderr
//	<dir>/<prefix>-<name>-keepalive    sentinel of a persistent node
//	<dir>/<prefix>-<name>-netcfg.json  last device config pushed for a switch
//	<dir>/<prefix>-<name>/             working directory
//
// # Persistent Nodes
//
// A Respawner relaunches its node each time it exits while it is armed and
// the keepalive sentinel exists. The sentinel's directory is watched with
// fsnotify so deleting the file disarms the respawner immediately; relaunches
// are paced by a token bucket with one token per restart delay.
//
// # Stale Processes
//
// Every child carries NODE_NAME and NODESUP_RUN_ID in its environment.
// StaleReaper uses them to find and terminate node processes left behind by
// an earlier run.
package launcher
