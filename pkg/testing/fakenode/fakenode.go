// Package fakenode is a stand-in for switch and controller binaries in tests.
//
// A test binary re-executes itself as a node:
//
//	func TestMain(m *testing.M) {
//	    if fakenode.Enabled() {
//	        os.Exit(fakenode.Main(os.Args[1:]))
//	    }
//	    os.Exit(m.Run())
//	}
//
// The fake node listens on every NODE_PORT_<NAME> port in its environment and
// behaves according to the FAKE_NODE_* variables.
package fakenode

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// Environment knobs.
const (
	// EnvEnable turns a test binary into a fake node
	EnvEnable = "NODESUP_FAKE_NODE"
	// EnvFail makes the node exit with status 1 before listening
	EnvFail = "FAKE_NODE_FAIL"
	// EnvDelay delays listening by a duration
	EnvDelay = "FAKE_NODE_DELAY"
	// EnvNoListen keeps the node running without listening
	EnvNoListen = "FAKE_NODE_NO_LISTEN"
	// EnvExitAfter makes the node exit a duration after it started listening
	EnvExitAfter = "FAKE_NODE_EXIT_AFTER"
	// EnvIgnoreTerm makes the node ignore SIGTERM
	EnvIgnoreTerm = "FAKE_NODE_IGNORE_TERM"

	portPrefix = "NODE_PORT_"
)

// ExitAfterCode is the status used when EnvExitAfter fires.
const ExitAfterCode = 3

// Enabled reports whether the current process should act as a fake node.
func Enabled() bool {
	return os.Getenv(EnvEnable) == "1"
}

// Env returns the variables that enable the fake node plus extra knobs.
func Env(extra map[string]string) map[string]string {
	env := map[string]string{EnvEnable: "1"}
	for k, v := range extra {
		env[k] = v
	}
	return env
}

// Main runs the fake node and returns its exit status.
func Main(args []string) int {
	fmt.Printf("fakenode %s starting: %s\n", os.Getenv("NODE_NAME"), strings.Join(args, " "))

	if os.Getenv(EnvFail) == "1" {
		fmt.Println("failing on purpose")
		return 1
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGTERM, syscall.SIGINT)

	if d := duration(EnvDelay); d > 0 {
		time.Sleep(d)
	}

	if os.Getenv(EnvNoListen) != "1" {
		for _, port := range Ports(os.Environ()) {
			l, err := net.Listen("tcp", net.JoinHostPort("0.0.0.0", strconv.Itoa(port)))
			if err != nil {
				fmt.Printf("listen on %d: %v\n", port, err)
				return 2
			}
			go accept(l)
		}
		fmt.Println("listening")
	}

	var exitAfter <-chan time.Time
	if d := duration(EnvExitAfter); d > 0 {
		exitAfter = time.After(d)
	}

	for {
		select {
		case sig := <-sigs:
			if sig == syscall.SIGTERM && os.Getenv(EnvIgnoreTerm) == "1" {
				fmt.Println("ignoring SIGTERM")
				continue
			}
			fmt.Printf("received %s\n", sig)
			return 0
		case <-exitAfter:
			fmt.Println("exiting on timer")
			return ExitAfterCode
		}
	}
}

// Ports extracts the NODE_PORT_* values of environ, sorted.
func Ports(environ []string) []int {
	var ports []int
	for _, kv := range environ {
		if !strings.HasPrefix(kv, portPrefix) {
			continue
		}
		_, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			ports = append(ports, p)
		}
	}
	sort.Ints(ports)
	return ports
}

func accept(l net.Listener) {
	for {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		conn.Close()
	}
}

func duration(key string) time.Duration {
	d, err := time.ParseDuration(os.Getenv(key))
	if err != nil {
		return 0
	}
	return d
}
