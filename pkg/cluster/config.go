package cluster

import (
	"time"

	"github.com/jrepp/nodesup/pkg/launcher"
	"github.com/jrepp/nodesup/pkg/membership"
	"github.com/jrepp/nodesup/pkg/netcfg"
	"github.com/jrepp/nodesup/pkg/node"
	"github.com/jrepp/nodesup/pkg/watchdog"
)

// NodeSpec describes one supervised node.
type NodeSpec = node.Spec

// Defaults.
const (
	DefaultGracePeriod              = 5 * time.Second
	DefaultControllerStartupTimeout = 240 * time.Second
)

// Config holds the supervisor configuration.
type Config struct {
	// Name names the cluster; it keys the shared membership file
	Name string

	// Layout places per-node runtime files
	Layout launcher.Layout

	// KeepFiles leaves logs, sentinels and netcfg files behind on stop
	KeepFiles bool

	// GracePeriod is how long a node may take to exit after SIGTERM
	GracePeriod time.Duration

	// RestartDelay paces relaunches of persistent nodes
	RestartDelay time.Duration

	// Valgrind is the wrapper used for nodes that ask for it
	Valgrind string

	// ONOSRoot is exported to controller nodes
	ONOSRoot string

	// Executables are used for specs that do not name one
	Executables map[node.Target]string

	Watchdog   WatchdogConfig
	Membership membership.Options
	Controller ControllerConfig
}

// WatchdogConfig tunes the per-node watchdogs.
type WatchdogConfig struct {
	StartupTimeout  time.Duration
	StartupInterval time.Duration
	LiveInterval    time.Duration
	MaxFailures     int
	TailLines       int
	ProbeTimeout    time.Duration

	// GRPCProbe requires a gRPC handshake on switches instead of an open port
	GRPCProbe bool

	// ControllerStartupTimeout replaces StartupTimeout for controller nodes
	ControllerStartupTimeout time.Duration
}

// ControllerConfig describes where device configuration is pushed and how
// controller nodes are probed.
type ControllerConfig struct {
	// IP of an external controller. When empty the first live controller
	// node of the cluster is used.
	IP       string
	Port     int
	Username string
	Password string
	// Push enables the HTTP upload of device configuration
	Push bool

	// StatusCommand, QueryCommand and QueryExpect configure the compound
	// startup probe of controller nodes. Arguments may use the {name},
	// {ip}, {dir} and {<port name>} placeholders.
	StatusCommand []string
	QueryCommand  []string
	QueryExpect   string
	StepInterval  time.Duration
}

// DefaultExecutables returns the binary of each target looked up in PATH.
func DefaultExecutables() map[node.Target]string {
	return map[node.Target]string{
		node.TargetBMv2:    "simple_switch_grpc",
		node.TargetStratum: "stratum_bmv2",
		node.TargetONOS:    "karaf",
	}
}

// FillExecutables returns copies of specs with missing executables taken
// from exes.
func FillExecutables(specs []NodeSpec, exes map[node.Target]string) []NodeSpec {
	out := make([]NodeSpec, len(specs))
	for i, s := range specs {
		out[i] = s.Clone()
		if out[i].Executable == "" {
			out[i].Executable = exes[s.Target]
		}
	}
	return out
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Name:         "default",
		Layout:       launcher.Layout{Dir: launcher.DefaultRuntimeDir},
		GracePeriod:  DefaultGracePeriod,
		RestartDelay: launcher.DefaultRestartDelay,
		Valgrind:     "valgrind",
		Executables:  DefaultExecutables(),
		Watchdog: WatchdogConfig{
			StartupTimeout:           watchdog.DefaultStartupTimeout,
			StartupInterval:          watchdog.DefaultStartupInterval,
			LiveInterval:             watchdog.DefaultLiveInterval,
			MaxFailures:              watchdog.DefaultMaxFailures,
			TailLines:                watchdog.DefaultTailLines,
			ProbeTimeout:             watchdog.DefaultProbeTimeout,
			ControllerStartupTimeout: DefaultControllerStartupTimeout,
		},
		Membership: membership.DefaultOptions(),
		Controller: ControllerConfig{
			Port:     netcfg.DefaultRESTPort,
			Username: netcfg.DefaultUsername,
			Password: netcfg.DefaultPassword,
		},
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.Name == "" {
		c.Name = d.Name
	}
	if c.Layout.Dir == "" {
		c.Layout = d.Layout
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = d.GracePeriod
	}
	if c.RestartDelay <= 0 {
		c.RestartDelay = d.RestartDelay
	}
	if c.Valgrind == "" {
		c.Valgrind = d.Valgrind
	}
	exes := d.Executables
	for t, exe := range c.Executables {
		if exe != "" {
			exes[t] = exe
		}
	}
	c.Executables = exes

	w := &c.Watchdog
	if w.StartupTimeout <= 0 {
		w.StartupTimeout = d.Watchdog.StartupTimeout
	}
	if w.StartupInterval <= 0 {
		w.StartupInterval = d.Watchdog.StartupInterval
	}
	if w.LiveInterval <= 0 {
		w.LiveInterval = d.Watchdog.LiveInterval
	}
	if w.MaxFailures <= 0 {
		w.MaxFailures = d.Watchdog.MaxFailures
	}
	if w.TailLines <= 0 {
		w.TailLines = d.Watchdog.TailLines
	}
	if w.ProbeTimeout <= 0 {
		w.ProbeTimeout = d.Watchdog.ProbeTimeout
	}
	if w.ControllerStartupTimeout <= 0 {
		w.ControllerStartupTimeout = w.StartupTimeout
	}

	if c.Membership.Seed == "" {
		c.Membership.Seed = d.Membership.Seed
	}
	if c.Membership.Replication <= 0 {
		c.Membership.Replication = d.Membership.Replication
	}

	if c.Controller.Port <= 0 {
		c.Controller.Port = d.Controller.Port
	}
	if c.Controller.Username == "" {
		c.Controller.Username = d.Controller.Username
	}
	if c.Controller.Password == "" {
		c.Controller.Password = d.Controller.Password
	}
}
