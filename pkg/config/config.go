// Package config loads the nodesup configuration from an optional YAML file,
// NODESUP_* environment variables and the legacy ONOS and BMv2 variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/jrepp/nodesup/pkg/cluster"
	"github.com/jrepp/nodesup/pkg/launcher"
	"github.com/jrepp/nodesup/pkg/membership"
	"github.com/jrepp/nodesup/pkg/netcfg"
	"github.com/jrepp/nodesup/pkg/node"
	"github.com/jrepp/nodesup/pkg/watchdog"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "NODESUP"

// Config holds the nodesup configuration
type Config struct {
	Cluster    ClusterConfig    `mapstructure:"cluster"`
	Runtime    RuntimeConfig    `mapstructure:"runtime"`
	Launcher   LauncherConfig   `mapstructure:"launcher"`
	Watchdog   WatchdogConfig   `mapstructure:"watchdog"`
	Controller ControllerConfig `mapstructure:"controller"`
	Membership MembershipConfig `mapstructure:"membership"`
	BMv2       ExeConfig        `mapstructure:"bmv2"`
	Stratum    ExeConfig        `mapstructure:"stratum"`
	ONOS       ONOSConfig       `mapstructure:"onos"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
	Log        LogConfig        `mapstructure:"log"`
}

// ClusterConfig names the cluster
type ClusterConfig struct {
	Name string `mapstructure:"name"`
}

// RuntimeConfig places per-node files
type RuntimeConfig struct {
	Dir       string `mapstructure:"dir"`
	KeepFiles bool   `mapstructure:"keep_files"`
}

// LauncherConfig tunes process launch and shutdown
type LauncherConfig struct {
	RestartDelay time.Duration `mapstructure:"restart_delay"`
	GracePeriod  time.Duration `mapstructure:"grace_period"`
	Valgrind     string        `mapstructure:"valgrind"`
}

// WatchdogConfig tunes liveness probing
type WatchdogConfig struct {
	StartupTimeout           time.Duration `mapstructure:"startup_timeout"`
	StartupInterval          time.Duration `mapstructure:"startup_interval"`
	LiveInterval             time.Duration `mapstructure:"live_interval"`
	MaxFailures              int           `mapstructure:"max_failures"`
	TailLines                int           `mapstructure:"tail_lines"`
	ProbeTimeout             time.Duration `mapstructure:"probe_timeout"`
	GRPCProbe                bool          `mapstructure:"grpc_probe"`
	ControllerStartupTimeout time.Duration `mapstructure:"controller_startup_timeout"`
}

// ControllerConfig describes the controller REST endpoint and probes
type ControllerConfig struct {
	IP            string        `mapstructure:"ip"`
	Port          int           `mapstructure:"port"`
	Username      string        `mapstructure:"username"`
	Password      string        `mapstructure:"password"`
	Push          bool          `mapstructure:"push"`
	StatusCommand []string      `mapstructure:"status_command"`
	QueryCommand  []string      `mapstructure:"query_command"`
	QueryExpect   string        `mapstructure:"query_expect"`
	StepInterval  time.Duration `mapstructure:"step_interval"`
}

// MembershipConfig tunes the generated membership file
type MembershipConfig struct {
	Seed        string `mapstructure:"seed"`
	Replication int    `mapstructure:"replication"`
	Partitions  int    `mapstructure:"partitions"`
}

// ExeConfig names a switch binary
type ExeConfig struct {
	Exe string `mapstructure:"exe"`
}

// ONOSConfig locates the controller installation
type ONOSConfig struct {
	Root string `mapstructure:"root"`
	Exe  string `mapstructure:"exe"`
}

// MetricsConfig configures the metrics endpoint
type MetricsConfig struct {
	// Port of the metrics endpoint; 0 disables it
	Port int `mapstructure:"port"`
}

// TracingConfig configures OpenTelemetry tracing
type TracingConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Exporter string `mapstructure:"exporter"`
}

// LogConfig configures logging
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load loads configuration from path, or from nodesup.yaml in the current
// directory or ~/.nodesup when path is empty. A missing default file is not
// an error.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("nodesup")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".nodesup"))
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Variables understood by the controller and switch tooling.
	bindings := map[string]string{
		"controller.username": "ONOS_WEB_USER",
		"controller.password": "ONOS_WEB_PASS",
		"onos.root":           "ONOS_ROOT",
		"bmv2.exe":            "BMV2_EXE",
		"stratum.exe":         "STRATUM_BMV2",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, envName(key), env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func envName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

func setDefaults(v *viper.Viper) {
	d := cluster.DefaultConfig()

	v.SetDefault("cluster.name", d.Name)

	v.SetDefault("runtime.dir", launcher.DefaultRuntimeDir)
	v.SetDefault("runtime.keep_files", false)

	v.SetDefault("launcher.restart_delay", d.RestartDelay)
	v.SetDefault("launcher.grace_period", d.GracePeriod)
	v.SetDefault("launcher.valgrind", d.Valgrind)

	v.SetDefault("watchdog.startup_timeout", d.Watchdog.StartupTimeout)
	v.SetDefault("watchdog.startup_interval", d.Watchdog.StartupInterval)
	v.SetDefault("watchdog.live_interval", d.Watchdog.LiveInterval)
	v.SetDefault("watchdog.max_failures", d.Watchdog.MaxFailures)
	v.SetDefault("watchdog.tail_lines", d.Watchdog.TailLines)
	v.SetDefault("watchdog.probe_timeout", d.Watchdog.ProbeTimeout)
	v.SetDefault("watchdog.grpc_probe", false)
	v.SetDefault("watchdog.controller_startup_timeout", d.Watchdog.ControllerStartupTimeout)

	v.SetDefault("controller.ip", "")
	v.SetDefault("controller.port", netcfg.DefaultRESTPort)
	v.SetDefault("controller.username", netcfg.DefaultUsername)
	v.SetDefault("controller.password", netcfg.DefaultPassword)
	v.SetDefault("controller.push", true)
	v.SetDefault("controller.status_command", []string{})
	v.SetDefault("controller.query_command", []string{})
	v.SetDefault("controller.query_expect", "")
	v.SetDefault("controller.step_interval", watchdog.DefaultStepInterval)

	v.SetDefault("membership.seed", membership.DefaultSeed)
	v.SetDefault("membership.replication", membership.DefaultReplication)
	v.SetDefault("membership.partitions", 0)

	exes := cluster.DefaultExecutables()
	v.SetDefault("bmv2.exe", exes[node.TargetBMv2])
	v.SetDefault("stratum.exe", exes[node.TargetStratum])
	v.SetDefault("onos.exe", exes[node.TargetONOS])
	v.SetDefault("onos.root", "")

	v.SetDefault("metrics.port", 0)
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.exporter", "stdout")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// ClusterConfig converts the configuration into a supervisor configuration.
func (c *Config) ClusterConfig() cluster.Config {
	return cluster.Config{
		Name:         c.Cluster.Name,
		Layout:       launcher.Layout{Dir: c.Runtime.Dir},
		KeepFiles:    c.Runtime.KeepFiles,
		GracePeriod:  c.Launcher.GracePeriod,
		RestartDelay: c.Launcher.RestartDelay,
		Valgrind:     c.Launcher.Valgrind,
		ONOSRoot:     c.ONOS.Root,
		Executables: map[node.Target]string{
			node.TargetBMv2:    c.BMv2.Exe,
			node.TargetStratum: c.Stratum.Exe,
			node.TargetONOS:    c.ONOS.Exe,
		},
		Watchdog: cluster.WatchdogConfig{
			StartupTimeout:           c.Watchdog.StartupTimeout,
			StartupInterval:          c.Watchdog.StartupInterval,
			LiveInterval:             c.Watchdog.LiveInterval,
			MaxFailures:              c.Watchdog.MaxFailures,
			TailLines:                c.Watchdog.TailLines,
			ProbeTimeout:             c.Watchdog.ProbeTimeout,
			GRPCProbe:                c.Watchdog.GRPCProbe,
			ControllerStartupTimeout: c.Watchdog.ControllerStartupTimeout,
		},
		Membership: membership.Options{
			Seed:        c.Membership.Seed,
			Replication: c.Membership.Replication,
			Partitions:  c.Membership.Partitions,
		},
		Controller: cluster.ControllerConfig{
			IP:            c.Controller.IP,
			Port:          c.Controller.Port,
			Username:      c.Controller.Username,
			Password:      c.Controller.Password,
			Push:          c.Controller.Push,
			StatusCommand: c.Controller.StatusCommand,
			QueryCommand:  c.Controller.QueryCommand,
			QueryExpect:   c.Controller.QueryExpect,
			StepInterval:  c.Controller.StepInterval,
		},
	}
}
