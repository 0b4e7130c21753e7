package launcher

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/jrepp/nodesup/pkg/node"
)

// Environment variables set on every launched node.
const (
	EnvNodeName = "NODE_NAME"
	EnvRunID    = "NODESUP_RUN_ID"
	// EnvPortPrefix is followed by the upper-cased port name, e.g. NODE_PORT_GRPC
	EnvPortPrefix = "NODE_PORT_"
)

// Command is a fully resolved child invocation.
type Command struct {
	Node    string
	Path    string
	Args    []string
	Env     map[string]string
	Dir     string
	LogPath string

	// Files are written before the process starts, keyed by absolute path.
	Files map[string][]byte
}

// Argv returns the path followed by the arguments.
func (c *Command) Argv() []string {
	return append([]string{c.Path}, c.Args...)
}

// Environ returns the parent environment with the command's variables
// appended in a stable order.
func (c *Command) Environ() []string {
	env := os.Environ()
	keys := make([]string, 0, len(c.Env))
	for k := range c.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, fmt.Sprintf("%s=%s", k, c.Env[k]))
	}
	return env
}

// Input is everything a builder needs to produce a Command.
type Input struct {
	Spec  node.Spec
	IP    string
	Ports map[string]int
	Paths Paths
}

func (in Input) port(name string) (int, error) {
	p, ok := in.Ports[name]
	if !ok || p <= 0 {
		return 0, ErrMissingPort(in.Spec.Name, name)
	}
	return p, nil
}

// ArgvBuilder turns a node description into a Command for one target.
type ArgvBuilder interface {
	Build(in Input) (*Command, error)
}

// BuilderOptions are shared by the target builders.
type BuilderOptions struct {
	// Valgrind is the wrapper executable used when a spec asks for it
	Valgrind string
	// ONOSRoot is exported to controllers as ONOS_ROOT when set
	ONOSRoot string
}

// BuilderFor returns the builder of a target.
func BuilderFor(t node.Target, opts BuilderOptions) (ArgvBuilder, error) {
	switch t {
	case node.TargetBMv2:
		return &BMv2Builder{Valgrind: opts.Valgrind}, nil
	case node.TargetStratum:
		return &StratumBuilder{Valgrind: opts.Valgrind}, nil
	case node.TargetONOS:
		return &ControllerBuilder{ONOSRoot: opts.ONOSRoot}, nil
	default:
		return nil, fmt.Errorf("no argv builder for target %q", t)
	}
}

// Args accumulates an argument vector.
//
// Usage:
//
//	args := NewArgs().
//	    Flag("--device-id", 1).
//	    AddIf(debug, "--debugger").
//	    Separator().
//	    Flag("--cpu-port", 255).
//	    Slice()
type Args struct {
	args []string
}

// NewArgs creates an empty argument vector.
func NewArgs() *Args {
	return &Args{}
}

// Add appends raw arguments.
func (a *Args) Add(args ...string) *Args {
	a.args = append(a.args, args...)
	return a
}

// AddIf appends raw arguments when cond is true.
func (a *Args) AddIf(cond bool, args ...string) *Args {
	if cond {
		a.args = append(a.args, args...)
	}
	return a
}

// Flag appends a flag and its value as two arguments.
func (a *Args) Flag(name string, value interface{}) *Args {
	a.args = append(a.args, name, fmt.Sprint(value))
	return a
}

// FlagEq appends a single name=value argument.
func (a *Args) FlagEq(name string, value interface{}) *Args {
	a.args = append(a.args, fmt.Sprintf("%s=%v", name, value))
	return a
}

// Separator appends "--", after which target-specific options follow.
func (a *Args) Separator() *Args {
	a.args = append(a.args, "--")
	return a
}

// Slice returns a copy of the accumulated arguments.
func (a *Args) Slice() []string {
	return append([]string(nil), a.args...)
}

// baseEnv exports the node name, the resolved ports and the spec's own
// environment, which wins on conflict.
func baseEnv(in Input) map[string]string {
	env := map[string]string{EnvNodeName: in.Spec.Name}
	for name, port := range in.Ports {
		key := EnvPortPrefix + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
		env[key] = strconv.Itoa(port)
	}
	for k, v := range in.Spec.Env {
		env[k] = v
	}
	return env
}

func logLevel(spec node.Spec) string {
	if spec.LogLevel == "" {
		return "warn"
	}
	return spec.LogLevel
}

// wrapValgrind runs the command under valgrind when the spec asks for it.
func wrapValgrind(cmd *Command, spec node.Spec, valgrind string) {
	if !spec.Valgrind {
		return
	}
	if valgrind == "" {
		valgrind = "valgrind"
	}
	args := []string{"--leak-check=full", "--log-file=" + cmd.LogPath + ".valgrind", cmd.Path}
	cmd.Args = append(args, cmd.Args...)
	cmd.Path = valgrind
}

// BMv2Builder builds simple_switch_grpc command lines.
type BMv2Builder struct {
	Valgrind string
}

// Build implements ArgvBuilder.
func (b *BMv2Builder) Build(in Input) (*Command, error) {
	spec := in.Spec
	grpcPort, err := in.port(node.PortGRPC)
	if err != nil {
		return nil, err
	}
	thriftPort, err := in.port(node.PortThrift)
	if err != nil {
		return nil, err
	}

	args := NewArgs()
	for _, iface := range spec.SortedInterfaces() {
		args.Add("-i", fmt.Sprintf("%d@%s", iface.Port, iface.Name))
	}
	args.Flag("--device-id", spec.ID).
		Flag("--thrift-port", thriftPort).
		Flag("--notifications-addr", "ipc://"+filepath.Join(in.Paths.WorkDir, "notifications.ipc")).
		AddIf(spec.PacketDump, "--pcap", in.Paths.WorkDir, "--dump-packet-data", "64").
		AddIf(spec.Debug, "--debugger").
		Add("--log-console").
		Flag("-L", logLevel(spec))
	if spec.PipelineJSON != "" {
		args.Add(spec.PipelineJSON)
	} else {
		args.Add("--no-p4")
	}
	args.Separator().
		Flag("--cpu-port", spec.EffectiveCPUPort()).
		Flag("--grpc-server-addr", fmt.Sprintf("0.0.0.0:%d", grpcPort))

	cmd := &Command{
		Node:    spec.Name,
		Path:    spec.Executable,
		Args:    args.Slice(),
		Env:     baseEnv(in),
		Dir:     in.Paths.WorkDir,
		LogPath: in.Paths.Log,
	}
	wrapValgrind(cmd, spec, b.Valgrind)
	return cmd, nil
}

// StratumBuilder builds stratum_bmv2 command lines and their chassis config.
type StratumBuilder struct {
	Valgrind string
}

// Build implements ArgvBuilder.
func (b *StratumBuilder) Build(in Input) (*Command, error) {
	spec := in.Spec
	grpcPort, err := in.port(node.PortGRPC)
	if err != nil {
		return nil, err
	}
	localPort, err := in.port(node.PortLocal)
	if err != nil {
		return nil, err
	}

	chassisPath := filepath.Join(in.Paths.WorkDir, "chassis-config.txt")
	pipeline := spec.PipelineJSON
	if pipeline == "" {
		pipeline = filepath.Join(in.Paths.WorkDir, "dummy.json")
	}

	args := NewArgs().
		FlagEq("-device_id", spec.ID).
		FlagEq("-chassis_config_file", chassisPath).
		FlagEq("-forwarding_pipeline_configs_file", "/dev/null").
		FlagEq("-persistent_config_dir", in.Paths.WorkDir).
		FlagEq("-initial_pipeline", pipeline).
		FlagEq("-cpu_port", spec.EffectiveCPUPort()).
		FlagEq("-external_stratum_urls", fmt.Sprintf("0.0.0.0:%d", grpcPort)).
		FlagEq("-local_stratum_url", fmt.Sprintf("localhost:%d", localPort)).
		FlagEq("-max_num_controllers_per_node", 10).
		FlagEq("-write_req_log_file", filepath.Join(in.Paths.WorkDir, "write-reqs.txt")).
		FlagEq("-bmv2_log_level", logLevel(spec))

	files := map[string][]byte{chassisPath: []byte(ChassisConfig(spec))}
	if spec.PipelineJSON == "" {
		files[pipeline] = []byte("{}\n")
	}

	cmd := &Command{
		Node:    spec.Name,
		Path:    spec.Executable,
		Args:    args.Slice(),
		Env:     baseEnv(in),
		Dir:     in.Paths.WorkDir,
		LogPath: in.Paths.Log,
		Files:   files,
	}
	wrapValgrind(cmd, spec, b.Valgrind)
	return cmd, nil
}

// ChassisConfig renders the text-format chassis config for a Stratum switch.
func ChassisConfig(spec node.Spec) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "description: \"stratum_bmv2 %s\"\n", spec.Name)
	fmt.Fprintf(&sb, "chassis {\n  platform: PLT_P4_SOFT_SWITCH\n  name: %q\n}\n", spec.Name)
	fmt.Fprintf(&sb, "nodes {\n  id: %d\n  name: \"%s node %d\"\n  slot: 1\n  index: 1\n}\n", spec.ID, spec.Name, spec.ID)
	for _, iface := range spec.SortedInterfaces() {
		fmt.Fprintf(&sb, "singleton_ports {\n")
		fmt.Fprintf(&sb, "  id: %d\n  name: %q\n  slot: 1\n  port: %d\n  channel: 1\n", iface.Port, iface.Name, iface.Port)
		fmt.Fprintf(&sb, "  speed_bps: 10000000000\n")
		fmt.Fprintf(&sb, "  config_params {\n    admin_state: ADMIN_STATE_ENABLED\n  }\n")
		fmt.Fprintf(&sb, "  node: %d\n}\n", spec.ID)
	}
	return sb.String()
}

// ControllerBuilder builds controller (Karaf) command lines.
type ControllerBuilder struct {
	ONOSRoot string
}

// Build implements ArgvBuilder.
func (b *ControllerBuilder) Build(in Input) (*Command, error) {
	spec := in.Spec
	if _, err := in.port(spec.PrimaryPort()); err != nil {
		return nil, err
	}

	args := NewArgs().
		AddIf(spec.Debug, "debug").
		Add("server")

	env := baseEnv(in)
	env["ONOS_HOME"] = in.Paths.WorkDir
	env["ONOS_IP"] = in.IP
	if len(spec.Apps) > 0 {
		env["ONOS_APPS"] = strings.Join(spec.Apps, ",")
	}
	if b.ONOSRoot != "" {
		env["ONOS_ROOT"] = b.ONOSRoot
	}
	for k, v := range spec.Env {
		env[k] = v
	}

	return &Command{
		Node:    spec.Name,
		Path:    spec.Executable,
		Args:    args.Slice(),
		Env:     env,
		Dir:     in.Paths.WorkDir,
		LogPath: in.Paths.Log,
	}, nil
}
