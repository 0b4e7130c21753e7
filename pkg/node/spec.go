// Package node defines the immutable description of one supervised element:
// a software switch or a clustered controller instance.
package node

import (
	"fmt"
	"sort"
	"strings"
)

// Kind tags what a node is. It is checked by value, never by type identity.
type Kind int

const (
	// KindSwitch is a software switch (BMv2 or Stratum)
	KindSwitch Kind = iota
	// KindController is a clustered controller instance
	KindController
)

// String returns the string representation of a Kind
func (k Kind) String() string {
	switch k {
	case KindSwitch:
		return "switch"
	case KindController:
		return "controller"
	default:
		return "unknown"
	}
}

// Target identifies the binary family a node runs.
type Target string

const (
	TargetBMv2    Target = "bmv2"
	TargetStratum Target = "stratum"
	TargetONOS    Target = "onos"
)

// Kind returns the node kind a target belongs to.
func (t Target) Kind() Kind {
	if t == TargetONOS {
		return KindController
	}
	return KindSwitch
}

// ParseTarget parses a target name.
func ParseTarget(s string) (Target, error) {
	switch t := Target(strings.ToLower(strings.TrimSpace(s))); t {
	case TargetBMv2, TargetStratum, TargetONOS:
		return t, nil
	case "":
		return "", fmt.Errorf("target is required")
	default:
		return "", fmt.Errorf("unknown target %q (must be bmv2, stratum or onos)", s)
	}
}

// Well-known port request names.
const (
	PortGRPC     = "grpc"
	PortThrift   = "thrift"
	PortLocal    = "local"
	PortCluster  = "cluster"
	PortREST     = "rest"
	PortSSH      = "ssh"
	PortOpenFlow = "openflow"
)

// DefaultCPUPort is the CPU port used by BMv2 and Stratum when none is set.
const DefaultCPUPort = 255

// Spec is the configuration of one supervised element. A Spec is created when
// the cluster is declared and is passed by value; use Clone before handing a
// copy to code that may keep it.
type Spec struct {
	Name       string
	ID         int
	Kind       Kind
	Target     Target
	Executable string
	LogLevel   string

	Debug      bool
	PacketDump bool
	Valgrind   bool
	Persistent bool

	// Ports maps a port name to a pinned port. Zero means allocate at start.
	Ports map[string]int
	// Interfaces maps a data-plane port number to an interface name.
	Interfaces map[int]string

	PipelineJSON string
	Pipeconf     string
	Driver       string
	CPUPort      int

	Latitude  *float64
	Longitude *float64

	Apps []string
	Env  map[string]string

	Cluster string
}

// Validate checks that the spec is usable.
func (s Spec) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if strings.ContainsAny(s.Name, "/ \t") {
		return fmt.Errorf("node %s: name must not contain slashes or spaces", s.Name)
	}
	if s.ID < 0 {
		return fmt.Errorf("node %s: id must not be negative, got %d", s.Name, s.ID)
	}
	if _, err := ParseTarget(string(s.Target)); err != nil {
		return fmt.Errorf("node %s: %w", s.Name, err)
	}
	if s.Target.Kind() != s.Kind {
		return fmt.Errorf("node %s: target %s is not a %s", s.Name, s.Target, s.Kind)
	}
	if s.Executable == "" {
		return fmt.Errorf("node %s: executable is required", s.Name)
	}
	for name, port := range s.Ports {
		if port < 0 || port > 65535 {
			return fmt.Errorf("node %s: port %s must be between 0 and 65535, got %d", s.Name, name, port)
		}
	}
	return nil
}

// Clone returns a deep copy of the spec.
func (s Spec) Clone() Spec {
	c := s
	if s.Ports != nil {
		c.Ports = make(map[string]int, len(s.Ports))
		for k, v := range s.Ports {
			c.Ports[k] = v
		}
	}
	if s.Interfaces != nil {
		c.Interfaces = make(map[int]string, len(s.Interfaces))
		for k, v := range s.Interfaces {
			c.Interfaces[k] = v
		}
	}
	if s.Env != nil {
		c.Env = make(map[string]string, len(s.Env))
		for k, v := range s.Env {
			c.Env[k] = v
		}
	}
	c.Apps = append([]string(nil), s.Apps...)
	return c
}

// DefaultPortNames returns the ports a target always needs.
func DefaultPortNames(t Target) []string {
	switch t {
	case TargetBMv2:
		return []string{PortGRPC, PortThrift}
	case TargetStratum:
		return []string{PortGRPC, PortLocal}
	case TargetONOS:
		return []string{PortCluster, PortREST, PortSSH, PortOpenFlow}
	default:
		return nil
	}
}

// PortRequests merges the target's default ports with the pinned ports of
// the spec. Unpinned entries are zero.
func (s Spec) PortRequests() map[string]int {
	req := make(map[string]int)
	for _, name := range DefaultPortNames(s.Target) {
		req[name] = 0
	}
	for name, port := range s.Ports {
		req[name] = port
	}
	return req
}

// PinnedPorts returns the explicitly pinned ports, sorted by name.
func (s Spec) PinnedPorts() []NamedPort {
	var pinned []NamedPort
	for name, port := range s.Ports {
		if port > 0 {
			pinned = append(pinned, NamedPort{Name: name, Port: port})
		}
	}
	sort.Slice(pinned, func(i, j int) bool { return pinned[i].Name < pinned[j].Name })
	return pinned
}

// NamedPort is a resolved (name, port) binding.
type NamedPort struct {
	Name string
	Port int
}

// PrimaryPort names the port whose reachability means the node is live.
func (s Spec) PrimaryPort() string {
	if s.Kind == KindController {
		return PortREST
	}
	return PortGRPC
}

// Prefix is the file-name prefix used for this node's runtime files.
func (s Spec) Prefix() string {
	return string(s.Target)
}

// DeviceKey is the controller-side device identifier of a switch.
func (s Spec) DeviceKey() string {
	return fmt.Sprintf("device:%s:%s", s.Target, s.Name)
}

// EffectiveCPUPort returns the CPU port, falling back to DefaultCPUPort.
func (s Spec) EffectiveCPUPort() int {
	if s.CPUPort > 0 {
		return s.CPUPort
	}
	return DefaultCPUPort
}

// SortedInterfaces returns the interface map ordered by port number.
func (s Spec) SortedInterfaces() []Interface {
	ifaces := make([]Interface, 0, len(s.Interfaces))
	for port, name := range s.Interfaces {
		ifaces = append(ifaces, Interface{Port: port, Name: name})
	}
	sort.Slice(ifaces, func(i, j int) bool { return ifaces[i].Port < ifaces[j].Port })
	return ifaces
}

// Interface binds a data-plane port number to a virtual interface.
type Interface struct {
	Port int
	Name string
}
