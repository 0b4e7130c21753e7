package cluster

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/jrepp/nodesup/pkg/node"
)

// Manifest describes a cluster in YAML.
//
// Example:
//
//	name: lab
//	controllers:
//	  - name: onos1
//	    executable: /opt/onos/bin/onos-service
//	switches:
//	  - name: s1
//	    target: stratum
//	    id: 1
//	    ports: {grpc: 50001}
//	forwards:
//	  - {host_port: 8181, node: onos1, port: rest}
type Manifest struct {
	Name        string         `yaml:"name"`
	Controllers []ManifestNode `yaml:"controllers"`
	Switches    []ManifestNode `yaml:"switches"`
	Forwards    []Forward      `yaml:"forwards"`
	Network     *ManifestNet   `yaml:"network,omitempty"`
}

// ManifestNode is one node entry of a manifest.
type ManifestNode struct {
	Name       string            `yaml:"name"`
	ID         int               `yaml:"id"`
	Target     string            `yaml:"target"`
	Executable string            `yaml:"executable"`
	LogLevel   string            `yaml:"log_level"`
	Debug      bool              `yaml:"debug"`
	PacketDump bool              `yaml:"packet_dump"`
	Valgrind   bool              `yaml:"valgrind"`
	Persistent bool              `yaml:"persistent"`
	Ports      map[string]int    `yaml:"ports"`
	Interfaces map[int]string    `yaml:"interfaces"`
	Pipeline   string            `yaml:"pipeline_json"`
	Pipeconf   string            `yaml:"pipeconf"`
	Driver     string            `yaml:"driver"`
	CPUPort    int               `yaml:"cpu_port"`
	Latitude   *float64          `yaml:"latitude"`
	Longitude  *float64          `yaml:"longitude"`
	Apps       []string          `yaml:"apps"`
	Env        map[string]string `yaml:"env"`
}

// ManifestNet configures a CommandNetwork.
type ManifestNet struct {
	Setup     []string          `yaml:"setup"`
	Attach    []string          `yaml:"attach"`
	Destroy   []string          `yaml:"destroy"`
	Addresses map[string]string `yaml:"addresses"`
	DefaultIP string            `yaml:"default_ip"`
}

// LoadManifest reads and validates a manifest file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", filepath.Base(path), err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid manifest %s: %w", filepath.Base(path), err)
	}
	return &m, nil
}

// Validate checks the manifest and the node specs it describes.
func (m *Manifest) Validate() error {
	specs, err := m.Specs()
	if err != nil {
		return err
	}
	if len(specs) == 0 {
		return fmt.Errorf("manifest declares no nodes")
	}
	if err := validateSpecs(FillExecutables(specs, DefaultExecutables()), nil); err != nil {
		return err
	}

	names := make(map[string]bool, len(specs))
	for _, s := range specs {
		names[s.Name] = true
	}
	for _, f := range m.Forwards {
		if !names[f.Node] {
			return fmt.Errorf("forward of host port %d targets unknown node %q", f.HostPort, f.Node)
		}
		if f.HostPort <= 0 || f.HostPort > 65535 {
			return fmt.Errorf("forward to %s: invalid host port %d", f.Node, f.HostPort)
		}
		if f.Port == "" {
			return fmt.Errorf("forward to %s: port name is required", f.Node)
		}
	}
	return nil
}

// Specs converts the manifest into node specs, controllers first.
func (m *Manifest) Specs() ([]NodeSpec, error) {
	specs := make([]NodeSpec, 0, len(m.Controllers)+len(m.Switches))
	for _, n := range m.Controllers {
		if n.Target == "" {
			n.Target = string(node.TargetONOS)
		}
		s, err := n.spec(m.Name, node.KindController)
		if err != nil {
			return nil, err
		}
		specs = append(specs, s)
	}
	for _, n := range m.Switches {
		if n.Target == "" {
			n.Target = string(node.TargetBMv2)
		}
		s, err := n.spec(m.Name, node.KindSwitch)
		if err != nil {
			return nil, err
		}
		specs = append(specs, s)
	}
	return specs, nil
}

// CommandNetwork returns the network the manifest describes, or nil for the
// default loopback network.
func (m *Manifest) CommandNetwork() *CommandNetwork {
	if m.Network == nil {
		return nil
	}
	return &CommandNetwork{
		Setup:     m.Network.Setup,
		Attach:    m.Network.Attach,
		Destroy:   m.Network.Destroy,
		Addresses: m.Network.Addresses,
		DefaultIP: m.Network.DefaultIP,
	}
}

func (n ManifestNode) spec(cluster string, kind node.Kind) (NodeSpec, error) {
	target, err := node.ParseTarget(n.Target)
	if err != nil {
		return NodeSpec{}, fmt.Errorf("node %s: %w", n.Name, err)
	}
	if target.Kind() != kind {
		return NodeSpec{}, fmt.Errorf("node %s: target %s is not a %s", n.Name, target, kind)
	}

	return NodeSpec{
		Name:         n.Name,
		ID:           n.ID,
		Kind:         kind,
		Target:       target,
		Executable:   n.Executable,
		LogLevel:     n.LogLevel,
		Debug:        n.Debug,
		PacketDump:   n.PacketDump,
		Valgrind:     n.Valgrind,
		Persistent:   n.Persistent,
		Ports:        n.Ports,
		Interfaces:   n.Interfaces,
		PipelineJSON: n.Pipeline,
		Pipeconf:     n.Pipeconf,
		Driver:       n.Driver,
		CPUPort:      n.CPUPort,
		Latitude:     n.Latitude,
		Longitude:    n.Longitude,
		Apps:         n.Apps,
		Env:          n.Env,
		Cluster:      cluster,
	}, nil
}
