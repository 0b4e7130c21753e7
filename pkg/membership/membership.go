// Package membership generates the cluster membership file read by
// controller instances at startup.
//
// The artifact is a pure function of the member list and options: the same
// input always produces byte-identical output.
package membership

import (
	"bytes"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
)

// Defaults.
const (
	DefaultSeed        = "onos"
	DefaultReplication = 3
	DefaultPort        = 9876
)

// Member is one controller instance.
type Member struct {
	ID   string `json:"id"`
	IP   string `json:"ip"`
	Port int    `json:"port"`
}

// Partition is a replica group of members.
type Partition struct {
	ID      int      `json:"id"`
	Members []string `json:"members"`
}

// Config is the serialized membership.
type Config struct {
	Name       int64       `json:"name"`
	Nodes      []Member    `json:"nodes"`
	Partitions []Partition `json:"partitions"`
}

// Options tune generation.
type Options struct {
	// Seed is hashed into the numeric cluster name
	Seed string
	// Replication is the partition size k
	Replication int
	// Partitions is the partition count p; zero means one per member
	Partitions int
}

// DefaultOptions returns the default options
func DefaultOptions() Options {
	return Options{Seed: DefaultSeed, Replication: DefaultReplication}
}

// Artifact is a generated membership file.
type Artifact struct {
	Config Config
	data   []byte
}

// ClusterName derives the numeric cluster name from a seed.
func ClusterName(seed string) int64 {
	return int64(crc32.ChecksumIEEE([]byte(seed)))
}

// Partitions builds p partitions of k members each. The member list is
// treated as a deque: each partition takes the first k ids, then the deque is
// rotated left by one. Partition ids start at 1.
func Partitions(ids []string, k, p int) []Partition {
	n := len(ids)
	if n == 0 || p <= 0 {
		return nil
	}
	if k <= 0 || k > n {
		k = n
	}

	partitions := make([]Partition, 0, p)
	for i := 0; i < p; i++ {
		members := make([]string, k)
		for j := 0; j < k; j++ {
			members[j] = ids[(i+j)%n]
		}
		partitions = append(partitions, Partition{ID: i + 1, Members: members})
	}
	return partitions
}

// Generate builds the membership of members in the given order.
func Generate(members []Member, opts Options) (*Artifact, error) {
	if len(members) == 0 {
		return nil, fmt.Errorf("membership needs at least one member")
	}

	seen := make(map[string]bool, len(members))
	ids := make([]string, 0, len(members))
	for _, m := range members {
		if m.ID == "" {
			return nil, fmt.Errorf("member with ip %s has no id", m.IP)
		}
		if seen[m.ID] {
			return nil, fmt.Errorf("duplicate member id %q", m.ID)
		}
		seen[m.ID] = true
		ids = append(ids, m.ID)
	}

	seed := opts.Seed
	if seed == "" {
		seed = DefaultSeed
	}
	k := opts.Replication
	if k <= 0 {
		k = DefaultReplication
	}
	p := opts.Partitions
	if p <= 0 {
		p = len(members)
	}

	cfg := Config{
		Name:       ClusterName(seed),
		Nodes:      append([]Member(nil), members...),
		Partitions: Partitions(ids, k, p),
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode membership: %w", err)
	}
	data = append(data, '\n')

	return &Artifact{Config: cfg, data: data}, nil
}

// Bytes returns the serialized artifact
func (a *Artifact) Bytes() []byte {
	return a.data
}

// Equal reports whether two artifacts serialize identically
func (a *Artifact) Equal(b *Artifact) bool {
	return a != nil && b != nil && bytes.Equal(a.data, b.data)
}

// WriteFile writes the artifact atomically, creating parent directories.
func (a *Artifact) WriteFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".cluster-*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(a.data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename to %s: %w", path, err)
	}
	return nil
}

// Load reads a membership file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read membership: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse membership %s: %w", path, err)
	}
	return &cfg, nil
}
