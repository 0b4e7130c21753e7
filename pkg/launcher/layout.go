package launcher

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultRuntimeDir is where node logs and sentinels go when no directory is configured.
const DefaultRuntimeDir = "/tmp"

// Layout maps node names onto runtime files under a single directory.
type Layout struct {
	Dir string
}

// Paths are the runtime files of one node.
type Paths struct {
	Log      string
	Sentinel string
	Netcfg   string
	WorkDir  string
}

// For returns the paths of the node name with the given prefix.
//
// Example:
//
//	Layout{Dir: "/tmp"}.For("bmv2", "s1").Log == "/tmp/bmv2-s1-log"
func (l Layout) For(prefix, name string) Paths {
	dir := l.Dir
	if dir == "" {
		dir = DefaultRuntimeDir
	}
	base := filepath.Join(dir, fmt.Sprintf("%s-%s", prefix, name))
	return Paths{
		Log:      base + "-log",
		Sentinel: base + "-keepalive",
		Netcfg:   base + "-netcfg.json",
		WorkDir:  base,
	}
}

// MembershipPath is the shared membership artifact of a cluster.
func (l Layout) MembershipPath(cluster string) string {
	dir := l.Dir
	if dir == "" {
		dir = DefaultRuntimeDir
	}
	if cluster == "" {
		cluster = "default"
	}
	return filepath.Join(dir, cluster+"-cluster.json")
}

// ClusterConfigPath is where a controller reads its membership from.
func (p Paths) ClusterConfigPath() string {
	return filepath.Join(p.WorkDir, "config", "cluster.json")
}

// Files lists the per-node files, excluding the working directory.
func (p Paths) Files() []string {
	return []string{p.Log, p.Sentinel, p.Netcfg}
}

// Remove deletes the per-node files and the working directory. Missing files
// are not an error.
func (p Paths) Remove() error {
	var errs []error
	for _, f := range p.Files() {
		if err := os.Remove(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	if err := os.RemoveAll(p.WorkDir); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
