package cluster

import (
	"context"
	"errors"
	"sync"
)

type failingNetwork struct{}

func (failingNetwork) Build(ctx context.Context, specs []NodeSpec) error {
	return errors.New("bridge br0 exists")
}
func (failingNetwork) Teardown(ctx context.Context) error { return nil }
func (failingNetwork) NodeIP(name string) string          { return "127.0.0.1" }

type recordingNetwork struct {
	mu        sync.Mutex
	builds    int
	teardowns int
}

func (n *recordingNetwork) Build(ctx context.Context, specs []NodeSpec) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.builds++
	return nil
}

func (n *recordingNetwork) Teardown(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.teardowns++
	return nil
}

func (n *recordingNetwork) NodeIP(name string) string { return "127.0.0.1" }

type rule struct {
	hostPort int
	ip       string
	port     int
}

type recordingForwarder struct {
	mu      sync.Mutex
	rules   []rule
	removed []rule
}

func (f *recordingForwarder) Install(ctx context.Context, hostPort int, ip string, port int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = append(f.rules, rule{hostPort, ip, port})
	return nil
}

func (f *recordingForwarder) Remove(ctx context.Context, hostPort int, ip string, port int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, rule{hostPort, ip, port})
	return nil
}

func (f *recordingForwarder) installed() []rule {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]rule(nil), f.rules...)
}

func (f *recordingForwarder) removedRules() []rule {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]rule(nil), f.removed...)
}
