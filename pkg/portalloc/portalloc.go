// Package portalloc picks unused local TCP ports.
//
// Allocation is best-effort: a port is bound, read back and released, so
// another process may claim it before the child binds it. Allocator adds an
// in-process reserved set so the same supervisor never hands a port out twice.
package portalloc

import (
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"sync"
)

var (
	// ErrPortInUse is returned by CheckFree when something already listens on the port
	ErrPortInUse = errors.New("port in use")
	// ErrPortReserved is returned when a port is already held by this allocator
	ErrPortReserved = errors.New("port already reserved")
)

// DefaultHost is the address probed for allocation.
const DefaultHost = "127.0.0.1"

// maxSkips bounds how many kernel-returned ports may be skipped because this
// allocator already handed them out.
const maxSkips = 32

// Allocate binds an ephemeral port on the loopback interface, releases it and
// returns the number. A bind failure is returned as is.
func Allocate() (int, error) {
	return allocate(DefaultHost)
}

func allocate(host string) (int, error) {
	l, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return 0, fmt.Errorf("bind ephemeral port: %w", err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	if err := l.Close(); err != nil {
		return 0, fmt.Errorf("release port %d: %w", port, err)
	}
	return port, nil
}

// CheckFree reports whether a pinned port can currently be bound on all
// interfaces.
func CheckFree(port int) error {
	l, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(port)))
	if err != nil {
		return fmt.Errorf("%w: %d: %v", ErrPortInUse, port, err)
	}
	return l.Close()
}

// Allocator hands out ports and remembers them until released.
type Allocator struct {
	mu       sync.Mutex
	host     string
	pick     func(host string) (int, error)
	reserved map[int]string
}

// NewAllocator creates an allocator probing DefaultHost.
func NewAllocator() *Allocator {
	return &Allocator{
		host:     DefaultHost,
		pick:     allocate,
		reserved: make(map[int]string),
	}
}

// Allocate returns a port that this allocator has not handed out before.
func (a *Allocator) Allocate(owner string) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i := 0; i < maxSkips; i++ {
		port, err := a.pick(a.host)
		if err != nil {
			return 0, err
		}
		if _, taken := a.reserved[port]; taken {
			continue
		}
		a.reserved[port] = owner
		return port, nil
	}
	return 0, fmt.Errorf("no unreserved port after %d attempts", maxSkips)
}

// AllocateN allocates n distinct ports for owner.
func (a *Allocator) AllocateN(owner string, n int) ([]int, error) {
	ports := make([]int, 0, n)
	for i := 0; i < n; i++ {
		port, err := a.Allocate(owner)
		if err != nil {
			a.Release(ports...)
			return nil, err
		}
		ports = append(ports, port)
	}
	return ports, nil
}

// Reserve records a pinned port for owner. It fails if another owner holds it.
func (a *Allocator) Reserve(owner string, port int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if holder, taken := a.reserved[port]; taken && holder != owner {
		return fmt.Errorf("%w: %d held by %s", ErrPortReserved, port, holder)
	}
	a.reserved[port] = owner
	return nil
}

// Owner returns who holds a port.
func (a *Allocator) Owner(port int) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	owner, ok := a.reserved[port]
	return owner, ok
}

// Release forgets the given ports.
func (a *Allocator) Release(ports ...int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, p := range ports {
		delete(a.reserved, p)
	}
}

// Resolve turns a set of port requests into concrete ports. Pinned requests
// (non-zero) are reserved as given; the others are allocated. On error every
// port taken by this call is released again.
func (a *Allocator) Resolve(owner string, requests map[string]int) (map[string]int, error) {
	names := make([]string, 0, len(requests))
	for name := range requests {
		names = append(names, name)
	}
	sort.Strings(names)

	resolved := make(map[string]int, len(requests))
	var taken []int
	for _, name := range names {
		port := requests[name]
		if port > 0 {
			if err := a.Reserve(owner, port); err != nil {
				a.Release(taken...)
				return nil, fmt.Errorf("port %s: %w", name, err)
			}
		} else {
			var err error
			port, err = a.Allocate(owner)
			if err != nil {
				a.Release(taken...)
				return nil, fmt.Errorf("port %s: %w", name, err)
			}
		}
		taken = append(taken, port)
		resolved[name] = port
	}
	return resolved, nil
}

// Request is the set of named ports one owner asks for. Zero means allocate.
type Request struct {
	Owner string
	Ports map[string]int
}

// ResolveAll resolves the requests of several owners as one batch. The pinned
// ports of every owner are reserved before any port is allocated, so an
// allocation never takes a port pinned by a later owner. Errors are reported
// per owner and a failed owner holds no ports.
func (a *Allocator) ResolveAll(reqs []Request) ([]map[string]int, []error) {
	resolved := make([]map[string]int, len(reqs))
	errs := make([]error, len(reqs))

	for i, r := range reqs {
		pinned := make(map[string]int)
		for name, port := range r.Ports {
			if port > 0 {
				pinned[name] = port
			}
		}
		if len(pinned) == 0 {
			continue
		}
		if _, err := a.Resolve(r.Owner, pinned); err != nil {
			errs[i] = err
		}
	}

	for i, r := range reqs {
		if errs[i] != nil {
			continue
		}
		resolved[i], errs[i] = a.Resolve(r.Owner, r.Ports)
	}
	return resolved, errs
}
