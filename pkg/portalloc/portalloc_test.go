package portalloc

import (
	"errors"
	"net"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocate_ReturnsBindablePort(t *testing.T) {
	port, err := Allocate()
	require.NoError(t, err)
	assert.Greater(t, port, 0)

	l, err := net.Listen("tcp", net.JoinHostPort(DefaultHost, strconv.Itoa(port)))
	require.NoError(t, err)
	l.Close()
}

func TestAllocator_SequentialPortsAreDistinct(t *testing.T) {
	a := NewAllocator()

	const k = 50
	ports, err := a.AllocateN("node", k)
	require.NoError(t, err)
	require.Len(t, ports, k)

	seen := make(map[int]bool)
	for _, p := range ports {
		assert.False(t, seen[p], "port %d returned twice", p)
		seen[p] = true
	}
}

func TestCheckFree(t *testing.T) {
	l, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	defer l.Close()
	busy := l.Addr().(*net.TCPAddr).Port

	err = CheckFree(busy)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPortInUse))

	free, err := Allocate()
	require.NoError(t, err)
	assert.NoError(t, CheckFree(free))
}

func TestAllocator_Reserve(t *testing.T) {
	a := NewAllocator()

	require.NoError(t, a.Reserve("s1", 50001))
	require.NoError(t, a.Reserve("s1", 50001), "same owner may reserve twice")

	err := a.Reserve("s2", 50001)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPortReserved))
	assert.Contains(t, err.Error(), "held by s1")

	owner, ok := a.Owner(50001)
	assert.True(t, ok)
	assert.Equal(t, "s1", owner)

	a.Release(50001)
	assert.NoError(t, a.Reserve("s2", 50001))
}

func TestAllocator_Resolve(t *testing.T) {
	a := NewAllocator()

	ports, err := a.Resolve("s1", map[string]int{"grpc": 0, "thrift": 0, "pinned": 40123})
	require.NoError(t, err)
	assert.Equal(t, 40123, ports["pinned"])
	assert.NotZero(t, ports["grpc"])
	assert.NotZero(t, ports["thrift"])
	assert.NotEqual(t, ports["grpc"], ports["thrift"])

	_, err = a.Resolve("s2", map[string]int{"grpc": 0, "pinned": 40123})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPortReserved))
}

func TestAllocator_ResolveAllReservesPinnedFirst(t *testing.T) {
	a := NewAllocator()
	next := []int{41001, 41002, 41003}
	a.pick = func(host string) (int, error) {
		port := next[0]
		next = next[1:]
		return port, nil
	}

	// The kernel would hand s1 the port s2 pins.
	ports, errs := a.ResolveAll([]Request{
		{Owner: "s1", Ports: map[string]int{"grpc": 0}},
		{Owner: "s2", Ports: map[string]int{"grpc": 41001}},
	})
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, 41002, ports[0]["grpc"])
	assert.Equal(t, 41001, ports[1]["grpc"])

	owner, ok := a.Owner(41001)
	require.True(t, ok)
	assert.Equal(t, "s2", owner)
}

func TestAllocator_ResolveAllConflict(t *testing.T) {
	a := NewAllocator()

	ports, errs := a.ResolveAll([]Request{
		{Owner: "s1", Ports: map[string]int{"grpc": 41101}},
		{Owner: "s2", Ports: map[string]int{"grpc": 41101, "thrift": 41102}},
	})
	require.NoError(t, errs[0])
	assert.Equal(t, 41101, ports[0]["grpc"])

	require.Error(t, errs[1])
	assert.True(t, errors.Is(errs[1], ErrPortReserved))
	assert.Nil(t, ports[1])

	_, held := a.Owner(41102)
	assert.False(t, held, "a failed owner keeps no ports")
}
