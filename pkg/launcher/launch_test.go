package launcher

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jrepp/nodesup/pkg/node"
	"github.com/jrepp/nodesup/pkg/portalloc"
	"github.com/jrepp/nodesup/pkg/testing/fakenode"
)

func TestMain(m *testing.M) {
	if fakenode.Enabled() {
		os.Exit(fakenode.Main(os.Args[1:]))
	}
	os.Exit(m.Run())
}

func selfExecutable(t *testing.T) string {
	t.Helper()
	exe, err := os.Executable()
	require.NoError(t, err)
	return exe
}

// fakeInput describes a bmv2 node backed by the fake node binary.
func fakeInput(t *testing.T, name string, env map[string]string) Input {
	t.Helper()
	grpcPort, err := portalloc.Allocate()
	require.NoError(t, err)
	thriftPort, err := portalloc.Allocate()
	require.NoError(t, err)

	return Input{
		Spec: node.Spec{
			Name:       name,
			ID:         1,
			Kind:       node.KindSwitch,
			Target:     node.TargetBMv2,
			Executable: selfExecutable(t),
			Env:        fakenode.Env(env),
		},
		IP:    "127.0.0.1",
		Ports: map[string]int{node.PortGRPC: grpcPort, node.PortThrift: thriftPort},
		Paths: Layout{Dir: t.TempDir()}.For("bmv2", name),
	}
}

func dialable(addr string) bool {
	conn, err := net.DialTimeout("tcp", addr, 200*time.Millisecond)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

func TestLaunch_StartAndStop(t *testing.T) {
	l := New(WithRunID("run-1"))
	in := fakeInput(t, "s1", nil)

	proc, err := l.Launch(context.Background(), in)
	require.NoError(t, err)
	require.IsType(t, &ProcessHandle{}, proc)
	assert.Greater(t, proc.PID(), 0)

	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(in.Ports[node.PortGRPC]))
	require.Eventually(t, func() bool { return dialable(addr) }, 5*time.Second, 50*time.Millisecond)

	require.NoError(t, proc.Stop(2*time.Second))
	select {
	case <-proc.Exited():
	case <-time.After(time.Second):
		t.Fatal("process did not exit")
	}
	assert.NoError(t, proc.Stop(time.Second), "second stop is a no-op")
	assert.True(t, proc.(*ProcessHandle).Stopped())

	data, err := os.ReadFile(in.Paths.Log)
	require.NoError(t, err)
	assert.Contains(t, string(data), "fakenode s1 starting")
	assert.Contains(t, string(data), "--grpc-server-addr")
	assert.DirExists(t, in.Paths.WorkDir)
}

func TestLaunch_ExitIsObserved(t *testing.T) {
	l := New()
	in := fakeInput(t, "s1", map[string]string{fakenode.EnvFail: "1"})

	proc, err := l.Launch(context.Background(), in)
	require.NoError(t, err)

	select {
	case <-proc.Exited():
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit")
	}
	h := proc.(*ProcessHandle)
	assert.Error(t, h.ExitErr())
	assert.False(t, h.Running())
	assert.False(t, h.Stopped())
}

func TestLaunch_KillAfterGrace(t *testing.T) {
	l := New()
	in := fakeInput(t, "s1", map[string]string{fakenode.EnvIgnoreTerm: "1"})

	proc, err := l.Launch(context.Background(), in)
	require.NoError(t, err)

	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(in.Ports[node.PortGRPC]))
	require.Eventually(t, func() bool { return dialable(addr) }, 5*time.Second, 50*time.Millisecond)

	start := time.Now()
	require.NoError(t, proc.Stop(300*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 300*time.Millisecond)

	data, err := os.ReadFile(in.Paths.Log)
	require.NoError(t, err)
	assert.Contains(t, string(data), "ignoring SIGTERM")
}

func TestLaunch_Kill(t *testing.T) {
	l := New()
	in := fakeInput(t, "s1", nil)

	proc, err := l.Launch(context.Background(), in)
	require.NoError(t, err)
	require.NoError(t, proc.Kill())
	assert.NoError(t, proc.Kill())

	select {
	case <-proc.Exited():
	default:
		t.Fatal("kill returned before the process was reaped")
	}
}

func TestLaunch_ExecutableNotFound(t *testing.T) {
	l := New()
	in := fakeInput(t, "s1", nil)
	in.Spec.Executable = "/nonexistent/simple_switch_grpc"

	_, err := l.Launch(context.Background(), in)
	require.Error(t, err)
	assert.True(t, IsStage(err, StageExec))
	assert.Contains(t, err.Error(), "executable not found")
}

func TestLaunch_LogDirMissing(t *testing.T) {
	l := New()
	in := fakeInput(t, "s1", nil)
	in.Paths.Log = filepath.Join(t.TempDir(), "missing", "dir", "bmv2-s1-log")

	_, err := l.Launch(context.Background(), in)
	require.Error(t, err)
	assert.True(t, IsStage(err, StageFS))
}

func TestLaunch_PinnedPortBusy(t *testing.T) {
	busy, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	defer busy.Close()
	port := busy.Addr().(*net.TCPAddr).Port

	l := New()
	in := fakeInput(t, "s2", nil)
	in.Spec.Ports = map[string]int{node.PortGRPC: port}
	in.Ports[node.PortGRPC] = port

	_, err = l.Launch(context.Background(), in)
	require.Error(t, err)
	assert.True(t, IsStage(err, StagePort))
}

func TestLaunch_RunIDInEnvironment(t *testing.T) {
	l := New(WithRunID("run-xyz"))
	cmd, err := l.Command(fakeInput(t, "s1", nil))
	require.NoError(t, err)

	h, err := l.Start(cmd)
	require.NoError(t, err)
	defer h.Kill()

	require.Eventually(t, func() bool {
		data, err := os.ReadFile(filepath.Join("/proc", strconv.Itoa(h.PID()), "environ"))
		if err != nil {
			return false
		}
		return slices.Contains(strings.Split(string(data), "\x00"), EnvRunID+"=run-xyz")
	}, 2*time.Second, 50*time.Millisecond)
}
