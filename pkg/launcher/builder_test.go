package launcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jrepp/nodesup/pkg/node"
)

func bmv2Input() Input {
	return Input{
		Spec: node.Spec{
			Name:       "s1",
			ID:         7,
			Kind:       node.KindSwitch,
			Target:     node.TargetBMv2,
			Executable: "simple_switch_grpc",
			Interfaces: map[int]string{2: "s1-eth2", 1: "s1-eth1"},
		},
		IP:    "127.0.0.1",
		Ports: map[string]int{node.PortGRPC: 50001, node.PortThrift: 9090},
		Paths: Layout{Dir: "/run/n"}.For("bmv2", "s1"),
	}
}

func TestBMv2Builder_Argv(t *testing.T) {
	cmd, err := (&BMv2Builder{}).Build(bmv2Input())
	require.NoError(t, err)

	assert.Equal(t, "simple_switch_grpc", cmd.Path)
	assert.Equal(t, []string{
		"-i", "1@s1-eth1",
		"-i", "2@s1-eth2",
		"--device-id", "7",
		"--thrift-port", "9090",
		"--notifications-addr", "ipc:///run/n/bmv2-s1/notifications.ipc",
		"--log-console",
		"-L", "warn",
		"--no-p4",
		"--",
		"--cpu-port", "255",
		"--grpc-server-addr", "0.0.0.0:50001",
	}, cmd.Args)
	assert.Equal(t, "/run/n/bmv2-s1-log", cmd.LogPath)
	assert.Equal(t, "/run/n/bmv2-s1", cmd.Dir)
	assert.Equal(t, "s1", cmd.Env[EnvNodeName])
	assert.Equal(t, "50001", cmd.Env["NODE_PORT_GRPC"])
	assert.Equal(t, "9090", cmd.Env["NODE_PORT_THRIFT"])
}

func TestBMv2Builder_Features(t *testing.T) {
	in := bmv2Input()
	in.Spec.Debug = true
	in.Spec.PacketDump = true
	in.Spec.LogLevel = "debug"
	in.Spec.PipelineJSON = "/p4/main.json"
	in.Spec.CPUPort = 64

	cmd, err := (&BMv2Builder{}).Build(in)
	require.NoError(t, err)

	assert.Contains(t, cmd.Args, "--debugger")
	assert.Subset(t, cmd.Args, []string{"--pcap", "--dump-packet-data", "64"})
	assert.Contains(t, cmd.Args, "/p4/main.json")
	assert.NotContains(t, cmd.Args, "--no-p4")

	// target options come after the separator
	sep := indexOf(cmd.Args, "--")
	require.GreaterOrEqual(t, sep, 0)
	assert.Equal(t, []string{"--cpu-port", "64", "--grpc-server-addr", "0.0.0.0:50001"}, cmd.Args[sep+1:])
}

func TestBMv2Builder_Valgrind(t *testing.T) {
	in := bmv2Input()
	in.Spec.Valgrind = true

	cmd, err := (&BMv2Builder{Valgrind: "/usr/bin/valgrind"}).Build(in)
	require.NoError(t, err)

	assert.Equal(t, "/usr/bin/valgrind", cmd.Path)
	assert.Equal(t, "--leak-check=full", cmd.Args[0])
	assert.Equal(t, "--log-file=/run/n/bmv2-s1-log.valgrind", cmd.Args[1])
	assert.Equal(t, "simple_switch_grpc", cmd.Args[2])
}

func TestBMv2Builder_MissingPort(t *testing.T) {
	in := bmv2Input()
	delete(in.Ports, node.PortThrift)

	_, err := (&BMv2Builder{}).Build(in)
	require.Error(t, err)
	assert.True(t, IsStage(err, StagePort))
}

func TestStratumBuilder(t *testing.T) {
	in := bmv2Input()
	in.Spec.Target = node.TargetStratum
	in.Spec.Executable = "stratum_bmv2"
	in.Ports = map[string]int{node.PortGRPC: 50001, node.PortLocal: 50101}
	in.Paths = Layout{Dir: "/run/n"}.For("stratum", "s1")

	cmd, err := (&StratumBuilder{}).Build(in)
	require.NoError(t, err)

	assert.Contains(t, cmd.Args, "-device_id=7")
	assert.Contains(t, cmd.Args, "-chassis_config_file=/run/n/stratum-s1/chassis-config.txt")
	assert.Contains(t, cmd.Args, "-external_stratum_urls=0.0.0.0:50001")
	assert.Contains(t, cmd.Args, "-local_stratum_url=localhost:50101")
	assert.Contains(t, cmd.Args, "-cpu_port=255")
	assert.Contains(t, cmd.Args, "-bmv2_log_level=warn")

	chassis := string(cmd.Files["/run/n/stratum-s1/chassis-config.txt"])
	assert.Contains(t, chassis, `name: "s1-eth1"`)
	assert.Contains(t, chassis, "port: 2")
	assert.Contains(t, chassis, "PLT_P4_SOFT_SWITCH")
	assert.Contains(t, cmd.Files, "/run/n/stratum-s1/dummy.json")
}

func TestControllerBuilder(t *testing.T) {
	in := Input{
		Spec: node.Spec{
			Name:       "onos1",
			ID:         1,
			Kind:       node.KindController,
			Target:     node.TargetONOS,
			Executable: "/opt/onos/bin/karaf",
			Apps:       []string{"org.onosproject.drivers", "org.onosproject.openflow"},
			Debug:      true,
			Env:        map[string]string{"JAVA_OPTS": "-Xmx1G"},
		},
		IP:    "10.0.0.1",
		Ports: map[string]int{node.PortREST: 8181},
		Paths: Layout{Dir: "/run/n"}.For("onos", "onos1"),
	}

	cmd, err := (&ControllerBuilder{ONOSRoot: "/opt/onos"}).Build(in)
	require.NoError(t, err)

	assert.Equal(t, []string{"debug", "server"}, cmd.Args)
	assert.Equal(t, "/run/n/onos-onos1", cmd.Env["ONOS_HOME"])
	assert.Equal(t, "10.0.0.1", cmd.Env["ONOS_IP"])
	assert.Equal(t, "org.onosproject.drivers,org.onosproject.openflow", cmd.Env["ONOS_APPS"])
	assert.Equal(t, "/opt/onos", cmd.Env["ONOS_ROOT"])
	assert.Equal(t, "-Xmx1G", cmd.Env["JAVA_OPTS"])
	assert.Equal(t, "8181", cmd.Env["NODE_PORT_REST"])
}

func TestBuilderFor(t *testing.T) {
	for _, target := range []node.Target{node.TargetBMv2, node.TargetStratum, node.TargetONOS} {
		b, err := BuilderFor(target, BuilderOptions{})
		require.NoError(t, err)
		assert.NotNil(t, b)
	}
	_, err := BuilderFor("ovs", BuilderOptions{})
	assert.Error(t, err)
}

func TestArgs(t *testing.T) {
	args := NewArgs().
		Add("a").
		AddIf(false, "skipped").
		Flag("--n", 1).
		FlagEq("-x", "y").
		Separator().
		Slice()
	assert.Equal(t, []string{"a", "--n", "1", "-x=y", "--"}, args)
}

func indexOf(s []string, v string) int {
	for i, e := range s {
		if e == v {
			return i
		}
	}
	return -1
}
