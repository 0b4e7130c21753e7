package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jrepp/nodesup/pkg/cluster"
	"github.com/jrepp/nodesup/pkg/netcfg"
	"github.com/jrepp/nodesup/pkg/node"
)

var (
	netcfgManifest string
	netcfgNode     string
	netcfgIP       string
	netcfgGRPCPort int
)

var netcfgCmd = &cobra.Command{
	Use:   "netcfg",
	Short: "Print the device configuration of a switch",
	RunE:  runNetcfg,
}

func init() {
	netcfgCmd.Flags().StringVarP(&netcfgManifest, "file", "f", "cluster.yaml", "cluster manifest")
	netcfgCmd.Flags().StringVar(&netcfgNode, "node", "", "switch name")
	netcfgCmd.Flags().StringVar(&netcfgIP, "ip", "", "management address (default: the node address)")
	netcfgCmd.Flags().IntVar(&netcfgGRPCPort, "grpc-port", 0, "gRPC port (default: the pinned port)")
	netcfgCmd.MarkFlagRequired("node")
	rootCmd.AddCommand(netcfgCmd)
}

func runNetcfg(cmd *cobra.Command, args []string) error {
	manifest, err := cluster.LoadManifest(netcfgManifest)
	if err != nil {
		return err
	}
	specs, err := manifest.Specs()
	if err != nil {
		return err
	}

	var spec *node.Spec
	for i := range specs {
		if specs[i].Name == netcfgNode {
			spec = &specs[i]
			break
		}
	}
	if spec == nil {
		return fmt.Errorf("%w: %s", cluster.ErrUnknownNode, netcfgNode)
	}

	ip := netcfgIP
	if ip == "" {
		ip = manifestNetwork(manifest).NodeIP(spec.Name)
	}
	port := netcfgGRPCPort
	if port == 0 {
		port = spec.Ports[node.PortGRPC]
	}
	if port == 0 {
		return fmt.Errorf("node %s has no pinned grpc port; pass --grpc-port", spec.Name)
	}

	dev, err := netcfg.NewDevice(*spec, ip, port)
	if err != nil {
		return err
	}
	data, err := netcfg.NewDocument(spec.DeviceKey(), dev).Marshal()
	if err != nil {
		return err
	}
	_, err = uiInstance.Write(data)
	return err
}
