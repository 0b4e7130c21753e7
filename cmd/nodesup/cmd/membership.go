package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jrepp/nodesup/pkg/cluster"
	"github.com/jrepp/nodesup/pkg/membership"
	"github.com/jrepp/nodesup/pkg/node"
)

var membershipManifest string

var membershipCmd = &cobra.Command{
	Use:   "membership",
	Short: "Print the cluster membership file of a manifest",
	Long: `Print the membership JSON the controllers of a manifest would boot with.
Controllers without a pinned cluster port are listed on the default port.`,
	RunE: runMembership,
}

func init() {
	membershipCmd.Flags().StringVarP(&membershipManifest, "file", "f", "cluster.yaml", "cluster manifest")
	rootCmd.AddCommand(membershipCmd)
}

func runMembership(cmd *cobra.Command, args []string) error {
	manifest, err := cluster.LoadManifest(membershipManifest)
	if err != nil {
		return err
	}
	specs, err := manifest.Specs()
	if err != nil {
		return err
	}
	network := manifestNetwork(manifest)

	var members []membership.Member
	for _, s := range specs {
		if s.Kind != node.KindController {
			continue
		}
		port := s.Ports[node.PortCluster]
		if port == 0 {
			port = membership.DefaultPort
		}
		members = append(members, membership.Member{ID: s.Name, IP: network.NodeIP(s.Name), Port: port})
	}
	if len(members) == 0 {
		return fmt.Errorf("manifest %s declares no controller", membershipManifest)
	}

	art, err := membership.Generate(members, membership.Options{
		Seed:        cfg.Membership.Seed,
		Replication: cfg.Membership.Replication,
		Partitions:  cfg.Membership.Partitions,
	})
	if err != nil {
		return err
	}
	_, err = uiInstance.Write(art.Bytes())
	return err
}

func manifestNetwork(m *cluster.Manifest) cluster.Network {
	if n := m.CommandNetwork(); n != nil {
		return n
	}
	return cluster.LocalNetwork{}
}
