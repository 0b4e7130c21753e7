package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jrepp/nodesup/pkg/portalloc"
)

var portsCount int

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "Print free TCP ports",
	Long: `Allocate free TCP ports the way nodes get them and print one per line.
The ports are released on exit, so another process may take them before
they are used.`,
	RunE: runPorts,
}

func init() {
	portsCmd.Flags().IntVarP(&portsCount, "count", "n", 1, "number of ports")
	rootCmd.AddCommand(portsCmd)
}

func runPorts(cmd *cobra.Command, args []string) error {
	if portsCount <= 0 {
		return fmt.Errorf("count must be positive, got %d", portsCount)
	}
	ports, err := portalloc.NewAllocator().AllocateN("nodesup", portsCount)
	if err != nil {
		return err
	}
	for _, p := range ports {
		uiInstance.Println(strconv.Itoa(p))
	}
	return nil
}
