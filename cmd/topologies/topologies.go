package topologies

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lnregnet/lnregnet/pkg/topology"
)

// Command creates the topologies command listing the built-in network
// definitions.
func Command() *cobra.Command {
	return &cobra.Command{
		Use:   "topologies",
		Short: "List built-in network definitions",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, name := range topology.BuiltinNames() {
				t, err := topology.Load(name)
				if err != nil {
					return err
				}
				fmt.Printf("%s: %d nodes, %d channels\n",
					name, len(t.Nodes), t.ChannelCount())
			}
			return nil
		},
	}
}
