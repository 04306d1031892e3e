package cmd

import (
	"github.com/spf13/cobra"

	"github.com/lnregnet/lnregnet/cmd/run"
	"github.com/lnregnet/lnregnet/cmd/topologies"
	"github.com/lnregnet/lnregnet/cmd/version"
)

// NewRootCmd assembles the base command and its subcommands.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "lnregnet",
		Short: "A regtest Lightning network orchestrator",
		Long: `lnregnet runs complete Lightning networks on a private regtest
chain for integration testing: bitcoind, one daemon per node, funded
wallets and opened channels, built from a declarative topology.`,
	}

	rootCmd.AddCommand(run.Command())
	rootCmd.AddCommand(topologies.Command())
	rootCmd.AddCommand(version.NewVersionCmd())
	return rootCmd
}
