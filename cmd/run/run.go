package run

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lnregnet/lnregnet/pkg/network"
)

type runOptions struct {
	networkDefinition string
	nodeLimit         string
	nodedataFolder    string
	binaryFolder      string
	fromScratch       bool
	once              bool
}

// Command creates the run command, which brings a network up and keeps
// it alive until interrupted.
func Command() *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a regtest Lightning network",
		Long: `Run starts bitcoind, the Lightning daemons of the selected network
definition and opens the declared channels. The network keeps running
until the process is interrupted, then everything is torn down.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNetwork(opts)
		},
	}

	cmd.Flags().StringVar(&opts.networkDefinition, "network-definition", "star_ring",
		"built-in topology name or path to a topology YAML file")
	cmd.Flags().StringVar(&opts.nodeLimit, "node-limit", network.DefaultNodeLimit,
		"only run nodes up to this name")
	cmd.Flags().StringVar(&opts.nodedataFolder, "nodedata-folder", "",
		"directory for daemon data, empty means an ephemeral temporary directory")
	cmd.Flags().StringVar(&opts.binaryFolder, "binary-folder", "",
		"directory holding the daemon binaries, empty means $PATH")
	cmd.Flags().BoolVar(&opts.fromScratch, "from-scratch", true,
		"wipe all daemon state and rebuild the network")
	cmd.Flags().BoolVar(&opts.once, "once", false,
		"bring the network up, then tear it down immediately")

	return cmd
}

// runNetwork leaves Config.Logger unset so the orchestrator builds one
// logging to stdout and the run directory's log file.
func runNetwork(opts *runOptions) error {
	net, err := network.New(network.Config{
		BinaryFolder:      opts.binaryFolder,
		NetworkDefinition: opts.networkDefinition,
		NodedataFolder:    opts.nodedataFolder,
		NodeLimit:         opts.nodeLimit,
		FromScratch:       opts.fromScratch,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if opts.once {
		return net.RunOnce(ctx)
	}
	return net.RunContinuously(ctx)
}
