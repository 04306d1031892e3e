// Package network orchestrates a complete regtest Lightning network: a
// bitcoind chain backend, one Lightning daemon per topology node, and the
// channels connecting them. One orchestrator instance drives one network
// through an explicit lifecycle; all daemon control is sequential.
package network

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/google/uuid"

	apperrors "github.com/lnregnet/lnregnet/pkg/errors"
	"github.com/lnregnet/lnregnet/pkg/logger"
	"github.com/lnregnet/lnregnet/pkg/mapping"
	"github.com/lnregnet/lnregnet/pkg/nodes/bitcoind"
	"github.com/lnregnet/lnregnet/pkg/nodes/electrum"
	"github.com/lnregnet/lnregnet/pkg/nodes/lnd"
	"github.com/lnregnet/lnregnet/pkg/nodes/nodetypes"
	"github.com/lnregnet/lnregnet/pkg/topology"
)

// State is the lifecycle phase of a network. Transitions are strictly
// forward; a failed phase leaves the network in the last reached state
// for Cleanup to tear down.
type State string

const (
	StateConstructed   State = "CONSTRUCTED"
	StateChainRunning  State = "CHAIN_RUNNING"
	StateNodesRunning  State = "NODES_RUNNING"
	StateMapped        State = "MAPPED"
	StateFunded        State = "FUNDED"
	StateChannelsOpen  State = "CHANNELS_OPEN"
	StateMappingsSaved State = "MAPPINGS_SAVED"
	StateRunning       State = "RUNNING"
	StateStopped       State = "STOPPED"
)

const (
	// DefaultNodeLimit includes every node of the definition.
	DefaultNodeLimit = "Z"

	// Pauses between orchestration phases. The daemons have no signal
	// for some internal settling steps (gossip propagation, wallet
	// rescans after funding), so these are fixed waits.
	waitAfterAllNodesStarted = time.Second
	waitAfterMiningThree     = 500 * time.Millisecond
	waitAfterFillingWallets  = 3 * time.Second
	waitAfterChannelsOpened  = 3 * time.Second
	waitBeforeCleanup        = time.Second

	// Fresh-chain bootstrap: spendable coinbases plus maturity blocks.
	bootstrapAddresses = 10
	maturityBlocks     = 100

	// Each node wallet is funded with one coin.
	walletFunding = btcutil.SatoshiPerBitcoin

	fundingConfirmations = 6
	channelConfirmations = 3
)

// ChainController is the base-chain capability set the orchestrator
// needs. The bitcoind controller implements it.
type ChainController interface {
	Start(ctx context.Context, fresh bool) error
	Stop() error
	NewAddress() (string, error)
	MineBlocks(n int) error
	FillAddresses(n int) error
	SendToAddresses(addresses []string, amount btcutil.Amount) error
	BlockHeight() (int64, error)
	RPCURL() string
}

// electrumServer is the ElectrumX lifecycle as the orchestrator sees it.
type electrumServer interface {
	Start(ctx context.Context) error
	Stop() error
}

// sleep is swapped out in tests so the settling pauses do not slow the
// suite down.
var sleep = time.Sleep

type nodeFactory func(name string, spec topology.NodeSpec, nodedataDir, binaryFolder string, log *logger.Logger) (nodetypes.LightningNode, error)
type chainFactory func(nodedataDir, binaryFolder string, log *logger.Logger) (ChainController, error)
type serverFactory func(nodedataDir, binaryFolder, daemonURL string, log *logger.Logger) (electrumServer, error)

// Config configures one network run.
type Config struct {
	// BinaryFolder holds the daemon binaries; empty means $PATH.
	BinaryFolder string
	// NetworkDefinition is a built-in topology name or the path to a
	// topology YAML file.
	NetworkDefinition string
	// NodedataFolder is where run data lives. Empty means an ephemeral
	// temporary directory removed on cleanup; ephemeral runs are always
	// from scratch.
	NodedataFolder string
	// NodeLimit restricts the topology to nodes up to this name.
	NodeLimit string
	// FromScratch wipes all daemon state before starting. When false,
	// the run resumes a previously built network from NodedataFolder.
	FromScratch bool
	// Logger defaults to one logging to stdout and the run's log file.
	Logger *logger.Logger

	// Factory overrides for tests.
	nodeFactory   nodeFactory
	chainFactory  chainFactory
	serverFactory serverFactory
}

// Network is one orchestrated regtest Lightning network.
type Network struct {
	cfg      Config
	log      *logger.Logger
	topology *topology.Topology

	dataDir   string
	ephemeral bool
	fresh     bool

	// state is read concurrently by callers supervising a run from
	// another goroutine; all transitions happen on the control
	// goroutine.
	stateMu sync.RWMutex
	state   State

	chain     ChainController
	electrumx electrumServer
	nodes     map[string]nodetypes.LightningNode
	master    nodetypes.LightningNode
	mappings  *mapping.Store

	// Teardown only touches what actually came up; a failed startup
	// leaves later components never started.
	chainStarted     bool
	electrumxStarted bool
	startedNodes     []string
}

// New loads, validates and reduces the network definition and constructs
// every daemon adapter. No process is started; missing binaries fail
// here.
func New(cfg Config) (*Network, error) {
	if cfg.NetworkDefinition == "" {
		cfg.NetworkDefinition = "star_ring"
	}
	if cfg.NodeLimit == "" {
		cfg.NodeLimit = DefaultNodeLimit
	}
	if len(cfg.NodeLimit) != 1 || cfg.NodeLimit[0] < 'A' || cfg.NodeLimit[0] > 'Z' {
		return nil, apperrors.NewValidationError(
			"node limit must be a single letter A-Z",
			map[string]interface{}{"node_limit": cfg.NodeLimit})
	}
	if cfg.NodedataFolder == "" && !cfg.FromScratch {
		return nil, apperrors.NewValidationError(
			"resuming a network requires a nodedata folder, an ephemeral directory holds no previous run", nil)
	}
	if cfg.nodeFactory == nil {
		cfg.nodeFactory = defaultNodeFactory
	}
	if cfg.chainFactory == nil {
		cfg.chainFactory = defaultChainFactory
	}
	if cfg.serverFactory == nil {
		cfg.serverFactory = defaultServerFactory
	}

	full, err := topology.Load(cfg.NetworkDefinition)
	if err != nil {
		return nil, err
	}
	if err := topology.Validate(full); err != nil {
		return nil, err
	}
	reduced := topology.Reduce(full, cfg.NodeLimit)

	ephemeral := cfg.NodedataFolder == ""
	fresh := cfg.FromScratch
	root := cfg.NodedataFolder
	if ephemeral {
		root = filepath.Join(os.TempDir(), "lnregnet-"+uuid.NewString())
	}
	dataDir := filepath.Join(root, reduced.Name)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, apperrors.NewInternalError("failed to create run directory", err, nil)
	}

	log := cfg.Logger
	if log == nil {
		log, err = logger.NewForRun("info", filepath.Join(dataDir, "network.log"))
		if err != nil {
			return nil, err
		}
	}

	n := &Network{
		cfg:       cfg,
		log:       log,
		topology:  reduced,
		dataDir:   dataDir,
		ephemeral: ephemeral,
		fresh:     fresh,
		state:     StateConstructed,
		nodes:     make(map[string]nodetypes.LightningNode, len(reduced.Nodes)),
		mappings:  mapping.New(dataDir),
	}

	n.chain, err = cfg.chainFactory(dataDir, cfg.BinaryFolder, log)
	if err != nil {
		return nil, err
	}
	if reduced.HasDaemon(topology.DaemonElectrum) {
		n.electrumx, err = cfg.serverFactory(dataDir, cfg.BinaryFolder, n.chain.RPCURL(), log)
		if err != nil {
			return nil, err
		}
	}
	for _, name := range reduced.NodeNames() {
		node, err := cfg.nodeFactory(name, reduced.Nodes[name], dataDir, cfg.BinaryFolder, log)
		if err != nil {
			return nil, err
		}
		n.nodes[name] = node
	}
	n.master = n.nodes[reduced.NodeNames()[0]]

	return n, nil
}

func defaultNodeFactory(name string, spec topology.NodeSpec, nodedataDir, binaryFolder string, log *logger.Logger) (nodetypes.LightningNode, error) {
	switch spec.Daemon {
	case topology.DaemonElectrum:
		return electrum.New(name, spec, nodedataDir, binaryFolder, log)
	default:
		return lnd.New(name, spec, nodedataDir, binaryFolder,
			bitcoind.DefaultRPCUser, bitcoind.DefaultRPCPass, log)
	}
}

func defaultChainFactory(nodedataDir, binaryFolder string, log *logger.Logger) (ChainController, error) {
	return bitcoind.New(nodedataDir, binaryFolder, log)
}

func defaultServerFactory(nodedataDir, binaryFolder, daemonURL string, log *logger.Logger) (electrumServer, error) {
	return electrum.NewServer(nodedataDir, binaryFolder, daemonURL, log)
}

// State returns the network's lifecycle state.
func (n *Network) State() State {
	n.stateMu.RLock()
	defer n.stateMu.RUnlock()
	return n.state
}

func (n *Network) setState(s State) {
	n.stateMu.Lock()
	n.state = s
	n.stateMu.Unlock()
}

// DataDir returns the run's data directory.
func (n *Network) DataDir() string { return n.dataDir }

// Node returns the adapter for a node name.
func (n *Network) Node(name string) (nodetypes.LightningNode, error) {
	node, ok := n.nodes[name]
	if !ok {
		return nil, apperrors.NewNotFoundError("unknown node "+name, nil)
	}
	return node, nil
}

// Master returns the master node, the alphabetically first one.
func (n *Network) Master() nodetypes.LightningNode { return n.master }

// Mappings exposes the run's identity mapping store.
func (n *Network) Mappings() *mapping.Store { return n.mappings }

// RunNoCleanup brings the network up through every lifecycle phase and
// returns with it RUNNING. Teardown is the caller's job via Cleanup, so
// a failed run can still be inspected.
func (n *Network) RunNoCleanup(ctx context.Context) error {
	if n.State() != StateConstructed {
		return apperrors.NewInternalError(
			fmt.Sprintf("network cannot be started from state %s", n.State()), nil, nil)
	}

	n.log.Info("Starting network",
		"definition", n.topology.Name,
		"nodes", len(n.topology.Nodes),
		"channels", n.topology.ChannelCount(),
		"from_scratch", n.fresh,
		"dir", n.dataDir)

	if err := n.startChain(ctx); err != nil {
		return err
	}
	if err := n.startNodes(ctx); err != nil {
		return err
	}
	if err := n.determineNodeMapping(); err != nil {
		return err
	}

	if n.fresh {
		if err := n.fundWallets(); err != nil {
			return err
		}
		if err := n.connectOpenChannels(ctx); err != nil {
			return err
		}
		if err := n.determineChannelMapping(ctx); err != nil {
			return err
		}
		if err := n.setFees(); err != nil {
			return err
		}
	} else {
		if err := n.mappings.Load(); err != nil {
			return err
		}
		n.log.Info("Resumed identity mappings", "channels", n.mappings.ChannelCount())
	}

	n.printMasterGraphView()

	n.setState(StateRunning)
	n.printCLICommands()
	n.printInfo()
	n.log.Info("Network is running")
	return nil
}

// RunOnce runs the network up and immediately tears it down again,
// useful for verifying a definition end to end.
func (n *Network) RunOnce(ctx context.Context) error {
	runErr := n.RunNoCleanup(ctx)
	if err := n.Cleanup(); err != nil && runErr == nil {
		return err
	}
	return runErr
}

// RunContinuously runs the network up and keeps it alive until the
// context is canceled, then tears it down.
func (n *Network) RunContinuously(ctx context.Context) error {
	if err := n.RunNoCleanup(ctx); err != nil {
		if cleanupErr := n.Cleanup(); cleanupErr != nil {
			n.log.Error("Cleanup after failed run", "error", cleanupErr)
		}
		return err
	}
	<-ctx.Done()
	n.log.Info("Shutting down network")
	return n.Cleanup()
}

// RunFromBackground attaches to a network whose daemons are already
// running in this data directory, restoring the identity mappings
// without starting any process.
func (n *Network) RunFromBackground() error {
	if n.State() != StateConstructed {
		return apperrors.NewInternalError(
			fmt.Sprintf("network cannot be attached from state %s", n.State()), nil, nil)
	}
	if err := n.mappings.Load(); err != nil {
		return err
	}
	n.setState(StateRunning)
	n.log.Info("Attached to running network", "channels", n.mappings.ChannelCount())
	return nil
}

func (n *Network) startChain(ctx context.Context) error {
	if err := n.chain.Start(ctx, n.fresh); err != nil {
		return err
	}
	n.chainStarted = true
	n.setState(StateChainRunning)

	if n.fresh {
		// Spendable coinbases plus enough blocks to mature them.
		if err := n.chain.FillAddresses(bootstrapAddresses); err != nil {
			return err
		}
		if err := n.chain.MineBlocks(maturityBlocks); err != nil {
			return err
		}
	}

	if n.electrumx != nil {
		if err := n.electrumx.Start(ctx); err != nil {
			return err
		}
		n.electrumxStarted = true
	}
	return nil
}

func (n *Network) startNodes(ctx context.Context) error {
	for _, name := range n.topology.NodeNames() {
		if err := n.nodes[name].Start(ctx, n.fresh); err != nil {
			return err
		}
		n.startedNodes = append(n.startedNodes, name)
	}
	sleep(waitAfterAllNodesStarted)
	n.setState(StateNodesRunning)
	return nil
}

func (n *Network) determineNodeMapping() error {
	for _, name := range n.topology.NodeNames() {
		pubkey, err := n.nodes[name].GetPubkey()
		if err != nil {
			return err
		}
		n.mappings.SetNodePubkey(name, pubkey)
		n.log.Info("Node identity", "node", name, "pubkey", pubkey)

		if info, err := n.nodes[name].GetInfo(); err == nil {
			n.log.Debug("Node info", "node", name, "info", info)
		}
	}
	n.setState(StateMapped)
	return nil
}

func (n *Network) fundWallets() error {
	addresses := make([]string, 0, len(n.nodes))
	for _, name := range n.topology.NodeNames() {
		address, err := n.nodes[name].GetAddress()
		if err != nil {
			return err
		}
		addresses = append(addresses, address)
	}

	if err := n.chain.SendToAddresses(addresses, walletFunding); err != nil {
		return err
	}
	if err := n.chain.MineBlocks(fundingConfirmations); err != nil {
		return err
	}
	sleep(waitAfterFillingWallets)
	n.setState(StateFunded)
	return nil
}

// connectOpenChannels opens every declared channel in deterministic
// order, interleaving confirmation blocks so funding outputs of earlier
// opens are spendable for later ones.
func (n *Network) connectOpenChannels(ctx context.Context) error {
	for _, name := range n.topology.NodeNames() {
		spec := n.topology.Nodes[name]
		if len(spec.Channels) == 0 {
			continue
		}
		node := n.nodes[name]

		for _, number := range topology.SortedChannelNumbers(spec.Channels) {
			channel := spec.Channels[number]
			peerPubkey, err := n.mappings.Pubkey(channel.To)
			if err != nil {
				return err
			}
			peer, err := n.Node(channel.To)
			if err != nil {
				return err
			}

			fundingTxid, err := node.ConnectAndOpenChannel(ctx,
				peerPubkey, peer.Host(), channel.Capacity, channel.RemoteSat())
			if err != nil {
				return err
			}
			n.mappings.RecordFundingTxid(number, fundingTxid)
			n.log.Info("Channel funding broadcast",
				"channel", number, "from", name, "to", channel.To, "txid", fundingTxid)

			// Electrum only sees its own funding once confirmed, so
			// later opens from the same wallet would fail the funds
			// check without intermediate confirmations.
			if node.Kind() == topology.DaemonElectrum {
				if err := n.chain.MineBlocks(channelConfirmations); err != nil {
					return err
				}
				sleep(waitAfterMiningThree)
			}
		}

		if err := n.chain.MineBlocks(channelConfirmations); err != nil {
			return err
		}
		sleep(waitAfterMiningThree)
	}

	if err := n.chain.MineBlocks(channelConfirmations); err != nil {
		return err
	}
	sleep(waitAfterChannelsOpened)
	n.setState(StateChannelsOpen)
	return nil
}

// determineChannelMapping attaches the daemon-reported channel ids to
// the funding transactions recorded at open time, then persists the
// completed mappings.
func (n *Network) determineChannelMapping(ctx context.Context) error {
	for _, name := range n.topology.NodeNames() {
		node := n.nodes[name]
		if err := node.WaitAllChannelsOpen(ctx); err != nil {
			return err
		}
		states, err := node.ListChannels()
		if err != nil {
			return err
		}
		for _, state := range states {
			if !state.Initiator {
				continue
			}
			if n.mappings.AttachChannelID(state.FundingTxid, state.ChannelID, state.ChannelPoint()) {
				n.log.Info("Channel confirmed",
					"node", name, "txid", state.FundingTxid, "channel_id", state.ChannelID)
			}
		}
	}

	if unresolved := n.mappings.Unresolved(); len(unresolved) > 0 {
		return apperrors.NewInternalError(
			"channels did not confirm", nil,
			map[string]interface{}{"channel_numbers": unresolved})
	}

	if err := n.mappings.Save(); err != nil {
		return err
	}
	n.setState(StateMappingsSaved)
	return nil
}

// setFees applies each node's configured forwarding fee policy.
func (n *Network) setFees() error {
	for _, name := range n.topology.NodeNames() {
		spec := n.topology.Nodes[name]
		if spec.BaseFeeMsat == 0 && spec.FeeRate == 0 {
			continue
		}
		if err := n.nodes[name].UpdateChannelPolicy(spec.BaseFeeMsat, spec.FeeRate); err != nil {
			return err
		}
	}
	return nil
}

// StopAndStartMaster restarts the master node against the existing data
// directory and verifies it comes back with its identity intact.
func (n *Network) StopAndStartMaster(ctx context.Context) error {
	name := n.topology.NodeNames()[0]
	n.log.Info("Restarting master node", "node", name)
	if err := n.master.Stop(); err != nil {
		return err
	}
	if err := n.master.Start(ctx, false); err != nil {
		return err
	}

	pubkey, err := n.master.GetPubkey()
	if err != nil {
		return err
	}
	known, err := n.mappings.Pubkey(name)
	if err != nil {
		return err
	}
	if pubkey != known {
		return apperrors.NewInternalError(
			"master node identity changed across restart", nil,
			map[string]interface{}{"before": known, "after": pubkey})
	}

	if info, err := n.master.GetInfo(); err == nil {
		n.log.Debug("Master node info after restart", "info", info)
	}
	return nil
}

// MasterNetworkInfo returns the master node's summary statistics of the
// network graph it knows about, a quick consistency check against the
// topology. Daemons without a graph view yield a nil result.
func (n *Network) MasterNetworkInfo() (map[string]interface{}, error) {
	info, err := n.master.GetNetworkInfo()
	if err != nil {
		n.log.Warn("Master node exposes no network statistics, skipping", "error", err)
		return nil, nil
	}
	n.log.Info("Master network info", "info", info)
	return info, nil
}

// Cleanup tears everything down in reverse start order. Teardown is best
// effort: every component is stopped even if an earlier one fails, and
// the first error is reported.
func (n *Network) Cleanup() error {
	if n.State() == StateStopped {
		return nil
	}
	sleep(waitBeforeCleanup)

	var firstErr error
	record := func(err error) {
		if err != nil {
			n.log.Error("Teardown", "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	for i := len(n.startedNodes) - 1; i >= 0; i-- {
		record(n.nodes[n.startedNodes[i]].Stop())
	}
	if n.electrumxStarted {
		record(n.electrumx.Stop())
	}
	if n.chainStarted {
		record(n.chain.Stop())
	}

	n.removeEphemeralDir()
	n.setState(StateStopped)
	n.log.Info("Network stopped")
	return firstErr
}

func (n *Network) removeEphemeralDir() {
	if !n.ephemeral {
		return
	}
	if err := os.RemoveAll(filepath.Dir(n.dataDir)); err != nil {
		n.log.Warn("Failed to remove ephemeral run directory", "error", err)
	}
}

// printMasterGraphView logs the master node's view of the network graph
// as a cross-check against the topology. Diagnostic only: a failure here
// does not fail the run.
func (n *Network) printMasterGraphView() {
	view, err := n.MasterNodeGraphView()
	if err != nil {
		n.log.Warn("Master node graph view", "error", err)
		return
	}
	for _, ch := range view {
		n.log.Info("Master graph channel",
			"channel", ch.ChannelNumber, "node1", ch.Node1, "node2", ch.Node2)
	}
}

// printCLICommands logs the shell invocation for driving each daemon
// manually.
func (n *Network) printCLICommands() {
	for _, name := range n.topology.NodeNames() {
		n.log.Info("Node CLI", "node", name, "command", n.nodes[name].CLICommand())
	}
}

// printInfo logs a summary of the running network.
func (n *Network) printInfo() {
	height, err := n.chain.BlockHeight()
	if err != nil {
		n.log.Warn("Failed to query block height", "error", err)
	} else {
		n.log.Info("Chain", "height", height)
	}
	for name, pubkey := range n.mappings.NodePubkeys() {
		n.log.Info("Node", "name", name, "pubkey", pubkey)
	}
}
