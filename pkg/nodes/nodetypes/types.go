// Package nodetypes defines the capability set shared by all Lightning
// daemon adapters, together with the normalized channel records they
// report. Adapters are lenses into daemon-held truth: they never cache
// balance or channel state beyond the current call.
package nodetypes

import (
	"context"
	"fmt"

	"github.com/lnregnet/lnregnet/pkg/topology"
)

// ChannelStatus is the adapter-normalized lifecycle state of a channel.
type ChannelStatus string

const (
	ChannelOpening ChannelStatus = "OPENING"
	ChannelOpen    ChannelStatus = "OPEN"
)

// ChannelState is one channel as reported by the daemon that owns one of
// its endpoints. Balances are from that endpoint's perspective.
type ChannelState struct {
	// ChannelID is the short channel id packed into its canonical 64 bit
	// form, identical across daemon kinds for the same on-chain channel.
	ChannelID uint64
	// FundingTxid joins the channel back to the number it was declared
	// under in the topology.
	FundingTxid string
	// OutputIndex is the funding outpoint index.
	OutputIndex uint16
	Capacity    int64
	// LocalBalance and RemoteBalance are in satoshi.
	LocalBalance  int64
	RemoteBalance int64
	CommitFee     int64
	// Initiator is true if this endpoint opened the channel.
	Initiator    bool
	RemotePubkey string
	Status       ChannelStatus
}

// ChannelPoint is the funding outpoint in txid:index form.
func (c ChannelState) ChannelPoint() string {
	return fmt.Sprintf("%s:%d", c.FundingTxid, c.OutputIndex)
}

// GraphChannel is one edge of a daemon's locally known network graph.
type GraphChannel struct {
	Node1Pubkey string
	Node2Pubkey string
	ChannelID   uint64
}

// LightningNode is the contract every daemon adapter fulfills. The
// orchestrator drives the node lifecycle exclusively through it.
type LightningNode interface {
	// Name returns the human-assigned node name (A, B, C, ...).
	Name() string
	// Kind returns the backing daemon implementation.
	Kind() topology.DaemonKind
	// Host returns the host:port peers use to connect to this node.
	Host() string

	// Start spawns the daemon and blocks until it signals readiness. If
	// fresh is true the node's data directory is wiped and recreated
	// with a generated configuration; otherwise the directory must
	// already exist.
	Start(ctx context.Context, fresh bool) error
	// Stop issues a graceful shutdown through the control interface and
	// waits for the process to exit. A non-responsive process is a
	// reported failure, never force-killed.
	Stop() error

	// GetAddress requests a fresh receive address from the wallet.
	GetAddress() (string, error)
	// GetPubkey resolves the daemon's public identity. Idempotent; the
	// identity is stable for a given data directory.
	GetPubkey() (string, error)
	// GetInfo returns the daemon's raw status report for diagnostics.
	GetInfo() (map[string]interface{}, error)
	// GetNetworkInfo returns the daemon's summary statistics of the
	// network graph it knows about. Daemons without a graph view return
	// an error.
	GetNetworkInfo() (map[string]interface{}, error)

	// ConnectAndOpenChannel connects to the peer and opens a channel
	// funded with capacity-remoteSat local and remoteSat remote satoshi.
	// Returns the funding transaction id.
	ConnectAndOpenChannel(ctx context.Context, peerPubkey, peerHost string, capacity, remoteSat int64) (string, error)
	// ListChannels reports the node's own channels.
	ListChannels() ([]ChannelState, error)
	// WaitAllChannelsOpen blocks until every channel of the node has
	// left the OPENING state. Daemons that reflect channel confirmation
	// immediately return nil without waiting.
	WaitAllChannelsOpen(ctx context.Context) error
	// DescribeGraph returns the daemon's locally known view of the whole
	// network. Not every daemon kind exposes one; unsupported kinds
	// return an error.
	DescribeGraph() ([]GraphChannel, error)
	// UpdateChannelPolicy applies the node's forwarding fee policy.
	UpdateChannelPolicy(baseFeeMsat int64, feeRate float64) error

	// CLICommand returns the control-client invocation a developer can
	// use to drive this node from a shell.
	CLICommand() string
}
