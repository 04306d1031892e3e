// Package lnd adapts an lnd daemon to the LightningNode capability set.
// Control goes through lncli, one subprocess per call. lnd reports its
// short channel ids as a decimal rendering of the 8 byte packed value
// and supports pushing the remote amount at channel open, so no
// funds-confirmation wait is needed before opening.
package lnd

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/Masterminds/sprig/v3"
	"github.com/pkg/errors"

	"github.com/lnregnet/lnregnet/pkg/chanid"
	apperrors "github.com/lnregnet/lnregnet/pkg/errors"
	"github.com/lnregnet/lnregnet/pkg/logger"
	"github.com/lnregnet/lnregnet/pkg/nodes/nodetypes"
	"github.com/lnregnet/lnregnet/pkg/nodes/runner"
	"github.com/lnregnet/lnregnet/pkg/topology"
)

const (
	// readyMarker is the log line that signals the wallet finished its
	// chain rescan and the node is usable.
	readyMarker = "Finished rescan"

	startupTimeout = 90 * time.Second
	stopTimeout    = 30 * time.Second
)

const configTemplate = `[Application Options]
alias={{ .Name }}
listen=localhost:{{ .Port }}
restlisten=localhost:{{ .RESTPort }}
rpclisten=localhost:{{ .GRPCPort }}
debuglevel=info
unsafe-disconnect=1

[Bitcoin]
bitcoin.active=1
bitcoin.regtest=1
bitcoin.node=bitcoind
bitcoin.basefee={{ .BaseFeeMsat }}
bitcoin.feerate={{ .FeeRatePPM }}

[Bitcoind]
bitcoind.rpchost=localhost
bitcoind.rpcuser={{ .RPCUser }}
bitcoind.rpcpass={{ .RPCPass }}
bitcoind.zmqpubrawblock=tcp://127.0.0.1:28332
bitcoind.zmqpubrawtx=tcp://127.0.0.1:28333
`

type configData struct {
	Name        string
	Port        int
	RESTPort    int
	GRPCPort    int
	BaseFeeMsat int64
	FeeRatePPM  int64
	RPCUser     string
	RPCPass     string
}

// Node drives one lnd instance.
type Node struct {
	name string
	spec topology.NodeSpec
	log  *logger.Logger

	dataDir      string
	configFile   string
	macaroonFile string
	binary       string
	cliBinary    string
	rpcUser      string
	rpcPass      string

	pubkey  string
	process *runner.Process
}

// New creates the adapter without starting any process. Binaries are
// resolved here so a missing lnd installation fails early.
func New(name string, spec topology.NodeSpec, nodedataDir, binaryFolder, rpcUser, rpcPass string, log *logger.Logger) (*Node, error) {
	binary, err := runner.LookupBinary(binaryFolder, "lnd")
	if err != nil {
		return nil, err
	}
	cliBinary, err := runner.LookupBinary(binaryFolder, "lncli")
	if err != nil {
		return nil, err
	}

	dataDir := filepath.Join(nodedataDir, "lndnodes", name)
	return &Node{
		name:         name,
		spec:         spec,
		log:          log.With("node", name),
		dataDir:      dataDir,
		configFile:   filepath.Join(dataDir, "lnd.conf"),
		macaroonFile: filepath.Join(dataDir, "data/chain/bitcoin/regtest/admin.macaroon"),
		binary:       binary,
		cliBinary:    cliBinary,
		rpcUser:      rpcUser,
		rpcPass:      rpcPass,
	}, nil
}

func (n *Node) Name() string              { return n.name }
func (n *Node) Kind() topology.DaemonKind { return topology.DaemonLND }
func (n *Node) Host() string              { return fmt.Sprintf("localhost:%d", n.spec.Port) }

func (n *Node) cliArgs() []string {
	return []string{
		"--lnddir=" + n.dataDir,
		"--rpcserver=localhost:" + strconv.Itoa(n.spec.GRPCPort),
		"--macaroonpath=" + n.macaroonFile,
		"--network=regtest",
	}
}

// CLICommand returns the lncli invocation for driving this node from a
// shell.
func (n *Node) CLICommand() string {
	return n.cliBinary + " " + strings.Join(n.cliArgs(), " ")
}

// Start spawns lnd and blocks until the wallet rescan marker appears in
// its log output.
func (n *Node) Start(ctx context.Context, fresh bool) error {
	if fresh {
		if err := n.clearDirectory(); err != nil {
			return err
		}
		if err := n.setupDataDir(); err != nil {
			return err
		}
	} else {
		if _, err := os.Stat(n.dataDir); err != nil {
			return apperrors.NewNotFoundError(
				n.name+": lnd data directory not found (from scratch = false)",
				map[string]interface{}{"dir": n.dataDir})
		}
	}

	process, err := runner.Start("lnd-"+n.name, n.log, n.binary,
		[]string{"--lnddir=" + n.dataDir, "--noseedbackup"}, nil)
	if err != nil {
		return err
	}
	n.process = process

	if _, err := process.WaitForLog(ctx, readyMarker, 0, startupTimeout); err != nil {
		return err
	}
	n.log.Info("lnd started")
	return nil
}

// Stop issues a graceful shutdown RPC and waits for the process to exit.
func (n *Node) Stop() error {
	if _, err := n.cli("stop"); err != nil {
		return err
	}
	if err := n.process.Wait(stopTimeout); err != nil {
		return err
	}
	n.log.Info("lnd stopped")
	return nil
}

func (n *Node) setupDataDir() error {
	if err := os.MkdirAll(n.dataDir, 0o755); err != nil {
		return errors.Wrapf(err, "%s: failed to create lnd data directory", n.name)
	}

	tmpl, err := template.New("lnd.conf").Funcs(sprig.TxtFuncMap()).Parse(configTemplate)
	if err != nil {
		return errors.Wrap(err, "failed to parse lnd config template")
	}
	var buf bytes.Buffer
	err = tmpl.Execute(&buf, configData{
		Name:        n.name,
		Port:        n.spec.Port,
		RESTPort:    n.spec.RESTPort,
		GRPCPort:    n.spec.GRPCPort,
		BaseFeeMsat: n.spec.BaseFeeMsat,
		FeeRatePPM:  int64(1e6 * n.spec.FeeRate),
		RPCUser:     n.rpcUser,
		RPCPass:     n.rpcPass,
	})
	if err != nil {
		return errors.Wrap(err, "failed to render lnd config")
	}
	return os.WriteFile(n.configFile, buf.Bytes(), 0o644)
}

func (n *Node) clearDirectory() error {
	n.log.Debug("Cleaning up lnd data directory")
	return os.RemoveAll(n.dataDir)
}

// cli invokes lncli; any non-zero exit is an RPC error carrying stderr.
func (n *Node) cli(args ...string) (*runner.Result, error) {
	res, err := runner.Exec(n.log, n.cliBinary, append(n.cliArgs(), args...)...)
	if err != nil {
		return nil, err
	}
	if err := res.CheckExit(n.name + ": lncli " + args[0]); err != nil {
		return nil, err
	}
	return res, nil
}

// GetInfo returns the raw getinfo report.
func (n *Node) GetInfo() (map[string]interface{}, error) {
	res, err := n.cli("getinfo")
	if err != nil {
		return nil, err
	}
	var info map[string]interface{}
	if err := res.DecodeJSON(&info); err != nil {
		return nil, err
	}
	return info, nil
}

// GetNetworkInfo returns lnd's summary statistics of the known graph.
func (n *Node) GetNetworkInfo() (map[string]interface{}, error) {
	res, err := n.cli("getnetworkinfo")
	if err != nil {
		return nil, err
	}
	var info map[string]interface{}
	if err := res.DecodeJSON(&info); err != nil {
		return nil, err
	}
	return info, nil
}

// GetPubkey resolves and caches the node's identity pubkey. The identity
// is stable for a given data directory.
func (n *Node) GetPubkey() (string, error) {
	if n.pubkey != "" {
		return n.pubkey, nil
	}
	res, err := n.cli("getinfo")
	if err != nil {
		return "", err
	}
	var info struct {
		IdentityPubkey string `json:"identity_pubkey"`
	}
	if err := res.DecodeJSON(&info); err != nil {
		return "", err
	}
	n.pubkey = info.IdentityPubkey
	return n.pubkey, nil
}

// GetAddress requests a fresh p2wkh receive address.
func (n *Node) GetAddress() (string, error) {
	res, err := n.cli("newaddress", "p2wkh")
	if err != nil {
		return "", err
	}
	var addr struct {
		Address string `json:"address"`
	}
	if err := res.DecodeJSON(&addr); err != nil {
		return "", err
	}
	return addr.Address, nil
}

// ConnectAndOpenChannel connects to the peer and opens a channel,
// pushing remoteSat to the remote side immediately.
func (n *Node) ConnectAndOpenChannel(ctx context.Context, peerPubkey, peerHost string, capacity, remoteSat int64) (string, error) {
	n.log.Info("Connecting to peer", "pubkey", peerPubkey, "host", peerHost)
	if err := n.connect(peerPubkey, peerHost); err != nil {
		return "", err
	}

	localSat := capacity - remoteSat
	n.log.Info("Opening channel", "pubkey", peerPubkey, "local_sat", localSat, "remote_sat", remoteSat)
	res, err := n.cli("openchannel", "--min_confs", "0", peerPubkey,
		strconv.FormatInt(localSat, 10), strconv.FormatInt(remoteSat, 10))
	if err != nil {
		return "", err
	}
	var open struct {
		FundingTxid string `json:"funding_txid"`
	}
	if err := res.DecodeJSON(&open); err != nil {
		return "", err
	}
	return open.FundingTxid, nil
}

func (n *Node) connect(peerPubkey, peerHost string) error {
	_, err := n.cli("connect", peerPubkey+"@"+peerHost)
	if err != nil && strings.Contains(err.Error(), "already connected") {
		return nil
	}
	return err
}

type listChannelsResponse struct {
	Channels []struct {
		Active        bool   `json:"active"`
		RemotePubkey  string `json:"remote_pubkey"`
		ChannelPoint  string `json:"channel_point"`
		ChanID        string `json:"chan_id"`
		Capacity      string `json:"capacity"`
		LocalBalance  string `json:"local_balance"`
		RemoteBalance string `json:"remote_balance"`
		CommitFee     string `json:"commit_fee"`
		Initiator     bool   `json:"initiator"`
	} `json:"channels"`
}

// ListChannels reports the node's channels, normalizing lnd's decimal
// channel id through the 8 byte packed representation.
func (n *Node) ListChannels() ([]nodetypes.ChannelState, error) {
	res, err := n.cli("listchannels")
	if err != nil {
		return nil, err
	}
	var resp listChannelsResponse
	if err := res.DecodeJSON(&resp); err != nil {
		return nil, err
	}

	states := make([]nodetypes.ChannelState, 0, len(resp.Channels))
	for _, ch := range resp.Channels {
		short, err := parseChanID(ch.ChanID)
		if err != nil {
			return nil, errors.Wrapf(err, "%s: listchannels", n.name)
		}
		txid, outputIndex, err := splitChannelPoint(ch.ChannelPoint)
		if err != nil {
			return nil, errors.Wrapf(err, "%s: listchannels", n.name)
		}

		status := nodetypes.ChannelOpening
		if ch.Active {
			status = nodetypes.ChannelOpen
		}
		states = append(states, nodetypes.ChannelState{
			ChannelID:     short.ToChannelID(),
			FundingTxid:   txid,
			OutputIndex:   outputIndex,
			Capacity:      atoi(ch.Capacity),
			LocalBalance:  atoi(ch.LocalBalance),
			RemoteBalance: atoi(ch.RemoteBalance),
			CommitFee:     atoi(ch.CommitFee),
			Initiator:     ch.Initiator,
			RemotePubkey:  ch.RemotePubkey,
			Status:        status,
		})
	}
	return states, nil
}

// WaitAllChannelsOpen is a no-op: lnd reflects confirmed channels in
// listchannels as soon as the confirmation blocks are mined.
func (n *Node) WaitAllChannelsOpen(ctx context.Context) error {
	return nil
}

// DescribeGraph returns lnd's local view of the full network graph.
func (n *Node) DescribeGraph() ([]nodetypes.GraphChannel, error) {
	res, err := n.cli("describegraph")
	if err != nil {
		return nil, err
	}
	var resp struct {
		Edges []struct {
			ChannelID string `json:"channel_id"`
			Node1Pub  string `json:"node1_pub"`
			Node2Pub  string `json:"node2_pub"`
		} `json:"edges"`
	}
	if err := res.DecodeJSON(&resp); err != nil {
		return nil, err
	}

	channels := make([]nodetypes.GraphChannel, 0, len(resp.Edges))
	for _, edge := range resp.Edges {
		short, err := parseChanID(edge.ChannelID)
		if err != nil {
			return nil, errors.Wrapf(err, "%s: describegraph", n.name)
		}
		channels = append(channels, nodetypes.GraphChannel{
			Node1Pubkey: edge.Node1Pub,
			Node2Pubkey: edge.Node2Pub,
			ChannelID:   short.ToChannelID(),
		})
	}
	return channels, nil
}

// UpdateChannelPolicy applies the node-wide forwarding fee policy.
func (n *Node) UpdateChannelPolicy(baseFeeMsat int64, feeRate float64) error {
	n.log.Info("Updating channel policy", "base_fee_msat", baseFeeMsat, "fee_rate", feeRate)
	_, err := n.cli("updatechanpolicy",
		strconv.FormatInt(baseFeeMsat, 10),
		strconv.FormatFloat(feeRate, 'f', -1, 64),
		"20")
	return err
}

// parseChanID decodes lnd's decimal channel id: the number is the big
// endian reading of the 8 byte short-channel-id encoding, so it is
// unpacked into the height/tx/output triple and repacked canonically.
func parseChanID(s string) (chanid.ShortChannelID, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return chanid.ShortChannelID{}, fmt.Errorf("bad channel id %q: %w", s, err)
	}
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return chanid.FromBytes(b[:])
}

func splitChannelPoint(point string) (string, uint16, error) {
	parts := strings.SplitN(point, ":", 2)
	if len(parts) != 2 {
		return "", 0, fmt.Errorf("bad channel point %q", point)
	}
	index, err := strconv.ParseUint(parts[1], 10, 16)
	if err != nil {
		return "", 0, fmt.Errorf("bad channel point %q: %w", point, err)
	}
	return parts[0], uint16(index), nil
}

func atoi(s string) int64 {
	v, _ := strconv.ParseInt(s, 10, 64)
	return v
}
