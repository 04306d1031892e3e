// Package electrum adapts an electrum Lightning wallet to the
// LightningNode capability set, and manages the ElectrumX server those
// wallets need on top of bitcoind. Electrum cannot push a remote amount
// at open time before its wallet has observed sufficient confirmed
// balance, so ConnectAndOpenChannel blocks on a funds-availability poll
// first. Short channel ids are reported as delimited decimal triples.
package electrum

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/Masterminds/sprig/v3"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/pkg/errors"

	"github.com/lnregnet/lnregnet/pkg/chanid"
	apperrors "github.com/lnregnet/lnregnet/pkg/errors"
	"github.com/lnregnet/lnregnet/pkg/logger"
	"github.com/lnregnet/lnregnet/pkg/nodes/nodetypes"
	"github.com/lnregnet/lnregnet/pkg/nodes/runner"
	"github.com/lnregnet/lnregnet/pkg/topology"
)

const (
	startupTimeout = 90 * time.Second
	startupPoll    = time.Second
	stopTimeout    = 30 * time.Second

	// fundsTimeout bounds the confirmed-balance wait before a channel
	// open. The poll itself is expected behavior, not an error; only
	// expiry is.
	fundsTimeout = 2 * time.Minute
	fundsPoll    = time.Second

	channelsOpenTimeout = 90 * time.Second
	channelsOpenPoll    = time.Second
)

const configTemplate = `{
    "regtest": true,
    "oneserver": true,
    "server": "localhost:{{ .ServerPort }}:t",
    "lightning_listen": "localhost:{{ .Port }}",
    "log_to_file": true,
    "dynamic_fees": false
}
`

type configData struct {
	Port       int
	ServerPort int
}

// Node drives one electrum wallet daemon.
type Node struct {
	name string
	spec topology.NodeSpec
	log  *logger.Logger

	dataDir    string
	configFile string
	binary     string
	serverPort int

	pubkey  string
	process *runner.Process
}

// New creates the adapter without starting any process.
func New(name string, spec topology.NodeSpec, nodedataDir, binaryFolder string, log *logger.Logger) (*Node, error) {
	binary, err := runner.LookupBinary(binaryFolder, "electrum")
	if err != nil {
		return nil, err
	}

	dataDir := filepath.Join(nodedataDir, "electrumnodes", name)
	return &Node{
		name:       name,
		spec:       spec,
		log:        log.With("node", name),
		dataDir:    dataDir,
		configFile: filepath.Join(dataDir, "regtest", "config"),
		binary:     binary,
		serverPort: DefaultServerPort,
	}, nil
}

func (n *Node) Name() string              { return n.name }
func (n *Node) Kind() topology.DaemonKind { return topology.DaemonElectrum }
func (n *Node) Host() string              { return fmt.Sprintf("localhost:%d", n.spec.Port) }

func (n *Node) cliArgs() []string {
	return []string{"--regtest", "-D", n.dataDir}
}

// CLICommand returns the electrum invocation for driving this node from
// a shell.
func (n *Node) CLICommand() string {
	return n.binary + " " + strings.Join(n.cliArgs(), " ")
}

// Start spawns the electrum daemon and blocks until its status RPC
// answers. Readiness is a polled status call here, not a log marker:
// electrum's RPC comes up before its log output settles.
func (n *Node) Start(ctx context.Context, fresh bool) error {
	if fresh {
		if err := os.RemoveAll(n.dataDir); err != nil {
			return errors.Wrapf(err, "%s: failed to clear electrum data directory", n.name)
		}
		if err := n.setupDataDir(); err != nil {
			return err
		}
		if err := n.createWallet(); err != nil {
			return err
		}
	} else {
		if _, err := os.Stat(n.dataDir); err != nil {
			return apperrors.NewNotFoundError(
				n.name+": electrum data directory not found (from scratch = false)",
				map[string]interface{}{"dir": n.dataDir})
		}
	}

	process, err := runner.Start("electrum-"+n.name, n.log, n.binary,
		append(n.cliArgs(), "daemon"), nil)
	if err != nil {
		return err
	}
	n.process = process

	if err := n.blockUntilStarted(ctx); err != nil {
		return err
	}
	if _, err := n.cli("load_wallet"); err != nil {
		return err
	}
	n.log.Info("electrum started")
	return nil
}

func (n *Node) blockUntilStarted(ctx context.Context) error {
	deadline := time.Now().Add(startupTimeout)
	for {
		res, err := runner.Exec(n.log, n.binary, append(n.cliArgs(), "getinfo")...)
		if err != nil {
			return err
		}
		if res.ExitCode == 0 {
			return nil
		}
		if !n.process.Running() {
			return apperrors.NewStartupError(n.name+": electrum exited during startup", nil, nil)
		}
		if time.Now().After(deadline) {
			return apperrors.NewStartupError(
				n.name+": electrum did not become ready", nil,
				map[string]interface{}{"timeout": startupTimeout.String()})
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(startupPoll):
		}
	}
}

// Stop shuts the daemon down via its control interface and waits for
// process exit.
func (n *Node) Stop() error {
	if _, err := n.cli("stop"); err != nil {
		return err
	}
	if err := n.process.Wait(stopTimeout); err != nil {
		return err
	}
	n.log.Info("electrum stopped")
	return nil
}

func (n *Node) setupDataDir() error {
	if err := os.MkdirAll(filepath.Dir(n.configFile), 0o755); err != nil {
		return errors.Wrapf(err, "%s: failed to create electrum data directory", n.name)
	}

	tmpl, err := template.New("config").Funcs(sprig.TxtFuncMap()).Parse(configTemplate)
	if err != nil {
		return errors.Wrap(err, "failed to parse electrum config template")
	}
	var buf bytes.Buffer
	err = tmpl.Execute(&buf, configData{
		Port:       n.spec.Port,
		ServerPort: n.serverPort,
	})
	if err != nil {
		return errors.Wrap(err, "failed to render electrum config")
	}
	return os.WriteFile(n.configFile, buf.Bytes(), 0o644)
}

func (n *Node) createWallet() error {
	res, err := runner.Exec(n.log, n.binary, append(n.cliArgs(), "create")...)
	if err != nil {
		return err
	}
	return res.CheckExit(n.name + ": electrum create")
}

func (n *Node) cli(args ...string) (*runner.Result, error) {
	res, err := runner.Exec(n.log, n.binary, append(n.cliArgs(), args...)...)
	if err != nil {
		return nil, err
	}
	if err := res.CheckExit(n.name + ": electrum " + args[0]); err != nil {
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

// GetNetworkInfo is unsupported: electrum keeps no summary of the
// network graph.
func (n *Node) GetNetworkInfo() (map[string]interface{}, error) {
	return nil, apperrors.NewRPCError(n.name+": electrum exposes no network statistics", "", nil)
}

// GetPubkey resolves and caches the wallet's Lightning node id.
func (n *Node) GetPubkey() (string, error) {
	if n.pubkey != "" {
		return n.pubkey, nil
	}
	res, err := n.cli("nodeid")
	if err != nil {
		return "", err
	}
	// nodeid may be reported as pubkey@host:port.
	pubkey := strings.Trim(res.Text(), `"`)
	if i := strings.IndexByte(pubkey, '@'); i >= 0 {
		pubkey = pubkey[:i]
	}
	n.pubkey = pubkey
	return n.pubkey, nil
}

// GetAddress requests a fresh receive address.
func (n *Node) GetAddress() (string, error) {
	res, err := n.cli("createnewaddress")
	if err != nil {
		return "", err
	}
	return strings.Trim(res.Text(), `"`), nil
}

// ConnectAndOpenChannel opens a channel to the peer. Electrum refuses to
// open before the funding amount is confirmed and spendable, so this
// blocks on a balance poll first.
func (n *Node) ConnectAndOpenChannel(ctx context.Context, peerPubkey, peerHost string, capacity, remoteSat int64) (string, error) {
	if _, err := n.cli("add_peer", peerPubkey+"@"+peerHost); err != nil {
		return "", err
	}

	if err := n.waitForFunds(ctx, btcutil.Amount(capacity)); err != nil {
		return "", err
	}

	n.log.Info("Opening channel", "pubkey", peerPubkey, "capacity", capacity, "push_sat", remoteSat)
	amount := strconv.FormatFloat(btcutil.Amount(capacity).ToBTC(), 'f', 8, 64)
	args := []string{"open_channel", peerPubkey + "@" + peerHost, amount}
	if remoteSat > 0 {
		args = append(args, "--push_amount", strconv.FormatInt(remoteSat, 10))
	}
	res, err := n.cli(args...)
	if err != nil {
		return "", err
	}

	// open_channel reports the funding outpoint as txid:index.
	outpoint := strings.Trim(res.Text(), `"`)
	txid := outpoint
	if i := strings.IndexByte(outpoint, ':'); i >= 0 {
		txid = outpoint[:i]
	}
	return txid, nil
}

// waitForFunds polls the wallet balance until the needed amount is
// confirmed and nothing is pending.
func (n *Node) waitForFunds(ctx context.Context, needed btcutil.Amount) error {
	deadline := time.Now().Add(fundsTimeout)
	for {
		confirmed, unconfirmed, err := n.balance()
		if err != nil {
			return err
		}
		if confirmed >= needed && unconfirmed == 0 {
			return nil
		}
		n.log.Debug("Waiting for confirmed funds",
			"needed", needed.String(), "confirmed", confirmed.String(), "unconfirmed", unconfirmed.String())
		if time.Now().After(deadline) {
			return apperrors.NewStartupError(
				n.name+": funds did not confirm before channel open", nil,
				map[string]interface{}{"needed": needed.String(), "timeout": fundsTimeout.String()})
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(fundsPoll):
		}
	}
}

func (n *Node) balance() (confirmed, unconfirmed btcutil.Amount, err error) {
	res, err := n.cli("getbalance")
	if err != nil {
		return 0, 0, err
	}
	var bal struct {
		Confirmed   string `json:"confirmed"`
		Unconfirmed string `json:"unconfirmed"`
	}
	if err := res.DecodeJSON(&bal); err != nil {
		return 0, 0, err
	}
	confirmed, err = parseBTC(bal.Confirmed)
	if err != nil {
		return 0, 0, errors.Wrapf(err, "%s: getbalance", n.name)
	}
	if bal.Unconfirmed != "" {
		unconfirmed, err = parseBTC(bal.Unconfirmed)
		if err != nil {
			return 0, 0, errors.Wrapf(err, "%s: getbalance", n.name)
		}
	}
	return confirmed, unconfirmed, nil
}

func parseBTC(s string) (btcutil.Amount, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, err
	}
	return btcutil.NewAmount(v)
}

type listChannelItem struct {
	ShortChannelID string `json:"short_channel_id"`
	ChannelPoint   string `json:"channel_point"`
	State          string `json:"state"`
	RemotePubkey   string `json:"remote_pubkey"`
	LocalBalance   int64  `json:"local_balance"`
	RemoteBalance  int64  `json:"remote_balance"`
	Capacity       int64  `json:"capacity"`
	Initiator      bool   `json:"initiator"`
}

// ListChannels reports the wallet's channels, normalizing the delimited
// short channel id triple. Channels without a short channel id yet are
// reported as OPENING with a zero channel id.
func (n *Node) ListChannels() ([]nodetypes.ChannelState, error) {
	res, err := n.cli("list_channels")
	if err != nil {
		return nil, err
	}
	var items []listChannelItem
	if err := res.DecodeJSON(&items); err != nil {
		return nil, err
	}

	states := make([]nodetypes.ChannelState, 0, len(items))
	for _, item := range items {
		var channelID uint64
		if item.ShortChannelID != "" {
			short, err := chanid.ParseDelimited(item.ShortChannelID)
			if err != nil {
				return nil, errors.Wrapf(err, "%s: list_channels", n.name)
			}
			channelID = short.ToChannelID()
		}

		txid := item.ChannelPoint
		var outputIndex uint16
		if i := strings.IndexByte(item.ChannelPoint, ':'); i >= 0 {
			txid = item.ChannelPoint[:i]
			v, err := strconv.ParseUint(item.ChannelPoint[i+1:], 10, 16)
			if err != nil {
				return nil, errors.Wrapf(err, "%s: bad channel point %q", n.name, item.ChannelPoint)
			}
			outputIndex = uint16(v)
		}

		status := nodetypes.ChannelOpening
		if item.State == "OPEN" {
			status = nodetypes.ChannelOpen
		}
		states = append(states, nodetypes.ChannelState{
			ChannelID:     channelID,
			FundingTxid:   txid,
			OutputIndex:   outputIndex,
			Capacity:      item.Capacity,
			LocalBalance:  item.LocalBalance,
			RemoteBalance: item.RemoteBalance,
			CommitFee:     0, // not reported by electrum
			Initiator:     item.Initiator,
			RemotePubkey:  item.RemotePubkey,
			Status:        status,
		})
	}
	return states, nil
}

// WaitAllChannelsOpen polls until every channel has left the OPENING
// state. Electrum takes noticeably longer than lnd to reflect channel
// confirmations.
func (n *Node) WaitAllChannelsOpen(ctx context.Context) error {
	deadline := time.Now().Add(channelsOpenTimeout)
	for {
		states, err := n.ListChannels()
		if err != nil {
			return err
		}
		allOpen := true
		for _, s := range states {
			if s.Status != nodetypes.ChannelOpen {
				allOpen = false
				break
			}
		}
		if allOpen {
			return nil
		}
		if time.Now().After(deadline) {
			return apperrors.NewStartupError(
				n.name+": channels did not reach OPEN state", nil,
				map[string]interface{}{"timeout": channelsOpenTimeout.String()})
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(channelsOpenPoll):
		}
	}
}

// DescribeGraph is unsupported: electrum exposes no global graph view.
func (n *Node) DescribeGraph() ([]nodetypes.GraphChannel, error) {
	return nil, apperrors.NewRPCError(n.name+": electrum exposes no network graph view", "", nil)
}

// UpdateChannelPolicy is not available on electrum; the configured fee
// policy is ignored for electrum nodes.
func (n *Node) UpdateChannelPolicy(baseFeeMsat int64, feeRate float64) error {
	n.log.Debug("Channel policy updates not supported, skipping",
		"base_fee_msat", baseFeeMsat, "fee_rate", feeRate)
	return nil
}
