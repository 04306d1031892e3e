// Package bitcoind drives the regtest bitcoind process backing the
// Lightning network: data directory setup, process lifecycle, block
// mining and wallet funding. Control goes through bitcoin-cli, one
// subprocess per call.
package bitcoind

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"text/template"
	"time"

	"github.com/Masterminds/sprig/v3"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/pkg/errors"

	apperrors "github.com/lnregnet/lnregnet/pkg/errors"
	"github.com/lnregnet/lnregnet/pkg/logger"
	"github.com/lnregnet/lnregnet/pkg/nodes/runner"
)

const (
	// DefaultRPCUser and DefaultRPCPass are shared with the Lightning
	// daemons' generated configs so they can reach the chain backend.
	DefaultRPCUser = "lnd"
	DefaultRPCPass = "123456"
	// DefaultRPCPort is the regtest RPC port; ElectrumX dials it.
	DefaultRPCPort = 18443

	startupTimeout = 60 * time.Second
	startupPoll    = time.Second
	stopTimeout    = 30 * time.Second
)

const configTemplate = `txindex=1
zmqpubrawblock=tcp://127.0.0.1:{{ .ZMQBlockPort }}
zmqpubrawtx=tcp://127.0.0.1:{{ .ZMQTxPort }}
regtest=1
rpcuser={{ .RPCUser }}
rpcpassword={{ .RPCPass }}
fallbackfee=0.00001000
`

type configData struct {
	RPCUser      string
	RPCPass      string
	ZMQBlockPort int
	ZMQTxPort    int
}

// Controller owns the bitcoind process of one orchestration run.
type Controller struct {
	log *logger.Logger

	dataDir    string
	configFile string
	binary     string
	cliBinary  string

	process *runner.Process
}

// New creates a controller rooted in the run's data directory. Binaries
// are resolved immediately so a missing installation fails before any
// process is started.
func New(nodedataDir, binaryFolder string, log *logger.Logger) (*Controller, error) {
	binary, err := runner.LookupBinary(binaryFolder, "bitcoind")
	if err != nil {
		return nil, err
	}
	cliBinary, err := runner.LookupBinary(binaryFolder, "bitcoin-cli")
	if err != nil {
		return nil, err
	}

	dataDir := filepath.Join(nodedataDir, "bitcoin")
	return &Controller{
		log:        log.With("component", "bitcoind"),
		dataDir:    dataDir,
		configFile: filepath.Join(dataDir, "bitcoin.conf"),
		binary:     binary,
		cliBinary:  cliBinary,
	}, nil
}

// DataDir returns the bitcoind data directory inside the run directory.
func (c *Controller) DataDir() string {
	return c.dataDir
}

// RPCURL returns the URL ElectrumX uses to reach this daemon.
func (c *Controller) RPCURL() string {
	return fmt.Sprintf("http://%s:%s@localhost:%d", DefaultRPCUser, DefaultRPCPass, DefaultRPCPort)
}

// Start spawns bitcoind and blocks until its RPC interface answers. The
// control interface is synchronous from process start, so readiness is a
// bounded polling loop against getblockchaininfo: a non-zero exit while
// the daemon loads its block index means "not ready yet", not an error.
func (c *Controller) Start(ctx context.Context, fresh bool) error {
	if fresh {
		if err := c.clearDirectory(); err != nil {
			return err
		}
		if err := c.setupDataDir(); err != nil {
			return err
		}
	} else {
		if _, err := os.Stat(c.dataDir); err != nil {
			return apperrors.NewNotFoundError(
				"bitcoind data directory not found (from scratch = false)",
				map[string]interface{}{"dir": c.dataDir})
		}
	}

	process, err := runner.Start("bitcoind", c.log, c.binary,
		[]string{"-datadir=" + c.dataDir}, nil)
	if err != nil {
		return err
	}
	c.process = process

	if err := c.blockUntilStarted(ctx); err != nil {
		return err
	}
	c.log.Info("Bitcoind started")
	return nil
}

func (c *Controller) blockUntilStarted(ctx context.Context) error {
	deadline := time.Now().Add(startupTimeout)
	for {
		res, err := c.cli("getblockchaininfo")
		if err != nil {
			return err
		}
		if res.ExitCode == 0 {
			return nil
		}
		if !c.process.Running() {
			return apperrors.NewStartupError("bitcoind exited during startup", nil, nil)
		}
		if time.Now().After(deadline) {
			return apperrors.NewStartupError(
				"bitcoind did not become ready", nil,
				map[string]interface{}{"timeout": startupTimeout.String()})
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(startupPoll):
		}
	}
}

// Stop shuts bitcoind down through its control interface and waits for
// the process to exit.
func (c *Controller) Stop() error {
	res, err := c.cli("stop")
	if err != nil {
		return err
	}
	if err := res.CheckExit("bitcoin-cli stop"); err != nil {
		return err
	}
	if err := c.process.Wait(stopTimeout); err != nil {
		return err
	}
	c.log.Info("Bitcoind stopped")
	return nil
}

func (c *Controller) setupDataDir() error {
	if err := os.MkdirAll(c.dataDir, 0o755); err != nil {
		return errors.Wrap(err, "failed to create bitcoind data directory")
	}

	tmpl, err := template.New("bitcoin.conf").Funcs(sprig.TxtFuncMap()).Parse(configTemplate)
	if err != nil {
		return errors.Wrap(err, "failed to parse bitcoind config template")
	}
	var buf bytes.Buffer
	err = tmpl.Execute(&buf, configData{
		RPCUser:      DefaultRPCUser,
		RPCPass:      DefaultRPCPass,
		ZMQBlockPort: 28332,
		ZMQTxPort:    28333,
	})
	if err != nil {
		return errors.Wrap(err, "failed to render bitcoind config")
	}
	return os.WriteFile(c.configFile, buf.Bytes(), 0o644)
}

func (c *Controller) clearDirectory() error {
	c.log.Debug("Cleaning up bitcoind data directory")
	if err := os.RemoveAll(c.dataDir); err != nil {
		return errors.Wrap(err, "failed to clear bitcoind data directory")
	}
	return nil
}

func (c *Controller) cli(args ...string) (*runner.Result, error) {
	return runner.Exec(c.log, c.cliBinary,
		append([]string{"-datadir=" + c.dataDir}, args...)...)
}

// checkedCLI runs a bitcoin-cli command where a non-zero exit is a hard
// error.
func (c *Controller) checkedCLI(args ...string) (*runner.Result, error) {
	res, err := c.cli(args...)
	if err != nil {
		return nil, err
	}
	if err := res.CheckExit("bitcoin-cli " + args[0]); err != nil {
		return nil, err
	}
	return res, nil
}

// NewAddress generates a fresh bech32 address from the bitcoind wallet.
func (c *Controller) NewAddress() (string, error) {
	res, err := c.checkedCLI("getnewaddress", "", "bech32")
	if err != nil {
		return "", err
	}
	return res.Text(), nil
}

// MineBlocks generates n blocks to a freshly generated address.
func (c *Controller) MineBlocks(n int) error {
	c.log.Info("Mining blocks", "count", n)
	address, err := c.NewAddress()
	if err != nil {
		return err
	}
	_, err = c.checkedCLI("generatetoaddress", strconv.Itoa(n), address)
	return err
}

// FillAddresses generates n fresh addresses and mines one block to each,
// bootstrapping spendable coinbase outputs.
func (c *Controller) FillAddresses(n int) error {
	for i := 0; i < n; i++ {
		address, err := c.NewAddress()
		if err != nil {
			return err
		}
		if _, err := c.checkedCLI("generatetoaddress", "1", address); err != nil {
			return err
		}
		c.log.Debug("Mined to address", "address", address)
	}
	return nil
}

// SendToAddresses pays the given amount to each address.
func (c *Controller) SendToAddresses(addresses []string, amount btcutil.Amount) error {
	c.log.Info("Sending funds to addresses", "count", len(addresses), "amount", amount.String())
	for _, address := range addresses {
		btc := strconv.FormatFloat(amount.ToBTC(), 'f', 8, 64)
		if _, err := c.checkedCLI("sendtoaddress", address, btc); err != nil {
			return err
		}
	}
	return nil
}

// BlockHeight returns the current chain height.
func (c *Controller) BlockHeight() (int64, error) {
	res, err := c.checkedCLI("getblockchaininfo")
	if err != nil {
		return 0, err
	}
	var info struct {
		Blocks int64 `json:"blocks"`
	}
	if err := json.Unmarshal([]byte(res.Stdout), &info); err != nil {
		return 0, errors.Wrap(err, "failed to decode getblockchaininfo")
	}
	return info.Blocks, nil
}
