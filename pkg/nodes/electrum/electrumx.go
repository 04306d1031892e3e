package electrum

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/lnregnet/lnregnet/pkg/logger"
	"github.com/lnregnet/lnregnet/pkg/nodes/runner"
)

const (
	// DefaultServerPort is the TCP port electrum wallets connect to.
	DefaultServerPort = 50001
	// DefaultRPCPort is ElectrumX's own control RPC port.
	DefaultRPCPort = 8000

	serverReadyMarker  = "TCP server listening"
	serverStartTimeout = 60 * time.Second
	serverStopTimeout  = 30 * time.Second
)

// Server manages the ElectrumX process electrum wallets depend on. The
// process takes its entire configuration from environment variables set
// immediately before spawning it.
type Server struct {
	log *logger.Logger

	dbDir      string
	daemonURL  string
	binary     string
	rpcBinary  string
	serverPort int
	rpcPort    int

	process *runner.Process
}

// NewServer creates the controller. daemonURL points at the bitcoind RPC
// interface ElectrumX indexes.
func NewServer(nodedataDir, binaryFolder, daemonURL string, log *logger.Logger) (*Server, error) {
	binary, err := runner.LookupBinary(binaryFolder, "electrumx_server")
	if err != nil {
		return nil, err
	}
	rpcBinary, err := runner.LookupBinary(binaryFolder, "electrumx_rpc")
	if err != nil {
		return nil, err
	}

	return &Server{
		log:        log.With("component", "electrumx"),
		dbDir:      filepath.Join(nodedataDir, "electrumx"),
		daemonURL:  daemonURL,
		binary:     binary,
		rpcBinary:  rpcBinary,
		serverPort: DefaultServerPort,
		rpcPort:    DefaultRPCPort,
	}, nil
}

// Start spawns ElectrumX and blocks until it accepts wallet connections.
func (s *Server) Start(ctx context.Context) error {
	if err := os.MkdirAll(s.dbDir, 0o755); err != nil {
		return errors.Wrap(err, "failed to create electrumx db directory")
	}

	env := map[string]string{
		"DB_DIRECTORY": s.dbDir,
		"COIN":         "Bitcoin",
		"NET":          "regtest",
		"DAEMON_URL":   s.daemonURL,
		"SERVICES": "tcp://localhost:" + strconv.Itoa(s.serverPort) +
			",rpc://localhost:" + strconv.Itoa(s.rpcPort),
	}

	process, err := runner.Start("electrumx", s.log, s.binary, nil, env)
	if err != nil {
		return err
	}
	s.process = process

	if _, err := process.WaitForLog(ctx, serverReadyMarker, 0, serverStartTimeout); err != nil {
		return err
	}
	s.log.Info("ElectrumX started")
	return nil
}

// Stop shuts ElectrumX down through its RPC interface and waits for the
// process to exit.
func (s *Server) Stop() error {
	res, err := runner.Exec(s.log, s.rpcBinary, "-p", strconv.Itoa(s.rpcPort), "stop")
	if err != nil {
		return err
	}
	if err := res.CheckExit("electrumx_rpc stop"); err != nil {
		return err
	}
	if err := s.process.Wait(serverStopTimeout); err != nil {
		return err
	}
	s.log.Info("ElectrumX stopped")
	return nil
}
