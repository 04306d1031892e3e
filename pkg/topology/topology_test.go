package topology

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadBuiltin(t *testing.T) {
	top, err := Load("star_ring")
	require.NoError(t, err)
	assert.Equal(t, "star_ring", top.Name)
	assert.Len(t, top.Nodes, 7)
	assert.Equal(t, 12, top.ChannelCount())
	require.NoError(t, Validate(top))
}

func TestLoadBuiltinElectrum(t *testing.T) {
	top, err := Load("star_ring_electrum")
	require.NoError(t, err)
	assert.Len(t, top.Nodes, 3)
	assert.True(t, top.HasDaemon(DaemonElectrum))
	require.NoError(t, Validate(top))
}

func TestLoadUnknownBuiltin(t *testing.T) {
	_, err := Load("no_such_network")
	assert.Error(t, err)
}

func TestLoadFromFile(t *testing.T) {
	definition := `nodes:
  A:
    port: 9735
    grpc_port: 11009
    channels:
      1: {to: B, capacity: 1000000, ratio_local: 1, ratio_remote: 1}
  B:
    port: 9736
    grpc_port: 11010
`
	path := filepath.Join(t.TempDir(), "two_nodes.yaml")
	require.NoError(t, os.WriteFile(path, []byte(definition), 0o644))

	top, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "two_nodes", top.Name)
	require.NoError(t, Validate(top))

	channel := top.Nodes["A"].Channels[1]
	assert.Equal(t, "B", channel.To)
	assert.Equal(t, int64(500000), channel.RemoteSat())
	assert.Equal(t, int64(500000), channel.LocalSat())
}

func TestLoadFromMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestBuiltinNames(t *testing.T) {
	names := BuiltinNames()
	assert.Contains(t, names, "star_ring")
	assert.Contains(t, names, "star_ring_electrum")
}

func TestChannelSpecRatios(t *testing.T) {
	// A 10:9 split pushes 9/19 of the capacity to the remote side.
	c := ChannelSpec{To: "B", Capacity: 1900, RatioLocal: 10, RatioRemote: 9}
	assert.Equal(t, int64(900), c.RemoteSat())
	assert.Equal(t, int64(1000), c.LocalSat())

	// Unset ratios keep everything local.
	c = ChannelSpec{To: "B", Capacity: 1000}
	assert.Equal(t, int64(0), c.RemoteSat())
	assert.Equal(t, int64(1000), c.LocalSat())
}
