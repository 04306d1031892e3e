package topology

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func twoNodeTopology() *Topology {
	return &Topology{
		Name: "test",
		Nodes: map[string]NodeSpec{
			"A": {
				Port:     9735,
				GRPCPort: 11009,
				Channels: map[int]ChannelSpec{
					1: {To: "B", Capacity: 1000000, RatioLocal: 1, RatioRemote: 1},
				},
			},
			"B": {Port: 9736, GRPCPort: 11010},
		},
	}
}

func TestValidateAccepts(t *testing.T) {
	require.NoError(t, Validate(twoNodeTopology()))
}

func TestValidateEmpty(t *testing.T) {
	err := Validate(&Topology{Nodes: map[string]NodeSpec{}})
	assert.Error(t, err)
}

func TestValidateNodeNameConvention(t *testing.T) {
	top := twoNodeTopology()
	// {A, B, D} skips C.
	top.Nodes["D"] = NodeSpec{Port: 9737, GRPCPort: 11011}
	err := Validate(top)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "convention")
}

func TestValidateDuplicateChannelNumber(t *testing.T) {
	top := twoNodeTopology()
	b := top.Nodes["B"]
	b.Channels = map[int]ChannelSpec{
		1: {To: "A", Capacity: 500000},
	}
	top.Nodes["B"] = b
	err := Validate(top)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channel number 1")
}

func TestValidateNonPositiveChannelNumber(t *testing.T) {
	top := twoNodeTopology()
	a := top.Nodes["A"]
	a.Channels = map[int]ChannelSpec{0: {To: "B", Capacity: 500000}}
	top.Nodes["A"] = a
	assert.Error(t, Validate(top))
}

func TestValidateDuplicatePort(t *testing.T) {
	top := twoNodeTopology()
	b := top.Nodes["B"]
	b.Port = top.Nodes["A"].Port
	top.Nodes["B"] = b
	err := Validate(top)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "port")
}

func TestValidateDuplicateGRPCPort(t *testing.T) {
	top := twoNodeTopology()
	b := top.Nodes["B"]
	b.GRPCPort = top.Nodes["A"].GRPCPort
	top.Nodes["B"] = b
	assert.Error(t, Validate(top))
}

func TestValidateDaemonKind(t *testing.T) {
	top := twoNodeTopology()
	a := top.Nodes["A"]
	a.Daemon = "clightning"
	top.Nodes["A"] = a
	err := Validate(top)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "daemon kind")
}
