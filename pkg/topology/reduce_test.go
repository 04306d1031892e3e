package topology

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReduceDropsNodesAndChannels(t *testing.T) {
	full, err := Load("star_ring")
	require.NoError(t, err)

	reduced := Reduce(full, "C")

	assert.Equal(t, []string{"A", "B", "C"}, reduced.NodeNames())
	for name, node := range reduced.Nodes {
		for number, channel := range node.Channels {
			assert.LessOrEqual(t, channel.To, "C",
				"node %s keeps channel %d to %s", name, number, channel.To)
		}
	}
	// The full definition is left untouched.
	assert.Len(t, full.Nodes, 7)
}

func TestReduceResolvesDefaultDaemon(t *testing.T) {
	full, err := Load("star_ring")
	require.NoError(t, err)

	reduced := Reduce(full, "Z")
	for name, node := range reduced.Nodes {
		assert.Equal(t, DaemonLND, node.Daemon, "node %s", name)
	}
}

func TestReduceKeepsEverythingAtDefaultLimit(t *testing.T) {
	full, err := Load("star_ring")
	require.NoError(t, err)

	reduced := Reduce(full, "Z")
	assert.Len(t, reduced.Nodes, len(full.Nodes))
	assert.Equal(t, full.ChannelCount(), reduced.ChannelCount())
}
