package mapping

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNodeMapping(t *testing.T) {
	s := New(t.TempDir())
	s.SetNodePubkey("A", "02aaaa")
	s.SetNodePubkey("B", "02bbbb")

	pubkey, err := s.Pubkey("A")
	require.NoError(t, err)
	assert.Equal(t, "02aaaa", pubkey)

	name, err := s.NodeName("02bbbb")
	require.NoError(t, err)
	assert.Equal(t, "B", name)

	_, err = s.Pubkey("Z")
	assert.Error(t, err)
	_, err = s.NodeName("02cccc")
	assert.Error(t, err)
}

func TestChannelResolution(t *testing.T) {
	s := New(t.TempDir())
	s.RecordFundingTxid(1, "txid-1")
	s.RecordFundingTxid(2, "txid-2")
	assert.ElementsMatch(t, []int{1, 2}, s.Unresolved())

	// The join is on the funding txid; foreign channels are ignored.
	assert.True(t, s.AttachChannelID("txid-1", 109951162908672, "txid-1:0"))
	assert.False(t, s.AttachChannelID("txid-unknown", 7, "txid-unknown:0"))
	assert.Equal(t, []int{2}, s.Unresolved())

	number, ok := s.ChannelNumber(109951162908672)
	require.True(t, ok)
	assert.Equal(t, 1, number)

	identity, err := s.Channel(1)
	require.NoError(t, err)
	assert.Equal(t, "txid-1", identity.FundingTxid)
	assert.Equal(t, "txid-1:0", identity.ChannelPoint)

	_, err = s.Channel(99)
	assert.Error(t, err)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()

	s := New(dir)
	s.SetNodePubkey("A", "02aaaa")
	s.SetNodePubkey("B", "02bbbb")
	s.RecordFundingTxid(1, "txid-1")
	require.True(t, s.AttachChannelID("txid-1", 109951162908672, "txid-1:0"))
	require.NoError(t, s.Save())

	loaded := New(dir)
	require.NoError(t, loaded.Load())

	pubkey, err := loaded.Pubkey("A")
	require.NoError(t, err)
	assert.Equal(t, "02aaaa", pubkey)

	// Inverse indexes are rebuilt on load.
	name, err := loaded.NodeName("02bbbb")
	require.NoError(t, err)
	assert.Equal(t, "B", name)

	number, ok := loaded.ChannelNumber(109951162908672)
	require.True(t, ok)
	assert.Equal(t, 1, number)

	identity, err := loaded.Channel(1)
	require.NoError(t, err)
	assert.Equal(t, "txid-1", identity.FundingTxid)
	assert.Empty(t, loaded.Unresolved())
}

func TestLoadMissingFiles(t *testing.T) {
	s := New(t.TempDir())
	assert.Error(t, s.Load())
}
