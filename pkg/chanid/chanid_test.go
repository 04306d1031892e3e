package chanid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPack(t *testing.T) {
	// Channel in block 100, second transaction, first output:
	// 100<<40 | 2<<16 | 0.
	assert.Equal(t, uint64(109951162908672), Pack(100, 2, 0))
	assert.Equal(t, uint64(0), Pack(0, 0, 0))
}

func TestBothReportFormatsAgree(t *testing.T) {
	// The same on-chain channel reported as a delimited triple and as
	// the 8 byte binary encoding packs to the identical integer.
	fromText, err := ParseDelimited("100:2:0")
	require.NoError(t, err)

	fromBinary, err := FromBytes([]byte{0x00, 0x00, 0x64, 0x00, 0x00, 0x02, 0x00, 0x00})
	require.NoError(t, err)

	assert.Equal(t, uint64(109951162908672), fromText.ToChannelID())
	assert.Equal(t, fromText.ToChannelID(), fromBinary.ToChannelID())
}

func TestPackUnpackRoundTrip(t *testing.T) {
	cases := []ShortChannelID{
		{BlockHeight: 100, TxIndex: 2, OutputIndex: 0},
		{BlockHeight: 684, TxIndex: 1, OutputIndex: 0},
		{BlockHeight: 1 << 23, TxIndex: 77, OutputIndex: 3},
	}
	for _, c := range cases {
		assert.Equal(t, c, Unpack(c.ToChannelID()))
	}
}

func TestParseDelimited(t *testing.T) {
	// Both delimiter styles decode to the same triple.
	for _, s := range []string{"684x1x0", "684:1:0"} {
		id, err := ParseDelimited(s)
		require.NoError(t, err)
		assert.Equal(t, ShortChannelID{BlockHeight: 684, TxIndex: 1, OutputIndex: 0}, id)
	}
}

func TestParseDelimitedRejectsGarbage(t *testing.T) {
	for _, s := range []string{"", "684x1", "684x1x0x9", "axbxc"} {
		_, err := ParseDelimited(s)
		assert.Error(t, err, "input %q", s)
	}
}

func TestFromBytes(t *testing.T) {
	// The 8 byte big endian encoding of the packed value decodes back to
	// the same triple.
	want := ShortChannelID{BlockHeight: 684, TxIndex: 1, OutputIndex: 0}
	packed := want.ToChannelID()
	b := []byte{
		byte(packed >> 56), byte(packed >> 48), byte(packed >> 40), byte(packed >> 32),
		byte(packed >> 24), byte(packed >> 16), byte(packed >> 8), byte(packed),
	}
	got, err := FromBytes(b)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = FromBytes([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestFromHex(t *testing.T) {
	// 3 bytes height 684, 3 bytes tx index 1, 2 bytes output index 0.
	got, err := FromHex("0002ac0000010000")
	require.NoError(t, err)
	assert.Equal(t, ShortChannelID{BlockHeight: 684, TxIndex: 1, OutputIndex: 0}, got)

	_, err = FromHex("zz")
	assert.Error(t, err)
}

func TestString(t *testing.T) {
	id := ShortChannelID{BlockHeight: 684, TxIndex: 1, OutputIndex: 0}
	assert.Equal(t, "684:1:0", id.String())
}
