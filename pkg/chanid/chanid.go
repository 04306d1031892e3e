// Package chanid converts between the representations of a Lightning
// short channel id. A channel is located on chain by the triple
// (block height, transaction index, output index); daemons report that
// triple in different encodings, and all of them normalize to the same
// packed 64 bit integer so that ids are comparable across daemon kinds.
package chanid

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// ShortChannelID is the on-chain location of a channel funding output.
type ShortChannelID struct {
	BlockHeight uint32
	TxIndex     uint32
	OutputIndex uint16
}

// Pack encodes the triple into the canonical 64 bit channel id:
// blockHeight << 40 | txIndex << 16 | outputIndex.
func Pack(blockHeight, txIndex uint32, outputIndex uint16) uint64 {
	return uint64(blockHeight)<<40 | uint64(txIndex)<<16 | uint64(outputIndex)
}

// Unpack decodes a packed channel id back into its triple.
func Unpack(channelID uint64) ShortChannelID {
	return ShortChannelID{
		BlockHeight: uint32(channelID >> 40),
		TxIndex:     uint32(channelID >> 16 & 0xFFFFFF),
		OutputIndex: uint16(channelID & 0xFFFF),
	}
}

// ToChannelID packs the triple.
func (s ShortChannelID) ToChannelID() uint64 {
	return Pack(s.BlockHeight, s.TxIndex, s.OutputIndex)
}

func (s ShortChannelID) String() string {
	return fmt.Sprintf("%d:%d:%d", s.BlockHeight, s.TxIndex, s.OutputIndex)
}

// ParseDelimited parses a short channel id reported as three decimal
// fields, either colon separated ("100:2:0") or x separated ("100x2x0").
func ParseDelimited(s string) (ShortChannelID, error) {
	sep := ":"
	if strings.ContainsRune(s, 'x') {
		sep = "x"
	}
	parts := strings.Split(strings.TrimSpace(s), sep)
	if len(parts) != 3 {
		return ShortChannelID{}, fmt.Errorf("short channel id %q: expected 3 fields, got %d", s, len(parts))
	}

	height, err := strconv.ParseUint(parts[0], 10, 24)
	if err != nil {
		return ShortChannelID{}, fmt.Errorf("short channel id %q: bad block height: %w", s, err)
	}
	txIndex, err := strconv.ParseUint(parts[1], 10, 24)
	if err != nil {
		return ShortChannelID{}, fmt.Errorf("short channel id %q: bad transaction index: %w", s, err)
	}
	outputIndex, err := strconv.ParseUint(parts[2], 10, 16)
	if err != nil {
		return ShortChannelID{}, fmt.Errorf("short channel id %q: bad output index: %w", s, err)
	}

	return ShortChannelID{
		BlockHeight: uint32(height),
		TxIndex:     uint32(txIndex),
		OutputIndex: uint16(outputIndex),
	}, nil
}

// FromBytes parses the 8 byte binary encoding: 3 bytes block height,
// 3 bytes transaction index, 2 bytes output index, big endian. This is
// byte-compatible with the big endian encoding of the packed integer.
func FromBytes(b []byte) (ShortChannelID, error) {
	if len(b) != 8 {
		return ShortChannelID{}, fmt.Errorf("short channel id: expected 8 bytes, got %d", len(b))
	}
	packed := binary.BigEndian.Uint64(b)
	return Unpack(packed), nil
}

// FromHex parses the hex string form of the 8 byte binary encoding.
func FromHex(s string) (ShortChannelID, error) {
	b, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return ShortChannelID{}, fmt.Errorf("short channel id %q: %w", s, err)
	}
	return FromBytes(b)
}
