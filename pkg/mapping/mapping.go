// Package mapping keeps the bidirectional identity mappings of one
// network run: node names to Lightning pubkeys, and topology channel
// numbers to their on-chain identities. Channel resolution is two-pass:
// the funding transaction id is recorded at open time, and the daemon's
// channel id is attached later once the channel confirms, joined on the
// funding txid.
package mapping

import (
	"encoding/gob"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	apperrors "github.com/lnregnet/lnregnet/pkg/errors"
)

const (
	nodeMappingFile    = "node_mapping.gob"
	channelMappingFile = "channel_mapping.gob"
)

// ChannelIdentity ties one topology channel number to its on-chain and
// protocol identifiers.
type ChannelIdentity struct {
	FundingTxid  string
	ChannelPoint string
	ChannelID    uint64
}

// Store holds the mappings of a run and persists them into the run's
// data directory so a restarted orchestration can resolve the network it
// left behind.
type Store struct {
	dir string

	nodePubkeys    map[string]string
	pubkeyNames    map[string]string
	channels       map[int]*ChannelIdentity
	channelNumbers map[uint64]int
}

// New creates an empty store persisting into dir.
func New(dir string) *Store {
	return &Store{
		dir:            dir,
		nodePubkeys:    make(map[string]string),
		pubkeyNames:    make(map[string]string),
		channels:       make(map[int]*ChannelIdentity),
		channelNumbers: make(map[uint64]int),
	}
}

// SetNodePubkey records both directions of the name/pubkey pair.
func (s *Store) SetNodePubkey(name, pubkey string) {
	s.nodePubkeys[name] = pubkey
	s.pubkeyNames[pubkey] = name
}

// Pubkey resolves a node name to its Lightning pubkey.
func (s *Store) Pubkey(name string) (string, error) {
	pubkey, ok := s.nodePubkeys[name]
	if !ok {
		return "", apperrors.NewNotFoundError("no pubkey known for node "+name, nil)
	}
	return pubkey, nil
}

// NodeName resolves a Lightning pubkey back to its node name.
func (s *Store) NodeName(pubkey string) (string, error) {
	name, ok := s.pubkeyNames[pubkey]
	if !ok {
		return "", apperrors.NewNotFoundError("no node known for pubkey "+pubkey, nil)
	}
	return name, nil
}

// NodePubkeys returns a copy of the name to pubkey mapping.
func (s *Store) NodePubkeys() map[string]string {
	out := make(map[string]string, len(s.nodePubkeys))
	for k, v := range s.nodePubkeys {
		out[k] = v
	}
	return out
}

// RecordFundingTxid registers the funding transaction of a channel
// number, the first pass of channel resolution.
func (s *Store) RecordFundingTxid(number int, fundingTxid string) {
	s.channels[number] = &ChannelIdentity{FundingTxid: fundingTxid}
}

// AttachChannelID completes a channel's identity once the daemon reports
// its confirmed channel id, joined on the funding txid recorded at open
// time. Reports without a matching funding txid are ignored: the daemon
// sees channels it did not initiate.
func (s *Store) AttachChannelID(fundingTxid string, channelID uint64, channelPoint string) bool {
	for number, identity := range s.channels {
		if identity.FundingTxid != fundingTxid {
			continue
		}
		identity.ChannelID = channelID
		identity.ChannelPoint = channelPoint
		s.channelNumbers[channelID] = number
		return true
	}
	return false
}

// Channel returns the identity of a topology channel number.
func (s *Store) Channel(number int) (*ChannelIdentity, error) {
	identity, ok := s.channels[number]
	if !ok {
		return nil, apperrors.NewNotFoundError("no identity known for channel", map[string]interface{}{"number": number})
	}
	return identity, nil
}

// ChannelNumber resolves a daemon-reported channel id back to the
// topology channel number.
func (s *Store) ChannelNumber(channelID uint64) (int, bool) {
	number, ok := s.channelNumbers[channelID]
	return number, ok
}

// ChannelCount reports how many channels have a recorded identity.
func (s *Store) ChannelCount() int {
	return len(s.channels)
}

// Unresolved returns the channel numbers still missing a channel id.
func (s *Store) Unresolved() []int {
	var numbers []int
	for number, identity := range s.channels {
		if identity.ChannelID == 0 {
			numbers = append(numbers, number)
		}
	}
	return numbers
}

type nodeMappingDisk struct {
	Pubkeys map[string]string
}

type channelMappingDisk struct {
	Channels map[int]*ChannelIdentity
}

// Save persists both mappings into the store's directory.
func (s *Store) Save() error {
	err := writeGob(filepath.Join(s.dir, nodeMappingFile),
		nodeMappingDisk{Pubkeys: s.nodePubkeys})
	if err != nil {
		return err
	}
	return writeGob(filepath.Join(s.dir, channelMappingFile),
		channelMappingDisk{Channels: s.channels})
}

// Load reads previously saved mappings and rebuilds the inverse indexes.
// A missing file means the directory does not hold a completed run.
func (s *Store) Load() error {
	var nodes nodeMappingDisk
	if err := readGob(filepath.Join(s.dir, nodeMappingFile), &nodes); err != nil {
		return err
	}
	var channels channelMappingDisk
	if err := readGob(filepath.Join(s.dir, channelMappingFile), &channels); err != nil {
		return err
	}

	s.nodePubkeys = nodes.Pubkeys
	s.channels = channels.Channels
	s.pubkeyNames = make(map[string]string, len(s.nodePubkeys))
	for name, pubkey := range s.nodePubkeys {
		s.pubkeyNames[pubkey] = name
	}
	s.channelNumbers = make(map[uint64]int, len(s.channels))
	for number, identity := range s.channels {
		if identity.ChannelID != 0 {
			s.channelNumbers[identity.ChannelID] = number
		}
	}
	return nil
}

func writeGob(path string, v interface{}) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "failed to create %s", filepath.Base(path))
	}
	defer f.Close()
	if err := gob.NewEncoder(f).Encode(v); err != nil {
		return errors.Wrapf(err, "failed to encode %s", filepath.Base(path))
	}
	return nil
}

func readGob(path string, v interface{}) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return apperrors.NewNotFoundError(
				"mapping file not found, the data directory does not hold a completed run",
				map[string]interface{}{"file": path})
		}
		return errors.Wrapf(err, "failed to open %s", filepath.Base(path))
	}
	defer f.Close()
	if err := gob.NewDecoder(f).Decode(v); err != nil {
		return errors.Wrapf(err, "failed to decode %s", filepath.Base(path))
	}
	return nil
}
