// Package topology holds the declarative description of a regtest
// Lightning network: which nodes exist, which daemon implementation backs
// each of them, and which channels connect them. Definitions are loaded
// once, validated once and reduced to the active node limit before any
// process is started.
package topology

import "sort"

// DaemonKind selects the Lightning daemon implementation backing a node.
type DaemonKind string

const (
	// DaemonLND is the default daemon kind.
	DaemonLND DaemonKind = "lnd"
	// DaemonElectrum selects an electrum Lightning wallet. Electrum nodes
	// additionally require an ElectrumX server on top of bitcoind.
	DaemonElectrum DaemonKind = "electrum"
)

// ChannelSpec describes one channel as seen from the declaring node.
type ChannelSpec struct {
	// To is the name of the remote node.
	To string `yaml:"to"`
	// Capacity is the total channel capacity in satoshi.
	Capacity int64 `yaml:"capacity"`
	// RatioLocal and RatioRemote split the capacity between the two
	// endpoints, e.g. 9:1 gives the opener 90% of the funds.
	RatioLocal  float64 `yaml:"ratio_local"`
	RatioRemote float64 `yaml:"ratio_remote"`
}

// RemoteSat returns the amount in satoshi pushed to the remote side when
// the channel is opened.
func (c ChannelSpec) RemoteSat() int64 {
	total := c.RatioLocal + c.RatioRemote
	if total == 0 {
		return 0
	}
	return int64(float64(c.Capacity) * c.RatioRemote / total)
}

// LocalSat returns the amount in satoshi kept on the opening side.
func (c ChannelSpec) LocalSat() int64 {
	return c.Capacity - c.RemoteSat()
}

// NodeSpec describes one Lightning node of the topology.
type NodeSpec struct {
	// Daemon is the daemon kind, empty means lnd.
	Daemon DaemonKind `yaml:"daemon,omitempty"`
	// Port is the peer-to-peer listening port.
	Port int `yaml:"port"`
	// GRPCPort is the control interface port.
	GRPCPort int `yaml:"grpc_port"`
	// RESTPort is the REST interface port.
	RESTPort int `yaml:"rest_port"`
	// BaseFeeMsat and FeeRate are the node's forwarding fee policy.
	BaseFeeMsat int64   `yaml:"base_fee_msat"`
	FeeRate     float64 `yaml:"fee_rate"`
	// Channels maps globally unique channel numbers to channel specs.
	Channels map[int]ChannelSpec `yaml:"channels"`
}

// Topology is a complete network definition keyed by node name. Node
// names are single uppercase letters assigned alphabetically from 'A'.
type Topology struct {
	// Name identifies the definition, e.g. "star_ring" or the base name
	// of the file it was loaded from. Runtime data directories are
	// suffixed with it.
	Name string `yaml:"-"`

	Nodes map[string]NodeSpec `yaml:"nodes"`
}

// NodeNames returns the node names in alphabetical order. Map iteration
// order is not stable in Go, and the orchestrator's startup, funding and
// channel-opening passes must be deterministic.
func (t *Topology) NodeNames() []string {
	names := make([]string, 0, len(t.Nodes))
	for name := range t.Nodes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ChannelCount returns the number of declared channels.
func (t *Topology) ChannelCount() int {
	n := 0
	for _, node := range t.Nodes {
		n += len(node.Channels)
	}
	return n
}

// HasDaemon reports whether any node uses the given daemon kind.
func (t *Topology) HasDaemon(kind DaemonKind) bool {
	for _, node := range t.Nodes {
		if node.Daemon == kind {
			return true
		}
	}
	return false
}

// SortedChannelNumbers returns a node's channel numbers in ascending
// order, for deterministic iteration.
func SortedChannelNumbers(channels map[int]ChannelSpec) []int {
	numbers := make([]int, 0, len(channels))
	for n := range channels {
		numbers = append(numbers, n)
	}
	sort.Ints(numbers)
	return numbers
}
