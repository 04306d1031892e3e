package network

import (
	"sort"

	"github.com/pkg/errors"
)

// Edge is one channel seen from one endpoint. Every channel therefore
// appears twice in a Graph, once per endpoint, with local and remote
// balances swapped.
type Edge struct {
	RemoteName    string
	Capacity      int64
	LocalBalance  int64
	RemoteBalance int64
	CommitFee     int64
	Initiator     bool
}

// Graph maps node name to channel number to the edge as that node sees
// it.
type Graph map[string]map[int]Edge

// AssembleGraph queries every node's channel list and assembles the
// balance graph, resolving daemon identifiers back to node names and
// channel numbers through the mapping store.
func (n *Network) AssembleGraph() (Graph, error) {
	graph := make(Graph, len(n.nodes))
	for _, name := range n.topology.NodeNames() {
		node := n.nodes[name]
		states, err := node.ListChannels()
		if err != nil {
			return nil, err
		}

		edges := make(map[int]Edge, len(states))
		for _, state := range states {
			number, ok := n.mappings.ChannelNumber(state.ChannelID)
			if !ok {
				return nil, errors.Errorf(
					"%s reports channel id %d that maps to no known channel number",
					name, state.ChannelID)
			}
			remoteName, err := n.mappings.NodeName(state.RemotePubkey)
			if err != nil {
				return nil, err
			}
			edges[number] = Edge{
				RemoteName:    remoteName,
				Capacity:      state.Capacity,
				LocalBalance:  state.LocalBalance,
				RemoteBalance: state.RemoteBalance,
				CommitFee:     state.CommitFee,
				Initiator:     state.Initiator,
			}
		}
		graph[name] = edges
	}
	return graph, nil
}

// GraphViewChannel is one channel of the master node's network graph
// view, translated to topology identifiers. Node names are ordered
// alphabetically within each channel.
type GraphViewChannel struct {
	Node1         string
	Node2         string
	ChannelNumber int
}

// MasterNodeGraphView asks the master node for its view of the public
// network graph and translates it to node names and channel numbers. The
// result is sorted by first node name, then channel number. Daemons
// without a graph view yield an empty result.
func (n *Network) MasterNodeGraphView() ([]GraphViewChannel, error) {
	channels, err := n.master.DescribeGraph()
	if err != nil {
		n.log.Warn("Master node exposes no graph view, skipping", "error", err)
		return nil, nil
	}

	view := make([]GraphViewChannel, 0, len(channels))
	for _, ch := range channels {
		number, ok := n.mappings.ChannelNumber(ch.ChannelID)
		if !ok {
			return nil, errors.Errorf(
				"master graph reports channel id %d that maps to no known channel number",
				ch.ChannelID)
		}
		node1, err := n.mappings.NodeName(ch.Node1Pubkey)
		if err != nil {
			return nil, err
		}
		node2, err := n.mappings.NodeName(ch.Node2Pubkey)
		if err != nil {
			return nil, err
		}
		if node2 < node1 {
			node1, node2 = node2, node1
		}
		view = append(view, GraphViewChannel{Node1: node1, Node2: node2, ChannelNumber: number})
	}

	sort.Slice(view, func(i, j int) bool {
		if view[i].Node1 != view[j].Node1 {
			return view[i].Node1 < view[j].Node1
		}
		return view[i].ChannelNumber < view[j].ChannelNumber
	})
	return view, nil
}
