package topology

// Reduce filters a topology down to the nodes whose name is lexically at
// or below nodeLimit and drops every channel whose target lies outside
// that limit. Dropped channels are not rewired. Empty daemon kinds are
// resolved to the lnd default so downstream code never sees an unset
// kind. The input is left untouched.
func Reduce(t *Topology, nodeLimit string) *Topology {
	reduced := &Topology{
		Name:  t.Name,
		Nodes: make(map[string]NodeSpec),
	}

	for _, name := range t.NodeNames() {
		if name > nodeLimit {
			continue
		}
		node := t.Nodes[name]
		if node.Daemon == "" {
			node.Daemon = DaemonLND
		}

		channels := make(map[int]ChannelSpec)
		for number, channel := range node.Channels {
			if channel.To > nodeLimit {
				continue
			}
			channels[number] = channel
		}
		node.Channels = channels

		reduced.Nodes[name] = node
	}

	return reduced
}
