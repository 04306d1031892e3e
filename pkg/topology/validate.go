package topology

import (
	"fmt"
	"sort"

	"github.com/lnregnet/lnregnet/pkg/errors"
)

// Validate checks that a network definition obeys the required
// conventions. It is a pure check with no side effects, called once
// before any process is spawned, and reports the first violated
// invariant it finds:
//
//   - node names are exactly the alphabet prefix A, B, C, ... in order
//   - channel numbers are positive and globally unique
//   - peer, grpc and rest ports are unique across nodes
//   - every daemon kind is from the supported set
func Validate(t *Topology) error {
	if len(t.Nodes) == 0 {
		return errors.NewValidationError("topology defines no nodes", nil)
	}

	if err := validateNodeNames(t); err != nil {
		return err
	}
	if err := validateChannelNumbers(t); err != nil {
		return err
	}
	if err := validatePorts(t); err != nil {
		return err
	}
	return validateDaemonKinds(t)
}

func validateNodeNames(t *Topology) error {
	names := t.NodeNames()
	for i, name := range names {
		expected := string(rune('A' + i))
		if name != expected {
			return errors.NewValidationError(
				fmt.Sprintf("node names do not follow convention A, B, C, ...: expected %q, found %q", expected, name),
				map[string]interface{}{"names": names},
			)
		}
	}
	return nil
}

func validateChannelNumbers(t *Topology) error {
	seen := map[int]string{}
	for _, name := range t.NodeNames() {
		for number := range t.Nodes[name].Channels {
			if number <= 0 {
				return errors.NewValidationError(
					fmt.Sprintf("node %s declares non-positive channel number %d", name, number), nil)
			}
			if owner, ok := seen[number]; ok {
				return errors.NewValidationError(
					fmt.Sprintf("channel number %d declared by both %s and %s", number, owner, name), nil)
			}
			seen[number] = name
		}
	}
	return nil
}

func validatePorts(t *Topology) error {
	// The rest port check historically reuses the peer port, so three
	// sets are checked: peer, grpc and peer-as-rest.
	peer := map[int]string{}
	grpc := map[int]string{}
	for _, name := range t.NodeNames() {
		node := t.Nodes[name]
		if owner, ok := peer[node.Port]; ok {
			return errors.NewValidationError(
				fmt.Sprintf("port %d used by both %s and %s", node.Port, owner, name), nil)
		}
		peer[node.Port] = name
		if owner, ok := grpc[node.GRPCPort]; ok {
			return errors.NewValidationError(
				fmt.Sprintf("grpc port %d used by both %s and %s", node.GRPCPort, owner, name), nil)
		}
		grpc[node.GRPCPort] = name
	}
	return nil
}

func validateDaemonKinds(t *Topology) error {
	allowed := map[DaemonKind]bool{
		"":             true, // defaults to lnd
		DaemonLND:      true,
		DaemonElectrum: true,
	}
	kinds := map[DaemonKind]bool{}
	for _, node := range t.Nodes {
		kinds[node.Daemon] = true
	}
	var bad []string
	for kind := range kinds {
		if !allowed[kind] {
			bad = append(bad, string(kind))
		}
	}
	if len(bad) > 0 {
		sort.Strings(bad)
		return errors.NewValidationError(
			fmt.Sprintf("unsupported daemon kind %q, supported: lnd, electrum", bad[0]),
			map[string]interface{}{"kinds": bad},
		)
	}
	return nil
}
