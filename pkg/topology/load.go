package topology

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/lnregnet/lnregnet/pkg/errors"
)

//go:embed definitions/*.yaml
var definitions embed.FS

// Load resolves a network definition location. An absolute path is read
// from disk; anything else is looked up among the built-in definitions
// (e.g. "star_ring"). The returned topology is named after the
// definition so runtime data directories can be keyed by it.
func Load(location string) (*Topology, error) {
	if filepath.IsAbs(location) {
		return LoadFromFile(location)
	}

	data, err := definitions.ReadFile("definitions/" + location + ".yaml")
	if err != nil {
		return nil, errors.NewNotFoundError(
			fmt.Sprintf("unknown built-in network definition %q", location), nil)
	}
	return loadFromBytes(data, location)
}

// LoadFromFile reads a topology definition from a YAML file.
func LoadFromFile(path string) (*Topology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewNotFoundError(
				fmt.Sprintf("network definition file %s not found", path), nil)
		}
		return nil, fmt.Errorf("failed to read network definition %s: %w", path, err)
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return loadFromBytes(data, name)
}

func loadFromBytes(data []byte, name string) (*Topology, error) {
	var t Topology
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to parse network definition %s: %w", name, err)
	}
	t.Name = name
	return &t, nil
}

// BuiltinNames lists the embedded network definitions.
func BuiltinNames() []string {
	entries, err := definitions.ReadDir("definitions")
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), ".yaml"))
	}
	return names
}
