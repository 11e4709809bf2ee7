package networks

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
)

//go:embed networks.json
var embeddedNetworksJSON []byte

var (
	ErrUnknownNetwork = errors.New("networks: unknown network")
	ErrEmpty          = errors.New("networks: resource has no networks")
)

// Registry is the read-only network resource, loaded once at startup.
type Registry struct {
	byName map[string]Network
}

// Default loads the resource bundled with the binary.
func Default() (*Registry, error) {
	return Load(bytes.NewReader(embeddedNetworksJSON))
}

// LoadFile loads the resource from path, or the bundled one when path is empty.
func LoadFile(path string) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return Default()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("networks: open %s: %w", path, err)
	}
	defer f.Close()
	return Load(f)
}

func Load(r io.Reader) (*Registry, error) {
	raw := map[string]Network{}
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("networks: decode: %w", err)
	}
	if len(raw) == 0 {
		return nil, ErrEmpty
	}

	reg := &Registry{byName: make(map[string]Network, len(raw))}
	for key, n := range raw {
		name := NormalizeName(key)
		if name == "" {
			return nil, fmt.Errorf("networks: empty network key")
		}
		if _, dup := reg.byName[name]; dup {
			return nil, fmt.Errorf("networks: duplicate network %q", name)
		}
		n.Name = name
		if n.Tokens == nil {
			n.Tokens = map[string]Token{}
		}
		reg.byName[name] = n
	}
	return reg, nil
}

// NormalizeName lowercases a network name and maps provider aliases.
func NormalizeName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "homestead" {
		return "mainnet"
	}
	return name
}

func (r *Registry) Lookup(name string) (Network, error) {
	n, ok := r.byName[NormalizeName(name)]
	if !ok {
		return Network{}, fmt.Errorf("%w: %q", ErrUnknownNetwork, name)
	}
	return n, nil
}

func (r *Registry) ByChainID(chainID uint64) (Network, error) {
	for _, n := range r.byName {
		if n.ChainID != 0 && n.ChainID == chainID {
			return n, nil
		}
	}
	return Network{}, fmt.Errorf("%w: chainId %d", ErrUnknownNetwork, chainID)
}

func (r *Registry) IsSupported(name string) bool {
	_, ok := r.byName[NormalizeName(name)]
	return ok
}

// Names returns the supported network names in stable order.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.byName))
	for name := range r.byName {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// MissingRoles lists the contract slots a network leaves unresolved. Handles
// for those roles are never constructed.
func (r *Registry) MissingRoles(name string) ([]Role, error) {
	n, err := r.Lookup(name)
	if err != nil {
		return nil, err
	}
	var missing []Role
	for _, role := range AllRoles {
		if _, ok := n.Address(role); !ok {
			missing = append(missing, role)
		}
	}
	return missing, nil
}
