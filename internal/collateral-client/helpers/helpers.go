package helpers

import (
	"sort"
	"strings"

	"github.com/quantumauth-io/collateral-client/cmd/collateral-client/config"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/chains"
)

// ChainsConfigFromConfig converts the loaded RPC settings into the chain
// service configuration.
func ChainsConfigFromConfig(cfg *config.Config) *chains.AllChainsConfig {
	out := &chains.AllChainsConfig{Networks: NetworksMapFromConfig(cfg)}
	if cfg != nil && cfg.Ethereum != nil {
		out.ActiveNetwork = cfg.Ethereum.ActiveNetwork
		out.ActiveRPC = cfg.Ethereum.ActiveRPC
	}
	out.Normalize()
	return out
}

func NetworksMapFromConfig(cfg *config.Config) map[string]chains.NetworkConfig {
	list := NetworksFromConfig(cfg)
	out := make(map[string]chains.NetworkConfig, len(list))
	for _, n := range list {
		out[n.Name] = n
	}
	return out
}

func NetworksFromConfig(cfg *config.Config) []chains.NetworkConfig {
	if cfg == nil || cfg.Ethereum == nil || cfg.Ethereum.Networks == nil {
		return nil
	}

	out := make([]chains.NetworkConfig, 0, len(cfg.Ethereum.Networks))

	for name, n := range cfg.Ethereum.Networks {
		netName := strings.TrimSpace(n.Name)
		if netName == "" {
			netName = strings.TrimSpace(name)
		}

		rpcs := make([]chains.RPC, 0, len(n.RPCs))
		for _, r := range n.RPCs {
			rpcs = append(rpcs, chains.RPC{
				Name: strings.TrimSpace(r.Name),
				URL:  strings.TrimSpace(r.URL),
				WSS:  strings.TrimSpace(r.WSS),
			})
		}

		out = append(out, chains.NetworkConfig{
			Name:    strings.ToLower(netName),
			ChainID: n.ChainID,
			RPCs:    rpcs,
		})
	}

	// deterministic order
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	return out
}

func ZeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// IsAllowedPasswordChar accepts printable ASCII without spaces.
func IsAllowedPasswordChar(b byte) bool {
	return b > 0x20 && b < 0x7f
}
