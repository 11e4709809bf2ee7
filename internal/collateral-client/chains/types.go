package chains

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Backend is the node surface the client needs: contract calls and
// transactions, receipts for mining, and a few account/chain reads.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend

	ChainID(ctx context.Context) (*big.Int, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

type AllChainsConfig struct {
	Networks      map[string]NetworkConfig `json:"networks" yaml:"networks" mapstructure:"networks"`
	ActiveNetwork string                   `json:"activeNetwork" yaml:"activeNetwork" mapstructure:"activeNetwork"`
	ActiveRPC     string                   `json:"activeRPC" yaml:"activeRPC" mapstructure:"activeRPC"`
}

// NetworkConfig lists the RPC endpoints of a network.
type NetworkConfig struct {
	Name    string `json:"name" yaml:"name" mapstructure:"name"`
	ChainID uint64 `json:"chainId" yaml:"chainId" mapstructure:"chainId"`
	RPCs    []RPC  `json:"rpcs" yaml:"rpcs" mapstructure:"rpcs"`
}

type RPC struct {
	Name string `json:"name" yaml:"name" mapstructure:"name"`
	URL  string `json:"url" yaml:"url" mapstructure:"url"`
	WSS  string `json:"wss" yaml:"wss" mapstructure:"wss"`
}

// Normalize lowercases network keys and fills Name from the key.
func (mc *AllChainsConfig) Normalize() {
	if mc == nil || mc.Networks == nil {
		return
	}
	out := make(map[string]NetworkConfig, len(mc.Networks))
	for name, n := range mc.Networks {
		key := strings.ToLower(strings.TrimSpace(name))
		n.Name = key
		for i := range n.RPCs {
			n.RPCs[i].Name = strings.TrimSpace(n.RPCs[i].Name)
			n.RPCs[i].URL = strings.TrimSpace(n.RPCs[i].URL)
			n.RPCs[i].WSS = strings.TrimSpace(n.RPCs[i].WSS)
		}
		out[key] = n
	}
	mc.Networks = out
	mc.ActiveNetwork = strings.ToLower(strings.TrimSpace(mc.ActiveNetwork))
}

type ResolvedChain struct {
	NetworkName string
	ChainID     uint64

	RPCName string
	URL     string
	WSS     string
}

// Endpoint prefers the websocket endpoint; log subscriptions need it.
func (r ResolvedChain) Endpoint() string {
	if r.WSS != "" {
		return r.WSS
	}
	return r.URL
}
