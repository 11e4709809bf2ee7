package chains

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/quantumauth-io/quantum-go-utils/log"
)

var ErrNoRPC = errors.New("chains: network has no usable rpc")

type ChainConfig struct {
	Chains           *AllChainsConfig
	PreferredRPCName string
}

// DialFunc opens a backend for a resolved endpoint.
type DialFunc func(ctx context.Context, chain ResolvedChain) (Backend, error)

// Service hands out one cached backend per network.
type Service struct {
	cfg  ChainConfig
	dial DialFunc

	mu               sync.Mutex
	backendByNetwork map[string]Backend
}

func NewService(cfg ChainConfig) (*Service, error) {
	return NewServiceWithDialer(cfg, dialEthClient)
}

func NewServiceWithDialer(cfg ChainConfig, dial DialFunc) (*Service, error) {
	if cfg.Chains == nil {
		return nil, errors.New("chains: config is nil")
	}
	if dial == nil {
		return nil, errors.New("chains: dialer is nil")
	}
	cfg.Chains.Normalize()

	return &Service{
		cfg:              cfg,
		dial:             dial,
		backendByNetwork: make(map[string]Backend),
	}, nil
}

// Backend returns (and caches) the backend for a network.
func (s *Service) Backend(ctx context.Context, networkName string) (Backend, error) {
	key := strings.ToLower(strings.TrimSpace(networkName))
	if key == "" {
		return nil, errors.New("chains: network name is empty")
	}

	s.mu.Lock()
	if existing := s.backendByNetwork[key]; existing != nil {
		s.mu.Unlock()
		return existing, nil
	}
	s.mu.Unlock()

	resolved, err := s.ResolveNetworkByName(key)
	if err != nil {
		return nil, err
	}

	// dial outside the lock
	dialed, err := s.dial(ctx, resolved)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if existing := s.backendByNetwork[key]; existing != nil {
		s.mu.Unlock()
		safeClose(dialed)
		return existing, nil
	}
	s.backendByNetwork[key] = dialed
	s.mu.Unlock()

	log.Info("chain backend ready", "network", key, "rpc", resolved.RPCName)
	return dialed, nil
}

// Close closes all cached backends.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, b := range s.backendByNetwork {
		safeClose(b)
		delete(s.backendByNetwork, key)
	}
	return nil
}

func (s *Service) ResolveNetworkByChainID(chainID uint64) (ResolvedChain, error) {
	if chainID == 0 {
		return ResolvedChain{}, errors.New("chains: chainID is 0")
	}
	for name, network := range s.cfg.Chains.Networks {
		if network.ChainID == chainID {
			return s.resolveFromNetworkConfig(name, network)
		}
	}
	return ResolvedChain{}, fmt.Errorf("chains: unknown chainID %d", chainID)
}

func (s *Service) ResolveNetworkByName(networkName string) (ResolvedChain, error) {
	key := strings.ToLower(strings.TrimSpace(networkName))
	network, ok := s.cfg.Chains.Networks[key]
	if !ok {
		return ResolvedChain{}, fmt.Errorf("chains: unknown network %q", networkName)
	}
	return s.resolveFromNetworkConfig(key, network)
}

func (s *Service) resolveFromNetworkConfig(networkName string, network NetworkConfig) (ResolvedChain, error) {
	var selected *RPC

	if preferred := strings.TrimSpace(s.cfg.PreferredRPCName); preferred != "" {
		for i := range network.RPCs {
			if strings.EqualFold(network.RPCs[i].Name, preferred) && usable(network.RPCs[i]) {
				selected = &network.RPCs[i]
				break
			}
		}
	}
	if selected == nil {
		for i := range network.RPCs {
			if usable(network.RPCs[i]) {
				selected = &network.RPCs[i]
				break
			}
		}
	}
	if selected == nil {
		return ResolvedChain{}, fmt.Errorf("%w: %s", ErrNoRPC, networkName)
	}

	return ResolvedChain{
		NetworkName: networkName,
		ChainID:     network.ChainID,
		RPCName:     selected.Name,
		URL:         selected.URL,
		WSS:         selected.WSS,
	}, nil
}

func usable(r RPC) bool {
	return r.URL != "" || r.WSS != ""
}

func dialEthClient(ctx context.Context, chain ResolvedChain) (Backend, error) {
	client, err := ethclient.DialContext(ctx, chain.Endpoint())
	if err != nil {
		return nil, fmt.Errorf("chains: dial %q: %w", chain.NetworkName, err)
	}
	return client, nil
}

func safeClose(b Backend) {
	if closer, ok := b.(interface{ Close() }); ok {
		closer.Close()
	}
}
