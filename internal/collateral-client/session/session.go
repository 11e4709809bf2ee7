// Package session owns the connected wallet: which provider and account are
// in use, on which network, and the contract handles of the current epoch.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/chains"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/contracts"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/metrics"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/networks"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/scope"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/wallet"
	"github.com/quantumauth-io/quantum-go-utils/log"
)

var (
	ErrInvalidTransition  = errors.New("session: invalid state transition")
	ErrWalletCheckFailed  = errors.New("session: wallet check failed")
	ErrUnsupportedNetwork = errors.New("session: unsupported network")
	ErrNotConnected       = errors.New("session: wallet not connected")
)

type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Reset
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reset:
		return "reset"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

var transitions = map[State][]State{
	Disconnected: {Connecting},
	Connecting:   {Connected, Disconnected},
	Connected:    {Disconnected, Reset},
	Reset:        {Connecting},
}

func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Snapshot is a point-in-time view of the session.
type Snapshot struct {
	State        State          `json:"state"`
	Provider     string         `json:"provider,omitempty"`
	Address      common.Address `json:"address"`
	Network      string         `json:"network,omitempty"`
	ChainID      uint64         `json:"chainId,omitempty"`
	WrongNetwork bool           `json:"wrongNetwork"`
	Epoch        uint64         `json:"epoch"`
}

func (s Snapshot) Connected() bool {
	return s.State == Connected
}

// BackendSource dials one backend per network.
type BackendSource interface {
	Backend(ctx context.Context, network string) (chains.Backend, error)
}

// ProviderCache persists the preferred provider name.
type ProviderCache interface {
	Load() (string, error)
	Save(name string) error
	Clear() error
}

type Config struct {
	Networks       *networks.Registry
	Backends       BackendSource
	Providers      *wallet.Registry
	Selector       wallet.Selector
	Cache          ProviderCache
	DefaultNetwork string
	HeadPoll       time.Duration
	Metrics        *metrics.Collectors
}

// epoch is everything that lives exactly as long as one connection.
type epoch struct {
	id       uint64
	scope    *scope.Scope
	provider wallet.Provider
	set      *contracts.Set
	heads    *chains.HeadFeed
}

type Manager struct {
	cfg    Config
	parent context.Context

	mu      sync.Mutex
	state   State
	snap    Snapshot
	counter uint64
	current *epoch

	fallbackMu    sync.Mutex
	fallback      *contracts.Set
	fallbackHeads *chains.HeadFeed

	feed event.Feed
}

// New returns a disconnected session. ctx bounds every epoch.
func New(ctx context.Context, cfg Config) (*Manager, error) {
	if cfg.Networks == nil || cfg.Backends == nil || cfg.Providers == nil {
		return nil, errors.New("session: networks, backends and providers are required")
	}
	if cfg.Selector == nil {
		cfg.Selector = wallet.TerminalSelector{}
	}
	if cfg.DefaultNetwork == "" {
		cfg.DefaultNetwork = "mainnet"
	}
	return &Manager{cfg: cfg, parent: ctx}, nil
}

func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap
}

// Subscribe delivers every snapshot change to ch. ch must be drained.
func (m *Manager) Subscribe(ch chan<- Snapshot) event.Subscription {
	return m.feed.Subscribe(ch)
}

// OnChange calls fn with every snapshot change until the returned stop is called.
func (m *Manager) OnChange(fn func(Snapshot)) (stop func()) {
	ch := make(chan Snapshot, 8)
	sub := m.feed.Subscribe(ch)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case s := <-ch:
				fn(s)
			case <-sub.Err():
				return
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			sub.Unsubscribe()
			<-done
		})
	}
}

// setStateLocked moves the state machine and returns the snapshot to publish.
func (m *Manager) setStateLocked(to State) error {
	if !canTransition(m.state, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.state, to)
	}
	m.state = to
	m.snap.State = to
	return nil
}

func (m *Manager) publish(s Snapshot) {
	m.cfg.Metrics.Epoch(s.Epoch)
	m.feed.Send(s)
}

// Connect selects a provider, checks the wallet and opens a new epoch. With
// preferCached it only reconnects a previously used provider and never
// prompts. Cancelled selection and failed checks leave the session
// disconnected without an error.
func (m *Manager) Connect(ctx context.Context, preferCached bool) (Snapshot, error) {
	m.mu.Lock()
	if m.state == Connected || m.state == Connecting {
		s := m.snap
		m.mu.Unlock()
		return s, nil
	}

	name := ""
	if preferCached {
		name = m.cachedName()
		if name == "" && m.state == Disconnected {
			s := m.snap
			m.mu.Unlock()
			return s, nil
		}
	}
	if err := m.setStateLocked(Connecting); err != nil {
		m.mu.Unlock()
		return m.Snapshot(), err
	}
	s := m.snap
	m.mu.Unlock()
	m.publish(s)

	if preferCached && name == "" {
		return m.abort(nil)
	}

	ep, err := m.open(ctx, name)
	if err != nil {
		return m.abort(err)
	}

	m.mu.Lock()
	if m.state != Connecting {
		// disconnected while the wallet was being checked
		m.mu.Unlock()
		ep.scope.Close()
		return m.Snapshot(), nil
	}
	m.counter++
	ep.id = m.counter
	m.current = ep
	_ = m.setStateLocked(Connected)
	m.snap = Snapshot{
		State:        Connected,
		Provider:     ep.provider.Name(),
		Address:      ep.set.Account,
		Network:      ep.set.Network.Name,
		ChainID:      ep.set.Network.ChainID,
		WrongNetwork: !ep.set.Writable(),
		Epoch:        ep.id,
	}
	s = m.snap
	m.mu.Unlock()

	events := make(chan wallet.Event, 8)
	sub := ep.scope.Track(ep.provider.Subscribe(events))
	// not scope.Go: a reset closes the scope from this goroutine
	go m.watch(ep, events, sub)

	log.Info("wallet connected", "provider", s.Provider, "address", s.Address.Hex(), "network", s.Network, "epoch", s.Epoch, "wrongNetwork", s.WrongNetwork)
	m.publish(s)
	return s, nil
}

func (m *Manager) cachedName() string {
	if m.cfg.Cache == nil {
		return ""
	}
	name, err := m.cfg.Cache.Load()
	if err != nil {
		log.Warn("provider cache unreadable", "error", err)
		return ""
	}
	return name
}

// open runs provider selection and the wallet check and builds the epoch.
func (m *Manager) open(ctx context.Context, name string) (*epoch, error) {
	if name == "" {
		selected, err := m.cfg.Selector.Select(ctx, m.cfg.Providers.Names())
		if err != nil {
			return nil, err
		}
		name = selected
	}
	provider, err := m.cfg.Providers.Get(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrWalletCheckFailed, err)
	}

	accounts, err := provider.Accounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrWalletCheckFailed, err)
	}
	if len(accounts) == 0 {
		return nil, fmt.Errorf("%w: %w", ErrWalletCheckFailed, wallet.ErrNoAccounts)
	}
	chainID, err := provider.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrWalletCheckFailed, err)
	}

	if m.cfg.Cache != nil {
		if err := m.cfg.Cache.Save(provider.Name()); err != nil {
			log.Warn("provider cache not written", "error", err)
		}
	}

	account := accounts[0]
	ep := &epoch{scope: scope.New(m.parent), provider: provider}

	network, err := m.cfg.Networks.ByChainID(chainID)
	if err != nil {
		// unsupported chain: connected, but only reads of the default network
		log.Warn("wallet on unsupported network", "chainId", chainID)
		ep.set = contracts.NewSet(networks.Network{Name: "", ChainID: chainID}, nil, account, nil)
		return ep, nil
	}

	backend, err := m.cfg.Backends.Backend(ctx, network.Name)
	if err != nil {
		ep.scope.Close()
		return nil, err
	}
	opts, err := provider.Transactor(ctx, account)
	if err != nil {
		ep.scope.Close()
		return nil, err
	}
	ep.set = contracts.NewSet(network, backend, account, opts)

	heads, err := chains.NewHeadFeed(ep.scope.Context(), backend, m.cfg.HeadPoll)
	if err != nil {
		log.Warn("head feed unavailable", "network", network.Name, "error", err)
	} else {
		ep.heads = heads
	}
	return ep, nil
}

// abort returns to Disconnected. Cancellation and declined checks are absorbed.
func (m *Manager) abort(cause error) (Snapshot, error) {
	m.mu.Lock()
	if m.state == Connecting {
		_ = m.setStateLocked(Disconnected)
		m.snap = Snapshot{State: Disconnected, Epoch: m.counter}
	}
	s := m.snap
	m.mu.Unlock()
	m.publish(s)

	switch {
	case cause == nil:
		return s, nil
	case errors.Is(cause, wallet.ErrSelectionCancelled),
		errors.Is(cause, wallet.ErrRejected),
		errors.Is(cause, ErrWalletCheckFailed):
		log.Info("wallet not connected", "reason", cause)
		return s, nil
	default:
		log.Warn("wallet connection failed", "error", cause)
		return s, cause
	}
}

// Disconnect forgets the cached provider and ends the epoch. Idempotent.
func (m *Manager) Disconnect(ctx context.Context) error {
	if m.cfg.Cache != nil {
		if err := m.cfg.Cache.Clear(); err != nil {
			log.Warn("provider cache not cleared", "error", err)
		}
	}

	m.mu.Lock()
	if m.state == Disconnected {
		m.mu.Unlock()
		return nil
	}
	if err := m.setStateLocked(Disconnected); err != nil {
		m.mu.Unlock()
		return err
	}
	ep := m.current
	m.current = nil
	m.snap = Snapshot{State: Disconnected, Epoch: m.counter}
	s := m.snap
	m.mu.Unlock()

	if ep != nil {
		ep.scope.Close()
	}
	log.Info("wallet disconnected")
	m.publish(s)
	return nil
}

// Reset ends the current epoch after an account or chain change and
// reconnects through the cached provider.
func (m *Manager) Reset(ctx context.Context, reason string) (Snapshot, error) {
	return m.reset(ctx, 0, reason)
}

func (m *Manager) reset(ctx context.Context, epochID uint64, reason string) (Snapshot, error) {
	m.mu.Lock()
	if epochID != 0 && (m.current == nil || m.current.id != epochID) {
		// a newer epoch already replaced the one that saw the event
		s := m.snap
		m.mu.Unlock()
		return s, nil
	}
	if err := m.setStateLocked(Reset); err != nil {
		m.mu.Unlock()
		return m.Snapshot(), err
	}
	ep := m.current
	m.current = nil
	m.snap = Snapshot{State: Reset, Epoch: m.counter}
	s := m.snap
	m.mu.Unlock()

	log.Info("session reset", "reason", reason, "epoch", s.Epoch)
	if ep != nil {
		ep.scope.Close()
	}
	m.publish(s)

	return m.Connect(ctx, true)
}

func (m *Manager) watch(ep *epoch, events <-chan wallet.Event, sub event.Subscription) {
	if sub == nil {
		return
	}
	for {
		select {
		case <-ep.scope.Context().Done():
			return
		case <-sub.Err():
			return
		case ev := <-events:
			if _, err := m.reset(m.parent, ep.id, ev.Kind.String()); err != nil {
				log.Warn("reconnect after wallet change failed", "error", err)
			}
			return
		}
	}
}

// SwitchNetwork asks the connected provider to move to another network. The
// resulting chain change resets the session.
func (m *Manager) SwitchNetwork(name string) error {
	network, err := m.cfg.Networks.Lookup(name)
	if err != nil {
		return err
	}
	m.mu.Lock()
	ep := m.current
	m.mu.Unlock()
	if ep == nil {
		return ErrNotConnected
	}
	ep.provider.SwitchChain(network.ChainID)
	return nil
}

// Handles returns the contract set of the current epoch, or a read-only set
// on the default network when no supported wallet is connected.
func (m *Manager) Handles(ctx context.Context) *contracts.Set {
	m.mu.Lock()
	ep := m.current
	m.mu.Unlock()
	if ep != nil && ep.set.Writable() {
		return ep.set
	}
	return m.fallbackSet(ctx)
}

// Writable returns the signer-bound set or the reason writes are refused.
func (m *Manager) Writable() (*contracts.Set, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil || m.state != Connected {
		return nil, ErrNotConnected
	}
	if !m.current.set.Writable() {
		return nil, ErrUnsupportedNetwork
	}
	return m.current.set, nil
}

// Scope is the lifetime of the current epoch; nil while disconnected.
func (m *Manager) Scope() *scope.Scope {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil
	}
	return m.current.scope
}

// Heads is the new-block feed matching Handles.
func (m *Manager) Heads(ctx context.Context) *chains.HeadFeed {
	m.mu.Lock()
	ep := m.current
	m.mu.Unlock()
	if ep != nil && ep.set.Writable() {
		return ep.heads
	}
	m.fallbackSet(ctx)
	m.fallbackMu.Lock()
	defer m.fallbackMu.Unlock()
	return m.fallbackHeads
}

func (m *Manager) fallbackSet(ctx context.Context) *contracts.Set {
	m.fallbackMu.Lock()
	defer m.fallbackMu.Unlock()
	if m.fallback != nil && m.fallback.Backend != nil {
		return m.fallback
	}

	network, err := m.cfg.Networks.Lookup(m.cfg.DefaultNetwork)
	if err != nil {
		log.Warn("default network unknown", "network", m.cfg.DefaultNetwork, "error", err)
		return contracts.NewSet(networks.Network{}, nil, common.Address{}, nil)
	}
	backend, err := m.cfg.Backends.Backend(ctx, network.Name)
	if err != nil {
		log.Warn("fallback provider unavailable", "network", network.Name, "error", err)
		return contracts.NewSet(network, nil, common.Address{}, nil)
	}
	m.fallback = contracts.NewSet(network, backend, common.Address{}, nil)
	if heads, err := chains.NewHeadFeed(m.parent, backend, m.cfg.HeadPoll); err == nil {
		m.fallbackHeads = heads
	}
	return m.fallback
}

// Close ends the current epoch without touching the provider cache.
func (m *Manager) Close() {
	m.mu.Lock()
	ep := m.current
	m.current = nil
	m.mu.Unlock()
	if ep != nil {
		ep.scope.Close()
	}
}
