// Package wallet holds the wallet-provider boundary: where accounts come from,
// which chain the user selected, and who signs transactions.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
)

var (
	ErrSelectionCancelled = errors.New("wallet: provider selection cancelled")
	ErrRejected           = errors.New("wallet: request rejected by user")
	ErrNoAccounts         = errors.New("wallet: provider has no accounts")
	ErrUnknownProvider    = errors.New("wallet: unknown provider")
)

type EventKind int

const (
	AccountsChanged EventKind = iota + 1
	ChainChanged
)

func (k EventKind) String() string {
	switch k {
	case AccountsChanged:
		return "accountsChanged"
	case ChainChanged:
		return "chainChanged"
	default:
		return "unknown"
	}
}

type Event struct {
	Kind     EventKind
	Accounts []common.Address
	ChainID  uint64
}

// Provider is a wallet the session can connect through.
type Provider interface {
	Name() string
	Accounts(ctx context.Context) ([]common.Address, error)
	ChainID(ctx context.Context) (uint64, error)
	SwitchChain(chainID uint64)
	Transactor(ctx context.Context, account common.Address) (*bind.TransactOpts, error)
	Subscribe(ch chan<- Event) event.Subscription
	Close() error
}

// PasswordFunc asks the user for a wallet password.
type PasswordFunc func(prompt string) ([]byte, error)

// ConfirmFunc asks the user to approve a transaction before it is signed.
type ConfirmFunc func(account common.Address, tx *types.Transaction) bool

// chainState is the selected-chain and event plumbing shared by providers.
type chainState struct {
	chainID atomic.Uint64
	feed    event.Feed
}

func (c *chainState) ChainID(ctx context.Context) (uint64, error) {
	return c.chainID.Load(), nil
}

func (c *chainState) SwitchChain(chainID uint64) {
	if c.chainID.Swap(chainID) == chainID {
		return
	}
	c.feed.Send(Event{Kind: ChainChanged, ChainID: chainID})
}

func (c *chainState) Subscribe(ch chan<- Event) event.Subscription {
	return c.feed.Subscribe(ch)
}

func (c *chainState) accountsChanged(accounts []common.Address) {
	c.feed.Send(Event{Kind: AccountsChanged, Accounts: accounts, ChainID: c.chainID.Load()})
}

// withConfirm makes opts ask confirm before every signature.
func withConfirm(opts *bind.TransactOpts, confirm ConfirmFunc) *bind.TransactOpts {
	if confirm == nil {
		return opts
	}
	inner := opts.Signer
	opts.Signer = func(addr common.Address, tx *types.Transaction) (*types.Transaction, error) {
		if !confirm(addr, tx) {
			return nil, ErrRejected
		}
		return inner(addr, tx)
	}
	return opts
}

// Registry holds the providers offered to the user by name.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider)}
	for _, p := range providers {
		r.Register(p)
	}
	return r
}

func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[strings.ToLower(p.Name())] = p
}

func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return p, nil
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.providers))
	for _, p := range r.providers {
		out = append(out, p.Name())
	}
	sort.Strings(out)
	return out
}

func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for _, p := range r.providers {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
