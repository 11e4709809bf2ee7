// Package rewards tracks and claims SNX shorting rewards earned by the
// account's sBTC and sETH shorts.
package rewards

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/contracts"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/metrics"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/networks"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/scope"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/txlifecycle"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/utils"
	"github.com/quantumauth-io/quantum-go-utils/log"
)

var ErrUnknownCurrency = errors.New("rewards: unknown currency")

// Currencies with a shorting rewards contract.
var Currencies = []string{"sBTC", "sETH"}

type Session interface {
	Handles(ctx context.Context) *contracts.Set
	Writable() (*contracts.Set, error)
}

type HeadSource interface {
	Subscribe(ch chan<- *types.Header) event.Subscription
}

type Reward struct {
	Currency string   `json:"currency"`
	Claim    *big.Int `json:"claim"`
	Display  string   `json:"display"`
}

// Label renders the reward the way it is listed, e.g. "1.2345 SNX (sETH)".
func (r Reward) Label() string {
	return fmt.Sprintf("%s SNX (%s)", r.Display, r.Currency)
}

// Contracts resolves the rewards contract of every currency. Version 1
// deployments have none.
func Contracts(ctx context.Context, set *contracts.Set) (map[string]*contracts.Handle, error) {
	if set == nil || set.Network.Version <= 1 {
		return nil, nil
	}
	short, err := set.Loan(contracts.KindShort)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*contracts.Handle, len(Currencies))
	for _, currency := range Currencies {
		addr, err := short.CallAddress(ctx, "shortingRewards", networks.CurrencyKey(currency))
		if err != nil {
			return nil, fmt.Errorf("rewards: shortingRewards %s: %w", currency, err)
		}
		if addr == (common.Address{}) {
			continue
		}
		h, err := set.Rewards(currency, addr)
		if err != nil {
			return nil, err
		}
		out[currency] = h
	}
	return out, nil
}

// Load reads earned rewards and keeps the non-zero ones.
func Load(ctx context.Context, set *contracts.Set) ([]Reward, error) {
	if !set.HasAccount() {
		return nil, contracts.ErrNotAvailable
	}
	handles, err := Contracts(ctx, set)
	if err != nil {
		return nil, err
	}
	return earned(ctx, set.Account, handles)
}

func earned(ctx context.Context, account common.Address, handles map[string]*contracts.Handle) ([]Reward, error) {
	var out []Reward
	for _, currency := range Currencies {
		h, ok := handles[currency]
		if !ok {
			continue
		}
		claim, err := h.CallBig(ctx, "earned", account)
		if err != nil {
			return nil, fmt.Errorf("rewards: earned %s: %w", currency, err)
		}
		if claim.Sign() == 0 {
			continue
		}
		out = append(out, Reward{Currency: currency, Claim: claim, Display: utils.FormatUnits(claim, 18)})
	}
	return out, nil
}

// Tracker keeps the reward list current for one session epoch.
type Tracker struct {
	session Session
	tx      *txlifecycle.Manager
	metrics *metrics.Collectors

	mu      sync.RWMutex
	scope   *scope.Scope
	set     *contracts.Set
	handles map[string]*contracts.Handle
	rewards []Reward
	loaded  bool
}

func NewTracker(s Session, tx *txlifecycle.Manager, m *metrics.Collectors) *Tracker {
	return &Tracker{session: s, tx: tx, metrics: m}
}

// Start resolves the rewards contracts, loads, and reloads on every RewardPaid
// to the account and on every new block until sc closes.
func (t *Tracker) Start(sc *scope.Scope, set *contracts.Set, heads HeadSource) error {
	if !set.HasAccount() {
		return contracts.ErrNotAvailable
	}
	handles, err := Contracts(sc.Context(), set)
	if err != nil {
		t.metrics.ReadFailed("rewards")
		return err
	}
	t.mu.Lock()
	t.scope, t.set, t.handles, t.rewards = sc, set, handles, nil
	t.loaded = len(handles) == 0
	t.mu.Unlock()

	if len(handles) == 0 {
		return nil
	}
	if err := t.Reload(sc.Context()); err != nil {
		log.Warn("initial rewards load failed", "error", err)
	}

	trigger := make(chan struct{}, 1)
	poke := func() {
		select {
		case trigger <- struct{}{}:
		default:
		}
	}
	for currency, h := range handles {
		logs, sub, err := h.Watch(sc.Context(), "RewardPaid", []any{set.Account})
		if err != nil {
			log.Warn("reward events unavailable", "currency", currency, "error", err)
			continue
		}
		sc.Track(sub)
		sc.Go(func(ctx context.Context) {
			for {
				select {
				case <-ctx.Done():
					return
				case <-sub.Err():
					return
				case <-logs:
					poke()
				}
			}
		})
	}
	if heads != nil {
		blocks := make(chan *types.Header, 1)
		sub := sc.Track(heads.Subscribe(blocks))
		sc.Go(func(ctx context.Context) {
			for {
				select {
				case <-ctx.Done():
					return
				case <-sub.Err():
					return
				case <-blocks:
					poke()
				}
			}
		})
	}
	sc.Go(func(ctx context.Context) {
		for {
			select {
			case <-ctx.Done():
				return
			case <-trigger:
				if err := t.Reload(ctx); err != nil && ctx.Err() == nil {
					log.Warn("rewards reload failed", "error", err)
				}
			}
		}
	})
	return nil
}

func (t *Tracker) Reload(ctx context.Context) error {
	t.mu.RLock()
	sc, set, handles := t.scope, t.set, t.handles
	t.mu.RUnlock()
	if set == nil {
		return contracts.ErrNotAvailable
	}
	list, err := earned(ctx, set.Account, handles)
	if err != nil {
		t.metrics.ReadFailed("rewards")
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.scope != sc || (sc != nil && !sc.Alive()) {
		return nil
	}
	t.rewards = list
	t.loaded = true
	return nil
}

// Rewards returns the current list. ok is false until the first load of the
// running epoch has completed.
func (t *Tracker) Rewards() ([]Reward, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.loaded || !t.scope.Alive() {
		return nil, false
	}
	return append([]Reward(nil), t.rewards...), true
}

// Stop forgets the rewards of the previous epoch.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.scope, t.set, t.handles, t.rewards = nil, nil, nil, nil
	t.loaded = false
}

// Claim collects the currency's rewards through the short loan contract.
func (t *Tracker) Claim(ctx context.Context, currency string) (*types.Receipt, error) {
	if !known(currency) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCurrency, currency)
	}
	receipt, err := t.tx.Execute(ctx,
		fmt.Sprintf("Claiming %s reward.", currency),
		fmt.Sprintf("You have successfully claimed your %s short rewards.", currency),
		func() (txlifecycle.Call, error) {
			set, err := t.session.Writable()
			if err != nil {
				return txlifecycle.Call{}, err
			}
			if set.Network.Version <= 1 {
				return txlifecycle.Call{}, contracts.ErrNotAvailable
			}
			short, err := set.Loan(contracts.KindShort)
			if err != nil {
				return txlifecycle.Call{}, err
			}
			return txlifecycle.Call{
				Contract: short,
				Method:   "getReward",
				Args:     []any{networks.CurrencyKey(currency), set.Account},
			}, nil
		})
	if err != nil {
		return nil, err
	}
	if err := t.Reload(ctx); err != nil && !errors.Is(err, contracts.ErrNotAvailable) {
		log.Warn("rewards reload after claim failed", "currency", currency, "error", err)
	}
	return receipt, nil
}

func known(currency string) bool {
	for _, c := range Currencies {
		if c == currency {
			return true
		}
	}
	return false
}
