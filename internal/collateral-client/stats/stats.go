// Package stats computes protocol-wide open interest for borrows and shorts
// and the SNX rewards APR of each short market.
package stats

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/constants"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/contracts"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/metrics"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/networks"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/rewards"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/scope"
	"github.com/quantumauth-io/quantum-go-utils/log"
	"github.com/shopspring/decimal"
)

var (
	BorrowCurrencies = []string{"sBTC", "sETH", "sUSD"}
	ShortCurrencies  = []string{"sBTC", "sETH"}
)

var errNoRewards = errors.New("stats: no rewards contract")

var e18 = decimal.New(1, 18)

type HeadSource interface {
	Subscribe(ch chan<- *types.Header) event.Subscription
}

type Stat struct {
	Currency     string           `json:"currency"`
	OpenInterest decimal.Decimal  `json:"openInterest"`
	APR          *decimal.Decimal `json:"apr,omitempty"`
}

type Snapshot struct {
	Borrows      []Stat          `json:"borrows"`
	Shorts       []Stat          `json:"shorts"`
	BorrowsTotal decimal.Decimal `json:"borrowsTotal"`
	ShortsTotal  decimal.Decimal `json:"shortsTotal"`
}

// Display renders a value the way the stats table does, two decimals.
func Display(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func usd(amount, price *big.Int) decimal.Decimal {
	return decimal.NewFromBigInt(amount, 0).Div(e18).Mul(decimal.NewFromBigInt(price, 0).Div(e18))
}

// APR = rewardRate * seconds per year * snxPrice / totalSupply / assetPrice * 100.
// Zero supply or price yields zero.
func APR(rewardRate, snxPrice, totalSupply, assetPrice *big.Int) decimal.Decimal {
	if totalSupply.Sign() == 0 || assetPrice.Sign() == 0 {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(rewardRate, 0).
		Mul(decimal.NewFromInt(constants.SecondsInYear)).
		Mul(decimal.NewFromBigInt(snxPrice, 0)).
		Div(decimal.NewFromBigInt(totalSupply, 0)).
		Div(decimal.NewFromBigInt(assetPrice, 0)).
		Mul(decimal.NewFromInt(100))
}

func rate(ctx context.Context, rates *contracts.Handle, currency string) (*big.Int, error) {
	r, err := rates.CallBig(ctx, "rateAndInvalid", networks.CurrencyKey(currency))
	if err != nil {
		return nil, fmt.Errorf("stats: rate %s: %w", currency, err)
	}
	return r, nil
}

// Load reads the current statistics. Version 1 deployments have no shorts.
func Load(ctx context.Context, set *contracts.Set) (Snapshot, error) {
	manager, err := set.CollateralManager()
	if err != nil {
		return Snapshot{}, err
	}
	rates, err := set.ExchangeRates()
	if err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{BorrowsTotal: decimal.Zero, ShortsTotal: decimal.Zero}
	for _, currency := range BorrowCurrencies {
		long, err := manager.CallBig(ctx, "long", networks.CurrencyKey(currency))
		if err != nil {
			return Snapshot{}, fmt.Errorf("stats: long %s: %w", currency, err)
		}
		price, err := rate(ctx, rates, currency)
		if err != nil {
			return Snapshot{}, err
		}
		s := Stat{Currency: currency, OpenInterest: usd(long, price)}
		snap.Borrows = append(snap.Borrows, s)
		snap.BorrowsTotal = snap.BorrowsTotal.Add(s.OpenInterest)
	}

	if set.Network.Version <= 1 {
		return snap, nil
	}
	pools, err := rewards.Contracts(ctx, set)
	if err != nil {
		return Snapshot{}, err
	}
	snxPrice, err := rates.CallBig(ctx, "rateForCurrency", networks.CurrencyKey("SNX"))
	if err != nil {
		return Snapshot{}, fmt.Errorf("stats: snx rate: %w", err)
	}
	for _, currency := range ShortCurrencies {
		s, err := short(ctx, manager, rates, pools[currency], currency, snxPrice)
		if err != nil {
			return Snapshot{}, err
		}
		snap.Shorts = append(snap.Shorts, s)
		snap.ShortsTotal = snap.ShortsTotal.Add(s.OpenInterest)
	}
	return snap, nil
}

func short(ctx context.Context, manager, rates, pool *contracts.Handle, currency string, snxPrice *big.Int) (Stat, error) {
	if pool == nil {
		return Stat{}, fmt.Errorf("%w: %s", errNoRewards, currency)
	}
	open, err := manager.CallBig(ctx, "short", networks.CurrencyKey(currency))
	if err != nil {
		return Stat{}, fmt.Errorf("stats: short %s: %w", currency, err)
	}
	price, err := rate(ctx, rates, currency)
	if err != nil {
		return Stat{}, err
	}
	rewardRate, err := pool.CallBig(ctx, "rewardRate")
	if err != nil {
		return Stat{}, fmt.Errorf("stats: rewardRate %s: %w", currency, err)
	}
	supply, err := pool.CallBig(ctx, "totalSupply")
	if err != nil {
		return Stat{}, fmt.Errorf("stats: totalSupply %s: %w", currency, err)
	}
	apr := APR(rewardRate, snxPrice, supply, price)
	return Stat{Currency: currency, OpenInterest: usd(open, price), APR: &apr}, nil
}

// Tracker reloads the statistics on every new block of one session epoch.
type Tracker struct {
	metrics *metrics.Collectors

	mu     sync.RWMutex
	scope  *scope.Scope
	set    *contracts.Set
	snap   Snapshot
	loaded bool
}

func NewTracker(m *metrics.Collectors) *Tracker {
	return &Tracker{metrics: m}
}

func (t *Tracker) Start(sc *scope.Scope, set *contracts.Set, heads HeadSource) {
	t.mu.Lock()
	t.scope, t.set, t.snap, t.loaded = sc, set, Snapshot{}, false
	t.mu.Unlock()

	t.Reload(sc.Context())
	if heads == nil {
		return
	}
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
				t.Reload(ctx)
			}
		}
	})
}

// Reload replaces the snapshot. A failed read clears it.
func (t *Tracker) Reload(ctx context.Context) {
	t.mu.RLock()
	sc, set := t.scope, t.set
	t.mu.RUnlock()
	if set == nil {
		return
	}
	snap, err := Load(ctx, set)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		t.metrics.ReadFailed("stats")
		log.Warn("stats reload failed", "error", err)
		snap = Snapshot{BorrowsTotal: decimal.Zero, ShortsTotal: decimal.Zero}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.scope != sc || (sc != nil && !sc.Alive()) {
		return
	}
	t.snap, t.loaded = snap, true
}

// Snapshot returns the latest statistics; ok is false before the first load.
func (t *Tracker) Snapshot() (Snapshot, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snap, t.loaded
}
