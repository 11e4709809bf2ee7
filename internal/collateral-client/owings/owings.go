// Package owings lists and settles exchange settlement amounts the account
// still owes after a synth exchange.
package owings

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/contracts"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/metrics"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/networks"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/txlifecycle"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/utils"
	"github.com/quantumauth-io/quantum-go-utils/log"
)

var ErrUnknownCurrency = errors.New("owings: unknown currency")

// Currencies are the synths a loan can leave settlement owing in.
var Currencies = []string{"sUSD", "sETH", "sBTC"}

// DefaultSettleDelay is the pause between a settle receipt and the reload.
const DefaultSettleDelay = time.Second

type Session interface {
	Handles(ctx context.Context) *contracts.Set
	Writable() (*contracts.Set, error)
}

type Owing struct {
	Currency    string      `json:"currency"`
	CurrencyKey common.Hash `json:"currencyKey"`
	Reclaim     *big.Int    `json:"reclaim"`
	Rebate      *big.Int    `json:"rebate"`
	Entries     *big.Int    `json:"numEntries"`
	Display     string      `json:"display"`
}

type Book struct {
	session Session
	tx      *txlifecycle.Manager
	metrics *metrics.Collectors
	delay   time.Duration

	mu     sync.RWMutex
	owings []Owing
}

type Option func(*Book)

func WithMetrics(m *metrics.Collectors) Option {
	return func(b *Book) { b.metrics = m }
}

// WithSettleDelay overrides DefaultSettleDelay.
func WithSettleDelay(d time.Duration) Option {
	return func(b *Book) { b.delay = d }
}

func New(s Session, tx *txlifecycle.Manager, opts ...Option) *Book {
	b := &Book{session: s, tx: tx, delay: DefaultSettleDelay}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Load reads settlementOwing for every currency and keeps the non-zero ones.
func Load(ctx context.Context, set *contracts.Set) ([]Owing, error) {
	if !set.HasAccount() {
		return nil, contracts.ErrNotAvailable
	}
	exchanger, err := set.Exchanger()
	if err != nil {
		return nil, err
	}
	var out []Owing
	for _, currency := range Currencies {
		key := networks.CurrencyKey(currency)
		res, err := exchanger.CallBigs(ctx, "settlementOwing", 3, set.Account, key)
		if err != nil {
			return nil, fmt.Errorf("owings: settlementOwing %s: %w", currency, err)
		}
		reclaim := res[0]
		if reclaim.Sign() == 0 {
			continue
		}
		out = append(out, Owing{
			Currency:    currency,
			CurrencyKey: common.Hash(key),
			Reclaim:     reclaim,
			Rebate:      res[1],
			Entries:     res[2],
			Display:     utils.FormatUnits(reclaim, 18),
		})
	}
	return out, nil
}

// Reload refreshes the cached list from the current session.
func (b *Book) Reload(ctx context.Context) ([]Owing, error) {
	list, err := Load(ctx, b.session.Handles(ctx))
	if err != nil {
		if !errors.Is(err, contracts.ErrNotAvailable) {
			b.metrics.ReadFailed("owings")
		}
		return nil, err
	}
	b.mu.Lock()
	b.owings = list
	b.mu.Unlock()
	return list, nil
}

func (b *Book) Owings() []Owing {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]Owing(nil), b.owings...)
}

// Settle settles what is owed in currency, then reloads after the settle delay.
func (b *Book) Settle(ctx context.Context, currency string) (*types.Receipt, error) {
	if !known(currency) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCurrency, currency)
	}
	receipt, err := b.tx.Execute(ctx,
		fmt.Sprintf("Settling %s owed.", currency),
		fmt.Sprintf("You have successfully settled %s owed.", currency),
		func() (txlifecycle.Call, error) {
			set, err := b.session.Writable()
			if err != nil {
				return txlifecycle.Call{}, err
			}
			exchanger, err := set.Exchanger()
			if err != nil {
				return txlifecycle.Call{}, err
			}
			return txlifecycle.Call{
				Contract: exchanger,
				Method:   "settle",
				Args:     []any{set.Account, networks.CurrencyKey(currency)},
			}, nil
		})
	if err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return receipt, nil
	case <-time.After(b.delay):
	}
	if _, err := b.Reload(ctx); err != nil {
		log.Warn("owings reload after settle failed", "currency", currency, "error", err)
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
