package loans

import (
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/contracts"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/networks"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/notifications"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/testkit"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/txlifecycle"
	"github.com/stretchr/testify/require"
)

var (
	e18       = big.NewInt(1e18)
	minCratio = new(big.Int).Mul(big.NewInt(15), big.NewInt(1e17))
)

var loanAddrs = map[contracts.LoanKind][2]common.Address{
	contracts.KindERC20: {testkit.ERC20Loan, testkit.ERC20LoanState},
	contracts.KindETH:   {testkit.ETHLoan, testkit.ETHLoanState},
	contracts.KindShort: {testkit.ShortLoan, testkit.ShortLoanState},
}

// book is a minimal on-chain loan store behind the fixture's fake backend.
type book struct {
	t  *testing.T
	fx *testkit.Fixture

	mu         sync.Mutex
	loans      map[contracts.LoanKind][]contracts.LoanTuple
	allowances map[common.Address]*big.Int
	minCollat  map[contracts.LoanKind]*big.Int
}

func newBook(t *testing.T) *book {
	t.Helper()
	b := &book{
		t:          t,
		fx:         testkit.New(t),
		loans:      map[contracts.LoanKind][]contracts.LoanTuple{},
		allowances: map[common.Address]*big.Int{},
		minCollat:  map[contracts.LoanKind]*big.Int{},
	}
	for kind, addrs := range loanAddrs {
		kind, loanAddr, stateAddr := kind, addrs[0], addrs[1]
		b.fx.Backend.OnCall(stateAddr, "getNumLoans", func(common.Address, []any, *big.Int) ([]any, error) {
			b.mu.Lock()
			defer b.mu.Unlock()
			return []any{big.NewInt(int64(len(b.loans[kind])))}, nil
		})
		b.fx.Backend.OnCall(stateAddr, "loans", func(_ common.Address, args []any, _ *big.Int) ([]any, error) {
			b.mu.Lock()
			defer b.mu.Unlock()
			i := args[1].(*big.Int).Int64()
			if i >= int64(len(b.loans[kind])) {
				return nil, errors.New("index out of range")
			}
			return b.loans[kind][i].Outputs(), nil
		})
		b.fx.Backend.OnCall(stateAddr, "getLoan", func(_ common.Address, args []any, _ *big.Int) ([]any, error) {
			b.mu.Lock()
			defer b.mu.Unlock()
			id := args[1].(*big.Int)
			for _, l := range b.loans[kind] {
				if l.Id.Cmp(id) == 0 {
					return []any{l}, nil
				}
			}
			return []any{emptyTuple()}, nil
		})
		b.fx.Backend.Returns(loanAddr, "minCratio", minCratio)
		b.fx.Backend.OnCall(loanAddr, "minCollateral", func(common.Address, []any, *big.Int) ([]any, error) {
			b.mu.Lock()
			defer b.mu.Unlock()
			if v, ok := b.minCollat[kind]; ok {
				return []any{v}, nil
			}
			return []any{new(big.Int)}, nil
		})
		b.fx.Backend.OnCall(loanAddr, "collateralRatio", func(_ common.Address, args []any, _ *big.Int) ([]any, error) {
			in, err := contracts.LoanFromTuple(args[0])
			if err != nil {
				return nil, err
			}
			if in.Amount.Sign() == 0 {
				return []any{new(big.Int)}, nil
			}
			r := new(big.Int).Mul(in.Collateral, e18)
			return []any{r.Quo(r, in.Amount)}, nil
		})
	}
	for _, tok := range []common.Address{testkit.SUSD, testkit.SETH, testkit.SBTC, testkit.RenBTC} {
		tok := tok
		b.fx.Backend.OnCall(tok, "allowance", func(common.Address, []any, *big.Int) ([]any, error) {
			b.mu.Lock()
			defer b.mu.Unlock()
			if v, ok := b.allowances[tok]; ok {
				return []any{new(big.Int).Set(v)}, nil
			}
			return []any{new(big.Int)}, nil
		})
		b.fx.Backend.OnSend(tok, "approve", func(_ common.Address, args []any, _ *big.Int) ([]any, error) {
			b.mu.Lock()
			defer b.mu.Unlock()
			b.allowances[tok] = new(big.Int).Set(args[1].(*big.Int))
			return nil, nil
		})
	}
	return b
}

func emptyTuple() contracts.LoanTuple {
	return contracts.LoanTuple{
		Id: new(big.Int), Collateral: new(big.Int), Amount: new(big.Int),
		AccruedInterest: new(big.Int), InterestIndex: new(big.Int), LastInteraction: new(big.Int),
	}
}

func (b *book) add(kind contracts.LoanKind, id int64, collateral, amount *big.Int, currency string) contracts.LoanTuple {
	b.mu.Lock()
	defer b.mu.Unlock()
	l := contracts.LoanTuple{
		Id:              big.NewInt(id),
		Account:         b.fx.Account,
		Collateral:      new(big.Int).Set(collateral),
		Currency:        networks.CurrencyKey(currency),
		Amount:          new(big.Int).Set(amount),
		Short:           kind == contracts.KindShort,
		AccruedInterest: big.NewInt(0),
		InterestIndex:   big.NewInt(1),
		LastInteraction: big.NewInt(1_600_000_000),
	}
	b.loans[kind] = append(b.loans[kind], l)
	return l
}

func (b *book) update(kind contracts.LoanKind, id int64, fn func(*contracts.LoanTuple)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.loans[kind] {
		if b.loans[kind][i].Id.Int64() == id {
			fn(&b.loans[kind][i])
		}
	}
}

func (b *book) emit(kind contracts.LoanKind, event string, args ...any) {
	b.t.Helper()
	l, err := b.fx.Backend.EventLog(loanAddrs[kind][0], event, args...)
	require.NoError(b.t, err)
	b.fx.Backend.EmitLog(l)
}

// lifecycle returns a transaction manager and a channel of its notifications.
func (b *book) lifecycle() (*txlifecycle.Manager, chan notifications.Change) {
	hub := notifications.NewHub()
	changes := make(chan notifications.Change, 32)
	sub := hub.Subscribe(changes)
	b.t.Cleanup(sub.Unsubscribe)
	return txlifecycle.New(b.fx, hub), changes
}

func drain(ch chan notifications.Change) []notifications.Change {
	var out []notifications.Change
	for {
		select {
		case c := <-ch:
			out = append(out, c)
		default:
			return out
		}
	}
}

func ether(n int64) *big.Int {
	return testkit.Ether(n)
}
