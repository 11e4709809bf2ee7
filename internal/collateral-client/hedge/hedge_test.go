package hedge

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/constants"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/contracts"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/loans"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/notifications"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/swap"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/testkit"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/txlifecycle"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var router = common.HexToAddress("0x11111112542d85b3ef69ae05771c2dccff4faa26")

type fakeAggregator struct {
	quoteArgs []any
	swapArgs  []any
	swapErr   error
}

func (f *fakeAggregator) Spender(context.Context) (common.Address, error) { return router, nil }

func (f *fakeAggregator) Quote(_ context.Context, from, to common.Address, amount *big.Int) (swap.Quote, error) {
	f.quoteArgs = []any{from, to, amount}
	return swap.Quote{ToTokenAmount: testkit.Ether(15000), EstimatedGas: 180000}, nil
}

func (f *fakeAggregator) Swap(_ context.Context, from, to common.Address, amount *big.Int, holder common.Address, slippage float64) (swap.Tx, error) {
	f.swapArgs = []any{from, to, amount, holder, slippage}
	if f.swapErr != nil {
		return swap.Tx{}, f.swapErr
	}
	return swap.Tx{To: router, Data: []byte{0x7c, 0x02, 0x52, 0x00}, Value: new(big.Int), Gas: 250000}, nil
}

func setup(t *testing.T) (*testkit.Fixture, *Service, *fakeAggregator, chan notifications.Change) {
	t.Helper()
	fx := testkit.New(t)
	var mu sync.Mutex
	allowance := new(big.Int)
	fx.Backend.OnCall(testkit.SUSD, "allowance", func(common.Address, []any, *big.Int) ([]any, error) {
		mu.Lock()
		defer mu.Unlock()
		return []any{new(big.Int).Set(allowance)}, nil
	})
	fx.Backend.OnSend(testkit.SUSD, "approve", func(_ common.Address, args []any, _ *big.Int) ([]any, error) {
		mu.Lock()
		defer mu.Unlock()
		allowance.Set(args[1].(*big.Int))
		return nil, nil
	})

	hub := notifications.NewHub()
	changes := make(chan notifications.Change, 16)
	sub := hub.Subscribe(changes)
	t.Cleanup(sub.Unsubscribe)

	agg := &fakeAggregator{}
	return fx, NewService(fx, txlifecycle.New(fx, hub), agg), agg, changes
}

func loan(currency string, amount *big.Int) loans.Loan {
	return loans.Loan{ID: big.NewInt(4), Kind: contracts.KindERC20, Currency: currency, Amount: amount}
}

func TestPrepareApproveHedge(t *testing.T) {
	fx, svc, agg, changes := setup(t)
	ctx := context.Background()

	p, err := svc.Prepare(ctx, loan("sBTC", big.NewInt(5e17)))
	require.NoError(t, err)
	assert.Equal(t, "WBTC", p.ToName)
	assert.Equal(t, int64(5e7), p.ToAmount.Int64())
	assert.True(t, p.NeedsApproval)
	assert.Equal(t, "Swapping 15000.00 sUSD for 0.50 WBTC", p.Summary())
	assert.Equal(t, testkit.WBTC, agg.quoteArgs[0])
	assert.Equal(t, testkit.SUSD, agg.quoteArgs[1])

	_, err = svc.Hedge(ctx, p)
	assert.ErrorIs(t, err, loans.ErrApprovalRequired)

	p, err = svc.Approve(ctx, p)
	require.NoError(t, err)
	assert.False(t, p.NeedsApproval)

	_, err = svc.Hedge(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, fx.Account, agg.swapArgs[3])
	assert.Equal(t, float64(1), agg.swapArgs[4])

	sent := fx.Backend.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, "approve", sent[0].Method)
	assert.Equal(t, router, sent[0].Args[0])
	assert.Equal(t, router, sent[1].To)

	var got []string
	for len(changes) > 0 {
		got = append(got, (<-changes).Notification.Message)
	}
	assert.Equal(t, []string{"Approving...", "Approved", "Hedging loan(#4)", "Loan(#4) successfully hedged."}, got)
}

func TestHedgeETHUsesNativeAddress(t *testing.T) {
	_, svc, agg, _ := setup(t)
	p, err := svc.Prepare(context.Background(), loan("sETH", testkit.Ether(2)))
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(constants.NativeAddr), p.To)
	assert.Equal(t, 0, testkit.Ether(2).Cmp(agg.quoteArgs[2].(*big.Int)))
}

func TestSUSDLoansCannotBeHedged(t *testing.T) {
	_, svc, _, _ := setup(t)
	_, err := svc.Prepare(context.Background(), loan("sUSD", testkit.Ether(100)))
	assert.ErrorIs(t, err, ErrNotHedgeable)
}

func TestSwapFailureNotifiesOnce(t *testing.T) {
	fx, svc, agg, changes := setup(t)
	agg.swapErr = errors.New("swap: /swap: unexpected status code: 400: insufficient liquidity")

	_, err := svc.Hedge(context.Background(), Plan{Loan: loan("sBTC", big.NewInt(1)), FromAmount: big.NewInt(1)})
	require.Error(t, err)
	assert.Empty(t, fx.Backend.Sent())
	require.Len(t, changes, 1)
	c := <-changes
	assert.Equal(t, notifications.KindError, c.Notification.Kind)
}
