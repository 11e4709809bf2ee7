package owings

import (
	"context"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/contracts"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/networks"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/notifications"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/testkit"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/txlifecycle"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type exchanger struct {
	mu    sync.Mutex
	owing map[string]*big.Int
}

func setup(t *testing.T) (*testkit.Fixture, *exchanger) {
	t.Helper()
	fx := testkit.New(t)
	ex := &exchanger{owing: map[string]*big.Int{}}
	fx.Backend.OnCall(testkit.Exchanger, "settlementOwing", func(_ common.Address, args []any, _ *big.Int) ([]any, error) {
		ex.mu.Lock()
		defer ex.mu.Unlock()
		v, ok := ex.owing[networks.CurrencyName(args[1].([32]byte))]
		if !ok {
			v = new(big.Int)
		}
		return []any{v, big.NewInt(5e14), big.NewInt(2)}, nil
	})
	fx.Backend.OnSend(testkit.Exchanger, "settle", func(_ common.Address, args []any, _ *big.Int) ([]any, error) {
		ex.mu.Lock()
		defer ex.mu.Unlock()
		delete(ex.owing, networks.CurrencyName(args[1].([32]byte)))
		return nil, nil
	})
	return fx, ex
}

func TestLoadKeepsNonZeroOwings(t *testing.T) {
	fx, ex := setup(t)
	ex.owing["sETH"] = big.NewInt(25e16)

	list, err := Load(context.Background(), fx.ReadOnly())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "sETH", list[0].Currency)
	assert.Equal(t, "0.2500", list[0].Display)
	assert.Equal(t, common.Hash(networks.CurrencyKey("sETH")), list[0].CurrencyKey)
	assert.Equal(t, int64(5e14), list[0].Rebate.Int64())
	assert.Equal(t, int64(2), list[0].Entries.Int64())
}

func TestLoadWithoutAccount(t *testing.T) {
	fx, _ := setup(t)
	set := contracts.NewSet(fx.Network, fx.Backend, common.Address{}, nil)
	_, err := Load(context.Background(), set)
	assert.ErrorIs(t, err, contracts.ErrNotAvailable)
}

func TestSettleNotifiesAndReloads(t *testing.T) {
	fx, ex := setup(t)
	ex.owing["sUSD"] = testkit.Ether(3)
	ex.owing["sBTC"] = big.NewInt(1e15)

	hub := notifications.NewHub()
	changes := make(chan notifications.Change, 8)
	sub := hub.Subscribe(changes)
	defer sub.Unsubscribe()

	b := New(fx, txlifecycle.New(fx, hub), WithSettleDelay(0))
	_, err := b.Reload(context.Background())
	require.NoError(t, err)
	require.Len(t, b.Owings(), 2)

	_, err = b.Settle(context.Background(), "sUSD")
	require.NoError(t, err)

	left := b.Owings()
	require.Len(t, left, 1)
	assert.Equal(t, "sBTC", left[0].Currency)

	sent := fx.Backend.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "settle", sent[0].Method)
	assert.Equal(t, fx.Account, sent[0].Args[0])
	assert.Equal(t, networks.CurrencyKey("sUSD"), sent[0].Args[1])

	first, last := <-changes, <-changes
	assert.Equal(t, "Settling sUSD owed.", first.Notification.Message)
	assert.Equal(t, "You have successfully settled sUSD owed.", last.Notification.Message)
}

func TestSettleRejectsUnknownCurrency(t *testing.T) {
	fx, _ := setup(t)
	b := New(fx, txlifecycle.New(fx, notifications.NewHub()))
	_, err := b.Settle(context.Background(), "sXAU")
	assert.ErrorIs(t, err, ErrUnknownCurrency)
	assert.Empty(t, fx.Backend.Sent())
}
