package withdrawals

import (
	"context"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/notifications"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/testkit"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/txlifecycle"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withPending(t *testing.T, amount *big.Int) *testkit.Fixture {
	t.Helper()
	fx := testkit.New(t)
	var mu sync.Mutex
	pending := new(big.Int).Set(amount)
	fx.Backend.OnCall(testkit.ETHLoan, "pendingWithdrawals", func(common.Address, []any, *big.Int) ([]any, error) {
		mu.Lock()
		defer mu.Unlock()
		return []any{new(big.Int).Set(pending)}, nil
	})
	fx.Backend.OnSend(testkit.ETHLoan, "claim", func(_ common.Address, args []any, _ *big.Int) ([]any, error) {
		mu.Lock()
		defer mu.Unlock()
		pending.Sub(pending, args[0].(*big.Int))
		return nil, nil
	})
	return fx
}

func TestClaimWithdrawsEverythingPending(t *testing.T) {
	fx := withPending(t, big.NewInt(15e17))
	hub := notifications.NewHub()
	changes := make(chan notifications.Change, 4)
	sub := hub.Subscribe(changes)
	defer sub.Unsubscribe()

	p, err := Load(context.Background(), fx.ReadOnly())
	require.NoError(t, err)
	assert.Equal(t, "1.5000", p.Display)

	after, err := NewClaimer(fx, txlifecycle.New(fx, hub), 0).Claim(context.Background())
	require.NoError(t, err)
	assert.True(t, after.Empty())

	sent := fx.Backend.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "claim", sent[0].Method)
	assert.Equal(t, int64(15e17), sent[0].Args[0].(*big.Int).Int64())

	first, last := <-changes, <-changes
	assert.Equal(t, "Withdrawing 1.5000 ETH", first.Notification.Message)
	assert.Equal(t, "You have successfully withdrawn 1.5000 ETH.", last.Notification.Message)
}

func TestClaimWithNothingPending(t *testing.T) {
	fx := withPending(t, new(big.Int))
	_, err := NewClaimer(fx, txlifecycle.New(fx, notifications.NewHub()), 0).Claim(context.Background())
	assert.ErrorIs(t, err, ErrNothingPending)
	assert.Empty(t, fx.Backend.Sent())
}
