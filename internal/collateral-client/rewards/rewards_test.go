package rewards

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/contracts"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/networks"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/notifications"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/scope"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/testkit"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/txlifecycle"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	sBTCRewards = common.HexToAddress("0x00000000000000000000000000000000000000d1")
	sETHRewards = common.HexToAddress("0x00000000000000000000000000000000000000d2")
)

type headFeed struct{ event.Feed }

func (h *headFeed) Subscribe(ch chan<- *types.Header) event.Subscription {
	return h.Feed.Subscribe(ch)
}

type pool struct {
	mu     sync.Mutex
	earned map[common.Address]*big.Int
}

func (p *pool) set(addr common.Address, v *big.Int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.earned[addr] = v
}

func setup(t *testing.T) (*testkit.Fixture, *pool) {
	t.Helper()
	fx := testkit.New(t)
	p := &pool{earned: map[common.Address]*big.Int{}}
	fx.Backend.OnCall(testkit.ShortLoan, "shortingRewards", func(_ common.Address, args []any, _ *big.Int) ([]any, error) {
		if networks.CurrencyName(args[0].([32]byte)) == "sBTC" {
			return []any{sBTCRewards}, nil
		}
		return []any{sETHRewards}, nil
	})
	for _, addr := range []common.Address{sBTCRewards, sETHRewards} {
		addr := addr
		fx.Backend.Register(addr, contracts.ShortingRewardsABI)
		fx.Backend.OnCall(addr, "earned", func(common.Address, []any, *big.Int) ([]any, error) {
			p.mu.Lock()
			defer p.mu.Unlock()
			if v, ok := p.earned[addr]; ok {
				return []any{new(big.Int).Set(v)}, nil
			}
			return []any{new(big.Int)}, nil
		})
	}
	return fx, p
}

func TestLoadKeepsEarnedRewards(t *testing.T) {
	fx, p := setup(t)
	p.set(sETHRewards, big.NewInt(12345e14))

	list, err := Load(context.Background(), fx.ReadOnly())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "sETH", list[0].Currency)
	assert.Equal(t, "1.2345 SNX (sETH)", list[0].Label())
}

func TestVersionOneHasNoRewards(t *testing.T) {
	fx, p := setup(t)
	p.set(sETHRewards, testkit.Ether(1))
	fx.Network.Version = 1

	list, err := Load(context.Background(), fx.ReadOnly())
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestTrackerReloadsOnRewardPaidAndBlocks(t *testing.T) {
	fx, p := setup(t)
	p.set(sBTCRewards, testkit.Ether(2))

	var heads headFeed
	sc := scope.New(context.Background())
	defer sc.Close()
	tr := NewTracker(fx, txlifecycle.New(fx, notifications.NewHub()), nil)
	require.NoError(t, tr.Start(sc, fx.ReadOnly(), &heads))
	list, ok := tr.Rewards()
	require.True(t, ok)
	require.Len(t, list, 1)

	p.set(sBTCRewards, new(big.Int))
	l, err := fx.Backend.EventLog(sBTCRewards, "RewardPaid", fx.Account, testkit.Ether(2))
	require.NoError(t, err)
	fx.Backend.EmitLog(l)
	require.Eventually(t, func() bool {
		list, ok := tr.Rewards()
		return ok && len(list) == 0
	}, time.Second, 5*time.Millisecond)

	p.set(sETHRewards, testkit.Ether(1))
	require.Eventually(t, func() bool {
		heads.Send(fx.Backend.Mine())
		list, _ := tr.Rewards()
		return len(list) == 1 && list[0].Currency == "sETH"
	}, time.Second, 10*time.Millisecond)
}

func TestTrackerServesOnlyItsOwnEpoch(t *testing.T) {
	fx, p := setup(t)
	p.set(sETHRewards, testkit.Ether(3))

	tr := NewTracker(fx, txlifecycle.New(fx, notifications.NewHub()), nil)
	_, ok := tr.Rewards()
	assert.False(t, ok, "nothing loaded yet")

	sc := scope.New(context.Background())
	require.NoError(t, tr.Start(sc, fx.ReadOnly(), nil))
	list, ok := tr.Rewards()
	require.True(t, ok)
	require.Len(t, list, 1)

	sc.Close()
	_, ok = tr.Rewards()
	assert.False(t, ok)

	next := scope.New(context.Background())
	defer next.Close()
	tr.Stop()
	_, ok = tr.Rewards()
	assert.False(t, ok)

	fx.Network.Version = 1
	require.NoError(t, tr.Start(next, fx.ReadOnly(), nil))
	list, ok = tr.Rewards()
	assert.True(t, ok)
	assert.Empty(t, list)
}

func TestClaimCallsGetReward(t *testing.T) {
	fx, _ := setup(t)
	hub := notifications.NewHub()
	changes := make(chan notifications.Change, 4)
	sub := hub.Subscribe(changes)
	defer sub.Unsubscribe()

	tr := NewTracker(fx, txlifecycle.New(fx, hub), nil)
	_, err := tr.Claim(context.Background(), "sBTC")
	require.NoError(t, err)

	sent := fx.Backend.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, testkit.ShortLoan, sent[0].To)
	assert.Equal(t, "getReward", sent[0].Method)
	assert.Equal(t, networks.CurrencyKey("sBTC"), sent[0].Args[0])
	assert.Equal(t, fx.Account, sent[0].Args[1])

	first, last := <-changes, <-changes
	assert.Equal(t, "Claiming sBTC reward.", first.Notification.Message)
	assert.Equal(t, "You have successfully claimed your sBTC short rewards.", last.Notification.Message)

	_, err = tr.Claim(context.Background(), "sUSD")
	assert.ErrorIs(t, err, ErrUnknownCurrency)
}
