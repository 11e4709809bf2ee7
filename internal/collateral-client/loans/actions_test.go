package loans

import (
	"context"
	"math/big"
	"testing"

	"github.com/quantumauth-io/collateral-client/internal/collateral-client/contracts"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/testkit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func messages(b *book, fn func(*Actions)) []string {
	tx, changes := b.lifecycle()
	fn(NewActions(b.fx, tx))
	var out []string
	for _, c := range drain(changes) {
		out = append(out, c.Notification.Message)
	}
	return out
}

func loadOne(t *testing.T, b *book, kind contracts.LoanKind, id int64) Loan {
	t.Helper()
	l, err := Get(context.Background(), b.fx.ReadOnly(), kind, big.NewInt(id))
	require.NoError(t, err)
	return l
}

func TestDepositETHIsPayable(t *testing.T) {
	b := newBook(t)
	b.add(contracts.KindETH, 3, ether(2), ether(1), "sUSD")
	l := loadOne(t, b, contracts.KindETH, 3)

	got := messages(b, func(a *Actions) {
		_, err := a.Deposit(context.Background(), l, ether(1))
		require.NoError(t, err)
	})
	assert.Equal(t, []string{"Adding collateral to loan(#3)", "Added collateral to loan(#3)."}, got)

	sent := b.fx.Backend.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "deposit", sent[0].Method)
	assert.Equal(t, 0, ether(1).Cmp(sent[0].Value))
	require.Len(t, sent[0].Args, 2)
	assert.Equal(t, b.fx.Account, sent[0].Args[0])
	assert.Equal(t, int64(3), sent[0].Args[1].(*big.Int).Int64())
}

func TestDepositERC20NeedsApproval(t *testing.T) {
	b := newBook(t)
	b.add(contracts.KindERC20, 1, big.NewInt(1e8), ether(1), "sUSD")
	l := loadOne(t, b, contracts.KindERC20, 1)
	tx, _ := b.lifecycle()
	a := NewActions(b.fx, tx)
	ctx := context.Background()

	amount, err := ParseAmount(b.fx.Network, l, SideCollateral, "0.5")
	require.NoError(t, err)
	assert.Equal(t, int64(5e7), amount.Int64())

	_, err = a.Deposit(ctx, l, amount)
	assert.ErrorIs(t, err, ErrApprovalRequired)
	assert.Empty(t, b.fx.Backend.Sent())

	require.NoError(t, a.Approve(ctx, l, SideCollateral, amount))
	need, err := a.NeedsApproval(ctx, l, SideCollateral, amount)
	require.NoError(t, err)
	assert.False(t, need)

	_, err = a.Deposit(ctx, l, amount)
	require.NoError(t, err)
	assert.Equal(t, []string{"approve", "deposit"}, b.fx.Backend.SentMethods())
	assert.Equal(t, testkit.RenBTC, b.fx.Backend.Sent()[0].To)
}

func TestRepayAndCloseGateOnDebtAllowance(t *testing.T) {
	b := newBook(t)
	b.add(contracts.KindShort, 8, ether(300), ether(2), "sETH")
	l := loadOne(t, b, contracts.KindShort, 8)
	ctx := context.Background()

	got := messages(b, func(a *Actions) {
		_, err := a.Close(ctx, l)
		assert.ErrorIs(t, err, ErrApprovalRequired)

		require.NoError(t, a.Approve(ctx, l, SideDebt, l.Amount))
		_, err = a.Repay(ctx, l, ether(1))
		require.NoError(t, err)
		_, err = a.Close(ctx, l)
		require.NoError(t, err)
	})
	assert.Equal(t, []string{
		"Approving sETH", "Approved sETH",
		"Repaying debt for loan(#8)", "Repaying debt for loan(#8).",
		"Closing loan(#8)", "Loan(#8) successfully closed.",
	}, got)

	sent := b.fx.Backend.Sent()
	require.Len(t, sent, 3)
	assert.Equal(t, testkit.SETH, sent[0].To)
	assert.Equal(t, "repay", sent[1].Method)
	require.Len(t, sent[1].Args, 3)
	assert.Equal(t, b.fx.Account, sent[1].Args[0])
	assert.Equal(t, int64(8), sent[1].Args[1].(*big.Int).Int64())
	assert.Equal(t, 0, ether(1).Cmp(sent[1].Args[2].(*big.Int)))
	assert.Equal(t, "close", sent[2].Method)
}

func TestWithdrawAndDraw(t *testing.T) {
	b := newBook(t)
	b.add(contracts.KindETH, 2, ether(5), ether(1), "sETH")
	l := loadOne(t, b, contracts.KindETH, 2)
	ctx := context.Background()

	got := messages(b, func(a *Actions) {
		_, err := a.Withdraw(ctx, l, ether(1))
		require.NoError(t, err)
		_, err = a.Draw(ctx, l, big.NewInt(5e17))
		require.NoError(t, err)
		_, err = a.Draw(ctx, l, big.NewInt(0))
		assert.ErrorIs(t, err, ErrNoAmount)
	})
	assert.Equal(t, []string{
		"Withdrawing collateral to loan(#2)", "Withdrew collateral to loan(#2).",
		"Increasing debt for loan(#2)", "Increased debt for loan(#2).",
		"Enter sETH amount..",
	}, got)
	assert.Equal(t, []string{"withdraw", "draw"}, b.fx.Backend.SentMethods())
}

func TestActionsRefusedWhenReadOnly(t *testing.T) {
	b := newBook(t)
	b.add(contracts.KindETH, 2, ether(5), ether(1), "sETH")
	l := loadOne(t, b, contracts.KindETH, 2)
	b.fx.WriteErr = contracts.ErrNotAvailable

	got := messages(b, func(a *Actions) {
		_, err := a.Withdraw(context.Background(), l, ether(1))
		assert.ErrorIs(t, err, contracts.ErrNotAvailable)
	})
	assert.Empty(t, got)
	assert.Empty(t, b.fx.Backend.Sent())
}
