package loans

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/contracts"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/networks"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/txlifecycle"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/utils"
)

// Side selects which leg of a loan a token operation touches.
type Side int

const (
	SideCollateral Side = iota
	SideDebt
)

// Actions adjusts existing loans.
type Actions struct {
	session Session
	tx      *txlifecycle.Manager
}

func NewActions(s Session, tx *txlifecycle.Manager) *Actions {
	return &Actions{session: s, tx: tx}
}

// TokenName is the asset moved on side of l.
func TokenName(l Loan, side Side) string {
	if side == SideDebt {
		return l.Currency
	}
	return l.CollateralName
}

// ParseAmount converts raw to base units of the asset on side of l.
func ParseAmount(n networks.Network, l Loan, side Side, raw string) (*big.Int, error) {
	return utils.ParseUnits(raw, Decimals(n, TokenName(l, side)))
}

// Decimals of a named asset; ETH and unknown synths have 18.
func Decimals(n networks.Network, name string) uint8 {
	if tok, ok := n.Token(name); ok {
		return tok.Decimals
	}
	return 18
}

// NeedsApproval reports whether the loan contract may not yet pull amount of
// the asset on side. Native ETH collateral never needs approval.
func (a *Actions) NeedsApproval(ctx context.Context, l Loan, side Side, amount *big.Int) (bool, error) {
	if side == SideCollateral && l.Kind.NativeCollateral() {
		return false, nil
	}
	set := a.session.Handles(ctx)
	if !set.HasAccount() {
		return false, contracts.ErrNotAvailable
	}
	token, err := set.Token(TokenName(l, side))
	if err != nil {
		return false, err
	}
	loan, err := set.Loan(l.Kind)
	if err != nil {
		return false, err
	}
	allowance, err := token.CallBig(ctx, "allowance", set.Account, loan.Address)
	if err != nil {
		return false, fmt.Errorf("loans: allowance: %w", err)
	}
	return allowance.Cmp(amount) < 0, nil
}

// Approve lets the loan contract pull amount of the asset on side.
func (a *Actions) Approve(ctx context.Context, l Loan, side Side, amount *big.Int) error {
	name := TokenName(l, side)
	_, err := a.tx.Execute(ctx, "Approving "+name, "Approved "+name, func() (txlifecycle.Call, error) {
		set, err := a.session.Writable()
		if err != nil {
			return txlifecycle.Call{}, err
		}
		token, err := set.Token(name)
		if err != nil {
			return txlifecycle.Call{}, err
		}
		loan, err := set.Loan(l.Kind)
		if err != nil {
			return txlifecycle.Call{}, err
		}
		return txlifecycle.Call{Contract: token, Method: "approve", Args: []any{loan.Address, amount}}, nil
	})
	return err
}

func (a *Actions) Deposit(ctx context.Context, l Loan, amount *big.Int) (*types.Receipt, error) {
	if err := a.gate(ctx, l, SideCollateral, amount); err != nil {
		return nil, err
	}
	return a.execute(ctx, l,
		fmt.Sprintf("Adding collateral to loan(#%s)", l.ID),
		fmt.Sprintf("Added collateral to loan(#%s).", l.ID),
		func(set *contracts.Set, h *contracts.Handle) (txlifecycle.Call, error) {
			if err := positive(amount, l.CollateralName); err != nil {
				return txlifecycle.Call{}, err
			}
			if l.Kind.NativeCollateral() {
				return txlifecycle.Call{Contract: h, Method: "deposit", Args: []any{set.Account, l.ID}, Value: amount}, nil
			}
			return txlifecycle.Call{Contract: h, Method: "deposit", Args: []any{set.Account, l.ID, amount}}, nil
		})
}

func (a *Actions) Withdraw(ctx context.Context, l Loan, amount *big.Int) (*types.Receipt, error) {
	return a.execute(ctx, l,
		fmt.Sprintf("Withdrawing collateral to loan(#%s)", l.ID),
		fmt.Sprintf("Withdrew collateral to loan(#%s).", l.ID),
		func(_ *contracts.Set, h *contracts.Handle) (txlifecycle.Call, error) {
			if err := positive(amount, l.CollateralName); err != nil {
				return txlifecycle.Call{}, err
			}
			return txlifecycle.Call{Contract: h, Method: "withdraw", Args: []any{l.ID, amount}}, nil
		})
}

func (a *Actions) Repay(ctx context.Context, l Loan, amount *big.Int) (*types.Receipt, error) {
	if err := a.gate(ctx, l, SideDebt, amount); err != nil {
		return nil, err
	}
	label := fmt.Sprintf("Repaying debt for loan(#%s)", l.ID)
	return a.execute(ctx, l, label, label+".",
		func(set *contracts.Set, h *contracts.Handle) (txlifecycle.Call, error) {
			if err := positive(amount, l.Currency); err != nil {
				return txlifecycle.Call{}, err
			}
			return txlifecycle.Call{Contract: h, Method: "repay", Args: []any{set.Account, l.ID, amount}}, nil
		})
}

func (a *Actions) Draw(ctx context.Context, l Loan, amount *big.Int) (*types.Receipt, error) {
	return a.execute(ctx, l,
		fmt.Sprintf("Increasing debt for loan(#%s)", l.ID),
		fmt.Sprintf("Increased debt for loan(#%s).", l.ID),
		func(_ *contracts.Set, h *contracts.Handle) (txlifecycle.Call, error) {
			if err := positive(amount, l.Currency); err != nil {
				return txlifecycle.Call{}, err
			}
			return txlifecycle.Call{Contract: h, Method: "draw", Args: []any{l.ID, amount}}, nil
		})
}

// Close repays the whole debt, so the loan contract must be allowed to pull
// the loan amount first.
func (a *Actions) Close(ctx context.Context, l Loan) (*types.Receipt, error) {
	if err := a.gate(ctx, l, SideDebt, l.Amount); err != nil {
		return nil, err
	}
	return a.execute(ctx, l,
		fmt.Sprintf("Closing loan(#%s)", l.ID),
		fmt.Sprintf("Loan(#%s) successfully closed.", l.ID),
		func(_ *contracts.Set, h *contracts.Handle) (txlifecycle.Call, error) {
			return txlifecycle.Call{Contract: h, Method: "close", Args: []any{l.ID}}, nil
		})
}

func (a *Actions) gate(ctx context.Context, l Loan, side Side, amount *big.Int) error {
	if amount == nil {
		return nil
	}
	need, err := a.NeedsApproval(ctx, l, side, amount)
	if err != nil {
		return err
	}
	if need {
		return fmt.Errorf("%w: %s", ErrApprovalRequired, TokenName(l, side))
	}
	return nil
}

func (a *Actions) execute(ctx context.Context, l Loan, start, end string, build func(*contracts.Set, *contracts.Handle) (txlifecycle.Call, error)) (*types.Receipt, error) {
	return a.tx.Execute(ctx, start, end, func() (txlifecycle.Call, error) {
		set, err := a.session.Writable()
		if err != nil {
			return txlifecycle.Call{}, err
		}
		h, err := set.Loan(l.Kind)
		if err != nil {
			return txlifecycle.Call{}, err
		}
		return build(set, h)
	})
}

func positive(amount *big.Int, name string) error {
	if amount == nil || amount.Sign() <= 0 {
		return txlifecycle.Fail(fmt.Sprintf("Enter %s amount..", name), ErrNoAmount)
	}
	return nil
}
