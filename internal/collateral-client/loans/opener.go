package loans

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/contracts"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/networks"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/notifications"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/txlifecycle"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/utils"
)

// OpenRequest describes a new loan or short. Amounts are user-entered
// decimal strings.
type OpenRequest struct {
	Kind       contracts.LoanKind `json:"kind"`
	Debt       string             `json:"debt"`
	Collateral string             `json:"collateralAmount"`
	Amount     string             `json:"debtAmount"`
}

// Quote is a validated OpenRequest resolved against the chain.
type Quote struct {
	Kind               contracts.LoanKind `json:"kind"`
	CollateralName     string             `json:"collateralName"`
	DebtName           string             `json:"debtName"`
	Collateral         *big.Int           `json:"collateral"`
	Debt               *big.Int           `json:"debt"`
	CollateralDecimals uint8              `json:"collateralDecimals"`
	DebtDecimals       uint8              `json:"debtDecimals"`
	MinCollateral      *big.Int           `json:"minCollateral"`
	Allowance          *big.Int           `json:"allowance,omitempty"`
	NeedsApproval      bool               `json:"needsApproval"`
	// CRatio is the previewed integer percentage for shorts, zero otherwise.
	CRatio *big.Int `json:"cratio,omitempty"`
}

// OpenLabels returns the lifecycle labels for opening q.
func (q Quote) OpenLabels() (string, string) {
	verb, past := "Borrowing", "Borrowed"
	if q.Kind.Info().Short {
		verb, past = "Shorting", "Shorted"
	}
	n := utils.FormatUnits(q.Debt, q.DebtDecimals)
	return fmt.Sprintf("%s %s %s", verb, n, q.DebtName), fmt.Sprintf("%s %s %s", past, n, q.DebtName)
}

// Opener runs the approve-then-open flow. Only one step runs at a time.
type Opener struct {
	session Session
	tx      *txlifecycle.Manager
	busy    atomic.Bool
}

func NewOpener(s Session, tx *txlifecycle.Manager) *Opener {
	return &Opener{session: s, tx: tx}
}

// Prepare parses and validates req and reads the collateral allowance. A
// failed minimum-collateral check is reported as a single error notification.
func (o *Opener) Prepare(ctx context.Context, req OpenRequest) (Quote, error) {
	set := o.session.Handles(ctx)
	q, err := resolve(set.Network, req)
	if err != nil {
		return Quote{}, err
	}
	loan, err := set.Loan(req.Kind)
	if err != nil {
		return Quote{}, err
	}

	min, err := loan.CallBig(ctx, "minCollateral")
	if err != nil {
		return Quote{}, fmt.Errorf("loans: min collateral: %w", err)
	}
	q.MinCollateral = NormalizeMinCollateral(min, q.CollateralDecimals, req.Kind.Info().Short)
	if q.Collateral.Cmp(q.MinCollateral) < 0 {
		msg := fmt.Sprintf("Minimum collateral is %s %s", utils.FormatUnits(q.MinCollateral, q.CollateralDecimals), q.CollateralName)
		o.tx.Hub().Error(notifications.NewInvocation(), msg, "", "")
		return Quote{}, txlifecycle.Fail(msg, ErrBelowMinimum)
	}

	if err := o.readAllowance(ctx, set, &q); err != nil {
		return Quote{}, err
	}
	if q.Kind.Info().Short {
		if q.CRatio, err = PreviewCRatio(ctx, set, q.CollateralName, q.Collateral, q.DebtName, q.Debt); err != nil && !errors.Is(err, contracts.ErrNotAvailable) {
			return Quote{}, err
		}
	}
	return q, nil
}

// Approve lets the loan contract pull the quoted collateral, then re-reads
// the allowance.
func (o *Opener) Approve(ctx context.Context, q Quote) (Quote, error) {
	if !o.busy.CompareAndSwap(false, true) {
		return q, ErrBusy
	}
	defer o.busy.Store(false)

	if !q.NeedsApproval {
		return q, nil
	}
	_, err := o.tx.Execute(ctx, "Approving "+q.CollateralName, "Approved "+q.CollateralName, func() (txlifecycle.Call, error) {
		set, err := o.session.Writable()
		if err != nil {
			return txlifecycle.Call{}, err
		}
		token, err := set.Token(q.CollateralName)
		if err != nil {
			return txlifecycle.Call{}, err
		}
		loan, err := set.Loan(q.Kind)
		if err != nil {
			return txlifecycle.Call{}, err
		}
		return txlifecycle.Call{Contract: token, Method: "approve", Args: []any{loan.Address, q.Collateral}}, nil
	})
	if err != nil {
		return q, err
	}
	err = o.readAllowance(ctx, o.session.Handles(ctx), &q)
	return q, err
}

// Open submits the loan. It refuses while the allowance does not cover the
// collateral.
func (o *Opener) Open(ctx context.Context, q Quote) (*types.Receipt, error) {
	if q.NeedsApproval {
		return nil, ErrApprovalRequired
	}
	if !o.busy.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer o.busy.Store(false)

	start, end := q.OpenLabels()
	return o.tx.Execute(ctx, start, end, func() (txlifecycle.Call, error) {
		if q.Debt == nil || q.Debt.Sign() == 0 {
			return txlifecycle.Call{}, txlifecycle.Fail(fmt.Sprintf("Enter %s amount..", q.DebtName), ErrNoAmount)
		}
		set, err := o.session.Writable()
		if err != nil {
			return txlifecycle.Call{}, err
		}
		loan, err := set.Loan(q.Kind)
		if err != nil {
			return txlifecycle.Call{}, err
		}
		key := networks.CurrencyKey(q.DebtName)
		if q.Kind.NativeCollateral() {
			return txlifecycle.Call{Contract: loan, Method: "open", Args: []any{q.Debt, key}, Value: q.Collateral}, nil
		}
		return txlifecycle.Call{Contract: loan, Method: "open", Args: []any{q.Collateral, q.Debt, key}}, nil
	})
}

// OpenWithApproval is Prepare, Approve when needed, then Open.
func (o *Opener) OpenWithApproval(ctx context.Context, req OpenRequest) (*types.Receipt, error) {
	q, err := o.Prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	if q.NeedsApproval {
		if q, err = o.Approve(ctx, q); err != nil {
			return nil, err
		}
		if q.NeedsApproval {
			return nil, ErrApprovalRequired
		}
	}
	return o.Open(ctx, q)
}

func (o *Opener) readAllowance(ctx context.Context, set *contracts.Set, q *Quote) error {
	if q.Kind.NativeCollateral() {
		q.NeedsApproval = false
		q.Allowance = nil
		return nil
	}
	if !set.HasAccount() {
		return contracts.ErrNotAvailable
	}
	token, err := set.Token(q.CollateralName)
	if err != nil {
		return err
	}
	loan, err := set.Loan(q.Kind)
	if err != nil {
		return err
	}
	allowance, err := token.CallBig(ctx, "allowance", set.Account, loan.Address)
	if err != nil {
		return fmt.Errorf("loans: allowance: %w", err)
	}
	q.Allowance = allowance
	q.NeedsApproval = allowance.Cmp(q.Collateral) < 0
	return nil
}

func resolve(n networks.Network, req OpenRequest) (Quote, error) {
	info := req.Kind.Info()
	if info.Name == "" {
		return Quote{}, fmt.Errorf("loans: unknown loan kind %d", int(req.Kind))
	}
	if !req.Kind.AllowsDebt(req.Debt) {
		return Quote{}, fmt.Errorf("loans: %s cannot be borrowed against %s", req.Debt, info.Collateral)
	}
	q := Quote{
		Kind:               req.Kind,
		CollateralName:     info.Collateral,
		DebtName:           req.Debt,
		CollateralDecimals: req.Kind.CollateralDecimals(n),
		DebtDecimals:       18,
	}
	if tok, ok := n.Token(req.Debt); ok {
		q.DebtDecimals = tok.Decimals
	}
	var err error
	if q.Collateral, err = utils.ParseUnits(req.Collateral, q.CollateralDecimals); err != nil {
		return Quote{}, err
	}
	if q.Debt, err = utils.ParseUnits(req.Amount, q.DebtDecimals); err != nil {
		return Quote{}, err
	}
	return q, nil
}

// PreviewCRatio prices a prospective short with the exchange rates oracle.
func PreviewCRatio(ctx context.Context, set *contracts.Set, collateralName string, collateral *big.Int, debtName string, debt *big.Int) (*big.Int, error) {
	if anyZero(collateral, debt) {
		return new(big.Int), nil
	}
	rates, err := set.ExchangeRates()
	if err != nil {
		return nil, err
	}
	cPrice, err := Rate(ctx, rates, collateralName)
	if err != nil {
		return nil, err
	}
	dPrice, err := Rate(ctx, rates, debtName)
	if err != nil {
		return nil, err
	}
	return ShortCRatio(collateral, cPrice, debt, dPrice), nil
}

// Rate reads the 1e18-scaled USD rate of a currency.
func Rate(ctx context.Context, rates *contracts.Handle, currency string) (*big.Int, error) {
	out, err := rates.Call(ctx, "rateAndInvalid", networks.CurrencyKey(currency))
	if err != nil {
		return nil, fmt.Errorf("loans: rate %s: %w", currency, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("loans: rate %s: empty result", currency)
	}
	rate, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("loans: rate %s: unexpected %T", currency, out[0])
	}
	return rate, nil
}
