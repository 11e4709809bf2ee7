// Package loans reads, tracks and acts on the connected account's loans and
// shorts across the three loan contracts.
package loans

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/quantumauth-io/collateral-client/internal/collateral-client/contracts"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/networks"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/utils"
)

var (
	ErrBusy             = errors.New("loans: another action is in flight")
	ErrApprovalRequired = errors.New("loans: approval required")
	ErrLoanNotFound     = errors.New("loans: loan not found")
	ErrBelowMinimum     = errors.New("loans: collateral below minimum")
	ErrNoAmount         = errors.New("loans: amount required")
)

// Session is what loan readers and actions need from the wallet session.
type Session interface {
	Handles(ctx context.Context) *contracts.Set
	Writable() (*contracts.Set, error)
}

// Loan is a point-in-time projection of a loan's on-chain storage.
type Loan struct {
	ID              *big.Int           `json:"id"`
	Kind            contracts.LoanKind `json:"kind"`
	Account         string             `json:"account"`
	Collateral      *big.Int           `json:"collateral"`
	CollateralName  string             `json:"collateralName"`
	Amount          *big.Int           `json:"amount"`
	Currency        string             `json:"currency"`
	CurrencyKey     [32]byte           `json:"-"`
	AccruedInterest *big.Int           `json:"accruedInterest"`
	InterestIndex   *big.Int           `json:"interestIndex"`
	LastInteraction time.Time          `json:"lastInteraction"`
	Short           bool               `json:"short"`
	CRatio          *big.Int           `json:"cratio"`
	MinCRatio       *big.Int           `json:"minCratio"`
}

// Ref identifies a loan; ids are only unique per loan contract.
type Ref struct {
	Kind contracts.LoanKind
	ID   string
}

func (l Loan) Ref() Ref {
	return Ref{Kind: l.Kind, ID: l.ID.String()}
}

// Clone deep-copies the big integers.
func (l Loan) Clone() Loan {
	out := l
	out.ID = cp(l.ID)
	out.Collateral = cp(l.Collateral)
	out.Amount = cp(l.Amount)
	out.AccruedInterest = cp(l.AccruedInterest)
	out.InterestIndex = cp(l.InterestIndex)
	out.CRatio = cp(l.CRatio)
	out.MinCRatio = cp(l.MinCRatio)
	return out
}

// BelowMinimum reports whether the loan can be liquidated.
func (l Loan) BelowMinimum() bool {
	if l.CRatio == nil || l.MinCRatio == nil {
		return false
	}
	return l.CRatio.Cmp(l.MinCRatio) < 0
}

// CRatioPercent renders the 1e18-scaled ratio as a percentage.
func (l Loan) CRatioPercent() string {
	return utils.FormatUnits(l.CRatio, 16)
}

func (l Loan) String() string {
	side := "long"
	if l.Short {
		side = "short"
	}
	return fmt.Sprintf("loan(#%s) %s %s %s collateral=%s %s", l.ID, l.Kind, side,
		utils.FormatUnits(l.Amount, 18)+" "+l.Currency,
		utils.FormatUnits(l.Collateral, 18), l.CollateralName)
}

func fromTuple(t contracts.LoanTuple, kind contracts.LoanKind) Loan {
	return Loan{
		ID:              cp(t.Id),
		Kind:            kind,
		Account:         t.Account.Hex(),
		Collateral:      cp(t.Collateral),
		CollateralName:  kind.Info().Collateral,
		Amount:          cp(t.Amount),
		Currency:        networks.CurrencyName(t.Currency),
		CurrencyKey:     t.Currency,
		AccruedInterest: cp(t.AccruedInterest),
		InterestIndex:   cp(t.InterestIndex),
		LastInteraction: time.Unix(safeInt64(t.LastInteraction), 0).UTC(),
		Short:           t.Short,
	}
}

func (l Loan) tuple() contracts.LoanTuple {
	return contracts.LoanTuple{
		Id:              cp(l.ID),
		Account:         commonAddress(l.Account),
		Collateral:      cp(l.Collateral),
		Currency:        l.CurrencyKey,
		Amount:          cp(l.Amount),
		Short:           l.Short,
		AccruedInterest: cp(l.AccruedInterest),
		InterestIndex:   cp(l.InterestIndex),
		LastInteraction: big.NewInt(l.LastInteraction.Unix()),
	}
}

func cp(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

func safeInt64(v *big.Int) int64 {
	if v == nil || !v.IsInt64() {
		return 0
	}
	return v.Int64()
}
