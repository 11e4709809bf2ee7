package loans

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/contracts"
)

// Load reads every open loan of the set's account across all loan kinds,
// newest first. Kinds whose contracts are missing on the network are skipped.
func Load(ctx context.Context, set *contracts.Set) ([]Loan, error) {
	if !set.HasAccount() {
		return nil, contracts.ErrNotAvailable
	}
	var out []Loan
	for _, k := range contracts.AllKinds {
		kindLoans, err := LoadKind(ctx, set, k)
		if err != nil {
			if errors.Is(err, contracts.ErrNotAvailable) {
				continue
			}
			return nil, err
		}
		out = append(out, kindLoans...)
	}
	sortLoans(out)
	return out, nil
}

// LoadKind reads the account's open loans of one kind.
func LoadKind(ctx context.Context, set *contracts.Set, kind contracts.LoanKind) ([]Loan, error) {
	if !set.HasAccount() {
		return nil, contracts.ErrNotAvailable
	}
	loan, err := set.Loan(kind)
	if err != nil {
		return nil, err
	}
	state, err := set.State(kind)
	if err != nil {
		return nil, err
	}

	num, err := state.CallBig(ctx, "getNumLoans", set.Account)
	if err != nil {
		return nil, fmt.Errorf("loans: %s count: %w", kind, err)
	}
	minCratio, err := loan.CallBig(ctx, "minCratio")
	if err != nil {
		return nil, fmt.Errorf("loans: %s min cratio: %w", kind, err)
	}

	var out []Loan
	for i := int64(0); i < num.Int64(); i++ {
		raw, err := state.Call(ctx, "loans", set.Account, big.NewInt(i))
		if err != nil {
			return nil, fmt.Errorf("loans: %s loan %d: %w", kind, i, err)
		}
		t, err := contracts.LoanFromOutputs(raw)
		if err != nil {
			return nil, err
		}
		if t.Amount == nil || t.Amount.Sign() == 0 {
			continue
		}
		l := fromTuple(t, kind)
		l.MinCRatio = cp(minCratio)
		if l.CRatio, err = collateralRatio(ctx, loan, t); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, nil
}

// Get reads one loan by id through the state contract.
func Get(ctx context.Context, set *contracts.Set, kind contracts.LoanKind, id *big.Int) (Loan, error) {
	if !set.HasAccount() {
		return Loan{}, contracts.ErrNotAvailable
	}
	loan, err := set.Loan(kind)
	if err != nil {
		return Loan{}, err
	}
	state, err := set.State(kind)
	if err != nil {
		return Loan{}, err
	}
	out, err := state.Call(ctx, "getLoan", set.Account, id)
	if err != nil {
		return Loan{}, fmt.Errorf("loans: get %s #%s: %w", kind, id, err)
	}
	if len(out) == 0 {
		return Loan{}, ErrLoanNotFound
	}
	t, err := contracts.LoanFromTuple(out[0])
	if err != nil {
		return Loan{}, err
	}
	if t.Id == nil || t.Id.Sign() == 0 {
		return Loan{}, ErrLoanNotFound
	}
	l := fromTuple(t, kind)
	if l.MinCRatio, err = loan.CallBig(ctx, "minCratio"); err != nil {
		return Loan{}, fmt.Errorf("loans: %s min cratio: %w", kind, err)
	}
	if l.CRatio, err = collateralRatio(ctx, loan, t); err != nil {
		return Loan{}, err
	}
	return l, nil
}

func collateralRatio(ctx context.Context, loan *contracts.Handle, t contracts.LoanTuple) (*big.Int, error) {
	v, err := loan.CallBig(ctx, "collateralRatio", t)
	if err != nil {
		return nil, fmt.Errorf("loans: cratio #%s: %w", t.Id, err)
	}
	return v, nil
}

func sortLoans(ls []Loan) {
	sort.SliceStable(ls, func(i, j int) bool {
		if c := ls[i].ID.Cmp(ls[j].ID); c != 0 {
			return c > 0
		}
		return ls[i].Kind < ls[j].Kind
	})
}

func commonAddress(hex string) common.Address {
	return common.HexToAddress(hex)
}
