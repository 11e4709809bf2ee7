package contracts

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// LoanTuple mirrors the on-chain Loan struct. Field names follow the ABI
// component names so it packs and unpacks directly.
type LoanTuple struct {
	Id              *big.Int
	Account         common.Address
	Collateral      *big.Int
	Currency        [32]byte
	Amount          *big.Int
	Short           bool
	AccruedInterest *big.Int
	InterestIndex   *big.Int
	LastInteraction *big.Int
}

// LoanFromOutputs decodes the flattened outputs of the state `loans` getter.
func LoanFromOutputs(out []any) (LoanTuple, error) {
	if len(out) != 9 {
		return LoanTuple{}, fmt.Errorf("contracts: loan has %d fields, want 9", len(out))
	}
	var (
		t  LoanTuple
		ok bool
	)
	bigs := []struct {
		dst **big.Int
		idx int
	}{{&t.Id, 0}, {&t.Collateral, 2}, {&t.Amount, 4}, {&t.AccruedInterest, 6}, {&t.InterestIndex, 7}, {&t.LastInteraction, 8}}
	for _, b := range bigs {
		if *b.dst, ok = out[b.idx].(*big.Int); !ok {
			return LoanTuple{}, fmt.Errorf("contracts: loan field %d is %T", b.idx, out[b.idx])
		}
	}
	if t.Account, ok = out[1].(common.Address); !ok {
		return LoanTuple{}, fmt.Errorf("contracts: loan account is %T", out[1])
	}
	if t.Currency, ok = out[3].([32]byte); !ok {
		return LoanTuple{}, fmt.Errorf("contracts: loan currency is %T", out[3])
	}
	if t.Short, ok = out[5].(bool); !ok {
		return LoanTuple{}, fmt.Errorf("contracts: loan short flag is %T", out[5])
	}
	return t, nil
}

// LoanFromTuple converts the anonymous struct abi returns for a tuple output.
func LoanFromTuple(v any) (LoanTuple, error) {
	converted, ok := abi.ConvertType(v, new(LoanTuple)).(*LoanTuple)
	if !ok || converted == nil {
		return LoanTuple{}, fmt.Errorf("contracts: cannot convert %T to loan", v)
	}
	return *converted, nil
}

// Outputs flattens the tuple in `loans` getter order.
func (t LoanTuple) Outputs() []any {
	return []any{t.Id, t.Account, t.Collateral, t.Currency, t.Amount, t.Short, t.AccruedInterest, t.InterestIndex, t.LastInteraction}
}
