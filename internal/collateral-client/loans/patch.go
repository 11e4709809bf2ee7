package loans

import (
	"math/big"

	"github.com/quantumauth-io/collateral-client/internal/collateral-client/contracts"
)

type EventType string

const (
	EventCreated   EventType = "LoanCreated"
	EventClosed    EventType = "LoanClosed"
	EventDeposited EventType = "CollateralDeposited"
	EventWithdrawn EventType = "CollateralWithdrawn"
	EventRepaid    EventType = "LoanRepaymentMade"
	EventDrawn     EventType = "LoanDrawnDown"
)

var loanEvents = []string{
	string(EventCreated),
	string(EventClosed),
	string(EventDeposited),
	string(EventWithdrawn),
	string(EventRepaid),
	string(EventDrawn),
}

// Event is a decoded loan contract event. Loan is only set for EventCreated.
type Event struct {
	Type   EventType
	Kind   contracts.LoanKind
	ID     *big.Int
	Amount *big.Int
	Loan   *Loan
}

// Apply returns the list with ev folded in, ordered and filtered like Load.
// The input is not modified. Events for unknown loans leave the list unchanged.
func Apply(list []Loan, ev Event) []Loan {
	if ev.Type == EventCreated {
		if ev.Loan == nil {
			return cloneAll(list)
		}
		out := make([]Loan, 0, len(list)+1)
		if isOpen(*ev.Loan) {
			out = append(out, ev.Loan.Clone())
		}
		for _, l := range list {
			if l.Ref() != ev.Loan.Ref() {
				out = append(out, l.Clone())
			}
		}
		sortLoans(out)
		return out
	}

	if ev.ID == nil {
		return cloneAll(list)
	}
	ref := Ref{Kind: ev.Kind, ID: ev.ID.String()}
	out := make([]Loan, 0, len(list))
	for _, l := range list {
		if l.Ref() != ref {
			out = append(out, l.Clone())
			continue
		}
		if ev.Type == EventClosed {
			continue
		}
		patched := l.Clone()
		amount := ev.Amount
		if amount == nil {
			amount = new(big.Int)
		}
		switch ev.Type {
		case EventDeposited:
			patched.Collateral = add(patched.Collateral, amount)
		case EventWithdrawn:
			patched.Collateral = sub(patched.Collateral, amount)
		case EventRepaid:
			patched.Amount = sub(patched.Amount, amount)
		case EventDrawn:
			patched.Amount = add(patched.Amount, amount)
		}
		// a fully repaid loan is gone from the contract's list
		if !isOpen(patched) {
			continue
		}
		out = append(out, patched)
	}
	return out
}

func isOpen(l Loan) bool {
	return l.Amount != nil && l.Amount.Sign() > 0
}

func cloneAll(list []Loan) []Loan {
	out := make([]Loan, len(list))
	for i, l := range list {
		out[i] = l.Clone()
	}
	return out
}

func add(a, b *big.Int) *big.Int {
	if a == nil {
		a = new(big.Int)
	}
	return new(big.Int).Add(a, b)
}

func sub(a, b *big.Int) *big.Int {
	if a == nil {
		a = new(big.Int)
	}
	return new(big.Int).Sub(a, b)
}
