// Package withdrawals reads and claims ETH the ETH loan contract holds for the
// account after a close or liquidation.
package withdrawals

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/quantumauth-io/collateral-client/internal/collateral-client/contracts"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/txlifecycle"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/utils"
	"github.com/quantumauth-io/quantum-go-utils/log"
)

var ErrNothingPending = errors.New("withdrawals: no pending withdrawals")

// NoneMessage is shown when nothing is pending.
const NoneMessage = "You have no pending withdrawals."

const DefaultReloadDelay = time.Second

type Session interface {
	Handles(ctx context.Context) *contracts.Set
	Writable() (*contracts.Set, error)
}

type Pending struct {
	Amount  *big.Int `json:"amount"`
	Display string   `json:"display"`
}

func (p Pending) Empty() bool {
	return p.Amount == nil || p.Amount.Sign() == 0
}

func Load(ctx context.Context, set *contracts.Set) (Pending, error) {
	if !set.HasAccount() {
		return Pending{}, contracts.ErrNotAvailable
	}
	h, err := set.Loan(contracts.KindETH)
	if err != nil {
		return Pending{}, err
	}
	amount, err := h.CallBig(ctx, "pendingWithdrawals", set.Account)
	if err != nil {
		return Pending{}, fmt.Errorf("withdrawals: pendingWithdrawals: %w", err)
	}
	return Pending{Amount: amount, Display: utils.FormatUnits(amount, 18)}, nil
}

type Claimer struct {
	session Session
	tx      *txlifecycle.Manager
	delay   time.Duration
}

func NewClaimer(s Session, tx *txlifecycle.Manager, delay time.Duration) *Claimer {
	return &Claimer{session: s, tx: tx, delay: delay}
}

// Claim withdraws everything pending and returns what is pending afterwards.
func (c *Claimer) Claim(ctx context.Context) (Pending, error) {
	current, err := Load(ctx, c.session.Handles(ctx))
	if err != nil {
		return Pending{}, err
	}
	if current.Empty() {
		return current, ErrNothingPending
	}

	_, err = c.tx.Execute(ctx,
		fmt.Sprintf("Withdrawing %s ETH", current.Display),
		fmt.Sprintf("You have successfully withdrawn %s ETH.", current.Display),
		func() (txlifecycle.Call, error) {
			set, err := c.session.Writable()
			if err != nil {
				return txlifecycle.Call{}, err
			}
			h, err := set.Loan(contracts.KindETH)
			if err != nil {
				return txlifecycle.Call{}, err
			}
			return txlifecycle.Call{Contract: h, Method: "claim", Args: []any{current.Amount}}, nil
		})
	if err != nil {
		return current, err
	}

	select {
	case <-ctx.Done():
		return current, nil
	case <-time.After(c.delay):
	}
	after, err := Load(ctx, c.session.Handles(ctx))
	if err != nil {
		log.Warn("pending withdrawals reload failed", "error", err)
		return Pending{}, nil
	}
	return after, nil
}
