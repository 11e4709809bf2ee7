// Package hedge swaps sUSD into the real asset behind a synth loan through the
// swap aggregator, so the borrowed exposure is offset.
package hedge

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/constants"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/contracts"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/loans"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/networks"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/notifications"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/swap"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/txlifecycle"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/utils"
)

var ErrNotHedgeable = errors.New("hedge: loan currency has no hedge asset")

// FromAsset is always sold.
const FromAsset = "sUSD"

// ToAsset maps a synth debt to the asset bought against it.
var ToAsset = map[string]string{
	"sBTC": "WBTC",
	"sETH": "ETH",
}

type Aggregator interface {
	Spender(ctx context.Context) (common.Address, error)
	Quote(ctx context.Context, from, to common.Address, amount *big.Int) (swap.Quote, error)
	Swap(ctx context.Context, from, to common.Address, amount *big.Int, fromAddress common.Address, slippage float64) (swap.Tx, error)
}

type Plan struct {
	Loan          loans.Loan     `json:"loan"`
	FromName      string         `json:"fromName"`
	ToName        string         `json:"toName"`
	From          common.Address `json:"from"`
	To            common.Address `json:"to"`
	FromAmount    *big.Int       `json:"fromAmount"`
	ToAmount      *big.Int       `json:"toAmount"`
	FromDecimals  uint8          `json:"fromDecimals"`
	ToDecimals    uint8          `json:"toDecimals"`
	Spender       common.Address `json:"spender"`
	Allowance     *big.Int       `json:"allowance"`
	NeedsApproval bool           `json:"needsApproval"`
	EstimatedGas  uint64         `json:"estimatedGas"`
}

// Summary describes the swap, e.g. "Swapping 15000.00 sUSD for 0.50 WBTC".
func (p Plan) Summary() string {
	return fmt.Sprintf("Swapping %s %s for %s %s",
		utils.ToDecimal(p.FromAmount, p.FromDecimals).StringFixed(2), p.FromName,
		utils.ToDecimal(p.ToAmount, p.ToDecimals).StringFixed(2), p.ToName)
}

type Service struct {
	session  loans.Session
	tx       *txlifecycle.Manager
	agg      Aggregator
	slippage float64
	busy     atomic.Bool
}

func NewService(s loans.Session, tx *txlifecycle.Manager, agg Aggregator) *Service {
	return &Service{session: s, tx: tx, agg: agg, slippage: swap.DefaultSlippage}
}

func assetAddress(n networks.Network, name string) (common.Address, bool) {
	if addr, ok := n.TokenAddress(name); ok {
		return addr, true
	}
	if name == "ETH" {
		return common.HexToAddress(constants.NativeAddr), true
	}
	return common.Address{}, false
}

// Prepare prices the sUSD needed to buy the loan's debt in the real asset and
// checks the aggregator's allowance.
func (s *Service) Prepare(ctx context.Context, l loans.Loan) (Plan, error) {
	toName, ok := ToAsset[l.Currency]
	if !ok {
		return Plan{}, fmt.Errorf("%w: %s", ErrNotHedgeable, l.Currency)
	}
	set := s.session.Handles(ctx)
	if !set.HasAccount() {
		return Plan{}, contracts.ErrNotAvailable
	}
	from, ok := assetAddress(set.Network, FromAsset)
	if !ok {
		return Plan{}, contracts.ErrNotAvailable
	}
	to, ok := assetAddress(set.Network, toName)
	if !ok {
		return Plan{}, contracts.ErrNotAvailable
	}

	p := Plan{
		Loan:         l,
		FromName:     FromAsset,
		ToName:       toName,
		From:         from,
		To:           to,
		FromDecimals: loans.Decimals(set.Network, FromAsset),
		ToDecimals:   loans.Decimals(set.Network, toName),
	}
	p.ToAmount = new(big.Int).Mul(l.Amount, utils.Pow10(p.ToDecimals))
	p.ToAmount.Quo(p.ToAmount, utils.Pow10(18))

	quote, err := s.agg.Quote(ctx, to, from, p.ToAmount)
	if err != nil {
		return Plan{}, err
	}
	p.FromAmount = quote.ToTokenAmount
	p.EstimatedGas = quote.EstimatedGas

	if p.Spender, err = s.agg.Spender(ctx); err != nil {
		return Plan{}, err
	}
	return s.refreshAllowance(ctx, set, p)
}

func (s *Service) refreshAllowance(ctx context.Context, set *contracts.Set, p Plan) (Plan, error) {
	token, err := set.Token(p.FromName)
	if err != nil {
		return Plan{}, err
	}
	allowance, err := token.CallBig(ctx, "allowance", set.Account, p.Spender)
	if err != nil {
		return Plan{}, fmt.Errorf("hedge: allowance: %w", err)
	}
	p.Allowance = allowance
	p.NeedsApproval = p.FromAmount.Cmp(allowance) > 0
	return p, nil
}

// Approve lets the aggregator spend the plan's sUSD.
func (s *Service) Approve(ctx context.Context, p Plan) (Plan, error) {
	if !s.busy.CompareAndSwap(false, true) {
		return p, loans.ErrBusy
	}
	defer s.busy.Store(false)

	_, err := s.tx.Execute(ctx, "Approving...", "Approved", func() (txlifecycle.Call, error) {
		set, err := s.session.Writable()
		if err != nil {
			return txlifecycle.Call{}, err
		}
		token, err := set.Token(p.FromName)
		if err != nil {
			return txlifecycle.Call{}, err
		}
		return txlifecycle.Call{Contract: token, Method: "approve", Args: []any{p.Spender, p.FromAmount}}, nil
	})
	if err != nil {
		return p, err
	}
	return s.refreshAllowance(ctx, s.session.Handles(ctx), p)
}

// Hedge fetches the swap transaction and sends it through the lifecycle.
func (s *Service) Hedge(ctx context.Context, p Plan) (*types.Receipt, error) {
	if p.NeedsApproval {
		return nil, loans.ErrApprovalRequired
	}
	if !s.busy.CompareAndSwap(false, true) {
		return nil, loans.ErrBusy
	}
	defer s.busy.Store(false)

	set := s.session.Handles(ctx)
	if !set.HasAccount() {
		return nil, contracts.ErrNotAvailable
	}
	tx, err := s.agg.Swap(ctx, p.From, p.To, p.FromAmount, set.Account, s.slippage)
	if err != nil {
		s.tx.Hub().Error(notifications.NewInvocation(), err.Error(), "", "")
		return nil, err
	}
	return s.tx.SendRaw(ctx,
		fmt.Sprintf("Hedging loan(#%s)", p.Loan.ID),
		fmt.Sprintf("Loan(#%s) successfully hedged.", p.Loan.ID),
		txlifecycle.RawTx{To: tx.To, Data: tx.Data, Value: tx.Value, Gas: tx.Gas})
}
