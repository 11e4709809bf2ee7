package http

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/gin-gonic/gin"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/contracts"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/loans"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/subgraph"
)

type amountReq struct {
	Amount string `json:"amount"`
	// Approve sends the token approval first when the allowance is short.
	Approve bool `json:"approve"`
}

// GET /api/loans
func (h *Handler) ListLoans(c *gin.Context) {
	if h.Loans == nil {
		fail(c, contracts.ErrNotAvailable)
		return
	}
	list, ok := h.Loans.Loans()
	if !ok {
		fail(c, contracts.ErrNotAvailable)
		return
	}
	if list == nil {
		list = []loans.Loan{}
	}
	c.JSON(http.StatusOK, list)
}

// GET /api/loans/:kind/:id
func (h *Handler) GetLoan(c *gin.Context) {
	l, ok := h.loanParam(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, l)
}

// GET /api/loans/:kind/:id/tx
func (h *Handler) LoanTx(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		badRequest(c, err)
		return
	}
	ctx := c.Request.Context()
	set := h.Session.Handles(ctx)
	hash, err := subgraph.New(set.Network.SubgraphURL, h.HTTPClient).LoanTxHash(ctx, id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"txHash": hash.Hex(), "explorerUrl": set.Network.TxURL(hash)})
}

func loanKey(l loans.Loan) string {
	return fmt.Sprintf("loan:%s:%s", l.Kind, l.ID)
}

type adjustFunc func(ctx context.Context, l loans.Loan, amount *big.Int) (*types.Receipt, error)

// adjust runs one loan action with the amount taken from the body.
func (h *Handler) adjust(c *gin.Context, side loans.Side, run adjustFunc) {
	var req amountReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	l, ok := h.loanParam(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	var amount *big.Int
	if raw := strings.TrimSpace(req.Amount); raw != "" {
		v, err := loans.ParseAmount(h.Session.Handles(ctx).Network, l, side, raw)
		if err != nil {
			badRequest(c, err)
			return
		}
		amount = v
	}

	h.exclusive(c, loanKey(l), func() {
		if req.Approve && amount != nil {
			if err := h.approveIfNeeded(ctx, l, side, amount); err != nil {
				fail(c, err)
				return
			}
		}
		receipt, err := run(ctx, l, amount)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, receiptJSON(receipt))
	})
}

func (h *Handler) approveIfNeeded(ctx context.Context, l loans.Loan, side loans.Side, amount *big.Int) error {
	need, err := h.Actions.NeedsApproval(ctx, l, side, amount)
	if err != nil || !need {
		return err
	}
	return h.Actions.Approve(ctx, l, side, amount)
}

// POST /api/loans/:kind/:id/deposit
func (h *Handler) Deposit(c *gin.Context) {
	h.adjust(c, loans.SideCollateral, h.Actions.Deposit)
}

// POST /api/loans/:kind/:id/withdraw
func (h *Handler) Withdraw(c *gin.Context) {
	h.adjust(c, loans.SideCollateral, h.Actions.Withdraw)
}

// POST /api/loans/:kind/:id/repay
func (h *Handler) Repay(c *gin.Context) {
	h.adjust(c, loans.SideDebt, h.Actions.Repay)
}

// POST /api/loans/:kind/:id/draw
func (h *Handler) Draw(c *gin.Context) {
	h.adjust(c, loans.SideDebt, h.Actions.Draw)
}

// POST /api/loans/:kind/:id/close
func (h *Handler) Close(c *gin.Context) {
	var req amountReq
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}
	l, ok := h.loanParam(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	h.exclusive(c, loanKey(l), func() {
		if req.Approve {
			if err := h.approveIfNeeded(ctx, l, loans.SideDebt, l.Amount); err != nil {
				fail(c, err)
				return
			}
		}
		receipt, err := h.Actions.Close(ctx, l)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, receiptJSON(receipt))
	})
}

// POST /api/open/quote
func (h *Handler) OpenQuote(c *gin.Context) {
	var req loans.OpenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	q, err := h.Opener.Prepare(c.Request.Context(), req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, q)
}

// POST /api/open/approve
func (h *Handler) OpenApprove(c *gin.Context) {
	var req loans.OpenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	h.exclusive(c, "open", func() {
		ctx := c.Request.Context()
		q, err := h.Opener.Prepare(ctx, req)
		if err != nil {
			fail(c, err)
			return
		}
		if q.NeedsApproval {
			if q, err = h.Opener.Approve(ctx, q); err != nil {
				fail(c, err)
				return
			}
		}
		c.JSON(http.StatusOK, q)
	})
}

type openReq struct {
	loans.OpenRequest
	Approve bool `json:"approve"`
}

// POST /api/open
func (h *Handler) Open(c *gin.Context) {
	var req openReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	h.exclusive(c, "open", func() {
		ctx := c.Request.Context()
		var (
			receipt *types.Receipt
			err     error
		)
		if req.Approve {
			receipt, err = h.Opener.OpenWithApproval(ctx, req.OpenRequest)
		} else {
			var q loans.Quote
			if q, err = h.Opener.Prepare(ctx, req.OpenRequest); err == nil {
				receipt, err = h.Opener.Open(ctx, q)
			}
		}
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, receiptJSON(receipt))
	})
}
