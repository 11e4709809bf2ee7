package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/hedge"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/loans"
)

var errHedgeDisabled = errors.New("hedging is not configured")

func (h *Handler) hedgeTarget(c *gin.Context) (loans.Loan, bool) {
	if h.Hedge == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": errHedgeDisabled.Error()})
		return loans.Loan{}, false
	}
	return h.loanParam(c)
}

type planResponse struct {
	hedge.Plan
	Summary string `json:"summary"`
}

// POST /api/loans/:kind/:id/hedge/quote
func (h *Handler) HedgeQuote(c *gin.Context) {
	l, ok := h.hedgeTarget(c)
	if !ok {
		return
	}
	p, err := h.Hedge.Prepare(c.Request.Context(), l)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, planResponse{Plan: p, Summary: p.Summary()})
}

// POST /api/loans/:kind/:id/hedge/approve
func (h *Handler) HedgeApprove(c *gin.Context) {
	l, ok := h.hedgeTarget(c)
	if !ok {
		return
	}
	h.exclusive(c, "hedge:"+loanKey(l), func() {
		ctx := c.Request.Context()
		p, err := h.Hedge.Prepare(ctx, l)
		if err == nil && p.NeedsApproval {
			p, err = h.Hedge.Approve(ctx, p)
		}
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, planResponse{Plan: p, Summary: p.Summary()})
	})
}

// POST /api/loans/:kind/:id/hedge
func (h *Handler) HedgeLoan(c *gin.Context) {
	l, ok := h.hedgeTarget(c)
	if !ok {
		return
	}
	h.exclusive(c, "hedge:"+loanKey(l), func() {
		ctx := c.Request.Context()
		p, err := h.Hedge.Prepare(ctx, l)
		if err != nil {
			fail(c, err)
			return
		}
		receipt, err := h.Hedge.Hedge(ctx, p)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, receiptJSON(receipt))
	})
}
