package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/contracts"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/journal"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/owings"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/rewards"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/withdrawals"
)

// GET /api/owings
func (h *Handler) ListOwings(c *gin.Context) {
	list, err := h.Owings.Reload(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	if list == nil {
		list = []owings.Owing{}
	}
	c.JSON(http.StatusOK, list)
}

// POST /api/owings/:currency/settle
func (h *Handler) Settle(c *gin.Context) {
	currency := c.Param("currency")
	h.exclusive(c, "settle:"+currency, func() {
		receipt, err := h.Owings.Settle(c.Request.Context(), currency)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"tx": receiptJSON(receipt), "owings": h.Owings.Owings()})
	})
}

// GET /api/withdrawals
func (h *Handler) PendingWithdrawals(c *gin.Context) {
	ctx := c.Request.Context()
	p, err := withdrawals.Load(ctx, h.Session.Handles(ctx))
	if err != nil {
		fail(c, err)
		return
	}
	if p.Empty() {
		c.JSON(http.StatusOK, gin.H{"pending": p, "message": withdrawals.NoneMessage})
		return
	}
	c.JSON(http.StatusOK, gin.H{"pending": p})
}

// POST /api/withdrawals/claim
func (h *Handler) ClaimWithdrawals(c *gin.Context) {
	h.exclusive(c, "withdrawals", func() {
		p, err := h.Withdrawals.Claim(c.Request.Context())
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"pending": p})
	})
}

// GET /api/rewards
func (h *Handler) ListRewards(c *gin.Context) {
	if h.Rewards == nil {
		fail(c, contracts.ErrNotAvailable)
		return
	}
	list, ok := h.Rewards.Rewards()
	if !ok {
		fail(c, contracts.ErrNotAvailable)
		return
	}
	if list == nil {
		list = []rewards.Reward{}
	}
	c.JSON(http.StatusOK, list)
}

// POST /api/rewards/:currency/claim
func (h *Handler) ClaimReward(c *gin.Context) {
	currency := c.Param("currency")
	h.exclusive(c, "reward:"+currency, func() {
		receipt, err := h.Rewards.Claim(c.Request.Context(), currency)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, receiptJSON(receipt))
	})
}

// GET /api/stats
func (h *Handler) GetStats(c *gin.Context) {
	if h.Stats == nil {
		fail(c, contracts.ErrNotAvailable)
		return
	}
	snap, ok := h.Stats.Snapshot()
	if !ok {
		fail(c, contracts.ErrNotAvailable)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// GET /api/history?network=&account=&limit=
func (h *Handler) History(c *gin.Context) {
	if h.Journal == nil {
		c.JSON(http.StatusOK, []journal.Entry{})
		return
	}
	f := journal.Filter{
		Network: c.Query("network"),
		Account: c.Query("account"),
	}
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			badRequest(c, err)
			return
		}
		f.Limit = n
	}
	list, err := h.Journal.List(c.Request.Context(), f)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// GET /api/notifications
func (h *Handler) ListNotifications(c *gin.Context) {
	c.JSON(http.StatusOK, h.Hub.List())
}

// DELETE /api/notifications/:id
func (h *Handler) DismissNotification(c *gin.Context) {
	if !h.Hub.Dismiss(c.Param("id")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "notification not found"})
		return
	}
	c.Status(http.StatusNoContent)
}
