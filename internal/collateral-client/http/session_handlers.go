package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type connectReq struct {
	Cached bool `json:"cached"`
}

type switchNetworkReq struct {
	Network string `json:"network" binding:"required"`
}

// GET /api/session
func (h *Handler) SessionStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.Session.Snapshot())
}

// POST /api/session/connect
func (h *Handler) Connect(c *gin.Context) {
	var req connectReq
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}
	h.exclusive(c, "session", func() {
		snap, err := h.Session.Connect(c.Request.Context(), req.Cached)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, snap)
	})
}

// POST /api/session/disconnect
func (h *Handler) Disconnect(c *gin.Context) {
	h.exclusive(c, "session", func() {
		if err := h.Session.Disconnect(c.Request.Context()); err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, h.Session.Snapshot())
	})
}

// POST /api/session/network
func (h *Handler) SwitchNetwork(c *gin.Context) {
	var req switchNetworkReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.Session.SwitchNetwork(req.Network); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"network": req.Network})
}
