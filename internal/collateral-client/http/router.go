package http

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

type RouterConfig struct {
	AllowOrigins []string
	// Gatherer backs /metrics; prometheus.DefaultGatherer when nil.
	Gatherer prometheus.Gatherer
	// WritesPerSecond limits POST/DELETE requests; zero disables the limit.
	WritesPerSecond float64
	// LoopbackOnly rejects requests from other hosts.
	LoopbackOnly bool
}

func NewRouter(h *Handler, cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	if len(cfg.AllowOrigins) == 0 {
		cfg.AllowOrigins = []string{"http://localhost:3000"}
	}
	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowOrigins,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type"},
		AllowCredentials: true,
	}))
	if cfg.LoopbackOnly {
		r.Use(loopbackOnly())
	}
	r.Use(requestMetrics(h.Metrics))

	var limiter *rate.Limiter
	if cfg.WritesPerSecond > 0 {
		burst := int(cfg.WritesPerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.WritesPerSecond), burst)
	}

	api := r.Group("/api", writeLimit(limiter))
	{
		api.GET("/health", h.Health)

		api.GET("/session", h.SessionStatus)
		api.POST("/session/connect", h.Connect)
		api.POST("/session/disconnect", h.Disconnect)
		api.POST("/session/network", h.SwitchNetwork)

		api.GET("/loans", h.ListLoans)
		api.GET("/loans/:kind/:id", h.GetLoan)
		api.GET("/loans/:kind/:id/tx", h.LoanTx)
		api.POST("/loans/:kind/:id/deposit", h.Deposit)
		api.POST("/loans/:kind/:id/withdraw", h.Withdraw)
		api.POST("/loans/:kind/:id/repay", h.Repay)
		api.POST("/loans/:kind/:id/draw", h.Draw)
		api.POST("/loans/:kind/:id/close", h.Close)
		api.POST("/loans/:kind/:id/hedge/quote", h.HedgeQuote)
		api.POST("/loans/:kind/:id/hedge/approve", h.HedgeApprove)
		api.POST("/loans/:kind/:id/hedge", h.HedgeLoan)

		api.POST("/open/quote", h.OpenQuote)
		api.POST("/open/approve", h.OpenApprove)
		api.POST("/open", h.Open)

		api.GET("/owings", h.ListOwings)
		api.POST("/owings/:currency/settle", h.Settle)

		api.GET("/withdrawals", h.PendingWithdrawals)
		api.POST("/withdrawals/claim", h.ClaimWithdrawals)

		api.GET("/rewards", h.ListRewards)
		api.POST("/rewards/:currency/claim", h.ClaimReward)

		api.GET("/stats", h.GetStats)
		api.GET("/history", h.History)

		api.GET("/notifications", h.ListNotifications)
		api.DELETE("/notifications/:id", h.DismissNotification)

		api.GET("/stream", h.Stream)
	}

	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	return r
}
