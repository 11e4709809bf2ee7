package http

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
	"github.com/gin-gonic/gin"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/contracts"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/hedge"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/journal"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/loans"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/metrics"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/networks"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/notifications"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/owings"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/rewards"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/session"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/stats"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/subgraph"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/txlifecycle"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/wallet"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/withdrawals"
	"github.com/quantumauth-io/quantum-go-utils/log"
)

// Session is the part of session.Manager the API drives.
type Session interface {
	Snapshot() session.Snapshot
	Subscribe(ch chan<- session.Snapshot) event.Subscription
	Connect(ctx context.Context, preferCached bool) (session.Snapshot, error)
	Disconnect(ctx context.Context) error
	SwitchNetwork(name string) error
	Handles(ctx context.Context) *contracts.Set
	Writable() (*contracts.Set, error)
}

// Deps are the services behind the API. Hedge, Journal and HTTPClient are
// optional.
type Deps struct {
	Session     Session
	Hub         *notifications.Hub
	Loans       *loans.Tracker
	Opener      *loans.Opener
	Actions     *loans.Actions
	Owings      *owings.Book
	Withdrawals *withdrawals.Claimer
	Rewards     *rewards.Tracker
	Stats       *stats.Tracker
	Hedge       *hedge.Service
	Journal     *journal.Store
	Metrics     *metrics.Collectors
	HTTPClient  *http.Client
}

type Handler struct {
	Deps
	locks *keyedLocks
}

func NewHandler(deps Deps) *Handler {
	return &Handler{Deps: deps, locks: newKeyedLocks()}
}

func (h *Handler) Health(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

type txResponse struct {
	TxHash      string `json:"txHash"`
	BlockNumber uint64 `json:"blockNumber"`
	Status      uint64 `json:"status"`
}

func receiptJSON(r *types.Receipt) txResponse {
	if r == nil {
		return txResponse{}
	}
	out := txResponse{TxHash: r.TxHash.Hex(), Status: r.Status}
	if r.BlockNumber != nil {
		out.BlockNumber = r.BlockNumber.Uint64()
	}
	return out
}

// statusOf maps service errors onto HTTP statuses.
func statusOf(err error) int {
	switch {
	case errors.Is(err, contracts.ErrNotAvailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, session.ErrUnsupportedNetwork):
		return http.StatusConflict
	case errors.Is(err, session.ErrNotConnected):
		return http.StatusPreconditionRequired
	case errors.Is(err, loans.ErrBusy):
		return http.StatusLocked
	case errors.Is(err, loans.ErrApprovalRequired):
		return http.StatusPreconditionFailed
	case errors.Is(err, loans.ErrLoanNotFound),
		errors.Is(err, journal.ErrNotFound),
		errors.Is(err, subgraph.ErrNotFound),
		errors.Is(err, networks.ErrUnknownNetwork),
		errors.Is(err, wallet.ErrUnknownProvider):
		return http.StatusNotFound
	case errors.Is(err, loans.ErrBelowMinimum),
		errors.Is(err, loans.ErrNoAmount),
		errors.Is(err, owings.ErrUnknownCurrency),
		errors.Is(err, rewards.ErrUnknownCurrency),
		errors.Is(err, hedge.ErrNotHedgeable),
		errors.Is(err, withdrawals.ErrNothingPending):
		return http.StatusBadRequest
	case errors.Is(err, txlifecycle.ErrWalletRejected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, txlifecycle.ErrReverted),
		errors.Is(err, txlifecycle.ErrRPC),
		errors.Is(err, txlifecycle.ErrConfirmation),
		errors.Is(err, subgraph.ErrNoEndpoint):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err. Data that is not loaded yet is reported as a status, not
// an error.
func fail(c *gin.Context, err error) {
	status := statusOf(err)
	if status == http.StatusServiceUnavailable {
		c.JSON(status, gin.H{"status": "not_available"})
		return
	}
	if status == http.StatusInternalServerError {
		log.Error("api request failed", "route", c.FullPath(), "error", err)
	}
	c.JSON(status, gin.H{"error": txlifecycle.Message(err)})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

var errBadID = errors.New("invalid loan id")

func parseID(raw string) (*big.Int, error) {
	id, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok || id.Sign() <= 0 {
		return nil, errBadID
	}
	return id, nil
}

// loanParam resolves the :kind/:id route params, preferring the tracked list.
func (h *Handler) loanParam(c *gin.Context) (loans.Loan, bool) {
	kind, err := contracts.ParseLoanKind(c.Param("kind"))
	if err != nil {
		badRequest(c, err)
		return loans.Loan{}, false
	}
	id, err := parseID(c.Param("id"))
	if err != nil {
		badRequest(c, err)
		return loans.Loan{}, false
	}
	if h.Loans != nil {
		if l, ok := h.Loans.Find(kind, id); ok {
			return l, true
		}
	}
	ctx := c.Request.Context()
	l, err := loans.Get(ctx, h.Session.Handles(ctx), kind, id)
	if err != nil {
		fail(c, err)
		return loans.Loan{}, false
	}
	return l, true
}

// exclusive runs fn unless another request holds key.
func (h *Handler) exclusive(c *gin.Context, key string, fn func()) {
	unlock, ok := h.locks.tryLock(key)
	if !ok {
		fail(c, loans.ErrBusy)
		return
	}
	defer unlock()
	fn()
}
