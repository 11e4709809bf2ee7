package http

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/contracts"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/loans"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/metrics"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/networks"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/notifications"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/rewards"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/scope"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/session"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/testkit"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/txlifecycle"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeSession struct {
	*testkit.Fixture
	snap session.Snapshot
	feed event.Feed
}

func (s *fakeSession) Snapshot() session.Snapshot { return s.snap }

func (s *fakeSession) Subscribe(ch chan<- session.Snapshot) event.Subscription {
	return s.feed.Subscribe(ch)
}

func (s *fakeSession) Connect(context.Context, bool) (session.Snapshot, error) { return s.snap, nil }

func (s *fakeSession) Disconnect(context.Context) error {
	s.snap = session.Snapshot{State: session.Disconnected, Epoch: s.snap.Epoch}
	s.feed.Send(s.snap)
	return nil
}

func (s *fakeSession) SwitchNetwork(name string) error {
	if name != "kovan" {
		return networks.ErrUnknownNetwork
	}
	return nil
}

type env struct {
	fx      *testkit.Fixture
	sess    *fakeSession
	hub     *notifications.Hub
	handler *Handler
	router  *gin.Engine
	reg     *prometheus.Registry
}

func newEnv(t *testing.T) *env {
	t.Helper()
	fx := testkit.New(t)
	sess := &fakeSession{
		Fixture: fx,
		snap: session.Snapshot{
			State: session.Connected, Provider: "keyfile", Address: fx.Account,
			Network: "kovan", ChainID: testkit.ChainID, Epoch: 1,
		},
	}

	// one ETH loan, #3, 2 ETH against 1 sUSD
	loan := contracts.LoanTuple{
		Id: big.NewInt(3), Account: fx.Account, Collateral: testkit.Ether(2),
		Currency: networks.CurrencyKey("sUSD"), Amount: testkit.Ether(1),
		AccruedInterest: new(big.Int), InterestIndex: big.NewInt(1), LastInteraction: big.NewInt(1_600_000_000),
	}
	fx.Backend.OnCall(testkit.ETHLoanState, "getLoan", func(_ common.Address, args []any, _ *big.Int) ([]any, error) {
		if args[1].(*big.Int).Int64() == 3 {
			return []any{loan}, nil
		}
		empty := contracts.LoanTuple{
			Id: new(big.Int), Collateral: new(big.Int), Amount: new(big.Int),
			AccruedInterest: new(big.Int), InterestIndex: new(big.Int), LastInteraction: new(big.Int),
		}
		return []any{empty}, nil
	})
	fx.Backend.Returns(testkit.ETHLoan, "minCratio", new(big.Int).Mul(big.NewInt(15), big.NewInt(1e17)))
	fx.Backend.Returns(testkit.ETHLoan, "collateralRatio", new(big.Int).Mul(big.NewInt(2), big.NewInt(1e18)))

	hub := notifications.NewHub()
	m := metrics.New()
	reg := prometheus.NewRegistry()
	m.MustRegister(reg)
	tx := txlifecycle.New(fx, hub, txlifecycle.WithMetrics(m))

	h := NewHandler(Deps{
		Session: sess,
		Hub:     hub,
		Actions: loans.NewActions(fx, tx),
		Opener:  loans.NewOpener(fx, tx),
		Metrics: m,
	})
	return &env{
		fx: fx, sess: sess, hub: hub, handler: h, reg: reg,
		router: NewRouter(h, RouterConfig{Gatherer: reg}),
	}
}

func (e *env) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHealthAndSession(t *testing.T) {
	e := newEnv(t)

	w := e.do(http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())

	w = e.do(http.MethodGet, "/api/session", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "connected", body["state"])
	assert.Equal(t, "kovan", body["network"])

	w = e.do(http.MethodPost, "/api/session/network", `{"network":"nowhere"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = e.do(http.MethodPost, "/api/session/network", `{"network":"kovan"}`)
	assert.Equal(t, http.StatusAccepted, w.Code)

	w = e.do(http.MethodPost, "/api/session/disconnect", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "disconnected", decode(t, w)["state"])
}

func TestGetLoanAndDeposit(t *testing.T) {
	e := newEnv(t)

	w := e.do(http.MethodGet, "/api/loans/eth/3", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(3), decode(t, w)["id"])

	w = e.do(http.MethodGet, "/api/loans/eth/99", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = e.do(http.MethodGet, "/api/loans/bogus/3", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(http.MethodPost, "/api/loans/eth/3/deposit", `{"amount":"0.5"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.NotEmpty(t, decode(t, w)["txHash"])

	sent := e.fx.Backend.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "deposit", sent[0].Method)
	assert.Equal(t, 0, new(big.Int).Div(testkit.Ether(1), big.NewInt(2)).Cmp(sent[0].Value))

	list := e.hub.List()
	require.Len(t, list, 1)
	assert.Equal(t, "Added collateral to loan(#3).", list[0].Message)
}

func TestWrongNetworkIsConflict(t *testing.T) {
	e := newEnv(t)
	e.fx.WriteErr = session.ErrUnsupportedNetwork

	w := e.do(http.MethodPost, "/api/loans/eth/3/withdraw", `{"amount":"1"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Empty(t, e.fx.Backend.Sent())
	assert.Empty(t, e.hub.List())
}

func TestUnloadedDataIsNotAvailable(t *testing.T) {
	e := newEnv(t)

	for _, path := range []string{"/api/loans", "/api/stats", "/api/rewards"} {
		w := e.do(http.MethodGet, path, "")
		assert.Equal(t, http.StatusServiceUnavailable, w.Code, path)
		assert.Equal(t, "not_available", decode(t, w)["status"], path)
	}
}

func TestRewardsServedFromTracker(t *testing.T) {
	e := newEnv(t)
	earned := testkit.Ether(2)
	reward := common.HexToAddress("0x00000000000000000000000000000000000000d2")
	e.fx.Backend.Register(reward, contracts.ShortingRewardsABI)
	e.fx.Backend.Returns(testkit.ShortLoan, "shortingRewards", reward)
	e.fx.Backend.OnCall(reward, "earned", func(common.Address, []any, *big.Int) ([]any, error) {
		return []any{earned}, nil
	})

	tr := rewards.NewTracker(e.sess, txlifecycle.New(e.fx, e.hub), nil)
	e.handler.Rewards = tr
	w := e.do(http.MethodGet, "/api/rewards", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	sc := scope.New(context.Background())
	require.NoError(t, tr.Start(sc, e.fx.ReadOnly(), nil))
	w = e.do(http.MethodGet, "/api/rewards", "")
	require.Equal(t, http.StatusOK, w.Code)
	var list []rewards.Reward
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 2)
	assert.Equal(t, "sBTC", list[0].Currency)
	assert.Equal(t, "2.0000", list[0].Display)

	sc.Close()
	w = e.do(http.MethodGet, "/api/rewards", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHistoryWithoutJournalIsEmpty(t *testing.T) {
	e := newEnv(t)
	w := e.do(http.MethodGet, "/api/history", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestHedgeDisabled(t *testing.T) {
	e := newEnv(t)
	w := e.do(http.MethodPost, "/api/loans/eth/3/hedge/quote", "")
	assert.Equal(t, http.StatusNotImplemented, w.Code)
}

func TestNotifications(t *testing.T) {
	e := newEnv(t)
	n := e.hub.Error(notifications.NewInvocation(), "boom", "", "")

	w := e.do(http.MethodGet, "/api/notifications", "")
	require.Equal(t, http.StatusOK, w.Code)
	var list []notifications.Notification
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "boom", list[0].Message)

	w = e.do(http.MethodDelete, "/api/notifications/"+n.ID, "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = e.do(http.MethodDelete, "/api/notifications/"+n.ID, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMetricsCountRequests(t *testing.T) {
	e := newEnv(t)
	e.do(http.MethodGet, "/api/health", "")

	w := e.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `collateral_client_http_requests_total{route="/api/health",status="200"} 1`)
}

func TestLoopbackOnly(t *testing.T) {
	e := newEnv(t)
	r := NewRouter(e.handler, RouterConfig{LoopbackOnly: true, Gatherer: e.reg})

	req := httptest.NewRequest(http.MethodGet, "http://localhost/api/health", nil)
	req.RemoteAddr = "127.0.0.1:40000"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest(http.MethodGet, "http://localhost/api/health", nil)
	req.RemoteAddr = "10.1.2.3:40000"
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	req = httptest.NewRequest(http.MethodGet, "http://evil.example/api/health", nil)
	req.RemoteAddr = "127.0.0.1:40000"
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestWriteLimit(t *testing.T) {
	e := newEnv(t)
	r := NewRouter(e.handler, RouterConfig{WritesPerSecond: 1, Gatherer: e.reg})

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/session/network", strings.NewReader(`{"network":"kovan"}`))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusAccepted, http.StatusTooManyRequests}, codes)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestKeyedLocks(t *testing.T) {
	k := newKeyedLocks()
	unlock, ok := k.tryLock("loan:eth:3")
	require.True(t, ok)

	_, ok = k.tryLock("loan:eth:3")
	assert.False(t, ok)
	_, ok = k.tryLock("loan:eth:4")
	assert.True(t, ok)

	unlock()
	unlock()
	_, ok = k.tryLock("loan:eth:3")
	assert.True(t, ok)
}

func TestStatusOf(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{contracts.ErrNotAvailable, http.StatusServiceUnavailable},
		{session.ErrUnsupportedNetwork, http.StatusConflict},
		{session.ErrNotConnected, http.StatusPreconditionRequired},
		{loans.ErrBusy, http.StatusLocked},
		{loans.ErrApprovalRequired, http.StatusPreconditionFailed},
		{txlifecycle.Fail("Enter sUSD amount..", loans.ErrNoAmount), http.StatusBadRequest},
		{txlifecycle.ErrReverted, http.StatusBadGateway},
		{errors.New("surprise"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusOf(tc.err), tc.err.Error())
	}
}

func TestStreamSendsSessionThenChanges(t *testing.T) {
	e := newEnv(t)
	srv := httptest.NewServer(e.router)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/api/stream", nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	read := func() StreamMessage {
		t.Helper()
		_, data, err := conn.Read(ctx)
		require.NoError(t, err)
		var msg StreamMessage
		require.NoError(t, json.Unmarshal(data, &msg))
		return msg
	}

	first := read()
	assert.Equal(t, "session", first.Type)
	require.NotNil(t, first.Session)
	assert.Equal(t, e.fx.Account, first.Session.Address)
	assert.Equal(t, "notifications", read().Type)

	e.hub.Success(notifications.NewInvocation(), "done", "", "")
	msg := read()
	assert.Equal(t, "notification", msg.Type)
	require.NotNil(t, msg.Change)
	assert.Equal(t, "done", msg.Change.Notification.Message)
}

func TestStalledStreamDoesNotHoldUpHub(t *testing.T) {
	hub := notifications.NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	in := make(chan notifications.Change)
	sub := hub.Subscribe(in)
	defer sub.Unsubscribe()
	out := make(chan notifications.Change, 2)
	lag := make(chan struct{})
	go relay[notifications.Change](ctx, in, out, func() { close(lag) })

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			hub.Success(notifications.NewInvocation(), "done", "", "")
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("hub blocked behind a stream nobody reads")
	}
	select {
	case <-lag:
	case <-time.After(2 * time.Second):
		t.Fatal("overflow not reported")
	}
	assert.Len(t, out, 2)
	assert.Len(t, hub.List(), 10)
}
