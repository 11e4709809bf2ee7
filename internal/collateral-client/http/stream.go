package http

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/event"
	"github.com/gin-gonic/gin"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/loans"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/notifications"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/session"
	"nhooyr.io/websocket"
)

const (
	wsWriteTimeout = 10 * time.Second
	streamBuffer   = 32
)

var errStreamLagging = errors.New("http: stream client is not keeping up")

// StreamMessage is one frame of /api/stream.
type StreamMessage struct {
	Type          string                       `json:"type"`
	Session       *session.Snapshot            `json:"session,omitempty"`
	Notifications []notifications.Notification `json:"notifications,omitempty"`
	Change        *notifications.Change        `json:"change,omitempty"`
	Loans         []loans.Loan                 `json:"loans,omitempty"`
}

// GET /api/stream
//
// Sends the session and the notification list, then every session change,
// notification change and loan list update until the client goes away.
func (h *Handler) Stream(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{OriginPatterns: []string{"localhost:*", "127.0.0.1:*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	ctx := conn.CloseRead(c.Request.Context())
	if err := h.stream(ctx, conn); err != nil {
		if errors.Is(err, errStreamLagging) {
			_ = conn.Close(websocket.StatusTryAgainLater, "stream lagging")
			return
		}
		if status := websocket.CloseStatus(err); status == -1 {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

// stream never blocks the feeds it reads: a client that falls more than
// streamBuffer frames behind is disconnected and reloads on reconnect.
func (h *Handler) stream(ctx context.Context, conn *websocket.Conn) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	lag := make(chan struct{})
	var once sync.Once
	lagged := func() { once.Do(func() { close(lag) }) }

	sessions := make(chan session.Snapshot, streamBuffer)
	changes := make(chan notifications.Change, streamBuffer)
	lists := make(chan []loans.Loan, streamBuffer)

	sessionsIn := make(chan session.Snapshot, 1)
	changesIn := make(chan notifications.Change, 1)
	listsIn := make(chan []loans.Loan, 1)
	subs := []event.Subscription{
		h.Session.Subscribe(sessionsIn),
		h.Hub.Subscribe(changesIn),
	}
	if h.Loans != nil {
		subs = append(subs, h.Loans.Subscribe(listsIn))
	}
	defer func() {
		for _, s := range subs {
			s.Unsubscribe()
		}
	}()
	go relay[session.Snapshot](ctx, sessionsIn, sessions, lagged)
	go relay[notifications.Change](ctx, changesIn, changes, lagged)
	go relay[[]loans.Loan](ctx, listsIn, lists, lagged)

	snap := h.Session.Snapshot()
	if err := writeFrame(ctx, conn, StreamMessage{Type: "session", Session: &snap}); err != nil {
		return err
	}
	if err := writeFrame(ctx, conn, StreamMessage{Type: "notifications", Notifications: h.Hub.List()}); err != nil {
		return err
	}

	for {
		var msg StreamMessage
		select {
		case <-ctx.Done():
			return nil
		case <-lag:
			return errStreamLagging
		case s := <-sessions:
			msg = StreamMessage{Type: "session", Session: &s}
		case ch := <-changes:
			msg = StreamMessage{Type: "notification", Change: &ch}
		case list := <-lists:
			if list == nil {
				list = []loans.Loan{}
			}
			msg = StreamMessage{Type: "loans", Loans: list}
		}
		if err := writeFrame(ctx, conn, msg); err != nil {
			return err
		}
	}
}

// relay moves values from a feed subscription to out without holding up the
// feed. The first value that does not fit in out calls lagged and everything
// after it is dropped until ctx ends.
func relay[T any](ctx context.Context, in <-chan T, out chan<- T, lagged func()) {
	behind := false
	for {
		select {
		case <-ctx.Done():
			return
		case v := <-in:
			if behind {
				continue
			}
			select {
			case out <- v:
			default:
				behind = true
				lagged()
			}
		}
	}
}

func writeFrame(ctx context.Context, conn *websocket.Conn, msg StreamMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
