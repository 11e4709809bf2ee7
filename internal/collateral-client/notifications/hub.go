// Package notifications keeps the user-facing notification list of the
// transaction lifecycle and fans changes out to listeners.
package notifications

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/event"
	"github.com/google/uuid"
)

type Kind string

const (
	KindTransaction Kind = "transaction"
	KindError       Kind = "error"
	KindSuccess     Kind = "success"
)

type Notification struct {
	ID           string    `json:"id"`
	Kind         Kind      `json:"kind"`
	Message      string    `json:"message"`
	TxHash       string    `json:"txHash,omitempty"`
	ExplorerURL  string    `json:"explorerUrl,omitempty"`
	InvocationID string    `json:"invocationId,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Terminal reports whether n ends its invocation.
func (n Notification) Terminal() bool {
	return n.Kind == KindError || n.Kind == KindSuccess
}

type Op string

const (
	OpAdded     Op = "added"
	OpReplaced  Op = "replaced"
	OpDismissed Op = "dismissed"
)

type Change struct {
	Op           Op           `json:"op"`
	Notification Notification `json:"notification"`
	// ReplacedID is the transaction notification a terminal one took over.
	ReplacedID string `json:"replacedId,omitempty"`
}

const defaultLimit = 50

// Hub is safe for concurrent use.
type Hub struct {
	mu    sync.Mutex
	items []Notification
	limit int
	now   func() time.Time

	feed event.Feed
}

func NewHub() *Hub {
	return &Hub{limit: defaultLimit, now: time.Now}
}

// NewInvocation returns an id grouping the notifications of one user action.
func NewInvocation() string {
	return uuid.NewString()
}

func (h *Hub) Transaction(invocation, message, txHash, explorerURL string) Notification {
	return h.push(Notification{
		Kind:         KindTransaction,
		Message:      message,
		TxHash:       txHash,
		ExplorerURL:  explorerURL,
		InvocationID: invocation,
	})
}

func (h *Hub) Success(invocation, message, txHash, explorerURL string) Notification {
	return h.push(Notification{
		Kind:         KindSuccess,
		Message:      message,
		TxHash:       txHash,
		ExplorerURL:  explorerURL,
		InvocationID: invocation,
	})
}

func (h *Hub) Error(invocation, message, txHash, explorerURL string) Notification {
	return h.push(Notification{
		Kind:         KindError,
		Message:      message,
		TxHash:       txHash,
		ExplorerURL:  explorerURL,
		InvocationID: invocation,
	})
}

// Dismiss removes a notification by id.
func (h *Hub) Dismiss(id string) bool {
	h.mu.Lock()
	idx := h.indexOf(id)
	if idx < 0 {
		h.mu.Unlock()
		return false
	}
	removed := h.items[idx]
	h.items = append(h.items[:idx], h.items[idx+1:]...)
	h.mu.Unlock()

	h.feed.Send(Change{Op: OpDismissed, Notification: removed})
	return true
}

// List returns notifications newest first.
func (h *Hub) List() []Notification {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Notification, len(h.items))
	for i, n := range h.items {
		out[len(h.items)-1-i] = n
	}
	return out
}

// Subscribe delivers every change to ch. ch must be drained.
func (h *Hub) Subscribe(ch chan<- Change) event.Subscription {
	return h.feed.Subscribe(ch)
}

func (h *Hub) push(n Notification) Notification {
	n.ID = uuid.NewString()
	n.CreatedAt = h.now().UTC()

	change := Change{Op: OpAdded, Notification: n}

	h.mu.Lock()
	replaced := -1
	if n.Terminal() && n.InvocationID != "" {
		for i, existing := range h.items {
			if existing.InvocationID == n.InvocationID && existing.Kind == KindTransaction {
				replaced = i
				break
			}
		}
	}
	if replaced >= 0 {
		change.Op = OpReplaced
		change.ReplacedID = h.items[replaced].ID
		h.items[replaced] = n
	} else {
		h.items = append(h.items, n)
		if len(h.items) > h.limit {
			h.items = h.items[len(h.items)-h.limit:]
		}
	}
	h.mu.Unlock()

	h.feed.Send(change)
	return n
}

func (h *Hub) indexOf(id string) int {
	for i, n := range h.items {
		if n.ID == id {
			return i
		}
	}
	return -1
}
