package loans

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/contracts"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/metrics"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/scope"
	"github.com/quantumauth-io/quantum-go-utils/log"
)

// HeadSource fans out new blocks.
type HeadSource interface {
	Subscribe(ch chan<- *types.Header) event.Subscription
}

// loanLog is the union of every loan event's fields; UnpackLog fills the ones
// the event carries.
type loanLog struct {
	Account         common.Address
	Repayer         common.Address
	Id              *big.Int
	Amount          *big.Int
	Collateral      *big.Int
	Currency        [32]byte
	IssuanceFee     *big.Int
	AmountDeposited *big.Int
	AmountWithdrawn *big.Int
	AmountRepaid    *big.Int
	AmountAfter     *big.Int
	CollateralAfter *big.Int
}

// Tracker keeps the account's loan list current for one session epoch.
type Tracker struct {
	metrics *metrics.Collectors

	mu     sync.RWMutex
	set    *contracts.Set
	scope  *scope.Scope
	loans  []Loan
	loaded bool

	feed event.Feed
}

func NewTracker(m *metrics.Collectors) *Tracker {
	return &Tracker{metrics: m}
}

// Start loads the list and keeps it patched from loan events until sc closes.
// Where the node cannot stream logs the list is reloaded on every new block.
func (t *Tracker) Start(sc *scope.Scope, set *contracts.Set, heads HeadSource) error {
	if !set.HasAccount() {
		return contracts.ErrNotAvailable
	}
	t.mu.Lock()
	t.set = set
	t.scope = sc
	t.loans = nil
	t.loaded = false
	t.mu.Unlock()

	if err := t.Reload(sc.Context()); err != nil {
		log.Warn("initial loan load failed", "account", set.Account.Hex(), "error", err)
	}

	streaming := true
	for _, k := range contracts.AllKinds {
		h, err := set.Loan(k)
		if err != nil {
			continue
		}
		logs, sub, err := h.WatchEvents(sc.Context(), loanEvents, []any{set.Account})
		if err != nil {
			log.Warn("loan events unavailable, polling per block", "kind", k.String(), "error", err)
			streaming = false
			continue
		}
		sc.Track(sub)
		kind, handle := k, h
		sc.Go(func(ctx context.Context) {
			t.consume(ctx, sc, kind, handle, logs, sub)
		})
	}

	if !streaming && heads != nil {
		blocks := make(chan *types.Header, 1)
		sub := sc.Track(heads.Subscribe(blocks))
		sc.Go(func(ctx context.Context) {
			for {
				select {
				case <-ctx.Done():
					return
				case <-sub.Err():
					return
				case <-blocks:
					if err := t.Reload(ctx); err != nil && ctx.Err() == nil {
						log.Warn("loan reload failed", "error", err)
					}
				}
			}
		})
	}
	return nil
}

func (t *Tracker) consume(ctx context.Context, sc *scope.Scope, kind contracts.LoanKind, h *contracts.Handle, logs <-chan types.Log, sub event.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-sub.Err():
			if err != nil {
				log.Warn("loan event subscription ended", "kind", kind.String(), "error", err)
			}
			return
		case l := <-logs:
			ev, err := t.decode(ctx, kind, h, l)
			if err != nil {
				t.metrics.ReadFailed("loans")
				log.Warn("loan event dropped", "kind", kind.String(), "tx", l.TxHash.Hex(), "error", err)
				continue
			}
			if !sc.Alive() {
				return
			}
			t.apply(ctx, sc, ev)
		}
	}
}

func (t *Tracker) decode(ctx context.Context, kind contracts.LoanKind, h *contracts.Handle, l types.Log) (Event, error) {
	name, ok := h.EventName(l)
	if !ok {
		return Event{}, errors.New("loans: unknown event")
	}
	var raw loanLog
	if err := h.UnpackLog(&raw, name, l); err != nil {
		return Event{}, err
	}
	ev := Event{Type: EventType(name), Kind: kind, ID: raw.Id}
	switch ev.Type {
	case EventCreated:
		set := t.currentSet()
		loan, err := Get(ctx, set, kind, raw.Id)
		if err != nil {
			return Event{}, err
		}
		ev.Loan = &loan
	case EventDeposited:
		ev.Amount = raw.AmountDeposited
	case EventWithdrawn:
		ev.Amount = raw.AmountWithdrawn
	case EventRepaid:
		ev.Amount = raw.AmountRepaid
	case EventDrawn:
		ev.Amount = raw.Amount
	}
	return ev, nil
}

func (t *Tracker) apply(ctx context.Context, sc *scope.Scope, ev Event) {
	t.mu.Lock()
	if t.scope != sc {
		t.mu.Unlock()
		return
	}
	t.loans = Apply(t.loans, ev)
	set := t.set
	t.mu.Unlock()

	if ev.Type != EventCreated && ev.Type != EventClosed {
		t.refreshRatio(ctx, sc, set, Ref{Kind: ev.Kind, ID: ev.ID.String()})
	}
	t.publish()
}

// refreshRatio re-reads the collateral ratio of a patched loan.
func (t *Tracker) refreshRatio(ctx context.Context, sc *scope.Scope, set *contracts.Set, ref Ref) {
	h, err := set.Loan(ref.Kind)
	if err != nil {
		return
	}
	var target *Loan
	t.mu.RLock()
	for i := range t.loans {
		if t.loans[i].Ref() == ref {
			l := t.loans[i].Clone()
			target = &l
			break
		}
	}
	t.mu.RUnlock()
	if target == nil {
		return
	}
	cratio, err := collateralRatio(ctx, h, target.tuple())
	if err != nil {
		t.metrics.ReadFailed("loans")
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.scope != sc || !sc.Alive() {
		return
	}
	for i := range t.loans {
		if t.loans[i].Ref() == ref {
			t.loans[i].CRatio = cratio
		}
	}
}

// Reload replaces the list with a fresh read.
func (t *Tracker) Reload(ctx context.Context) error {
	t.mu.RLock()
	set, sc := t.set, t.scope
	t.mu.RUnlock()
	if set == nil {
		return contracts.ErrNotAvailable
	}
	fresh, err := Load(ctx, set)
	if err != nil {
		t.metrics.ReadFailed("loans")
		return err
	}
	t.mu.Lock()
	if t.scope != sc || (sc != nil && !sc.Alive()) {
		t.mu.Unlock()
		return nil
	}
	t.loans = fresh
	t.loaded = true
	t.mu.Unlock()
	t.publish()
	return nil
}

// Loans returns a copy of the current list. ok is false before the first
// load and once the epoch the list was read in has ended.
func (t *Tracker) Loans() ([]Loan, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.loaded || !t.scope.Alive() {
		return nil, false
	}
	return cloneAll(t.loans), true
}

// Stop forgets the list of the previous epoch.
func (t *Tracker) Stop() {
	t.mu.Lock()
	t.set = nil
	t.scope = nil
	t.loans = nil
	t.loaded = false
	t.mu.Unlock()
	t.publish()
}

// Find returns one loan of the current list.
func (t *Tracker) Find(kind contracts.LoanKind, id *big.Int) (Loan, bool) {
	ref := Ref{Kind: kind, ID: id.String()}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.loaded || !t.scope.Alive() {
		return Loan{}, false
	}
	for _, l := range t.loans {
		if l.Ref() == ref {
			return l.Clone(), true
		}
	}
	return Loan{}, false
}

// Subscribe delivers the list after every change.
func (t *Tracker) Subscribe(ch chan<- []Loan) event.Subscription {
	return t.feed.Subscribe(ch)
}

func (t *Tracker) currentSet() *contracts.Set {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.set
}

func (t *Tracker) publish() {
	list, _ := t.Loans()
	t.feed.Send(list)
}
