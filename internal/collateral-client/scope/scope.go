// Package scope ties subscriptions and goroutines to the lifetime of a session
// epoch. Closing a scope cancels its context, unsubscribes everything it
// tracks and waits for its goroutines.
package scope

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/event"
)

type Scope struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	closed  bool
	subs    []event.Subscription
	cleanup []func()
	wg      sync.WaitGroup
}

func New(parent context.Context) *Scope {
	ctx, cancel := context.WithCancel(parent)
	return &Scope{ctx: ctx, cancel: cancel}
}

// Context is cancelled when the scope closes.
func (s *Scope) Context() context.Context {
	return s.ctx
}

// Alive reports whether results produced for this scope may still be applied.
func (s *Scope) Alive() bool {
	if s == nil {
		return false
	}
	return s.ctx.Err() == nil
}

// Track releases sub when the scope closes. A sub tracked on a closed scope is
// released immediately.
func (s *Scope) Track(sub event.Subscription) event.Subscription {
	if sub == nil {
		return nil
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		sub.Unsubscribe()
		return sub
	}
	s.subs = append(s.subs, sub)
	s.mu.Unlock()
	return sub
}

// Defer registers fn to run on Close, last registered first.
func (s *Scope) Defer(fn func()) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		fn()
		return
	}
	s.cleanup = append(s.cleanup, fn)
	s.mu.Unlock()
}

// Go runs fn with the scope context. Close waits for it, so fn must return
// once the context is done and must not call Close itself.
func (s *Scope) Go(fn func(ctx context.Context)) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		fn(s.ctx)
	}()
	return true
}

// Close is idempotent.
func (s *Scope) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	subs := s.subs
	cleanup := s.cleanup
	s.subs = nil
	s.cleanup = nil
	s.mu.Unlock()

	s.cancel()
	for _, sub := range subs {
		sub.Unsubscribe()
	}
	for i := len(cleanup) - 1; i >= 0; i-- {
		cleanup[i]()
	}
	s.wg.Wait()
}
