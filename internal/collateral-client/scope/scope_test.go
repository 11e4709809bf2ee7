package scope

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCloseReleasesEverything(t *testing.T) {
	s := New(context.Background())

	var feed event.Feed
	ch := make(chan int, 1)
	sub := s.Track(feed.Subscribe(ch))

	var order []string
	s.Defer(func() { order = append(order, "first") })
	s.Defer(func() { order = append(order, "second") })

	var exited atomic.Bool
	require.True(t, s.Go(func(ctx context.Context) {
		<-ctx.Done()
		exited.Store(true)
	}))

	assert.True(t, s.Alive())
	s.Close()

	assert.False(t, s.Alive())
	assert.True(t, exited.Load())
	assert.Equal(t, []string{"second", "first"}, order)

	select {
	case _, ok := <-sub.Err():
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("subscription not released")
	}
	assert.Equal(t, 0, feed.Send(1))
}

func TestClosedScopeRejectsNewWork(t *testing.T) {
	s := New(context.Background())
	s.Close()
	s.Close()

	assert.False(t, s.Go(func(context.Context) {}))

	ran := false
	s.Defer(func() { ran = true })
	assert.True(t, ran)

	var feed event.Feed
	s.Track(feed.Subscribe(make(chan int)))
	assert.Equal(t, 0, feed.Send(1))
}

func TestParentCancellationEndsScope(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	s := New(parent)
	cancel()
	assert.False(t, s.Alive())
	s.Close()
}

func TestNilScopeIsNotAlive(t *testing.T) {
	var s *Scope
	assert.False(t, s.Alive())
}
