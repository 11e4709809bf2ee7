package chains

import (
	"context"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
	"github.com/quantumauth-io/quantum-go-utils/log"
	"github.com/quantumauth-io/quantum-go-utils/retry"
)

// HeaderSource is the subset of Backend the head feed polls.
type HeaderSource interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// HeadFeed caches the latest header and fans out every new block.
type HeadFeed struct {
	source                   HeaderSource
	latestHeader             atomic.Pointer[types.Header]
	timeReceivedLatestHeader atomic.Pointer[time.Time]
	feed                     event.Feed
}

// NewHeadFeed fetches the current head and keeps polling it until ctx ends.
func NewHeadFeed(ctx context.Context, source HeaderSource, pollInterval time.Duration) (*HeadFeed, error) {
	if pollInterval <= 0 {
		pollInterval = 4 * time.Second
	}
	h := &HeadFeed{source: source}

	if _, err := h.refresh(ctx); err != nil {
		return nil, err
	}

	go maintainLatestHeader(ctx, h, pollInterval)
	return h, nil
}

func maintainLatestHeader(ctx context.Context, h *HeadFeed, duration time.Duration) {
	cfg := retry.DefaultConfig()
	cfg.MaxDelayBeforeRetrying = duration
	cfg.InitialDelayBeforeRetrying = duration / 10

	timer := time.NewTimer(duration)
	defer timer.Stop()
	numCallsToChain := 0
	for {
		timer.Reset(duration)
		select {
		case <-ctx.Done():
			log.Info("head feed exiting", "numCallsToChain", numCallsToChain)
			return
		case <-timer.C:
			_, _ = retry.Retry(ctx, cfg,
				func(ctx context.Context) ([]interface{}, error) {
					numCallsToChain++
					advanced, err := h.refresh(ctx)
					if err != nil {
						return nil, err
					}
					if advanced {
						h.feed.Send(h.latestHeader.Load())
					}
					return nil, nil
				},
				nil, // always retry
				"get latest header from chain")
		}
	}
}

// refresh stores the node's head and reports whether it moved forward.
func (h *HeadFeed) refresh(ctx context.Context) (bool, error) {
	header, err := h.source.HeaderByNumber(ctx, nil)
	if err != nil {
		return false, errors.Wrap(err, "failed to get latest header from chain")
	}
	if header == nil {
		return false, errors.New("node returned nil header")
	}

	prev := h.latestHeader.Load()
	now := time.Now().UTC()
	h.latestHeader.Store(header)
	h.timeReceivedLatestHeader.Store(&now)

	return prev == nil || header.Number.Cmp(prev.Number) > 0, nil
}

func (h *HeadFeed) Latest() *types.Header {
	return h.latestHeader.Load()
}

func (h *HeadFeed) ReceivedAt() time.Time {
	if t := h.timeReceivedLatestHeader.Load(); t != nil {
		return *t
	}
	return time.Time{}
}

// Subscribe delivers each new head to ch. Slow receivers stall the feed, so
// ch should be buffered and drained.
func (h *HeadFeed) Subscribe(ch chan<- *types.Header) event.Subscription {
	return h.feed.Subscribe(ch)
}
