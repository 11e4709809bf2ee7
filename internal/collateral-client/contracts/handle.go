package contracts

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/chains"
)

// ErrNotAvailable marks a read whose dependencies (address, backend, account)
// are not resolved yet. It is rendered as "not available", never as a failure.
var ErrNotAvailable = errors.New("contracts: data not yet available")

// Handle is a contract address bound to an ABI and a backend.
type Handle struct {
	Name    string
	Address common.Address
	ABI     abi.ABI

	backend chains.Backend
	bound   *bind.BoundContract
}

// NewHandle returns nil unless both a non-zero address and a backend exist.
func NewHandle(name string, address common.Address, parsed abi.ABI, backend chains.Backend) *Handle {
	if backend == nil || address == (common.Address{}) {
		return nil
	}
	return &Handle{
		Name:    name,
		Address: address,
		ABI:     parsed,
		backend: backend,
		bound:   bind.NewBoundContract(address, parsed, backend, backend, backend),
	}
}

func (h *Handle) Backend() chains.Backend {
	return h.backend
}

// Call runs a view method against the latest block.
func (h *Handle) Call(ctx context.Context, method string, args ...any) ([]any, error) {
	if h == nil {
		return nil, ErrNotAvailable
	}
	var out []any
	if err := h.bound.Call(&bind.CallOpts{Context: ctx}, &out, method, args...); err != nil {
		return nil, fmt.Errorf("contracts: %s.%s: %w", h.Name, method, err)
	}
	return out, nil
}

// CallBig runs a view method with a single uint256 result.
func (h *Handle) CallBig(ctx context.Context, method string, args ...any) (*big.Int, error) {
	out, err := h.CallBigs(ctx, method, 1, args...)
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// CallBigs runs a view method whose first n results are uint256.
func (h *Handle) CallBigs(ctx context.Context, method string, n int, args ...any) ([]*big.Int, error) {
	out, err := h.Call(ctx, method, args...)
	if err != nil {
		return nil, err
	}
	if len(out) < n {
		return nil, fmt.Errorf("contracts: %s.%s: %d results, want %d", h.Name, method, len(out), n)
	}
	vs := make([]*big.Int, n)
	for i := range vs {
		v, ok := out[i].(*big.Int)
		if !ok {
			return nil, fmt.Errorf("contracts: %s.%s: unexpected result %d %T", h.Name, method, i, out[i])
		}
		vs[i] = v
	}
	return vs, nil
}

// CallAddress runs a view method with a single address result.
func (h *Handle) CallAddress(ctx context.Context, method string, args ...any) (common.Address, error) {
	out, err := h.Call(ctx, method, args...)
	if err != nil {
		return common.Address{}, err
	}
	if len(out) == 0 {
		return common.Address{}, fmt.Errorf("contracts: %s.%s: empty result", h.Name, method)
	}
	v, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("contracts: %s.%s: unexpected result %T", h.Name, method, out[0])
	}
	return v, nil
}

func (h *Handle) Transact(opts *bind.TransactOpts, method string, args ...any) (*types.Transaction, error) {
	if h == nil {
		return nil, ErrNotAvailable
	}
	return h.bound.Transact(opts, method, args...)
}

// Pack encodes calldata for method.
func (h *Handle) Pack(method string, args ...any) ([]byte, error) {
	if h == nil {
		return nil, ErrNotAvailable
	}
	return h.ABI.Pack(method, args...)
}

// Watch subscribes to eventName logs filtered by the indexed arguments in query.
func (h *Handle) Watch(ctx context.Context, eventName string, query ...[]any) (chan types.Log, event.Subscription, error) {
	if h == nil {
		return nil, nil, ErrNotAvailable
	}
	return h.bound.WatchLogs(&bind.WatchOpts{Context: ctx}, eventName, query...)
}

// WatchEvents subscribes to several events of the contract at once. query
// filters the indexed arguments shared by all of them, first topic after the
// event id first.
func (h *Handle) WatchEvents(ctx context.Context, eventNames []string, query ...[]any) (chan types.Log, event.Subscription, error) {
	if h == nil {
		return nil, nil, ErrNotAvailable
	}
	ids := make([]common.Hash, 0, len(eventNames))
	for _, name := range eventNames {
		ev, ok := h.ABI.Events[name]
		if !ok {
			return nil, nil, fmt.Errorf("contracts: %s has no event %s", h.Name, name)
		}
		ids = append(ids, ev.ID)
	}
	rest, err := abi.MakeTopics(query...)
	if err != nil {
		return nil, nil, fmt.Errorf("contracts: %s topics: %w", h.Name, err)
	}
	q := ethereum.FilterQuery{
		Addresses: []common.Address{h.Address},
		Topics:    append([][]common.Hash{ids}, rest...),
	}
	logs := make(chan types.Log, 128)
	sub, err := h.backend.SubscribeFilterLogs(ctx, q, logs)
	if err != nil {
		return nil, nil, fmt.Errorf("contracts: %s subscribe: %w", h.Name, err)
	}
	return logs, sub, nil
}

// UnpackLog decodes an event log into out, indexed fields included.
func (h *Handle) UnpackLog(out any, eventName string, log types.Log) error {
	return h.bound.UnpackLog(out, eventName, log)
}

// EventName resolves the ABI event a log belongs to.
func (h *Handle) EventName(log types.Log) (string, bool) {
	if len(log.Topics) == 0 {
		return "", false
	}
	ev, err := h.ABI.EventByID(log.Topics[0])
	if err != nil {
		return "", false
	}
	return ev.Name, true
}
