// Package chaintest provides an in-memory chains.Backend for tests. Contract
// behaviour is registered per address and method and dispatched by selector.
package chaintest

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
)

// CallFunc answers a view call or executes a transaction's effect.
type CallFunc func(from common.Address, args []any, value *big.Int) ([]any, error)

// SentTx is a decoded transaction accepted by SendTransaction.
type SentTx struct {
	Hash   common.Hash
	From   common.Address
	To     common.Address
	Method string
	Args   []any
	Value  *big.Int
}

type contract struct {
	abi     abi.ABI
	calls   map[string]CallFunc
	effects map[string]CallFunc
}

type Backend struct {
	mu sync.Mutex

	chainID   *big.Int
	head      *types.Header
	balances  map[common.Address]*big.Int
	contracts map[common.Address]*contract
	nonces    map[common.Address]uint64

	sent     []SentTx
	receipts map[common.Hash]*types.Receipt

	// SendErr, when set, is returned by SendTransaction (e.g. a declined signature).
	SendErr error
	// FailStatus marks mined transactions to these methods as reverted.
	FailStatus map[string]bool
	// Unconfirmed keeps transactions to these methods from ever being mined.
	Unconfirmed map[string]bool
	// NoSubscriptions makes SubscribeFilterLogs fail like a plain HTTP endpoint.
	NoSubscriptions bool

	logFeed event.Feed
}

func NewBackend(chainID int64) *Backend {
	return &Backend{
		chainID: big.NewInt(chainID),
		head: &types.Header{
			Number:  big.NewInt(1),
			BaseFee: big.NewInt(1_000_000_000),
		},
		balances:    map[common.Address]*big.Int{},
		contracts:   map[common.Address]*contract{},
		nonces:      map[common.Address]uint64{},
		receipts:    map[common.Hash]*types.Receipt{},
		FailStatus:  map[string]bool{},
		Unconfirmed: map[string]bool{},
	}
}

// Register binds an ABI to addr so calls and transactions can be decoded.
func (b *Backend) Register(addr common.Address, parsed abi.ABI) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.contracts[addr]; ok {
		return
	}
	b.contracts[addr] = &contract{abi: parsed, calls: map[string]CallFunc{}, effects: map[string]CallFunc{}}
}

// OnCall answers eth_call / eth_estimateGas for method.
func (b *Backend) OnCall(addr common.Address, method string, fn CallFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.mustContract(addr).calls[method] = fn
}

// OnSend runs fn when a transaction to method is mined.
func (b *Backend) OnSend(addr common.Address, method string, fn CallFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.mustContract(addr).effects[method] = fn
}

// Returns answers a view method with fixed values.
func (b *Backend) Returns(addr common.Address, method string, out ...any) {
	b.OnCall(addr, method, func(common.Address, []any, *big.Int) ([]any, error) { return out, nil })
}

func (b *Backend) SetBalance(addr common.Address, wei *big.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.balances[addr] = new(big.Int).Set(wei)
}

// Mine advances the head by one block.
func (b *Backend) Mine() *types.Header {
	b.mu.Lock()
	defer b.mu.Unlock()
	next := types.CopyHeader(b.head)
	next.Number = new(big.Int).Add(b.head.Number, big.NewInt(1))
	b.head = next
	return types.CopyHeader(next)
}

// EmitLog delivers a log to every matching SubscribeFilterLogs subscriber.
func (b *Backend) EmitLog(l types.Log) {
	b.logFeed.Send(l)
}

// EventLog builds a log for eventName on addr with the given indexed topics and data values.
func (b *Backend) EventLog(addr common.Address, eventName string, args ...any) (types.Log, error) {
	b.mu.Lock()
	c, ok := b.contracts[addr]
	b.mu.Unlock()
	if !ok {
		return types.Log{}, fmt.Errorf("chaintest: no abi registered at %s", addr.Hex())
	}
	ev, ok := c.abi.Events[eventName]
	if !ok {
		return types.Log{}, fmt.Errorf("chaintest: unknown event %s", eventName)
	}
	if len(args) != len(ev.Inputs) {
		return types.Log{}, fmt.Errorf("chaintest: event %s wants %d args", eventName, len(ev.Inputs))
	}

	topics := []common.Hash{ev.ID}
	var nonIndexed []any
	for i, in := range ev.Inputs {
		if !in.Indexed {
			nonIndexed = append(nonIndexed, args[i])
			continue
		}
		rules, err := abi.MakeTopics([]any{args[i]})
		if err != nil {
			return types.Log{}, err
		}
		topics = append(topics, rules[0][0])
	}
	data, err := ev.Inputs.NonIndexed().Pack(nonIndexed...)
	if err != nil {
		return types.Log{}, err
	}
	return types.Log{Address: addr, Topics: topics, Data: data}, nil
}

func (b *Backend) Sent() []SentTx {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]SentTx(nil), b.sent...)
}

// SentMethods lists the method names of accepted transactions in order.
func (b *Backend) SentMethods() []string {
	sent := b.Sent()
	out := make([]string, 0, len(sent))
	for _, s := range sent {
		out = append(out, s.Method)
	}
	return out
}

func (b *Backend) mustContract(addr common.Address) *contract {
	c, ok := b.contracts[addr]
	if !ok {
		panic("chaintest: Register the ABI for " + addr.Hex() + " first")
	}
	return c
}

func (b *Backend) decode(to common.Address, data []byte) (*contract, *abi.Method, []any, error) {
	b.mu.Lock()
	c, ok := b.contracts[to]
	b.mu.Unlock()
	if !ok {
		return nil, nil, nil, fmt.Errorf("chaintest: no contract at %s", to.Hex())
	}
	if len(data) < 4 {
		return nil, nil, nil, errors.New("chaintest: short calldata")
	}
	method, err := c.abi.MethodById(data[:4])
	if err != nil {
		return nil, nil, nil, err
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, nil, nil, err
	}
	return c, method, args, nil
}

func (b *Backend) run(msg ethereum.CallMsg) ([]byte, error) {
	if msg.To == nil {
		return nil, errors.New("chaintest: contract creation not supported")
	}
	c, method, args, err := b.decode(*msg.To, msg.Data)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	fn := c.calls[method.Name]
	b.mu.Unlock()
	if fn == nil {
		// transactions without a registered view answer succeed with no output
		return []byte{}, nil
	}

	value := msg.Value
	if value == nil {
		value = new(big.Int)
	}
	out, err := fn(msg.From, args, value)
	if err != nil {
		return nil, err
	}
	return method.Outputs.Pack(out...)
}

func (b *Backend) CodeAt(ctx context.Context, contract common.Address, blockNumber *big.Int) ([]byte, error) {
	return []byte{0x60, 0x80}, nil
}

func (b *Backend) PendingCodeAt(ctx context.Context, account common.Address) ([]byte, error) {
	return []byte{0x60, 0x80}, nil
}

func (b *Backend) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return b.run(call)
}

func (b *Backend) EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error) {
	if call.To == nil {
		return 0, errors.New("chaintest: contract creation not supported")
	}
	if _, err := b.run(call); err != nil {
		return 0, err
	}
	return 100_000, nil
}

func (b *Backend) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return types.CopyHeader(b.head), nil
}

func (b *Backend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nonces[account], nil
}

func (b *Backend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(2_000_000_000), nil
}

func (b *Backend) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (b *Backend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	if b.SendErr != nil {
		return b.SendErr
	}
	from, err := types.Sender(types.LatestSignerForChainID(b.chainID), tx)
	if err != nil {
		return fmt.Errorf("chaintest: recover sender: %w", err)
	}
	if tx.To() == nil {
		return errors.New("chaintest: contract creation not supported")
	}

	sent := SentTx{Hash: tx.Hash(), From: from, To: *tx.To(), Value: tx.Value()}
	status := types.ReceiptStatusSuccessful
	held := false

	c, method, args, decodeErr := b.decode(*tx.To(), tx.Data())
	if decodeErr == nil {
		sent.Method = method.Name
		sent.Args = args

		b.mu.Lock()
		effect := c.effects[method.Name]
		failed := b.FailStatus[method.Name]
		held = b.Unconfirmed[method.Name]
		b.mu.Unlock()

		if failed {
			status = types.ReceiptStatusFailed
		} else if effect != nil {
			if _, err := effect(from, args, tx.Value()); err != nil {
				status = types.ReceiptStatusFailed
			}
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.nonces[from] = tx.Nonce() + 1
	b.sent = append(b.sent, sent)
	if held {
		return nil
	}
	b.receipts[tx.Hash()] = &types.Receipt{
		Status:      status,
		TxHash:      tx.Hash(),
		BlockNumber: new(big.Int).Add(b.head.Number, big.NewInt(1)),
		GasUsed:     21_000,
	}
	return nil
}

func (b *Backend) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.receipts[txHash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

func (b *Backend) FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	return nil, nil
}

func (b *Backend) SubscribeFilterLogs(ctx context.Context, query ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	if b.NoSubscriptions {
		return nil, errors.New("notifications not supported")
	}
	in := make(chan types.Log, 16)
	inner := b.logFeed.Subscribe(in)

	return event.NewSubscription(func(quit <-chan struct{}) error {
		defer inner.Unsubscribe()
		for {
			select {
			case l := <-in:
				if !matches(query, l) {
					continue
				}
				select {
				case ch <- l:
				case <-quit:
					return nil
				}
			case err := <-inner.Err():
				return err
			case <-quit:
				return nil
			}
		}
	}), nil
}

func (b *Backend) ChainID(ctx context.Context) (*big.Int, error) {
	return new(big.Int).Set(b.chainID), nil
}

func (b *Backend) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if v, ok := b.balances[account]; ok {
		return new(big.Int).Set(v), nil
	}
	return new(big.Int), nil
}

func matches(q ethereum.FilterQuery, l types.Log) bool {
	if len(q.Addresses) > 0 {
		found := false
		for _, a := range q.Addresses {
			if a == l.Address {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for i, alternatives := range q.Topics {
		if len(alternatives) == 0 {
			continue
		}
		if i >= len(l.Topics) {
			return false
		}
		ok := false
		for _, t := range alternatives {
			if t == l.Topics[i] {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

// RevertError mimics a node's execution-reverted error carrying ABI-encoded
// Error(string) data.
type RevertError struct {
	Reason string
}

func (e *RevertError) Error() string { return "execution reverted" }

func (e *RevertError) ErrorCode() int { return 3 }

func (e *RevertError) ErrorData() interface{} {
	return hexutil.Encode(EncodeRevert(e.Reason))
}

// EncodeRevert builds Error(string) revert data.
func EncodeRevert(reason string) []byte {
	strType, _ := abi.NewType("string", "", nil)
	packed, _ := abi.Arguments{{Type: strType}}.Pack(reason)
	selector := []byte{0x08, 0xc3, 0x79, 0xa0}
	return append(selector, packed...)
}
