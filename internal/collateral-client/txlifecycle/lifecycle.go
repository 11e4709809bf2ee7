// Package txlifecycle wraps a contract write with its user-facing lifecycle:
// submit, wait for the receipt, and report exactly one terminal notification.
package txlifecycle

import (
	"context"
	stderrors "errors"
	"fmt"
	"math/big"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/chains"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/contracts"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/journal"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/metrics"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/notifications"
	"github.com/quantumauth-io/collateral-client/internal/collateral-client/wallet"
	"github.com/quantumauth-io/quantum-go-utils/log"
)

var (
	ErrWalletRejected = stderrors.New("txlifecycle: signature declined")
	ErrReverted       = stderrors.New("txlifecycle: execution reverted")
	ErrRPC            = stderrors.New("txlifecycle: rpc error")
	ErrConfirmation   = stderrors.New("txlifecycle: confirmation failed")
)

const DefaultConfirmTimeout = 10 * time.Minute

// Call is one contract method invocation. Value is sent with payable methods.
type Call struct {
	Contract *contracts.Handle
	Method   string
	Args     []any
	Value    *big.Int
}

// RawTx is a prebuilt payload, e.g. a swap returned by an aggregator.
type RawTx struct {
	To    common.Address
	Data  []byte
	Value *big.Int
	Gas   uint64
}

// Signer yields the writable contract set of the current session epoch, or
// the reason writes are refused.
type Signer interface {
	Writable() (*contracts.Set, error)
}

// Failure is a classified lifecycle error with the message shown to the user.
type Failure struct {
	Message string
	err     error
}

func (f *Failure) Error() string { return f.err.Error() }

func (f *Failure) Unwrap() error { return f.err }

// Fail attaches a user-facing message to err.
func Fail(message string, err error) *Failure {
	return &Failure{Message: message, err: err}
}

// Message returns the user-facing text for err.
func Message(err error) string {
	var f *Failure
	if stderrors.As(err, &f) {
		return f.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

type Manager struct {
	signer  Signer
	hub     *notifications.Hub
	journal *journal.Store
	metrics *metrics.Collectors
	timeout time.Duration
}

type Option func(*Manager)

func WithJournal(j *journal.Store) Option {
	return func(m *Manager) { m.journal = j }
}

func WithMetrics(c *metrics.Collectors) Option {
	return func(m *Manager) { m.metrics = c }
}

// WithConfirmTimeout bounds the wait for a receipt.
func WithConfirmTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.timeout = d
		}
	}
}

func New(signer Signer, hub *notifications.Hub, opts ...Option) *Manager {
	m := &Manager{signer: signer, hub: hub, timeout: DefaultConfirmTimeout}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Manager) Hub() *notifications.Hub {
	return m.hub
}

// attempt is the transport-independent description of one write.
type attempt struct {
	method  string
	to      common.Address
	data    []byte
	value   *big.Int
	backend chains.Backend
	send    func(opts *bind.TransactOpts) (*types.Transaction, error)
}

// Execute runs invoke, sends the resulting call and waits for it to be mined.
// Validation errors from invoke raise one error notification; a declined
// signature raises none.
func (m *Manager) Execute(ctx context.Context, startLabel, endLabel string, invoke func() (Call, error)) (*types.Receipt, error) {
	set, err := m.signer.Writable()
	if err != nil {
		return nil, err
	}

	invocation := notifications.NewInvocation()
	call, err := invoke()
	if err == nil && call.Contract == nil {
		err = contracts.ErrNotAvailable
	}
	if err != nil {
		if !stderrors.Is(err, contracts.ErrNotAvailable) {
			m.hub.Error(invocation, Message(err), "", "")
			m.metrics.Outcome(call.Method, "invalid", time.Time{})
		}
		return nil, err
	}

	data, err := call.Contract.Pack(call.Method, call.Args...)
	if err != nil {
		m.hub.Error(invocation, err.Error(), "", "")
		m.metrics.Outcome(call.Method, "invalid", time.Time{})
		return nil, fmt.Errorf("txlifecycle: pack %s: %w", call.Method, err)
	}

	return m.run(ctx, set, invocation, startLabel, endLabel, attempt{
		method:  call.Method,
		to:      call.Contract.Address,
		data:    data,
		value:   call.Value,
		backend: call.Contract.Backend(),
		send: func(opts *bind.TransactOpts) (*types.Transaction, error) {
			return call.Contract.Transact(opts, call.Method, call.Args...)
		},
	})
}

// SendRaw runs the same lifecycle for a prebuilt payload.
func (m *Manager) SendRaw(ctx context.Context, startLabel, endLabel string, raw RawTx) (*types.Receipt, error) {
	set, err := m.signer.Writable()
	if err != nil {
		return nil, err
	}
	if raw.To == (common.Address{}) {
		return nil, fmt.Errorf("txlifecycle: raw transaction without recipient")
	}
	backend := set.Backend
	bound := bind.NewBoundContract(raw.To, abi.ABI{}, backend, backend, backend)

	return m.run(ctx, set, notifications.NewInvocation(), startLabel, endLabel, attempt{
		method:  "raw",
		to:      raw.To,
		data:    raw.Data,
		value:   raw.Value,
		backend: backend,
		send: func(opts *bind.TransactOpts) (*types.Transaction, error) {
			if raw.Gas > 0 {
				opts.GasLimit = raw.Gas
			}
			return bound.RawTransact(opts, raw.Data)
		},
	})
}

func (m *Manager) run(ctx context.Context, set *contracts.Set, invocation, startLabel, endLabel string, a attempt) (*types.Receipt, error) {
	opts := set.TransactOpts()
	if opts == nil {
		return nil, contracts.ErrNotAvailable
	}
	opts.Context = ctx
	if a.value != nil && a.value.Sign() > 0 {
		opts.Value = new(big.Int).Set(a.value)
	}

	entryID := m.begin(ctx, set, invocation, startLabel, a)

	tx, err := a.send(opts)
	if err != nil {
		err = m.classify(ctx, set.Account, a, err)
		if stderrors.Is(err, ErrWalletRejected) {
			log.Info("signature declined", "method", a.method)
			m.finish(ctx, entryID, a.method, "rejected", time.Time{}, err)
			return nil, err
		}
		log.Warn("transaction rejected", "method", a.method, "error", err)
		m.hub.Error(invocation, Message(err), "", "")
		m.finish(ctx, entryID, a.method, outcome(err), time.Time{}, err)
		return nil, err
	}

	hash := tx.Hash()
	url := set.Network.TxURL(hash)
	submittedAt := time.Now()
	m.hub.Transaction(invocation, startLabel, hash.Hex(), url)
	m.metrics.Submitted(a.method)
	if m.journal != nil && entryID != "" {
		if jerr := m.journal.Submitted(ctx, entryID, hash.Hex()); jerr != nil {
			log.Warn("journal update failed", "id", entryID, "error", jerr)
		}
	}
	log.Info("transaction submitted", "method", a.method, "hash", hash.Hex(), "network", set.Network.Name)

	waitCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	receipt, err := bind.WaitMined(waitCtx, a.backend, tx)
	if err != nil {
		fail := &Failure{
			Message: fmt.Sprintf("Transaction %s was not confirmed.", hash.Hex()),
			err:     errors.Wrapf(ErrConfirmation, "wait for %s: %v", hash.Hex(), err),
		}
		m.hub.Error(invocation, fail.Message, hash.Hex(), url)
		m.finish(ctx, entryID, a.method, "timeout", submittedAt, fail)
		return nil, fail
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		fail := &Failure{
			Message: fmt.Sprintf("%s failed.", startLabel),
			err:     errors.Wrapf(ErrConfirmation, "transaction %s reverted in block %v", hash.Hex(), receipt.BlockNumber),
		}
		m.hub.Error(invocation, fail.Message, hash.Hex(), url)
		m.finish(ctx, entryID, a.method, "reverted", submittedAt, fail)
		return receipt, fail
	}

	m.hub.Success(invocation, endLabel, hash.Hex(), url)
	m.finish(ctx, entryID, a.method, "success", submittedAt, nil)
	log.Info("transaction confirmed", "method", a.method, "hash", hash.Hex(), "block", receipt.BlockNumber)
	return receipt, nil
}

// classify maps a send failure onto the error taxonomy. A failed estimate is
// replayed as eth_call to recover the revert reason.
func (m *Manager) classify(ctx context.Context, from common.Address, a attempt, cause error) error {
	if stderrors.Is(cause, wallet.ErrRejected) {
		return fmt.Errorf("%w: %w", ErrWalletRejected, cause)
	}
	if reason, ok := revertReason(cause); ok {
		return reverted(reason)
	}
	if a.backend != nil {
		msg := ethereum.CallMsg{From: from, To: &a.to, Data: a.data, Value: a.value}
		if _, simErr := a.backend.CallContract(ctx, msg, nil); simErr != nil {
			if reason, ok := revertReason(simErr); ok {
				return reverted(reason)
			}
		}
	}
	return &Failure{Message: cause.Error(), err: fmt.Errorf("%w: %w", ErrRPC, cause)}
}

func reverted(reason string) error {
	return &Failure{Message: reason, err: errors.Wrapf(ErrReverted, "%s", reason)}
}

// revertReason decodes an ABI Error(string) from an rpc data error.
func revertReason(err error) (string, bool) {
	var de rpc.DataError
	if !stderrors.As(err, &de) {
		return "", false
	}
	var data []byte
	switch v := de.ErrorData().(type) {
	case string:
		decoded, derr := hexutil.Decode(v)
		if derr != nil {
			return "", false
		}
		data = decoded
	case []byte:
		data = v
	default:
		return "", false
	}
	reason, uerr := abi.UnpackRevert(data)
	if uerr != nil || reason == "" {
		return "", false
	}
	return reason, true
}

func outcome(err error) string {
	switch {
	case stderrors.Is(err, ErrReverted):
		return "reverted"
	case stderrors.Is(err, ErrRPC):
		return "rpc_error"
	default:
		return "error"
	}
}

func (m *Manager) begin(ctx context.Context, set *contracts.Set, invocation, label string, a attempt) string {
	if m.journal == nil {
		return ""
	}
	id, err := m.journal.Begin(ctx, journal.Entry{
		InvocationID: invocation,
		Network:      set.Network.Name,
		Account:      set.Account.Hex(),
		Label:        label,
		Method:       a.method,
		Contract:     a.to.Hex(),
	})
	if err != nil {
		log.Warn("journal insert failed", "method", a.method, "error", err)
		return ""
	}
	return id
}

func (m *Manager) finish(ctx context.Context, entryID, method, result string, since time.Time, cause error) {
	m.metrics.Outcome(method, result, since)
	if m.journal == nil || entryID == "" {
		return
	}
	// the caller's context may already be done after a timeout
	if err := m.journal.Finish(context.WithoutCancel(ctx), entryID, cause); err != nil {
		log.Warn("journal update failed", "id", entryID, "error", err)
	}
}
