// Package ledgertest provides an in-memory ledger.Transport that dispatches
// contract calls to Go handlers and lets tests push logs to subscribers.
package ledgertest

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/GPTx-global/flightsurety/oracle/ledger"
)

// ErrReceiptFailed makes a send handler mine the transaction with status 0.
var ErrReceiptFailed = errors.New("receipt failed")

// RPCError mimics an error answered by a JSON-RPC node.
type RPCError struct {
	Code int
	Msg  string
	Data any
}

func (e *RPCError) Error() string  { return e.Msg }
func (e *RPCError) ErrorCode() int { return e.Code }
func (e *RPCError) ErrorData() any { return e.Data }

// Revert builds the error a development chain returns for a reverted call.
func Revert(reason string) error {
	return &RPCError{
		Code: -32000,
		Msg:  "VM Exception while processing transaction: revert " + reason,
		Data: map[string]any{
			"0x0000000000000000000000000000000000000000000000000000000000000001": map[string]any{
				"error":  "revert",
				"reason": reason,
			},
		},
	}
}

type CallHandler func(from common.Address, args []any) ([]any, error)

type SendHandler func(from common.Address, value *big.Int, args []any) error

// SentTx records a transaction accepted by the fake.
type SentTx struct {
	From   common.Address
	To     common.Address
	Method string
	Args   []any
	Value  *big.Int
	Gas    uint64
	Status uint64
}

type Transport struct {
	mu sync.Mutex

	accounts    []common.Address
	abis        []*abi.ABI
	calls       map[string]CallHandler
	sends       map[string]SendHandler
	receipts    map[common.Hash]*ethtypes.Receipt
	sent        []SentTx
	subs        []*Subscription
	blockNumber uint64
	nonce       uint64

	// TransportErr, when set, is returned by every request.
	TransportErr error
	// SubscribeErr, when set, is returned by SubscribeFilterLogs.
	SubscribeErr error
}

var _ ledger.Transport = (*Transport)(nil)

func NewTransport(accounts []common.Address, abis ...*abi.ABI) *Transport {
	return &Transport{
		accounts: accounts,
		abis:     abis,
		calls:    make(map[string]CallHandler),
		sends:    make(map[string]SendHandler),
		receipts: make(map[common.Hash]*ethtypes.Receipt),
	}
}

// Accounts returns n deterministic addresses.
func Accounts(n int) []common.Address {
	accounts := make([]common.Address, n)
	for i := range accounts {
		accounts[i] = common.BytesToAddress(crypto.Keccak256([]byte(fmt.Sprintf("account-%d", i)))[12:])
	}

	return accounts
}

func (t *Transport) HandleCall(method string, h CallHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.calls[method] = h
}

func (t *Transport) HandleSend(method string, h SendHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.sends[method] = h
}

func (t *Transport) SetBlockNumber(n uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.blockNumber = n
}

// Sent returns the transactions accepted so far, optionally filtered by method.
func (t *Transport) Sent(method string) []SentTx {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []SentTx
	for _, tx := range t.sent {
		if method == "" || tx.Method == method {
			out = append(out, tx)
		}
	}

	return out
}

func (t *Transport) method(data []byte) (*abi.Method, []any, error) {
	if len(data) < 4 {
		return nil, nil, fmt.Errorf("short call data")
	}
	for _, a := range t.abis {
		m, err := a.MethodById(data[:4])
		if err != nil {
			continue
		}
		args, err := m.Inputs.Unpack(data[4:])
		if err != nil {
			return nil, nil, err
		}
		return m, args, nil
	}

	return nil, nil, fmt.Errorf("unknown selector %x", data[:4])
}

func (t *Transport) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if t.TransportErr != nil {
		return nil, t.TransportErr
	}

	m, args, err := t.method(msg.Data)
	if err != nil {
		return nil, &RPCError{Code: -32000, Msg: err.Error()}
	}

	t.mu.Lock()
	h, ok := t.calls[m.Name]
	t.mu.Unlock()
	if !ok {
		return nil, nil
	}

	out, err := h(msg.From, args)
	if err != nil {
		return nil, err
	}

	return m.Outputs.Pack(out...)
}

func (t *Transport) SendTransaction(_ context.Context, args ledger.TxArgs) (common.Hash, error) {
	if t.TransportErr != nil {
		return common.Hash{}, t.TransportErr
	}

	m, decoded, err := t.method(args.Data)
	if err != nil {
		return common.Hash{}, &RPCError{Code: -32000, Msg: err.Error()}
	}

	t.mu.Lock()
	h := t.sends[m.Name]
	t.mu.Unlock()

	status := ethtypes.ReceiptStatusSuccessful
	if h != nil {
		if err := h(args.From, args.Value, decoded); err != nil {
			if !errors.Is(err, ErrReceiptFailed) {
				return common.Hash{}, err
			}
			status = ethtypes.ReceiptStatusFailed
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.nonce++
	t.blockNumber++
	hash := common.BigToHash(new(big.Int).SetUint64(t.nonce))
	t.receipts[hash] = &ethtypes.Receipt{
		Status:      status,
		TxHash:      hash,
		BlockNumber: new(big.Int).SetUint64(t.blockNumber),
		GasUsed:     21000,
	}

	to := common.Address{}
	if args.To != nil {
		to = *args.To
	}
	t.sent = append(t.sent, SentTx{
		From:   args.From,
		To:     to,
		Method: m.Name,
		Args:   decoded,
		Value:  args.Value,
		Gas:    args.Gas,
		Status: status,
	})

	return hash, nil
}

func (t *Transport) TransactionReceipt(_ context.Context, hash common.Hash) (*ethtypes.Receipt, error) {
	if t.TransportErr != nil {
		return nil, t.TransportErr
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	r, ok := t.receipts[hash]
	if !ok {
		return nil, ethereum.NotFound
	}

	return r, nil
}

func (t *Transport) Accounts(context.Context) ([]common.Address, error) {
	if t.TransportErr != nil {
		return nil, t.TransportErr
	}

	return t.accounts, nil
}

func (t *Transport) BlockNumber(context.Context) (uint64, error) {
	if t.TransportErr != nil {
		return 0, t.TransportErr
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	return t.blockNumber, nil
}

func (t *Transport) SubscribeFilterLogs(_ context.Context, q ethereum.FilterQuery, ch chan<- ethtypes.Log) (ethereum.Subscription, error) {
	if t.SubscribeErr != nil {
		return nil, t.SubscribeErr
	}

	sub := &Subscription{
		Query: q,
		ch:    ch,
		err:   make(chan error, 1),
		done:  make(chan struct{}),
	}

	t.mu.Lock()
	t.subs = append(t.subs, sub)
	t.mu.Unlock()

	return sub, nil
}

// Subscriptions returns every subscription ever opened.
func (t *Transport) Subscriptions() []*Subscription {
	t.mu.Lock()
	defer t.mu.Unlock()

	return append([]*Subscription(nil), t.subs...)
}

// Emit delivers l to every live subscription whose filter matches it.
func (t *Transport) Emit(l ethtypes.Log) {
	for _, sub := range t.Subscriptions() {
		if sub.matches(l) {
			sub.deliver(l)
		}
	}
}

func (t *Transport) Close() {}

type Subscription struct {
	Query ethereum.FilterQuery

	ch   chan<- ethtypes.Log
	err  chan error
	once sync.Once
	done chan struct{}
}

func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		close(s.done)
		close(s.err)
	})
}

func (s *Subscription) Err() <-chan error {
	return s.err
}

// Fail reports err to the subscriber as a dropped subscription.
func (s *Subscription) Fail(err error) {
	s.once.Do(func() {
		close(s.done)
		s.err <- err
		close(s.err)
	})
}

func (s *Subscription) Closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *Subscription) matches(l ethtypes.Log) bool {
	if s.Closed() {
		return false
	}
	if s.Query.FromBlock != nil && l.BlockNumber < s.Query.FromBlock.Uint64() {
		return false
	}
	if 0 < len(s.Query.Addresses) {
		found := false
		for _, a := range s.Query.Addresses {
			if a == l.Address {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if 0 < len(s.Query.Topics) && 0 < len(s.Query.Topics[0]) {
		if len(l.Topics) == 0 {
			return false
		}
		found := false
		for _, topic := range s.Query.Topics[0] {
			if topic == l.Topics[0] {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	return true
}

func (s *Subscription) deliver(l ethtypes.Log) {
	select {
	case s.ch <- l:
	case <-s.done:
	}
}

// PackLog encodes an event of contractABI as the ledger would emit it.
func PackLog(contractABI *abi.ABI, address common.Address, event string, block uint64, txHash common.Hash, index uint, args ...any) (ethtypes.Log, error) {
	ev, ok := contractABI.Events[event]
	if !ok {
		return ethtypes.Log{}, fmt.Errorf("event %s not found", event)
	}

	data, err := ev.Inputs.NonIndexed().Pack(args...)
	if err != nil {
		return ethtypes.Log{}, err
	}

	return ethtypes.Log{
		Address:     address,
		Topics:      []common.Hash{ev.ID},
		Data:        data,
		BlockNumber: block,
		TxHash:      txHash,
		Index:       index,
	}, nil
}
