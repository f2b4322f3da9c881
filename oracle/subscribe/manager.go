// Package subscribe keeps long-lived log subscriptions to the FlightSurety
// contracts and dispatches decoded events to handlers from a single loop.
package subscribe

import (
	"context"
	"fmt"
	"math/big"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	errorsmod "cosmossdk.io/errors"
	"github.com/armon/go-metrics"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/GPTx-global/flightsurety/oracle/contracts"
	"github.com/GPTx-global/flightsurety/oracle/log"
	"github.com/GPTx-global/flightsurety/oracle/retry"
	"github.com/GPTx-global/flightsurety/oracle/state"
	"github.com/GPTx-global/flightsurety/oracle/types"
)

const (
	defaultQueueSize = 2 << 10
	errChannelSize   = 16
)

// LogSource opens log subscriptions on the ledger.
type LogSource interface {
	SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- ethtypes.Log) (ethereum.Subscription, error)
}

// CursorStore persists the last block delivered per event kind.
type CursorStore interface {
	Cursor(kind types.EventKind) (uint64, bool, error)
	SetCursor(kind types.EventKind, block uint64) error
}

// Handler consumes one event. Handlers must tolerate redelivery of the same
// logical event.
type Handler func(ctx context.Context, ev types.Event)

type subscriber struct {
	filter  types.EventFilter
	handler Handler
}

type stream struct {
	kind    types.EventKind
	address common.Address
	topic   common.Hash
	from    *big.Int

	sub        ethereum.Subscription
	logs       chan ethtypes.Log
	errs       chan error
	subscribed atomic.Bool
	delivered  atomic.Bool
	lastBlock  atomic.Uint64
	lastEvent  atomic.Int64
}

// fromBlock is where a (re)subscription starts: the block of the last
// delivered log, or the configured start. Already seen logs are dropped.
func (s *stream) fromBlock() *big.Int {
	if s.delivered.Load() {
		return new(big.Int).SetUint64(s.lastBlock.Load())
	}
	return s.from
}

type Manager struct {
	source  LogSource
	state   *state.RelayState
	cursors CursorStore
	retry   *retry.Config

	mu       sync.RWMutex
	streams  map[types.EventKind]*stream
	order    []types.EventKind
	handlers map[types.EventKind][]subscriber

	queue   chan types.Event
	started atomic.Bool
	wg      sync.WaitGroup
}

type Option func(*Manager)

func WithCursorStore(cs CursorStore) Option {
	return func(m *Manager) { m.cursors = cs }
}

func WithQueueSize(n int) Option {
	return func(m *Manager) {
		if 0 < n {
			m.queue = make(chan types.Event, n)
		}
	}
}

func WithRetryConfig(cfg *retry.Config) Option {
	return func(m *Manager) { m.retry = cfg }
}

func NewManager(source LogSource, s *state.RelayState, opts ...Option) *Manager {
	m := &Manager{
		source:   source,
		state:    s,
		retry:    retry.NetworkConfig(),
		streams:  make(map[types.EventKind]*stream),
		handlers: make(map[types.EventKind][]subscriber),
		queue:    make(chan types.Event, defaultQueueSize),
	}
	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Watch declares the stream of kind emitted by the contract at address. A nil
// fromBlock starts at the latest block. A persisted cursor takes precedence
// when it is further ahead.
func (m *Manager) Watch(kind types.EventKind, address common.Address, fromBlock *big.Int) error {
	if m.started.Load() {
		return fmt.Errorf("cannot watch %s after start", kind)
	}

	_, abiEvent, err := contracts.EventSource(kind)
	if err != nil {
		return err
	}

	if m.cursors != nil {
		cursor, ok, err := m.cursors.Cursor(kind)
		if err != nil {
			return err
		}
		if ok && (fromBlock == nil || fromBlock.Uint64() < cursor) {
			log.Debugf("resuming %s from block %d", kind, cursor)
			fromBlock = new(big.Int).SetUint64(cursor)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.streams[kind]; ok {
		return fmt.Errorf("%s is already watched", kind)
	}

	m.streams[kind] = &stream{
		kind:    kind,
		address: address,
		topic:   abiEvent.ID,
		from:    fromBlock,
		logs:    make(chan ethtypes.Log, cap(m.queue)),
		errs:    make(chan error, errChannelSize),
	}
	m.order = append(m.order, kind)

	return nil
}

// Subscribe registers handler for events of kind accepted by filter. Handlers
// of one kind run in registration order.
func (m *Manager) Subscribe(kind types.EventKind, filter types.EventFilter, handler Handler) error {
	if !kind.Valid() {
		return fmt.Errorf("invalid event kind %d", int(kind))
	}
	if handler == nil {
		return fmt.Errorf("nil handler for %s", kind)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.handlers[kind] = append(m.handlers[kind], subscriber{filter: filter, handler: handler})

	return nil
}

// Errors reports subscription failures of kind. Sends are non-blocking, so a
// slow reader loses errors rather than stalling the stream.
func (m *Manager) Errors(kind types.EventKind) <-chan error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if st, ok := m.streams[kind]; ok {
		return st.errs
	}

	return nil
}

// Start opens every watched stream. Failing to open any of them is returned
// and leaves nothing subscribed.
func (m *Manager) Start(ctx context.Context) error {
	if !m.started.CompareAndSwap(false, true) {
		return fmt.Errorf("subscription manager already started")
	}

	m.mu.RLock()
	streams := make([]*stream, 0, len(m.order))
	for _, kind := range m.order {
		streams = append(streams, m.streams[kind])
	}
	m.mu.RUnlock()

	for i, st := range streams {
		if err := m.subscribe(ctx, st); err != nil {
			for _, opened := range streams[:i] {
				opened.sub.Unsubscribe()
				opened.subscribed.Store(false)
			}
			return err
		}
	}

	for _, st := range streams {
		m.wg.Add(1)
		go m.pump(ctx, st)
	}

	log.Infof("subscribed to %d event streams", len(streams))

	return nil
}

func (m *Manager) subscribe(ctx context.Context, st *stream) error {
	query := ethereum.FilterQuery{
		FromBlock: st.fromBlock(),
		Addresses: []common.Address{st.address},
		Topics:    [][]common.Hash{{st.topic}},
	}

	sub, err := m.source.SubscribeFilterLogs(ctx, query, st.logs)
	if err != nil {
		return errorsmod.Wrapf(types.ErrTransport, "failed to subscribe to %s: %v", st.kind, err)
	}

	st.sub = sub
	st.subscribed.Store(true)
	log.Debugf("subscribed to %s at %s from block %v", st.kind, st.address.Hex(), query.FromBlock)

	return nil
}

func (m *Manager) pump(ctx context.Context, st *stream) {
	defer m.wg.Done()

	for {
		select {
		case <-ctx.Done():
			st.sub.Unsubscribe()
			st.subscribed.Store(false)
			return

		case err, ok := <-st.sub.Err():
			st.subscribed.Store(false)
			if !ok && ctx.Err() != nil {
				return
			}
			if err == nil {
				err = fmt.Errorf("subscription closed")
			}

			m.report(st, errorsmod.Wrapf(types.ErrTransport, "%s subscription dropped: %v", st.kind, err))
			metrics.IncrCounter([]string{"relay", "subscribe", "reconnect"}, 1)

			if err := retry.Do(ctx, m.retry, func() error {
				return m.subscribe(ctx, st)
			}, retry.DefaultIsRetryable); err != nil {
				log.Errorf("giving up on %s subscription: %v", st.kind, err)
				m.report(st, err)
				return
			}
			log.Infof("resubscribed to %s", st.kind)

		case l := <-st.logs:
			m.accept(ctx, st, l)
		}
	}
}

func (m *Manager) accept(ctx context.Context, st *stream, l ethtypes.Log) {
	if l.Removed {
		log.Debugf("dropping removed %s log %s:%d", st.kind, l.TxHash.Hex(), l.Index)
		return
	}

	meta := types.LogMeta{TxHash: l.TxHash, LogIndex: l.Index}
	if !m.state.MarkSeen(meta) {
		metrics.IncrCounter([]string{"relay", "events", "duplicate"}, 1)
		return
	}

	ev, err := Decode(st.kind, l)
	if err != nil {
		log.Errorf("malformed event: %v", err)
		metrics.IncrCounter([]string{"relay", "events", "malformed"}, 1)
		m.report(st, err)
		return
	}

	st.lastBlock.Store(l.BlockNumber)
	st.delivered.Store(true)
	st.lastEvent.Store(time.Now().UnixNano())
	metrics.IncrCounter([]string{"relay", "events", st.kind.String()}, 1)

	if m.cursors != nil {
		if err := m.cursors.SetCursor(st.kind, l.BlockNumber); err != nil {
			log.Warnf("%v", err)
		}
	}

	select {
	case m.queue <- ev:
	case <-ctx.Done():
	}
}

func (m *Manager) report(st *stream, err error) {
	select {
	case st.errs <- err:
	default:
		log.Warnf("error channel of %s is full, dropping: %v", st.kind, err)
	}
}

// Run is the single consumption loop. It returns when ctx is done.
func (m *Manager) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-m.queue:
			m.dispatch(ctx, ev)
		}
	}
}

func (m *Manager) dispatch(ctx context.Context, ev types.Event) {
	m.mu.RLock()
	subs := m.handlers[ev.Kind()]
	m.mu.RUnlock()

	for _, s := range subs {
		if s.filter != nil && !s.filter(ev) {
			continue
		}
		m.invoke(ctx, s.handler, ev)
	}
}

func (m *Manager) invoke(ctx context.Context, h Handler, ev types.Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("handler for %s panicked: %v\n%s", ev.Kind(), r, debug.Stack())
		}
	}()

	h(ctx, ev)
}

// Wait blocks until every stream goroutine has returned.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Healthy returns an error naming the streams that are not subscribed.
func (m *Manager) Healthy() error {
	if !m.started.Load() {
		return fmt.Errorf("subscriptions not started")
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var down []string
	for _, kind := range m.order {
		if !m.streams[kind].subscribed.Load() {
			down = append(down, kind.String())
		}
	}
	if 0 < len(down) {
		return fmt.Errorf("not subscribed: %s", strings.Join(down, ", "))
	}

	return nil
}

// LastEvent returns when an event of kind was last delivered.
func (m *Manager) LastEvent(kind types.EventKind) (time.Time, bool) {
	m.mu.RLock()
	st, ok := m.streams[kind]
	m.mu.RUnlock()
	if !ok {
		return time.Time{}, false
	}

	ns := st.lastEvent.Load()
	if ns == 0 {
		return time.Time{}, false
	}

	return time.Unix(0, ns), true
}

// Kinds returns the watched kinds in declaration order.
func (m *Manager) Kinds() []types.EventKind {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return append([]types.EventKind(nil), m.order...)
}
