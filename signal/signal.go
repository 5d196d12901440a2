package signal

import (
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dshills/sigkit/sched"
)

// compactThreshold is the tombstone count at which the registry considers
// sweeping disconnected entries.
const compactThreshold = 8

// Signal is a typed event channel. The zero value is not usable; create
// signals with New.
type Signal[T any] struct {
	name string
	sch  sched.Scheduler
	clk  clock.Clock
	log  *zap.Logger

	// Registry: an arena of connections in insertion order, visited
	// newest-first during dispatch. Disconnect tombstones an entry;
	// compaction sweeps tombstones once they pass compactThreshold.
	mu    sync.Mutex
	conns []*Connection[T]
	dead  int

	// Active middleware pipeline, last-writer-wins. gen identifies the
	// current registration so stale handles detach as no-ops.
	pipeline *pipeline[T]
	gen      uint64

	// Stats
	fired     atomic.Uint64
	delivered atomic.Uint64
	panicked  atomic.Uint64
}

// Option configures a Signal.
type Option func(*options)

type options struct {
	name string
	sch  sched.Scheduler
	clk  clock.Clock
	log  *zap.Logger
}

// WithName sets a name used in debug output and log lines.
func WithName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.name = name
		}
	}
}

// WithScheduler sets the scheduler deliveries are handed to.
func WithScheduler(s sched.Scheduler) Option {
	return func(o *options) {
		if s != nil {
			o.sch = s
		}
	}
}

// WithClock sets the clock used by Wait and the time-based middleware
// stages installed through the Use* helpers.
func WithClock(clk clock.Clock) Option {
	return func(o *options) {
		if clk != nil {
			o.clk = clk
		}
	}
}

// WithLogger sets the logger used by Log middleware, PrintDebugInfo, and
// listener-panic reporting. Defaults to a nop logger.
func WithLogger(log *zap.Logger) Option {
	return func(o *options) {
		if log != nil {
			o.log = log
		}
	}
}

// New creates a signal. Connecting never fails and firing over an empty
// registry is a no-op, so a freshly created signal is immediately usable
// from both sides.
func New[T any](opts ...Option) *Signal[T] {
	o := options{
		name: "signal",
		clk:  clock.New(),
		log:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.sch == nil {
		o.sch = sched.NewAsync(sched.WithAsyncClock(o.clk))
	}

	return &Signal[T]{
		name: o.name,
		sch:  o.sch,
		clk:  o.clk,
		log:  o.log,
	}
}

// ConnectOption configures a single connection.
type ConnectOption func(*connectConfig)

type connectConfig struct {
	mode DeliveryMode
}

// WithDelivery sets the connection's delivery mode.
func WithDelivery(mode DeliveryMode) ConnectOption {
	return func(c *connectConfig) {
		c.mode = mode
	}
}

// Connect registers fn as a listener and returns its connection. The newest
// connection is visited first during a fire. Connecting never fails.
func (s *Signal[T]) Connect(fn func(T), opts ...ConnectOption) *Connection[T] {
	return s.connect(fn, nil, opts...)
}

// Once registers fn to receive at most one delivery. The connection is
// disconnected before fn runs, so re-entrant fires from inside fn cannot
// reach it again. Back-to-back fires may both schedule a unit for the
// connection before either runs; only the unit that wins the claim
// delivers, which keeps the at-most-one guarantee under any scheduler.
func (s *Signal[T]) Once(fn func(T), opts ...ConnectOption) *Connection[T] {
	return s.connect(fn, func(c *Connection[T], v T) {
		if !c.claim() {
			return
		}
		fn(v)
	}, opts...)
}

// Until registers fn to receive the first delivery for which pred is true,
// then disconnects. Deliveries failing pred leave the connection intact.
// Like Once, racing qualifying deliveries are resolved by the claim: at
// most one ever reaches fn.
func (s *Signal[T]) Until(pred func(T) bool, fn func(T), opts ...ConnectOption) *Connection[T] {
	return s.connect(fn, func(c *Connection[T], v T) {
		if !pred(v) {
			return
		}
		if !c.claim() {
			return
		}
		fn(v)
	}, opts...)
}

// WhileActive registers fn to run only while check returns true at delivery
// time. The connection survives false checks and fires again if check
// becomes true later; it is never auto-disconnected.
func (s *Signal[T]) WhileActive(check func() bool, fn func(T), opts ...ConnectOption) *Connection[T] {
	return s.connect(fn, func(_ *Connection[T], v T) {
		if check() {
			fn(v)
		}
	}, opts...)
}

// ConnectForked registers fn to always run as a fresh independent unit.
func (s *Signal[T]) ConnectForked(fn func(T)) *Connection[T] {
	return s.Connect(fn, WithDelivery(DeliverForked))
}

// ConnectDeferred registers fn to run after the current unit of work
// completes.
func (s *Signal[T]) ConnectDeferred(fn func(T)) *Connection[T] {
	return s.Connect(fn, WithDelivery(DeliverDeferred))
}

// ConnectAsync registers fn to run cooperatively interleaved with other
// scheduled work.
func (s *Signal[T]) ConnectAsync(fn func(T)) *Connection[T] {
	return s.Connect(fn, WithDelivery(DeliverCooperative))
}

// connect builds a connection around fn. When wrap is non-nil it becomes
// the delivery path and receives the connection itself, which lets Once
// and Until disconnect from inside a delivery. The wrapper is installed
// before the connection enters the registry, so no fire can observe a
// half-built connection.
func (s *Signal[T]) connect(fn func(T), wrap func(*Connection[T], T), opts ...ConnectOption) *Connection[T] {
	cfg := connectConfig{mode: DeliverDefault}
	for _, opt := range opts {
		opt(&cfg)
	}

	c := &Connection[T]{
		id:    uuid.New(),
		sig:   s,
		mode:  cfg.mode,
		fnPtr: callbackPointer(fn),
	}
	if wrap == nil {
		c.fn = fn
	} else {
		c.fn = func(v T) { wrap(c, v) }
	}
	c.connected.Store(true)

	s.mu.Lock()
	s.conns = append(s.conns, c)
	s.mu.Unlock()

	return c
}

// DisconnectAll disconnects every connection and clears the registry.
func (s *Signal[T]) DisconnectAll() {
	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.dead = 0
	s.mu.Unlock()

	for _, c := range conns {
		c.connected.Store(false)
	}
}

// noteDisconnect records a tombstone and sweeps the registry once enough
// of them pile up. Insertion stays O(1); the sweep is amortized.
func (s *Signal[T]) noteDisconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.dead++
	if s.dead < compactThreshold || s.dead*2 < len(s.conns) {
		return
	}
	live := s.conns[:0]
	for _, c := range s.conns {
		if c.connected.Load() {
			live = append(live, c)
		}
	}
	// Drop the tail so swept connections are collectable.
	for i := len(live); i < len(s.conns); i++ {
		s.conns[i] = nil
	}
	s.conns = live
	s.dead = 0
}

// snapshot copies the registry in dispatch order (newest first).
func (s *Signal[T]) snapshot() []*Connection[T] {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Connection[T], 0, len(s.conns))
	for i := len(s.conns) - 1; i >= 0; i-- {
		out = append(out, s.conns[i])
	}
	return out
}

// callbackPointer returns the identity of a callback for IsConnected.
// Function values have no == in Go; the code pointer is the closest
// available stand-in for reference equality.
func callbackPointer[T any](fn func(T)) uintptr {
	if fn == nil {
		return 0
	}
	return reflect.ValueOf(fn).Pointer()
}
