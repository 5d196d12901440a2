// Package sched provides the task-scheduling boundary used by the signal
// package. A Scheduler knows how to run a unit of work immediately, after the
// current unit yields, or after a delay. Implementations decide what a "unit"
// is: Async maps units to goroutines, Loop runs everything on a single owner
// goroutine, and Sync executes inline for deterministic tests.
package sched

import (
	"runtime"
	"runtime/debug"
	"time"

	"github.com/benbjohnson/clock"
)

// Cancel cancels a delayed task. It returns true if the task had not yet run
// and was prevented from running.
type Cancel func() bool

// Scheduler schedules units of work.
type Scheduler interface {
	// Spawn runs fn as a new independent unit of work.
	Spawn(fn func())

	// Defer runs fn after the current unit of work yields or completes.
	Defer(fn func())

	// After runs fn once d has elapsed. The returned Cancel prevents the
	// run if invoked first.
	After(d time.Duration, fn func()) Cancel
}

// PanicHandler is called when a scheduled unit panics.
type PanicHandler func(recovered any, stack []byte)

// defaultPanicHandler swallows the panic. Callers who care install their own
// handler; the signal package installs one that logs.
func defaultPanicHandler(_ any, _ []byte) {}

// guard runs fn under a panic boundary so one unit's failure never takes
// down its siblings.
func guard(fn func(), ph PanicHandler) {
	defer func() {
		if r := recover(); r != nil {
			ph(r, debug.Stack())
		}
	}()
	fn()
}

// Async schedules each unit on its own goroutine. It is the default
// scheduler used by signals.
type Async struct {
	clk clock.Clock
	ph  PanicHandler
}

// AsyncOption configures an Async scheduler.
type AsyncOption func(*Async)

// WithAsyncClock sets the clock used for delayed tasks.
func WithAsyncClock(clk clock.Clock) AsyncOption {
	return func(a *Async) {
		if clk != nil {
			a.clk = clk
		}
	}
}

// WithAsyncPanicHandler sets the panic handler for spawned units.
func WithAsyncPanicHandler(ph PanicHandler) AsyncOption {
	return func(a *Async) {
		if ph != nil {
			a.ph = ph
		}
	}
}

// NewAsync creates a goroutine-backed scheduler.
func NewAsync(opts ...AsyncOption) *Async {
	a := &Async{
		clk: clock.New(),
		ph:  defaultPanicHandler,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Spawn runs fn on a new goroutine.
func (a *Async) Spawn(fn func()) {
	go guard(fn, a.ph)
}

// Defer runs fn on a new goroutine after yielding the processor, giving the
// current unit a chance to finish first.
func (a *Async) Defer(fn func()) {
	go func() {
		runtime.Gosched()
		guard(fn, a.ph)
	}()
}

// After runs fn once d has elapsed.
func (a *Async) After(d time.Duration, fn func()) Cancel {
	t := a.clk.AfterFunc(d, func() {
		guard(fn, a.ph)
	})
	return t.Stop
}

// Sync executes every unit inline on the caller's goroutine. Delivery order
// is fully deterministic, which makes it the scheduler of choice in tests
// and for callers who explicitly want listeners to borrow the firer's
// goroutine.
type Sync struct {
	clk clock.Clock
	ph  PanicHandler
}

// SyncOption configures a Sync scheduler.
type SyncOption func(*Sync)

// WithSyncClock sets the clock used for delayed tasks.
func WithSyncClock(clk clock.Clock) SyncOption {
	return func(s *Sync) {
		if clk != nil {
			s.clk = clk
		}
	}
}

// WithSyncPanicHandler sets the panic handler for executed units.
func WithSyncPanicHandler(ph PanicHandler) SyncOption {
	return func(s *Sync) {
		if ph != nil {
			s.ph = ph
		}
	}
}

// NewSync creates an inline scheduler.
func NewSync(opts ...SyncOption) *Sync {
	s := &Sync{
		clk: clock.New(),
		ph:  defaultPanicHandler,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Spawn runs fn immediately on the caller's goroutine.
func (s *Sync) Spawn(fn func()) {
	guard(fn, s.ph)
}

// Defer runs fn immediately. With inline execution the current unit is, by
// definition, complete by the time the caller returns, so there is nothing
// to wait for.
func (s *Sync) Defer(fn func()) {
	guard(fn, s.ph)
}

// After runs fn once d has elapsed. The delayed unit runs on the clock's
// timer goroutine.
func (s *Sync) After(d time.Duration, fn func()) Cancel {
	t := s.clk.AfterFunc(d, func() {
		guard(fn, s.ph)
	})
	return t.Stop
}
