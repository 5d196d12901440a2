package sched

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
)

// Sentinel errors for loop lifecycle.
var (
	// ErrLoopAlreadyRunning is returned when Start is called on a running loop.
	ErrLoopAlreadyRunning = errors.New("loop is already running")

	// ErrLoopNotRunning is returned when Stop is called on a stopped loop.
	ErrLoopNotRunning = errors.New("loop is not running")
)

// Loop is a single-owner cooperative scheduler. All units run sequentially
// on one goroutine, which makes it safe to share non-thread-safe state
// (such as a Lua state) between listeners. Deferred units run after the
// current unit completes but before any other queued unit.
type Loop struct {
	clk clock.Clock
	ph  PanicHandler

	mu       sync.Mutex
	queue    []func()
	deferred []func()
	wake     chan struct{}

	running atomic.Bool
	stop    chan struct{}
	done    chan struct{}

	executed atomic.Uint64
	panicked atomic.Uint64
}

// LoopOption configures a Loop.
type LoopOption func(*Loop)

// WithLoopClock sets the clock used for delayed tasks.
func WithLoopClock(clk clock.Clock) LoopOption {
	return func(l *Loop) {
		if clk != nil {
			l.clk = clk
		}
	}
}

// WithLoopPanicHandler sets the panic handler for executed units.
func WithLoopPanicHandler(ph PanicHandler) LoopOption {
	return func(l *Loop) {
		if ph != nil {
			l.ph = ph
		}
	}
}

// NewLoop creates a new cooperative loop. Call Start before scheduling.
func NewLoop(opts ...LoopOption) *Loop {
	l := &Loop{
		clk:  clock.New(),
		ph:   defaultPanicHandler,
		wake: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Start starts the owner goroutine.
func (l *Loop) Start() error {
	if !l.running.CompareAndSwap(false, true) {
		return ErrLoopAlreadyRunning
	}
	l.stop = make(chan struct{})
	l.done = make(chan struct{})
	go l.run()
	return nil
}

// Stop drains the queue and stops the owner goroutine. It waits for the
// drain to finish or for ctx to be cancelled, whichever comes first. Units
// scheduled after Stop returns are dropped.
func (l *Loop) Stop(ctx context.Context) error {
	if !l.running.CompareAndSwap(true, false) {
		return ErrLoopNotRunning
	}
	close(l.stop)
	l.signal()

	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsRunning returns true if the loop has been started and not stopped.
func (l *Loop) IsRunning() bool {
	return l.running.Load()
}

// Executed returns the number of units run so far.
func (l *Loop) Executed() uint64 {
	return l.executed.Load()
}

// Spawn queues fn as a new unit. Units run in FIFO order. Units queued
// after Stop's drain completes are never run.
func (l *Loop) Spawn(fn func()) {
	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()
	l.signal()
}

// Defer queues fn to run after the currently executing unit completes,
// ahead of anything scheduled with Spawn.
func (l *Loop) Defer(fn func()) {
	l.mu.Lock()
	l.deferred = append(l.deferred, fn)
	l.mu.Unlock()
	l.signal()
}

// After queues fn as a new unit once d has elapsed.
func (l *Loop) After(d time.Duration, fn func()) Cancel {
	t := l.clk.AfterFunc(d, func() {
		l.Spawn(fn)
	})
	return t.Stop
}

// signal wakes the owner goroutine if it is waiting for work.
func (l *Loop) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// run is the owner goroutine. It pops one unit at a time, runs it under a
// panic boundary, then promotes any deferred units to the front of the
// queue before picking the next one.
func (l *Loop) run() {
	defer close(l.done)

	for {
		fn, ok := l.next()
		if !ok {
			select {
			case <-l.wake:
				continue
			case <-l.stop:
				// Final drain: run whatever is queued, then exit.
				for {
					fn, ok := l.next()
					if !ok {
						return
					}
					l.exec(fn)
				}
			}
		}
		l.exec(fn)
	}
}

// next pops the next unit, promoting deferred units first.
func (l *Loop) next() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.deferred) > 0 {
		l.queue = append(l.deferred, l.queue...)
		l.deferred = nil
	}
	if len(l.queue) == 0 {
		return nil, false
	}
	fn := l.queue[0]
	l.queue = l.queue[1:]
	return fn, true
}

func (l *Loop) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.panicked.Add(1)
			l.ph(r, debug.Stack())
		}
	}()
	l.executed.Add(1)
	fn()
}
