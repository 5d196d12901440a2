package signal

import (
	"runtime/debug"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// Middleware is one interception stage. It receives the payload and a next
// continuation; calling next delivers the event onward, not calling it
// drops the event for that listener this cycle. A stage may call next with
// a substituted payload, call it later, or not at all.
type Middleware[T any] func(next func(T), v T)

// pipeline is an ordered stage sequence composed into one next chain at
// fire time. gen ties it to the handle issued when it was installed.
type pipeline[T any] struct {
	stages []Middleware[T]
	gen    uint64
}

// wrap composes the stages right-to-left around terminal so that stage 0
// runs first.
func (p *pipeline[T]) wrap(terminal func(T)) func(T) {
	next := terminal
	for i := len(p.stages) - 1; i >= 0; i-- {
		stage, downstream := p.stages[i], next
		next = func(v T) {
			stage(downstream, v)
		}
	}
	return next
}

// MiddlewareHandle detaches a middleware registration. A handle whose
// registration has been superseded by a later Use call detaches as a
// silent no-op.
type MiddlewareHandle[T any] struct {
	sig *Signal[T]
	gen uint64
}

// Disconnect clears the signal's active middleware if it is still the one
// this handle was issued for. Safe to call any number of times.
func (h *MiddlewareHandle[T]) Disconnect() {
	s := h.sig
	s.mu.Lock()
	if s.pipeline != nil && s.pipeline.gen == h.gen {
		s.pipeline = nil
	}
	s.mu.Unlock()
}

// Use installs stages as the signal's middleware pipeline, composed
// left-to-right into one next chain. Exactly one pipeline is active at a
// time: a later Use call replaces the earlier one wholesale, so stacking
// stages means passing them to a single Use call, not calling Use twice.
// Use with no stages clears the pipeline.
//
// Stage state (throttle gates, pending debounce timers) belongs to the
// registration and is dropped when it is superseded or detached.
func (s *Signal[T]) Use(stages ...Middleware[T]) *MiddlewareHandle[T] {
	s.mu.Lock()
	s.gen++
	gen := s.gen
	if len(stages) == 0 {
		s.pipeline = nil
	} else {
		s.pipeline = &pipeline[T]{stages: stages, gen: gen}
	}
	s.mu.Unlock()

	return &MiddlewareHandle[T]{sig: s, gen: gen}
}

// UseFilter installs a pipeline that delivers only payloads for which pred
// is true.
func (s *Signal[T]) UseFilter(pred func(T) bool) *MiddlewareHandle[T] {
	return s.Use(Filter[T](pred))
}

// UseMap installs a pipeline that substitutes mapper's result for the
// original payload.
func (s *Signal[T]) UseMap(mapper func(T) T) *MiddlewareHandle[T] {
	return s.Use(Map[T](mapper))
}

// UseThrottle installs a pipeline that lets a payload through only if at
// least interval has elapsed since the last one that was let through.
// Suppressed payloads are dropped, not queued.
func (s *Signal[T]) UseThrottle(interval time.Duration) *MiddlewareHandle[T] {
	return s.Use(ThrottleWith[T](s.clk, interval))
}

// UseDebounce installs a pipeline that delivers only the last payload of a
// burst, window after the burst goes quiet. The late delivery is handed to
// the signal's scheduler, so it runs under the same concurrency contract as
// an ordinary fire.
func (s *Signal[T]) UseDebounce(window time.Duration) *MiddlewareHandle[T] {
	return s.Use(s.debounceStage(window))
}

// UseDelay installs a pipeline that delivers every payload, but only after
// d has elapsed, preserving the payload captured at fire time. Like
// UseDebounce, the late delivery goes through the signal's scheduler.
func (s *Signal[T]) UseDelay(d time.Duration) *MiddlewareHandle[T] {
	return s.Use(s.delayStage(d))
}

// debounceStage is DebounceWith with the continuation rescheduled through
// the signal's scheduler once the timer expires, instead of running on the
// clock's timer goroutine.
func (s *Signal[T]) debounceStage(window time.Duration) Middleware[T] {
	var mu sync.Mutex
	var pending *clock.Timer

	return func(next func(T), v T) {
		mu.Lock()
		defer mu.Unlock()
		if pending != nil {
			pending.Stop()
		}
		pending = s.clk.AfterFunc(window, func() {
			s.sch.Spawn(func() { next(v) })
		})
	}
}

// delayStage is DelayWith with the same scheduler hop as debounceStage.
func (s *Signal[T]) delayStage(d time.Duration) Middleware[T] {
	return func(next func(T), v T) {
		s.clk.AfterFunc(d, func() {
			s.sch.Spawn(func() { next(v) })
		})
	}
}

// UseLog installs a pipeline that logs every payload with the given prefix
// through the signal's logger, then delivers it unchanged.
func (s *Signal[T]) UseLog(prefix string) *MiddlewareHandle[T] {
	return s.Use(Log[T](s.log, prefix))
}

// UseCatch installs a pipeline that runs deliveries inside a failure
// boundary. If the listener (or a downstream stage) panics, handler
// receives the payload and the failure instead of the panic propagating.
func (s *Signal[T]) UseCatch(handler func(v T, err error)) *MiddlewareHandle[T] {
	return s.Use(Catch[T](handler))
}

// UseCancel installs a pipeline that drops payloads for which pred is true;
// the inverse of UseFilter.
func (s *Signal[T]) UseCancel(pred func(T) bool) *MiddlewareHandle[T] {
	return s.Use(Cancel[T](pred))
}

// Filter builds a stage that calls next only when pred(v) is true.
func Filter[T any](pred func(T) bool) Middleware[T] {
	return func(next func(T), v T) {
		if pred(v) {
			next(v)
		}
	}
}

// Cancel builds a stage that calls next only when pred(v) is false.
func Cancel[T any](pred func(T) bool) Middleware[T] {
	return func(next func(T), v T) {
		if !pred(v) {
			next(v)
		}
	}
}

// Map builds a stage that calls next with mapper(v).
func Map[T any](mapper func(T) T) Middleware[T] {
	return func(next func(T), v T) {
		next(mapper(v))
	}
}

// Throttle builds a throttling stage on the wall clock. See ThrottleWith.
func Throttle[T any](interval time.Duration) Middleware[T] {
	return ThrottleWith[T](clock.New(), interval)
}

// ThrottleWith builds a stage that calls next immediately only if at least
// interval has elapsed on clk since the last call that was let through;
// otherwise the payload is dropped. The gate is shared by every delivery
// flowing through the registration, listeners included.
func ThrottleWith[T any](clk clock.Clock, interval time.Duration) Middleware[T] {
	var mu sync.Mutex
	var last time.Time

	return func(next func(T), v T) {
		mu.Lock()
		now := clk.Now()
		if !last.IsZero() && now.Sub(last) < interval {
			mu.Unlock()
			return
		}
		last = now
		mu.Unlock()
		next(v)
	}
}

// Debounce builds a debouncing stage on the wall clock. See DebounceWith.
func Debounce[T any](window time.Duration) Middleware[T] {
	return DebounceWith[T](clock.New(), window)
}

// DebounceWith builds a stage that, on each payload, cancels any pending
// delivery and schedules a new one window in the future with the latest
// payload. Only the last payload of a burst survives. The continuation
// runs on clk's timer goroutine; attach the stage through UseDebounce
// instead when deliveries must stay on the signal's scheduler.
func DebounceWith[T any](clk clock.Clock, window time.Duration) Middleware[T] {
	var mu sync.Mutex
	var pending *clock.Timer

	return func(next func(T), v T) {
		mu.Lock()
		defer mu.Unlock()
		if pending != nil {
			pending.Stop()
		}
		pending = clk.AfterFunc(window, func() {
			next(v)
		})
	}
}

// Delay builds a delaying stage on the wall clock. See DelayWith.
func Delay[T any](d time.Duration) Middleware[T] {
	return DelayWith[T](clock.New(), d)
}

// DelayWith builds a stage that always calls next, but only after d has
// elapsed, with the payload captured at fire time. The continuation runs
// on clk's timer goroutine; attach the stage through UseDelay instead when
// deliveries must stay on the signal's scheduler.
func DelayWith[T any](clk clock.Clock, d time.Duration) Middleware[T] {
	return func(next func(T), v T) {
		clk.AfterFunc(d, func() {
			next(v)
		})
	}
}

// Log builds a stage that logs every payload through logger, then calls
// next unchanged.
func Log[T any](logger *zap.Logger, prefix string) Middleware[T] {
	return func(next func(T), v T) {
		logger.Info("signal event",
			zap.String("prefix", prefix),
			zap.Any("payload", v),
		)
		next(v)
	}
}

// Catch builds a stage that invokes next inside a failure boundary. A
// panic from next is recovered and handed to handler as a PanicError (or
// the panic value itself when it already is an error) instead of
// propagating to the dispatch engine.
func Catch[T any](handler func(v T, err error)) Middleware[T] {
	return func(next func(T), v T) {
		defer func() {
			if r := recover(); r != nil {
				handler(v, &PanicError{Value: r, Stack: debug.Stack()})
			}
		}()
		next(v)
	}
}
