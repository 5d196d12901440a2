package signal

import (
	"runtime"
	"runtime/debug"

	"go.uber.org/zap"
)

// Fire schedules each live listener's callback as a new independent unit
// of work and returns without blocking. Listeners do not block each other
// or the firer, and once scheduled they may complete in any order.
func (s *Signal[T]) Fire(v T) {
	s.dispatch(v, false)
}

// FireDeferred schedules the entire dispatch to happen after the current
// unit of work yields or completes. Once it runs, per-listener semantics
// match Fire.
func (s *Signal[T]) FireDeferred(v T) {
	s.sch.Defer(func() {
		s.dispatch(v, false)
	})
}

// FireAsync schedules the dispatch itself as a new independent unit, so
// even the registry traversal does not run on the caller.
func (s *Signal[T]) FireAsync(v T) {
	s.sch.Spawn(func() {
		s.dispatch(v, false)
	})
}

// FireBatched fires the signal once per payload, in order, as one
// independent unit. Payload i is fully dispatched before payload i+1
// begins.
func (s *Signal[T]) FireBatched(vs ...T) {
	if len(vs) == 0 {
		return
	}
	batch := make([]T, len(vs))
	copy(batch, vs)
	s.sch.Spawn(func() {
		for _, v := range batch {
			s.dispatch(v, false)
		}
	})
}

// FireWithMiddleware behaves like Fire but routes each delivery through
// the active middleware pipeline, with the listener's callback as the
// terminal next. Without an active pipeline it is identical to Fire.
// The pipeline is read at dispatch time, not snapshotted at the call.
func (s *Signal[T]) FireWithMiddleware(v T) {
	s.dispatch(v, true)
}

// dispatch walks a snapshot of the registry taken at fire start. For each
// connection still live when the walk reaches it, the delivery is handed
// to the scheduler under the connection's delivery mode.
func (s *Signal[T]) dispatch(v T, useMiddleware bool) {
	s.fired.Add(1)

	var p *pipeline[T]
	if useMiddleware {
		s.mu.Lock()
		p = s.pipeline
		s.mu.Unlock()
	}

	for _, c := range s.snapshot() {
		c := c
		if !c.connected.Load() {
			continue
		}

		fn := c.fn
		if p != nil {
			// A stage may hold the payload and resume the chain later
			// (delay, debounce); by then the listener may be gone. The
			// terminal re-check keeps a disconnected listener from
			// receiving such a late delivery.
			terminal := fn
			fn = p.wrap(func(v T) {
				if !c.connected.Load() {
					return
				}
				terminal(v)
			})
		}
		s.schedule(c, fn, v)
	}
}

// schedule hands one delivery to the scheduler per the connection's mode.
func (s *Signal[T]) schedule(c *Connection[T], fn func(T), v T) {
	run := func() {
		s.invoke(c, fn, v)
	}

	switch c.mode {
	case DeliverDeferred:
		s.sch.Defer(run)
	case DeliverCooperative:
		s.sch.Spawn(func() {
			runtime.Gosched()
			run()
		})
	default:
		s.sch.Spawn(run)
	}
}

// invoke runs one delivery under a panic boundary. A panicking listener is
// logged and counted but never prevents sibling deliveries; only the Catch
// middleware intercepts failures before this boundary.
func (s *Signal[T]) invoke(c *Connection[T], fn func(T), v T) {
	defer func() {
		if r := recover(); r != nil {
			s.panicked.Add(1)
			s.log.Error("listener panic",
				zap.String("signal", s.name),
				zap.String("connection", c.id.String()),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
		}
	}()
	fn(v)
	s.delivered.Add(1)
}
