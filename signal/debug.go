package signal

import (
	"fmt"

	"go.uber.org/zap"
)

// Stats is a point-in-time snapshot of a signal's dispatch counters.
type Stats struct {
	// Fired is the number of dispatches started, one per fire per batch
	// element.
	Fired uint64

	// Delivered is the number of listener callbacks that ran to
	// completion.
	Delivered uint64

	// Panics is the number of deliveries that ended in a recovered
	// panic.
	Panics uint64
}

// Stats returns the signal's dispatch counters.
func (s *Signal[T]) Stats() Stats {
	return Stats{
		Fired:     s.fired.Load(),
		Delivered: s.delivered.Load(),
		Panics:    s.panicked.Load(),
	}
}

// ListenerCount returns the number of currently connected listeners.
func (s *Signal[T]) ListenerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, c := range s.conns {
		if c.connected.Load() {
			n++
		}
	}
	return n
}

// Connections returns the registry's connections in dispatch order
// (newest first), including tombstoned entries not yet swept.
func (s *Signal[T]) Connections() []*Connection[T] {
	return s.snapshot()
}

// IsConnected reports whether some live connection was created for the
// given callback. The comparison is by function identity via the code
// pointer, the closest Go offers to reference equality; note that two
// closures built from the same function literal share a code pointer and
// therefore match each other.
func (s *Signal[T]) IsConnected(fn func(T)) bool {
	ptr := callbackPointer(fn)
	if ptr == 0 {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		if c.connected.Load() && c.fnPtr == ptr {
			return true
		}
	}
	return false
}

// DebugDescribe returns a one-line human-readable summary of the signal.
func (s *Signal[T]) DebugDescribe() string {
	return fmt.Sprintf("Signal<%s>: %d listener(s)", s.name, s.ListenerCount())
}

// PrintDebugInfo emits DebugDescribe plus one line per connection to the
// signal's logger.
func (s *Signal[T]) PrintDebugInfo() {
	s.log.Info(s.DebugDescribe())
	for _, c := range s.snapshot() {
		s.log.Info("connection",
			zap.String("signal", s.name),
			zap.String("id", c.id.String()),
			zap.Bool("connected", c.connected.Load()),
			zap.String("mode", c.mode.String()),
		)
	}
}
