package signal

import (
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/dshills/sigkit/lifecycle"
)

// DeliveryMode controls the concurrency contract a connection's callback
// runs under at delivery time, independent of which firing mode the
// producer used.
type DeliveryMode int

const (
	// DeliverDefault runs the callback as the firing mode scheduled it:
	// a fresh independent unit per delivery.
	DeliverDefault DeliveryMode = iota

	// DeliverForked always forces a fresh independent unit.
	DeliverForked

	// DeliverDeferred postpones the callback until the current unit of
	// work yields or completes.
	DeliverDeferred

	// DeliverCooperative runs the callback as an independent unit that
	// yields before executing, interleaving with other cooperative work.
	DeliverCooperative
)

// String returns a human-readable delivery mode name.
func (m DeliveryMode) String() string {
	switch m {
	case DeliverDefault:
		return "default"
	case DeliverForked:
		return "forked"
	case DeliverDeferred:
		return "deferred"
	case DeliverCooperative:
		return "cooperative"
	default:
		return "unknown"
	}
}

// Connection represents one listener's subscription to a Signal. It is
// created by the connect family and remains valid until disconnected.
// Disconnection is idempotent and permanent.
type Connection[T any] struct {
	id   uuid.UUID
	sig  *Signal[T] // non-owning; used only to reach the registry
	mode DeliveryMode

	// fn is the delivery wrapper actually invoked by dispatch; fnPtr
	// identifies the user's original callback for IsConnected.
	fn    func(T)
	fnPtr uintptr

	connected atomic.Bool
}

// ID returns the connection's stable identifier.
func (c *Connection[T]) ID() string {
	return c.id.String()
}

// Connected returns true until the connection is disconnected.
func (c *Connection[T]) Connected() bool {
	return c.connected.Load()
}

// Mode returns the connection's delivery mode.
func (c *Connection[T]) Mode() DeliveryMode {
	return c.mode
}

// Disconnect permanently removes the connection from its signal. Calling
// it more than once is a no-op. A disconnected listener never receives a
// subsequent fire; a delivery already handed to the scheduler is not
// retracted.
func (c *Connection[T]) Disconnect() {
	c.claim()
}

// claim atomically takes the connection down and reports whether this
// caller won. Once and Until gate their single delivery on the claim, so
// two in-flight units racing over the same connection can never both
// deliver.
func (c *Connection[T]) claim() bool {
	if !c.connected.CompareAndSwap(true, false) {
		return false
	}
	c.sig.noteDisconnect()
	return true
}

// DisconnectOnDestroy disconnects the connection when the given lifetime
// is destroyed. If the lifetime is already dead, the connection is
// disconnected immediately. Returns the connection for chaining.
func (c *Connection[T]) DisconnectOnDestroy(l lifecycle.Lifetime) *Connection[T] {
	if l == nil {
		return c
	}
	l.OnDestroyed(c.Disconnect)
	return c
}

// UntilDestroyed appends the connection's disconnect to the given cleanup
// registry so the registry's owner can sever a whole group of connections
// at once. The registry's callbacks are invoked by its owner, never by the
// signal. A nil registry is an invalid argument and fails immediately.
func (c *Connection[T]) UntilDestroyed(reg lifecycle.CleanupRegistry) error {
	if reg == nil {
		return ErrNilRegistry
	}
	reg.Append(c.Disconnect)
	return nil
}
