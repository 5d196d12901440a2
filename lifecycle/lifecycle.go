// Package lifecycle provides the object-lifecycle boundary used by the
// signal package: cleanup tokens that group disconnect callbacks for joint
// invocation, and lifetimes that notify watchers when an external resource
// is destroyed.
package lifecycle

import (
	"sync"

	"go.uber.org/multierr"
)

// CleanupRegistry is the capability a cleanup token must provide. A
// connection bound with UntilDestroyed appends its disconnect callback here;
// invoking the callbacks is the token owner's responsibility.
type CleanupRegistry interface {
	// Append registers a cleanup callback.
	Append(fn func())
}

// Lifetime is implemented by resources that can report their own
// destruction.
type Lifetime interface {
	// OnDestroyed registers fn to run when the resource is destroyed.
	// If the resource is already destroyed, fn runs immediately. The
	// returned cancel removes the registration; it reports whether the
	// registration was still pending.
	OnDestroyed(fn func()) (cancel func() bool)

	// Alive returns true until the resource is destroyed.
	Alive() bool
}

// Token is a concrete cleanup token. It collects callbacks and runs them
// all when the owner decides the guarded resource is gone. Run executes in
// reverse registration order, like deferred calls, and is idempotent.
type Token struct {
	mu   sync.Mutex
	fns  []func() error
	done bool
}

// NewToken creates an empty cleanup token.
func NewToken() *Token {
	return &Token{}
}

// Append registers a cleanup callback. Implements CleanupRegistry.
// Appending to an already-run token runs fn immediately.
func (t *Token) Append(fn func()) {
	t.AppendError(func() error {
		fn()
		return nil
	})
}

// AppendError registers a cleanup callback that may fail. Errors are
// collected by Run.
func (t *Token) AppendError(fn func() error) {
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		_ = fn()
		return
	}
	t.fns = append(t.fns, fn)
	t.mu.Unlock()
}

// Len returns the number of pending cleanup callbacks.
func (t *Token) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.fns)
}

// Run invokes all registered callbacks in reverse registration order and
// returns their combined errors. Subsequent calls are no-ops.
func (t *Token) Run() error {
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		return nil
	}
	t.done = true
	fns := t.fns
	t.fns = nil
	t.mu.Unlock()

	var err error
	for i := len(fns) - 1; i >= 0; i-- {
		err = multierr.Append(err, fns[i]())
	}
	return err
}

// Object is a concrete Lifetime. Destroy is idempotent and notifies every
// registered watcher exactly once.
type Object struct {
	mu        sync.Mutex
	destroyed bool
	nextID    uint64
	watchers  map[uint64]func()
}

// NewObject creates a live object.
func NewObject() *Object {
	return &Object{
		watchers: make(map[uint64]func()),
	}
}

// Alive returns true until Destroy is called.
func (o *Object) Alive() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return !o.destroyed
}

// OnDestroyed registers fn to run when the object is destroyed. If the
// object is already destroyed, fn runs immediately on the caller's
// goroutine.
func (o *Object) OnDestroyed(fn func()) (cancel func() bool) {
	o.mu.Lock()
	if o.destroyed {
		o.mu.Unlock()
		fn()
		return func() bool { return false }
	}
	id := o.nextID
	o.nextID++
	o.watchers[id] = fn
	o.mu.Unlock()

	return func() bool {
		o.mu.Lock()
		defer o.mu.Unlock()
		if _, ok := o.watchers[id]; !ok {
			return false
		}
		delete(o.watchers, id)
		return true
	}
}

// Destroy marks the object destroyed and notifies watchers. Only the first
// call has any effect.
func (o *Object) Destroy() {
	o.mu.Lock()
	if o.destroyed {
		o.mu.Unlock()
		return
	}
	o.destroyed = true
	watchers := o.watchers
	o.watchers = nil
	o.mu.Unlock()

	for _, fn := range watchers {
		fn()
	}
}
