package signal

import "errors"

// Sentinel errors for the signal package.
var (
	// ErrWaitTimeout is returned by Wait when the deadline elapses before
	// the signal fires. It is a defined outcome, not a failure.
	ErrWaitTimeout = errors.New("signal: wait timed out")

	// ErrNilRegistry is returned when UntilDestroyed is given a nil
	// cleanup registry.
	ErrNilRegistry = errors.New("signal: cleanup registry is nil")

	// ErrListenerPanic is the class matched by errors.Is for panics
	// recovered from a listener or a downstream middleware stage.
	ErrListenerPanic = errors.New("signal: listener panicked")
)

// PanicError wraps a value recovered from a panicking listener. The Catch
// middleware hands it to the failure handler; the dispatch engine logs it.
type PanicError struct {
	// Value is the value passed to panic().
	Value any

	// Stack is the stack trace captured at recovery time.
	Stack []byte
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return "signal: listener panicked"
}

// Is allows errors.Is to match PanicError with ErrListenerPanic.
func (e *PanicError) Is(target error) bool {
	return target == ErrListenerPanic
}

// Unwrap exposes the panic value when it was itself an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
