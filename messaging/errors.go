package messaging

import (
	"errors"
	"fmt"

	"github.com/glimte/afterlocks/contracts"
)

var (
	// ErrQueueFull is returned by Publish under the Reject backpressure
	// policy when the ingress queue has no free slot
	ErrQueueFull = errors.New("messaging: queue is full")
	// ErrBusClosed is returned once Close has been called
	ErrBusClosed = errors.New("messaging: bus is closed")
	// ErrBusNotStarted is returned by operations that need a running pump
	ErrBusNotStarted = errors.New("messaging: bus is not started")
	// ErrAlreadyStarted is returned by a second Start call
	ErrAlreadyStarted = errors.New("messaging: bus already started")
	// ErrNilToken is returned for correlated subscriptions without a token
	ErrNilToken = errors.New("messaging: correlation token is nil")
)

// HandlerError describes one failed handler invocation. It is reported to
// the observer and the log, never returned to the publisher.
type HandlerError struct {
	MessageType contracts.MessageType
	Handler     string
	Err         error
	Panic       any
}

func (e *HandlerError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("handler %s panicked on %s: %v", e.Handler, e.MessageType, e.Panic)
	}
	return fmt.Sprintf("handler %s failed on %s: %v", e.Handler, e.MessageType, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}
