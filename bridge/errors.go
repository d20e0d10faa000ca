package bridge

import (
	"errors"
	"fmt"

	"github.com/glimte/afterlocks/contracts"
)

var (
	// ErrTimeout resolves an exchange whose response did not arrive in time
	ErrTimeout = errors.New("bridge: exchange timed out")
	// ErrCancelled resolves an exchange whose Create context was cancelled
	ErrCancelled = errors.New("bridge: exchange cancelled")
	// ErrExpired resolves an exchange whose subscription was removed by a
	// correlation sweep before any response arrived
	ErrExpired = errors.New("bridge: exchange subscription expired")
	// ErrTooManyPending is returned when the pending-exchange limit is reached
	ErrTooManyPending = errors.New("bridge: too many pending exchanges")
	// ErrBridgeClosed resolves exchanges created after, or pending at, Close
	ErrBridgeClosed = errors.New("bridge: closed")
)

// ExchangeError describes an exchange that failed before or while resolving
type ExchangeError struct {
	Op          string
	RequestType string
	Token       contracts.Token
	Err         error
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("bridge: %s %s (correlation %s): %v", e.Op, e.RequestType, e.Token, e.Err)
}

func (e *ExchangeError) Unwrap() error {
	return e.Err
}
