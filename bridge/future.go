package bridge

import (
	"context"
	"sync"
)

// Future holds the single result of an exchange. It is resolved exactly once,
// from whichever goroutine gets there first; later attempts are ignored.
// All methods are safe for concurrent use.
type Future[R any] struct {
	once  sync.Once
	done  chan struct{}
	value R
	err   error
}

func newFuture[R any]() *Future[R] {
	return &Future[R]{done: make(chan struct{})}
}

func failedFuture[R any](err error) *Future[R] {
	f := newFuture[R]()
	var zero R
	f.resolve(zero, err)
	return f
}

// resolve reports whether this call resolved the future
func (f *Future[R]) resolve(value R, err error) bool {
	resolved := false
	f.once.Do(func() {
		f.value = value
		f.err = err
		resolved = true
		close(f.done)
	})
	return resolved
}

// Done is closed once the future is resolved
func (f *Future[R]) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the future resolves or ctx is done. Giving up on the
// wait does not cancel the exchange.
func (f *Future[R]) Wait(ctx context.Context) (R, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero R
		return zero, ctx.Err()
	}
}

// Result returns the outcome without blocking. resolved is false while the
// exchange is still pending.
func (f *Future[R]) Result() (value R, resolved bool, err error) {
	select {
	case <-f.done:
		return f.value, true, f.err
	default:
		var zero R
		return zero, false, nil
	}
}
