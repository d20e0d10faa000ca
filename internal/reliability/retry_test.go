package reliability

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var errBusy = errors.New("busy")

func TestExponentialBackoff(t *testing.T) {
	t.Run("creates with correct defaults", func(t *testing.T) {
		eb := NewExponentialBackoff(100*time.Millisecond, 5*time.Second, 2.0, 3)

		assert.Equal(t, 100*time.Millisecond, eb.InitialInterval)
		assert.Equal(t, 5*time.Second, eb.MaxInterval)
		assert.Equal(t, 2.0, eb.Multiplier)
		assert.Equal(t, 3, eb.MaxRetries())
		assert.True(t, eb.Jitter)
	})

	t.Run("ShouldRetry respects max retries", func(t *testing.T) {
		eb := NewExponentialBackoff(100*time.Millisecond, 1*time.Second, 2.0, 3)

		for i := 0; i < 3; i++ {
			shouldRetry, delay := eb.ShouldRetry(i, errors.New("test"))
			assert.True(t, shouldRetry)
			assert.Greater(t, delay, time.Duration(0))
		}

		shouldRetry, delay := eb.ShouldRetry(3, errors.New("test"))
		assert.False(t, shouldRetry)
		assert.Equal(t, time.Duration(0), delay)
	})

	t.Run("NextDelay grows and caps", func(t *testing.T) {
		eb := NewExponentialBackoff(100*time.Millisecond, time.Second, 2.0, 10)
		eb.Jitter = false

		assert.Equal(t, 100*time.Millisecond, eb.NextDelay(0))
		assert.Equal(t, 400*time.Millisecond, eb.NextDelay(2))
		assert.Equal(t, time.Second, eb.NextDelay(8))
	})

	t.Run("jitter stays within fifteen percent", func(t *testing.T) {
		eb := NewExponentialBackoff(100*time.Millisecond, time.Second, 2.0, 10)

		for i := 0; i < 50; i++ {
			delay := eb.NextDelay(0)
			assert.GreaterOrEqual(t, delay, 85*time.Millisecond)
			assert.LessOrEqual(t, delay, 115*time.Millisecond)
		}
	})
}

func TestFixedDelay(t *testing.T) {
	fd := NewFixedDelay(5*time.Millisecond, 2)

	ok, delay := fd.ShouldRetry(1, errBusy)
	assert.True(t, ok)
	assert.Equal(t, 5*time.Millisecond, delay)

	ok, _ = fd.ShouldRetry(2, errBusy)
	assert.False(t, ok)
	assert.Equal(t, 5*time.Millisecond, fd.NextDelay(7))
}

func TestRetryWhen(t *testing.T) {
	t.Run("RetryOn only retries matching errors", func(t *testing.T) {
		policy := RetryOn(NewFixedDelay(time.Millisecond, 5), errBusy)

		ok, _ := policy.ShouldRetry(0, fmt.Errorf("publish: %w", errBusy))
		assert.True(t, ok)

		ok, _ = policy.ShouldRetry(0, errors.New("closed"))
		assert.False(t, ok)
		assert.Equal(t, 5, policy.MaxRetries())
	})

	t.Run("underlying limit still applies", func(t *testing.T) {
		policy := RetryOn(NewFixedDelay(time.Millisecond, 1), errBusy)
		attempts := 0

		err := Retry(context.Background(), policy, func() error {
			attempts++
			return errBusy
		})

		assert.ErrorIs(t, err, errBusy)
		assert.Equal(t, 2, attempts)
	})
}

func TestRetry(t *testing.T) {
	t.Run("succeeds on first attempt", func(t *testing.T) {
		attempts := 0

		err := Retry(context.Background(), NewFixedDelay(100*time.Millisecond, 3), func() error {
			attempts++
			return nil
		})

		assert.NoError(t, err)
		assert.Equal(t, 1, attempts)
	})

	t.Run("retries on failure", func(t *testing.T) {
		attempts := 0

		err := Retry(context.Background(), NewFixedDelay(time.Millisecond, 3), func() error {
			attempts++
			if attempts < 3 {
				return errors.New("temporary error")
			}
			return nil
		})

		assert.NoError(t, err)
		assert.Equal(t, 3, attempts)
	})

	t.Run("returns last error after max retries", func(t *testing.T) {
		attempts := 0

		err := Retry(context.Background(), NewFixedDelay(time.Millisecond, 2), func() error {
			attempts++
			return errors.New("persistent error")
		})

		assert.EqualError(t, err, "persistent error")
		assert.Equal(t, 3, attempts) // Initial + 2 retries
	})

	t.Run("zero delay retries immediately", func(t *testing.T) {
		attempts := 0

		err := Retry(context.Background(), NewFixedDelay(0, 4), func() error {
			attempts++
			return errBusy
		})

		assert.ErrorIs(t, err, errBusy)
		assert.Equal(t, 5, attempts)
	})

	t.Run("respects context cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		attempts := int32(0)

		go func() {
			time.Sleep(50 * time.Millisecond)
			cancel()
		}()

		err := Retry(ctx, NewFixedDelay(time.Second, 5), func() error {
			atomic.AddInt32(&attempts, 1)
			return errors.New("error")
		})

		assert.Equal(t, context.Canceled, err)
		assert.LessOrEqual(t, atomic.LoadInt32(&attempts), int32(2))
	})

	t.Run("stops on non-retryable error", func(t *testing.T) {
		attempts := 0

		err := Retry(context.Background(), NewExponentialBackoff(time.Millisecond, 10*time.Millisecond, 2.0, 5), func() error {
			attempts++
			if attempts == 2 {
				return RetryableError{Err: errors.New("fatal error"), Retryable: false}
			}
			return errors.New("retryable error")
		})

		assert.EqualError(t, err, "fatal error")
		assert.Equal(t, 2, attempts)
	})

	t.Run("ErrNonRetryable stops immediately", func(t *testing.T) {
		attempts := 0

		err := Retry(context.Background(), NewFixedDelay(time.Millisecond, 5), func() error {
			attempts++
			return fmt.Errorf("bad input: %w", ErrNonRetryable)
		})

		assert.ErrorIs(t, err, ErrNonRetryable)
		assert.Equal(t, 1, attempts)
	})
}

func TestRetryableError(t *testing.T) {
	baseErr := errors.New("base error")
	err := RetryableError{Err: baseErr, Retryable: true}

	assert.Equal(t, "base error", err.Error())
	assert.True(t, err.IsRetryable())
	assert.Equal(t, baseErr, err.Unwrap())
	assert.False(t, isRetryableError(RetryableError{Err: baseErr}))
	assert.False(t, isRetryableError(nil))
	assert.True(t, isRetryableError(errors.New("unknown error")))
}
