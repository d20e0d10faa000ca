package interceptors

import (
	"context"
	"log/slog"

	"github.com/glimte/afterlocks/internal/reliability"
)

// RetryInterceptor re-invokes a failing handler according to a retry policy.
//
// Retries happen in place on the pump, so every delay holds back the rest of
// the queue. Keep policies short (a few attempts, millisecond delays).
type RetryInterceptor struct {
	retryPolicy reliability.RetryPolicy
	logger      *slog.Logger
}

// NewRetryInterceptor creates a new retry interceptor
func NewRetryInterceptor(retryPolicy reliability.RetryPolicy) *RetryInterceptor {
	return &RetryInterceptor{
		retryPolicy: retryPolicy,
		logger:      slog.Default(),
	}
}

// WithLogger sets the logger for the retry interceptor
func (r *RetryInterceptor) WithLogger(logger *slog.Logger) *RetryInterceptor {
	r.logger = logger
	return r
}

// Intercept implements Interceptor
func (r *RetryInterceptor) Intercept(ctx context.Context, inv Invocation, next Next) error {
	attempts := 0
	err := reliability.Retry(ctx, r.retryPolicy, func() error {
		attempts++
		return next(ctx, inv)
	})
	if attempts > 1 {
		level := slog.LevelDebug
		if err != nil {
			level = slog.LevelWarn
		}
		r.logger.Log(ctx, level, "handler retried",
			"messageType", inv.MessageType.String(),
			"handler", inv.Handler,
			"attempts", attempts,
			"error", err,
		)
	}
	return err
}

// Name implements Interceptor
func (r *RetryInterceptor) Name() string {
	return "retry"
}
