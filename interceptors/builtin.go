package interceptors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/glimte/afterlocks/contracts"
)

// LoggingInterceptor traces every handler invocation at debug level. Failures
// are reported by the dispatcher itself, so they are only traced here.
type LoggingInterceptor struct {
	logger *slog.Logger
}

// NewLoggingInterceptor creates a new logging interceptor
func NewLoggingInterceptor(logger *slog.Logger) *LoggingInterceptor {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingInterceptor{logger: logger}
}

// Intercept implements Interceptor
func (i *LoggingInterceptor) Intercept(ctx context.Context, inv Invocation, next Next) error {
	if !i.logger.Enabled(ctx, slog.LevelDebug) {
		return next(ctx, inv)
	}

	start := time.Now()
	err := next(ctx, inv)

	attrs := []any{
		"messageId", inv.Message.GetID(),
		"messageType", inv.MessageType.String(),
		"handler", inv.Handler,
		"duration", time.Since(start),
	}
	if token := inv.Message.GetCorrelationID(); token != contracts.NilToken {
		attrs = append(attrs, "correlationId", token.String())
	}
	if err != nil {
		i.logger.DebugContext(ctx, "handler returned error", append(attrs, "error", err)...)
	} else {
		i.logger.DebugContext(ctx, "handler done", attrs...)
	}
	return err
}

// Name implements Interceptor
func (i *LoggingInterceptor) Name() string {
	return "logging"
}

// MetricsCollector receives per-handler measurements
type MetricsCollector interface {
	IncrementMessageCount(messageType string)
	RecordProcessingTime(messageType string, duration time.Duration)
	IncrementErrorCount(messageType string, errorType string)
}

// MetricsInterceptor counts handler invocations and times them, keyed by the
// message's type name
type MetricsInterceptor struct {
	collector MetricsCollector
}

// NewMetricsInterceptor creates a new metrics interceptor
func NewMetricsInterceptor(collector MetricsCollector) *MetricsInterceptor {
	return &MetricsInterceptor{collector: collector}
}

// Intercept implements Interceptor
func (i *MetricsInterceptor) Intercept(ctx context.Context, inv Invocation, next Next) error {
	messageType := inv.Message.GetType()
	i.collector.IncrementMessageCount(messageType)

	start := time.Now()
	err := next(ctx, inv)
	i.collector.RecordProcessingTime(messageType, time.Since(start))

	if err != nil {
		i.collector.IncrementErrorCount(messageType, errorKind(err))
	}
	return err
}

// Name implements Interceptor
func (i *MetricsInterceptor) Name() string {
	return "metrics"
}

// errorKind labels err for metrics: context errors and filtered invocations
// get fixed names, anything else the dynamic type of the innermost error
func errorKind(err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, context.DeadlineExceeded):
		return "deadline"
	case errors.Is(err, ErrFiltered):
		return "filtered"
	case errors.Is(err, ErrInvalidMessage):
		return "invalid"
	}
	for {
		inner := errors.Unwrap(err)
		if inner == nil {
			return fmt.Sprintf("%T", err)
		}
		err = inner
	}
}

// ErrInvalidMessage is wrapped by errors returned from ValidationInterceptor
var ErrInvalidMessage = errors.New("interceptors: invalid message")

// MessageValidator checks a message before its handler sees it
type MessageValidator interface {
	Validate(ctx context.Context, inv Invocation) error
}

// ValidatorFunc is a function adapter for MessageValidator
type ValidatorFunc func(ctx context.Context, inv Invocation) error

// Validate implements MessageValidator
func (f ValidatorFunc) Validate(ctx context.Context, inv Invocation) error {
	return f(ctx, inv)
}

// ValidationInterceptor refuses invocations whose message fails validation
type ValidationInterceptor struct {
	validator MessageValidator
}

// NewValidationInterceptor creates a new validation interceptor
func NewValidationInterceptor(validator MessageValidator) *ValidationInterceptor {
	return &ValidationInterceptor{validator: validator}
}

// Intercept implements Interceptor
func (i *ValidationInterceptor) Intercept(ctx context.Context, inv Invocation, next Next) error {
	if err := i.validator.Validate(ctx, inv); err != nil {
		return fmt.Errorf("%w: %s for %s: %w", ErrInvalidMessage, inv.Message.GetType(), inv.Handler, err)
	}
	return next(ctx, inv)
}

// Name implements Interceptor
func (i *ValidationInterceptor) Name() string {
	return "validation"
}

// ErrorHandler decides what becomes of a handler error: nil swallows it,
// anything else is reported by the dispatcher
type ErrorHandler interface {
	HandleError(ctx context.Context, inv Invocation, err error) error
}

// ErrorHandlerFunc is a function adapter for ErrorHandler
type ErrorHandlerFunc func(ctx context.Context, inv Invocation, err error) error

// HandleError implements ErrorHandler
func (f ErrorHandlerFunc) HandleError(ctx context.Context, inv Invocation, err error) error {
	return f(ctx, inv, err)
}

// ErrorHandlingInterceptor passes handler errors through an ErrorHandler
type ErrorHandlingInterceptor struct {
	errorHandler ErrorHandler
}

// NewErrorHandlingInterceptor creates a new error handling interceptor
func NewErrorHandlingInterceptor(errorHandler ErrorHandler) *ErrorHandlingInterceptor {
	return &ErrorHandlingInterceptor{errorHandler: errorHandler}
}

// Intercept implements Interceptor
func (i *ErrorHandlingInterceptor) Intercept(ctx context.Context, inv Invocation, next Next) error {
	if err := next(ctx, inv); err != nil {
		return i.errorHandler.HandleError(ctx, inv, err)
	}
	return nil
}

// Name implements Interceptor
func (i *ErrorHandlingInterceptor) Name() string {
	return "error-handling"
}

// CircuitBreaker is satisfied by reliability.CircuitBreaker
type CircuitBreaker interface {
	Execute(ctx context.Context, fn func() error) error
}

// CircuitBreakerInterceptor stops invoking handlers while the breaker is open
type CircuitBreakerInterceptor struct {
	circuitBreaker CircuitBreaker
}

// NewCircuitBreakerInterceptor creates a new circuit breaker interceptor
func NewCircuitBreakerInterceptor(circuitBreaker CircuitBreaker) *CircuitBreakerInterceptor {
	return &CircuitBreakerInterceptor{circuitBreaker: circuitBreaker}
}

// Intercept implements Interceptor
func (i *CircuitBreakerInterceptor) Intercept(ctx context.Context, inv Invocation, next Next) error {
	return i.circuitBreaker.Execute(ctx, func() error {
		return next(ctx, inv)
	})
}

// Name implements Interceptor
func (i *CircuitBreakerInterceptor) Name() string {
	return "circuit-breaker"
}
