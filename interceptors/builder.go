package interceptors

import "log/slog"

// ChainBuilder assembles a chain in a fixed, readable order
type ChainBuilder struct {
	chain  *Chain
	logger *slog.Logger
}

// NewChainBuilder creates a new builder
func NewChainBuilder(logger *slog.Logger) *ChainBuilder {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChainBuilder{
		chain:  NewChain(logger),
		logger: logger,
	}
}

// WithLogging adds a logging interceptor
func (b *ChainBuilder) WithLogging() *ChainBuilder {
	b.chain.Add(NewLoggingInterceptor(b.logger))
	return b
}

// WithMetrics adds a metrics interceptor
func (b *ChainBuilder) WithMetrics(collector MetricsCollector) *ChainBuilder {
	b.chain.Add(NewMetricsInterceptor(collector))
	return b
}

// WithValidation adds a validation interceptor
func (b *ChainBuilder) WithValidation(validator MessageValidator) *ChainBuilder {
	b.chain.Add(NewValidationInterceptor(validator))
	return b
}

// WithErrorHandling adds an error handling interceptor
func (b *ChainBuilder) WithErrorHandling(errorHandler ErrorHandler) *ChainBuilder {
	b.chain.Add(NewErrorHandlingInterceptor(errorHandler))
	return b
}

// WithCircuitBreaker adds a circuit breaker interceptor
func (b *ChainBuilder) WithCircuitBreaker(circuitBreaker CircuitBreaker) *ChainBuilder {
	b.chain.Add(NewCircuitBreakerInterceptor(circuitBreaker))
	return b
}

// WithCustom adds any interceptor
func (b *ChainBuilder) WithCustom(interceptor Interceptor) *ChainBuilder {
	b.chain.Add(interceptor)
	return b
}

// Build returns the assembled chain
func (b *ChainBuilder) Build() *Chain {
	return b.chain
}
