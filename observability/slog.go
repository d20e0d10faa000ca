package observability

import (
	"context"
	"log/slog"
)

// SlogObserver writes bus events to a structured logger.
//
// Failures (handler.failed, handler.panicked, message.rejected, exchange.timeout)
// are logged at Warn level, everything else at Debug so a production logger at
// Info level only surfaces problems.
type SlogObserver struct {
	logger *slog.Logger
}

// NewSlogObserver creates a new SlogObserver with the specified logger.
// A nil logger falls back to slog.Default().
func NewSlogObserver(logger *slog.Logger) *SlogObserver {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogObserver{
		logger: logger,
	}
}

// OnEvent logs the event with its type, source and metadata.
func (o *SlogObserver) OnEvent(ctx context.Context, event Event) {
	level := slog.LevelDebug
	switch event.Type {
	case EventHandlerFailed, EventHandlerPanicked, EventMessageRejected, EventExchangeTimeout, EventExchangeExpired, EventSupertypeSkipped, EventCircuitStateChanged:
		level = slog.LevelWarn
	}

	o.logger.Log(
		ctx,
		level,
		"bus event",
		"type", event.Type,
		"source", event.Source,
		"timestamp", event.Timestamp,
		"data", event.Data,
	)
}
