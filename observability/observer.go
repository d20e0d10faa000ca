package observability

import (
	"context"
	"time"
)

// Observer receives events from the bus infrastructure.
//
// Implementations can log events, collect metrics or capture failures. Most
// events are emitted from the pump goroutine, so OnEvent must not block and
// must not publish back into the bus synchronously.
type Observer interface {
	OnEvent(ctx context.Context, event Event)
}

// Event represents an observable occurrence inside the bus.
type Event struct {
	// Type categorizes the event (handler.failed, exchange.timeout, etc.)
	Type EventType

	// Timestamp records when the event occurred
	Timestamp time.Time

	// Source identifies the component that emitted the event
	Source string

	// Data carries event metadata (message type, correlation id, error, ...)
	Data map[string]any
}

// NewEvent creates an event stamped with the current time
func NewEvent(eventType EventType, source string, data map[string]any) Event {
	return Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Source:    source,
		Data:      data,
	}
}

// EventType categorizes observable events.
type EventType string

const (
	// Intake
	EventMessagePublished EventType = "message.published"
	EventMessageRejected  EventType = "message.rejected"
	EventMessageDropped   EventType = "message.dropped"

	// Dispatch
	EventHandlerFailed    EventType = "handler.failed"
	EventHandlerPanicked  EventType = "handler.panicked"
	EventSupertypeSkipped EventType = "supertype.skipped"

	// Correlation
	EventCorrelationTableCreated EventType = "correlation.table.created"
	EventCorrelationExpired      EventType = "correlation.expired"

	// Exchanges
	EventExchangeResolved  EventType = "exchange.resolved"
	EventExchangeTimeout   EventType = "exchange.timeout"
	EventExchangeCancelled EventType = "exchange.cancelled"
	EventExchangeExpired   EventType = "exchange.expired"

	// Pump lifecycle
	EventPumpStarted EventType = "pump.started"
	EventPumpStopped EventType = "pump.stopped"

	// Reliability
	EventCircuitStateChanged EventType = "circuit.state_changed"
)
