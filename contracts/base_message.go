package contracts

import (
	"time"

	"github.com/google/uuid"
)

// BaseMessage provides common fields for all message types
type BaseMessage struct {
	ID            string    `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	Type          string    `json:"type"`
	CorrelationID Token     `json:"correlationId"`
}

// NewBaseMessage creates a new base message with generated ID and current timestamp
func NewBaseMessage(messageType string) BaseMessage {
	return BaseMessage{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Type:      messageType,
	}
}

// NewCorrelatedMessage creates a base message carrying the given correlation token
func NewCorrelatedMessage(messageType string, correlationID Token) BaseMessage {
	m := NewBaseMessage(messageType)
	m.CorrelationID = correlationID
	return m
}

// GetID returns the message ID
func (m BaseMessage) GetID() string {
	return m.ID
}

// GetTimestamp returns the message timestamp
func (m BaseMessage) GetTimestamp() time.Time {
	return m.Timestamp
}

// GetType returns the message type
func (m BaseMessage) GetType() string {
	return m.Type
}

// GetCorrelationID returns the correlation token
func (m BaseMessage) GetCorrelationID() Token {
	return m.CorrelationID
}

// SetCorrelationID sets the correlation token
func (m *BaseMessage) SetCorrelationID(correlationID Token) {
	m.CorrelationID = correlationID
}

// BaseCommand provides common fields for command messages
type BaseCommand struct {
	BaseMessage
	Target string `json:"target,omitempty"`
}

// NewBaseCommand creates a new command correlated by the given token
func NewBaseCommand(messageType string, correlationID Token) BaseCommand {
	return BaseCommand{
		BaseMessage: NewCorrelatedMessage(messageType, correlationID),
	}
}

// GetTarget returns the component the command is addressed to
func (c BaseCommand) GetTarget() string {
	return c.Target
}

// Supertypes routes every command to Command handlers as well
func (c BaseCommand) Supertypes() []MessageType {
	return []MessageType{TypeOf[Command]()}
}

// BaseEvent provides common fields for event messages
type BaseEvent struct {
	BaseMessage
	AggregateID string `json:"aggregateId"`
	Sequence    int64  `json:"sequence"`
}

// GetAggregateID returns the aggregate ID
func (e BaseEvent) GetAggregateID() string {
	return e.AggregateID
}

// GetSequence returns the event sequence number
func (e BaseEvent) GetSequence() int64 {
	return e.Sequence
}

// Supertypes routes every event to Event handlers as well
func (e BaseEvent) Supertypes() []MessageType {
	return []MessageType{TypeOf[Event]()}
}

// BaseReply provides common fields for reply messages
type BaseReply struct {
	BaseMessage
	Success bool `json:"success"`
}

// NewBaseReply creates a successful reply correlated with its request
func NewBaseReply(messageType string, correlationID Token) BaseReply {
	return BaseReply{
		BaseMessage: NewCorrelatedMessage(messageType, correlationID),
		Success:     true,
	}
}

// IsSuccess returns whether the reply indicates success
func (r BaseReply) IsSuccess() bool {
	return r.Success
}

// GetError returns nil for successful replies (can be overridden)
func (r BaseReply) GetError() error {
	return nil
}

// Supertypes routes every reply to Reply handlers as well
func (r BaseReply) Supertypes() []MessageType {
	return []MessageType{TypeOf[Reply]()}
}
