package contracts

import (
	"time"

	"github.com/google/uuid"
)

// Token is the correlation value a message creator assigns to link a request
// to its eventual response(s).
type Token = uuid.UUID

// NilToken is the don't-care token carried by pure broadcast messages.
var NilToken = uuid.Nil

// NewToken returns a fresh random correlation token
func NewToken() Token {
	return uuid.New()
}

// Message is the base interface for all messages
type Message interface {
	GetID() string
	GetTimestamp() time.Time
	GetType() string
	GetCorrelationID() Token
}

// Command represents an action to be performed
type Command interface {
	Message
	GetTarget() string
}

// Event represents something that has happened
type Event interface {
	Message
	GetAggregateID() string
	GetSequence() int64
}

// Reply represents a response to a request
type Reply interface {
	Message
	IsSuccess() bool
	GetError() error
}

// Derived is implemented by messages that are also delivered to handlers of
// broader message types. Supertypes returns a finite list ordered from the
// most specific to the most general; every entry must be an interface type the
// message satisfies.
//
// The bus resolves a message type's lineage once and caches it by runtime
// type, so Supertypes must depend on the type alone. A result that varies by
// field value is not honored past the first message of that type.
type Derived interface {
	Supertypes() []MessageType
}
