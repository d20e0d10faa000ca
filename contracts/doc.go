// Package contracts provides the core message types and interfaces for the afterlocks bus.
//
// This package defines the base contracts for messages that flow through the bus:
//   - Message: Base interface for all messages, carrying a correlation Token
//   - Command: Represents an action to be performed
//   - Event: Represents something that has happened
//   - Reply: Represents a response to a request
//
// Routing follows MessageType values. A message is delivered to handlers of its
// own Go type, then to handlers of each type listed by its Supertypes method
// (see Derived), then to handlers of Message itself. The embedded Base* structs
// declare Command, Event and Reply as supertypes so, for instance, every reply
// also reaches handlers registered for Reply.
package contracts
