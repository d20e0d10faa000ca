package contracts

import (
	"reflect"
)

// MessageType identifies a Go type messages are routed by.
type MessageType struct {
	t reflect.Type
}

var messageInterface = reflect.TypeFor[Message]()

// TypeOf returns the MessageType for T
func TypeOf[T any]() MessageType {
	return MessageType{t: reflect.TypeFor[T]()}
}

// TypeOfMessage returns the runtime MessageType of msg
func TypeOfMessage(msg Message) MessageType {
	return MessageType{t: reflect.TypeOf(msg)}
}

// IsNil reports whether msg is nil or a nil pointer behind a non-nil interface
func IsNil(msg Message) bool {
	if msg == nil {
		return true
	}
	v := reflect.ValueOf(msg)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface:
		return v.IsNil()
	}
	return false
}

// BaseType is the type every message satisfies. Handlers registered for it
// observe all traffic.
func BaseType() MessageType {
	return MessageType{t: messageInterface}
}

// IsZero reports whether m was never assigned
func (m MessageType) IsZero() bool {
	return m.t == nil
}

// IsRoot reports whether m is the empty interface. The root is satisfied by
// every value and is never used as a delivery key.
func (m MessageType) IsRoot() bool {
	return m.IsInterface() && m.t.NumMethod() == 0
}

// IsInterface reports whether m names an interface type
func (m MessageType) IsInterface() bool {
	return m.t != nil && m.t.Kind() == reflect.Interface
}

// SatisfiedBy reports whether msg can be delivered to handlers of m
func (m MessageType) SatisfiedBy(msg Message) bool {
	if m.t == nil || msg == nil {
		return false
	}
	rt := reflect.TypeOf(msg)
	if m.IsInterface() {
		return rt.Implements(m.t)
	}
	return rt == m.t
}

// String returns the Go type name, e.g. "*seats.AllocateSeats"
func (m MessageType) String() string {
	if m.t == nil {
		return "<nil>"
	}
	return m.t.String()
}

// Lineage returns the ordered delivery list for msg: its own runtime type,
// then every declared supertype, then BaseType. Duplicates and the empty
// interface are removed; the first occurrence of a type keeps its position.
func Lineage(msg Message) []MessageType {
	own := TypeOfMessage(msg)
	lineage := []MessageType{own}
	seen := map[MessageType]struct{}{own: {}}

	if d, ok := msg.(Derived); ok {
		for _, st := range d.Supertypes() {
			if st.IsZero() || st.IsRoot() {
				continue
			}
			if _, dup := seen[st]; dup {
				continue
			}
			seen[st] = struct{}{}
			lineage = append(lineage, st)
		}
	}

	base := BaseType()
	if _, dup := seen[base]; !dup {
		lineage = append(lineage, base)
	}
	return lineage
}
