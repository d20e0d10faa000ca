package messaging

import (
	"context"
	"fmt"

	"github.com/glimte/afterlocks/contracts"
)

// Handler processes messages of type T.
//
// T may be a concrete message type (*Ping) or an interface such as
// contracts.Reply; in the latter case the handler receives every published
// message that declares T among its supertypes.
//
// The handler value is its subscription identity and is compared with ==.
// Pointer handlers are distinct per allocation; value handlers with equal
// fields are one handler, so subscribing a second equal value is a no-op and
// unsubscribing either removes both. Use pointers (or Func) for handlers that
// must be told apart.
type Handler[T contracts.Message] interface {
	Handle(ctx context.Context, msg T) error
}

// Expirer is implemented by correlated handlers that need to hear about a
// sweep removing them. Expire runs on the pump after the subscription is gone,
// once per removed registration; it must not block.
type Expirer interface {
	Expire(ctx context.Context)
}

// FuncHandler adapts a function to Handler[T]. Each FuncHandler returned by
// Func is a distinct handler identity.
type FuncHandler[T contracts.Message] struct {
	fn func(ctx context.Context, msg T) error
}

// Func wraps fn into a handler whose identity is the returned pointer, so the
// same value can later be passed to Unsubscribe
func Func[T contracts.Message](fn func(ctx context.Context, msg T) error) *FuncHandler[T] {
	return &FuncHandler[T]{fn: fn}
}

// Handle implements Handler
func (f *FuncHandler[T]) Handle(ctx context.Context, msg T) error {
	return f.fn(ctx, msg)
}

// registration is the type-erased form of a Handler[T] held by the dispatcher
// and by correlation tables. handler is the identity key.
type registration struct {
	handler any
	name    string
	invoke  func(ctx context.Context, msg contracts.Message) error
	builtin bool
}

func newRegistration[T contracts.Message](h Handler[T]) (registration, error) {
	if h == nil {
		return registration{}, contracts.ErrNilHandler
	}
	if !isComparable(h) {
		return registration{}, fmt.Errorf("%w: %T", contracts.ErrHandlerNotComparable, h)
	}
	return registration{
		handler: h,
		name:    fmt.Sprintf("%T", h),
		invoke: func(ctx context.Context, msg contracts.Message) error {
			return h.Handle(ctx, msg.(T))
		},
	}, nil
}

// isComparable reports whether v can be used as a map key without panicking
func isComparable(v any) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	_ = v == v
	return true
}

// Capability binds one handler to the message type it processes. A value that
// handles several message types lists one Capability per type.
type Capability struct {
	messageType contracts.MessageType
	reg         registration
	err         error
}

// Handles declares that h processes messages of type T
func Handles[T contracts.Message](h Handler[T]) Capability {
	reg, err := newRegistration(h)
	return Capability{messageType: contracts.TypeOf[T](), reg: reg, err: err}
}

// HandlesFunc declares that owner processes messages of type T with fn,
// typically one of owner's methods. owner is the identity used for
// duplicate detection and by UnsubscribeAll, so it must be comparable
// (usually a pointer).
func HandlesFunc[T contracts.Message](owner any, fn func(ctx context.Context, msg T) error) Capability {
	c := Capability{messageType: contracts.TypeOf[T]()}
	switch {
	case owner == nil || fn == nil:
		c.err = contracts.ErrNilHandler
	case !isComparable(owner):
		c.err = fmt.Errorf("%w: %T", contracts.ErrHandlerNotComparable, owner)
	default:
		c.reg = registration{
			handler: owner,
			name:    fmt.Sprintf("%T", owner),
			invoke: func(ctx context.Context, msg contracts.Message) error {
				return fn(ctx, msg.(T))
			},
		}
	}
	return c
}

// MessageType returns the type the capability subscribes to
func (c Capability) MessageType() contracts.MessageType {
	return c.messageType
}

// CapabilityProvider is implemented by values that handle several message
// types. The returned list is explicit and checked at compile time through
// Handles[T].
type CapabilityProvider interface {
	Capabilities() []Capability
}
