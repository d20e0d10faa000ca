package messaging

import (
	"context"
	"errors"
	"fmt"

	"github.com/glimte/afterlocks/contracts"
)

// Subscribe registers h for messages of type T and of every type declaring T
// as a supertype. The registration is queued; it applies to messages
// published after this call returns. Subscribing the same handler to the same
// type twice has no further effect.
func Subscribe[T contracts.Message](ctx context.Context, b *Bus, h Handler[T]) error {
	reg, err := newRegistration(h)
	if err != nil {
		return err
	}
	return b.Publish(ctx, &subscribeCmd{messageType: contracts.TypeOf[T](), reg: reg})
}

// Unsubscribe removes h from type T. Unknown handlers are ignored.
// Messages already queued ahead of the request may still reach h.
func Unsubscribe[T contracts.Message](ctx context.Context, b *Bus, h Handler[T]) error {
	if h == nil {
		return contracts.ErrNilHandler
	}
	if !isComparable(h) {
		return fmt.Errorf("%w: %T", contracts.ErrHandlerNotComparable, h)
	}
	return b.Publish(ctx, &unsubscribeCmd{messageType: contracts.TypeOf[T](), handler: h})
}

// SubscribeFunc wraps fn with Func and subscribes it. The returned handler is
// the identity to pass to Unsubscribe.
func SubscribeFunc[T contracts.Message](ctx context.Context, b *Bus, fn func(ctx context.Context, msg T) error) (*FuncHandler[T], error) {
	h := Func(fn)
	if err := Subscribe[T](ctx, b, h); err != nil {
		return nil, err
	}
	return h, nil
}

// SubscribeWithUnsubscribe subscribes h and returns a function that undoes it
func SubscribeWithUnsubscribe[T contracts.Message](ctx context.Context, b *Bus, h Handler[T]) (func(context.Context) error, error) {
	if err := Subscribe[T](ctx, b, h); err != nil {
		return nil, err
	}
	return func(ctx context.Context) error {
		return Unsubscribe[T](ctx, b, h)
	}, nil
}

// SubscribeCorrelated registers h for messages routed to type T that carry
// token. Other tokens never reach h, and messages without a token reach no
// correlated handler.
func SubscribeCorrelated[T contracts.Message](ctx context.Context, b *Bus, token contracts.Token, h Handler[T]) error {
	if token == contracts.NilToken {
		return ErrNilToken
	}
	reg, err := newRegistration(h)
	if err != nil {
		return err
	}
	return b.Publish(ctx, &correlatedSubscribeCmd{messageType: contracts.TypeOf[T](), token: token, reg: reg})
}

// UnsubscribeCorrelated removes h from (T, token). The token entry is
// discarded once its last handler is gone.
func UnsubscribeCorrelated[T contracts.Message](ctx context.Context, b *Bus, token contracts.Token, h Handler[T]) error {
	if h == nil {
		return contracts.ErrNilHandler
	}
	if !isComparable(h) {
		return fmt.Errorf("%w: %T", contracts.ErrHandlerNotComparable, h)
	}
	return b.Publish(ctx, &correlatedUnsubscribeCmd{messageType: contracts.TypeOf[T](), token: token, handler: h})
}

// SubscribeCorrelatedWithUnsubscribe subscribes h to (T, token) and returns a
// function that undoes it
func SubscribeCorrelatedWithUnsubscribe[T contracts.Message](ctx context.Context, b *Bus, token contracts.Token, h Handler[T]) (func(context.Context) error, error) {
	if err := SubscribeCorrelated[T](ctx, b, token, h); err != nil {
		return nil, err
	}
	return func(ctx context.Context) error {
		return UnsubscribeCorrelated[T](ctx, b, token, h)
	}, nil
}

// SubscribeAll registers every capability the provider declares
func SubscribeAll(ctx context.Context, b *Bus, provider CapabilityProvider) error {
	if provider == nil {
		return contracts.ErrNilHandler
	}

	capabilities := provider.Capabilities()
	for _, c := range capabilities {
		if c.err != nil {
			return fmt.Errorf("capability %s: %w", c.messageType, c.err)
		}
	}

	for _, c := range capabilities {
		if err := b.Publish(ctx, &subscribeCmd{messageType: c.messageType, reg: c.reg}); err != nil {
			return fmt.Errorf("subscribe %s: %w", c.messageType, err)
		}
	}
	return nil
}

// UnsubscribeAll removes every capability the provider declares
func UnsubscribeAll(ctx context.Context, b *Bus, provider CapabilityProvider) error {
	if provider == nil {
		return contracts.ErrNilHandler
	}

	var errs []error
	for _, c := range provider.Capabilities() {
		if c.err != nil {
			continue
		}
		if err := b.Publish(ctx, &unsubscribeCmd{messageType: c.messageType, handler: c.reg.handler}); err != nil {
			errs = append(errs, fmt.Errorf("unsubscribe %s: %w", c.messageType, err))
		}
	}
	return errors.Join(errs...)
}

// PublishAll publishes msgs in order and stops at the first intake error
func PublishAll(ctx context.Context, b *Bus, msgs ...contracts.Message) error {
	for i, msg := range msgs {
		if err := b.Publish(ctx, msg); err != nil {
			return fmt.Errorf("publish message %d of %d: %w", i+1, len(msgs), err)
		}
	}
	return nil
}
