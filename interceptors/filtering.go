package interceptors

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/glimte/afterlocks/contracts"
)

// ErrFiltered is returned for invocations a FilteringInterceptor refuses
// under SkipWithError
var ErrFiltered = errors.New("interceptors: invocation filtered")

// Filter selects invocations
type Filter interface {
	Matches(ctx context.Context, inv Invocation) (bool, error)
}

// FilterFunc is a function adapter for Filter
type FilterFunc func(ctx context.Context, inv Invocation) (bool, error)

// Matches implements Filter
func (f FilterFunc) Matches(ctx context.Context, inv Invocation) (bool, error) {
	return f(ctx, inv)
}

// AllOf matches when every filter matches. It stops at the first miss.
func AllOf(filters ...Filter) Filter {
	return FilterFunc(func(ctx context.Context, inv Invocation) (bool, error) {
		for _, filter := range filters {
			ok, err := filter.Matches(ctx, inv)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	})
}

// AnyOf matches when at least one filter matches
func AnyOf(filters ...Filter) Filter {
	return FilterFunc(func(ctx context.Context, inv Invocation) (bool, error) {
		for _, filter := range filters {
			ok, err := filter.Matches(ctx, inv)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	})
}

// MessageTypes matches invocations whose message satisfies one of the given
// types. The match is on the message, not on the key the handler was
// registered under, so a supertype matches every variant that declares it.
func MessageTypes(types ...contracts.MessageType) Filter {
	return FilterFunc(func(ctx context.Context, inv Invocation) (bool, error) {
		for _, messageType := range types {
			if messageType == inv.MessageType || messageType.SatisfiedBy(inv.Message) {
				return true, nil
			}
		}
		return false, nil
	})
}

// Handlers matches invocations of the named handlers
func Handlers(names ...string) Filter {
	return FilterFunc(func(ctx context.Context, inv Invocation) (bool, error) {
		return slices.Contains(names, inv.Handler), nil
	})
}

// SkipBehavior defines what happens to an invocation a filter rejects
type SkipBehavior int

const (
	// SkipSilently drops the invocation and reports success
	SkipSilently SkipBehavior = iota
	// SkipWithError drops the invocation and returns ErrFiltered
	SkipWithError
)

// FilteringInterceptor only lets matching invocations reach the handler
type FilteringInterceptor struct {
	filter       Filter
	skipBehavior SkipBehavior
}

// NewFilteringInterceptor creates a new filtering interceptor
func NewFilteringInterceptor(filter Filter, skipBehavior SkipBehavior) *FilteringInterceptor {
	return &FilteringInterceptor{filter: filter, skipBehavior: skipBehavior}
}

// Intercept implements Interceptor
func (i *FilteringInterceptor) Intercept(ctx context.Context, inv Invocation, next Next) error {
	ok, err := i.filter.Matches(ctx, inv)
	if err != nil {
		return fmt.Errorf("filter %s: %w", inv.Handler, err)
	}
	if ok {
		return next(ctx, inv)
	}
	if i.skipBehavior == SkipWithError {
		return fmt.Errorf("%w: %s for %s", ErrFiltered, inv.Message.GetType(), inv.Handler)
	}
	return nil
}

// Name implements Interceptor
func (i *FilteringInterceptor) Name() string {
	return "filtering"
}

type conditional struct {
	condition   Filter
	interceptor Interceptor
}

// When applies interceptor only to invocations matching condition; the rest
// go straight to the next step of the chain
func When(condition Filter, interceptor Interceptor) Interceptor {
	return &conditional{condition: condition, interceptor: interceptor}
}

func (c *conditional) Intercept(ctx context.Context, inv Invocation, next Next) error {
	ok, err := c.condition.Matches(ctx, inv)
	if err != nil {
		return err
	}
	if ok {
		return c.interceptor.Intercept(ctx, inv, next)
	}
	return next(ctx, inv)
}

func (c *conditional) Name() string {
	return "when(" + c.interceptor.Name() + ")"
}
