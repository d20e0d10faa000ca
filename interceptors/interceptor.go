package interceptors

import (
	"context"
	"log/slog"

	"github.com/glimte/afterlocks/contracts"
)

// Invocation describes one handler call made by the dispatcher
type Invocation struct {
	Message contracts.Message
	// MessageType is the key the handler was registered under: the
	// message's own type, one of its declared supertypes or contracts.Message
	MessageType contracts.MessageType
	// Handler names the handler being invoked
	Handler string
}

// Next continues the chain with the next interceptor or the handler itself
type Next func(ctx context.Context, inv Invocation) error

// Interceptor wraps handler invocations.
//
// Interceptors run on the bus pump, around every single handler invocation.
// They must call next on the calling goroutine: handing the invocation to
// another goroutine would let the handler run concurrently with the pump.
type Interceptor interface {
	// Intercept processes an invocation and calls next to continue the chain
	Intercept(ctx context.Context, inv Invocation, next Next) error

	// Name returns the interceptor name for logging and debugging
	Name() string
}

type namedInterceptor struct {
	name string
	fn   func(ctx context.Context, inv Invocation, next Next) error
}

// Named adapts fn to an Interceptor called name
func Named(name string, fn func(ctx context.Context, inv Invocation, next Next) error) Interceptor {
	return &namedInterceptor{name: name, fn: fn}
}

func (i *namedInterceptor) Intercept(ctx context.Context, inv Invocation, next Next) error {
	return i.fn(ctx, inv, next)
}

func (i *namedInterceptor) Name() string {
	return i.name
}

// Chain is an ordered list of interceptors. The first interceptor added is
// the outermost one.
type Chain struct {
	interceptors []Interceptor
	logger       *slog.Logger
}

// NewChain creates a chain with the given interceptors
func NewChain(logger *slog.Logger, interceptors ...Interceptor) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{interceptors: interceptors, logger: logger}
}

// Add appends an interceptor to the chain; nil interceptors are ignored
func (c *Chain) Add(interceptor Interceptor) *Chain {
	if interceptor == nil {
		c.logger.Warn("ignoring nil interceptor")
		return c
	}
	c.interceptors = append(c.interceptors, interceptor)
	return c
}

// Len returns the number of interceptors in the chain
func (c *Chain) Len() int {
	return len(c.interceptors)
}

// Names lists the interceptors from outermost to innermost
func (c *Chain) Names() []string {
	names := make([]string, len(c.interceptors))
	for i, interceptor := range c.interceptors {
		names[i] = interceptor.Name()
	}
	return names
}

// Execute runs inv through every interceptor and finally through handler
func (c *Chain) Execute(ctx context.Context, inv Invocation, handler Next) error {
	if c == nil || len(c.interceptors) == 0 {
		return handler(ctx, inv)
	}
	return c.at(0, handler)(ctx, inv)
}

func (c *Chain) at(i int, handler Next) Next {
	if i == len(c.interceptors) {
		return handler
	}
	return func(ctx context.Context, inv Invocation) error {
		return c.interceptors[i].Intercept(ctx, inv, c.at(i+1, handler))
	}
}
