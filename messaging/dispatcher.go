package messaging

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/glimte/afterlocks/contracts"
	"github.com/glimte/afterlocks/interceptors"
	"github.com/glimte/afterlocks/observability"
)

// Dispatcher routes a message to the handlers registered for its runtime type
// and for every supertype it declares, most specific first.
//
// A Dispatcher is owned by exactly one goroutine (the bus pump) and is not
// safe for concurrent use. It has no locks; Subscribe and Unsubscribe reach it
// as control messages through the same queue as domain traffic.
type Dispatcher struct {
	handlers map[contracts.MessageType][]registration
	lineages map[contracts.MessageType][]contracts.MessageType
	chain    *interceptors.Chain
	logger   *slog.Logger
	observer observability.Observer
}

// DispatcherOption configures the Dispatcher
type DispatcherOption func(*Dispatcher)

// WithDispatcherLogger sets the logger
func WithDispatcherLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithDispatcherObserver sets the observer receiving handler failures
func WithDispatcherObserver(observer observability.Observer) DispatcherOption {
	return func(d *Dispatcher) {
		if observer != nil {
			d.observer = observer
		}
	}
}

// WithDispatcherInterceptors wraps every handler invocation in chain
func WithDispatcherInterceptors(chain *interceptors.Chain) DispatcherOption {
	return func(d *Dispatcher) {
		if chain != nil {
			d.chain = chain
		}
	}
}

// NewDispatcher creates a dispatcher with its subscribe and unsubscribe
// control handlers already registered
func NewDispatcher(options ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		handlers: make(map[contracts.MessageType][]registration),
		lineages: make(map[contracts.MessageType][]contracts.MessageType),
		logger:   slog.Default(),
		observer: observability.NoOpObserver{},
	}

	for _, opt := range options {
		opt(d)
	}

	if d.chain == nil {
		d.chain = interceptors.NewChain(d.logger)
	}

	registerControl(d, "dispatcher.subscribe", func(ctx context.Context, cmd *subscribeCmd) error {
		d.register(cmd.messageType, cmd.reg)
		return nil
	})
	registerControl(d, "dispatcher.unsubscribe", func(ctx context.Context, cmd *unsubscribeCmd) error {
		d.unregister(cmd.messageType, cmd.handler)
		return nil
	})

	return d
}

// register adds reg for messageType. A second registration of the same
// handler identity is absorbed and reported as false.
func (d *Dispatcher) register(messageType contracts.MessageType, reg registration) bool {
	regs := d.handlers[messageType]
	for _, existing := range regs {
		if existing.handler == reg.handler {
			return false
		}
	}

	d.handlers[messageType] = append(regs, reg)
	return true
}

// unregister removes handler from messageType. Removing an absent handler
// returns false.
func (d *Dispatcher) unregister(messageType contracts.MessageType, handler any) bool {
	regs := d.handlers[messageType]
	for i, existing := range regs {
		if existing.handler != handler {
			continue
		}

		// copy so a dispatch loop holding the old slice is unaffected
		remaining := make([]registration, 0, len(regs)-1)
		remaining = append(remaining, regs[:i]...)
		remaining = append(remaining, regs[i+1:]...)
		if len(remaining) == 0 {
			delete(d.handlers, messageType)
		} else {
			d.handlers[messageType] = remaining
		}
		return true
	}
	return false
}

// HandlerCount returns the number of handlers registered for messageType
func (d *Dispatcher) HandlerCount(messageType contracts.MessageType) int {
	return len(d.handlers[messageType])
}

// Dispatch delivers msg to every handler of its runtime type, then to the
// handlers of each declared supertype, then to the handlers of
// contracts.Message. Handlers run sequentially on the calling goroutine; a
// failing or panicking handler is reported and the walk continues.
func (d *Dispatcher) Dispatch(ctx context.Context, msg contracts.Message) {
	if msg == nil {
		return
	}

	if _, ok := msg.(controlMessage); ok {
		d.deliver(ctx, contracts.TypeOfMessage(msg), msg)
		return
	}

	for _, messageType := range d.lineage(ctx, msg) {
		d.deliver(ctx, messageType, msg)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, messageType contracts.MessageType, msg contracts.Message) {
	for _, reg := range d.handlers[messageType] {
		d.invoke(ctx, messageType, reg, msg)
	}
}

func (d *Dispatcher) invoke(ctx context.Context, messageType contracts.MessageType, reg registration, msg contracts.Message) {
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = &HandlerError{MessageType: messageType, Handler: reg.name, Panic: r}
			}
		}()

		if reg.builtin {
			err = reg.invoke(ctx, msg)
			return
		}
		inv := interceptors.Invocation{Message: msg, MessageType: messageType, Handler: reg.name}
		err = d.chain.Execute(ctx, inv, func(ctx context.Context, inv interceptors.Invocation) error {
			return reg.invoke(ctx, inv.Message)
		})
	}()

	if err == nil {
		return
	}

	handlerErr, ok := err.(*HandlerError)
	if !ok {
		handlerErr = &HandlerError{MessageType: messageType, Handler: reg.name, Err: err}
	}

	eventType := observability.EventHandlerFailed
	if handlerErr.Panic != nil {
		eventType = observability.EventHandlerPanicked
	}

	d.logger.ErrorContext(ctx, "handler failed",
		"messageType", messageType.String(),
		"messageId", msg.GetID(),
		"handler", reg.name,
		"error", handlerErr,
	)
	d.observer.OnEvent(ctx, observability.NewEvent(eventType, "dispatcher", map[string]any{
		"messageType":   messageType.String(),
		"messageId":     msg.GetID(),
		"correlationId": msg.GetCorrelationID().String(),
		"handler":       reg.name,
		"error":         handlerErr.Error(),
	}))
}

// lineage returns the cached delivery list for msg's runtime type. Declared
// supertypes msg does not satisfy are dropped and reported once per type.
func (d *Dispatcher) lineage(ctx context.Context, msg contracts.Message) []contracts.MessageType {
	own := contracts.TypeOfMessage(msg)
	if cached, ok := d.lineages[own]; ok {
		return cached
	}

	declared := contracts.Lineage(msg)
	lineage := make([]contracts.MessageType, 0, len(declared))
	for _, messageType := range declared {
		if messageType == own || messageType.SatisfiedBy(msg) {
			lineage = append(lineage, messageType)
			continue
		}

		d.logger.WarnContext(ctx, "declared supertype not satisfied, skipping",
			"messageType", own.String(),
			"supertype", messageType.String(),
		)
		d.observer.OnEvent(ctx, observability.NewEvent(observability.EventSupertypeSkipped, "dispatcher", map[string]any{
			"messageType": own.String(),
			"supertype":   messageType.String(),
		}))
	}

	d.lineages[own] = lineage
	return lineage
}

// counts returns handler counts per message type, excluding control handlers
func (d *Dispatcher) counts() map[string]int {
	counts := make(map[string]int, len(d.handlers))
	for messageType, regs := range d.handlers {
		n := 0
		for _, reg := range regs {
			if !reg.builtin {
				n++
			}
		}
		if n > 0 {
			counts[messageType.String()] = n
		}
	}
	return counts
}

// registerControl installs a built-in handler directly, bypassing the queue.
// It is used only while a component is being constructed.
func registerControl[C controlMessage](d *Dispatcher, name string, fn func(ctx context.Context, cmd C) error) {
	d.register(contracts.TypeOf[C](), registration{
		handler: name,
		name:    name,
		builtin: true,
		invoke: func(ctx context.Context, msg contracts.Message) error {
			cmd, ok := msg.(C)
			if !ok {
				return fmt.Errorf("control handler %s received %T", name, msg)
			}
			return fn(ctx, cmd)
		},
	})
}
