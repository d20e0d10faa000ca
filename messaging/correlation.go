package messaging

import (
	"context"
	"log/slog"
	"time"

	"github.com/glimte/afterlocks/contracts"
	"github.com/glimte/afterlocks/observability"
)

// CorrelationManager delivers a message only to the handlers subscribed to
// its exact (type, correlation token) pair.
//
// One table per message type is created on the first correlated subscribe for
// that type and registered with the dispatcher as an ordinary handler for the
// type; the table then re-routes every instance by token. Like the
// dispatcher it is owned by the pump and holds no locks.
type CorrelationManager struct {
	dispatcher *Dispatcher
	tables     map[contracts.MessageType]*correlationTable
	ttl        time.Duration
	now        func() time.Time
	logger     *slog.Logger
	observer   observability.Observer
}

type correlationTable struct {
	messageType contracts.MessageType
	entries     map[contracts.Token]*correlationEntry
}

type correlationEntry struct {
	regs    []registration
	touched time.Time
}

func newCorrelationManager(d *Dispatcher, ttl time.Duration, now func() time.Time) *CorrelationManager {
	m := &CorrelationManager{
		dispatcher: d,
		tables:     make(map[contracts.MessageType]*correlationTable),
		ttl:        ttl,
		now:        now,
		logger:     d.logger,
		observer:   d.observer,
	}

	registerControl(d, "correlation.subscribe", func(ctx context.Context, cmd *correlatedSubscribeCmd) error {
		m.subscribe(ctx, cmd.messageType, cmd.token, cmd.reg)
		return nil
	})
	registerControl(d, "correlation.unsubscribe", func(ctx context.Context, cmd *correlatedUnsubscribeCmd) error {
		m.unsubscribe(cmd.messageType, cmd.token, cmd.handler)
		return nil
	})
	registerControl(d, "correlation.sweep", func(ctx context.Context, cmd *sweepCmd) error {
		removed := m.sweep(ctx)
		if cmd.done != nil {
			cmd.done <- removed
		}
		return nil
	})

	return m
}

func (m *CorrelationManager) table(ctx context.Context, messageType contracts.MessageType) *correlationTable {
	if t, ok := m.tables[messageType]; ok {
		return t
	}

	t := &correlationTable{
		messageType: messageType,
		entries:     make(map[contracts.Token]*correlationEntry),
	}
	m.tables[messageType] = t
	m.dispatcher.register(messageType, registration{
		handler: t,
		name:    "correlation[" + messageType.String() + "]",
		builtin: true,
		invoke: func(ctx context.Context, msg contracts.Message) error {
			m.route(ctx, t, msg)
			return nil
		},
	})

	m.logger.DebugContext(ctx, "correlation table created", "messageType", messageType.String())
	m.observer.OnEvent(ctx, observability.NewEvent(observability.EventCorrelationTableCreated, "correlation", map[string]any{
		"messageType": messageType.String(),
	}))
	return t
}

func (m *CorrelationManager) subscribe(ctx context.Context, messageType contracts.MessageType, token contracts.Token, reg registration) {
	t := m.table(ctx, messageType)

	entry, ok := t.entries[token]
	if !ok {
		entry = &correlationEntry{}
		t.entries[token] = entry
	}
	entry.touched = m.now()

	for _, existing := range entry.regs {
		if existing.handler == reg.handler {
			return
		}
	}
	entry.regs = append(entry.regs, reg)
}

func (m *CorrelationManager) unsubscribe(messageType contracts.MessageType, token contracts.Token, handler any) {
	t, ok := m.tables[messageType]
	if !ok {
		return
	}
	entry, ok := t.entries[token]
	if !ok {
		return
	}

	for i, existing := range entry.regs {
		if existing.handler != handler {
			continue
		}
		remaining := make([]registration, 0, len(entry.regs)-1)
		remaining = append(remaining, entry.regs[:i]...)
		remaining = append(remaining, entry.regs[i+1:]...)
		entry.regs = remaining
		break
	}

	if len(entry.regs) == 0 {
		delete(t.entries, token)
	}
}

// route delivers msg to the handlers of its token. A message nobody waits
// for is dropped silently.
func (m *CorrelationManager) route(ctx context.Context, t *correlationTable, msg contracts.Message) {
	entry, ok := t.entries[msg.GetCorrelationID()]
	if !ok {
		return
	}
	entry.touched = m.now()

	for _, reg := range entry.regs {
		m.dispatcher.invoke(ctx, t.messageType, reg, msg)
	}
}

// sweep removes entries untouched for longer than the TTL and returns the
// number of subscriptions removed
func (m *CorrelationManager) sweep(ctx context.Context) int {
	if m.ttl <= 0 {
		return 0
	}

	cutoff := m.now().Add(-m.ttl)
	removed := 0
	for messageType, t := range m.tables {
		for token, entry := range t.entries {
			if !entry.touched.Before(cutoff) {
				continue
			}
			delete(t.entries, token)
			removed += len(entry.regs)

			m.logger.WarnContext(ctx, "correlation subscription expired",
				"messageType", messageType.String(),
				"correlationId", token.String(),
				"handlers", len(entry.regs),
			)
			m.observer.OnEvent(ctx, observability.NewEvent(observability.EventCorrelationExpired, "correlation", map[string]any{
				"messageType":   messageType.String(),
				"correlationId": token.String(),
				"handlers":      len(entry.regs),
			}))

			for _, reg := range entry.regs {
				if x, ok := reg.handler.(Expirer); ok {
					m.expire(ctx, x, reg.name)
				}
			}
		}
	}
	return removed
}

func (m *CorrelationManager) expire(ctx context.Context, x Expirer, name string) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.ErrorContext(ctx, "expiry notification panicked", "handler", name, "panic", r)
		}
	}()
	x.Expire(ctx)
}

func (m *CorrelationManager) counts() (subscriptions map[string]int, tokens map[string]int) {
	subscriptions = make(map[string]int)
	tokens = make(map[string]int)
	for messageType, t := range m.tables {
		if len(t.entries) == 0 {
			continue
		}
		n := 0
		for _, entry := range t.entries {
			n += len(entry.regs)
		}
		subscriptions[messageType.String()] = n
		tokens[messageType.String()] = len(t.entries)
	}
	return subscriptions, tokens
}
