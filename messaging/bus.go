package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/glimte/afterlocks/contracts"
	"github.com/glimte/afterlocks/interceptors"
	"github.com/glimte/afterlocks/observability"
)

// DefaultQueueCapacity is the ingress queue size used when none is configured
const DefaultQueueCapacity = 4096

// Bus is an in-process message bus with a single-writer core.
//
// Any goroutine may Publish. Exactly one goroutine, the pump started by
// Start, drains the ingress queue and owns the Dispatcher and the
// CorrelationManager; handler code always runs on it, one message at a time.
// Subscriptions are themselves messages, so they take effect in queue order.
type Bus struct {
	queue       *queue
	dispatcher  *Dispatcher
	correlation *CorrelationManager

	// backlog holds publishes made from handlers; only the pump touches it
	backlog []contracts.Message

	// Publishers hold mu shared for the whole enqueue, including while blocked
	// on a full queue, so Start must not take it. Lock order is startMu, mu.
	mu       sync.RWMutex
	startMu  sync.Mutex
	closed   bool
	started  atomic.Bool
	done     chan struct{}
	stopOnce sync.Once

	closeMu  sync.Mutex
	stopSent bool

	logger   *slog.Logger
	observer observability.Observer
	cfg      busConfig
}

type busConfig struct {
	capacity       int
	backpressure   BackpressurePolicy
	logger         *slog.Logger
	observer       observability.Observer
	chain          *interceptors.Chain
	correlationTTL time.Duration
	now            func() time.Time
}

// BusOption configures a Bus
type BusOption func(*busConfig)

// WithQueueCapacity bounds the ingress queue
func WithQueueCapacity(capacity int) BusOption {
	return func(c *busConfig) {
		c.capacity = capacity
	}
}

// WithBackpressure selects what Publish does when the queue is full
func WithBackpressure(policy BackpressurePolicy) BusOption {
	return func(c *busConfig) {
		c.backpressure = policy
	}
}

// WithLogger sets the logger used by the bus and its dispatcher
func WithLogger(logger *slog.Logger) BusOption {
	return func(c *busConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithObserver sets the observer notified of bus events
func WithObserver(observer observability.Observer) BusOption {
	return func(c *busConfig) {
		if observer != nil {
			c.observer = observer
		}
	}
}

// WithInterceptors wraps every handler invocation in chain
func WithInterceptors(chain *interceptors.Chain) BusOption {
	return func(c *busConfig) {
		c.chain = chain
	}
}

// WithCorrelationTTL sets how long an idle correlated subscription survives
// before a sweep removes it. Zero disables expiry.
func WithCorrelationTTL(ttl time.Duration) BusOption {
	return func(c *busConfig) {
		c.correlationTTL = ttl
	}
}

// WithClock replaces time.Now for correlation bookkeeping
func WithClock(now func() time.Time) BusOption {
	return func(c *busConfig) {
		if now != nil {
			c.now = now
		}
	}
}

// NewBus creates a bus. The pump does not run until Start is called; messages
// published before that wait in the queue.
func NewBus(options ...BusOption) (*Bus, error) {
	cfg := busConfig{
		capacity:     DefaultQueueCapacity,
		backpressure: Block,
		logger:       slog.Default(),
		observer:     observability.NoOpObserver{},
		now:          time.Now,
	}

	for _, opt := range options {
		opt(&cfg)
	}

	if cfg.capacity <= 0 {
		return nil, fmt.Errorf("queue capacity must be positive, got %d", cfg.capacity)
	}
	if cfg.backpressure != Block && cfg.backpressure != Reject {
		return nil, fmt.Errorf("unknown backpressure policy %d", cfg.backpressure)
	}
	if cfg.correlationTTL < 0 {
		return nil, fmt.Errorf("correlation ttl must not be negative, got %v", cfg.correlationTTL)
	}

	dispatcher := NewDispatcher(
		WithDispatcherLogger(cfg.logger),
		WithDispatcherObserver(cfg.observer),
		WithDispatcherInterceptors(cfg.chain),
	)

	b := &Bus{
		queue:       newQueue(cfg.capacity, cfg.backpressure),
		dispatcher:  dispatcher,
		correlation: newCorrelationManager(dispatcher, cfg.correlationTTL, cfg.now),
		done:        make(chan struct{}),
		logger:      cfg.logger,
		observer:    cfg.observer,
		cfg:         cfg,
	}

	registerControl(dispatcher, "bus.snapshot", func(ctx context.Context, cmd *snapshotCmd) error {
		cmd.reply <- b.snapshot()
		return nil
	})

	return b, nil
}

// Start launches the pump goroutine. ctx supplies values to handler contexts;
// cancelling it does not stop the pump, Close does.
func (b *Bus) Start(ctx context.Context) error {
	b.startMu.Lock()
	defer b.startMu.Unlock()

	// closed is only written while both startMu and mu are held
	if b.closed {
		return ErrBusClosed
	}
	if b.started.Load() {
		return ErrAlreadyStarted
	}
	b.started.Store(true)

	go b.run(context.WithoutCancel(ctx))
	return nil
}

type pumpKey struct{}

// onPump reports whether ctx was handed to a handler by this bus's pump
func (b *Bus) onPump(ctx context.Context) bool {
	owner, _ := ctx.Value(pumpKey{}).(*Bus)
	return owner == b
}

func (b *Bus) run(ctx context.Context) {
	defer close(b.done)

	pumpCtx := context.WithValue(ctx, pumpKey{}, b)
	b.logger.InfoContext(ctx, "bus pump started", "capacity", b.cfg.capacity, "backpressure", b.cfg.backpressure.String())
	b.observer.OnEvent(ctx, observability.NewEvent(observability.EventPumpStarted, "bus", map[string]any{
		"capacity": b.cfg.capacity,
	}))

	for {
		var msg contracts.Message
		if len(b.backlog) > 0 {
			msg = b.backlog[0]
			b.backlog[0] = nil
			b.backlog = b.backlog[1:]
		} else {
			msg = <-b.queue.ch
		}

		if _, stop := msg.(*stopCmd); stop {
			b.logger.InfoContext(ctx, "bus pump stopped")
			b.observer.OnEvent(ctx, observability.NewEvent(observability.EventPumpStopped, "bus", nil))
			return
		}

		b.dispatcher.Dispatch(pumpCtx, msg)
	}
}

// Publish enqueues msg for asynchronous delivery and returns once it is
// queued. The error reports intake only: nil message, full queue under
// Reject, closed bus or ctx done while blocked under Block.
//
// A handler publishing with the context it was given never blocks: its
// messages go to a pump-local backlog that is drained before the queue.
func (b *Bus) Publish(ctx context.Context, msg contracts.Message) error {
	if contracts.IsNil(msg) {
		return contracts.ErrNilMessage
	}

	if b.onPump(ctx) {
		b.backlog = append(b.backlog, msg)
		b.published(ctx, msg)
		return nil
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrBusClosed
	}

	if err := b.queue.enqueue(ctx, msg); err != nil {
		if errors.Is(err, ErrQueueFull) {
			b.logger.WarnContext(ctx, "publish rejected, queue full", "messageType", msg.GetType())
			b.observer.OnEvent(ctx, observability.NewEvent(observability.EventMessageRejected, "bus", map[string]any{
				"messageType":   msg.GetType(),
				"messageId":     msg.GetID(),
				"correlationId": msg.GetCorrelationID().String(),
			}))
		}
		return err
	}

	b.published(ctx, msg)
	return nil
}

func (b *Bus) published(ctx context.Context, msg contracts.Message) {
	if _, ok := msg.(controlMessage); ok {
		return
	}
	b.observer.OnEvent(ctx, observability.NewEvent(observability.EventMessagePublished, "bus", map[string]any{
		"messageType":   msg.GetType(),
		"messageId":     msg.GetID(),
		"correlationId": msg.GetCorrelationID().String(),
	}))
}

// Snapshot returns the pump's view of the registries. It is answered in queue
// order, so every Subscribe published before it is reflected.
func (b *Bus) Snapshot(ctx context.Context) (Snapshot, error) {
	if b.onPump(ctx) {
		return b.snapshot(), nil
	}
	if !b.isStarted() {
		return Snapshot{}, ErrBusNotStarted
	}

	cmd := &snapshotCmd{reply: make(chan Snapshot, 1)}
	if err := b.Publish(ctx, cmd); err != nil {
		return Snapshot{}, err
	}

	select {
	case s := <-cmd.reply:
		return s, nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

func (b *Bus) snapshot() Snapshot {
	correlations, tokens := b.correlation.counts()
	return Snapshot{
		Handlers:     b.dispatcher.counts(),
		Correlations: correlations,
		Tokens:       tokens,
		Backlog:      len(b.backlog),
		Queued:       b.queue.len(),
	}
}

// SweepCorrelations removes correlated subscriptions idle for longer than the
// configured TTL and returns how many were removed
func (b *Bus) SweepCorrelations(ctx context.Context) (int, error) {
	if b.onPump(ctx) {
		return b.correlation.sweep(ctx), nil
	}
	if !b.isStarted() {
		return 0, ErrBusNotStarted
	}

	cmd := &sweepCmd{done: make(chan int, 1)}
	if err := b.Publish(ctx, cmd); err != nil {
		return 0, err
	}

	select {
	case removed := <-cmd.done:
		return removed, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Close stops intake, lets the pump drain everything already queued
// (including messages handlers publish while draining) and waits for it to
// exit. ctx bounds the wait; the pump keeps draining in the background if it
// expires.
func (b *Bus) Close(ctx context.Context) error {
	b.closeMu.Lock()
	defer b.closeMu.Unlock()

	b.stopOnce.Do(func() {
		close(b.queue.closing)
	})

	b.startMu.Lock()
	b.mu.Lock()
	alreadyClosed := b.closed
	b.closed = true
	b.mu.Unlock()
	started := b.started.Load()
	b.startMu.Unlock()

	if !started {
		if n := b.queue.len(); n > 0 && !alreadyClosed {
			b.dropped(ctx, n)
		}
		return nil
	}

	if !b.stopSent {
		select {
		case b.queue.ch <- &stopCmd{}:
			b.stopSent = true
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Bus) dropped(ctx context.Context, n int) {
	b.logger.WarnContext(ctx, "bus closed with undelivered messages", "count", n)
	b.observer.OnEvent(ctx, observability.NewEvent(observability.EventMessageDropped, "bus", map[string]any{
		"count": n,
	}))
}

func (b *Bus) isStarted() bool {
	return b.started.Load()
}

// Done is closed once the pump has exited
func (b *Bus) Done() <-chan struct{} {
	return b.done
}
