package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/glimte/afterlocks/contracts"
	"github.com/glimte/afterlocks/internal/reliability"
	"github.com/glimte/afterlocks/messaging"
	"github.com/glimte/afterlocks/observability"
)

var errMissingToken = errors.New("request carries no correlation token")

// TaskBridge turns a request/response exchange over a Bus into a Future.
//
// Each exchange subscribes a one-shot correlated handler for the response
// type, publishes the request and resolves its future with the projected
// response. The handler withdraws itself on the first match, on timeout, on
// cancellation of the Create context and when the bridge is closed, so no
// subscription outlives its exchange.
type TaskBridge struct {
	bus         *messaging.Bus
	config      BridgeConfig
	retryPolicy reliability.RetryPolicy

	mu      sync.Mutex
	closed  bool
	pending map[aborter]struct{}
}

// BridgeOption configures the task bridge
type BridgeOption func(*BridgeConfig)

// BridgeConfig holds configuration for the bridge
type BridgeConfig struct {
	// DefaultTimeout applies to exchanges created without WithTimeout; 0 disables it
	DefaultTimeout time.Duration
	// MaxPendingRequests caps unresolved exchanges; 0 means unlimited
	MaxPendingRequests int
	// RetryPolicy paces republishing a request the bus rejected as full
	RetryPolicy reliability.RetryPolicy
	// CircuitBreaker optionally guards request publishing
	CircuitBreaker *reliability.CircuitBreaker
	// WithdrawTimeout bounds how long withdrawing a subscription may wait for the queue
	WithdrawTimeout time.Duration
	Logger          *slog.Logger
	Observer        observability.Observer
}

// WithDefaultTimeout sets the default timeout for exchanges
func WithDefaultTimeout(timeout time.Duration) BridgeOption {
	return func(c *BridgeConfig) {
		c.DefaultTimeout = timeout
	}
}

// WithMaxPendingRequests sets the maximum number of concurrent pending exchanges
func WithMaxPendingRequests(max int) BridgeOption {
	return func(c *BridgeConfig) {
		c.MaxPendingRequests = max
	}
}

// WithBridgeRetryPolicy sets the policy used when the bus queue is full
func WithBridgeRetryPolicy(policy reliability.RetryPolicy) BridgeOption {
	return func(c *BridgeConfig) {
		if policy != nil {
			c.RetryPolicy = policy
		}
	}
}

// WithBridgeCircuitBreaker guards request publishing with cb
func WithBridgeCircuitBreaker(cb *reliability.CircuitBreaker) BridgeOption {
	return func(c *BridgeConfig) {
		c.CircuitBreaker = cb
	}
}

// WithWithdrawTimeout bounds how long a timed-out or cancelled exchange waits
// to enqueue its unsubscribe request
func WithWithdrawTimeout(timeout time.Duration) BridgeOption {
	return func(c *BridgeConfig) {
		if timeout > 0 {
			c.WithdrawTimeout = timeout
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) BridgeOption {
	return func(c *BridgeConfig) {
		if logger != nil {
			c.Logger = logger
		}
	}
}

// WithObserver sets the observer that receives exchange events
func WithObserver(observer observability.Observer) BridgeOption {
	return func(c *BridgeConfig) {
		if observer != nil {
			c.Observer = observer
		}
	}
}

// NewTaskBridge creates a bridge over bus
func NewTaskBridge(bus *messaging.Bus, opts ...BridgeOption) (*TaskBridge, error) {
	if bus == nil {
		return nil, fmt.Errorf("bus cannot be nil")
	}

	config := BridgeConfig{
		DefaultTimeout:  30 * time.Second,
		RetryPolicy:     reliability.NewFixedDelay(5*time.Millisecond, 3),
		WithdrawTimeout: 5 * time.Second,
		Logger:          slog.Default(),
		Observer:        observability.NoOpObserver{},
	}
	for _, opt := range opts {
		opt(&config)
	}
	if config.DefaultTimeout < 0 {
		return nil, fmt.Errorf("default timeout cannot be negative")
	}
	if config.MaxPendingRequests < 0 {
		return nil, fmt.Errorf("max pending requests cannot be negative")
	}

	return &TaskBridge{
		bus:    bus,
		config: config,
		// only a full queue is worth another attempt
		retryPolicy: reliability.RetryOn(config.RetryPolicy, messaging.ErrQueueFull),
		pending:     make(map[aborter]struct{}),
	}, nil
}

// ExchangeOption configures a single exchange
type ExchangeOption func(*exchangeSettings)

type exchangeSettings struct {
	timeout time.Duration
}

// WithTimeout overrides the bridge's default timeout; 0 waits indefinitely
func WithTimeout(timeout time.Duration) ExchangeOption {
	return func(s *exchangeSettings) {
		if timeout >= 0 {
			s.timeout = timeout
		}
	}
}

// Create publishes the request built by newRequest and returns a future that
// resolves with project applied to the first Resp carrying the request's
// correlation token.
//
// The request must carry a correlation token. Create must not be awaited from
// a bus handler: the response can only be delivered once the handler returns.
func Create[Req contracts.Message, Resp contracts.Message, R any](
	ctx context.Context,
	tb *TaskBridge,
	newRequest func() Req,
	project func(Resp) R,
	opts ...ExchangeOption,
) *Future[R] {
	settings := exchangeSettings{timeout: tb.config.DefaultTimeout}
	for _, opt := range opts {
		opt(&settings)
	}

	if newRequest == nil || project == nil {
		return failedFuture[R](&ExchangeError{Op: "create", Err: errors.New("request constructor and projection are required")})
	}
	request := newRequest()
	if contracts.IsNil(request) {
		return failedFuture[R](&ExchangeError{Op: "create", Err: contracts.ErrNilMessage})
	}
	token := request.GetCorrelationID()
	if token == contracts.NilToken {
		return failedFuture[R](&ExchangeError{Op: "create", RequestType: request.GetType(), Err: errMissingToken})
	}

	ex := &exchange[Resp, R]{
		bridge:      tb,
		future:      newFuture[R](),
		token:       token,
		requestType: request.GetType(),
		project:     project,
		started:     time.Now(),
	}
	if err := tb.admit(ex); err != nil {
		return failedFuture[R](ex.wrap("create", err))
	}

	// The subscription is enqueued before the request, so it is in place
	// by the time any response can be dispatched.
	err := reliability.Retry(ctx, tb.retryPolicy, func() error {
		return messaging.SubscribeCorrelated[Resp](ctx, tb.bus, token, ex)
	})
	if err != nil {
		var zero R
		ex.settle(ctx, zero, ex.wrap("subscribe", err), "")
		return ex.future
	}

	if err := tb.publish(ctx, request); err != nil {
		ex.abort(ctx, ex.wrap("publish", err), "")
		return ex.future
	}

	ex.arm(ctx, settings.timeout)
	return ex.future
}

// Send is Create with the response itself as the result
func Send[Req contracts.Message, Resp contracts.Message](
	ctx context.Context,
	tb *TaskBridge,
	newRequest func() Req,
	opts ...ExchangeOption,
) *Future[Resp] {
	return Create(ctx, tb, newRequest, func(resp Resp) Resp { return resp }, opts...)
}

// Pending returns the number of unresolved exchanges
func (tb *TaskBridge) Pending() int {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return len(tb.pending)
}

// Close resolves every pending exchange with ErrBridgeClosed and withdraws
// their subscriptions. Later calls to Create fail immediately.
func (tb *TaskBridge) Close(ctx context.Context) error {
	tb.mu.Lock()
	tb.closed = true
	pending := make([]aborter, 0, len(tb.pending))
	for ex := range tb.pending {
		pending = append(pending, ex)
	}
	tb.mu.Unlock()

	for _, ex := range pending {
		ex.abort(ctx, ErrBridgeClosed, observability.EventExchangeCancelled)
	}
	if len(pending) > 0 {
		tb.config.Logger.InfoContext(ctx, "bridge closed with pending exchanges", "cancelled", len(pending))
	}
	return nil
}

func (tb *TaskBridge) admit(ex aborter) error {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	if tb.closed {
		return ErrBridgeClosed
	}
	if tb.config.MaxPendingRequests > 0 && len(tb.pending) >= tb.config.MaxPendingRequests {
		return ErrTooManyPending
	}
	tb.pending[ex] = struct{}{}
	return nil
}

func (tb *TaskBridge) release(ex aborter) {
	tb.mu.Lock()
	delete(tb.pending, ex)
	tb.mu.Unlock()
}

func (tb *TaskBridge) publish(ctx context.Context, msg contracts.Message) error {
	send := func() error {
		return tb.bus.Publish(ctx, msg)
	}
	if cb := tb.config.CircuitBreaker; cb != nil {
		publish := send
		send = func() error {
			return cb.Execute(ctx, publish)
		}
	}
	return reliability.Retry(ctx, tb.retryPolicy, send)
}

// aborter is the type-erased view of a pending exchange
type aborter interface {
	abort(ctx context.Context, err error, event observability.EventType)
}

// exchange is the one-shot correlated handler behind a Future. Its pointer
// is the handler identity on the bus.
type exchange[Resp contracts.Message, R any] struct {
	bridge      *TaskBridge
	future      *Future[R]
	token       contracts.Token
	requestType string
	project     func(Resp) R
	started     time.Time

	mu      sync.Mutex
	timer   *time.Timer
	unwatch func() bool
}

// Handle runs on the pump when a response with the exchange's token arrives
func (e *exchange[Resp, R]) Handle(ctx context.Context, resp Resp) error {
	// Withdraw before resolving so a second response finds no subscriber.
	if err := messaging.UnsubscribeCorrelated[Resp](ctx, e.bridge.bus, e.token, e); err != nil {
		e.bridge.config.Logger.WarnContext(ctx, "failed to withdraw exchange subscription",
			"correlationId", e.token.String(), "error", err)
	}

	value, err := e.apply(resp)
	e.settle(ctx, value, err, observability.EventExchangeResolved)
	return nil
}

func (e *exchange[Resp, R]) apply(resp Resp) (value R, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = e.wrap("project", fmt.Errorf("projection panicked: %v", r))
		}
	}()
	return e.project(resp), nil
}

// arm starts the timeout and the cancellation watch unless the exchange has
// already resolved
func (e *exchange[Resp, R]) arm(ctx context.Context, timeout time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()

	select {
	case <-e.future.Done():
		return
	default:
	}

	detached := context.WithoutCancel(ctx)
	if timeout > 0 {
		e.timer = time.AfterFunc(timeout, func() {
			e.abort(detached, ErrTimeout, observability.EventExchangeTimeout)
		})
	}
	e.unwatch = context.AfterFunc(ctx, func() {
		e.abort(detached, fmt.Errorf("%w: %w", ErrCancelled, context.Cause(ctx)), observability.EventExchangeCancelled)
	})
}

func (e *exchange[Resp, R]) disarm() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.timer != nil {
		e.timer.Stop()
	}
	if e.unwatch != nil {
		e.unwatch()
	}
}

// settle resolves the future and reports whether this call won
func (e *exchange[Resp, R]) settle(ctx context.Context, value R, err error, event observability.EventType) bool {
	if !e.future.resolve(value, err) {
		return false
	}
	e.disarm()
	e.bridge.release(e)
	if event != "" {
		e.emit(ctx, event, err)
	}
	return true
}

// abort resolves the future with err and withdraws the subscription
func (e *exchange[Resp, R]) abort(ctx context.Context, err error, event observability.EventType) {
	var zero R
	if !e.settle(ctx, zero, e.wrap("await", err), event) {
		return
	}
	e.withdraw(ctx)
}

// Expire runs on the pump when a correlation sweep has already removed the
// subscription, so there is nothing left to withdraw
func (e *exchange[Resp, R]) Expire(ctx context.Context) {
	var zero R
	e.settle(ctx, zero, e.wrap("await", ErrExpired), observability.EventExchangeExpired)
}

func (e *exchange[Resp, R]) withdraw(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.bridge.config.WithdrawTimeout)
	defer cancel()

	err := reliability.Retry(ctx, e.bridge.retryPolicy, func() error {
		return messaging.UnsubscribeCorrelated[Resp](ctx, e.bridge.bus, e.token, e)
	})
	if err != nil && !errors.Is(err, messaging.ErrBusClosed) {
		e.bridge.config.Logger.WarnContext(ctx, "exchange subscription left for expiry",
			"correlationId", e.token.String(), "error", err)
	}
}

func (e *exchange[Resp, R]) wrap(op string, err error) error {
	var exErr *ExchangeError
	if errors.As(err, &exErr) {
		return err
	}
	return &ExchangeError{Op: op, RequestType: e.requestType, Token: e.token, Err: err}
}

func (e *exchange[Resp, R]) emit(ctx context.Context, event observability.EventType, err error) {
	data := map[string]any{
		"correlationId": e.token.String(),
		"requestType":   e.requestType,
		"elapsed":       time.Since(e.started),
	}
	if err != nil {
		data["error"] = err.Error()
	}

	switch event {
	case observability.EventExchangeResolved:
		e.bridge.config.Logger.DebugContext(ctx, "exchange resolved", "correlationId", e.token.String(), "requestType", e.requestType)
	case observability.EventExchangeTimeout:
		e.bridge.config.Logger.WarnContext(ctx, "exchange timed out", "correlationId", e.token.String(), "requestType", e.requestType)
	case observability.EventExchangeExpired:
		e.bridge.config.Logger.WarnContext(ctx, "exchange expired before a response arrived", "correlationId", e.token.String(), "requestType", e.requestType)
	default:
		e.bridge.config.Logger.InfoContext(ctx, "exchange cancelled", "correlationId", e.token.String(), "requestType", e.requestType, "error", err)
	}
	e.bridge.config.Observer.OnEvent(ctx, observability.NewEvent(event, "bridge", data))
}
