package messaging

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glimte/afterlocks/contracts"
	"github.com/glimte/afterlocks/interceptors"
	"github.com/glimte/afterlocks/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ping struct {
	contracts.BaseMessage
	Seq int
}

func newPing(token contracts.Token) *ping {
	return &ping{BaseMessage: contracts.NewCorrelatedMessage("Ping", token)}
}

type pong struct {
	contracts.BaseReply
	Value int
}

func newPong(token contracts.Token, value int) *pong {
	return &pong{BaseReply: contracts.NewBaseReply("Pong", token), Value: value}
}

type greeting interface {
	contracts.Message
	Greeting() string
}

type hello struct {
	contracts.BaseMessage
}

func (h *hello) Greeting() string { return "hello" }

func (h *hello) Supertypes() []contracts.MessageType {
	return []contracts.MessageType{contracts.TypeOf[greeting]()}
}

// moody declares greeting as a supertype unless it is quiet
type moody struct {
	contracts.BaseMessage
	Quiet bool
}

func (m *moody) Greeting() string { return "hmm" }

func (m *moody) Supertypes() []contracts.MessageType {
	if m.Quiet {
		return nil
	}
	return []contracts.MessageType{contracts.TypeOf[greeting]()}
}

// tally is a value handler; copies with equal fields are the same handler
type tally struct {
	label string
	hits  *atomic.Int32
}

func (c tally) Handle(ctx context.Context, msg *ping) error {
	c.hits.Add(1)
	return nil
}

// misdeclared claims a supertype it does not implement
type misdeclared struct {
	contracts.BaseMessage
}

func (m *misdeclared) Supertypes() []contracts.MessageType {
	return []contracts.MessageType{contracts.TypeOf[contracts.Reply]()}
}

type recorder[T contracts.Message] struct {
	mu    sync.Mutex
	name  string
	log   *[]string
	seen  []T
	fail  error
	panic bool
}

func (r *recorder[T]) Handle(ctx context.Context, msg T) error {
	r.mu.Lock()
	r.seen = append(r.seen, msg)
	if r.log != nil {
		*r.log = append(*r.log, r.name)
	}
	r.mu.Unlock()

	if r.panic {
		panic("handler exploded")
	}
	return r.fail
}

func (r *recorder[T]) messages() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]T(nil), r.seen...)
}

type recordingObserver struct {
	mu     sync.Mutex
	events []observability.Event
}

func (o *recordingObserver) OnEvent(ctx context.Context, event observability.Event) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, event)
}

func (o *recordingObserver) count(eventType observability.EventType) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, e := range o.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func startBus(t *testing.T, options ...BusOption) *Bus {
	t.Helper()

	bus, err := NewBus(options...)
	require.NoError(t, err)
	require.NoError(t, bus.Start(context.Background()))

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = bus.Close(ctx)
	})
	return bus
}

// drain waits until everything published before it has been dispatched
func drain(t *testing.T, bus *Bus) Snapshot {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	snapshot, err := bus.Snapshot(ctx)
	require.NoError(t, err)
	return snapshot
}

func TestBusDelivery(t *testing.T) {
	ctx := context.Background()

	t.Run("delivers to a handler of the runtime type exactly once", func(t *testing.T) {
		bus := startBus(t)
		h := &recorder[*ping]{}
		require.NoError(t, Subscribe[*ping](ctx, bus, h))

		msg := newPing(contracts.NewToken())
		require.NoError(t, bus.Publish(ctx, msg))
		drain(t, bus)

		seen := h.messages()
		require.Len(t, seen, 1)
		assert.Same(t, msg, seen[0])
	})

	t.Run("most derived handlers run before supertype handlers", func(t *testing.T) {
		bus := startBus(t)
		var order []string
		base := &recorder[greeting]{name: "greeting", log: &order}
		derived := &recorder[*hello]{name: "hello", log: &order}
		all := &recorder[contracts.Message]{name: "message", log: &order}

		require.NoError(t, Subscribe[contracts.Message](ctx, bus, all))
		require.NoError(t, Subscribe[greeting](ctx, bus, base))
		require.NoError(t, Subscribe[*hello](ctx, bus, derived))

		require.NoError(t, bus.Publish(ctx, &hello{BaseMessage: contracts.NewBaseMessage("Hello")}))
		drain(t, bus)

		assert.Equal(t, []string{"hello", "greeting", "message"}, order)
	})

	t.Run("subscribing twice delivers once", func(t *testing.T) {
		bus := startBus(t)
		h := &recorder[*ping]{}
		require.NoError(t, Subscribe[*ping](ctx, bus, h))
		require.NoError(t, Subscribe[*ping](ctx, bus, h))

		require.NoError(t, bus.Publish(ctx, newPing(contracts.NilToken)))
		snapshot := drain(t, bus)

		assert.Len(t, h.messages(), 1)
		assert.Equal(t, 1, snapshot.Handlers["*messaging.ping"])
	})

	t.Run("value handlers with equal fields share one identity", func(t *testing.T) {
		bus := startBus(t)
		hits := &atomic.Int32{}
		require.NoError(t, Subscribe[*ping](ctx, bus, tally{label: "a", hits: hits}))
		require.NoError(t, Subscribe[*ping](ctx, bus, tally{label: "a", hits: hits}))
		require.NoError(t, Subscribe[*ping](ctx, bus, tally{label: "b", hits: hits}))

		require.NoError(t, bus.Publish(ctx, newPing(contracts.NilToken)))
		snapshot := drain(t, bus)

		assert.Equal(t, int32(2), hits.Load())
		assert.Equal(t, 2, snapshot.Handlers["*messaging.ping"])
	})

	t.Run("lineage is resolved once per runtime type", func(t *testing.T) {
		bus := startBus(t)
		h := &recorder[greeting]{}
		require.NoError(t, Subscribe[greeting](ctx, bus, h))

		require.NoError(t, bus.Publish(ctx, &moody{BaseMessage: contracts.NewBaseMessage("Moody")}))
		require.NoError(t, bus.Publish(ctx, &moody{BaseMessage: contracts.NewBaseMessage("Moody"), Quiet: true}))
		drain(t, bus)

		assert.Len(t, h.messages(), 2)
	})

	t.Run("same handler on two types is two subscriptions", func(t *testing.T) {
		bus := startBus(t)
		h := &recorder[contracts.Message]{}
		require.NoError(t, Subscribe[contracts.Message](ctx, bus, h))
		typed := Func(func(ctx context.Context, msg *ping) error { return h.Handle(ctx, msg) })
		require.NoError(t, Subscribe[*ping](ctx, bus, typed))

		require.NoError(t, bus.Publish(ctx, newPing(contracts.NilToken)))
		drain(t, bus)

		assert.Len(t, h.messages(), 2)
	})

	t.Run("unsubscribed handler receives nothing further", func(t *testing.T) {
		bus := startBus(t)
		h := &recorder[*ping]{}
		require.NoError(t, Subscribe[*ping](ctx, bus, h))
		require.NoError(t, bus.Publish(ctx, newPing(contracts.NilToken)))
		require.NoError(t, Unsubscribe[*ping](ctx, bus, h))
		require.NoError(t, bus.Publish(ctx, newPing(contracts.NilToken)))
		snapshot := drain(t, bus)

		assert.Len(t, h.messages(), 1)
		assert.Zero(t, snapshot.Subscriptions())
	})

	t.Run("unsubscribing an unknown handler is ignored", func(t *testing.T) {
		bus := startBus(t)
		assert.NoError(t, Unsubscribe[*ping](ctx, bus, &recorder[*ping]{}))
		assert.Zero(t, drain(t, bus).Subscriptions())
	})

	t.Run("message subscribers do not see control traffic", func(t *testing.T) {
		bus := startBus(t)
		h := &recorder[contracts.Message]{}
		require.NoError(t, Subscribe[contracts.Message](ctx, bus, h))
		require.NoError(t, Subscribe[*ping](ctx, bus, &recorder[*ping]{}))
		require.NoError(t, bus.Publish(ctx, newPing(contracts.NilToken)))
		drain(t, bus)

		assert.Len(t, h.messages(), 1)
	})

	t.Run("messages with no subscriber are dropped silently", func(t *testing.T) {
		observer := &recordingObserver{}
		bus := startBus(t, WithObserver(observer))

		require.NoError(t, bus.Publish(ctx, newPing(contracts.NilToken)))
		drain(t, bus)

		assert.Zero(t, observer.count(observability.EventHandlerFailed))
	})

	t.Run("unsatisfied supertype is skipped and reported", func(t *testing.T) {
		observer := &recordingObserver{}
		bus := startBus(t, WithObserver(observer))
		replies := &recorder[contracts.Reply]{}
		own := &recorder[*misdeclared]{}
		require.NoError(t, Subscribe[contracts.Reply](ctx, bus, replies))
		require.NoError(t, Subscribe[*misdeclared](ctx, bus, own))

		for i := 0; i < 2; i++ {
			require.NoError(t, bus.Publish(ctx, &misdeclared{BaseMessage: contracts.NewBaseMessage("Odd")}))
		}
		drain(t, bus)

		assert.Len(t, own.messages(), 2)
		assert.Empty(t, replies.messages())
		assert.Equal(t, 1, observer.count(observability.EventSupertypeSkipped))
	})

	t.Run("one producer's messages arrive in publish order", func(t *testing.T) {
		bus := startBus(t, WithQueueCapacity(16))
		h := &recorder[*ping]{}
		require.NoError(t, Subscribe[*ping](ctx, bus, h))

		for i := 0; i < 500; i++ {
			msg := newPing(contracts.NilToken)
			msg.Seq = i
			require.NoError(t, bus.Publish(ctx, msg))
		}
		drain(t, bus)

		seen := h.messages()
		require.Len(t, seen, 500)
		for i, msg := range seen {
			assert.Equal(t, i, msg.Seq)
		}
	})
}

func TestBusHandlerIsolation(t *testing.T) {
	ctx := context.Background()

	t.Run("panicking handler does not stop others or the pump", func(t *testing.T) {
		observer := &recordingObserver{}
		bus := startBus(t, WithObserver(observer))
		bad := &recorder[*ping]{panic: true}
		good := &recorder[*ping]{}
		require.NoError(t, Subscribe[*ping](ctx, bus, bad))
		require.NoError(t, Subscribe[*ping](ctx, bus, good))

		require.NoError(t, bus.Publish(ctx, newPing(contracts.NilToken)))
		require.NoError(t, bus.Publish(ctx, newPing(contracts.NilToken)))
		drain(t, bus)

		assert.Len(t, good.messages(), 2)
		assert.Equal(t, 2, observer.count(observability.EventHandlerPanicked))
	})

	t.Run("handler errors are reported and absorbed", func(t *testing.T) {
		observer := &recordingObserver{}
		bus := startBus(t, WithObserver(observer))
		failing := &recorder[*ping]{fail: errors.New("no capacity")}
		after := &recorder[contracts.Message]{}
		require.NoError(t, Subscribe[*ping](ctx, bus, failing))
		require.NoError(t, Subscribe[contracts.Message](ctx, bus, after))

		require.NoError(t, bus.Publish(ctx, newPing(contracts.NilToken)))
		drain(t, bus)

		assert.Len(t, after.messages(), 1)
		assert.Equal(t, 1, observer.count(observability.EventHandlerFailed))
	})

	t.Run("interceptors wrap each handler invocation", func(t *testing.T) {
		var invocations int32
		var keys []string
		chain := interceptors.NewChain(nil, interceptors.Named("count",
			func(ctx context.Context, inv interceptors.Invocation, next interceptors.Next) error {
				atomic.AddInt32(&invocations, 1)
				keys = append(keys, inv.MessageType.String())
				return next(ctx, inv)
			}))
		bus := startBus(t, WithInterceptors(chain))
		require.NoError(t, Subscribe[*ping](ctx, bus, &recorder[*ping]{}))
		require.NoError(t, Subscribe[contracts.Message](ctx, bus, &recorder[contracts.Message]{}))

		require.NoError(t, bus.Publish(ctx, newPing(contracts.NilToken)))
		drain(t, bus)

		assert.Equal(t, int32(2), atomic.LoadInt32(&invocations))
		assert.Equal(t, []string{contracts.TypeOf[*ping]().String(), contracts.BaseType().String()}, keys)
	})
}

func TestBusHandlerValidation(t *testing.T) {
	ctx := context.Background()
	bus := startBus(t)

	t.Run("nil message", func(t *testing.T) {
		assert.ErrorIs(t, bus.Publish(ctx, nil), contracts.ErrNilMessage)
	})

	t.Run("typed nil message", func(t *testing.T) {
		var msg *ping
		assert.ErrorIs(t, bus.Publish(ctx, msg), contracts.ErrNilMessage)
	})

	t.Run("nil handler", func(t *testing.T) {
		assert.ErrorIs(t, Subscribe[*ping](ctx, bus, nil), contracts.ErrNilHandler)
	})

	t.Run("non-comparable handler", func(t *testing.T) {
		err := Subscribe[*ping](ctx, bus, sliceHandler{})
		assert.ErrorIs(t, err, contracts.ErrHandlerNotComparable)
	})
}

type sliceHandler struct {
	seen []string
}

func (s sliceHandler) Handle(ctx context.Context, msg *ping) error { return nil }

func TestBusLifecycle(t *testing.T) {
	ctx := context.Background()

	t.Run("Start twice fails", func(t *testing.T) {
		bus := startBus(t)
		assert.ErrorIs(t, bus.Start(ctx), ErrAlreadyStarted)
	})

	t.Run("Snapshot needs a running pump", func(t *testing.T) {
		bus, err := NewBus()
		require.NoError(t, err)
		_, err = bus.Snapshot(ctx)
		assert.ErrorIs(t, err, ErrBusNotStarted)
	})

	t.Run("invalid capacity aborts construction", func(t *testing.T) {
		_, err := NewBus(WithQueueCapacity(0))
		assert.Error(t, err)
	})

	t.Run("messages published before Start are delivered after it", func(t *testing.T) {
		bus, err := NewBus()
		require.NoError(t, err)
		h := &recorder[*ping]{}
		require.NoError(t, Subscribe[*ping](ctx, bus, h))
		require.NoError(t, bus.Publish(ctx, newPing(contracts.NilToken)))

		require.NoError(t, bus.Start(ctx))
		drain(t, bus)
		require.NoError(t, bus.Close(ctx))

		assert.Len(t, h.messages(), 1)
	})

	t.Run("Close drains queued messages then refuses new ones", func(t *testing.T) {
		bus, err := NewBus(WithQueueCapacity(8))
		require.NoError(t, err)
		var handled int32
		slow := Func(func(ctx context.Context, msg *ping) error {
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&handled, 1)
			return nil
		})
		require.NoError(t, Subscribe[*ping](ctx, bus, slow))
		require.NoError(t, bus.Start(ctx))

		for i := 0; i < 50; i++ {
			require.NoError(t, bus.Publish(ctx, newPing(contracts.NilToken)))
		}
		closeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		require.NoError(t, bus.Close(closeCtx))

		assert.Equal(t, int32(50), atomic.LoadInt32(&handled))
		assert.ErrorIs(t, bus.Publish(ctx, newPing(contracts.NilToken)), ErrBusClosed)
		assert.NoError(t, bus.Close(closeCtx))
		<-bus.Done()
	})

	t.Run("Close releases blocked publishers", func(t *testing.T) {
		bus, err := NewBus(WithQueueCapacity(1))
		require.NoError(t, err)
		require.NoError(t, bus.Publish(ctx, newPing(contracts.NilToken)))

		result := make(chan error, 1)
		go func() {
			result <- bus.Publish(ctx, newPing(contracts.NilToken))
		}()

		time.Sleep(20 * time.Millisecond)
		require.NoError(t, bus.Close(ctx))

		select {
		case err := <-result:
			assert.ErrorIs(t, err, ErrBusClosed)
		case <-time.After(time.Second):
			t.Fatal("publisher still blocked after Close")
		}
	})

	t.Run("Start is not held up by a publisher blocked on a full queue", func(t *testing.T) {
		bus, err := NewBus(WithQueueCapacity(1))
		require.NoError(t, err)
		h := &recorder[*ping]{}
		require.NoError(t, Subscribe[*ping](ctx, bus, h))

		result := make(chan error, 1)
		go func() {
			result <- bus.Publish(ctx, newPing(contracts.NilToken))
		}()
		time.Sleep(20 * time.Millisecond)

		started := make(chan error, 1)
		go func() {
			started <- bus.Start(ctx)
		}()

		select {
		case err := <-started:
			require.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("Start blocked behind a waiting publisher")
		}

		select {
		case err := <-result:
			require.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("publisher still blocked after Start")
		}

		drain(t, bus)
		assert.Len(t, h.messages(), 1)
		require.NoError(t, bus.Close(ctx))
	})
}

func TestBusBackpressure(t *testing.T) {
	ctx := context.Background()

	t.Run("Reject fails fast when the queue is full", func(t *testing.T) {
		observer := &recordingObserver{}
		bus, err := NewBus(WithQueueCapacity(1), WithBackpressure(Reject), WithObserver(observer))
		require.NoError(t, err)

		require.NoError(t, bus.Publish(ctx, newPing(contracts.NilToken)))
		assert.ErrorIs(t, bus.Publish(ctx, newPing(contracts.NilToken)), ErrQueueFull)
		assert.Equal(t, 1, observer.count(observability.EventMessageRejected))
	})

	t.Run("Block waits until the context is done", func(t *testing.T) {
		bus, err := NewBus(WithQueueCapacity(1))
		require.NoError(t, err)
		require.NoError(t, bus.Publish(ctx, newPing(contracts.NilToken)))

		timeoutCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()
		assert.ErrorIs(t, bus.Publish(timeoutCtx, newPing(contracts.NilToken)), context.DeadlineExceeded)
	})

	t.Run("handlers publishing from the pump never block", func(t *testing.T) {
		bus := startBus(t, WithQueueCapacity(1))
		fanOut := Func(func(ctx context.Context, msg *ping) error {
			for i := 0; i < 100; i++ {
				if err := bus.Publish(ctx, newPong(msg.GetCorrelationID(), i)); err != nil {
					return err
				}
			}
			return nil
		})
		pongs := &recorder[*pong]{}
		require.NoError(t, Subscribe[*ping](ctx, bus, fanOut))
		require.NoError(t, Subscribe[*pong](ctx, bus, pongs))

		require.NoError(t, bus.Publish(ctx, newPing(contracts.NewToken())))

		assert.Eventually(t, func() bool { return len(pongs.messages()) == 100 }, 2*time.Second, 5*time.Millisecond)
		for i, p := range pongs.messages() {
			assert.Equal(t, i, p.Value)
		}
	})
}

func TestSubscribeHelpers(t *testing.T) {
	ctx := context.Background()

	t.Run("SubscribeWithUnsubscribe returns a working cancel", func(t *testing.T) {
		bus := startBus(t)
		h := &recorder[*ping]{}
		unsubscribe, err := SubscribeWithUnsubscribe[*ping](ctx, bus, h)
		require.NoError(t, err)

		require.NoError(t, unsubscribe(ctx))
		require.NoError(t, bus.Publish(ctx, newPing(contracts.NilToken)))
		drain(t, bus)

		assert.Empty(t, h.messages())
	})

	t.Run("SubscribeFunc returns the identity to unsubscribe", func(t *testing.T) {
		bus := startBus(t)
		var calls int32
		h, err := SubscribeFunc(ctx, bus, func(ctx context.Context, msg *ping) error {
			atomic.AddInt32(&calls, 1)
			return nil
		})
		require.NoError(t, err)
		require.NoError(t, bus.Publish(ctx, newPing(contracts.NilToken)))
		require.NoError(t, Unsubscribe[*ping](ctx, bus, h))
		require.NoError(t, bus.Publish(ctx, newPing(contracts.NilToken)))
		drain(t, bus)

		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	})

	t.Run("PublishAll keeps order", func(t *testing.T) {
		bus := startBus(t)
		h := &recorder[*ping]{}
		require.NoError(t, Subscribe[*ping](ctx, bus, h))

		msgs := make([]contracts.Message, 0, 3)
		for i := 0; i < 3; i++ {
			p := newPing(contracts.NilToken)
			p.Seq = i
			msgs = append(msgs, p)
		}
		require.NoError(t, PublishAll(ctx, bus, msgs...))
		drain(t, bus)

		seen := h.messages()
		require.Len(t, seen, 3)
		assert.Equal(t, 2, seen[2].Seq)
	})

	t.Run("PublishAll stops at the first error", func(t *testing.T) {
		bus := startBus(t)
		err := PublishAll(ctx, bus, newPing(contracts.NilToken), nil)
		assert.ErrorIs(t, err, contracts.ErrNilMessage)
	})
}

type pingPongService struct {
	mu    sync.Mutex
	pings int
	pongs int
}

func (s *pingPongService) Capabilities() []Capability {
	return []Capability{
		HandlesFunc[*ping](s, s.onPing),
		HandlesFunc[*pong](s, s.onPong),
	}
}

func (s *pingPongService) onPing(ctx context.Context, msg *ping) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pings++
	return nil
}

func (s *pingPongService) onPong(ctx context.Context, msg *pong) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pongs++
	return nil
}

func (s *pingPongService) counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pings, s.pongs
}

func TestSubscribeAll(t *testing.T) {
	ctx := context.Background()

	t.Run("registers every declared capability", func(t *testing.T) {
		bus := startBus(t)
		svc := &pingPongService{}
		require.NoError(t, SubscribeAll(ctx, bus, svc))
		require.NoError(t, SubscribeAll(ctx, bus, svc))

		require.NoError(t, bus.Publish(ctx, newPing(contracts.NilToken)))
		require.NoError(t, bus.Publish(ctx, newPong(contracts.NilToken, 1)))
		snapshot := drain(t, bus)

		pings, pongs := svc.counts()
		assert.Equal(t, 1, pings)
		assert.Equal(t, 1, pongs)
		assert.Equal(t, 2, snapshot.Subscriptions())
	})

	t.Run("UnsubscribeAll removes them again", func(t *testing.T) {
		bus := startBus(t)
		svc := &pingPongService{}
		require.NoError(t, SubscribeAll(ctx, bus, svc))
		require.NoError(t, UnsubscribeAll(ctx, bus, svc))

		assert.Zero(t, drain(t, bus).Subscriptions())
	})

	t.Run("invalid capability subscribes nothing", func(t *testing.T) {
		bus := startBus(t)
		err := SubscribeAll(ctx, bus, capabilityList{
			Handles[*ping](&recorder[*ping]{}),
			Handles[*pong](nil),
		})

		assert.ErrorIs(t, err, contracts.ErrNilHandler)
		assert.Zero(t, drain(t, bus).Subscriptions())
	})
}

type capabilityList []Capability

func (c capabilityList) Capabilities() []Capability { return c }
