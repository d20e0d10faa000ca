package seats

import (
	"context"
	"log/slog"
	"sync"

	"github.com/glimte/afterlocks/bridge"
	"github.com/glimte/afterlocks/contracts"
	"github.com/glimte/afterlocks/messaging"
)

// Service books seats for orders. Both implementations behave the same; they
// differ only in how they keep the inventory consistent under concurrency.
type Service interface {
	Allocate(ctx context.Context, amount int, orderID contracts.Token) error
	SeatsForOrder(ctx context.Context, orderID contracts.Token) ([]string, error)
	CancelOrder(ctx context.Context, orderID contracts.Token) error
}

// LockedService guards the inventory with a mutex
type LockedService struct {
	mu  sync.Mutex
	inv *inventory
}

// NewLockedService creates a lock-based service with a full venue
func NewLockedService() *LockedService {
	return &LockedService{inv: newInventory()}
}

// Allocate implements Service
func (s *LockedService) Allocate(ctx context.Context, amount int, orderID contracts.Token) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.inv.allocate(orderID, amount)
	return err
}

// SeatsForOrder implements Service
func (s *LockedService) SeatsForOrder(ctx context.Context, orderID contracts.Token) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	held := s.inv.seatsFor(orderID)
	s.mu.Unlock()

	numbers := make([]string, len(held))
	for i, seat := range held {
		numbers[i] = seat.SeatNumber
	}
	return numbers, nil
}

// CancelOrder implements Service
func (s *LockedService) CancelOrder(ctx context.Context, orderID contracts.Token) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inv.cancel(orderID)
	return nil
}

// Publisher is the part of the bus the Allocator replies through
type Publisher interface {
	Publish(ctx context.Context, msg contracts.Message) error
}

// Allocator owns an inventory and serves seat requests from the bus. Its
// handlers run on the pump only, so the inventory needs no lock.
type Allocator struct {
	inv       *inventory
	publisher Publisher
	logger    *slog.Logger
}

// NewAllocator creates an allocator that replies through publisher
func NewAllocator(publisher Publisher, logger *slog.Logger) *Allocator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Allocator{inv: newInventory(), publisher: publisher, logger: logger}
}

// Capabilities implements messaging.CapabilityProvider
func (a *Allocator) Capabilities() []messaging.Capability {
	return []messaging.Capability{
		messaging.HandlesFunc(a, a.allocate),
		messaging.HandlesFunc(a, a.seatsForOrder),
		messaging.HandlesFunc(a, a.cancelOrder),
	}
}

func (a *Allocator) allocate(ctx context.Context, msg *AllocateSeats) error {
	taken, err := a.inv.allocate(msg.OrderID, msg.Amount)
	if err != nil {
		a.logger.WarnContext(ctx, "allocation refused",
			"orderId", msg.OrderID.String(),
			"amount", msg.Amount,
			"available", a.inv.available(),
			"error", err,
		)
		return a.publisher.Publish(ctx, NewAllocationFailed(msg.OrderID, err))
	}
	return a.publisher.Publish(ctx, NewSeatsAllocated(msg.OrderID, taken))
}

func (a *Allocator) seatsForOrder(ctx context.Context, msg *GetSeatsForOrder) error {
	return a.publisher.Publish(ctx, NewSeatsForOrder(msg.OrderID, a.inv.seatsFor(msg.OrderID)))
}

func (a *Allocator) cancelOrder(ctx context.Context, msg *CancelOrder) error {
	released := a.inv.cancel(msg.OrderID)
	return a.publisher.Publish(ctx, NewOrderCancelled(msg.OrderID, released))
}

// MessagingService implements Service by exchanging messages with an
// Allocator through a task bridge
type MessagingService struct {
	tb   *bridge.TaskBridge
	opts []bridge.ExchangeOption
}

// NewMessagingService creates a bus-based service; opts apply to every exchange
func NewMessagingService(tb *bridge.TaskBridge, opts ...bridge.ExchangeOption) *MessagingService {
	return &MessagingService{tb: tb, opts: opts}
}

// Allocate implements Service
func (s *MessagingService) Allocate(ctx context.Context, amount int, orderID contracts.Token) error {
	failure, err := bridge.Create(ctx, s.tb,
		func() *AllocateSeats { return NewAllocateSeats(orderID, amount) },
		func(reply *SeatsAllocated) error { return reply.GetError() },
		s.opts...,
	).Wait(ctx)
	if err != nil {
		return err
	}
	return failure
}

// SeatsForOrder implements Service
func (s *MessagingService) SeatsForOrder(ctx context.Context, orderID contracts.Token) ([]string, error) {
	return bridge.Create(ctx, s.tb,
		func() *GetSeatsForOrder { return NewGetSeatsForOrder(orderID) },
		(*SeatsForOrder).SeatNumbers,
		s.opts...,
	).Wait(ctx)
}

// CancelOrder implements Service
func (s *MessagingService) CancelOrder(ctx context.Context, orderID contracts.Token) error {
	_, err := bridge.Send[*CancelOrder, *OrderCancelled](ctx, s.tb,
		func() *CancelOrder { return NewCancelOrder(orderID) },
		s.opts...,
	).Wait(ctx)
	return err
}

var (
	_ Service                      = (*LockedService)(nil)
	_ Service                      = (*MessagingService)(nil)
	_ messaging.CapabilityProvider = (*Allocator)(nil)
)
