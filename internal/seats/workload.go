package seats

import (
	"context"
	"errors"
	"math/rand/v2"

	"golang.org/x/sync/errgroup"

	"github.com/glimte/afterlocks/contracts"
)

// Booking is the outcome of one simulated customer
type Booking struct {
	OrderID   contracts.Token
	Seats     []string
	Cancelled bool
	// Rejected is set when the venue had too few seats left
	Rejected bool
}

// Workload describes a batch of concurrent customers. Each one allocates
// 1 to MaxSeats seats, reads them back and, with CancelPercent probability,
// cancels the order again.
type Workload struct {
	Orders        int
	MaxSeats      int
	CancelPercent int
	// Concurrency caps in-flight customers; 0 runs all of them at once
	Concurrency int
	Seed        uint64
}

// DefaultWorkload mirrors the classic demo: a thousand customers, up to four
// seats each, roughly a quarter of them cancelling
func DefaultWorkload() Workload {
	return Workload{Orders: 1000, MaxSeats: 4, CancelPercent: 24, Seed: 1}
}

type plan struct {
	orderID contracts.Token
	amount  int
	cancel  bool
}

// Run drives the workload against svc and returns one booking per order in
// order of submission. The first non-allocation error aborts the run.
func (w Workload) Run(ctx context.Context, svc Service) ([]Booking, error) {
	rng := rand.New(rand.NewPCG(w.Seed, w.Seed^0x9e3779b97f4a7c15))
	plans := make([]plan, w.Orders)
	for i := range plans {
		plans[i] = plan{
			orderID: contracts.NewToken(),
			amount:  1 + rng.IntN(max(w.MaxSeats, 1)),
			cancel:  rng.IntN(100) < w.CancelPercent,
		}
	}

	bookings := make([]Booking, len(plans))
	g, ctx := errgroup.WithContext(ctx)
	if w.Concurrency > 0 {
		g.SetLimit(w.Concurrency)
	}
	for i, p := range plans {
		g.Go(func() error {
			booking, err := book(ctx, svc, p)
			bookings[i] = booking
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return bookings, nil
}

func book(ctx context.Context, svc Service, p plan) (Booking, error) {
	booking := Booking{OrderID: p.orderID}

	if err := svc.Allocate(ctx, p.amount, p.orderID); err != nil {
		if errors.Is(err, ErrInsufficientSeats) {
			booking.Rejected = true
			return booking, nil
		}
		return booking, err
	}

	seats, err := svc.SeatsForOrder(ctx, p.orderID)
	if err != nil {
		return booking, err
	}
	booking.Seats = seats

	if p.cancel {
		if err := svc.CancelOrder(ctx, p.orderID); err != nil {
			return booking, err
		}
		booking.Cancelled = true
	}
	return booking, nil
}

// Held returns the seats of every booking that was neither cancelled nor
// rejected
func Held(bookings []Booking) []string {
	var held []string
	for _, b := range bookings {
		if !b.Cancelled && !b.Rejected {
			held = append(held, b.Seats...)
		}
	}
	return held
}
