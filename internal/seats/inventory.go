package seats

import (
	"errors"
	"fmt"
	"slices"

	"github.com/glimte/afterlocks/contracts"
)

const (
	// Rows are lettered a through z
	Rows = 26
	// SeatsPerRow are numbered 0 through 99
	SeatsPerRow = 100
	// Capacity is the number of seats in the venue
	Capacity = Rows * SeatsPerRow
)

var (
	// ErrAllocationFailed is returned when an allocation cannot be satisfied
	ErrAllocationFailed = errors.New("seats: allocation failed")
	// ErrInsufficientSeats is returned when fewer seats are free than requested
	ErrInsufficientSeats = fmt.Errorf("%w: not enough unallocated seats", ErrAllocationFailed)
	// ErrInvalidAmount is returned for allocations of fewer than one seat
	ErrInvalidAmount = fmt.Errorf("%w: amount must be positive", ErrAllocationFailed)
)

// AllocatedSeat is a seat held by an order
type AllocatedSeat struct {
	OrderID    contracts.Token `json:"orderId"`
	SeatNumber string          `json:"seatNumber"`
}

// inventory is the seat state shared by both service implementations. It is
// not safe for concurrent use; LockedService guards it with a mutex and the
// Allocator only touches it from the pump.
type inventory struct {
	unallocated []string
	allocated   []AllocatedSeat
}

func newInventory() *inventory {
	inv := &inventory{
		unallocated: make([]string, 0, Capacity),
		allocated:   make([]AllocatedSeat, 0, Capacity),
	}
	for number := 0; number < SeatsPerRow; number++ {
		for row := 'a'; row < 'a'+Rows; row++ {
			inv.unallocated = append(inv.unallocated, fmt.Sprintf("%c%d", row, number))
		}
	}
	return inv
}

func (inv *inventory) allocate(orderID contracts.Token, amount int) ([]string, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if amount > len(inv.unallocated) {
		return nil, fmt.Errorf("%w: requested %d, %d left", ErrInsufficientSeats, amount, len(inv.unallocated))
	}

	taken := slices.Clone(inv.unallocated[:amount])
	inv.unallocated = slices.Delete(inv.unallocated, 0, amount)
	for _, seat := range taken {
		inv.allocated = append(inv.allocated, AllocatedSeat{OrderID: orderID, SeatNumber: seat})
	}
	return taken, nil
}

func (inv *inventory) seatsFor(orderID contracts.Token) []AllocatedSeat {
	var held []AllocatedSeat
	for _, seat := range inv.allocated {
		if seat.OrderID == orderID {
			held = append(held, seat)
		}
	}
	return held
}

// cancel returns the order's seats to the unallocated pool and reports how
// many were released
func (inv *inventory) cancel(orderID contracts.Token) int {
	held := inv.seatsFor(orderID)
	inv.allocated = slices.DeleteFunc(inv.allocated, func(seat AllocatedSeat) bool {
		return seat.OrderID == orderID
	})
	for _, seat := range held {
		inv.unallocated = append(inv.unallocated, seat.SeatNumber)
	}
	return len(held)
}

func (inv *inventory) available() int {
	return len(inv.unallocated)
}
