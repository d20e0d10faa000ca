package seats

import (
	"errors"
	"fmt"

	"github.com/glimte/afterlocks/contracts"
)

// Every seat message is correlated by its order ID, so replies find the
// exchange that asked for them.

// AllocateSeats asks for Amount seats for an order
type AllocateSeats struct {
	contracts.BaseCommand
	OrderID contracts.Token `json:"orderId"`
	Amount  int             `json:"amount"`
}

// NewAllocateSeats creates an allocation request
func NewAllocateSeats(orderID contracts.Token, amount int) *AllocateSeats {
	return &AllocateSeats{
		BaseCommand: contracts.NewBaseCommand("AllocateSeats", orderID),
		OrderID:     orderID,
		Amount:      amount,
	}
}

// Failure codes carried by SeatsAllocated
const (
	CodeInsufficientSeats = "insufficient_seats"
	CodeInvalidAmount     = "invalid_amount"
)

// SeatsAllocated answers AllocateSeats. A failed allocation carries Code and
// Error and no seats.
type SeatsAllocated struct {
	contracts.BaseReply
	OrderID contracts.Token `json:"orderId"`
	Seats   []string        `json:"seats,omitempty"`
	Code    string          `json:"code,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// NewSeatsAllocated creates a successful allocation reply
func NewSeatsAllocated(orderID contracts.Token, seats []string) *SeatsAllocated {
	return &SeatsAllocated{
		BaseReply: contracts.NewBaseReply("SeatsAllocated", orderID),
		OrderID:   orderID,
		Seats:     seats,
	}
}

// NewAllocationFailed creates a failed allocation reply
func NewAllocationFailed(orderID contracts.Token, err error) *SeatsAllocated {
	reply := &SeatsAllocated{
		BaseReply: contracts.NewBaseReply("SeatsAllocated", orderID),
		OrderID:   orderID,
		Error:     err.Error(),
	}
	reply.Success = false
	switch {
	case errors.Is(err, ErrInsufficientSeats):
		reply.Code = CodeInsufficientSeats
	case errors.Is(err, ErrInvalidAmount):
		reply.Code = CodeInvalidAmount
	}
	return reply
}

// GetError rebuilds the allocation error so errors.Is matches the same
// sentinels the inventory returned
func (r *SeatsAllocated) GetError() error {
	if r.Success {
		return nil
	}
	switch r.Code {
	case CodeInsufficientSeats:
		return fmt.Errorf("%w (order %s)", ErrInsufficientSeats, r.OrderID)
	case CodeInvalidAmount:
		return fmt.Errorf("%w (order %s)", ErrInvalidAmount, r.OrderID)
	default:
		return fmt.Errorf("%w: %s", ErrAllocationFailed, r.Error)
	}
}

// GetSeatsForOrder queries the seats held by an order
type GetSeatsForOrder struct {
	contracts.BaseMessage
	OrderID contracts.Token `json:"orderId"`
}

// NewGetSeatsForOrder creates a seat query
func NewGetSeatsForOrder(orderID contracts.Token) *GetSeatsForOrder {
	return &GetSeatsForOrder{
		BaseMessage: contracts.NewCorrelatedMessage("GetSeatsForOrder", orderID),
		OrderID:     orderID,
	}
}

// SeatsForOrder answers GetSeatsForOrder
type SeatsForOrder struct {
	contracts.BaseReply
	OrderID contracts.Token `json:"orderId"`
	Seats   []AllocatedSeat `json:"seats"`
}

// NewSeatsForOrder creates a seat query reply
func NewSeatsForOrder(orderID contracts.Token, seats []AllocatedSeat) *SeatsForOrder {
	return &SeatsForOrder{
		BaseReply: contracts.NewBaseReply("SeatsForOrder", orderID),
		OrderID:   orderID,
		Seats:     seats,
	}
}

// SeatNumbers returns the seat numbers in allocation order
func (r *SeatsForOrder) SeatNumbers() []string {
	numbers := make([]string, len(r.Seats))
	for i, seat := range r.Seats {
		numbers[i] = seat.SeatNumber
	}
	return numbers
}

// CancelOrder releases every seat held by an order
type CancelOrder struct {
	contracts.BaseCommand
	OrderID contracts.Token `json:"orderId"`
}

// NewCancelOrder creates a cancellation request
func NewCancelOrder(orderID contracts.Token) *CancelOrder {
	return &CancelOrder{
		BaseCommand: contracts.NewBaseCommand("CancelOrder", orderID),
		OrderID:     orderID,
	}
}

// OrderCancelled answers CancelOrder
type OrderCancelled struct {
	contracts.BaseReply
	OrderID  contracts.Token `json:"orderId"`
	Released int             `json:"released"`
}

// NewOrderCancelled creates a cancellation reply
func NewOrderCancelled(orderID contracts.Token, released int) *OrderCancelled {
	return &OrderCancelled{
		BaseReply: contracts.NewBaseReply("OrderCancelled", orderID),
		OrderID:   orderID,
		Released:  released,
	}
}
