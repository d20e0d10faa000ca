package messaging

import (
	"context"
	"fmt"
	"strings"

	"github.com/glimte/afterlocks/contracts"
)

// BackpressurePolicy decides what Publish does when the queue is full
type BackpressurePolicy int

const (
	// Block waits for a free slot until the publish context is done
	Block BackpressurePolicy = iota
	// Reject fails immediately with ErrQueueFull
	Reject
)

func (p BackpressurePolicy) String() string {
	switch p {
	case Block:
		return "block"
	case Reject:
		return "reject"
	default:
		return "unknown"
	}
}

// ParseBackpressurePolicy parses "block" or "reject"
func ParseBackpressurePolicy(s string) (BackpressurePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "block":
		return Block, nil
	case "reject":
		return Reject, nil
	default:
		return Block, fmt.Errorf("unknown backpressure policy %q", s)
	}
}

// queue is the bounded multi-producer ingress channel drained by the pump
type queue struct {
	ch      chan contracts.Message
	policy  BackpressurePolicy
	closing chan struct{}
}

func newQueue(capacity int, policy BackpressurePolicy) *queue {
	return &queue{
		ch:      make(chan contracts.Message, capacity),
		policy:  policy,
		closing: make(chan struct{}),
	}
}

func (q *queue) enqueue(ctx context.Context, msg contracts.Message) error {
	select {
	case q.ch <- msg:
		return nil
	default:
	}

	if q.policy == Reject {
		return ErrQueueFull
	}

	select {
	case q.ch <- msg:
		return nil
	case <-q.closing:
		return ErrBusClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *queue) len() int {
	return len(q.ch)
}
