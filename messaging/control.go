package messaging

import (
	"time"

	"github.com/glimte/afterlocks/contracts"
)

// controlMessage marks the bus's own directives. They travel through the
// queue like any message but are delivered to their exact type only, skip
// the interceptor chain and never reach contracts.Message subscribers.
type controlMessage interface {
	contracts.Message
	isControl()
}

type control struct{}

func (control) GetID() string { return "" }

func (control) GetTimestamp() time.Time { return time.Time{} }

func (control) GetCorrelationID() contracts.Token { return contracts.NilToken }

func (control) isControl() {}

type subscribeCmd struct {
	control
	messageType contracts.MessageType
	reg         registration
}

func (*subscribeCmd) GetType() string { return "bus.subscribe" }

type unsubscribeCmd struct {
	control
	messageType contracts.MessageType
	handler     any
}

func (*unsubscribeCmd) GetType() string { return "bus.unsubscribe" }

type correlatedSubscribeCmd struct {
	control
	messageType contracts.MessageType
	token       contracts.Token
	reg         registration
}

func (*correlatedSubscribeCmd) GetType() string { return "bus.correlation.subscribe" }

type correlatedUnsubscribeCmd struct {
	control
	messageType contracts.MessageType
	token       contracts.Token
	handler     any
}

func (*correlatedUnsubscribeCmd) GetType() string { return "bus.correlation.unsubscribe" }

type sweepCmd struct {
	control
	done chan int
}

func (*sweepCmd) GetType() string { return "bus.correlation.sweep" }

type snapshotCmd struct {
	control
	reply chan Snapshot
}

func (*snapshotCmd) GetType() string { return "bus.snapshot" }

type stopCmd struct {
	control
}

func (*stopCmd) GetType() string { return "bus.stop" }

// Snapshot is a point-in-time view of the pump-owned registries
type Snapshot struct {
	// Handlers counts plain subscriptions per message type
	Handlers map[string]int
	// Correlations counts correlated subscriptions per message type, summed
	// over all tokens
	Correlations map[string]int
	// Tokens counts live correlation tokens per message type
	Tokens map[string]int
	// Backlog is the number of re-entrant publishes not yet dispatched
	Backlog int
	// Queued is the number of messages waiting in the ingress queue
	Queued int
}

// Subscriptions returns the total number of plain and correlated
// subscriptions
func (s Snapshot) Subscriptions() int {
	total := 0
	for _, n := range s.Handlers {
		total += n
	}
	for _, n := range s.Correlations {
		total += n
	}
	return total
}
