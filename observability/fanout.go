package observability

import "context"

// NoOpObserver is what buses, dispatchers and bridges report to when no
// observer is configured.
type NoOpObserver struct{}

func (NoOpObserver) OnEvent(context.Context, Event) {}

// Fanout hands each event to several observers in order. A client uses one
// to feed its metrics collector, its slog observer and any configured extras.
//
// Pump and correlation events are emitted on the pump goroutine, so every
// member must return quickly.
type Fanout []Observer

// NewFanout combines observers, dropping nils. It returns NoOpObserver when
// nothing is left and the sole observer unwrapped when only one is.
func NewFanout(observers ...Observer) Observer {
	members := make(Fanout, 0, len(observers))
	for _, obs := range observers {
		if obs != nil {
			members = append(members, obs)
		}
	}

	switch len(members) {
	case 0:
		return NoOpObserver{}
	case 1:
		return members[0]
	}
	return members
}

func (f Fanout) OnEvent(ctx context.Context, event Event) {
	for _, obs := range f {
		obs.OnEvent(ctx, event)
	}
}
