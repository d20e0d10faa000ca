// Package messaging provides the in-process bus: a type-hierarchy-aware
// dispatcher, a bounded ingress queue drained by a single pump goroutine, and
// correlation-scoped subscriptions for request/reply matching.
//
// The pump is the only goroutine that reads or writes dispatch and
// correlation state. Producers only enqueue, and subscription changes travel
// through the same queue as domain messages, so none of that state needs a
// lock.
//
//   - Bus: Publish, Start, Close, Snapshot
//   - Dispatcher: routes to the runtime type, declared supertypes, then contracts.Message
//   - CorrelationManager: per-type token tables, pruned on unsubscribe and swept by TTL
//   - Janitor: cron-scheduled correlation sweeps
//
// Example usage:
//
//	bus, err := messaging.NewBus(messaging.WithQueueCapacity(1024))
//	if err != nil {
//		return err
//	}
//	if err := bus.Start(ctx); err != nil {
//		return err
//	}
//	defer bus.Close(ctx)
//
//	pings := messaging.Func(func(ctx context.Context, msg *Ping) error {
//		return bus.Publish(ctx, NewPong(msg.GetCorrelationID()))
//	})
//	if err := messaging.Subscribe[*Ping](ctx, bus, pings); err != nil {
//		return err
//	}
//
// Handlers run on the pump. They must publish with the context they receive,
// and must not wait for a reply to their own publish, which would stall the
// pump.
package messaging
