// Package bridge exposes request/response exchanges over a messaging.Bus as
// single-result futures.
//
// An exchange subscribes a one-shot handler for the response type scoped to
// the request's correlation token, publishes the request and resolves its
// Future with the first matching response. Timeouts, cancellation of the
// creating context and Close all resolve the future and withdraw the
// subscription, so nothing is left behind once an exchange completes.
//
// Basic usage:
//
//	tb, err := bridge.NewTaskBridge(bus, bridge.WithDefaultTimeout(5*time.Second))
//	if err != nil {
//	    return err
//	}
//
//	seats := bridge.Create(ctx, tb,
//	    func() *AllocateSeats { return NewAllocateSeats(orderID, 4) },
//	    func(reply *SeatsAllocated) []string { return reply.Seats },
//	)
//	allocated, err := seats.Wait(ctx)
//
// Publishing the request is retried with a reliability.RetryPolicy while the
// bus rejects it as full, and can be guarded by a circuit breaker.
package bridge
