// Package afterlocks is an in-process message bus whose dispatch state is
// owned by a single goroutine, so components exchange typed messages without
// sharing lock-protected state.
//
// The Client wires the pieces together from one configuration:
//
//	client, err := afterlocks.NewClientFromFile("afterlocks.yaml")
//	if err != nil {
//	    return err
//	}
//	if err := client.Start(ctx); err != nil {
//	    return err
//	}
//	defer client.Close(ctx)
//
//	err = messaging.SubscribeAll(ctx, client.Bus(), allocator)
//	seats, err := bridge.Create(ctx, client.Bridge(), newRequest, project).Wait(ctx)
//
// See the messaging package for the bus itself and the bridge package for
// request/response exchanges.
package afterlocks
