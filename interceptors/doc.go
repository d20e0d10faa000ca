// Package interceptors provides the chain that wraps every handler invocation
// performed by the bus dispatcher.
//
// The chain runs on the pump goroutine once per (message, handler) pair and
// sees an Invocation: the message, the type key the handler was registered
// under and the handler name. Built-in interceptors cover logging, metrics,
// validation, filtering, error handling, retries and circuit breaking.
//
//	chain := interceptors.NewChainBuilder(logger).
//		WithLogging().
//		WithMetrics(collector).
//		WithCustom(interceptors.When(
//			interceptors.MessageTypes(contracts.TypeOf[contracts.Command]()),
//			interceptors.NewRetryInterceptor(reliability.NewFixedDelay(time.Millisecond, 3)),
//		)).
//		Build()
//
//	bus, err := messaging.NewBus(messaging.WithInterceptors(chain))
//
// Interceptors run in the order they were added, the handler last. They must
// not hand the invocation to another goroutine; a handler running off the pump
// would race with it.
package interceptors
