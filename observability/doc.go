// Package observability provides the hook through which the bus reports what
// happens on the pump: isolated handler failures, rejected publishes, expired
// correlation entries, exchange timeouts and lifecycle changes.
//
// The bus never lets a failing handler stop dispatch; instead it emits an
// Event to the configured Observer and carries on with the next handler.
//
//	obs := observability.NewFanout(
//	    observability.NewSlogObserver(logger),
//	    monitor.NewCollector(),
//	)
//	bus, err := messaging.NewBus(messaging.WithObserver(obs))
package observability
