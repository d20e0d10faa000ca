// Package monitor collects in-memory metrics for a bus.
//
// A Collector is both an interceptors.MetricsCollector, fed by the metrics
// interceptor around every handler, and an observability.Observer, fed by the
// bus, the task bridge and circuit breakers. Summary returns a copy that is
// safe to inspect or serialize.
package monitor
