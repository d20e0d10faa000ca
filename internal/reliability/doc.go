// Package reliability provides the retry policies and circuit breaker used
// around handler invocations and around TaskBridge request publishing.
//
//   - Retry policies: exponential backoff and fixed delay, optionally narrowed
//     to specific errors with RetryWhen / RetryOn
//   - Circuit breaker: stops calling a failing function for a cool-down period
//
// Example usage:
//
//	policy := reliability.RetryOn(reliability.NewFixedDelay(5*time.Millisecond, 3), messaging.ErrQueueFull)
//	err := reliability.Retry(ctx, policy, func() error {
//	    return bus.Publish(ctx, msg)
//	})
package reliability
