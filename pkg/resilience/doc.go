// Package resilience provides circuit breaking, retry with exponential
// backoff, and graceful degradation for calls to external dependencies.
//
// This package implements the following patterns:
//
// # Circuit Breaker Pattern
//
// The circuit breaker prevents cascading failures by counting consecutive
// failures per dependency and temporarily rejecting calls once a threshold
// is crossed. After a recovery timeout a single probe is let through; its
// outcome decides whether the circuit closes again.
//
//	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
//		Name:             "payment-gateway",
//		FailureThreshold: 5,
//		RecoveryTimeout:  60 * time.Second,
//	})
//
//	result, err := cb.Execute(ctx, func(ctx context.Context) (interface{}, error) {
//		return gateway.Charge(ctx, order)
//	})
//
// # Retry with Exponential Backoff
//
// The retry mechanism automatically retries failed operations with
// exponential backoff and jitter to avoid thundering herd problems.
// Errors are classified by kind; non-retryable kinds fail immediately.
//
//	retrier := resilience.NewRetrier(resilience.DefaultRetryConfig())
//	err := retrier.Execute(ctx, "fetch-profile", func(ctx context.Context) error {
//		return profileService.Fetch(ctx, userID)
//	})
//
// # Graceful Degradation
//
// The degradation manager wraps a primary operation with a priority-ordered
// chain of fallback strategies. When the primary fails, fallbacks run in
// descending priority order and the first success wins. A background loop
// health-checks the registered strategies and escalates when an episode
// runs too long.
//
//	dm := resilience.NewDegradationManager(resilience.DefaultDegradationConfig("search"))
//	dm.AddFallback(resilience.FallbackStrategy{
//		Name:     "cached-results",
//		Priority: 100,
//		Execute:  serveFromCache,
//	})
//
//	result, err := dm.Execute(ctx, "search", primarySearch)
//
// # Error Alerting
//
// The alerting system generates and routes alerts based on error patterns
// and prolonged degradation episodes.
//
//	am := resilience.NewAlertManager()
//	am.AddHandler(resilience.NewLoggingAlertHandler())
//
//	eag := resilience.NewErrorAlertGenerator(am)
//	eag.HandleError(ctx, err, "payment-gateway", metadata)
//
// # Combined Usage
//
// For maximum resilience, combine breaker and retry using RetryableOperation:
//
//	op := resilience.NewRetryableOperation("payment-gateway", cbConfig, retryConfig)
//	result, err := op.Execute(ctx, func(ctx context.Context) (interface{}, error) {
//		return gateway.Charge(ctx, order)
//	})
//
// A Registry hands out one breaker and one degradation manager per named
// dependency so concurrent callers share state.
//
// The package is designed to be thread-safe and can handle high-concurrency
// scenarios typical in distributed systems.
package resilience
