package resilience

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/bulwark-io/bulwark/pkg/errors"
	"github.com/bulwark-io/bulwark/pkg/logging"
)

// RetryConfig holds configuration for retry logic
type RetryConfig struct {
	// MaxAttempts is the total number of attempts, including the first
	MaxAttempts int
	// BaseDelay is the delay before the first retry
	BaseDelay time.Duration
	// MaxDelay caps the exponential backoff
	MaxDelay time.Duration
	// BackoffMultiplier is the exponential growth factor (> 1)
	BackoffMultiplier float64
	// Jitter perturbs each delay by up to ±25% to avoid retry storms
	Jitter bool
	// RetryableKinds, when non-empty, acts as an allow-list: only
	// matching kinds are retried
	RetryableKinds []errors.ErrorType
	// NonRetryableKinds always stop the loop; it wins over
	// RetryableKinds when both match
	NonRetryableKinds []errors.ErrorType
	// Classify overrides kind-based classification entirely when set
	Classify func(error) bool
	// OnRetry fires before each wait. It must not panic or it aborts
	// the retry loop.
	OnRetry func(attempt int, err error, delay time.Duration)
	// Sink receives retry events; may be nil
	Sink EventSink
}

// DefaultRetryConfig returns a default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		BaseDelay:         100 * time.Millisecond,
		MaxDelay:          30 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
	}
}

// Retrier executes operations with exponential backoff
type Retrier struct {
	config       RetryConfig
	retryable    map[errors.ErrorType]bool
	nonRetryable map[errors.ErrorType]bool
	logger       *logging.Logger
}

// NewRetrier creates a new retrier with the given configuration
func NewRetrier(config RetryConfig) *Retrier {
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	if config.BaseDelay <= 0 {
		config.BaseDelay = 100 * time.Millisecond
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 30 * time.Second
	}
	if config.BackoffMultiplier <= 1 {
		config.BackoffMultiplier = 2.0
	}

	r := &Retrier{
		config:       config,
		retryable:    make(map[errors.ErrorType]bool, len(config.RetryableKinds)),
		nonRetryable: make(map[errors.ErrorType]bool, len(config.NonRetryableKinds)),
		logger:       logging.GetLogger(),
	}
	for _, kind := range config.RetryableKinds {
		r.retryable[kind] = true
	}
	for _, kind := range config.NonRetryableKinds {
		r.nonRetryable[kind] = true
	}
	return r
}

// shouldRetry classifies an error. Non-retryable kinds win; a non-empty
// retryable set acts as an allow-list; otherwise the kind table from
// pkg/errors decides.
func (r *Retrier) shouldRetry(err error) bool {
	if r.config.Classify != nil {
		return r.config.Classify(err)
	}
	kind := errors.GetType(err)
	if r.nonRetryable[kind] {
		return false
	}
	if IsCircuitOpenError(err) {
		return false
	}
	if len(r.retryable) > 0 {
		return r.retryable[kind]
	}
	return errors.Retryable(err)
}

// Execute runs the operation, retrying eligible failures. On
// exhaustion it returns *RetryExhaustedError wrapping the last error,
// also when MaxAttempts is 1 and no retry ever occurred.
func (r *Retrier) Execute(ctx context.Context, operationName string, operation func(context.Context) error) error {
	var lastErr error
	start := time.Now()

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := operation(ctx)
		if err == nil {
			if attempt > 1 {
				r.logger.Info("Operation succeeded after retry",
					"operation", operationName,
					"attempt", attempt,
				)
			}
			return nil
		}

		lastErr = err

		if !r.shouldRetry(err) {
			r.logger.Debug("Error is not retryable, stopping",
				"operation", operationName,
				"error", err.Error(),
				"attempt", attempt,
			)
			return err
		}

		if attempt == r.config.MaxAttempts {
			break
		}

		delay := r.nextDelay(attempt)

		emit(r.config.Sink, Event{
			Component: "retrier",
			Name:      operationName,
			Kind:      EventRetryAttempt,
			Timestamp: time.Now(),
			Fields: map[string]interface{}{
				"attempt": attempt,
				"delay":   delay.String(),
				"error":   err.Error(),
			},
		})

		if r.config.OnRetry != nil {
			r.config.OnRetry(attempt, err, delay)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	elapsed := time.Since(start)

	emit(r.config.Sink, Event{
		Component: "retrier",
		Name:      operationName,
		Kind:      EventRetryExhausted,
		Timestamp: time.Now(),
		Fields: map[string]interface{}{
			"attempts": r.config.MaxAttempts,
			"elapsed":  elapsed.String(),
		},
	})

	r.logger.Error("Operation failed after all retry attempts",
		"operation", operationName,
		"attempts", r.config.MaxAttempts,
		"elapsed", elapsed.String(),
		"error", lastErr.Error(),
	)

	return &RetryExhaustedError{
		Operation: operationName,
		Attempts:  r.config.MaxAttempts,
		Elapsed:   elapsed,
		Err:       lastErr,
	}
}

// ExecuteWithResult runs an operation that returns a value
func (r *Retrier) ExecuteWithResult(ctx context.Context, operationName string, operation func(context.Context) (interface{}, error)) (interface{}, error) {
	var result interface{}
	err := r.Execute(ctx, operationName, func(ctx context.Context) error {
		var err error
		result, err = operation(ctx)
		return err
	})
	return result, err
}

// nextDelay computes the backoff before attempt+1:
// min(MaxDelay, BaseDelay * multiplier^(attempt-1)), perturbed by ±25%
// when jitter is on, floored at zero.
func (r *Retrier) nextDelay(attempt int) time.Duration {
	delay := float64(r.config.BaseDelay) * math.Pow(r.config.BackoffMultiplier, float64(attempt-1))

	if delay > float64(r.config.MaxDelay) {
		delay = float64(r.config.MaxDelay)
	}

	if r.config.Jitter {
		delay *= 0.75 + rand.Float64()*0.5
	}

	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// RetryWithConfig is a convenience function to execute an operation with retry
func RetryWithConfig(ctx context.Context, config RetryConfig, operationName string, operation func(context.Context) error) error {
	return NewRetrier(config).Execute(ctx, operationName, operation)
}

// Retry executes an operation with the default retry configuration
func Retry(ctx context.Context, operationName string, operation func(context.Context) error) error {
	return RetryWithConfig(ctx, DefaultRetryConfig(), operationName, operation)
}

// RetryableOperation wraps an operation with both circuit breaker and
// retry logic: each attempt goes through the breaker.
type RetryableOperation struct {
	circuitBreaker *CircuitBreaker
	retrier        *Retrier
	name           string
}

// NewRetryableOperation creates a combined breaker-plus-retry wrapper
func NewRetryableOperation(name string, cbConfig CircuitBreakerConfig, retryConfig RetryConfig) *RetryableOperation {
	if cbConfig.Name == "" {
		cbConfig.Name = name
	}
	return &RetryableOperation{
		circuitBreaker: NewCircuitBreaker(cbConfig),
		retrier:        NewRetrier(retryConfig),
		name:           name,
	}
}

// Execute executes an operation guarded by the breaker, with retries
func (ro *RetryableOperation) Execute(ctx context.Context, operation func(context.Context) (interface{}, error)) (interface{}, error) {
	return ro.retrier.ExecuteWithResult(ctx, ro.name, func(ctx context.Context) (interface{}, error) {
		return ro.circuitBreaker.Execute(ctx, operation)
	})
}

// Breaker exposes the underlying circuit breaker
func (ro *RetryableOperation) Breaker() *CircuitBreaker {
	return ro.circuitBreaker
}
