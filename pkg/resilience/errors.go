package resilience

import (
	"errors"
	"fmt"
	"time"
)

// CircuitOpenError is returned when a breaker sheds a call instead of
// invoking the protected operation.
type CircuitOpenError struct {
	Name       string
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker '%s' is open, retry after %s", e.Name, e.RetryAfter)
}

// RetryAfterSeconds returns the retry hint rounded up to whole seconds.
func (e *CircuitOpenError) RetryAfterSeconds() int {
	secs := int((e.RetryAfter + time.Second - 1) / time.Second)
	if secs < 0 {
		return 0
	}
	return secs
}

// IsCircuitOpenError checks if an error is a circuit breaker rejection
func IsCircuitOpenError(err error) bool {
	var cbErr *CircuitOpenError
	return errors.As(err, &cbErr)
}

// RetryExhaustedError is returned when all retry attempts have been
// consumed. It wraps the last underlying error.
type RetryExhaustedError struct {
	Operation string
	Attempts  int
	Elapsed   time.Duration
	Err       error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("operation '%s' failed after %d attempts in %s: %v",
		e.Operation, e.Attempts, e.Elapsed, e.Err)
}

func (e *RetryExhaustedError) Unwrap() error {
	return e.Err
}

// IsRetryExhaustedError checks if an error is a retry exhaustion
func IsRetryExhaustedError(err error) bool {
	var reErr *RetryExhaustedError
	return errors.As(err, &reErr)
}

// ServiceUnavailableError is returned by the degradation manager when
// the primary operation and every fallback strategy have failed.
type ServiceUnavailableError struct {
	Operation string
	Primary   error
	Fallback  error
}

func (e *ServiceUnavailableError) Error() string {
	if e.Fallback != nil {
		return fmt.Sprintf("operation '%s' unavailable: primary failed (%v), last fallback failed (%v)",
			e.Operation, e.Primary, e.Fallback)
	}
	return fmt.Sprintf("operation '%s' unavailable: primary failed (%v), no fallback available",
		e.Operation, e.Primary)
}

// Unwrap exposes the primary error for errors.Is/As chains.
func (e *ServiceUnavailableError) Unwrap() error {
	return e.Primary
}

// IsServiceUnavailableError checks if an error is a fallback exhaustion
func IsServiceUnavailableError(err error) bool {
	var suErr *ServiceUnavailableError
	return errors.As(err, &suErr)
}
