package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/bulwark-io/bulwark/pkg/errors"
	"github.com/bulwark-io/bulwark/pkg/logging"
)

// CircuitState represents the state of the circuit breaker
type CircuitState int

const (
	// StateClosed - circuit is closed, requests are allowed
	StateClosed CircuitState = iota
	// StateOpen - circuit is open, requests are rejected
	StateOpen
	// StateHalfOpen - circuit is half-open, a single probe is allowed
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// CircuitBreakerConfig holds configuration for the circuit breaker
type CircuitBreakerConfig struct {
	// Name of the protected dependency, used for logging/metrics
	Name string
	// FailureThreshold is the number of consecutive counted failures
	// that trips the breaker from closed to open
	FailureThreshold uint32
	// RecoveryTimeout is how long the breaker stays open before
	// admitting a probe
	RecoveryTimeout time.Duration
	// ExcludedKinds are error kinds that pass through untouched and
	// never count toward the failure threshold (e.g. validation errors
	// the dependency returned on purpose)
	ExcludedKinds []errors.ErrorType
	// Clock is injectable for deterministic tests; defaults to the
	// system clock
	Clock Clock
	// Sink receives state changes and rejections; may be nil
	Sink EventSink
}

// DefaultCircuitBreakerConfig returns the documented defaults.
func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:             name,
		FailureThreshold: 5,
		RecoveryTimeout:  60 * time.Second,
	}
}

// BreakerStats is a read-only snapshot of breaker state.
type BreakerStats struct {
	Name                string     `json:"name"`
	State               string     `json:"state"`
	ConsecutiveFailures uint32     `json:"consecutive_failures"`
	Requests            uint64     `json:"requests"`
	Successes           uint64     `json:"successes"`
	LastFailureTime     *time.Time `json:"last_failure_time,omitempty"`
	NextAttemptTime     *time.Time `json:"next_attempt_time,omitempty"`
}

// CircuitBreaker guards a single named dependency. It sheds load while
// open and admits exactly one probe while half-open.
type CircuitBreaker struct {
	name             string
	failureThreshold uint32
	recoveryTimeout  time.Duration
	excluded         map[errors.ErrorType]bool
	clock            Clock
	sink             EventSink
	logger           *logging.Logger

	mutex               sync.Mutex
	state               CircuitState
	consecutiveFailures uint32
	lastFailureTime     time.Time
	nextAttemptTime     time.Time
	requestCount        uint64
	successCount        uint64
	probeInFlight       bool
}

// NewCircuitBreaker creates a new circuit breaker with the given configuration
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 5
	}
	if config.RecoveryTimeout <= 0 {
		config.RecoveryTimeout = 60 * time.Second
	}
	if config.Clock == nil {
		config.Clock = SystemClock()
	}

	excluded := make(map[errors.ErrorType]bool, len(config.ExcludedKinds))
	for _, kind := range config.ExcludedKinds {
		excluded[kind] = true
	}

	return &CircuitBreaker{
		name:             config.Name,
		failureThreshold: config.FailureThreshold,
		recoveryTimeout:  config.RecoveryTimeout,
		excluded:         excluded,
		clock:            config.Clock,
		sink:             config.Sink,
		logger:           logging.GetLogger(),
		state:            StateClosed,
	}
}

// Execute runs the operation if the breaker admits it. While open it
// fails fast with *CircuitOpenError and the operation is never invoked.
func (cb *CircuitBreaker) Execute(ctx context.Context, operation func(context.Context) (interface{}, error)) (interface{}, error) {
	if err := cb.beforeRequest(); err != nil {
		return nil, err
	}

	defer func() {
		if r := recover(); r != nil {
			cb.afterRequest(nil, false)
			panic(r)
		}
	}()

	result, err := operation(ctx)
	if err == nil {
		cb.afterRequest(nil, true)
		return result, nil
	}

	if cb.excluded[errors.GetType(err)] {
		// Expected errors pass through untouched and do not count
		// toward the threshold.
		cb.afterRequest(err, true)
		return result, err
	}

	cb.afterRequest(err, false)
	return result, err
}

// Call is a convenience method for operations that don't need a context
func (cb *CircuitBreaker) Call(fn func() (interface{}, error)) (interface{}, error) {
	return cb.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		return fn()
	})
}

func (cb *CircuitBreaker) beforeRequest() error {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	now := cb.clock.Now()

	switch cb.state {
	case StateOpen:
		if now.Before(cb.nextAttemptTime) {
			retryAfter := cb.nextAttemptTime.Sub(now)
			cb.emitLocked(EventCallRejected, map[string]interface{}{
				"state":       cb.state.String(),
				"retry_after": retryAfter.String(),
			})
			return &CircuitOpenError{Name: cb.name, RetryAfter: retryAfter}
		}
		// Cooldown elapsed: this call becomes the half-open probe.
		cb.setStateLocked(StateHalfOpen, now)
		cb.probeInFlight = true
	case StateHalfOpen:
		if cb.probeInFlight {
			cb.emitLocked(EventCallRejected, map[string]interface{}{
				"state":  cb.state.String(),
				"reason": "probe in flight",
			})
			return &CircuitOpenError{Name: cb.name, RetryAfter: cb.recoveryTimeout}
		}
		cb.probeInFlight = true
	}

	cb.requestCount++
	return nil
}

func (cb *CircuitBreaker) afterRequest(err error, success bool) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	now := cb.clock.Now()
	cb.probeInFlight = false

	if success {
		cb.onSuccess(err, now)
	} else {
		cb.onFailure(now)
	}
}

func (cb *CircuitBreaker) onSuccess(err error, now time.Time) {
	if err == nil {
		cb.successCount++
		cb.consecutiveFailures = 0
	}
	// An excluded error still resolves a half-open probe: the
	// dependency answered, so it is reachable.
	if cb.state == StateHalfOpen {
		cb.consecutiveFailures = 0
		cb.setStateLocked(StateClosed, now)
	}
}

func (cb *CircuitBreaker) onFailure(now time.Time) {
	cb.consecutiveFailures++
	cb.lastFailureTime = now

	switch cb.state {
	case StateClosed:
		if cb.consecutiveFailures >= cb.failureThreshold {
			cb.setStateLocked(StateOpen, now)
		}
	case StateHalfOpen:
		cb.setStateLocked(StateOpen, now)
	}
}

// setStateLocked transitions state and maintains the invariant that
// nextAttemptTime is set iff the breaker is open. Caller holds mutex.
func (cb *CircuitBreaker) setStateLocked(state CircuitState, now time.Time) {
	if cb.state == state {
		return
	}

	prev := cb.state
	cb.state = state

	if state == StateOpen {
		cb.nextAttemptTime = now.Add(cb.recoveryTimeout)
	} else {
		cb.nextAttemptTime = time.Time{}
	}
	if state != StateHalfOpen {
		cb.probeInFlight = false
	}

	cb.emitLocked(EventStateChange, map[string]interface{}{
		"from": prev.String(),
		"to":   state.String(),
	})

	cb.logger.Info("Circuit breaker state changed",
		"name", cb.name,
		"from", prev.String(),
		"to", state.String(),
		"consecutive_failures", cb.consecutiveFailures,
	)
}

func (cb *CircuitBreaker) emitLocked(kind EventKind, fields map[string]interface{}) {
	emit(cb.sink, Event{
		Component: "circuit_breaker",
		Name:      cb.name,
		Kind:      kind,
		Timestamp: cb.clock.Now(),
		Fields:    fields,
	})
}

// State returns the current state of the circuit breaker
func (cb *CircuitBreaker) State() CircuitState {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.state
}

// Name returns the name of the circuit breaker
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Stats returns a read-only snapshot of the breaker
func (cb *CircuitBreaker) Stats() BreakerStats {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	stats := BreakerStats{
		Name:                cb.name,
		State:               cb.state.String(),
		ConsecutiveFailures: cb.consecutiveFailures,
		Requests:            cb.requestCount,
		Successes:           cb.successCount,
	}
	if !cb.lastFailureTime.IsZero() {
		t := cb.lastFailureTime
		stats.LastFailureTime = &t
	}
	if !cb.nextAttemptTime.IsZero() {
		t := cb.nextAttemptTime
		stats.NextAttemptTime = &t
	}
	return stats
}

// ForceOpen is an administrative override that opens the breaker
// regardless of its counters. Intended for testing and incident
// response.
func (cb *CircuitBreaker) ForceOpen() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	now := cb.clock.Now()
	cb.setStateLocked(StateOpen, now)
	cb.emitLocked(EventAdminOverride, map[string]interface{}{"override": "force_open"})
}

// ForceClose is an administrative override that closes the breaker
// regardless of its counters.
func (cb *CircuitBreaker) ForceClose() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.consecutiveFailures = 0
	cb.setStateLocked(StateClosed, cb.clock.Now())
	cb.emitLocked(EventAdminOverride, map[string]interface{}{"override": "force_close"})
}

// Reset returns the breaker to its documented initial state: closed,
// zero counters, no timestamps.
func (cb *CircuitBreaker) Reset() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.setStateLocked(StateClosed, cb.clock.Now())
	cb.consecutiveFailures = 0
	cb.requestCount = 0
	cb.successCount = 0
	cb.lastFailureTime = time.Time{}
	cb.nextAttemptTime = time.Time{}
	cb.probeInFlight = false
	cb.emitLocked(EventAdminOverride, map[string]interface{}{"override": "reset"})
}
