package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/bulwark-io/bulwark/pkg/errors"
)

// fakeClock is a manually advanced clock shared by the tests in this
// package.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestCircuitBreaker_StaysClosedOnSuccess(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "test-cb",
		FailureThreshold: 3,
		RecoveryTimeout:  time.Second,
	})

	assert.Equal(t, StateClosed, cb.State())

	for i := 0; i < 5; i++ {
		result, err := cb.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
			return "success", nil
		})
		require.NoError(t, err)
		assert.Equal(t, "success", result)
	}

	assert.Equal(t, StateClosed, cb.State())
	stats := cb.Stats()
	assert.Equal(t, uint64(5), stats.Requests)
	assert.Equal(t, uint64(5), stats.Successes)
	assert.Equal(t, uint32(0), stats.ConsecutiveFailures)
}

func TestCircuitBreaker_OpensAtExactThreshold(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "test-cb",
		FailureThreshold: 3,
		RecoveryTimeout:  time.Second,
	})

	for i := 0; i < 2; i++ {
		_, err := cb.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
			return nil, errors.New("boom")
		})
		require.Error(t, err)
		assert.Equal(t, StateClosed, cb.State())
	}

	// Third consecutive failure trips it
	_, err := cb.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		return nil, errors.New("boom")
	})
	require.Error(t, err)
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_SuccessResetsFailureStreak(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "test-cb",
		FailureThreshold: 3,
		RecoveryTimeout:  time.Second,
	})

	for i := 0; i < 2; i++ {
		cb.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
			return nil, errors.New("boom")
		})
	}

	_, err := cb.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		return "ok", nil
	})
	require.NoError(t, err)

	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, uint32(0), cb.Stats().ConsecutiveFailures)

	// The streak starts over: two more failures must not trip it
	for i := 0; i < 2; i++ {
		cb.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
			return nil, errors.New("boom")
		})
	}
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_RejectsWhileOpen(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "test-cb",
		FailureThreshold: 2,
		RecoveryTimeout:  time.Minute,
		Clock:            clock,
	})

	for i := 0; i < 2; i++ {
		cb.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
			return nil, errors.New("boom")
		})
	}
	require.Equal(t, StateOpen, cb.State())

	invoked := 0
	_, err := cb.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		invoked++
		return "should not run", nil
	})
	require.Error(t, err)
	assert.Equal(t, 0, invoked, "operation must not be invoked while open")

	var coe *CircuitOpenError
	require.ErrorAs(t, err, &coe)
	assert.Equal(t, "test-cb", coe.Name)
	assert.Equal(t, time.Minute, coe.RetryAfter)
	assert.Equal(t, 60, coe.RetryAfterSeconds())

	// A rejected call does not count as a request
	assert.Equal(t, uint64(2), cb.Stats().Requests)
}

func TestCircuitBreaker_HalfOpenProbeSuccessCloses(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "test-cb",
		FailureThreshold: 2,
		RecoveryTimeout:  time.Minute,
		Clock:            clock,
	})

	for i := 0; i < 2; i++ {
		cb.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
			return nil, errors.New("boom")
		})
	}
	require.Equal(t, StateOpen, cb.State())

	clock.Advance(time.Minute)

	result, err := cb.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		assert.Equal(t, StateHalfOpen, cb.State())
		return "probe ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "probe ok", result)
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, uint32(0), cb.Stats().ConsecutiveFailures)
	assert.Nil(t, cb.Stats().NextAttemptTime)
}

func TestCircuitBreaker_HalfOpenProbeFailureReopens(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "test-cb",
		FailureThreshold: 2,
		RecoveryTimeout:  time.Minute,
		Clock:            clock,
	})

	for i := 0; i < 2; i++ {
		cb.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
			return nil, errors.New("boom")
		})
	}
	clock.Advance(time.Minute)

	_, err := cb.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		return nil, errors.New("still down")
	})
	require.Error(t, err)
	assert.Equal(t, StateOpen, cb.State())

	// The cooldown restarts from the failed probe
	_, err = cb.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		return "nope", nil
	})
	assert.True(t, IsCircuitOpenError(err))
}

func TestCircuitBreaker_SingleProbeInHalfOpen(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "test-cb",
		FailureThreshold: 2,
		RecoveryTimeout:  time.Minute,
		Clock:            clock,
	})

	for i := 0; i < 2; i++ {
		cb.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
			return nil, errors.New("boom")
		})
	}
	clock.Advance(time.Minute)

	probeStarted := make(chan struct{})
	release := make(chan struct{})
	probeDone := make(chan error, 1)

	go func() {
		_, err := cb.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
			close(probeStarted)
			<-release
			return "slow probe", nil
		})
		probeDone <- err
	}()

	<-probeStarted

	// A second call while the probe is in flight is shed
	_, err := cb.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		return "concurrent", nil
	})
	assert.True(t, IsCircuitOpenError(err))

	close(release)
	require.NoError(t, <-probeDone)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_ExcludedKindsDoNotCount(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "test-cb",
		FailureThreshold: 2,
		RecoveryTimeout:  time.Second,
		ExcludedKinds:    []apperrors.ErrorType{apperrors.ErrorTypeValidation},
	})

	// Excluded errors pass through to the caller but never trip the breaker
	for i := 0; i < 10; i++ {
		_, err := cb.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
			return nil, apperrors.NewValidationError("bad input")
		})
		require.Error(t, err)
		assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))
	}

	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, uint32(0), cb.Stats().ConsecutiveFailures)
}

func TestCircuitBreaker_ExcludedErrorResolvesProbe(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "test-cb",
		FailureThreshold: 2,
		RecoveryTimeout:  time.Minute,
		ExcludedKinds:    []apperrors.ErrorType{apperrors.ErrorTypeNotFound},
		Clock:            clock,
	})

	for i := 0; i < 2; i++ {
		cb.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
			return nil, errors.New("boom")
		})
	}
	clock.Advance(time.Minute)

	// The dependency answered with an expected error: it is reachable,
	// so the probe closes the breaker
	_, err := cb.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		return nil, apperrors.NewNotFoundError("widget")
	})
	require.Error(t, err)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_PanicCountsAsFailure(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "test-cb",
		FailureThreshold: 1,
		RecoveryTimeout:  time.Second,
	})

	assert.Panics(t, func() {
		cb.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
			panic("kaboom")
		})
	})
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_ForceOpenAndForceClose(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "test-cb",
		FailureThreshold: 5,
		RecoveryTimeout:  time.Minute,
		Clock:            clock,
	})

	cb.ForceOpen()
	assert.Equal(t, StateOpen, cb.State())

	_, err := cb.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		return "nope", nil
	})
	assert.True(t, IsCircuitOpenError(err))

	cb.ForceClose()
	assert.Equal(t, StateClosed, cb.State())

	result, err := cb.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "test-cb",
		FailureThreshold: 2,
		RecoveryTimeout:  time.Minute,
	})

	for i := 0; i < 2; i++ {
		cb.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
			return nil, errors.New("boom")
		})
	}
	require.Equal(t, StateOpen, cb.State())

	cb.Reset()

	stats := cb.Stats()
	assert.Equal(t, StateClosed.String(), stats.State)
	assert.Equal(t, uint32(0), stats.ConsecutiveFailures)
	assert.Equal(t, uint64(0), stats.Requests)
	assert.Equal(t, uint64(0), stats.Successes)
	assert.Nil(t, stats.LastFailureTime)
	assert.Nil(t, stats.NextAttemptTime)
}

func TestCircuitBreaker_Defaults(t *testing.T) {
	cfg := DefaultCircuitBreakerConfig("payments")
	assert.Equal(t, uint32(5), cfg.FailureThreshold)
	assert.Equal(t, 60*time.Second, cfg.RecoveryTimeout)

	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "zero"})
	assert.Equal(t, uint32(5), cb.failureThreshold)
	assert.Equal(t, 60*time.Second, cb.recoveryTimeout)
}

// collectSink records events for assertions.
type collectSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *collectSink) Emit(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *collectSink) kinds() []EventKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	kinds := make([]EventKind, 0, len(s.events))
	for _, e := range s.events {
		kinds = append(kinds, e.Kind)
	}
	return kinds
}

func TestCircuitBreaker_EmitsEvents(t *testing.T) {
	sink := &collectSink{}
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "test-cb",
		FailureThreshold: 1,
		RecoveryTimeout:  time.Minute,
		Sink:             sink,
	})

	cb.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		return nil, errors.New("boom")
	})
	cb.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		return "nope", nil
	})

	kinds := sink.kinds()
	assert.Contains(t, kinds, EventStateChange)
	assert.Contains(t, kinds, EventCallRejected)
}
