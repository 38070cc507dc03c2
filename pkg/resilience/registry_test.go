package resilience

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/bulwark-io/bulwark/pkg/errors"
)

func TestRegistry_BreakerMemoization(t *testing.T) {
	r := NewRegistry(RegistryConfig{
		Breaker: CircuitBreakerConfig{
			FailureThreshold: 3,
			RecoveryTimeout:  time.Minute,
		},
	})

	cb1 := r.Breaker("payments")
	cb2 := r.Breaker("payments")
	assert.Same(t, cb1, cb2)
	assert.Equal(t, "payments", cb1.Name())

	other := r.Breaker("search")
	assert.NotSame(t, cb1, other)
}

func TestRegistry_ManagerMemoization(t *testing.T) {
	r := NewRegistry(RegistryConfig{})

	dm1 := r.Manager("search")
	dm2 := r.Manager("search")
	assert.Same(t, dm1, dm2)
	assert.Equal(t, "search", dm1.Name())
}

func TestRegistry_Lookup(t *testing.T) {
	r := NewRegistry(RegistryConfig{})

	_, ok := r.LookupBreaker("payments")
	assert.False(t, ok)
	_, ok = r.LookupManager("search")
	assert.False(t, ok)

	created := r.Breaker("payments")
	found, ok := r.LookupBreaker("payments")
	require.True(t, ok)
	assert.Same(t, created, found)
}

func TestRegistry_DefaultsPropagate(t *testing.T) {
	sink := &collectSink{}
	clock := newFakeClock()
	r := NewRegistry(RegistryConfig{
		Breaker: CircuitBreakerConfig{
			FailureThreshold: 7,
			RecoveryTimeout:  2 * time.Minute,
		},
		Clock: clock,
		Sink:  sink,
	})

	cb := r.Breaker("payments")
	assert.Equal(t, uint32(7), cb.failureThreshold)
	assert.Equal(t, 2*time.Minute, cb.recoveryTimeout)
	assert.Equal(t, clock, cb.clock)
	assert.NotNil(t, cb.sink)
}

func TestRegistry_Stats(t *testing.T) {
	r := NewRegistry(RegistryConfig{})
	r.Breaker("payments")
	r.Breaker("search")
	r.Manager("reports")

	bStats := r.BreakerStats()
	assert.Len(t, bStats, 2)
	assert.Contains(t, bStats, "payments")
	assert.Contains(t, bStats, "search")

	dStats := r.DegradationStats()
	assert.Len(t, dStats, 1)
	assert.Contains(t, dStats, "reports")
}

func TestValidateKinds(t *testing.T) {
	err := ValidateKinds([]apperrors.ErrorType{
		apperrors.ErrorTypeValidation,
		apperrors.ErrorTypeTimeout,
	})
	assert.NoError(t, err)

	err = ValidateKinds([]apperrors.ErrorType{"bogus"})
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))
}
