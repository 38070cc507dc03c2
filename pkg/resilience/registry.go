package resilience

import (
	"sync"

	"github.com/bulwark-io/bulwark/pkg/errors"
)

// RegistryConfig carries the defaults applied to lazily created
// breakers and degradation managers.
type RegistryConfig struct {
	Breaker     CircuitBreakerConfig
	Degradation DegradationConfig
	Clock       Clock
	Sink        EventSink
	Alerts      *AlertManager
}

// Registry owns the per-dependency breakers and degradation managers,
// keyed by name and created lazily on first use. It is meant to be
// constructed once at the composition root and passed by reference;
// there is no package-global instance.
type Registry struct {
	config RegistryConfig

	mutex    sync.Mutex
	breakers map[string]*CircuitBreaker
	managers map[string]*DegradationManager
}

// NewRegistry creates an empty registry with the given defaults.
func NewRegistry(config RegistryConfig) *Registry {
	if config.Clock == nil {
		config.Clock = SystemClock()
	}
	return &Registry{
		config:   config,
		breakers: make(map[string]*CircuitBreaker),
		managers: make(map[string]*DegradationManager),
	}
}

// Breaker returns the circuit breaker for a dependency name, creating
// it with the registry defaults on first use.
func (r *Registry) Breaker(name string) *CircuitBreaker {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if cb, ok := r.breakers[name]; ok {
		return cb
	}

	cfg := r.config.Breaker
	cfg.Name = name
	if cfg.Clock == nil {
		cfg.Clock = r.config.Clock
	}
	if cfg.Sink == nil {
		cfg.Sink = r.config.Sink
	}
	cb := NewCircuitBreaker(cfg)
	r.breakers[name] = cb
	return cb
}

// Manager returns the degradation manager for an operation name,
// creating it with the registry defaults on first use.
func (r *Registry) Manager(name string) *DegradationManager {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if dm, ok := r.managers[name]; ok {
		return dm
	}

	cfg := r.config.Degradation
	cfg.Name = name
	if cfg.Clock == nil {
		cfg.Clock = r.config.Clock
	}
	if cfg.Sink == nil {
		cfg.Sink = r.config.Sink
	}
	if cfg.Alerts == nil {
		cfg.Alerts = r.config.Alerts
	}
	dm := NewDegradationManager(cfg)
	r.managers[name] = dm
	return dm
}

// LookupBreaker returns an existing breaker without creating one.
func (r *Registry) LookupBreaker(name string) (*CircuitBreaker, bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	cb, ok := r.breakers[name]
	return cb, ok
}

// LookupManager returns an existing manager without creating one.
func (r *Registry) LookupManager(name string) (*DegradationManager, bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	dm, ok := r.managers[name]
	return dm, ok
}

// BreakerStats returns snapshots for every registered breaker.
func (r *Registry) BreakerStats() map[string]BreakerStats {
	r.mutex.Lock()
	breakers := make([]*CircuitBreaker, 0, len(r.breakers))
	for _, cb := range r.breakers {
		breakers = append(breakers, cb)
	}
	r.mutex.Unlock()

	stats := make(map[string]BreakerStats, len(breakers))
	for _, cb := range breakers {
		stats[cb.Name()] = cb.Stats()
	}
	return stats
}

// DegradationStats returns snapshots for every registered manager.
func (r *Registry) DegradationStats() map[string]DegradationStats {
	r.mutex.Lock()
	managers := make([]*DegradationManager, 0, len(r.managers))
	for _, dm := range r.managers {
		managers = append(managers, dm)
	}
	r.mutex.Unlock()

	stats := make(map[string]DegradationStats, len(managers))
	for _, dm := range managers {
		stats[dm.Name()] = dm.Stats()
	}
	return stats
}

// StopAll stops every manager's background loop. Used at shutdown.
func (r *Registry) StopAll() {
	r.mutex.Lock()
	managers := make([]*DegradationManager, 0, len(r.managers))
	for _, dm := range r.managers {
		managers = append(managers, dm)
	}
	r.mutex.Unlock()

	for _, dm := range managers {
		dm.Stop()
	}
}

// ValidateKinds rejects unknown error kinds early instead of letting a
// typo in configuration silently never match anything.
func ValidateKinds(kinds []errors.ErrorType) error {
	for _, kind := range kinds {
		switch kind {
		case errors.ErrorTypeValidation, errors.ErrorTypeNotFound,
			errors.ErrorTypeConflict, errors.ErrorTypeRateLimit,
			errors.ErrorTypeTimeout, errors.ErrorTypeExternal,
			errors.ErrorTypeUnavailable, errors.ErrorTypeInternal:
		default:
			return errors.NewValidationError("unknown error kind: " + string(kind))
		}
	}
	return nil
}
