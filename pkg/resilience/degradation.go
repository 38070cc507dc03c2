package resilience

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/bulwark-io/bulwark/pkg/errors"
	"github.com/bulwark-io/bulwark/pkg/logging"
)

// FallbackStrategy is one alternative way to satisfy an operation when
// the primary path fails.
type FallbackStrategy struct {
	// Name must be unique within a manager's chain
	Name string
	// Priority orders the chain; higher is tried first. Ties keep
	// registration order.
	Priority int
	// Execute produces the fallback result
	Execute func(ctx context.Context) (interface{}, error)
	// HealthCheck is probed by the background loop purely for
	// observability; optional
	HealthCheck func(ctx context.Context) bool
	// IsAvailable is a cheap gate consulted before execution; optional,
	// nil means always available
	IsAvailable func() bool
}

// DegradationConfig holds configuration for a degradation manager
type DegradationConfig struct {
	// Name identifies the managed operation group
	Name string
	// FallbackTimeout bounds each strategy execution; a timeout counts
	// as a strategy failure, not a manager failure
	FallbackTimeout time.Duration
	// HealthCheckInterval drives the background health-check loop
	HealthCheckInterval time.Duration
	// MaxDegradationTime is the episode length after which the manager
	// escalates (alerts) while continuing to serve via fallback
	MaxDegradationTime time.Duration
	// Clock is injectable for deterministic tests
	Clock Clock
	// Sink receives degradation events; may be nil
	Sink EventSink
	// Alerts receives the escalation when an episode runs too long;
	// may be nil
	Alerts *AlertManager
}

// DefaultDegradationConfig returns sensible defaults.
func DefaultDegradationConfig(name string) DegradationConfig {
	return DegradationConfig{
		Name:                name,
		FallbackTimeout:     5 * time.Second,
		HealthCheckInterval: 30 * time.Second,
		MaxDegradationTime:  10 * time.Minute,
	}
}

// DegradationStats is a read-only snapshot of degradation state.
type DegradationStats struct {
	Name                  string          `json:"name"`
	IsHealthy             bool            `json:"is_healthy"`
	IsDegraded            bool            `json:"is_degraded"`
	ActiveFallbacks       []string        `json:"active_fallbacks"`
	DegradationStartedAt  *time.Time      `json:"degradation_started_at,omitempty"`
	TotalDegradedDuration time.Duration   `json:"total_degraded_duration"`
	ConsecutiveFailures   uint32          `json:"consecutive_failures"`
	ConsecutiveSuccesses  uint32          `json:"consecutive_successes"`
	StrategyHealth        map[string]bool `json:"strategy_health,omitempty"`
}

// DegradationManager orchestrates a primary operation and an ordered
// fallback chain, tracking degradation episodes.
type DegradationManager struct {
	name   string
	config DegradationConfig
	clock  Clock
	sink   EventSink
	alerts *AlertManager
	logger *logging.Logger

	mutex                 sync.Mutex
	strategies            []*FallbackStrategy
	isHealthy             bool
	isDegraded            bool
	activeFallbacks       []string
	degradationStartedAt  time.Time
	totalDegradedDuration time.Duration
	consecutiveFailures   uint32
	consecutiveSuccesses  uint32
	escalated             bool
	strategyHealth        map[string]bool

	loopMutex sync.Mutex
	stopChan  chan struct{}
	running   bool
}

// NewDegradationManager creates a new degradation manager
func NewDegradationManager(config DegradationConfig) *DegradationManager {
	if config.FallbackTimeout <= 0 {
		config.FallbackTimeout = 5 * time.Second
	}
	if config.HealthCheckInterval <= 0 {
		config.HealthCheckInterval = 30 * time.Second
	}
	if config.MaxDegradationTime <= 0 {
		config.MaxDegradationTime = 10 * time.Minute
	}
	if config.Clock == nil {
		config.Clock = SystemClock()
	}

	return &DegradationManager{
		name:           config.Name,
		config:         config,
		clock:          config.Clock,
		sink:           config.Sink,
		alerts:         config.Alerts,
		logger:         logging.GetLogger(),
		isHealthy:      true,
		strategyHealth: make(map[string]bool),
	}
}

// AddFallback registers a strategy. The chain is kept sorted by
// descending priority; equal priorities keep registration order.
func (dm *DegradationManager) AddFallback(strategy FallbackStrategy) {
	dm.mutex.Lock()
	defer dm.mutex.Unlock()

	s := strategy
	dm.strategies = append(dm.strategies, &s)
	sort.SliceStable(dm.strategies, func(i, j int) bool {
		return dm.strategies[i].Priority > dm.strategies[j].Priority
	})
	dm.strategyHealth[s.Name] = true
}

// Execute runs the primary operation and falls back down the chain on
// failure. The first successful strategy wins; when everything fails it
// returns *ServiceUnavailableError wrapping the primary and the last
// fallback error.
func (dm *DegradationManager) Execute(ctx context.Context, operationName string, primary func(context.Context) (interface{}, error)) (interface{}, error) {
	result, primaryErr := primary(ctx)
	if primaryErr == nil {
		dm.recordPrimarySuccess()
		return result, nil
	}

	dm.recordPrimaryFailure()

	dm.logger.Warn("Primary operation failed, trying fallback chain",
		"manager", dm.name,
		"operation", operationName,
		"error", primaryErr.Error(),
	)

	var lastFallbackErr error
	for _, strategy := range dm.chain() {
		if strategy.IsAvailable != nil && !strategy.IsAvailable() {
			dm.logger.Debug("Fallback strategy unavailable, skipping",
				"manager", dm.name,
				"strategy", strategy.Name,
			)
			continue
		}

		fbResult, err := dm.runStrategy(ctx, strategy)
		if err == nil {
			dm.recordFallbackSuccess(strategy.Name)
			dm.emitEvent(EventFallbackUsed, map[string]interface{}{
				"operation": operationName,
				"strategy":  strategy.Name,
			})
			return fbResult, nil
		}

		lastFallbackErr = err
		dm.emitEvent(EventFallbackFailed, map[string]interface{}{
			"operation": operationName,
			"strategy":  strategy.Name,
			"error":     err.Error(),
		})
	}

	return nil, &ServiceUnavailableError{
		Operation: operationName,
		Primary:   primaryErr,
		Fallback:  lastFallbackErr,
	}
}

// runStrategy races a strategy against the fallback timeout. The loser
// is abandoned, not killed; a late result is discarded.
func (dm *DegradationManager) runStrategy(ctx context.Context, strategy *FallbackStrategy) (interface{}, error) {
	cctx, cancel := context.WithTimeout(ctx, dm.config.FallbackTimeout)
	defer cancel()

	type outcome struct {
		result interface{}
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		result, err := strategy.Execute(cctx)
		done <- outcome{result, err}
	}()

	select {
	case out := <-done:
		return out.result, out.err
	case <-cctx.Done():
		return nil, errors.NewTimeoutError("fallback strategy " + strategy.Name)
	}
}

func (dm *DegradationManager) chain() []*FallbackStrategy {
	dm.mutex.Lock()
	defer dm.mutex.Unlock()
	chain := make([]*FallbackStrategy, len(dm.strategies))
	copy(chain, dm.strategies)
	return chain
}

func (dm *DegradationManager) recordPrimarySuccess() {
	dm.mutex.Lock()
	defer dm.mutex.Unlock()

	dm.consecutiveSuccesses++
	dm.consecutiveFailures = 0
	dm.isHealthy = true

	if dm.isDegraded {
		now := dm.clock.Now()
		dm.totalDegradedDuration += now.Sub(dm.degradationStartedAt)
		dm.isDegraded = false
		dm.degradationStartedAt = time.Time{}
		dm.activeFallbacks = nil
		dm.escalated = false

		dm.emitEvent(EventDegradationEnded, map[string]interface{}{
			"total_degraded": dm.totalDegradedDuration.String(),
		})
		dm.logger.Info("Recovered from degradation",
			"manager", dm.name,
			"total_degraded", dm.totalDegradedDuration.String(),
		)
	}
}

func (dm *DegradationManager) recordPrimaryFailure() {
	dm.mutex.Lock()
	defer dm.mutex.Unlock()

	dm.consecutiveFailures++
	dm.consecutiveSuccesses = 0
	dm.isHealthy = false
}

func (dm *DegradationManager) recordFallbackSuccess(strategyName string) {
	dm.mutex.Lock()
	defer dm.mutex.Unlock()

	if !dm.isDegraded {
		dm.isDegraded = true
		dm.degradationStartedAt = dm.clock.Now()
		dm.emitEvent(EventDegradationBegan, map[string]interface{}{
			"strategy": strategyName,
		})
	}

	for _, name := range dm.activeFallbacks {
		if name == strategyName {
			return
		}
	}
	dm.activeFallbacks = append(dm.activeFallbacks, strategyName)
}

func (dm *DegradationManager) emitEvent(kind EventKind, fields map[string]interface{}) {
	emit(dm.sink, Event{
		Component: "degradation",
		Name:      dm.name,
		Kind:      kind,
		Timestamp: dm.clock.Now(),
		Fields:    fields,
	})
}

// Start launches the background health-check loop. It probes each
// strategy's optional HealthCheck for observability only; a failing
// health check never disables a strategy.
func (dm *DegradationManager) Start(ctx context.Context) {
	dm.loopMutex.Lock()
	defer dm.loopMutex.Unlock()

	if dm.running {
		return
	}
	dm.running = true
	dm.stopChan = make(chan struct{})
	go dm.healthLoop(ctx, dm.stopChan)
}

// Stop cancels the background health-check loop.
func (dm *DegradationManager) Stop() {
	dm.loopMutex.Lock()
	defer dm.loopMutex.Unlock()

	if !dm.running {
		return
	}
	close(dm.stopChan)
	dm.running = false
}

func (dm *DegradationManager) healthLoop(ctx context.Context, stop <-chan struct{}) {
	ticker := time.NewTicker(dm.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			dm.runHealthChecks(ctx)
			dm.checkEscalation(ctx)
		}
	}
}

func (dm *DegradationManager) runHealthChecks(ctx context.Context) {
	for _, strategy := range dm.chain() {
		if strategy.HealthCheck == nil {
			continue
		}
		healthy := strategy.HealthCheck(ctx)

		dm.mutex.Lock()
		dm.strategyHealth[strategy.Name] = healthy
		dm.mutex.Unlock()

		dm.emitEvent(EventHealthCheck, map[string]interface{}{
			"strategy": strategy.Name,
			"healthy":  healthy,
		})
	}
}

// checkEscalation alerts once per episode when degradation has lasted
// longer than MaxDegradationTime. The manager keeps serving via
// fallback; only an operator or primary recovery ends the episode.
func (dm *DegradationManager) checkEscalation(ctx context.Context) {
	dm.mutex.Lock()
	if !dm.isDegraded || dm.escalated {
		dm.mutex.Unlock()
		return
	}
	elapsed := dm.clock.Now().Sub(dm.degradationStartedAt)
	if elapsed < dm.config.MaxDegradationTime {
		dm.mutex.Unlock()
		return
	}
	dm.escalated = true
	active := make([]string, len(dm.activeFallbacks))
	copy(active, dm.activeFallbacks)
	dm.mutex.Unlock()

	dm.logger.Error("Degradation episode exceeded maximum duration",
		"manager", dm.name,
		"elapsed", elapsed.String(),
		"max", dm.config.MaxDegradationTime.String(),
		"active_fallbacks", active,
	)

	if dm.alerts != nil {
		_ = dm.alerts.SendAlert(ctx, Alert{
			Severity:    SeverityCritical,
			Title:       "Prolonged service degradation",
			Description: "degradation episode for '" + dm.name + "' has exceeded " + dm.config.MaxDegradationTime.String(),
			Source:      "degradation:" + dm.name,
			Tags: map[string]string{
				"manager": dm.name,
			},
			Metadata: map[string]interface{}{
				"elapsed":          elapsed.String(),
				"active_fallbacks": active,
			},
		})
	}
}

// Stats returns a read-only snapshot of the degradation state.
func (dm *DegradationManager) Stats() DegradationStats {
	dm.mutex.Lock()
	defer dm.mutex.Unlock()

	stats := DegradationStats{
		Name:                  dm.name,
		IsHealthy:             dm.isHealthy,
		IsDegraded:            dm.isDegraded,
		ActiveFallbacks:       append([]string(nil), dm.activeFallbacks...),
		TotalDegradedDuration: dm.totalDegradedDuration,
		ConsecutiveFailures:   dm.consecutiveFailures,
		ConsecutiveSuccesses:  dm.consecutiveSuccesses,
		StrategyHealth:        make(map[string]bool, len(dm.strategyHealth)),
	}
	if dm.isDegraded {
		// The open interval is folded in only on recovery; report the
		// running total including the open episode.
		stats.TotalDegradedDuration += dm.clock.Now().Sub(dm.degradationStartedAt)
		t := dm.degradationStartedAt
		stats.DegradationStartedAt = &t
	}
	for name, healthy := range dm.strategyHealth {
		stats.StrategyHealth[name] = healthy
	}
	return stats
}

// Reset returns the manager to its initial state: healthy, not
// degraded, empty active fallback set. Registered strategies survive.
func (dm *DegradationManager) Reset() {
	dm.mutex.Lock()
	defer dm.mutex.Unlock()

	dm.isHealthy = true
	dm.isDegraded = false
	dm.activeFallbacks = nil
	dm.degradationStartedAt = time.Time{}
	dm.totalDegradedDuration = 0
	dm.consecutiveFailures = 0
	dm.consecutiveSuccesses = 0
	dm.escalated = false
	dm.emitEvent(EventAdminOverride, map[string]interface{}{"override": "reset"})
}

// Name returns the manager's name.
func (dm *DegradationManager) Name() string {
	return dm.name
}
