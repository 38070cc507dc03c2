package scaling

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bulwark-io/bulwark/pkg/errors"
	"github.com/bulwark-io/bulwark/pkg/logging"
	"github.com/bulwark-io/bulwark/pkg/metrics"
	"github.com/bulwark-io/bulwark/pkg/resilience"
)

const (
	snapshotHistorySize = 100
	eventHistorySize    = 50
)

// Action is the outcome of a scaling evaluation.
type Action string

const (
	ActionScaleUp   Action = "scale_up"
	ActionScaleDown Action = "scale_down"
	ActionNone      Action = "no_action"
)

// Snapshot is one sample of the load signals the controller votes on.
// Immutable once captured.
type Snapshot struct {
	Timestamp         time.Time `json:"timestamp"`
	CPUUtilization    float64   `json:"cpu_utilization"`
	MemoryUtilization float64   `json:"memory_utilization"`
	RequestRate       float64   `json:"request_rate"`
	AvgResponseTime   float64   `json:"avg_response_time"`
	ErrorRate         float64   `json:"error_rate"`
}

// Decision is the pure output of the decision function.
type Decision struct {
	Action           Action  `json:"action"`
	CurrentInstances int     `json:"current_instances"`
	TargetInstances  int     `json:"target_instances"`
	Confidence       float64 `json:"confidence"`
	Reason           string  `json:"reason"`
}

// Event is a persisted history record of an executed decision.
type Event struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Decision   Decision  `json:"decision"`
	Manual     bool      `json:"manual"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
	DurationMs int64     `json:"duration_ms"`
}

// Stats is the read-only snapshot exposed to the HTTP layer.
type Stats struct {
	Enabled          bool       `json:"enabled"`
	CurrentInstances int        `json:"current_instances"`
	TargetInstances  int        `json:"target_instances"`
	IsScaling        bool       `json:"is_scaling"`
	LastScaleUp      *time.Time `json:"last_scale_up,omitempty"`
	LastScaleDown    *time.Time `json:"last_scale_down,omitempty"`
	Snapshots        []Snapshot `json:"snapshots"`
	Events           []Event    `json:"events"`
}

// InstanceRegistry abstracts the external system that knows how many
// instances exist and can be told how many should.
type InstanceRegistry interface {
	ActiveInstanceCount(ctx context.Context) (int, error)
	ApplyTargetInstanceCount(ctx context.Context, target int) error
}

// MetricsProvider supplies the load signals for each evaluation tick.
type MetricsProvider interface {
	Collect(ctx context.Context) (Snapshot, error)
}

// EventRecorder persists scaling events outside the in-memory ring.
// Implementations must tolerate being called from the evaluation loop;
// errors are logged and dropped.
type EventRecorder interface {
	Record(ctx context.Context, event Event) error
}

// Config holds the controller configuration.
type Config struct {
	Enabled            bool
	EvaluationInterval time.Duration
	MinInstances       int
	MaxInstances       int

	// Per-signal targets. A signal votes scale_up above
	// target*ScaleUpThreshold and scale_down below
	// target*ScaleDownThreshold; in between it abstains.
	TargetCPUPercent  float64
	TargetMemoryPct   float64
	TargetResponseMs  float64
	TargetRequestRate float64
	TargetErrorRate   float64

	ScaleUpThreshold   float64
	ScaleDownThreshold float64
	DataPointsToAlarm  int

	ScaleUpCooldown   time.Duration
	ScaleDownCooldown time.Duration

	Clock resilience.Clock
}

// DefaultConfig returns controller defaults biased toward fast scale-up
// and slow scale-down.
func DefaultConfig() Config {
	return Config{
		Enabled:            true,
		EvaluationInterval: 15 * time.Second,
		MinInstances:       1,
		MaxInstances:       10,
		TargetCPUPercent:   70.0,
		TargetMemoryPct:    75.0,
		TargetResponseMs:   250.0,
		TargetRequestRate:  100.0,
		TargetErrorRate:    0.05,
		ScaleUpThreshold:   0.9,
		ScaleDownThreshold: 0.5,
		DataPointsToAlarm:  3,
		ScaleUpCooldown:    time.Minute,
		ScaleDownCooldown:  5 * time.Minute,
	}
}

// Controller turns periodic load snapshots into bounded, single-step
// scale decisions.
type Controller struct {
	config   Config
	provider MetricsProvider
	registry InstanceRegistry
	recorder EventRecorder
	metrics  *metrics.Metrics
	clock    resilience.Clock
	logger   *logging.Logger

	mutex            sync.Mutex
	currentInstances int
	targetInstances  int
	isScaling        bool
	lastScaleUp      time.Time
	lastScaleDown    time.Time
	snapshots        []Snapshot
	events           []Event

	stopOnce sync.Once
	stopChan chan struct{}
}

// NewController creates a scaling controller. The recorder and metrics
// are optional; provider and registry are required.
func NewController(config Config, provider MetricsProvider, registry InstanceRegistry, recorder EventRecorder, m *metrics.Metrics) *Controller {
	if config.EvaluationInterval <= 0 {
		config.EvaluationInterval = 15 * time.Second
	}
	if config.MinInstances < 1 {
		config.MinInstances = 1
	}
	if config.MaxInstances < config.MinInstances {
		config.MaxInstances = config.MinInstances
	}
	if config.DataPointsToAlarm < 1 {
		config.DataPointsToAlarm = 1
	}
	clock := config.Clock
	if clock == nil {
		clock = resilience.SystemClock()
	}

	return &Controller{
		config:           config,
		provider:         provider,
		registry:         registry,
		recorder:         recorder,
		metrics:          m,
		clock:            clock,
		logger:           logging.GetLogger(),
		currentInstances: config.MinInstances,
		targetInstances:  config.MinInstances,
		stopChan:         make(chan struct{}),
	}
}

// Run drives the evaluation loop until the context is cancelled or
// Stop is called. It is a no-op when the controller is disabled.
func (c *Controller) Run(ctx context.Context) {
	if !c.config.Enabled {
		c.logger.Info("Scaling controller disabled")
		return
	}

	c.syncInstanceCount(ctx)

	ticker := time.NewTicker(c.config.EvaluationInterval)
	defer ticker.Stop()

	c.logger.Info("Scaling controller started",
		"interval", c.config.EvaluationInterval.String(),
		"min_instances", c.config.MinInstances,
		"max_instances", c.config.MaxInstances,
	)

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopChan:
			return
		case <-ticker.C:
			c.Evaluate(ctx)
		}
	}
}

// Stop terminates the evaluation loop.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopChan)
	})
}

// Evaluate performs one tick: collect a snapshot, decide, and execute
// the decision if it is actionable. A failed execution is recorded but
// never propagated; the evaluator must survive every tick.
func (c *Controller) Evaluate(ctx context.Context) Decision {
	snapshot, err := c.provider.Collect(ctx)
	if err != nil {
		c.logger.Error("Failed to collect scaling metrics", "error", err)
		return Decision{Action: ActionNone, Reason: "metrics collection failed"}
	}
	if snapshot.Timestamp.IsZero() {
		snapshot.Timestamp = c.clock.Now()
	}

	c.mutex.Lock()
	c.snapshots = appendBounded(c.snapshots, snapshot, snapshotHistorySize)
	c.mutex.Unlock()

	c.publishSignals(snapshot)

	decision := c.decide(snapshot)

	if c.metrics != nil {
		c.metrics.RecordScalingDecision(string(decision.Action), decision.Reason)
	}

	if decision.Action == ActionNone {
		return decision
	}

	c.execute(ctx, decision, false)
	return decision
}

// decide applies the score-voting algorithm: each of the five signals
// casts one vote for scale_up, one for scale_down, or abstains.
func (c *Controller) decide(snapshot Snapshot) Decision {
	upVotes, downVotes := 0, 0
	vote := func(value, target float64) {
		if target <= 0 {
			return
		}
		switch {
		case value >= target*c.config.ScaleUpThreshold:
			upVotes++
		case value <= target*c.config.ScaleDownThreshold:
			downVotes++
		}
	}

	vote(snapshot.CPUUtilization, c.config.TargetCPUPercent)
	vote(snapshot.MemoryUtilization, c.config.TargetMemoryPct)
	vote(snapshot.AvgResponseTime, c.config.TargetResponseMs)
	vote(snapshot.RequestRate, c.config.TargetRequestRate)
	vote(snapshot.ErrorRate, c.config.TargetErrorRate)

	c.mutex.Lock()
	current := c.currentInstances
	lastUp := c.lastScaleUp
	lastDown := c.lastScaleDown
	c.mutex.Unlock()

	now := c.clock.Now()
	alarm := c.config.DataPointsToAlarm

	if upVotes >= alarm {
		if current >= c.config.MaxInstances {
			return noAction(current, upVotes, alarm, "already at max instances")
		}
		if !lastUp.IsZero() && now.Sub(lastUp) < c.config.ScaleUpCooldown {
			return noAction(current, upVotes, alarm, "scale-up cooldown in effect")
		}
		return Decision{
			Action:           ActionScaleUp,
			CurrentInstances: current,
			TargetInstances:  current + 1,
			Confidence:       confidence(upVotes, alarm),
			Reason:           fmt.Sprintf("%d of 5 signals above scale-up threshold", upVotes),
		}
	}

	if downVotes >= alarm {
		if current <= c.config.MinInstances {
			return noAction(current, downVotes, alarm, "already at min instances")
		}
		if !lastDown.IsZero() && now.Sub(lastDown) < c.config.ScaleDownCooldown {
			return noAction(current, downVotes, alarm, "scale-down cooldown in effect")
		}
		return Decision{
			Action:           ActionScaleDown,
			CurrentInstances: current,
			TargetInstances:  current - 1,
			Confidence:       confidence(downVotes, alarm),
			Reason:           fmt.Sprintf("%d of 5 signals below scale-down threshold", downVotes),
		}
	}

	votes := upVotes
	if downVotes > votes {
		votes = downVotes
	}
	return noAction(current, votes, alarm, "insufficient votes")
}

func noAction(current, votes, alarm int, reason string) Decision {
	return Decision{
		Action:           ActionNone,
		CurrentInstances: current,
		TargetInstances:  current,
		Confidence:       confidence(votes, alarm),
		Reason:           reason,
	}
}

func confidence(votes, alarm int) float64 {
	conf := float64(votes) / float64(alarm)
	if conf > 1.0 {
		conf = 1.0
	}
	return conf
}

// ManualScale applies an operator-requested instance count. It bypasses
// voting and cooldowns but still honors the configured bounds and the
// in-flight mutual exclusion.
func (c *Controller) ManualScale(ctx context.Context, target int) (Event, error) {
	if target < c.config.MinInstances || target > c.config.MaxInstances {
		return Event{}, errors.NewValidationError(fmt.Sprintf(
			"target %d outside allowed range [%d, %d]",
			target, c.config.MinInstances, c.config.MaxInstances,
		))
	}

	c.mutex.Lock()
	current := c.currentInstances
	c.mutex.Unlock()

	decision := Decision{
		Action:           ActionScaleUp,
		CurrentInstances: current,
		TargetInstances:  target,
		Confidence:       1.0,
		Reason:           "manual scale request",
	}
	if target < current {
		decision.Action = ActionScaleDown
	} else if target == current {
		decision.Action = ActionNone
	}

	event, err := c.executeManual(ctx, decision)
	if err != nil {
		return Event{}, err
	}
	return event, nil
}

// execute runs a decision produced by the evaluator. A second scaling
// attempt while one is in flight is rejected, not queued.
func (c *Controller) execute(ctx context.Context, decision Decision, manual bool) {
	c.mutex.Lock()
	if c.isScaling {
		c.mutex.Unlock()
		c.logger.Warn("Scaling action already in flight, skipping",
			"action", string(decision.Action),
		)
		return
	}
	c.isScaling = true
	c.mutex.Unlock()

	c.apply(ctx, decision, manual)
}

// executeManual is the ManualScale execution path; unlike execute it
// surfaces the mutual-exclusion rejection to the caller.
func (c *Controller) executeManual(ctx context.Context, decision Decision) (Event, error) {
	c.mutex.Lock()
	if c.isScaling {
		c.mutex.Unlock()
		return Event{}, errors.NewConflictError("another scaling action is in flight")
	}
	c.isScaling = true
	c.mutex.Unlock()

	return c.apply(ctx, decision, true), nil
}

// apply performs the registry call and records the outcome. The caller
// must have claimed the isScaling flag.
func (c *Controller) apply(ctx context.Context, decision Decision, manual bool) Event {
	start := c.clock.Now()

	event := Event{
		ID:        uuid.New().String(),
		Timestamp: start,
		Decision:  decision,
		Manual:    manual,
	}

	var applyErr error
	if decision.Action != ActionNone {
		applyErr = c.registry.ApplyTargetInstanceCount(ctx, decision.TargetInstances)
	}
	event.DurationMs = time.Since(start).Milliseconds()

	c.mutex.Lock()
	c.isScaling = false
	switch decision.Action {
	case ActionScaleUp:
		c.lastScaleUp = start
	case ActionScaleDown:
		c.lastScaleDown = start
	}
	if applyErr != nil {
		event.Success = false
		event.Error = applyErr.Error()
	} else {
		event.Success = true
		c.currentInstances = decision.TargetInstances
		c.targetInstances = decision.TargetInstances
	}
	current := c.currentInstances
	target := c.targetInstances
	c.events = appendBounded(c.events, event, eventHistorySize)
	c.mutex.Unlock()

	if applyErr != nil {
		c.logger.Error("Scaling action failed",
			"action", string(decision.Action),
			"target", decision.TargetInstances,
			"manual", manual,
			"error", applyErr,
		)
	} else {
		c.logger.Info("Scaling action applied",
			"action", string(decision.Action),
			"from", decision.CurrentInstances,
			"to", decision.TargetInstances,
			"confidence", decision.Confidence,
			"manual", manual,
			"reason", decision.Reason,
		)
	}

	if c.metrics != nil {
		c.metrics.UpdateInstances(current, target)
	}

	if c.recorder != nil {
		if err := c.recorder.Record(ctx, event); err != nil {
			c.logger.Error("Failed to persist scaling event", "error", err)
		}
	}

	return event
}

// Stats returns a read-only snapshot of the controller state.
func (c *Controller) Stats() Stats {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	stats := Stats{
		Enabled:          c.config.Enabled,
		CurrentInstances: c.currentInstances,
		TargetInstances:  c.targetInstances,
		IsScaling:        c.isScaling,
		Snapshots:        append([]Snapshot(nil), c.snapshots...),
		Events:           append([]Event(nil), c.events...),
	}
	if !c.lastScaleUp.IsZero() {
		t := c.lastScaleUp
		stats.LastScaleUp = &t
	}
	if !c.lastScaleDown.IsZero() {
		t := c.lastScaleDown
		stats.LastScaleDown = &t
	}
	return stats
}

// syncInstanceCount seeds the controller with the registry's view of
// how many instances currently exist.
func (c *Controller) syncInstanceCount(ctx context.Context) {
	count, err := c.registry.ActiveInstanceCount(ctx)
	if err != nil {
		c.logger.Warn("Could not read active instance count, assuming minimum",
			"error", err,
			"min_instances", c.config.MinInstances,
		)
		return
	}
	if count < c.config.MinInstances {
		count = c.config.MinInstances
	}

	c.mutex.Lock()
	c.currentInstances = count
	c.targetInstances = count
	c.mutex.Unlock()

	if c.metrics != nil {
		c.metrics.UpdateInstances(count, count)
	}
}

func (c *Controller) publishSignals(snapshot Snapshot) {
	if c.metrics == nil {
		return
	}
	c.metrics.UpdateSignal("cpu_utilization", snapshot.CPUUtilization)
	c.metrics.UpdateSignal("memory_utilization", snapshot.MemoryUtilization)
	c.metrics.UpdateSignal("request_rate", snapshot.RequestRate)
	c.metrics.UpdateSignal("avg_response_time", snapshot.AvgResponseTime)
	c.metrics.UpdateSignal("error_rate", snapshot.ErrorRate)
}

func appendBounded[T any](buf []T, item T, max int) []T {
	buf = append(buf, item)
	if len(buf) > max {
		buf = buf[len(buf)-max:]
	}
	return buf
}
