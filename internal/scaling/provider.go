package scaling

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/bulwark-io/bulwark/pkg/resilience"
)

// ProcessProviderConfig tunes the in-process metrics provider.
type ProcessProviderConfig struct {
	// MemoryLimitMB is the heap budget used to turn bytes into a
	// utilization percentage.
	MemoryLimitMB float64
	// Window is how far back request samples count toward the rate,
	// response time, and error rate signals.
	Window time.Duration
	// CPUPercent reads current CPU utilization. Left nil, the
	// provider reports zero CPU; production wiring supplies a
	// cgroup- or OS-specific reader.
	CPUPercent func() float64

	Clock resilience.Clock
}

// DefaultProcessProviderConfig returns provider defaults.
func DefaultProcessProviderConfig() ProcessProviderConfig {
	return ProcessProviderConfig{
		MemoryLimitMB: 1024,
		Window:        time.Minute,
	}
}

type requestSample struct {
	at       time.Time
	duration time.Duration
	failed   bool
}

// ProcessProvider derives scaling signals from the running process:
// heap usage from the Go runtime, and request rate, latency, and error
// rate from a rolling window of observed requests.
type ProcessProvider struct {
	config ProcessProviderConfig
	clock  resilience.Clock

	mutex   sync.Mutex
	samples []requestSample
}

// NewProcessProvider creates a provider with the given configuration.
func NewProcessProvider(config ProcessProviderConfig) *ProcessProvider {
	if config.MemoryLimitMB <= 0 {
		config.MemoryLimitMB = 1024
	}
	if config.Window <= 0 {
		config.Window = time.Minute
	}
	clock := config.Clock
	if clock == nil {
		clock = resilience.SystemClock()
	}
	return &ProcessProvider{
		config: config,
		clock:  clock,
	}
}

// RecordRequest feeds one served request into the rolling window.
// Called from the HTTP middleware after each request completes.
func (p *ProcessProvider) RecordRequest(duration time.Duration, failed bool) {
	now := p.clock.Now()

	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.samples = append(p.samples, requestSample{at: now, duration: duration, failed: failed})
	p.pruneLocked(now)
}

// Collect captures a snapshot of all five signals.
func (p *ProcessProvider) Collect(ctx context.Context) (Snapshot, error) {
	now := p.clock.Now()

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	memoryMB := float64(mem.HeapAlloc) / (1024 * 1024)
	memoryPct := memoryMB / p.config.MemoryLimitMB * 100
	if memoryPct > 100 {
		memoryPct = 100
	}

	cpu := 0.0
	if p.config.CPUPercent != nil {
		cpu = p.config.CPUPercent()
	}

	p.mutex.Lock()
	p.pruneLocked(now)
	count := len(p.samples)
	failed := 0
	var totalDuration time.Duration
	for _, s := range p.samples {
		totalDuration += s.duration
		if s.failed {
			failed++
		}
	}
	p.mutex.Unlock()

	snapshot := Snapshot{
		Timestamp:         now,
		CPUUtilization:    cpu,
		MemoryUtilization: memoryPct,
	}

	// Rate is normalized to requests per minute regardless of the
	// configured window length.
	snapshot.RequestRate = float64(count) / p.config.Window.Minutes()
	if count > 0 {
		snapshot.AvgResponseTime = float64(totalDuration.Milliseconds()) / float64(count)
		snapshot.ErrorRate = float64(failed) / float64(count)
	}

	return snapshot, nil
}

// pruneLocked drops samples older than the window. Caller holds mutex.
func (p *ProcessProvider) pruneLocked(now time.Time) {
	cutoff := now.Add(-p.config.Window)
	idx := 0
	for idx < len(p.samples) && p.samples[idx].at.Before(cutoff) {
		idx++
	}
	if idx > 0 {
		p.samples = append(p.samples[:0], p.samples[idx:]...)
	}
}
