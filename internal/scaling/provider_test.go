package scaling

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessProvider_EmptyWindow(t *testing.T) {
	p := NewProcessProvider(ProcessProviderConfig{
		MemoryLimitMB: 1024,
		Window:        time.Minute,
		Clock:         newFakeClock(),
	})

	snapshot, err := p.Collect(context.Background())
	require.NoError(t, err)
	assert.Zero(t, snapshot.RequestRate)
	assert.Zero(t, snapshot.AvgResponseTime)
	assert.Zero(t, snapshot.ErrorRate)
	assert.Zero(t, snapshot.CPUUtilization)
	assert.Greater(t, snapshot.MemoryUtilization, 0.0)
}

func TestProcessProvider_RequestSignals(t *testing.T) {
	clock := newFakeClock()
	p := NewProcessProvider(ProcessProviderConfig{
		MemoryLimitMB: 1024,
		Window:        time.Minute,
		Clock:         clock,
	})

	p.RecordRequest(100*time.Millisecond, false)
	p.RecordRequest(200*time.Millisecond, false)
	p.RecordRequest(300*time.Millisecond, true)
	p.RecordRequest(400*time.Millisecond, true)

	snapshot, err := p.Collect(context.Background())
	require.NoError(t, err)

	// 4 requests in a one-minute window
	assert.Equal(t, 4.0, snapshot.RequestRate)
	assert.Equal(t, 250.0, snapshot.AvgResponseTime)
	assert.Equal(t, 0.5, snapshot.ErrorRate)
}

func TestProcessProvider_RateNormalizedToPerMinute(t *testing.T) {
	clock := newFakeClock()
	p := NewProcessProvider(ProcessProviderConfig{
		MemoryLimitMB: 1024,
		Window:        30 * time.Second,
		Clock:         clock,
	})

	for i := 0; i < 10; i++ {
		p.RecordRequest(10*time.Millisecond, false)
	}

	snapshot, err := p.Collect(context.Background())
	require.NoError(t, err)

	// 10 requests in a 30s window extrapolate to 20 per minute
	assert.Equal(t, 20.0, snapshot.RequestRate)
}

func TestProcessProvider_PrunesOldSamples(t *testing.T) {
	clock := newFakeClock()
	p := NewProcessProvider(ProcessProviderConfig{
		MemoryLimitMB: 1024,
		Window:        time.Minute,
		Clock:         clock,
	})

	p.RecordRequest(100*time.Millisecond, true)
	p.RecordRequest(100*time.Millisecond, true)

	clock.Advance(2 * time.Minute)
	p.RecordRequest(50*time.Millisecond, false)

	snapshot, err := p.Collect(context.Background())
	require.NoError(t, err)

	// Only the recent sample survives the window
	assert.Equal(t, 1.0, snapshot.RequestRate)
	assert.Equal(t, 50.0, snapshot.AvgResponseTime)
	assert.Zero(t, snapshot.ErrorRate)
}

func TestProcessProvider_CPUReader(t *testing.T) {
	p := NewProcessProvider(ProcessProviderConfig{
		MemoryLimitMB: 1024,
		Window:        time.Minute,
		CPUPercent:    func() float64 { return 42.5 },
		Clock:         newFakeClock(),
	})

	snapshot, err := p.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42.5, snapshot.CPUUtilization)
}

func TestProcessProvider_Defaults(t *testing.T) {
	cfg := DefaultProcessProviderConfig()
	assert.Equal(t, 1024.0, cfg.MemoryLimitMB)
	assert.Equal(t, time.Minute, cfg.Window)
}
