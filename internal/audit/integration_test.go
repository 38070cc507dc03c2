//go:build integration

package audit

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bulwark-io/bulwark/internal/scaling"
	"github.com/bulwark-io/bulwark/pkg/config"
)

// TestStoreIntegration exercises the audit store against a real
// database. Run with: go test -tags=integration ./internal/audit
func TestStoreIntegration(t *testing.T) {
	if os.Getenv("INTEGRATION_TESTS") != "1" {
		t.Skip("Skipping integration test. Set INTEGRATION_TESTS=1 to run.")
	}

	cfg := &config.DatabaseConfig{
		Host:            getEnvOrDefault("TEST_DB_HOST", "localhost"),
		Port:            5432,
		Name:            getEnvOrDefault("TEST_DB_NAME", "bulwark_test"),
		User:            getEnvOrDefault("TEST_DB_USER", "bulwark"),
		Password:        getEnvOrDefault("TEST_DB_PASSWORD", "bulwark_dev_password"),
		SSLMode:         "disable",
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}

	store, err := NewStore(cfg)
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()

	failure := "registry unreachable"
	events := []scaling.Event{
		{
			ID:        uuid.New().String(),
			Timestamp: time.Now().Add(-2 * time.Minute).UTC(),
			Decision: scaling.Decision{
				Action:           scaling.ActionScaleUp,
				CurrentInstances: 2,
				TargetInstances:  3,
				Confidence:       1.0,
				Reason:           "3 of 5 signals above scale-up threshold",
			},
			Success:    true,
			DurationMs: 12,
		},
		{
			ID:        uuid.New().String(),
			Timestamp: time.Now().UTC(),
			Decision: scaling.Decision{
				Action:           scaling.ActionScaleDown,
				CurrentInstances: 3,
				TargetInstances:  2,
				Confidence:       1.0,
				Reason:           "manual scale request",
			},
			Manual:     true,
			Success:    false,
			Error:      failure,
			DurationMs: 30,
		},
	}

	for _, event := range events {
		require.NoError(t, store.Record(ctx, event))
	}

	recent, err := store.Recent(ctx, 10)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(recent), 2)

	// Newest first
	assert.Equal(t, events[1].ID, recent[0].ID)
	assert.Equal(t, scaling.ActionScaleDown, recent[0].Decision.Action)
	assert.True(t, recent[0].Manual)
	assert.False(t, recent[0].Success)
	assert.Equal(t, failure, recent[0].Error)

	assert.Equal(t, events[0].ID, recent[1].ID)
	assert.True(t, recent[1].Success)
	assert.Empty(t, recent[1].Error)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
