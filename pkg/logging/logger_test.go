package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		config  *Config
		wantErr bool
	}{
		{
			name: "valid config",
			config: &Config{
				Level:       "info",
				Format:      "json",
				Output:      "stdout",
				ServiceName: "test-service",
				Version:     "1.0.0",
			},
			wantErr: false,
		},
		{
			name: "invalid log level",
			config: &Config{
				Level:  "invalid",
				Format: "json",
				Output: "stdout",
			},
			wantErr: true,
		},
		{
			name: "invalid format",
			config: &Config{
				Level:  "info",
				Format: "invalid",
				Output: "stdout",
			},
			wantErr: true,
		},
		{
			name:    "nil config uses defaults",
			config:  nil,
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewLogger(tt.config)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, logger)
			} else {
				assert.NoError(t, err)
				assert.NotNil(t, logger)
			}
		})
	}
}

func newBufferedLogger(t *testing.T) (*Logger, *bytes.Buffer) {
	t.Helper()
	logger, err := NewLogger(&Config{
		Level:       "debug",
		Format:      "json",
		Output:      "stdout",
		ServiceName: "test-service",
		Version:     "1.0.0",
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	logger.SetOutput(&buf)
	return logger, &buf
}

func lastLogEntry(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestLogger_WithContext(t *testing.T) {
	logger, buf := newBufferedLogger(t)

	ctx := WithCorrelationID(context.Background(), "test-correlation-id")
	ctx = WithRequestID(ctx, "test-request-id")

	logger.WithContext(ctx).Info("test message")

	entry := lastLogEntry(t, buf)
	assert.Equal(t, "test message", entry["message"])
	assert.Equal(t, "test-service", entry["service"])
	assert.Equal(t, "1.0.0", entry["version"])
	assert.Equal(t, "test-correlation-id", entry["correlation_id"])
	assert.Equal(t, "test-request-id", entry["request_id"])
}

func TestLogger_KeyValuePairs(t *testing.T) {
	logger, buf := newBufferedLogger(t)

	logger.Info("scaling applied", "action", "scale_up", "target", 3)

	entry := lastLogEntry(t, buf)
	assert.Equal(t, "scaling applied", entry["message"])
	assert.Equal(t, "scale_up", entry["action"])
	assert.Equal(t, float64(3), entry["target"])
}

func TestLogger_WithComponent(t *testing.T) {
	logger, buf := newBufferedLogger(t)

	logger.WithComponent("circuit_breaker").Warn("breaker opened")

	entry := lastLogEntry(t, buf)
	assert.Equal(t, "circuit_breaker", entry["component"])
	assert.Equal(t, "warning", entry["level"])
}

func TestLogger_WithError(t *testing.T) {
	logger, buf := newBufferedLogger(t)

	logger.WithError(assert.AnError).Error("operation failed")

	entry := lastLogEntry(t, buf)
	assert.Equal(t, assert.AnError.Error(), entry["error"])
	assert.NotEmpty(t, entry["error_type"])
}

func TestLogger_LogBreakerEvent(t *testing.T) {
	logger, buf := newBufferedLogger(t)

	logger.LogBreakerEvent(context.Background(), "state_change", "payments", logrus.Fields{
		"from": "CLOSED",
		"to":   "OPEN",
	})

	entry := lastLogEntry(t, buf)
	assert.Equal(t, "state_change", entry["event"])
	assert.Equal(t, "payments", entry["breaker"])
	assert.Equal(t, "OPEN", entry["to"])
}

func TestLogger_LogScalingEvent(t *testing.T) {
	logger, buf := newBufferedLogger(t)

	logger.LogScalingEvent(context.Background(), "scale_up", 2, 3, true, nil)

	entry := lastLogEntry(t, buf)
	assert.Equal(t, "scaling", entry["event"])
	assert.Equal(t, float64(2), entry["current_instances"])
	assert.Equal(t, float64(3), entry["target_instances"])
	assert.Equal(t, true, entry["success"])
	assert.Equal(t, "info", entry["level"])
}

func TestCorrelationIDHelpers(t *testing.T) {
	id := NewCorrelationID()
	assert.NotEmpty(t, id)

	ctx := WithCorrelationID(context.Background(), id)
	assert.Equal(t, id, GetCorrelationID(ctx))
	assert.Empty(t, GetCorrelationID(context.Background()))
}

func TestGlobalLogger(t *testing.T) {
	assert.NotNil(t, GetLogger())

	custom, err := NewLogger(nil)
	require.NoError(t, err)
	prev := GetLogger()
	SetGlobalLogger(custom)
	assert.Same(t, custom, GetLogger())
	SetGlobalLogger(prev)
}
