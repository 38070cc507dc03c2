package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_Error(t *testing.T) {
	err := NewValidationError("field is required")
	assert.Equal(t, "VALIDATION_ERROR: field is required", err.Error())

	cause := errors.New("underlying")
	err = NewInternalError("something broke").WithCause(cause)
	assert.Contains(t, err.Error(), "underlying")
	assert.ErrorIs(t, err, cause)
}

func TestAppError_WithDetail(t *testing.T) {
	err := NewExternalError("billing", "connection refused")
	assert.Equal(t, "billing", err.Details["service"])

	err.WithDetail("attempt", "3")
	assert.Equal(t, "3", err.Details["attempt"])
}

func TestConstructors(t *testing.T) {
	tests := []struct {
		err      *AppError
		errType  ErrorType
		code     string
	}{
		{NewValidationError("bad"), ErrorTypeValidation, "VALIDATION_ERROR"},
		{NewNotFoundError("widget"), ErrorTypeNotFound, "NOT_FOUND"},
		{NewConflictError("busy"), ErrorTypeConflict, "CONFLICT"},
		{NewRateLimitError("slow down"), ErrorTypeRateLimit, "RATE_LIMIT_EXCEEDED"},
		{NewTimeoutError("call"), ErrorTypeTimeout, "TIMEOUT"},
		{NewExternalError("billing", "down"), ErrorTypeExternal, "EXTERNAL_SERVICE_ERROR"},
		{NewUnavailableError("down"), ErrorTypeUnavailable, "SERVICE_UNAVAILABLE"},
		{NewInternalError("broke"), ErrorTypeInternal, "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(string(tt.errType), func(t *testing.T) {
			assert.Equal(t, tt.errType, tt.err.Type)
			assert.Equal(t, tt.code, tt.err.Code)
			assert.False(t, tt.err.Timestamp.IsZero())
		})
	}
}

func TestIsType(t *testing.T) {
	err := NewTimeoutError("call")
	assert.True(t, IsType(err, ErrorTypeTimeout))
	assert.False(t, IsType(err, ErrorTypeValidation))
	assert.False(t, IsType(errors.New("plain"), ErrorTypeTimeout))

	// Works through wrapping
	wrapped := fmt.Errorf("context: %w", err)
	assert.True(t, IsType(wrapped, ErrorTypeTimeout))
}

func TestGetTypeAndCode(t *testing.T) {
	assert.Equal(t, ErrorTypeNotFound, GetType(NewNotFoundError("widget")))
	assert.Equal(t, "NOT_FOUND", GetCode(NewNotFoundError("widget")))

	// Untyped errors are treated as internal
	plain := errors.New("plain")
	assert.Equal(t, ErrorTypeInternal, GetType(plain))
	assert.Equal(t, "UNKNOWN_ERROR", GetCode(plain))
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(NewTimeoutError("call")))
	assert.True(t, Retryable(NewExternalError("billing", "down")))
	assert.True(t, Retryable(NewUnavailableError("down")))
	assert.True(t, Retryable(NewInternalError("broke")))

	assert.False(t, Retryable(NewValidationError("bad")))
	assert.False(t, Retryable(NewNotFoundError("widget")))
	assert.False(t, Retryable(NewConflictError("busy")))
	assert.False(t, Retryable(NewRateLimitError("slow down")))

	assert.False(t, Retryable(nil))
	// Untyped errors classify as internal, hence retryable
	assert.True(t, Retryable(errors.New("plain")))
}

func TestKindRetryable(t *testing.T) {
	require.True(t, KindRetryable(ErrorTypeTimeout))
	require.False(t, KindRetryable(ErrorTypeValidation))
	require.False(t, KindRetryable(ErrorType("bogus")))
}
