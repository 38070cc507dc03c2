package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bulwark-io/bulwark/internal/registry"
	"github.com/bulwark-io/bulwark/internal/scaling"
	"github.com/bulwark-io/bulwark/pkg/config"
	"github.com/bulwark-io/bulwark/pkg/health"
	"github.com/bulwark-io/bulwark/pkg/logging"
	"github.com/bulwark-io/bulwark/pkg/resilience"
)

func setupTestRouter(t *testing.T) (*gin.Engine, *resilience.Registry, *scaling.Controller) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	resRegistry := resilience.NewRegistry(resilience.RegistryConfig{
		Breaker: resilience.CircuitBreakerConfig{
			FailureThreshold: 2,
			RecoveryTimeout:  time.Minute,
		},
	})

	scalingCfg := scaling.DefaultConfig()
	scalingCfg.MinInstances = 1
	scalingCfg.MaxInstances = 5
	instances := registry.NewMemoryRegistry()
	instances.Register(context.Background(), registry.Instance{ID: "test-instance"})
	controller := scaling.NewController(scalingCfg,
		scaling.NewProcessProvider(scaling.DefaultProcessProviderConfig()),
		instances, nil, nil)

	cfg := &config.Config{}
	cfg.Logging.Level = "info"

	router := NewRouter(Dependencies{
		Config:     cfg,
		Registry:   resRegistry,
		Controller: controller,
		Health:     health.NewService(logging.GetLogger(), nil),
	})
	return router, resRegistry, controller
}

func doRequest(router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestAPI_ListBreakers(t *testing.T) {
	router, resRegistry, _ := setupTestRouter(t)
	resRegistry.Breaker("payments")
	resRegistry.Breaker("search")

	w := doRequest(router, http.MethodGet, "/api/v1/resilience/breakers", nil)
	require.Equal(t, http.StatusOK, w.Code)

	resp := decodeResponse(t, w)
	assert.True(t, resp.Success)
	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, data, "payments")
	assert.Contains(t, data, "search")
}

func TestAPI_GetBreaker(t *testing.T) {
	router, resRegistry, _ := setupTestRouter(t)
	resRegistry.Breaker("payments")

	w := doRequest(router, http.MethodGet, "/api/v1/resilience/breakers/payments", nil)
	require.Equal(t, http.StatusOK, w.Code)

	resp := decodeResponse(t, w)
	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "payments", data["name"])
	assert.Equal(t, "CLOSED", data["state"])
}

func TestAPI_GetBreakerNotFound(t *testing.T) {
	router, _, _ := setupTestRouter(t)

	w := doRequest(router, http.MethodGet, "/api/v1/resilience/breakers/missing", nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	resp := decodeResponse(t, w)
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "NOT_FOUND", resp.Error.Code)
}

func TestAPI_ForceOpenAndForceClose(t *testing.T) {
	router, resRegistry, _ := setupTestRouter(t)
	breaker := resRegistry.Breaker("payments")

	w := doRequest(router, http.MethodPost, "/api/v1/resilience/breakers/payments/force-open", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, resilience.StateOpen, breaker.State())

	resp := decodeResponse(t, w)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, "OPEN", data["state"])

	w = doRequest(router, http.MethodPost, "/api/v1/resilience/breakers/payments/force-close", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, resilience.StateClosed, breaker.State())
}

func TestAPI_ResetBreaker(t *testing.T) {
	router, resRegistry, _ := setupTestRouter(t)
	breaker := resRegistry.Breaker("payments")

	// Trip it, then reset through the API
	for i := 0; i < 2; i++ {
		breaker.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
			return nil, errors.New("boom")
		})
	}
	require.Equal(t, resilience.StateOpen, breaker.State())

	w := doRequest(router, http.MethodPost, "/api/v1/resilience/breakers/payments/reset", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, resilience.StateClosed, breaker.State())
	assert.Equal(t, uint64(0), breaker.Stats().Requests)
}

func TestAPI_DegradationStats(t *testing.T) {
	router, resRegistry, _ := setupTestRouter(t)
	resRegistry.Manager("reports")

	w := doRequest(router, http.MethodGet, "/api/v1/resilience/degradation", nil)
	require.Equal(t, http.StatusOK, w.Code)

	resp := decodeResponse(t, w)
	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, data, "reports")
}

func TestAPI_ScalingStats(t *testing.T) {
	router, _, _ := setupTestRouter(t)

	w := doRequest(router, http.MethodGet, "/api/v1/scaling/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)

	resp := decodeResponse(t, w)
	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, true, data["enabled"])
	assert.Equal(t, false, data["is_scaling"])
}

func TestAPI_ManualScale(t *testing.T) {
	router, _, controller := setupTestRouter(t)

	w := doRequest(router, http.MethodPost, "/api/v1/scaling/manual",
		map[string]int{"target_instances": 3})
	require.Equal(t, http.StatusAccepted, w.Code)

	resp := decodeResponse(t, w)
	assert.True(t, resp.Success)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, true, data["manual"])
	assert.Equal(t, true, data["success"])
	assert.Equal(t, 3, controller.Stats().CurrentInstances)
}

func TestAPI_ManualScaleOutOfBounds(t *testing.T) {
	router, _, _ := setupTestRouter(t)

	w := doRequest(router, http.MethodPost, "/api/v1/scaling/manual",
		map[string]int{"target_instances": 50})
	require.Equal(t, http.StatusBadRequest, w.Code)

	resp := decodeResponse(t, w)
	assert.False(t, resp.Success)
	assert.Equal(t, "VALIDATION_ERROR", resp.Error.Code)
}

func TestAPI_ManualScaleMissingBody(t *testing.T) {
	router, _, _ := setupTestRouter(t)

	w := doRequest(router, http.MethodPost, "/api/v1/scaling/manual",
		map[string]string{"unrelated": "field"})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAPI_ScalingHistoryFallsBackToRing(t *testing.T) {
	router, _, controller := setupTestRouter(t)

	_, err := controller.ManualScale(context.Background(), 2)
	require.NoError(t, err)

	w := doRequest(router, http.MethodGet, "/api/v1/scaling/history", nil)
	require.Equal(t, http.StatusOK, w.Code)

	resp := decodeResponse(t, w)
	events, ok := resp.Data.([]interface{})
	require.True(t, ok)
	assert.Len(t, events, 1)
}

func TestAPI_UnknownRoute(t *testing.T) {
	router, _, _ := setupTestRouter(t)

	w := doRequest(router, http.MethodGet, "/api/v1/nope", nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	resp := decodeResponse(t, w)
	assert.False(t, resp.Success)
	assert.Equal(t, "NOT_FOUND", resp.Error.Code)
}

func TestAPI_HealthEndpoints(t *testing.T) {
	router, _, _ := setupTestRouter(t)

	w := doRequest(router, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doRequest(router, http.MethodGet, "/health/live", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doRequest(router, http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestErrorResponseFromError_CircuitOpenSetsRetryAfter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

	ErrorResponseFromError(c, &resilience.CircuitOpenError{
		Name:       "payments",
		RetryAfter: 45 * time.Second,
	})

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "45", w.Header().Get("Retry-After"))
}

func TestErrorResponseFromError_RetryExhausted(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

	ErrorResponseFromError(c, &resilience.RetryExhaustedError{
		Operation: "query",
		Attempts:  3,
		Err:       errors.New("boom"),
	})

	assert.Equal(t, http.StatusBadGateway, w.Code)
}
