package api

import (
	"github.com/gin-gonic/gin"

	"github.com/bulwark-io/bulwark/internal/audit"
	"github.com/bulwark-io/bulwark/internal/scaling"
	"github.com/bulwark-io/bulwark/pkg/errors"
	"github.com/bulwark-io/bulwark/pkg/resilience"
)

// ResilienceHandler exposes breaker and degradation state plus the
// administrative overrides.
type ResilienceHandler struct {
	registry *resilience.Registry
}

// NewResilienceHandler creates a resilience handler
func NewResilienceHandler(registry *resilience.Registry) *ResilienceHandler {
	return &ResilienceHandler{registry: registry}
}

// ListBreakers returns stats for every registered circuit breaker
func (h *ResilienceHandler) ListBreakers(c *gin.Context) {
	SuccessResponse(c, h.registry.BreakerStats())
}

// GetBreaker returns stats for one circuit breaker
func (h *ResilienceHandler) GetBreaker(c *gin.Context) {
	name := c.Param("name")
	breaker, ok := h.registry.LookupBreaker(name)
	if !ok {
		ErrorResponseFromError(c, errors.NewNotFoundError("circuit breaker"))
		return
	}
	SuccessResponse(c, breaker.Stats())
}

// ForceOpen trips a breaker open regardless of its counters
func (h *ResilienceHandler) ForceOpen(c *gin.Context) {
	name := c.Param("name")
	breaker, ok := h.registry.LookupBreaker(name)
	if !ok {
		ErrorResponseFromError(c, errors.NewNotFoundError("circuit breaker"))
		return
	}
	breaker.ForceOpen()
	SuccessResponse(c, breaker.Stats())
}

// ForceClose closes a breaker regardless of its counters
func (h *ResilienceHandler) ForceClose(c *gin.Context) {
	name := c.Param("name")
	breaker, ok := h.registry.LookupBreaker(name)
	if !ok {
		ErrorResponseFromError(c, errors.NewNotFoundError("circuit breaker"))
		return
	}
	breaker.ForceClose()
	SuccessResponse(c, breaker.Stats())
}

// ResetBreaker returns a breaker to its initial state
func (h *ResilienceHandler) ResetBreaker(c *gin.Context) {
	name := c.Param("name")
	breaker, ok := h.registry.LookupBreaker(name)
	if !ok {
		ErrorResponseFromError(c, errors.NewNotFoundError("circuit breaker"))
		return
	}
	breaker.Reset()
	SuccessResponse(c, breaker.Stats())
}

// DegradationStats returns degradation state per managed service
func (h *ResilienceHandler) DegradationStats(c *gin.Context) {
	SuccessResponse(c, h.registry.DegradationStats())
}

// ScalingHandler exposes the scaling controller's state and the manual
// scale operation.
type ScalingHandler struct {
	controller *scaling.Controller
	store      *audit.Store
}

// NewScalingHandler creates a scaling handler. The store may be nil
// when the audit database is not configured.
func NewScalingHandler(controller *scaling.Controller, store *audit.Store) *ScalingHandler {
	return &ScalingHandler{
		controller: controller,
		store:      store,
	}
}

// Stats returns the controller's read-only snapshot
func (h *ScalingHandler) Stats(c *gin.Context) {
	SuccessResponse(c, h.controller.Stats())
}

// History returns persisted scaling events when the audit store is
// configured, falling back to the in-memory ring otherwise.
func (h *ScalingHandler) History(c *gin.Context) {
	if h.store == nil {
		SuccessResponse(c, h.controller.Stats().Events)
		return
	}

	events, err := h.store.Recent(c.Request.Context(), 50)
	if err != nil {
		ErrorResponseFromError(c, err)
		return
	}
	SuccessResponse(c, events)
}

type manualScaleRequest struct {
	TargetInstances int `json:"target_instances" binding:"required"`
}

// ManualScale applies an operator-requested instance count
func (h *ScalingHandler) ManualScale(c *gin.Context) {
	var req manualScaleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponseFromError(c, errors.NewValidationError("target_instances is required"))
		return
	}

	event, err := h.controller.ManualScale(c.Request.Context(), req.TargetInstances)
	if err != nil {
		ErrorResponseFromError(c, err)
		return
	}
	AcceptedResponse(c, event)
}
