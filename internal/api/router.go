package api

import (
	"github.com/gin-gonic/gin"

	"github.com/bulwark-io/bulwark/internal/audit"
	"github.com/bulwark-io/bulwark/internal/scaling"
	"github.com/bulwark-io/bulwark/pkg/config"
	"github.com/bulwark-io/bulwark/pkg/health"
	"github.com/bulwark-io/bulwark/pkg/metrics"
	"github.com/bulwark-io/bulwark/pkg/resilience"
	"github.com/bulwark-io/bulwark/pkg/tracing"
)

// Dependencies carries everything the router wires into handlers.
type Dependencies struct {
	Config     *config.Config
	Registry   *resilience.Registry
	Controller *scaling.Controller
	Provider   *scaling.ProcessProvider
	AuditStore *audit.Store
	Health     *health.Service
	Metrics    *metrics.Metrics
	Tracing    *tracing.TracingService
}

// NewRouter creates and configures the API router
func NewRouter(deps Dependencies) *gin.Engine {
	if deps.Config.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	router.Use(RequestIDMiddleware())
	router.Use(LoggingMiddleware())
	router.Use(ErrorHandlingMiddleware())
	router.Use(CORSMiddleware())
	if deps.Tracing != nil {
		router.Use(deps.Tracing.TracingMiddleware())
	}
	if deps.Metrics != nil {
		router.Use(deps.Metrics.PrometheusMiddleware())
	}
	if deps.Provider != nil {
		router.Use(LoadSignalMiddleware(deps.Provider))
	}

	// Health and metrics endpoints
	router.GET("/health", deps.Health.Handler())
	router.GET("/health/live", deps.Health.LivenessHandler())
	router.GET("/health/ready", deps.Health.ReadinessHandler())
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	resilienceHandler := NewResilienceHandler(deps.Registry)
	scalingHandler := NewScalingHandler(deps.Controller, deps.AuditStore)

	v1 := router.Group("/api/v1")
	{
		res := v1.Group("/resilience")
		{
			breakers := res.Group("/breakers")
			{
				breakers.GET("", resilienceHandler.ListBreakers)
				breakers.GET("/:name", resilienceHandler.GetBreaker)
				breakers.POST("/:name/force-open", resilienceHandler.ForceOpen)
				breakers.POST("/:name/force-close", resilienceHandler.ForceClose)
				breakers.POST("/:name/reset", resilienceHandler.ResetBreaker)
			}
			res.GET("/degradation", resilienceHandler.DegradationStats)
		}

		scale := v1.Group("/scaling")
		{
			scale.GET("/stats", scalingHandler.Stats)
			scale.GET("/history", scalingHandler.History)
			scale.POST("/manual", scalingHandler.ManualScale)
		}
	}

	router.NoRoute(func(c *gin.Context) {
		NotFoundResponse(c, "Endpoint not found")
	})

	return router
}
