package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight *prometheus.GaugeVec

	// Circuit breaker metrics
	BreakerTransitions *prometheus.CounterVec
	BreakerRejections  *prometheus.CounterVec
	BreakerState       *prometheus.GaugeVec

	// Retry metrics
	RetryAttempts    *prometheus.CounterVec
	RetryExhaustions *prometheus.CounterVec

	// Degradation metrics
	FallbackExecutions *prometheus.CounterVec
	DegradedServices   *prometheus.GaugeVec
	DegradedDuration   *prometheus.GaugeVec

	// Scaling metrics
	ScalingDecisions *prometheus.CounterVec
	CurrentInstances *prometheus.GaugeVec
	SignalValues     *prometheus.GaugeVec

	// Error metrics
	ErrorsTotal *prometheus.CounterVec
	PanicsTotal *prometheus.CounterVec
}

// Config holds metrics configuration
type Config struct {
	Namespace string `json:"namespace"`
	Subsystem string `json:"subsystem"`
	Enabled   bool   `json:"enabled"`
}

// DefaultConfig returns default metrics configuration
func DefaultConfig() *Config {
	return &Config{
		Namespace: "bulwark",
		Subsystem: "",
		Enabled:   true,
	}
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(config *Config) *Metrics {
	if config == nil {
		config = DefaultConfig()
	}

	if !config.Enabled {
		return &Metrics{}
	}

	m := &Metrics{
		// HTTP metrics
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestsInFlight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "http_requests_in_flight",
				Help:      "Number of HTTP requests currently being processed",
			},
			[]string{"method", "path"},
		),

		// Circuit breaker metrics
		BreakerTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "breaker_transitions_total",
				Help:      "Total number of circuit breaker state transitions",
			},
			[]string{"breaker", "from", "to"},
		),
		BreakerRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "breaker_rejections_total",
				Help:      "Total number of calls rejected by open circuit breakers",
			},
			[]string{"breaker"},
		),
		BreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "breaker_state",
				Help:      "Current circuit breaker state (0=closed, 1=open, 2=half-open)",
			},
			[]string{"breaker"},
		),

		// Retry metrics
		RetryAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "retry_attempts_total",
				Help:      "Total number of retry attempts",
			},
			[]string{"operation"},
		),
		RetryExhaustions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "retry_exhaustions_total",
				Help:      "Total number of operations that exhausted all retry attempts",
			},
			[]string{"operation"},
		),

		// Degradation metrics
		FallbackExecutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "fallback_executions_total",
				Help:      "Total number of fallback strategy executions",
			},
			[]string{"service", "strategy", "status"},
		),
		DegradedServices: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "degraded",
				Help:      "Whether a service is currently degraded (0 or 1)",
			},
			[]string{"service"},
		),
		DegradedDuration: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "degraded_duration_seconds",
				Help:      "Duration of the current degradation episode in seconds",
			},
			[]string{"service"},
		),

		// Scaling metrics
		ScalingDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "scaling_decisions_total",
				Help:      "Total number of scaling decisions",
			},
			[]string{"action", "reason"},
		),
		CurrentInstances: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "instances",
				Help:      "Current and target instance counts",
			},
			[]string{"kind"},
		),
		SignalValues: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "scaling_signal",
				Help:      "Latest observed value per scaling signal",
			},
			[]string{"signal"},
		),

		// Error metrics
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "errors_total",
				Help:      "Total number of errors",
			},
			[]string{"component", "error_type"},
		),
		PanicsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "panics_total",
				Help:      "Total number of panics",
			},
			[]string{"component"},
		),
	}

	// Register all metrics
	prometheus.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.BreakerTransitions,
		m.BreakerRejections,
		m.BreakerState,
		m.RetryAttempts,
		m.RetryExhaustions,
		m.FallbackExecutions,
		m.DegradedServices,
		m.DegradedDuration,
		m.ScalingDecisions,
		m.CurrentInstances,
		m.SignalValues,
		m.ErrorsTotal,
		m.PanicsTotal,
	)

	return m
}

// RecordHTTPRequest records HTTP request metrics
func (m *Metrics) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration) {
	if m.HTTPRequestsTotal == nil {
		return
	}

	statusStr := strconv.Itoa(statusCode)
	m.HTTPRequestsTotal.WithLabelValues(method, path, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, statusStr).Observe(duration.Seconds())
}

// RecordBreakerTransition records a circuit breaker state transition
func (m *Metrics) RecordBreakerTransition(breaker, from, to string) {
	if m.BreakerTransitions == nil {
		return
	}

	m.BreakerTransitions.WithLabelValues(breaker, from, to).Inc()
	m.BreakerState.WithLabelValues(breaker).Set(stateValue(to))
}

// RecordBreakerRejection records a call rejected by an open breaker
func (m *Metrics) RecordBreakerRejection(breaker string) {
	if m.BreakerRejections == nil {
		return
	}

	m.BreakerRejections.WithLabelValues(breaker).Inc()
}

// RecordRetryAttempt records a single retry attempt
func (m *Metrics) RecordRetryAttempt(operation string) {
	if m.RetryAttempts == nil {
		return
	}

	m.RetryAttempts.WithLabelValues(operation).Inc()
}

// RecordRetryExhaustion records an operation that ran out of attempts
func (m *Metrics) RecordRetryExhaustion(operation string) {
	if m.RetryExhaustions == nil {
		return
	}

	m.RetryExhaustions.WithLabelValues(operation).Inc()
}

// RecordFallbackExecution records a fallback strategy execution
func (m *Metrics) RecordFallbackExecution(service, strategy, status string) {
	if m.FallbackExecutions == nil {
		return
	}

	m.FallbackExecutions.WithLabelValues(service, strategy, status).Inc()
}

// UpdateDegradation updates the degradation gauges for a service
func (m *Metrics) UpdateDegradation(service string, degraded bool, episode time.Duration) {
	if m.DegradedServices == nil {
		return
	}

	value := 0.0
	if degraded {
		value = 1.0
	}
	m.DegradedServices.WithLabelValues(service).Set(value)
	m.DegradedDuration.WithLabelValues(service).Set(episode.Seconds())
}

// RecordScalingDecision records a scaling decision
func (m *Metrics) RecordScalingDecision(action, reason string) {
	if m.ScalingDecisions == nil {
		return
	}

	m.ScalingDecisions.WithLabelValues(action, reason).Inc()
}

// UpdateInstances updates current and target instance gauges
func (m *Metrics) UpdateInstances(current, target int) {
	if m.CurrentInstances == nil {
		return
	}

	m.CurrentInstances.WithLabelValues("current").Set(float64(current))
	m.CurrentInstances.WithLabelValues("target").Set(float64(target))
}

// UpdateSignal updates the latest value of a scaling signal
func (m *Metrics) UpdateSignal(signal string, value float64) {
	if m.SignalValues == nil {
		return
	}

	m.SignalValues.WithLabelValues(signal).Set(value)
}

// RecordError records error metrics
func (m *Metrics) RecordError(component, errorType string) {
	if m.ErrorsTotal == nil {
		return
	}

	m.ErrorsTotal.WithLabelValues(component, errorType).Inc()
}

// RecordPanic records panic metrics
func (m *Metrics) RecordPanic(component string) {
	if m.PanicsTotal == nil {
		return
	}

	m.PanicsTotal.WithLabelValues(component).Inc()
}

// PrometheusMiddleware creates a middleware for Prometheus metrics collection
func (m *Metrics) PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m.HTTPRequestsInFlight != nil {
			m.HTTPRequestsInFlight.WithLabelValues(c.Request.Method, c.FullPath()).Inc()
			defer m.HTTPRequestsInFlight.WithLabelValues(c.Request.Method, c.FullPath()).Dec()
		}

		start := time.Now()
		c.Next()
		duration := time.Since(start)

		m.RecordHTTPRequest(c.Request.Method, c.FullPath(), c.Writer.Status(), duration)
	}
}

// Handler returns the Prometheus metrics HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}

func stateValue(state string) float64 {
	switch state {
	case "OPEN":
		return 1
	case "HALF_OPEN":
		return 2
	default:
		return 0
	}
}
