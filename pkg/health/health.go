package health

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/bulwark-io/bulwark/pkg/logging"
	"github.com/bulwark-io/bulwark/pkg/resilience"
)

// Status is the health state reported by a checker.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
	StatusUnknown   Status = "unknown"
)

// worse returns the more severe of two statuses. Unhealthy beats degraded
// beats healthy.
func worse(a, b Status) Status {
	if a == StatusUnhealthy || b == StatusUnhealthy {
		return StatusUnhealthy
	}
	if a == StatusDegraded || b == StatusDegraded {
		return StatusDegraded
	}
	return a
}

// Check is the result of a single checker run.
type Check struct {
	Name      string            `json:"name"`
	Status    Status            `json:"status"`
	Message   string            `json:"message,omitempty"`
	Error     string            `json:"error,omitempty"`
	Duration  time.Duration     `json:"duration"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

func newCheck(name string) *Check {
	return &Check{Name: name, Timestamp: time.Now()}
}

func (c *Check) fail(reason string) *Check {
	c.Status = StatusUnhealthy
	c.Error = reason
	c.Duration = time.Since(c.Timestamp)
	return c
}

func (c *Check) finish(status Status, message string) *Check {
	c.Status = status
	c.Message = message
	c.Duration = time.Since(c.Timestamp)
	return c
}

// HealthResponse aggregates all checker results.
type HealthResponse struct {
	Status    Status            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Duration  time.Duration     `json:"duration"`
	Checks    map[string]*Check `json:"checks"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Checker runs one health probe.
type Checker interface {
	Check(ctx context.Context) *Check
}

// Config holds health service settings.
type Config struct {
	Timeout  time.Duration     `json:"timeout"`
	Metadata map[string]string `json:"metadata"`
}

// DefaultConfig returns the default health service settings.
func DefaultConfig() *Config {
	return &Config{
		Timeout:  5 * time.Second,
		Metadata: make(map[string]string),
	}
}

// Service runs registered checkers and serves the aggregate over HTTP.
type Service struct {
	checkers map[string]Checker
	logger   *logging.Logger
	metadata map[string]string
	mutex    sync.RWMutex
}

// NewService creates a health service. A nil config uses DefaultConfig.
func NewService(logger *logging.Logger, config *Config) *Service {
	if config == nil {
		config = DefaultConfig()
	}
	return &Service{
		checkers: make(map[string]Checker),
		logger:   logger,
		metadata: config.Metadata,
	}
}

// RegisterChecker adds a checker under the given name, replacing any
// existing one.
func (s *Service) RegisterChecker(name string, checker Checker) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.checkers[name] = checker
}

// UnregisterChecker removes a checker.
func (s *Service) UnregisterChecker(name string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	delete(s.checkers, name)
}

// CheckHealth runs every registered checker concurrently and folds the
// results into one response. With no checkers the service is healthy.
func (s *Service) CheckHealth(ctx context.Context) *HealthResponse {
	start := time.Now()

	s.mutex.RLock()
	checkers := make(map[string]Checker, len(s.checkers))
	for name, checker := range s.checkers {
		checkers[name] = checker
	}
	s.mutex.RUnlock()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		checks  = make(map[string]*Check, len(checkers))
		overall = StatusHealthy
	)

	for name, checker := range checkers {
		wg.Add(1)
		go func(name string, checker Checker) {
			defer wg.Done()
			result := checker.Check(ctx)

			mu.Lock()
			checks[name] = result
			overall = worse(overall, result.Status)
			mu.Unlock()
		}(name, checker)
	}
	wg.Wait()

	return &HealthResponse{
		Status:    overall,
		Timestamp: time.Now(),
		Duration:  time.Since(start),
		Checks:    checks,
		Metadata:  s.metadata,
	}
}

// Handler serves the full health report. Unhealthy maps to 503, degraded
// to 206.
func (s *Service) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
		defer cancel()

		report := s.CheckHealth(ctx)

		code := http.StatusOK
		switch report.Status {
		case StatusUnhealthy:
			code = http.StatusServiceUnavailable
		case StatusDegraded:
			code = http.StatusPartialContent
		}
		c.JSON(code, report)
	}
}

// LivenessHandler answers that the process is up, nothing more.
func (s *Service) LivenessHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "alive",
			"timestamp": time.Now(),
		})
	}
}

// ReadinessHandler reports whether the instance should receive traffic.
// Degraded still counts as ready.
func (s *Service) ReadinessHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		report := s.CheckHealth(ctx)

		code := http.StatusOK
		if report.Status == StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"status":    report.Status,
			"timestamp": report.Timestamp,
			"ready":     report.Status != StatusUnhealthy,
		})
	}
}

// DatabaseChecker pings the audit database and watches pool pressure.
type DatabaseChecker struct {
	db   *sqlx.DB
	name string
}

func NewDatabaseChecker(db *sqlx.DB, name string) *DatabaseChecker {
	return &DatabaseChecker{db: db, name: name}
}

func (dc *DatabaseChecker) Check(ctx context.Context) *Check {
	check := newCheck(dc.name)

	if dc.db == nil {
		return check.fail("database connection is nil")
	}
	if err := dc.db.PingContext(ctx); err != nil {
		return check.fail(err.Error())
	}

	stats := dc.db.Stats()
	check.Metadata = map[string]string{
		"open_connections": fmt.Sprintf("%d", stats.OpenConnections),
		"idle_connections": fmt.Sprintf("%d", stats.Idle),
		"max_connections":  fmt.Sprintf("%d", stats.MaxOpenConnections),
	}

	if stats.OpenConnections > int(float64(stats.MaxOpenConnections)*0.8) {
		return check.finish(StatusDegraded, "database connection pool is running low")
	}
	return check.finish(StatusHealthy, "database is healthy")
}

// RedisChecker pings the instance registry's Redis backend.
type RedisChecker struct {
	client *redis.Client
	name   string
}

func NewRedisChecker(client *redis.Client, name string) *RedisChecker {
	return &RedisChecker{client: client, name: name}
}

func (rc *RedisChecker) Check(ctx context.Context) *Check {
	check := newCheck(rc.name)

	if rc.client == nil {
		return check.fail("redis connection is nil")
	}
	if err := rc.client.Ping(ctx).Err(); err != nil {
		return check.fail(err.Error())
	}

	stats := rc.client.PoolStats()
	check.Metadata = map[string]string{
		"total_connections": fmt.Sprintf("%d", stats.TotalConns),
		"idle_connections":  fmt.Sprintf("%d", stats.IdleConns),
		"stale_connections": fmt.Sprintf("%d", stats.StaleConns),
	}
	return check.finish(StatusHealthy, "redis is healthy")
}

// BreakerChecker reports degraded health while any circuit breaker is
// open, so load balancers can route around a struggling instance.
type BreakerChecker struct {
	registry *resilience.Registry
	name     string
}

func NewBreakerChecker(registry *resilience.Registry, name string) *BreakerChecker {
	return &BreakerChecker{registry: registry, name: name}
}

func (bc *BreakerChecker) Check(ctx context.Context) *Check {
	check := newCheck(bc.name)

	open, total := 0, 0
	for name, stats := range bc.registry.BreakerStats() {
		total++
		if stats.State == resilience.StateOpen.String() {
			open++
			if check.Metadata == nil {
				check.Metadata = make(map[string]string)
			}
			check.Metadata["open_"+name] = "true"
		}
	}

	if open > 0 {
		return check.finish(StatusDegraded, fmt.Sprintf("%d of %d circuit breakers open", open, total))
	}
	return check.finish(StatusHealthy, fmt.Sprintf("all %d circuit breakers closed", total))
}

// HTTPChecker probes an upstream HTTP endpoint.
type HTTPChecker struct {
	url    string
	name   string
	client *http.Client
}

func NewHTTPChecker(url, name string, timeout time.Duration) *HTTPChecker {
	return &HTTPChecker{
		url:    url,
		name:   name,
		client: &http.Client{Timeout: timeout},
	}
}

func (hc *HTTPChecker) Check(ctx context.Context) *Check {
	check := newCheck(hc.name)

	req, err := http.NewRequestWithContext(ctx, "GET", hc.url, nil)
	if err != nil {
		return check.fail(fmt.Sprintf("failed to create request: %v", err))
	}

	resp, err := hc.client.Do(req)
	if err != nil {
		return check.fail(fmt.Sprintf("request failed: %v", err))
	}
	defer resp.Body.Close()

	status := StatusHealthy
	message := "endpoint is healthy"
	switch {
	case resp.StatusCode >= 500:
		status = StatusUnhealthy
		message = fmt.Sprintf("endpoint returned status %d", resp.StatusCode)
	case resp.StatusCode >= 300:
		status = StatusDegraded
		message = fmt.Sprintf("endpoint returned status %d", resp.StatusCode)
	}

	check.finish(status, message)
	check.Metadata = map[string]string{
		"status_code":   fmt.Sprintf("%d", resp.StatusCode),
		"response_time": check.Duration.String(),
	}
	return check
}

// CustomChecker wraps an arbitrary probe function.
type CustomChecker struct {
	name     string
	checkFn  func(ctx context.Context) (Status, string, error)
	metadata map[string]string
}

func NewCustomChecker(name string, checkFn func(ctx context.Context) (Status, string, error)) *CustomChecker {
	return &CustomChecker{
		name:     name,
		checkFn:  checkFn,
		metadata: make(map[string]string),
	}
}

// WithMetadata attaches static metadata to every result.
func (cc *CustomChecker) WithMetadata(metadata map[string]string) *CustomChecker {
	cc.metadata = metadata
	return cc
}

func (cc *CustomChecker) Check(ctx context.Context) *Check {
	check := newCheck(cc.name)
	check.Metadata = cc.metadata

	status, message, err := cc.checkFn(ctx)
	check.finish(status, message)
	if err != nil {
		check.Error = err.Error()
		if check.Status == StatusHealthy {
			check.Status = StatusUnhealthy
		}
	}
	return check
}
