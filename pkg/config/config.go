package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the application configuration
type Config struct {
	Server      ServerConfig      `json:"server"`
	Database    DatabaseConfig    `json:"database"`
	Redis       RedisConfig       `json:"redis"`
	Breaker     BreakerConfig     `json:"breaker"`
	Retry       RetryConfig       `json:"retry"`
	Degradation DegradationConfig `json:"degradation"`
	Scaling     ScalingConfig     `json:"scaling"`
	Logging     LoggingConfig     `json:"logging"`
	Tracing     TracingConfig     `json:"tracing"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
}

// DatabaseConfig contains the audit store connection configuration.
// The audit store is optional; it is enabled only when a host is set.
type DatabaseConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	Name            string        `json:"name"`
	User            string        `json:"user"`
	Password        string        `json:"password"`
	SSLMode         string        `json:"ssl_mode"`
	MaxOpenConns    int           `json:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
}

// Enabled reports whether the audit store should be wired up.
func (d DatabaseConfig) Enabled() bool {
	return d.Host != ""
}

// RedisConfig contains Redis connection configuration
type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// BreakerConfig contains circuit breaker defaults applied to every
// dependency unless overridden per breaker.
type BreakerConfig struct {
	FailureThreshold int           `json:"failure_threshold"`
	RecoveryTimeout  time.Duration `json:"recovery_timeout"`
}

// RetryConfig contains retry executor defaults
type RetryConfig struct {
	MaxAttempts       int           `json:"max_attempts"`
	BaseDelay         time.Duration `json:"base_delay"`
	MaxDelay          time.Duration `json:"max_delay"`
	BackoffMultiplier float64       `json:"backoff_multiplier"`
	Jitter            bool          `json:"jitter"`
}

// DegradationConfig contains graceful degradation defaults
type DegradationConfig struct {
	FallbackTimeout     time.Duration `json:"fallback_timeout"`
	HealthCheckInterval time.Duration `json:"health_check_interval"`
	MaxDegradationTime  time.Duration `json:"max_degradation_time"`
}

// ScalingConfig contains adaptive scaling controller configuration
type ScalingConfig struct {
	Enabled            bool          `json:"enabled"`
	EvaluationInterval time.Duration `json:"evaluation_interval"`
	MinInstances       int           `json:"min_instances"`
	MaxInstances       int           `json:"max_instances"`
	TargetCPUPercent   float64       `json:"target_cpu_percent"`
	TargetMemoryPct    float64       `json:"target_memory_percent"`
	TargetResponseMs   float64       `json:"target_response_ms"`
	TargetRequestRate  float64       `json:"target_request_rate"`
	TargetErrorRate    float64       `json:"target_error_rate"`
	ScaleUpThreshold   float64       `json:"scale_up_threshold"`
	ScaleDownThreshold float64       `json:"scale_down_threshold"`
	DataPointsToAlarm  int           `json:"data_points_to_alarm"`
	ScaleUpCooldown    time.Duration `json:"scale_up_cooldown"`
	ScaleDownCooldown  time.Duration `json:"scale_down_cooldown"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
	Output string `json:"output"`
}

// TracingConfig contains distributed tracing configuration
type TracingConfig struct {
	Enabled        bool    `json:"enabled"`
	ServiceName    string  `json:"service_name"`
	ServiceVersion string  `json:"service_version"`
	JaegerEndpoint string  `json:"jaeger_endpoint"`
	SampleRate     float64 `json:"sample_rate"`
}

// Load loads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	config := &Config{
		Server: ServerConfig{
			Host:         getEnvString("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
		},
		Database: DatabaseConfig{
			Host:            getEnvString("DB_HOST", ""),
			Port:            getEnvInt("DB_PORT", 5432),
			Name:            getEnvString("DB_NAME", "bulwark"),
			User:            getEnvString("DB_USER", "bulwark"),
			Password:        getEnvString("DB_PASSWORD", ""),
			SSLMode:         getEnvString("DB_SSL_MODE", "disable"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			Host:     getEnvString("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnvString("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 10),
		},
		Breaker: BreakerConfig{
			FailureThreshold: getEnvInt("BREAKER_FAILURE_THRESHOLD", 5),
			RecoveryTimeout:  getEnvDuration("BREAKER_RECOVERY_TIMEOUT", 60*time.Second),
		},
		Retry: RetryConfig{
			MaxAttempts:       getEnvInt("RETRY_MAX_ATTEMPTS", 3),
			BaseDelay:         getEnvDuration("RETRY_BASE_DELAY", 100*time.Millisecond),
			MaxDelay:          getEnvDuration("RETRY_MAX_DELAY", 30*time.Second),
			BackoffMultiplier: getEnvFloat("RETRY_BACKOFF_MULTIPLIER", 2.0),
			Jitter:            getEnvBool("RETRY_JITTER", true),
		},
		Degradation: DegradationConfig{
			FallbackTimeout:     getEnvDuration("DEGRADATION_FALLBACK_TIMEOUT", 5*time.Second),
			HealthCheckInterval: getEnvDuration("DEGRADATION_HEALTH_CHECK_INTERVAL", 30*time.Second),
			MaxDegradationTime:  getEnvDuration("DEGRADATION_MAX_TIME", 10*time.Minute),
		},
		Scaling: ScalingConfig{
			Enabled:            getEnvBool("SCALING_ENABLED", true),
			EvaluationInterval: getEnvDuration("SCALING_EVALUATION_INTERVAL", 15*time.Second),
			MinInstances:       getEnvInt("SCALING_MIN_INSTANCES", 1),
			MaxInstances:       getEnvInt("SCALING_MAX_INSTANCES", 10),
			TargetCPUPercent:   getEnvFloat("SCALING_TARGET_CPU_PERCENT", 70.0),
			TargetMemoryPct:    getEnvFloat("SCALING_TARGET_MEMORY_PERCENT", 75.0),
			TargetResponseMs:   getEnvFloat("SCALING_TARGET_RESPONSE_MS", 250.0),
			TargetRequestRate:  getEnvFloat("SCALING_TARGET_REQUEST_RATE", 100.0),
			TargetErrorRate:    getEnvFloat("SCALING_TARGET_ERROR_RATE", 0.05),
			ScaleUpThreshold:   getEnvFloat("SCALING_UP_THRESHOLD", 0.9),
			ScaleDownThreshold: getEnvFloat("SCALING_DOWN_THRESHOLD", 0.5),
			DataPointsToAlarm:  getEnvInt("SCALING_DATA_POINTS_TO_ALARM", 3),
			ScaleUpCooldown:    getEnvDuration("SCALING_UP_COOLDOWN", time.Minute),
			ScaleDownCooldown:  getEnvDuration("SCALING_DOWN_COOLDOWN", 5*time.Minute),
		},
		Logging: LoggingConfig{
			Level:  getEnvString("LOG_LEVEL", "info"),
			Format: getEnvString("LOG_FORMAT", "json"),
			Output: getEnvString("LOG_OUTPUT", "stdout"),
		},
		Tracing: TracingConfig{
			Enabled:        getEnvBool("TRACING_ENABLED", false),
			ServiceName:    getEnvString("TRACING_SERVICE_NAME", "bulwarkd"),
			ServiceVersion: getEnvString("TRACING_SERVICE_VERSION", "dev"),
			JaegerEndpoint: getEnvString("JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),
			SampleRate:     getEnvFloat("TRACING_SAMPLE_RATE", 0.1),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Breaker.FailureThreshold < 1 {
		return fmt.Errorf("breaker failure threshold must be at least 1")
	}

	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry max attempts must be at least 1")
	}
	if c.Retry.BackoffMultiplier < 1.0 {
		return fmt.Errorf("retry backoff multiplier must be at least 1.0")
	}

	if c.Scaling.MinInstances < 1 {
		return fmt.Errorf("scaling min instances must be at least 1")
	}
	if c.Scaling.MaxInstances < c.Scaling.MinInstances {
		return fmt.Errorf("scaling max instances must be >= min instances")
	}
	if c.Scaling.ScaleDownThreshold >= c.Scaling.ScaleUpThreshold {
		return fmt.Errorf("scale down threshold must be below scale up threshold")
	}
	if c.Scaling.DataPointsToAlarm < 1 {
		return fmt.Errorf("scaling data points to alarm must be at least 1")
	}

	if c.Database.Enabled() && c.Database.Password == "" {
		return fmt.Errorf("database password is required when the audit store is enabled")
	}

	return nil
}

// DatabaseURL returns the database connection URL
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
		c.Database.SSLMode,
	)
}

// RedisAddr returns the Redis host:port address
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// Helper functions for environment variable parsing
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
