package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Config controls the logger's level, format, and destination.
type Config struct {
	Level       string `json:"level"`
	Format      string `json:"format"`
	Output      string `json:"output"`
	ServiceName string `json:"service_name"`
	Version     string `json:"version"`
}

func defaultConfig() *Config {
	return &Config{
		Level:       "info",
		Format:      "json",
		Output:      "stdout",
		ServiceName: "bulwark",
		Version:     "unknown",
	}
}

// Logger is a logrus.Logger that stamps every entry with the service
// identity and accepts variadic key-value pairs on its leveled methods.
type Logger struct {
	*logrus.Logger
	serviceName string
	version     string
}

// ContextKey is the type used for values this package stores in a Context.
type ContextKey string

const (
	// CorrelationIDKey carries the correlation ID across service hops.
	CorrelationIDKey ContextKey = "correlation_id"
	// RequestIDKey carries the per-request ID assigned by the API layer.
	RequestIDKey ContextKey = "request_id"
)

// NewLogger builds a Logger from config. A nil config gets JSON output on
// stdout at info level.
func NewLogger(config *Config) (*Logger, error) {
	if config == nil {
		config = defaultConfig()
	}

	base := logrus.New()

	level, err := logrus.ParseLevel(config.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	base.SetLevel(level)

	formatter, err := newFormatter(config.Format)
	if err != nil {
		return nil, err
	}
	base.SetFormatter(formatter)

	out, err := resolveOutput(config.Output)
	if err != nil {
		return nil, err
	}
	base.SetOutput(out)

	return &Logger{
		Logger:      base,
		serviceName: config.ServiceName,
		version:     config.Version,
	}, nil
}

func newFormatter(format string) (logrus.Formatter, error) {
	switch strings.ToLower(format) {
	case "json":
		return &logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		}, nil
	case "text":
		return &logrus.TextFormatter{
			TimestampFormat: time.RFC3339,
			FullTimestamp:   true,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported log format: %s", format)
	}
}

func resolveOutput(output string) (io.Writer, error) {
	switch strings.ToLower(output) {
	case "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	default:
		// Anything else is treated as a file path.
		file, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		return file, nil
	}
}

func (l *Logger) identity() logrus.Fields {
	return logrus.Fields{
		"service": l.serviceName,
		"version": l.version,
	}
}

// WithContext returns an entry carrying the service identity plus any
// correlation and request IDs present in ctx.
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.Logger.WithFields(l.identity())
	if id := ctx.Value(CorrelationIDKey); id != nil {
		entry = entry.WithField("correlation_id", id)
	}
	if id := ctx.Value(RequestIDKey); id != nil {
		entry = entry.WithField("request_id", id)
	}
	return entry
}

// WithFields returns an entry with the given fields layered over the
// service identity.
func (l *Logger) WithFields(fields logrus.Fields) *logrus.Entry {
	merged := l.identity()
	for k, v := range fields {
		merged[k] = v
	}
	return l.Logger.WithFields(merged)
}

// WithError returns an entry recording the error message and its Go type.
func (l *Logger) WithError(err error) *logrus.Entry {
	return l.WithFields(logrus.Fields{
		"error":      err.Error(),
		"error_type": fmt.Sprintf("%T", err),
	})
}

// WithComponent tags entries with the emitting component name.
func (l *Logger) WithComponent(component string) *logrus.Entry {
	return l.WithFields(logrus.Fields{"component": component})
}

// WithOperation tags entries with the operation being protected.
func (l *Logger) WithOperation(operation string) *logrus.Entry {
	return l.WithFields(logrus.Fields{"operation": operation})
}

// WithDuration records how long an operation took, in milliseconds.
func (l *Logger) WithDuration(duration time.Duration) *logrus.Entry {
	return l.WithFields(logrus.Fields{"duration_ms": duration.Milliseconds()})
}

// Info logs at info level with alternating key-value pairs.
func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.WithFields(pairFields(keysAndValues)).Info(msg)
}

// Warn logs at warning level with alternating key-value pairs.
func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	l.WithFields(pairFields(keysAndValues)).Warn(msg)
}

// Error logs at error level with alternating key-value pairs.
func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
	l.WithFields(pairFields(keysAndValues)).Error(msg)
}

// Debug logs at debug level with alternating key-value pairs.
func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	l.WithFields(pairFields(keysAndValues)).Debug(msg)
}

// Fatal logs the message and exits the process.
func (l *Logger) Fatal(msg string, keysAndValues ...interface{}) {
	l.WithFields(pairFields(keysAndValues)).Fatal(msg)
}

// SetOutput redirects the logger's output.
func (l *Logger) SetOutput(output io.Writer) {
	l.Logger.SetOutput(output)
}

// pairFields folds alternating keys and values into logrus.Fields. A
// trailing key with no value is dropped.
func pairFields(keysAndValues []interface{}) logrus.Fields {
	fields := make(logrus.Fields, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields[fmt.Sprintf("%v", keysAndValues[i])] = keysAndValues[i+1]
	}
	return fields
}

// LogBreakerEvent records a circuit breaker transition or rejection.
func (l *Logger) LogBreakerEvent(ctx context.Context, event, breakerName string, fields logrus.Fields) {
	entry := l.WithContext(ctx).WithFields(logrus.Fields{
		"event":   event,
		"breaker": breakerName,
	})
	if fields != nil {
		entry = entry.WithFields(fields)
	}
	entry.Info("Circuit breaker event")
}

// LogScalingEvent records a scaling decision and whether applying it
// succeeded.
func (l *Logger) LogScalingEvent(ctx context.Context, action string, current, target int, success bool, fields logrus.Fields) {
	entry := l.WithContext(ctx).WithFields(logrus.Fields{
		"event":             "scaling",
		"action":            action,
		"current_instances": current,
		"target_instances":  target,
		"success":           success,
	})
	if fields != nil {
		entry = entry.WithFields(fields)
	}
	if success {
		entry.Info("Scaling event")
	} else {
		entry.Warn("Scaling event failed")
	}
}

// NewCorrelationID returns a fresh correlation ID.
func NewCorrelationID() string {
	return uuid.New().String()
}

// WithCorrelationID stores a correlation ID in ctx.
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, CorrelationIDKey, correlationID)
}

// WithRequestID stores a request ID in ctx.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetCorrelationID returns the correlation ID from ctx, or "".
func GetCorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(CorrelationIDKey).(string); ok {
		return id
	}
	return ""
}

var globalLogger *Logger

func init() {
	var err error
	globalLogger, err = NewLogger(nil)
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize global logger: %v", err))
	}
}

// GetLogger returns the process-wide logger.
func GetLogger() *Logger {
	return globalLogger
}

// SetGlobalLogger replaces the process-wide logger.
func SetGlobalLogger(logger *Logger) {
	globalLogger = logger
}
