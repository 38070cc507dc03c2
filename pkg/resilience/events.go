package resilience

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bulwark-io/bulwark/pkg/logging"
)

// EventKind identifies what happened inside a resilience component.
type EventKind string

const (
	EventStateChange      EventKind = "state_change"
	EventCallRejected     EventKind = "call_rejected"
	EventRetryAttempt     EventKind = "retry_attempt"
	EventRetryExhausted   EventKind = "retry_exhausted"
	EventFallbackUsed     EventKind = "fallback_used"
	EventFallbackFailed   EventKind = "fallback_failed"
	EventDegradationBegan EventKind = "degradation_began"
	EventDegradationEnded EventKind = "degradation_ended"
	EventAdminOverride    EventKind = "admin_override"
	EventHealthCheck      EventKind = "health_check"
)

// Event is the payload delivered to an EventSink. Component is the kind
// of component that produced it ("circuit_breaker", "retrier",
// "degradation"), Name the instance or operation name.
type Event struct {
	Component string                 `json:"component"`
	Name      string                 `json:"name"`
	Kind      EventKind              `json:"kind"`
	Timestamp time.Time              `json:"timestamp"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// EventSink receives resilience events. Implementations must be cheap;
// emission is fire-and-forget and must never block or fail the caller.
type EventSink interface {
	Emit(event Event)
}

// emit delivers an event to a possibly-nil sink, swallowing panics so a
// misbehaving sink can never break the protected call path.
func emit(sink EventSink, event Event) {
	if sink == nil {
		return
	}
	defer func() {
		_ = recover()
	}()
	sink.Emit(event)
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) Emit(Event) {}

// LoggingSink writes events to the structured logger.
type LoggingSink struct {
	logger *logging.Logger
}

// NewLoggingSink creates a sink backed by the given logger. A nil
// logger falls back to the global one.
func NewLoggingSink(logger *logging.Logger) *LoggingSink {
	if logger == nil {
		logger = logging.GetLogger()
	}
	return &LoggingSink{logger: logger}
}

func (s *LoggingSink) Emit(event Event) {
	fields := logrus.Fields{
		"component": event.Component,
		"name":      event.Name,
		"kind":      string(event.Kind),
	}
	for k, v := range event.Fields {
		fields[k] = v
	}
	s.logger.WithFields(fields).Info("Resilience event")
}

// MultiSink fans an event out to several sinks.
type MultiSink []EventSink

func (m MultiSink) Emit(event Event) {
	for _, sink := range m {
		emit(sink, event)
	}
}
