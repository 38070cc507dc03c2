package metrics

import (
	"github.com/bulwark-io/bulwark/pkg/resilience"
)

// ResilienceSink translates resilience events into Prometheus metrics.
// It is registered as an event sink on the resilience registry so every
// breaker, retrier, and degradation manager reports through it.
type ResilienceSink struct {
	metrics *Metrics
}

// NewResilienceSink creates a sink backed by the given metrics.
func NewResilienceSink(m *Metrics) *ResilienceSink {
	return &ResilienceSink{metrics: m}
}

// Emit records the event. Unknown kinds are ignored.
func (s *ResilienceSink) Emit(event resilience.Event) {
	switch event.Kind {
	case resilience.EventStateChange:
		from, _ := event.Fields["from"].(string)
		to, _ := event.Fields["to"].(string)
		s.metrics.RecordBreakerTransition(event.Name, from, to)

	case resilience.EventCallRejected:
		s.metrics.RecordBreakerRejection(event.Name)

	case resilience.EventRetryAttempt:
		s.metrics.RecordRetryAttempt(event.Name)

	case resilience.EventRetryExhausted:
		s.metrics.RecordRetryExhaustion(event.Name)

	case resilience.EventFallbackUsed:
		strategy, _ := event.Fields["strategy"].(string)
		s.metrics.RecordFallbackExecution(event.Name, strategy, "success")

	case resilience.EventFallbackFailed:
		strategy, _ := event.Fields["strategy"].(string)
		s.metrics.RecordFallbackExecution(event.Name, strategy, "failure")

	case resilience.EventDegradationBegan:
		s.metrics.UpdateDegradation(event.Name, true, 0)

	case resilience.EventDegradationEnded:
		s.metrics.UpdateDegradation(event.Name, false, 0)
	}
}
