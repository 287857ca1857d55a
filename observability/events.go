package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"brokerfund/core/events"
)

type eventMetrics struct {
	emitted *prometheus.CounterVec
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *eventMetrics
)

// Events returns the metrics registry counting emitted settlement events. The
// registry is also an events.Emitter so it can sit in an events.Fanout.
func Events() *eventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &eventMetrics{
			emitted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "brokerfund",
				Subsystem: "events",
				Name:      "emitted_total",
				Help:      "Count of settlement events segmented by type.",
			}, []string{"type"}),
		}
		prometheus.MustRegister(eventRegistry.emitted)
	})
	return eventRegistry
}

// Emit implements events.Emitter.
func (m *eventMetrics) Emit(evt events.Event) {
	if m == nil || evt == nil {
		return
	}
	eventType := strings.TrimSpace(evt.EventType())
	if eventType == "" {
		eventType = "unknown"
	}
	m.emitted.WithLabelValues(eventType).Inc()
}
