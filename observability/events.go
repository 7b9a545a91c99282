package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type eventMetrics struct {
	received *prometheus.CounterVec
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *eventMetrics
)

// Events returns the metrics registry tracking ledger push events.
func Events() *eventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &eventMetrics{
			received: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "royaltysync",
				Subsystem: "events",
				Name:      "received_total",
				Help:      "Count of ledger events delivered to the session, by kind.",
			}, []string{"kind"}),
		}
		prometheus.MustRegister(eventRegistry.received)
	})
	return eventRegistry
}

// RecordEvent increments the counter for the supplied event kind.
func (m *eventMetrics) RecordEvent(kind string) {
	if m == nil {
		return
	}
	normalized := strings.TrimSpace(strings.ToLower(kind))
	if normalized == "" {
		normalized = "unknown"
	}
	m.received.WithLabelValues(normalized).Inc()
}
