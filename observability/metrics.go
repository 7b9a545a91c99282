package observability

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	engineMetricsOnce sync.Once
	engineRegistry    *EngineMetrics

	adminMetricsOnce sync.Once
	adminRegistry    *AdminMetrics
)

// EngineMetrics captures refresh and write activity of the sync engine.
type EngineMetrics struct {
	refreshes      *prometheus.CounterVec
	skipped        *prometheus.CounterVec
	refreshLatency prometheus.Histogram
	writes         *prometheus.CounterVec
	writeLatency   *prometheus.HistogramVec
	readFailures   *prometheus.CounterVec
	sessions       prometheus.Gauge
}

// Engine returns the lazily-initialised engine metrics registry.
func Engine() *EngineMetrics {
	engineMetricsOnce.Do(func() {
		engineRegistry = &EngineMetrics{
			refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "royaltysync",
				Subsystem: "engine",
				Name:      "refresh_cycles_total",
				Help:      "Refresh cycles segmented by trigger and outcome.",
			}, []string{"trigger", "outcome"}),
			skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "royaltysync",
				Subsystem: "engine",
				Name:      "refresh_skipped_total",
				Help:      "Refresh triggers dropped because a cycle was already in flight.",
			}, []string{"trigger"}),
			refreshLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "royaltysync",
				Subsystem: "engine",
				Name:      "refresh_duration_seconds",
				Help:      "Latency distribution of full refresh cycles.",
				Buckets:   prometheus.DefBuckets,
			}),
			writes: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "royaltysync",
				Subsystem: "engine",
				Name:      "writes_total",
				Help:      "Write actions segmented by action and outcome.",
			}, []string{"action", "outcome"}),
			writeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "royaltysync",
				Subsystem: "engine",
				Name:      "write_duration_seconds",
				Help:      "Latency of write actions including confirmation.",
				Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
			}, []string{"action"}),
			readFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "royaltysync",
				Subsystem: "engine",
				Name:      "read_failures_total",
				Help:      "Isolated ledger read failures during refresh, by field.",
			}, []string{"field"}),
			sessions: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "royaltysync",
				Subsystem: "engine",
				Name:      "session_active",
				Help:      "Whether an authenticated session is live (0 or 1).",
			}),
		}
		prometheus.MustRegister(
			engineRegistry.refreshes,
			engineRegistry.skipped,
			engineRegistry.refreshLatency,
			engineRegistry.writes,
			engineRegistry.writeLatency,
			engineRegistry.readFailures,
			engineRegistry.sessions,
		)
	})
	return engineRegistry
}

// RecordRefresh records a completed cycle. Outcome is "published" or "dropped".
func (m *EngineMetrics) RecordRefresh(trigger, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(label(trigger), label(outcome)).Inc()
	m.refreshLatency.Observe(d.Seconds())
}

// RecordSkipped counts a trigger absorbed by the single-flight guard.
func (m *EngineMetrics) RecordSkipped(trigger string) {
	if m == nil {
		return
	}
	m.skipped.WithLabelValues(label(trigger)).Inc()
}

// RecordWrite records the outcome of a write action.
func (m *EngineMetrics) RecordWrite(action, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.writes.WithLabelValues(label(action), label(outcome)).Inc()
	if d > 0 {
		m.writeLatency.WithLabelValues(label(action)).Observe(d.Seconds())
	}
}

// RecordReadFailure counts an isolated read failure.
func (m *EngineMetrics) RecordReadFailure(field string) {
	if m == nil {
		return
	}
	m.readFailures.WithLabelValues(label(field)).Inc()
}

// SetSession toggles the session gauge.
func (m *EngineMetrics) SetSession(active bool) {
	if m == nil {
		return
	}
	if active {
		m.sessions.Set(1)
		return
	}
	m.sessions.Set(0)
}

// AdminMetrics captures admin API traffic.
type AdminMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

// Admin returns the lazily-initialised admin API metrics registry.
func Admin() *AdminMetrics {
	adminMetricsOnce.Do(func() {
		adminRegistry = &AdminMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "royaltysync",
				Subsystem: "admin",
				Name:      "requests_total",
				Help:      "Admin API requests segmented by route and outcome.",
			}, []string{"route", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "royaltysync",
				Subsystem: "admin",
				Name:      "errors_total",
				Help:      "Admin API errors segmented by route and status code.",
			}, []string{"route", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "royaltysync",
				Subsystem: "admin",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for admin API handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "royaltysync",
				Subsystem: "admin",
				Name:      "throttles_total",
				Help:      "Admin requests rejected by the rate limiter.",
			}, []string{"reason"}),
		}
		prometheus.MustRegister(
			adminRegistry.requests,
			adminRegistry.errors,
			adminRegistry.latency,
			adminRegistry.throttles,
		)
	})
	return adminRegistry
}

// Observe records the outcome of an admin request. The status code should be
// the HTTP status that was ultimately written to the response writer.
func (m *AdminMetrics) Observe(route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	route = label(route)
	outcome := "success"
	if status >= 400 {
		outcome = "error"
		m.errors.WithLabelValues(route, fmt.Sprintf("%d", status)).Inc()
	}
	m.requests.WithLabelValues(route, outcome).Inc()
	m.latency.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter. Reasons should be stable
// strings such as "rate_limit".
func (m *AdminMetrics) RecordThrottle(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(reason).Inc()
}

func label(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return strings.ToLower(trimmed)
}
