package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestEngineMetricsCounters(t *testing.T) {
	m := Engine()
	before := testutil.ToFloat64(m.refreshes.WithLabelValues("timer", "published"))
	m.RecordRefresh(" Timer ", "published", 20*time.Millisecond)
	if got := testutil.ToFloat64(m.refreshes.WithLabelValues("timer", "published")); got != before+1 {
		t.Fatalf("refresh counter: got %v want %v", got, before+1)
	}

	skipped := testutil.ToFloat64(m.skipped.WithLabelValues("unknown"))
	m.RecordSkipped("")
	if got := testutil.ToFloat64(m.skipped.WithLabelValues("unknown")); got != skipped+1 {
		t.Fatalf("skipped counter: got %v want %v", got, skipped+1)
	}

	m.SetSession(true)
	if got := testutil.ToFloat64(m.sessions); got != 1 {
		t.Fatalf("session gauge: got %v", got)
	}
	m.SetSession(false)
	if got := testutil.ToFloat64(m.sessions); got != 0 {
		t.Fatalf("session gauge: got %v", got)
	}
}

func TestAdminMetricsSplitsErrors(t *testing.T) {
	m := Admin()
	errs := testutil.ToFloat64(m.errors.WithLabelValues("/v1/actions/{action}", "409"))
	m.Observe("/v1/actions/{action}", 409, time.Millisecond)
	m.Observe("/v1/actions/{action}", 200, time.Millisecond)
	if got := testutil.ToFloat64(m.errors.WithLabelValues("/v1/actions/{action}", "409")); got != errs+1 {
		t.Fatalf("error counter: got %v want %v", got, errs+1)
	}
}

func TestNilMetricsAreNoops(t *testing.T) {
	var e *EngineMetrics
	e.RecordRefresh("timer", "published", time.Second)
	e.RecordSkipped("event")
	e.RecordWrite("buy", "confirmed", time.Second)
	e.RecordReadFailure("price")
	e.SetSession(true)

	var a *AdminMetrics
	a.Observe("/healthz", 200, time.Millisecond)
	a.RecordThrottle("rate_limit")
}
