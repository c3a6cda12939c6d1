package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsObserveUpstream(t *testing.T) {
	m := NewMetricsWith(prometheus.NewRegistry(), "test")
	m.ObserveUpstream("list_passes", "200", 120*time.Millisecond)
	m.ObserveUpstream("list_passes", "200", 80*time.Millisecond)
	m.ObserveUpstream("list_passes", "502", 10*time.Millisecond)

	if got := testutil.ToFloat64(m.UpstreamRequests.WithLabelValues("list_passes", "200")); got != 2 {
		t.Fatalf("upstream 200 count = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.UpstreamRequests.WithLabelValues("list_passes", "502")); got != 1 {
		t.Fatalf("upstream 502 count = %v, want 1", got)
	}
}

func TestMetricsSessionEventSetsGauge(t *testing.T) {
	m := NewMetricsWith(prometheus.NewRegistry(), "test")
	m.ObserveSessionEvent("created", 3)
	if got := testutil.ToFloat64(m.ActiveSessions); got != 3 {
		t.Fatalf("active sessions = %v, want 3", got)
	}
}

func TestNilMetricsAreNoop(t *testing.T) {
	var m *Metrics
	m.ObserveUpstream("purchase_passes", "200", time.Millisecond)
	m.ObserveToolCall("purchase_passes", "ok")
	m.ObserveSessionEvent("ended", 0)
	m.ObserveWSMessage("inbound", "tool_call")
}

func TestNewLoggerFallsBackToInfo(t *testing.T) {
	logger, err := NewLogger("verbose")
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	if logger.Core().Enabled(-1) {
		t.Fatalf("debug enabled for unknown level, want info")
	}
}
