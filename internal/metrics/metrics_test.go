package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Snapshot("live")
	m.Snapshot("live")
	if got := testutil.ToFloat64(m.snapshots.WithLabelValues("live")); got != 2 {
		t.Fatalf("expected 2 live snapshots, got %f", got)
	}

	m.Command("ON", "ok")
	m.Command("ON", "error")
	if got := testutil.ToFloat64(m.commands.WithLabelValues("ON", "error")); got != 1 {
		t.Fatalf("expected 1 failed command, got %f", got)
	}

	m.Poll("ok", 20*time.Millisecond)
	if samples := testutil.CollectAndCount(m.pollTime); samples != 1 {
		t.Fatalf("expected poll histogram to hold 1 series, got %d", samples)
	}

	m.Connected(true)
	if got := testutil.ToFloat64(m.connected); got != 1 {
		t.Fatalf("expected connected gauge 1, got %f", got)
	}
	m.Revert()
	if got := testutil.ToFloat64(m.reverts); got != 1 {
		t.Fatalf("expected 1 revert, got %f", got)
	}

	m.WSClients(1)
	m.WSClients(-1)
	if got := testutil.ToFloat64(m.wsClients); got != 0 {
		t.Fatalf("expected 0 ws clients, got %f", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Snapshot("live")
	m.Synthetic("history")
	m.Poll("error", time.Second)
	m.Revert()
	m.Connected(false)
	m.Command("OFF", "ok")
	m.Telemetry("ok")
	m.Alert("low_moisture")
	m.WSClients(1)
}
