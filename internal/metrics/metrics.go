// Package metrics exposes the Prometheus collectors shared by the services.
// A nil *Metrics records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	snapshots *prometheus.CounterVec
	synthetic *prometheus.CounterVec
	polls     *prometheus.CounterVec
	pollTime  prometheus.Histogram
	reverts   prometheus.Counter
	connected prometheus.Gauge
	commands  *prometheus.CounterVec
	telemetry *prometheus.CounterVec
	alerts    *prometheus.CounterVec
	wsClients prometheus.Gauge
}

// New registers every collector on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		snapshots: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "drip_live_snapshots_total",
			Help: "Live snapshots handled by the reconciler, by kind.",
		}, []string{"kind"}),
		synthetic: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "drip_synthetic_readings_total",
			Help: "Demo readings generated in place of missing data, by source.",
		}, []string{"source"}),
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "drip_history_polls_total",
			Help: "History polls by result.",
		}, []string{"result"}),
		pollTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "drip_history_poll_seconds",
			Help:    "History poll latency.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		reverts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "drip_optimistic_reverts_total",
			Help: "Optimistic valve states reverted after the pending timeout.",
		}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "drip_backend_connected",
			Help: "1 when the realtime backend is reachable for the selected device.",
		}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "drip_commands_total",
			Help: "Commands dispatched, by action and result.",
		}, []string{"action", "result"}),
		telemetry: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "drip_bridge_telemetry_total",
			Help: "Device telemetry messages handled by the bridge, by result.",
		}, []string{"result"}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "drip_alerts_raised_total",
			Help: "Alerts persisted by the monitor, by type.",
		}, []string{"type"}),
		wsClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "drip_ws_clients",
			Help: "Connected websocket clients.",
		}),
	}
	reg.MustRegister(m.snapshots, m.synthetic, m.polls, m.pollTime, m.reverts,
		m.connected, m.commands, m.telemetry, m.alerts, m.wsClients)
	return m
}

func (m *Metrics) Snapshot(kind string) {
	if m != nil {
		m.snapshots.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) Synthetic(source string) {
	if m != nil {
		m.synthetic.WithLabelValues(source).Inc()
	}
}

func (m *Metrics) Poll(result string, took time.Duration) {
	if m == nil {
		return
	}
	m.polls.WithLabelValues(result).Inc()
	m.pollTime.Observe(took.Seconds())
}

func (m *Metrics) Revert() {
	if m != nil {
		m.reverts.Inc()
	}
}

func (m *Metrics) Connected(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.connected.Set(1)
	} else {
		m.connected.Set(0)
	}
}

func (m *Metrics) Command(action, result string) {
	if m != nil {
		m.commands.WithLabelValues(action, result).Inc()
	}
}

func (m *Metrics) Telemetry(result string) {
	if m != nil {
		m.telemetry.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) Alert(alertType string) {
	if m != nil {
		m.alerts.WithLabelValues(alertType).Inc()
	}
}

func (m *Metrics) WSClients(delta float64) {
	if m != nil {
		m.wsClients.Add(delta)
	}
}
