// Package app is the HTTP and websocket surface used by the dashboard.
package app

import (
	"context"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Parameshwar06/Drip/internal/analytics"
	"github.com/Parameshwar06/Drip/internal/metrics"
	"github.com/Parameshwar06/Drip/internal/model/entities"
	"github.com/Parameshwar06/Drip/internal/services/alerts"
	"github.com/Parameshwar06/Drip/internal/services/devices"
	"github.com/Parameshwar06/Drip/internal/services/dispatcher"
	"github.com/Parameshwar06/Drip/internal/services/reconciler"
)

// Archive serves long windows from the reading archive.
type Archive interface {
	Query(ctx context.Context, deviceID string, w analytics.Window) ([]entities.Reading, error)
	Ready(ctx context.Context) bool
}

type Config struct {
	UserID         string
	HTTPTimeout    time.Duration
	AnalyticsLimit int

	BreakerFailures int
	BreakerOpenFor  time.Duration

	Now     func() time.Time
	Metrics *metrics.Metrics
	// Gatherer backs /metrics; nil uses the default registry.
	Gatherer prometheus.Gatherer
}

type Gateway struct {
	cfg        Config
	reconciler *reconciler.Reconciler
	dispatcher *dispatcher.Dispatcher
	registry   *devices.Registry
	alerts     *alerts.Monitor
	archive    *archiveUpstream
	ready      atomic.Bool
}

// NewGateway wires the handlers. archive may be nil.
func NewGateway(cfg Config, rec *reconciler.Reconciler, disp *dispatcher.Dispatcher,
	reg *devices.Registry, mon *alerts.Monitor, archive Archive) *Gateway {
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 5 * time.Second
	}
	if cfg.AnalyticsLimit <= 0 {
		cfg.AnalyticsLimit = 100
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	g := &Gateway{cfg: cfg, reconciler: rec, dispatcher: disp, registry: reg, alerts: mon}
	if archive != nil {
		g.archive = newArchiveUpstream(archive, cfg.BreakerFailures, cfg.BreakerOpenFor)
	}
	return g
}

// SetReady flips /readyz once the device list has been loaded.
func (g *Gateway) SetReady(ok bool) { g.ready.Store(ok) }

func (g *Gateway) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("ok")) })
	mux.HandleFunc("GET /readyz", g.handleReady)
	mux.Handle("GET /metrics", promhttp.HandlerFor(g.cfg.Gatherer, promhttp.HandlerOpts{}))

	mux.HandleFunc("GET /api/devices", g.handleDevices)
	mux.HandleFunc("POST /api/devices/{id}/select", g.handleSelect)
	mux.HandleFunc("PUT /api/devices/{id}/config", g.handleConfig)
	mux.HandleFunc("DELETE /api/devices/{id}", g.handleRemove)

	mux.HandleFunc("GET /api/state", g.handleState)
	mux.HandleFunc("POST /api/refresh", g.handleRefresh)
	mux.HandleFunc("GET /api/analytics", g.handleAnalytics)
	mux.HandleFunc("GET /api/export.csv", g.handleExport)
	mux.HandleFunc("GET /api/archive", g.handleArchive)

	mux.HandleFunc("POST /api/commands/valve", g.handleValve)
	mux.HandleFunc("POST /api/commands/water", g.handleWater)
	mux.HandleFunc("POST /api/commands/stop", g.handleStop)
	mux.HandleFunc("POST /api/commands/mode", g.handleMode)
	mux.HandleFunc("POST /api/commands/ping", g.handlePing)

	mux.HandleFunc("GET /api/alerts", g.handleAlerts)
	mux.HandleFunc("POST /api/alerts/{id}/ack", g.handleAck)

	mux.HandleFunc("GET /ws", g.handleWS)

	return logRequests(mux)
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		if r.URL.Path != "/healthz" && r.URL.Path != "/metrics" {
			log.Printf("gateway: %s %s [%dms]", r.Method, r.URL.Path, time.Since(start).Milliseconds())
		}
	})
}
