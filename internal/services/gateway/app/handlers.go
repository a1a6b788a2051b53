package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/Parameshwar06/Drip/internal/analytics"
	"github.com/Parameshwar06/Drip/internal/model/entities"
	"github.com/Parameshwar06/Drip/internal/services/devices"
	"github.com/Parameshwar06/Drip/internal/services/dispatcher"
	"github.com/Parameshwar06/Drip/internal/services/reconciler"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// decodeBody reads an optional JSON body into v.
func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (g *Gateway) ctx(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), g.cfg.HTTPTimeout)
}

func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := g.ctx(r)
	defer cancel()
	resp := readyResponse{Ready: g.ready.Load(), Connected: g.reconciler.State().Connected}
	if g.archive != nil {
		ok := g.archive.Ready(ctx)
		resp.Archive = &ok
		resp.Ready = resp.Ready && ok
	}
	status := http.StatusOK
	if !resp.Ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func (g *Gateway) handleDevices(w http.ResponseWriter, _ *http.Request) {
	now := g.cfg.Now()
	selected := g.reconciler.Selected()
	list := g.reconciler.Devices()
	out := make([]DeviceView, 0, len(list))
	for _, d := range list {
		out = append(out, DeviceView{
			Key:         d.ID,
			Device:      d,
			DisplayName: d.DisplayName(),
			Connection:  devices.Status(d, now),
			Selected:    d.DeviceID == selected,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// device looks a path id up by external id first, then by local key.
func (g *Gateway) device(id string) (entities.Device, bool) {
	list := g.reconciler.Devices()
	if d, ok := devices.Find(list, id); ok {
		return d, true
	}
	for _, d := range list {
		if d.ID == id {
			return d, true
		}
	}
	return entities.Device{}, false
}

func (g *Gateway) handleSelect(w http.ResponseWriter, r *http.Request) {
	d, ok := g.device(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, devices.ErrUnknownDevice)
		return
	}
	ctx, cancel := g.ctx(r)
	defer cancel()
	if err := g.reconciler.Select(ctx, d.DeviceID); err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, g.reconciler.State())
}

func (g *Gateway) handleConfig(w http.ResponseWriter, r *http.Request) {
	d, ok := g.device(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, devices.ErrUnknownDevice)
		return
	}
	cfg := entities.ConfigOf(d)
	if err := decodeBody(r, &cfg); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	ctx, cancel := g.ctx(r)
	defer cancel()
	if err := g.registry.UpdateConfig(ctx, d, cfg); err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	cfg.ApplyDefaults()
	writeJSON(w, http.StatusOK, cfg)
}

func (g *Gateway) handleRemove(w http.ResponseWriter, r *http.Request) {
	d, ok := g.device(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, devices.ErrUnknownDevice)
		return
	}
	ctx, cancel := g.ctx(r)
	defer cancel()
	if err := g.registry.Remove(ctx, d); err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (g *Gateway) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, g.reconciler.State())
}

func (g *Gateway) handleRefresh(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := g.ctx(r)
	defer cancel()
	if err := g.reconciler.Refresh(ctx); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, g.reconciler.State())
}

// readings loads the history behind an analytics window. Long windows come
// from the archive when one is configured.
func (g *Gateway) readings(ctx context.Context, win analytics.Window) ([]entities.Reading, error) {
	if _, bounded := win.Duration(); g.archive != nil && (win == analytics.Window7d || win == analytics.Window30d || !bounded) {
		if id := g.reconciler.Selected(); id != "" {
			readings, _, err := g.archive.Query(ctx, id, win)
			if err == nil {
				return readings, nil
			}
			log.Printf("gateway: %v, falling back to realtime history", err)
		}
	}
	return g.reconciler.FetchHistory(ctx, g.cfg.AnalyticsLimit)
}

func (g *Gateway) window(w http.ResponseWriter, r *http.Request) (analytics.Window, bool) {
	win, err := analytics.ParseWindow(r.URL.Query().Get("range"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return "", false
	}
	return win, true
}

func (g *Gateway) historyError(w http.ResponseWriter, err error) {
	if errors.Is(err, reconciler.ErrNoSelection) {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeError(w, http.StatusBadGateway, err)
}

func (g *Gateway) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	win, ok := g.window(w, r)
	if !ok {
		return
	}
	ctx, cancel := g.ctx(r)
	defer cancel()
	readings, err := g.readings(ctx, win)
	if err != nil {
		g.historyError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, analytics.Analyze(readings, win, g.cfg.Now()))
}

func (g *Gateway) handleExport(w http.ResponseWriter, r *http.Request) {
	win, ok := g.window(w, r)
	if !ok {
		return
	}
	source := strings.ToLower(r.URL.Query().Get("source"))
	if source == "" {
		source = "watering"
	}
	if source != "watering" && source != "readings" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("unknown export source %q", source))
		return
	}
	ctx, cancel := g.ctx(r)
	defer cancel()
	readings, err := g.readings(ctx, win)
	if err != nil {
		g.historyError(w, err)
		return
	}
	rep := analytics.Analyze(readings, win, g.cfg.Now())

	name := fmt.Sprintf("%s-%s-%s.csv", source, g.reconciler.Selected(), win)
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	if source == "readings" {
		err = analytics.WriteReadingsCSV(w, rep.Readings)
	} else {
		err = analytics.WriteWateringCSV(w, rep.Events)
	}
	if err != nil {
		log.Printf("gateway: export %s: %v", name, err)
	}
}

func (g *Gateway) handleArchive(w http.ResponseWriter, r *http.Request) {
	if g.archive == nil {
		writeError(w, http.StatusNotFound, errors.New("archive not configured"))
		return
	}
	win, ok := g.window(w, r)
	if !ok {
		return
	}
	id := r.URL.Query().Get("device")
	if id == "" {
		id = g.reconciler.Selected()
	}
	if id == "" {
		writeError(w, http.StatusConflict, reconciler.ErrNoSelection)
		return
	}
	ctx, cancel := g.ctx(r)
	defer cancel()
	readings, stale, err := g.archive.Query(ctx, id, win)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, archiveResponse{DeviceID: id, Window: win, Readings: readings, Stale: stale})
}

func (g *Gateway) target(id string) string {
	if strings.TrimSpace(id) != "" {
		return id
	}
	return g.reconciler.Selected()
}

// commandResult maps dispatcher errors: bad input is 400, a failed write is
// 502 carrying the backend message.
func commandResult(w http.ResponseWriter, cmd *entities.Command, test *entities.TestCommand, err error) {
	switch {
	case errors.Is(err, dispatcher.ErrInvalidCommand):
		writeError(w, http.StatusBadRequest, err)
	case err != nil:
		writeError(w, http.StatusBadGateway, err)
	default:
		writeJSON(w, http.StatusOK, commandResponse{Command: cmd, Test: test})
	}
}

func (g *Gateway) handleValve(w http.ResponseWriter, r *http.Request) {
	var req valveRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	ctx, cancel := g.ctx(r)
	defer cancel()
	cmd, err := g.dispatcher.SetValve(ctx, g.target(req.DeviceID), entities.ValveStatus(req.State))
	commandResult(w, &cmd, nil, err)
}

func (g *Gateway) handleWater(w http.ResponseWriter, r *http.Request) {
	var req waterRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	ctx, cancel := g.ctx(r)
	defer cancel()
	cmd, err := g.dispatcher.QuickWater(ctx, g.target(req.DeviceID), req.Minutes)
	commandResult(w, &cmd, nil, err)
}

func (g *Gateway) handleStop(w http.ResponseWriter, r *http.Request) {
	var req deviceRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	ctx, cancel := g.ctx(r)
	defer cancel()
	cmd, err := g.dispatcher.EmergencyStop(ctx, g.target(req.DeviceID))
	commandResult(w, &cmd, nil, err)
}

func (g *Gateway) handleMode(w http.ResponseWriter, r *http.Request) {
	var req modeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	ctx, cancel := g.ctx(r)
	defer cancel()
	cmd, err := g.dispatcher.SetMode(ctx, g.target(req.DeviceID), entities.Mode(req.Mode))
	commandResult(w, &cmd, nil, err)
}

func (g *Gateway) handlePing(w http.ResponseWriter, r *http.Request) {
	var req deviceRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	ctx, cancel := g.ctx(r)
	defer cancel()
	test, err := g.dispatcher.Ping(ctx, g.target(req.DeviceID))
	commandResult(w, nil, &test, err)
}

func (g *Gateway) alertDevice(r *http.Request) string {
	return g.target(r.URL.Query().Get("device"))
}

func (g *Gateway) handleAlerts(w http.ResponseWriter, r *http.Request) {
	id := g.alertDevice(r)
	if id == "" {
		writeError(w, http.StatusConflict, reconciler.ErrNoSelection)
		return
	}
	ctx, cancel := g.ctx(r)
	defer cancel()
	list, err := g.alerts.Pending(ctx, id)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (g *Gateway) handleAck(w http.ResponseWriter, r *http.Request) {
	id := g.alertDevice(r)
	if id == "" {
		writeError(w, http.StatusConflict, reconciler.ErrNoSelection)
		return
	}
	ctx, cancel := g.ctx(r)
	defer cancel()
	if err := g.alerts.Acknowledge(ctx, id, r.PathValue("id"), g.cfg.UserID); err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
