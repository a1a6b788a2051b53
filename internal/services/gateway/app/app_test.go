package app

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Parameshwar06/Drip/internal/analytics"
	"github.com/Parameshwar06/Drip/internal/metrics"
	"github.com/Parameshwar06/Drip/internal/model/entities"
	"github.com/Parameshwar06/Drip/internal/services/alerts"
	"github.com/Parameshwar06/Drip/internal/services/devices"
	"github.com/Parameshwar06/Drip/internal/services/dispatcher"
	"github.com/Parameshwar06/Drip/internal/services/reconciler"
	"github.com/Parameshwar06/Drip/pkg/realtime"
)

var t0 = time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

func now() time.Time { return t0 }

type fakeArchive struct {
	readings []entities.Reading
	err      error
	calls    int
}

func (f *fakeArchive) Query(context.Context, string, analytics.Window) ([]entities.Reading, error) {
	f.calls++
	return f.readings, f.err
}

func (f *fakeArchive) Ready(context.Context) bool { return f.err == nil }

type env struct {
	backend *realtime.Faulty
	rec     *reconciler.Reconciler
	gw      *Gateway
	srv     *httptest.Server
}

func newEnv(t *testing.T, arch Archive) *env {
	t.Helper()
	ctx := context.Background()
	mem := realtime.NewMemory()
	b := realtime.NewFaulty(mem)

	for key, id := range map[string]string{"a": "esp32-a", "b": "esp32-b"} {
		err := mem.Write(ctx, realtime.UserDevicePath("u1", key), map[string]any{
			"deviceId": id, "lastSeen": t0.Add(-time.Minute).UnixMilli(),
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	m := metrics.New(prometheus.NewRegistry())
	rec := reconciler.New(b, reconciler.Options{PollInterval: time.Hour, Now: now, Rand: rand.New(rand.NewSource(1)), Metrics: m})
	t.Cleanup(rec.Close)
	reg := devices.New(b, "u1", devices.Options{Now: now})
	list, err := reg.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := rec.SetDevices(ctx, list); err != nil {
		t.Fatal(err)
	}
	disp := dispatcher.New(b, rec, dispatcher.Options{Now: now, Metrics: m})
	mon := alerts.NewMonitor(b, alerts.Options{Now: now, Metrics: m})

	gw := NewGateway(Config{UserID: "u1", Now: now, Metrics: m, Gatherer: prometheus.NewRegistry()}, rec, disp, reg, mon, arch)
	gw.SetReady(true)
	srv := httptest.NewServer(gw.Routes())
	t.Cleanup(srv.Close)
	return &env{backend: b, rec: rec, gw: gw, srv: srv}
}

func (e *env) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

func TestHealthAndReady(t *testing.T) {
	e := newEnv(t, nil)
	if resp := e.do(t, "GET", "/healthz", ""); resp.StatusCode != http.StatusOK {
		t.Errorf("healthz = %d", resp.StatusCode)
	}
	if resp := e.do(t, "GET", "/readyz", ""); resp.StatusCode != http.StatusOK {
		t.Errorf("readyz = %d", resp.StatusCode)
	}
	e.gw.SetReady(false)
	if resp := e.do(t, "GET", "/readyz", ""); resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("readyz before load = %d", resp.StatusCode)
	}
	if resp := e.do(t, "GET", "/metrics", ""); resp.StatusCode != http.StatusOK {
		t.Errorf("metrics = %d", resp.StatusCode)
	}
}

func TestDevicesAndSelect(t *testing.T) {
	e := newEnv(t, nil)

	list := decode[[]DeviceView](t, e.do(t, "GET", "/api/devices", ""))
	if len(list) != 2 || list[0].DeviceID != "esp32-a" || !list[0].Selected || list[1].Selected {
		t.Fatalf("devices = %+v", list)
	}
	if list[0].Connection != devices.StatusOnline || list[0].Key != "a" {
		t.Errorf("first device = %+v", list[0])
	}

	resp := e.do(t, "POST", "/api/devices/esp32-b/select", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("select = %d", resp.StatusCode)
	}
	if st := decode[reconciler.State](t, resp); st.DeviceID != "esp32-b" {
		t.Errorf("state device = %s", st.DeviceID)
	}
	if e.rec.Selected() != "esp32-b" {
		t.Errorf("selected = %s", e.rec.Selected())
	}

	if resp := e.do(t, "POST", "/api/devices/nope/select", ""); resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown select = %d", resp.StatusCode)
	}
}

func TestStateIsSyntheticWithoutData(t *testing.T) {
	e := newEnv(t, nil)
	st := decode[reconciler.State](t, e.do(t, "GET", "/api/state", ""))
	if st.DeviceID != "esp32-a" || !st.Live.Synthetic || !st.Connected {
		t.Errorf("state = %+v", st)
	}
}

func TestQuickWaterCommand(t *testing.T) {
	e := newEnv(t, nil)

	resp := e.do(t, "POST", "/api/commands/water", `{"minutes":5}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("water = %d", resp.StatusCode)
	}
	out := decode[commandResponse](t, resp)
	if out.Command == nil || out.Command.Action != entities.ActionOn || out.Command.Duration != 5 || out.Command.TargetDeviceID != "esp32-a" {
		t.Errorf("command = %+v", out.Command)
	}

	snap, _ := e.backend.GetOnce(context.Background(), realtime.CommandsPath("esp32-a"))
	var stored entities.Command
	if err := snap.Decode(&stored); err != nil {
		t.Fatal(err)
	}
	if stored.Action != entities.ActionOn || stored.Duration != 5 {
		t.Errorf("stored = %+v", stored)
	}
	if v := e.rec.State().Valve; v.Value != entities.ValveOn || v.Phase != reconciler.ValvePending {
		t.Errorf("valve = %+v", v)
	}
}

func TestCommandErrors(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		body     string
		writeErr error
		want     int
		message  string
	}{
		{"bad valve", "/api/commands/valve", `{"state":"half"}`, nil, http.StatusBadRequest, ""},
		{"zero minutes", "/api/commands/water", `{"minutes":0}`, nil, http.StatusBadRequest, ""},
		{"bad mode", "/api/commands/mode", `{"mode":"turbo"}`, nil, http.StatusBadRequest, ""},
		{"malformed body", "/api/commands/valve", `{`, nil, http.StatusBadRequest, ""},
		{"write denied", "/api/commands/stop", ``, errors.New("PERMISSION_DENIED"), http.StatusBadGateway, "PERMISSION_DENIED"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t, nil)
			e.backend.SetWriteErr(tt.writeErr)
			resp := e.do(t, "POST", tt.path, tt.body)
			if resp.StatusCode != tt.want {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.want)
			}
			body := decode[errorResponse](t, resp)
			if tt.message != "" && !strings.Contains(body.Error, tt.message) {
				t.Errorf("error = %q, want it to contain %q", body.Error, tt.message)
			}
		})
	}
}

func TestModeAndPing(t *testing.T) {
	e := newEnv(t, nil)
	resp := e.do(t, "POST", "/api/commands/mode", `{"deviceId":"esp32-b","mode":"manual"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("mode = %d", resp.StatusCode)
	}
	if out := decode[commandResponse](t, resp); out.Command.Mode != entities.ModeManual || out.Command.TargetDeviceID != "esp32-b" {
		t.Errorf("command = %+v", out.Command)
	}

	resp = e.do(t, "POST", "/api/commands/ping", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("ping = %d", resp.StatusCode)
	}
	if out := decode[commandResponse](t, resp); out.Test == nil || out.Test.Command != "ping" || out.Command != nil {
		t.Errorf("ping = %+v", out)
	}
}

func pushHistory(t *testing.T, b realtime.Backend, id string, rows ...entities.Reading) {
	t.Helper()
	for _, r := range rows {
		if _, err := b.PushNew(context.Background(), realtime.HistoryPath(id), r); err != nil {
			t.Fatal(err)
		}
	}
}

func TestAnalyticsEndToEnd(t *testing.T) {
	e := newEnv(t, nil)
	base := t0.Unix() - 600
	pushHistory(t, e.backend, "esp32-a",
		entities.Reading{Timestamp: base + 300, Moisture: 85, ValveStatus: entities.ValveOff},
		entities.Reading{Timestamp: base, Moisture: 70, ValveStatus: entities.ValveOff},
		entities.Reading{Timestamp: base + 60, Moisture: 65, ValveStatus: entities.ValveOn},
	)

	resp := e.do(t, "GET", "/api/analytics?range=24h", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("analytics = %d", resp.StatusCode)
	}
	rep := decode[analytics.Report](t, resp)
	if len(rep.Events) != 1 {
		t.Fatalf("events = %+v", rep.Events)
	}
	if ev := rep.Events[0]; ev.DurationMinutes != 4 || ev.EffectivenessPercent != 20 {
		t.Errorf("event = %+v", ev)
	}
	if len(rep.Trends) != 2 || rep.Prediction.Valid {
		t.Errorf("trends = %d, prediction = %+v", len(rep.Trends), rep.Prediction)
	}

	if resp := e.do(t, "GET", "/api/analytics?range=2w", ""); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad range = %d", resp.StatusCode)
	}
}

func TestExportCSV(t *testing.T) {
	e := newEnv(t, nil)
	base := t0.Unix() - 600
	pushHistory(t, e.backend, "esp32-a",
		entities.Reading{Timestamp: base, Moisture: 70, ValveStatus: entities.ValveOff},
		entities.Reading{Timestamp: base + 60, Moisture: 65, ValveStatus: entities.ValveOn},
		entities.Reading{Timestamp: base + 300, Moisture: 85, ValveStatus: entities.ValveOff},
	)

	tests := []struct {
		source string
		header string
		rows   int
	}{
		{"watering", "Timestamp", 1},
		{"readings", "Timestamp", 3},
	}
	for _, tt := range tests {
		t.Run(tt.source, func(t *testing.T) {
			resp := e.do(t, "GET", "/api/export.csv?range=24h&source="+tt.source, "")
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("status = %d", resp.StatusCode)
			}
			if ct := resp.Header.Get("Content-Type"); ct != "text/csv" {
				t.Errorf("content type = %s", ct)
			}
			records, err := csv.NewReader(resp.Body).ReadAll()
			if err != nil {
				t.Fatal(err)
			}
			if len(records) != tt.rows+1 || records[0][0] != tt.header {
				t.Errorf("records = %v", records)
			}
		})
	}

	if resp := e.do(t, "GET", "/api/export.csv?source=pdf", ""); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad source = %d", resp.StatusCode)
	}
}

func TestArchiveEndpoint(t *testing.T) {
	e := newEnv(t, nil)
	if resp := e.do(t, "GET", "/api/archive?range=7d", ""); resp.StatusCode != http.StatusNotFound {
		t.Errorf("without archive = %d", resp.StatusCode)
	}

	arch := &fakeArchive{readings: []entities.Reading{{Timestamp: t0.Unix() - 3*86400, Moisture: 44}}}
	e = newEnv(t, arch)
	resp := e.do(t, "GET", "/api/archive?range=7d", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("archive = %d", resp.StatusCode)
	}
	out := decode[archiveResponse](t, resp)
	if out.DeviceID != "esp32-a" || len(out.Readings) != 1 || out.Stale {
		t.Errorf("archive = %+v", out)
	}

	arch.err = errors.New("influx down")
	out = decode[archiveResponse](t, e.do(t, "GET", "/api/archive?range=7d", ""))
	if !out.Stale || len(out.Readings) != 1 {
		t.Errorf("cached archive = %+v", out)
	}
}

func TestLongWindowAnalyticsUseArchive(t *testing.T) {
	arch := &fakeArchive{readings: []entities.Reading{
		{Timestamp: t0.Unix() - 5*86400, Moisture: 40},
		{Timestamp: t0.Unix() - 4*86400, Moisture: 50},
	}}
	e := newEnv(t, arch)
	rep := decode[analytics.Report](t, e.do(t, "GET", "/api/analytics?range=7d", ""))
	if len(rep.Readings) != 2 || arch.calls != 1 {
		t.Errorf("readings = %d, archive calls = %d", len(rep.Readings), arch.calls)
	}

	decode[analytics.Report](t, e.do(t, "GET", "/api/analytics?range=1h", ""))
	if arch.calls != 1 {
		t.Errorf("short window hit the archive")
	}
}

func TestAlertsEndpoints(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	err := e.backend.Write(ctx, realtime.AlertPath("esp32-a", "x1"), map[string]any{
		"type": "low_moisture", "message": "dry", "severity": "error", "timestamp": t0.UnixMilli(),
	})
	if err != nil {
		t.Fatal(err)
	}

	list := decode[[]entities.Alert](t, e.do(t, "GET", "/api/alerts", ""))
	if len(list) != 1 || list[0].Message != "dry" {
		t.Fatalf("alerts = %+v", list)
	}

	if resp := e.do(t, "POST", "/api/alerts/x1/ack", ""); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("ack = %d", resp.StatusCode)
	}
	list = decode[[]entities.Alert](t, e.do(t, "GET", "/api/alerts?device=esp32-a", ""))
	if len(list) != 0 {
		t.Errorf("alerts after ack = %+v", list)
	}
}

func TestConfigAndRemove(t *testing.T) {
	e := newEnv(t, nil)

	resp := e.do(t, "PUT", "/api/devices/esp32-a/config", `{"name":"Herbs","moistureThreshold":40}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("config = %d", resp.StatusCode)
	}
	cfg := decode[entities.DeviceConfig](t, resp)
	if cfg.Name != "Herbs" || cfg.MoistureThreshold != 40 || cfg.WateringDuration != entities.DefaultWateringDuration {
		t.Errorf("config = %+v", cfg)
	}

	if resp := e.do(t, "DELETE", "/api/devices/esp32-b", ""); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("remove = %d", resp.StatusCode)
	}
	snap, _ := e.backend.GetOnce(context.Background(), realtime.UserDevicePath("u1", "b"))
	var rec map[string]any
	if err := snap.Decode(&rec); err != nil {
		t.Fatal(err)
	}
	if rec["status"] != "removed" {
		t.Errorf("record = %+v", rec)
	}
}

func TestWebsocketStreamsState(t *testing.T) {
	e := newEnv(t, nil)
	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var first reconciler.State
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read: %v", err)
	}
	if first.DeviceID != "esp32-a" {
		t.Errorf("first state = %+v", first)
	}

	err = e.backend.Write(context.Background(), realtime.DeviceDataPath("esp32-a"), map[string]any{
		"moisture": 48.5, "temperature": 22, "humidity": 55, "valveStatus": "OFF", "timestamp": t0.Unix(),
	})
	if err != nil {
		t.Fatal(err)
	}
	for {
		var st reconciler.State
		if err := conn.ReadJSON(&st); err != nil {
			t.Fatalf("read update: %v", err)
		}
		if st.Phase == reconciler.Live {
			if st.Live.Moisture != 48.5 || st.Live.Synthetic {
				t.Errorf("live = %+v", st.Live)
			}
			return
		}
	}
}
