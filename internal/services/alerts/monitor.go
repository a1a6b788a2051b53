package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/Parameshwar06/Drip/internal/metrics"
	"github.com/Parameshwar06/Drip/internal/model/entities"
	"github.com/Parameshwar06/Drip/pkg/realtime"
)

type Options struct {
	Interval time.Duration
	Now      func() time.Time
	Metrics  *metrics.Metrics
}

// Monitor periodically evaluates every device and persists new alerts under
// deviceData/{id}/alerts.
type Monitor struct {
	backend realtime.Backend
	opts    Options
}

func NewMonitor(backend realtime.Backend, opts Options) *Monitor {
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Monitor{backend: backend, opts: opts}
}

// Start runs Check every interval until ctx ends.
func (m *Monitor) Start(ctx context.Context, devices func() []entities.Device) {
	t := time.NewTicker(m.opts.Interval)
	defer t.Stop()
	for {
		if _, err := m.Check(ctx, devices()); err != nil {
			log.Printf("alerts: check: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// Check evaluates each device and stores the alerts that are not already
// present. It returns the alerts it stored.
func (m *Monitor) Check(ctx context.Context, devices []entities.Device) ([]entities.Alert, error) {
	now := m.opts.Now()
	var raised []entities.Alert
	for _, d := range devices {
		live, ok, err := m.live(ctx, d.DeviceID)
		if err != nil {
			return raised, err
		}
		if !ok {
			continue
		}
		for _, a := range Evaluate(d, live, now) {
			snap, err := m.backend.GetOnce(ctx, realtime.AlertPath(a.DeviceID, a.ID))
			if err != nil {
				return raised, fmt.Errorf("alerts: read %s: %w", a.ID, err)
			}
			if snap.Exists {
				continue
			}
			if err := m.backend.Write(ctx, realtime.AlertPath(a.DeviceID, a.ID), a); err != nil {
				return raised, fmt.Errorf("alerts: write %s: %w", a.ID, err)
			}
			m.opts.Metrics.Alert(string(a.Type))
			log.Printf("alerts: %s raised %s (%s)", a.DeviceID, a.Type, a.Severity)
			raised = append(raised, a)
		}
	}
	return raised, nil
}

// live reads the device node. A device that never reported is skipped.
func (m *Monitor) live(ctx context.Context, deviceID string) (entities.LiveState, bool, error) {
	snap, err := m.backend.GetOnce(ctx, realtime.DeviceDataPath(deviceID))
	if err != nil {
		return entities.LiveState{}, false, fmt.Errorf("alerts: read %s: %w", deviceID, err)
	}
	var raw map[string]any
	if err := snap.Decode(&raw); err != nil || !entities.HasLiveFields(raw) {
		return entities.LiveState{}, false, nil
	}
	if s, _ := raw["status"].(string); s == entities.DeviceRemoved {
		return entities.LiveState{}, false, nil
	}
	r := entities.ReadingFromMap(raw)
	live := entities.LiveState{
		Moisture:    r.Moisture,
		Temperature: r.Temperature,
		Humidity:    r.Humidity,
		ValveStatus: r.ValveStatus,
		Timestamp:   r.Timestamp,
		Synthetic:   r.Synthetic,
	}
	switch {
	case entities.ToF64(raw["lastSeen"]) > 0:
		live.LastUpdate = time.UnixMilli(int64(entities.ToF64(raw["lastSeen"])))
	case r.Timestamp > 1e12:
		live.LastUpdate = time.UnixMilli(r.Timestamp)
	case r.Timestamp > 0:
		live.LastUpdate = time.Unix(r.Timestamp, 0)
	}
	return live, true, nil
}

// Acknowledge marks an alert handled by uid.
func (m *Monitor) Acknowledge(ctx context.Context, deviceID, alertID, uid string) error {
	err := m.backend.Merge(ctx, realtime.AlertPath(deviceID, alertID), map[string]any{
		"acknowledged":   true,
		"acknowledgedAt": m.opts.Now().UnixMilli(),
		"acknowledgedBy": uid,
	})
	if err != nil {
		return fmt.Errorf("alerts: acknowledge %s: %w", alertID, err)
	}
	return nil
}

// Pending lists the unacknowledged alerts of a device, oldest first.
func (m *Monitor) Pending(ctx context.Context, deviceID string) ([]entities.Alert, error) {
	snap, err := m.backend.GetOnce(ctx, realtime.AlertsPath(deviceID))
	if err != nil {
		return nil, fmt.Errorf("alerts: list %s: %w", deviceID, err)
	}
	children, err := snap.Children()
	if err != nil {
		return nil, fmt.Errorf("alerts: list %s: %w", deviceID, err)
	}
	out := make([]entities.Alert, 0, len(children))
	for id, raw := range children {
		var a entities.Alert
		if err := json.Unmarshal(raw, &a); err != nil {
			log.Printf("alerts: skip %s: %v", id, err)
			continue
		}
		if a.Acknowledged {
			continue
		}
		a.ID = id
		if a.DeviceID == "" {
			a.DeviceID = deviceID
		}
		if a.Severity == "" {
			a.Severity = entities.SeverityInfo
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp < out[j].Timestamp
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
