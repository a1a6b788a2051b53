// Package alerts raises threshold alerts from live device data and tracks
// their acknowledgement.
package alerts

import (
	"fmt"
	"strconv"
	"time"

	"github.com/Parameshwar06/Drip/internal/model/entities"
)

const (
	CriticalMoisture = 20.0
	LowMoisture      = 30.0
	HighTemperature  = 35.0
	OfflineAfter     = 10 * time.Minute
)

// An alert of a given type is raised at most once per grouping window.
var windows = map[entities.AlertType]time.Duration{
	entities.AlertLowMoisture:     5 * time.Minute,
	entities.AlertMoistureWarning: 10 * time.Minute,
	entities.AlertHighTemperature: 15 * time.Minute,
	entities.AlertDeviceOffline:   30 * time.Minute,
}

// ID groups alerts of one type and device into fixed windows.
func ID(deviceID string, t entities.AlertType, now time.Time) string {
	w := windows[t]
	if w <= 0 {
		w = time.Minute
	}
	return fmt.Sprintf("%s_%s_%d", deviceID, t, now.UnixMilli()/w.Milliseconds())
}

func num(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }

// Evaluate applies the threshold rules to one live record. Synthetic data
// never raises alerts.
func Evaluate(d entities.Device, live entities.LiveState, now time.Time) []entities.Alert {
	if live.Synthetic {
		return nil
	}
	var out []entities.Alert
	raise := func(t entities.AlertType, sev entities.AlertSeverity, msg string, data map[string]any) {
		out = append(out, entities.Alert{
			ID:        ID(d.DeviceID, t, now),
			DeviceID:  d.DeviceID,
			Type:      t,
			Message:   msg,
			Severity:  sev,
			Timestamp: now.UnixMilli(),
			Data:      data,
		})
	}

	switch {
	case live.Moisture < CriticalMoisture:
		raise(entities.AlertLowMoisture, entities.SeverityError,
			fmt.Sprintf("Critical: Soil moisture is very low (%s%%)", num(live.Moisture)),
			map[string]any{"moisture": live.Moisture})
	case live.Moisture < LowMoisture:
		raise(entities.AlertMoistureWarning, entities.SeverityWarning,
			fmt.Sprintf("Warning: Soil moisture is getting low (%s%%)", num(live.Moisture)),
			map[string]any{"moisture": live.Moisture})
	}

	if live.Temperature > HighTemperature {
		raise(entities.AlertHighTemperature, entities.SeverityWarning,
			fmt.Sprintf("High temperature detected (%s°C)", num(live.Temperature)),
			map[string]any{"temperature": live.Temperature})
	}

	var lastSeen int64
	if !live.LastUpdate.IsZero() {
		lastSeen = live.LastUpdate.UnixMilli()
	}
	if lastSeen == 0 || now.Sub(live.LastUpdate) > OfflineAfter {
		raise(entities.AlertDeviceOffline, entities.SeverityError,
			"Device appears to be offline",
			map[string]any{"lastSeen": lastSeen})
	}
	return out
}
