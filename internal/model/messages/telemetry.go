package messages

import (
	"encoding/json"

	"github.com/Parameshwar06/Drip/internal/model/entities"
)

// Telemetry is what the ESP32 publishes on drip/{deviceId}/telemetry.
type Telemetry struct {
	DeviceID string `json:"deviceId"`
	UserID   string `json:"userId,omitempty"`
	entities.Reading
}

func (t *Telemetry) UnmarshalJSON(b []byte) error {
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	t.Reading = entities.ReadingFromMap(m)
	// devices never publish demo data
	t.Reading.Synthetic = false
	if v, ok := m["deviceId"].(string); ok {
		t.DeviceID = v
	}
	if v, ok := m["userId"].(string); ok {
		t.UserID = v
	}
	return nil
}

// LiveFields is the partial record merged into deviceData/{deviceId}.
func (t Telemetry) LiveFields(lastSeenMs int64) map[string]any {
	out := map[string]any{
		"moisture":    t.Moisture,
		"temperature": t.Temperature,
		"humidity":    t.Humidity,
		"valveStatus": string(t.ValveStatus),
		"timestamp":   t.Timestamp,
		"lastSeen":    lastSeenMs,
	}
	if t.UserID != "" {
		out["userId"] = t.UserID
	}
	return out
}
