package entities

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// ValveStatus is the state of the drip valve as reported by the device.
type ValveStatus string

const (
	ValveOff ValveStatus = "OFF"
	ValveOn  ValveStatus = "ON"
)

// ParseValveStatus accepts "on"/"off" in any case.
func ParseValveStatus(s string) (ValveStatus, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ON":
		return ValveOn, true
	case "OFF":
		return ValveOff, true
	}
	return "", false
}

// Reading is one timestamped sensor+valve sample from a device.
type Reading struct {
	Timestamp   int64       `json:"timestamp"` // unix seconds
	Moisture    float64     `json:"moisture"`
	Temperature float64     `json:"temperature"`
	Humidity    float64     `json:"humidity"`
	ValveStatus ValveStatus `json:"valveStatus"`
	Synthetic   bool        `json:"synthetic,omitempty"` // demo/fallback data, never real telemetry
}

// TimestampMillis returns the reading time in unix milliseconds.
func (r Reading) TimestampMillis() int64 { return r.Timestamp * 1000 }

// UnmarshalJSON never fails on bad field values: numbers may arrive as
// strings, missing fields become 0 and a missing valve becomes OFF.
func (r *Reading) UnmarshalJSON(b []byte) error {
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	*r = ReadingFromMap(m)
	return nil
}

// ReadingFromMap builds a Reading out of a loosely typed record.
func ReadingFromMap(m map[string]any) Reading {
	r := Reading{
		Timestamp:   int64(ToF64(m["timestamp"])),
		Moisture:    ToF64(m["moisture"]),
		Temperature: ToF64(m["temperature"]),
		Humidity:    ToF64(m["humidity"]),
		ValveStatus: ValveOff,
	}
	if s, ok := m["valveStatus"].(string); ok {
		if v, ok := ParseValveStatus(s); ok {
			r.ValveStatus = v
		}
	}
	if s, ok := m["synthetic"].(bool); ok {
		r.Synthetic = s
	}
	return r
}

var liveKeys = []string{"moisture", "temperature", "humidity", "valveStatus", "timestamp"}

// HasLiveFields reports whether a device node carries telemetry of its own.
// Child collections such as settings, commands, alerts and history do not
// count.
func HasLiveFields(m map[string]any) bool {
	for _, k := range liveKeys {
		if _, ok := m[k]; ok {
			return true
		}
	}
	return false
}

// ToF64 converts JSON numbers, numeric strings and bools to float64.
// Anything else, NaN included, is 0.
func ToF64(v any) float64 {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	case int32:
		f = float64(t)
	case json.Number:
		f, _ = t.Float64()
	case string:
		p, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(t), ",", "."), 64)
		if err != nil {
			return 0
		}
		f = p
	case bool:
		if t {
			f = 1
		}
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}
