package broker

import "strings"

const DefaultPrefix = "drip"

// Topics builds the per-device topic names under a prefix.
type Topics struct {
	Prefix string
}

func (t Topics) prefix() string {
	if t.Prefix == "" {
		return DefaultPrefix
	}
	return strings.TrimSuffix(t.Prefix, "/")
}

func (t Topics) Telemetry(deviceID string) string { return t.prefix() + "/" + deviceID + "/telemetry" }
func (t Topics) Commands(deviceID string) string  { return t.prefix() + "/" + deviceID + "/commands" }
func (t Topics) Settings(deviceID string) string  { return t.prefix() + "/" + deviceID + "/settings" }
func (t Topics) Status(deviceID string) string    { return t.prefix() + "/" + deviceID + "/status" }

// AllTelemetry is the wildcard filter matching every device.
func (t Topics) AllTelemetry() string { return t.prefix() + "/+/telemetry" }

// DeviceID extracts the device segment from a per-device topic.
func (t Topics) DeviceID(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, t.prefix()+"/")
	if !ok {
		return "", false
	}
	id, _, ok := strings.Cut(rest, "/")
	if !ok || id == "" {
		return "", false
	}
	return id, true
}
