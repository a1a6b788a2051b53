package entities

type AlertSeverity string

const (
	SeverityInfo    AlertSeverity = "info"
	SeverityWarning AlertSeverity = "warning"
	SeverityError   AlertSeverity = "error"
)

type AlertType string

const (
	AlertLowMoisture     AlertType = "low_moisture"
	AlertMoistureWarning AlertType = "moisture_warning"
	AlertHighTemperature AlertType = "high_temperature"
	AlertDeviceOffline   AlertType = "device_offline"
)

// Alert lives at deviceData/{deviceId}/alerts/{id}. It may be raised by the
// firmware or by the alert monitor.
type Alert struct {
	ID             string         `json:"-"`
	DeviceID       string         `json:"deviceId"`
	Type           AlertType      `json:"type"`
	Message        string         `json:"message"`
	Severity       AlertSeverity  `json:"severity"`
	Timestamp      int64          `json:"timestamp"` // unix ms
	Acknowledged   bool           `json:"acknowledged"`
	AcknowledgedAt int64          `json:"acknowledgedAt,omitempty"`
	AcknowledgedBy string         `json:"acknowledgedBy,omitempty"`
	Data           map[string]any `json:"data,omitempty"`
}
