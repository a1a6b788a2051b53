package messages

import "github.com/Parameshwar06/Drip/internal/model/entities"

// CommandEnvelope is republished retained on drip/{deviceId}/commands so a
// device that reconnects picks up the last command.
type CommandEnvelope struct {
	DeviceID string                `json:"deviceId"`
	Command  entities.Command      `json:"command"`
	Test     *entities.TestCommand `json:"test,omitempty"`
}

// SettingsEnvelope mirrors deviceData/{deviceId}/settings for the firmware.
type SettingsEnvelope struct {
	DeviceID          string  `json:"deviceId"`
	MoistureThreshold float64 `json:"moistureThreshold"`
	AutoWatering      bool    `json:"autoWatering"`
	WateringDuration  int     `json:"wateringDuration"`
	CheckInterval     int     `json:"checkInterval"`
	LastUpdate        string  `json:"lastUpdate,omitempty"`
}
