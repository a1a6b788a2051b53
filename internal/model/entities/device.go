package entities

import (
	"encoding/json"
	"strings"
)

const (
	DefaultMoistureThreshold = 30
	DefaultWateringDuration  = 5  // minutes
	DefaultCheckInterval     = 60 // minutes

	// DeviceRemoved marks a soft-removed device; records are never hard-deleted.
	DeviceRemoved = "removed"
)

// Device is a registered ESP32 controller as stored under users/{uid}/devices.
type Device struct {
	ID                string  `json:"-"`        // local key under the user's device list
	DeviceID          string  `json:"deviceId"` // external device identifier
	Name              string  `json:"name,omitempty"`
	Location          string  `json:"location,omitempty"`
	MACAddress        string  `json:"macAddress,omitempty"`
	MoistureThreshold float64 `json:"moistureThreshold"`
	AutoWatering      bool    `json:"autoWatering"`
	WateringDuration  int     `json:"wateringDuration"`   // minutes
	CheckInterval     int     `json:"checkInterval"`      // minutes
	LastSeen          int64   `json:"lastSeen,omitempty"` // unix ms
	Status            string  `json:"status,omitempty"`
}

// DisplayName falls back to the device id when no name was configured.
func (d Device) DisplayName() string {
	if strings.TrimSpace(d.Name) != "" {
		return d.Name
	}
	return d.DeviceID
}

// Removed reports whether the device was soft-removed.
func (d Device) Removed() bool { return d.Status == DeviceRemoved }

func (d *Device) UnmarshalJSON(b []byte) error {
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	id := d.ID
	*d = Device{ID: id, AutoWatering: true}
	if v, ok := m["deviceId"].(string); ok {
		d.DeviceID = v
	}
	if v, ok := m["name"].(string); ok {
		d.Name = v
	}
	if v, ok := m["location"].(string); ok {
		d.Location = v
	}
	if v, ok := m["macAddress"].(string); ok {
		d.MACAddress = v
	}
	if v, ok := m["status"].(string); ok {
		d.Status = v
	}
	if v, ok := m["autoWatering"].(bool); ok {
		d.AutoWatering = v
	}
	d.MoistureThreshold = ToF64(m["moistureThreshold"])
	if d.MoistureThreshold <= 0 {
		d.MoistureThreshold = DefaultMoistureThreshold
	}
	d.WateringDuration = int(ToF64(m["wateringDuration"]))
	if d.WateringDuration <= 0 {
		d.WateringDuration = DefaultWateringDuration
	}
	d.CheckInterval = int(ToF64(m["checkInterval"]))
	if d.CheckInterval <= 0 {
		d.CheckInterval = DefaultCheckInterval
	}
	d.LastSeen = int64(ToF64(m["lastSeen"]))
	return nil
}

// DeviceConfig is the user-editable part of a device.
type DeviceConfig struct {
	Name              string  `json:"name"`
	Location          string  `json:"location"`
	MoistureThreshold float64 `json:"moistureThreshold"`
	AutoWatering      bool    `json:"autoWatering"`
	WateringDuration  int     `json:"wateringDuration"`
	CheckInterval     int     `json:"checkInterval"`
}

// ConfigOf returns the current configuration of d with defaults applied.
func ConfigOf(d Device) DeviceConfig {
	c := DeviceConfig{
		Name:              d.Name,
		Location:          d.Location,
		MoistureThreshold: d.MoistureThreshold,
		AutoWatering:      d.AutoWatering,
		WateringDuration:  d.WateringDuration,
		CheckInterval:     d.CheckInterval,
	}
	c.ApplyDefaults()
	return c
}

func (c *DeviceConfig) ApplyDefaults() {
	if c.MoistureThreshold <= 0 {
		c.MoistureThreshold = DefaultMoistureThreshold
	}
	if c.WateringDuration <= 0 {
		c.WateringDuration = DefaultWateringDuration
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = DefaultCheckInterval
	}
}
