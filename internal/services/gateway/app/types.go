package app

import (
	"github.com/Parameshwar06/Drip/internal/analytics"
	"github.com/Parameshwar06/Drip/internal/model/entities"
)

// DeviceView is one entry of GET /api/devices.
type DeviceView struct {
	Key string `json:"id"`
	entities.Device
	DisplayName string `json:"displayName"`
	Connection  string `json:"connection"` // online | warning | offline
	Selected    bool   `json:"selected"`
}

// Command request bodies. An empty deviceId targets the selected device.

type valveRequest struct {
	DeviceID string `json:"deviceId"`
	State    string `json:"state"`
}

type waterRequest struct {
	DeviceID string `json:"deviceId"`
	Minutes  int    `json:"minutes"`
}

type modeRequest struct {
	DeviceID string `json:"deviceId"`
	Mode     string `json:"mode"`
}

type deviceRequest struct {
	DeviceID string `json:"deviceId"`
}

type commandResponse struct {
	Command *entities.Command     `json:"command,omitempty"`
	Test    *entities.TestCommand `json:"test,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type archiveResponse struct {
	DeviceID string             `json:"deviceId"`
	Window   analytics.Window   `json:"window"`
	Readings []entities.Reading `json:"readings"`
	Stale    bool               `json:"stale,omitempty"`
}

type readyResponse struct {
	Ready     bool  `json:"ready"`
	Connected bool  `json:"connected"`
	Archive   *bool `json:"archive,omitempty"`
}
