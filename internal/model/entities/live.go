package entities

import "time"

// LiveState is the latest snapshot of a device as presented to the UI.
type LiveState struct {
	Moisture    float64     `json:"moisture"`
	Temperature float64     `json:"temperature"`
	Humidity    float64     `json:"humidity"`
	ValveStatus ValveStatus `json:"valveStatus"`
	Timestamp   int64       `json:"timestamp"` // unix seconds reported by the device
	LastUpdate  time.Time   `json:"lastUpdate"`
	Online      bool        `json:"online"`
	Synthetic   bool        `json:"synthetic,omitempty"`
}

// AsReading turns the live record into a Reading.
func (l LiveState) AsReading() Reading {
	return Reading{
		Timestamp:   l.Timestamp,
		Moisture:    l.Moisture,
		Temperature: l.Temperature,
		Humidity:    l.Humidity,
		ValveStatus: l.ValveStatus,
		Synthetic:   l.Synthetic,
	}
}
