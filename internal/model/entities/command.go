package entities

import "strings"

// Action is what a command asks the device to do.
type Action string

const (
	ActionOn      Action = "ON"
	ActionOff     Action = "OFF"
	ActionSetMode Action = "SET_MODE"
)

// Mode selects who drives the valve: the firmware's threshold loop or the user.
type Mode string

const (
	ModeAutomatic Mode = "AUTOMATIC"
	ModeManual    Mode = "MANUAL"
)

func ParseMode(s string) (Mode, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "AUTOMATIC", "AUTO":
		return ModeAutomatic, true
	case "MANUAL":
		return ModeManual, true
	}
	return "", false
}

// Command occupies the single command slot of a device. Every new command
// overwrites the previous one; there is no acknowledgement.
type Command struct {
	TargetDeviceID string `json:"targetDeviceId"`
	Action         Action `json:"action"`
	Duration       int    `json:"duration,omitempty"` // minutes
	Emergency      bool   `json:"emergency,omitempty"`
	Mode           Mode   `json:"mode,omitempty"`
	IssuedAt       int64  `json:"issuedAt"` // unix seconds
	ID             int64  `json:"id"`       // unix ms, strictly increasing
}

// ValveTarget returns the valve state the command asks for, if any.
func (c Command) ValveTarget() (ValveStatus, bool) {
	switch c.Action {
	case ActionOn:
		return ValveOn, true
	case ActionOff:
		return ValveOff, true
	}
	return "", false
}

// TestCommand is merged next to the command slot by the connection test.
type TestCommand struct {
	Command   string `json:"command"`
	Timestamp string `json:"timestamp"` // RFC3339
	ID        int64  `json:"id"`
}
