package reconciler

import (
	"time"

	"github.com/Parameshwar06/Drip/internal/model/entities"
)

type Phase string

const (
	NoData Phase = "NO_DATA"
	Live   Phase = "LIVE"
	Stale  Phase = "STALE"
)

// ValvePhase tracks an optimistic valve change until the device confirms it.
type ValvePhase string

const (
	ValveConfirmed ValvePhase = "confirmed"
	ValvePending   ValvePhase = "pending"
	ValveReverted  ValvePhase = "reverted"
)

type ValveState struct {
	Phase ValvePhase           `json:"phase"`
	Value entities.ValveStatus `json:"value"`           // what is presented
	Real  entities.ValveStatus `json:"real"`            // last value reported by the device
	Since time.Time            `json:"since,omitempty"` // set while pending
}

// State is what the UI layer renders for the selected device.
type State struct {
	DeviceID  string             `json:"deviceId"`
	Phase     Phase              `json:"phase"`
	Live      entities.LiveState `json:"live"`
	Valve     ValveState         `json:"valve"`
	History   []entities.Reading `json:"history"`
	Connected bool               `json:"connected"`
	LastPoll  time.Time          `json:"lastPoll,omitempty"`
}

func (s State) clone() State {
	s.History = append([]entities.Reading(nil), s.History...)
	return s
}
