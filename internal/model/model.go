package model

import (
	"github.com/Parameshwar06/Drip/internal/model/entities"
	"github.com/Parameshwar06/Drip/internal/model/messages"
)

// Aliases exposing the shared types to the services.

type (
	Reading          = entities.Reading
	LiveState        = entities.LiveState
	Device           = entities.Device
	DeviceConfig     = entities.DeviceConfig
	Command          = entities.Command
	TestCommand      = entities.TestCommand
	Alert            = entities.Alert
	WateringEvent    = entities.WateringEvent
	ValveStatus      = entities.ValveStatus
	Mode             = entities.Mode
	Telemetry        = messages.Telemetry
	CommandEnvelope  = messages.CommandEnvelope
	SettingsEnvelope = messages.SettingsEnvelope
)

const (
	ValveOn  = entities.ValveOn
	ValveOff = entities.ValveOff

	ActionOn      = entities.ActionOn
	ActionOff     = entities.ActionOff
	ActionSetMode = entities.ActionSetMode

	ModeAutomatic = entities.ModeAutomatic
	ModeManual    = entities.ModeManual
)
