package realtime

import "path"

// Logical paths shared with the firmware.

func UserDevicesPath(uid string) string { return path.Join("users", uid, "devices") }

func UserDevicePath(uid, localID string) string {
	return path.Join("users", uid, "devices", localID)
}

func DeviceDataPath(deviceID string) string { return path.Join("deviceData", deviceID) }

func HistoryPath(deviceID string) string { return path.Join("deviceData", deviceID, "history") }

func CommandsPath(deviceID string) string { return path.Join("deviceData", deviceID, "commands") }

func SettingsPath(deviceID string) string { return path.Join("deviceData", deviceID, "settings") }

func AlertsPath(deviceID string) string { return path.Join("deviceData", deviceID, "alerts") }

func AlertPath(deviceID, alertID string) string {
	return path.Join("deviceData", deviceID, "alerts", alertID)
}
