package entities

// WateringEvent is one ON→OFF interval found in the history. It is derived,
// never stored.
type WateringEvent struct {
	Start                int64   `json:"start"`
	End                  int64   `json:"end"`
	StartMoisture        float64 `json:"startMoisture"`
	EndMoisture          float64 `json:"endMoisture"`
	DurationMinutes      float64 `json:"duration"`
	EffectivenessPercent float64 `json:"effectiveness"`
}
