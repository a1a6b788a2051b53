package analytics

import (
	"math"

	"github.com/Parameshwar06/Drip/internal/model/entities"
)

// LowMoistureLevel is the moisture percentage below which a reading counts
// as dry.
const LowMoistureLevel = 30

type Efficiency struct {
	AvgMoisture        float64 `json:"avgMoisture"`
	TotalWateringTime  int     `json:"totalWateringTime"` // minutes
	LowMoisturePercent int     `json:"lowMoisturePercent"`
	WateringEfficiency int     `json:"wateringEfficiency"`
}

// ComputeEfficiency aggregates a window and the events segmented from it.
// An empty window gives the zero value.
func ComputeEfficiency(sorted []entities.Reading, events []entities.WateringEvent) Efficiency {
	if len(sorted) == 0 {
		return Efficiency{}
	}
	var sum float64
	low := 0
	for _, r := range sorted {
		sum += r.Moisture
		if r.Moisture < LowMoistureLevel {
			low++
		}
	}
	var minutes, effect float64
	for _, e := range events {
		minutes += e.DurationMinutes
		effect += e.EffectivenessPercent
	}
	eff := Efficiency{
		AvgMoisture:        roundHalfUp(sum/float64(len(sorted))*10) / 10,
		TotalWateringTime:  int(roundHalfUp(minutes)),
		LowMoisturePercent: int(roundHalfUp(float64(low) / float64(len(sorted)) * 100)),
	}
	if len(events) > 0 {
		eff.WateringEfficiency = int(roundHalfUp(effect / float64(len(events))))
	}
	return eff
}

// Summary is the per-window watering overview.
type Summary struct {
	Events             int `json:"events"`
	AvgDurationMinutes int `json:"avgDuration"`
	AvgEffectiveness   int `json:"avgEffectiveness"`
}

func Summarize(events []entities.WateringEvent) Summary {
	if len(events) == 0 {
		return Summary{}
	}
	var d, e float64
	for _, ev := range events {
		d += ev.DurationMinutes
		e += ev.EffectivenessPercent
	}
	n := float64(len(events))
	return Summary{
		Events:             len(events),
		AvgDurationMinutes: int(roundHalfUp(d / n)),
		AvgEffectiveness:   int(roundHalfUp(e / n)),
	}
}

// roundHalfUp rounds .5 toward positive infinity, so -2.5 becomes -2.
func roundHalfUp(x float64) float64 { return math.Floor(x + 0.5) }
