package analytics

import "github.com/Parameshwar06/Drip/internal/model/entities"

// TrendPoint is the moisture change between two consecutive readings.
type TrendPoint struct {
	Timestamp int64   `json:"timestamp"`
	Change    float64 `json:"change"`
	Rate      float64 `json:"rate"` // percent per hour
	Moisture  float64 `json:"moisture"`
}

// MoistureTrends expects readings sorted ascending and returns len-1 points.
func MoistureTrends(sorted []entities.Reading) []TrendPoint {
	if len(sorted) < 2 {
		return []TrendPoint{}
	}
	out := make([]TrendPoint, 0, len(sorted)-1)
	for i := 1; i < len(sorted); i++ {
		prev, curr := sorted[i-1], sorted[i]
		change := curr.Moisture - prev.Moisture
		hours := float64(curr.Timestamp-prev.Timestamp) / 3600
		rate := 0.0
		if hours != 0 {
			rate = change / hours
		}
		out = append(out, TrendPoint{
			Timestamp: curr.Timestamp,
			Change:    change,
			Rate:      rate,
			Moisture:  curr.Moisture,
		})
	}
	return out
}

// WateringEvents segments a sorted window into ON→OFF intervals in one pass.
//
// An interval still open at the end of the window is dropped rather than
// closed at the last reading, so a watering that straddles the window
// boundary produces no event.
func WateringEvents(sorted []entities.Reading) []entities.WateringEvent {
	out := []entities.WateringEvent{}
	var open *entities.WateringEvent
	for _, r := range sorted {
		switch {
		case open == nil && r.ValveStatus == entities.ValveOn:
			open = &entities.WateringEvent{Start: r.Timestamp, StartMoisture: r.Moisture}
		case open != nil && r.ValveStatus == entities.ValveOff:
			open.End = r.Timestamp
			open.EndMoisture = r.Moisture
			open.DurationMinutes = float64(open.End-open.Start) / 60
			open.EffectivenessPercent = open.EndMoisture - open.StartMoisture
			out = append(out, *open)
			open = nil
		}
	}
	return out
}
