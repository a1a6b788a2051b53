package analytics

import (
	"time"

	"github.com/Parameshwar06/Drip/internal/model/entities"
)

// Report bundles everything the analytics view shows for one window.
type Report struct {
	Window      Window                   `json:"window"`
	GeneratedAt time.Time                `json:"generatedAt"`
	Readings    []entities.Reading       `json:"readings"`
	Trends      []TrendPoint             `json:"moistureTrends"`
	Events      []entities.WateringEvent `json:"wateringHistory"`
	Efficiency  Efficiency               `json:"efficiency"`
	Summary     Summary                  `json:"summary"`
	Prediction  Prediction               `json:"predictions"`
	Synthetic   bool                     `json:"synthetic,omitempty"` // any reading is demo data
}

func Analyze(readings []entities.Reading, w Window, now time.Time) Report {
	win := Filter(readings, w, now)
	events := WateringEvents(win)
	rep := Report{
		Window:      w,
		GeneratedAt: now,
		Readings:    win,
		Trends:      MoistureTrends(win),
		Events:      events,
		Efficiency:  ComputeEfficiency(win, events),
		Summary:     Summarize(events),
		Prediction:  Predict(win),
	}
	for _, r := range win {
		if r.Synthetic {
			rep.Synthetic = true
			break
		}
	}
	return rep
}
