package reconciler

import (
	"math/rand"
	"time"

	"github.com/Parameshwar06/Drip/internal/model/entities"
)

const (
	syntheticPoints  = 11
	syntheticSpacing = 5 * time.Minute
)

func uniform(rng *rand.Rand, lo, hi float64) float64 {
	return lo + rng.Float64()*(hi-lo)
}

// syntheticLive is shown when the device has no live record or the backend
// cannot be reached.
func syntheticLive(rng *rand.Rand, now time.Time) entities.LiveState {
	return entities.LiveState{
		Moisture:    uniform(rng, 40, 70),
		Temperature: uniform(rng, 20, 30),
		Humidity:    uniform(rng, 50, 70),
		ValveStatus: entities.ValveOff,
		Timestamp:   now.Unix(),
		LastUpdate:  now,
		Synthetic:   true,
	}
}

// syntheticHistory returns eleven readings at five minute spacing ending at
// now, moisture uniform in [50, 80].
func syntheticHistory(rng *rand.Rand, now time.Time) []entities.Reading {
	out := make([]entities.Reading, syntheticPoints)
	for i := range out {
		at := now.Add(-time.Duration(syntheticPoints-1-i) * syntheticSpacing)
		out[i] = entities.Reading{
			Timestamp:   at.Unix(),
			Moisture:    uniform(rng, 50, 80),
			Temperature: uniform(rng, 20, 30),
			Humidity:    uniform(rng, 50, 70),
			ValveStatus: entities.ValveOff,
			Synthetic:   true,
		}
	}
	return out
}
