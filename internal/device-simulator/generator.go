// Package simulator stands in for the ESP32 controller during local runs:
// it publishes telemetry and obeys the command slot.
package simulator

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/Parameshwar06/Drip/internal/model"
)

const (
	// gainPerMin is the moisture gained per minute while the valve is open.
	gainPerMin = 4.0
	// defaultSeed is the starting moisture in percent.
	defaultSeed = 55.0
)

// DataGenerator keeps the soil state between samples.
type DataGenerator struct {
	mu          sync.Mutex
	rng         *rand.Rand
	now         func() time.Time
	last        time.Time
	moisture    float64 // percent
	temperature float64 // °C
	humidity    float64 // percent
	decayPerMin float64
}

// NewDataGenerator starts from seed percent moisture and loses decayPerMin
// percent per minute while the valve is closed.
func NewDataGenerator(seed, decayPerMin float64, rng *rand.Rand, now func() time.Time) *DataGenerator {
	if seed <= 0 {
		seed = defaultSeed
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if now == nil {
		now = time.Now
	}
	return &DataGenerator{
		rng:         rng,
		now:         now,
		moisture:    clamp(seed, 0, 100),
		temperature: 24,
		humidity:    60,
		decayPerMin: math.Max(0, decayPerMin),
	}
}

// Next advances the soil model to now and samples it.
func (g *DataGenerator) Next(valve model.ValveStatus) model.Reading {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if g.last.IsZero() {
		g.last = now
	}
	dtMin := math.Max(0, now.Sub(g.last).Minutes())
	g.last = now

	if valve == model.ValveOn {
		g.moisture = clamp(g.moisture+gainPerMin*dtMin, 0, 100)
	} else {
		g.moisture = clamp(g.moisture-g.decayPerMin*dtMin, 0, 100)
	}
	g.temperature = clamp(g.temperature+g.rng.Float64()-0.5, 10, 40)
	g.humidity = clamp(g.humidity+2*(g.rng.Float64()-0.5), 20, 95)

	return model.Reading{
		Timestamp:   now.Unix(),
		Moisture:    round1(g.moisture),
		Temperature: round1(g.temperature),
		Humidity:    round1(g.humidity),
		ValveStatus: valve,
	}
}

// Moisture returns the current moisture without advancing the model.
func (g *DataGenerator) Moisture() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.moisture
}

func round1(x float64) float64 { return math.Round(x*10) / 10 }

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
