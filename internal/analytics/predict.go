package analytics

import (
	"math"

	"github.com/Parameshwar06/Drip/internal/model/entities"
)

const (
	// MinPredictionPoints is the smallest window the predictor will fit.
	MinPredictionPoints = 10
	// HorizonSteps is how far ahead the forecast reaches, in samples. With
	// the usual 30 minute sampling that is about six hours.
	HorizonSteps = 12

	trendThreshold = 0.1
)

type Trend string

const (
	TrendIncreasing Trend = "increasing"
	TrendDecreasing Trend = "decreasing"
	TrendStable     Trend = "stable"
)

// Prediction is empty (Valid false) when the window is too short.
// Confidence is a heuristic that falls with the slope magnitude and is
// bounded to [60, 95]; it is not a statistical interval.
type Prediction struct {
	Valid             bool    `json:"valid"`
	Trend             Trend   `json:"trend,omitempty"`
	PredictedMoisture int     `json:"predictedMoisture,omitempty"`
	Confidence        float64 `json:"confidence,omitempty"`
	Slope             float64 `json:"slope,omitempty"`
	Intercept         float64 `json:"intercept,omitempty"`
	LowMoistureAhead  bool    `json:"lowMoistureAhead,omitempty"`
}

// Predict fits a least-squares line to the moisture of the last ten readings
// against their index and extrapolates HorizonSteps past the end.
func Predict(sorted []entities.Reading) Prediction {
	if len(sorted) < MinPredictionPoints {
		return Prediction{}
	}
	recent := sorted[len(sorted)-MinPredictionPoints:]
	n := float64(len(recent))

	var sumX, sumY, sumXY, sumXX float64
	for i, r := range recent {
		x := float64(i)
		sumX += x
		sumY += r.Moisture
		sumXY += x * r.Moisture
		sumXX += x * x
	}
	m := (n*sumXY - sumX*sumY) / (n*sumXX - sumX*sumX)
	b := (sumY - m*sumX) / n

	predicted := clamp(roundHalfUp(b+m*(n+HorizonSteps)), 0, 100)

	trend := TrendStable
	switch {
	case m > trendThreshold:
		trend = TrendIncreasing
	case m < -trendThreshold:
		trend = TrendDecreasing
	}

	return Prediction{
		Valid:             true,
		Trend:             trend,
		PredictedMoisture: int(predicted),
		Confidence:        clamp(95-math.Abs(m)*10, 60, 95),
		Slope:             m,
		Intercept:         b,
		LowMoistureAhead:  predicted < LowMoistureLevel,
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
