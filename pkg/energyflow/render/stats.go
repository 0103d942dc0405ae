package render

import (
	"math"

	"github.com/elevated-systems/energyflow-dashboard/pkg/energyflow/api"
	"github.com/elevated-systems/energyflow-dashboard/pkg/energyflow/common"
)

// Trend is a coarse first-third versus last-third classification. It is a
// heuristic, not a statistical test.
type Trend string

const (
	TrendIncreasing Trend = "increasing"
	TrendDecreasing Trend = "decreasing"
	TrendStable     Trend = "stable"
)

// Label is the text shown in the summary panel.
func (t Trend) Label() string {
	switch t {
	case TrendIncreasing:
		return "Increasing ↑"
	case TrendDecreasing:
		return "Decreasing ↓"
	default:
		return "Stable →"
	}
}

// Stats are the summary statistics of a rendered sequence.
type Stats struct {
	Points int     `json:"points"`
	Mean   float64 `json:"mean"`
	Max    float64 `json:"max"`
	Min    float64 `json:"min"`
}

// Truncate returns at most max points, keeping the earliest ones in order.
// The input slice is never modified.
func Truncate(points []api.ForecastPoint, max int) []api.ForecastPoint {
	n := len(points)
	if max > 0 && n > max {
		n = max
	}
	out := make([]api.ForecastPoint, n)
	copy(out, points[:n])
	return out
}

// Values extracts the predicted consumption of each point.
func Values(points []api.ForecastPoint) []float64 {
	values := make([]float64, len(points))
	for i, p := range points {
		values[i] = p.PredictedConsumption
	}
	return values
}

// ComputeStats returns mean, max and min. An empty sequence or any
// non-finite statistic is a *common.DataIntegrityError.
func ComputeStats(values []float64) (Stats, error) {
	if len(values) == 0 {
		return Stats{}, &common.DataIntegrityError{Reason: "forecast contains no points"}
	}

	stats := Stats{Points: len(values), Max: values[0], Min: values[0]}
	var sum float64
	for _, v := range values {
		sum += v
		stats.Max = math.Max(stats.Max, v)
		stats.Min = math.Min(stats.Min, v)
	}
	stats.Mean = sum / float64(len(values))

	checks := []struct {
		name  string
		value float64
	}{{"mean", stats.Mean}, {"max", stats.Max}, {"min", stats.Min}}
	for _, c := range checks {
		if !finite(c.value) {
			return Stats{}, &common.DataIntegrityError{Reason: c.name + " is not a finite number"}
		}
	}
	return stats, nil
}

// ClassifyTrend compares the mean of the first third of values to the mean
// of the last third.
func ClassifyTrend(values []float64, upperRatio, lowerRatio float64) Trend {
	n := len(values)
	if n == 0 {
		return TrendStable
	}
	third := n / 3
	if third < 1 {
		third = 1
	}

	first := mean(values[:third])
	last := mean(values[n-third:])

	if first == 0 {
		if last > 0 {
			return TrendIncreasing
		}
		return TrendStable
	}

	switch {
	case last >= upperRatio*first:
		return TrendIncreasing
	case last <= lowerRatio*first:
		return TrendDecreasing
	default:
		return TrendStable
	}
}

// DetectAnomalies returns the indices whose z-score exceeds threshold. At
// least three values with a non-zero deviation are needed.
func DetectAnomalies(values []float64, threshold float64) []int {
	if len(values) < 3 || threshold <= 0 {
		return nil
	}

	avg := mean(values)
	var variance float64
	for _, v := range values {
		variance += (v - avg) * (v - avg)
	}
	std := math.Sqrt(variance / float64(len(values)))
	if std == 0 || !finite(std) {
		return nil
	}

	var anomalies []int
	for i, v := range values {
		if math.Abs(v-avg)/std > threshold {
			anomalies = append(anomalies, i)
		}
	}
	return anomalies
}

func mean(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
