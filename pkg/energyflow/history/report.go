package history

import (
	"encoding/csv"
	"io"
	"math"
	"sort"
	"strconv"
	"time"
)

// Summary describes a set of consumption values in kWh.
type Summary struct {
	Count  int     `json:"count" yaml:"count"`
	Mean   float64 `json:"mean" yaml:"mean"`
	Median float64 `json:"median" yaml:"median"`
	Std    float64 `json:"std" yaml:"std"`
	Min    float64 `json:"min" yaml:"min"`
	Max    float64 `json:"max" yaml:"max"`
	Q25    float64 `json:"q25" yaml:"q25"`
	Q75    float64 `json:"q75" yaml:"q75"`
}

// Report aggregates exported records. Predictions summarise the predicted
// kWh of successful manual predictions, Forecasts the mean of each
// successful forecast.
type Report struct {
	GeneratedAt time.Time `json:"generatedAt" yaml:"generatedAt"`
	Total       int       `json:"total" yaml:"total"`
	Failed      int       `json:"failed" yaml:"failed"`
	Predictions *Summary  `json:"predictions,omitempty" yaml:"predictions,omitempty"`
	Forecasts   *Summary  `json:"forecasts,omitempty" yaml:"forecasts,omitempty"`
}

// Export is the document written by the json and yaml formats.
type Export struct {
	Report  Report   `json:"report" yaml:"report"`
	Records []Record `json:"records" yaml:"records"`
}

// BuildReport summarises records as of now.
func BuildReport(records []Record, now time.Time) Report {
	rep := Report{GeneratedAt: now, Total: len(records)}

	var predictions, forecasts []float64
	for _, r := range records {
		switch {
		case !r.Success:
			rep.Failed++
		case r.Kind == KindPrediction:
			predictions = append(predictions, r.PredictedKWh)
		case r.Kind == KindForecast:
			forecasts = append(forecasts, r.Mean)
		}
	}
	rep.Predictions = summarize(predictions)
	rep.Forecasts = summarize(forecasts)
	return rep
}

// summarize uses the sample standard deviation and linearly interpolated
// quartiles. It returns nil for no values.
func summarize(values []float64) *Summary {
	n := len(values)
	if n == 0 {
		return nil
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	mean := sum / float64(n)

	var std float64
	if n > 1 {
		var sq float64
		for _, v := range sorted {
			sq += (v - mean) * (v - mean)
		}
		std = math.Sqrt(sq / float64(n-1))
	}

	return &Summary{
		Count:  n,
		Mean:   mean,
		Median: quantile(sorted, 0.5),
		Std:    std,
		Min:    sorted[0],
		Max:    sorted[n-1],
		Q25:    quantile(sorted, 0.25),
		Q75:    quantile(sorted, 0.75),
	}
}

func quantile(sorted []float64, q float64) float64 {
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	return sorted[lo] + (sorted[hi]-sorted[lo])*(pos-float64(lo))
}

var csvHeader = []string{
	"id", "kind", "created_at", "success", "error",
	"hours_ahead", "points", "mean_kwh", "max_kwh", "min_kwh", "trend",
	"predicted_kwh", "confidence", "band",
}

// WriteCSV writes one row per record under a header row.
func WriteCSV(w io.Writer, records []Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, r := range records {
		row := []string{
			r.ID,
			string(r.Kind),
			r.CreatedAt.UTC().Format(time.RFC3339),
			strconv.FormatBool(r.Success),
			r.Error,
			strconv.Itoa(r.HoursAhead),
			strconv.Itoa(r.Points),
			formatKWh(r.Mean),
			formatKWh(r.Max),
			formatKWh(r.Min),
			r.Trend,
			formatKWh(r.PredictedKWh),
			r.Confidence,
			r.Band,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatKWh(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}
