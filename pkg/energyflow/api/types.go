package api

import (
	"encoding/json"
	"math"
	"strings"
	"time"

	"github.com/elevated-systems/energyflow-dashboard/pkg/energyflow/common"
)

// ForecastRequest asks for an hourly forecast of the next HoursAhead hours.
type ForecastRequest struct {
	HoursAhead int `json:"hours_ahead"`
}

// Validate checks the horizon before any network call.
func (r ForecastRequest) Validate() error {
	return common.ValidateForecastHours(r.HoursAhead)
}

// ForecastPoint is one hourly predicted-consumption value.
type ForecastPoint struct {
	Timestamp            string  `json:"timestamp"`
	PredictedConsumption float64 `json:"predicted_consumption"`
}

// ForecastResponse is the /forecast payload, ordered by time ascending.
type ForecastResponse struct {
	Forecasts  []ForecastPoint `json:"forecasts"`
	TotalHours int             `json:"total_hours"`
	StartTime  string          `json:"start_time"`
	EndTime    string          `json:"end_time"`
}

// HealthStatus is one fresh result of the /health check.
type HealthStatus struct {
	Reachable   bool           `json:"reachable"`
	Healthy     bool           `json:"healthy"`
	ModelLoaded bool           `json:"modelLoaded"`
	Status      string         `json:"status,omitempty"`
	ModelInfo   map[string]any `json:"modelInfo,omitempty"`
	CheckedAt   time.Time      `json:"checkedAt"`
}

// Label is the short status text shown next to the status dot.
func (h HealthStatus) Label() string {
	switch {
	case !h.Reachable:
		return "API Offline"
	case h.Healthy:
		return "API Online"
	default:
		return "Model not loaded"
	}
}

// ModelInfo describes the model served by the API when it is ready.
type ModelInfo struct {
	Status         string `json:"status"`
	Message        string `json:"message,omitempty"`
	TotalParams    int64  `json:"total_params,omitempty"`
	NFeatures      int    `json:"n_features,omitempty"`
	SequenceLength int    `json:"sequence_length,omitempty"`
	ModelType      string `json:"model_type,omitempty"`
	NEstimators    int    `json:"n_estimators,omitempty"`
}

// Ready reports whether the API considers the model loaded.
func (m ModelInfo) Ready() bool {
	return m.Status == "ready"
}

// ManualPredictionRequest carries the eleven model features of a single
// prediction. Flags are sent as 0/1.
type ManualPredictionRequest struct {
	TemperatureCelsius        float64
	Hour                      int
	DayOfWeek                 int // 0=Monday .. 6=Sunday
	Month                     int
	IsWeekend                 bool
	IsHoliday                 bool
	ConsumptionLag1h          float64
	ConsumptionLag24h         float64
	ConsumptionLag168h        float64
	ConsumptionRollingMean24h float64
	ConsumptionRollingStd24h  float64
}

// PredictionInput is the wire shape of a ManualPredictionRequest. It is also
// the record format of batch input files (JSON or YAML).
type PredictionInput struct {
	TemperatureCelsius        float64 `json:"temperature_celsius" yaml:"temperature_celsius"`
	Hour                      int     `json:"hour" yaml:"hour"`
	DayOfWeek                 int     `json:"day_of_week" yaml:"day_of_week"`
	Month                     int     `json:"month" yaml:"month"`
	IsWeekend                 *int    `json:"is_weekend" yaml:"is_weekend"`
	IsHoliday                 int     `json:"is_holiday" yaml:"is_holiday"`
	ConsumptionLag1h          float64 `json:"consumption_lag_1h" yaml:"consumption_lag_1h"`
	ConsumptionLag24h         float64 `json:"consumption_lag_24h" yaml:"consumption_lag_24h"`
	ConsumptionLag168h        float64 `json:"consumption_lag_168h" yaml:"consumption_lag_168h"`
	ConsumptionRollingMean24h float64 `json:"consumption_rolling_mean_24h" yaml:"consumption_rolling_mean_24h"`
	ConsumptionRollingStd24h  float64 `json:"consumption_rolling_std_24h" yaml:"consumption_rolling_std_24h"`
}

// Request converts the wire record. A missing is_weekend is derived from
// day_of_week.
func (p PredictionInput) Request() ManualPredictionRequest {
	weekend := IsWeekendDay(p.DayOfWeek)
	if p.IsWeekend != nil {
		weekend = *p.IsWeekend != 0
	}
	return ManualPredictionRequest{
		TemperatureCelsius:        p.TemperatureCelsius,
		Hour:                      p.Hour,
		DayOfWeek:                 p.DayOfWeek,
		Month:                     p.Month,
		IsWeekend:                 weekend,
		IsHoliday:                 p.IsHoliday != 0,
		ConsumptionLag1h:          p.ConsumptionLag1h,
		ConsumptionLag24h:         p.ConsumptionLag24h,
		ConsumptionLag168h:        p.ConsumptionLag168h,
		ConsumptionRollingMean24h: p.ConsumptionRollingMean24h,
		ConsumptionRollingStd24h:  p.ConsumptionRollingStd24h,
	}
}

// Input converts the request to its wire record.
func (r ManualPredictionRequest) Input() PredictionInput {
	weekend := boolToInt(r.IsWeekend)
	return PredictionInput{
		TemperatureCelsius:        r.TemperatureCelsius,
		Hour:                      r.Hour,
		DayOfWeek:                 r.DayOfWeek,
		Month:                     r.Month,
		IsWeekend:                 &weekend,
		IsHoliday:                 boolToInt(r.IsHoliday),
		ConsumptionLag1h:          r.ConsumptionLag1h,
		ConsumptionLag24h:         r.ConsumptionLag24h,
		ConsumptionLag168h:        r.ConsumptionLag168h,
		ConsumptionRollingMean24h: r.ConsumptionRollingMean24h,
		ConsumptionRollingStd24h:  r.ConsumptionRollingStd24h,
	}
}

// MarshalJSON encodes the request in the API's wire shape.
func (r ManualPredictionRequest) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Input())
}

// UnmarshalJSON accepts the wire shape.
func (r *ManualPredictionRequest) UnmarshalJSON(data []byte) error {
	var p PredictionInput
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*r = p.Request()
	return nil
}

// IsWeekendDay reports whether a 0=Monday based day index falls on a weekend.
func IsWeekendDay(dayOfWeek int) bool {
	return dayOfWeek == 5 || dayOfWeek == 6
}

// Validate enforces finite values and the ranges accepted by the API.
func (r ManualPredictionRequest) Validate() error {
	floats := []struct {
		name  string
		value float64
	}{
		{"temperature_celsius", r.TemperatureCelsius},
		{"consumption_lag_1h", r.ConsumptionLag1h},
		{"consumption_lag_24h", r.ConsumptionLag24h},
		{"consumption_lag_168h", r.ConsumptionLag168h},
		{"consumption_rolling_mean_24h", r.ConsumptionRollingMean24h},
		{"consumption_rolling_std_24h", r.ConsumptionRollingStd24h},
	}
	for _, f := range floats {
		if math.IsNaN(f.value) || math.IsInf(f.value, 0) {
			return &common.ValidationError{Field: f.name, Message: "must be a finite number"}
		}
		if f.name != "temperature_celsius" && f.value < 0 {
			return &common.ValidationError{Field: f.name, Message: "cannot be negative"}
		}
	}

	if r.TemperatureCelsius < -50 || r.TemperatureCelsius > 60 {
		return &common.ValidationError{Field: "temperature_celsius", Message: "must be between -50 and 60"}
	}
	if r.Hour < 0 || r.Hour > 23 {
		return &common.ValidationError{Field: "hour", Message: "must be between 0 and 23"}
	}
	if r.DayOfWeek < 0 || r.DayOfWeek > 6 {
		return &common.ValidationError{Field: "day_of_week", Message: "must be between 0 and 6"}
	}
	if r.Month < 1 || r.Month > 12 {
		return &common.ValidationError{Field: "month", Message: "must be between 1 and 12"}
	}
	return nil
}

// Confidence is the categorical label the API attaches to a prediction.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// UnmarshalJSON defaults an empty label to high, as the API schema does.
func (c *Confidence) UnmarshalJSON(data []byte) error {
	var s *string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == nil || *s == "" {
		*c = ConfidenceHigh
		return nil
	}
	*c = Confidence(strings.ToLower(*s))
	return nil
}

// Known reports whether c is one of the three labels the API documents.
func (c Confidence) Known() bool {
	switch c {
	case ConfidenceLow, ConfidenceMedium, ConfidenceHigh:
		return true
	}
	return false
}

// ManualPredictionResult is the /predict payload.
type ManualPredictionResult struct {
	PredictedConsumptionKwh float64    `json:"predicted_consumption_kwh"`
	Confidence              Confidence `json:"confidence"`
	Timestamp               string     `json:"timestamp"`
}

// BatchPredictionResult is the /predict/batch payload.
type BatchPredictionResult struct {
	Predictions []ManualPredictionResult `json:"predictions"`
	Total       int                      `json:"total"`
}

// TrainingStats summarises the data the model was trained on (/stats).
type TrainingStats struct {
	TotalRecords int `json:"total_records"`
	Consumption  struct {
		Mean   float64 `json:"mean"`
		Std    float64 `json:"std"`
		Min    float64 `json:"min"`
		Max    float64 `json:"max"`
		Median float64 `json:"median"`
	} `json:"consumption"`
	Temperature struct {
		Mean float64 `json:"mean"`
		Min  float64 `json:"min"`
		Max  float64 `json:"max"`
	} `json:"temperature"`
	DateRange struct {
		Start string `json:"start"`
		End   string `json:"end"`
	} `json:"date_range"`
}

type healthPayload struct {
	Status      string         `json:"status"`
	ModelLoaded bool           `json:"model_loaded"`
	ModelInfo   map[string]any `json:"model_info"`
}

type batchPayload struct {
	Data []ManualPredictionRequest `json:"data"`
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
