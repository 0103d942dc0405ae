package history

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"k8s.io/klog/v2"

	"github.com/elevated-systems/energyflow-dashboard/pkg/energyflow/api"
	"github.com/elevated-systems/energyflow-dashboard/pkg/energyflow/clock"
	"github.com/elevated-systems/energyflow-dashboard/pkg/energyflow/common"
	"github.com/elevated-systems/energyflow-dashboard/pkg/energyflow/config"
	"github.com/elevated-systems/energyflow-dashboard/pkg/energyflow/render"
)

// Kind tells forecast records from manual prediction records.
type Kind string

const (
	KindForecast   Kind = "forecast"
	KindPrediction Kind = "prediction"
)

// Record is one forecast or manual prediction outcome, successful or not.
type Record struct {
	ID        string    `json:"id" yaml:"id"`
	Kind      Kind      `json:"kind" yaml:"kind"`
	CreatedAt time.Time `json:"createdAt" yaml:"createdAt"`
	Success   bool      `json:"success" yaml:"success"`
	Error     string    `json:"error,omitempty" yaml:"error,omitempty"`

	HoursAhead int     `json:"hoursAhead,omitempty" yaml:"hoursAhead,omitempty"`
	Points     int     `json:"points,omitempty" yaml:"points,omitempty"`
	Mean       float64 `json:"mean,omitempty" yaml:"mean,omitempty"`
	Max        float64 `json:"max,omitempty" yaml:"max,omitempty"`
	Min        float64 `json:"min,omitempty" yaml:"min,omitempty"`
	Trend      string  `json:"trend,omitempty" yaml:"trend,omitempty"`

	Input        *api.PredictionInput `json:"input,omitempty" yaml:"input,omitempty"`
	PredictedKWh float64              `json:"predictedKWh,omitempty" yaml:"predictedKWh,omitempty"`
	Confidence   string               `json:"confidence,omitempty" yaml:"confidence,omitempty"`
	Band         string               `json:"band,omitempty" yaml:"band,omitempty"`
}

// Recorder persists outcomes and lists them back.
type Recorder interface {
	Record(ctx context.Context, r Record) error
	// Recent returns up to limit records, newest first. An empty kind
	// matches every record.
	Recent(ctx context.Context, kind Kind, limit int) ([]Record, error)
	// Cleanup deletes records older than retention and reports how many
	// were removed.
	Cleanup(ctx context.Context, retention time.Duration) (int64, error)
	Close() error
}

// Open builds the recorder selected by cfg. It returns nil when history is
// disabled.
func Open(cfg config.HistoryConfig, clk clock.Clock) (Recorder, error) {
	switch {
	case cfg.DBPath != "":
		rec, err := NewSQLiteRecorder(cfg.DBPath, clk)
		if err != nil {
			return nil, err
		}
		klog.V(2).InfoS("Using SQLite prediction history", "path", cfg.DBPath)
		return rec, nil
	case cfg.Dir != "":
		rec, err := NewFileRecorder(cfg.Dir, clk)
		if err != nil {
			return nil, err
		}
		klog.V(2).InfoS("Using file prediction history", "dir", cfg.Dir)
		return rec, nil
	default:
		return nil, nil
	}
}

// RetentionFromDays converts the configured retention to a duration.
func RetentionFromDays(days int) time.Duration {
	return time.Duration(days) * 24 * time.Hour
}

// ForecastRecord describes a forecast outcome. view is nil on failure.
func ForecastRecord(hours int, view *render.ForecastView, err error) Record {
	r := Record{Kind: KindForecast, HoursAhead: hours, Success: err == nil && view != nil}
	if err != nil {
		r.Error = common.UserMessage(err)
	}
	if view != nil {
		s := view.Summary
		r.Points = s.Stats.Points
		r.Mean = s.Stats.Mean
		r.Max = s.Stats.Max
		r.Min = s.Stats.Min
		r.Trend = string(s.Trend)
	}
	return r
}

// PredictionRecord describes a manual prediction outcome. view is nil on
// failure.
func PredictionRecord(req api.ManualPredictionRequest, view *render.ManualView, err error) Record {
	input := req.Input()
	r := Record{Kind: KindPrediction, Input: &input, Success: err == nil && view != nil}
	if err != nil {
		r.Error = common.UserMessage(err)
	}
	if view != nil {
		r.PredictedKWh = view.Value
		r.Confidence = string(view.Confidence)
		r.Band = view.Band.Name
	}
	return r
}

// prepare fills the identity fields a caller left empty.
func prepare(r *Record, clk clock.Clock) error {
	switch r.Kind {
	case KindForecast, KindPrediction:
	default:
		return fmt.Errorf("unknown record kind %q", r.Kind)
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = clk.Now()
	}
	r.CreatedAt = r.CreatedAt.UTC()
	return nil
}
