package render

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"time"

	"k8s.io/klog/v2"

	"github.com/elevated-systems/energyflow-dashboard/pkg/energyflow/api"
	"github.com/elevated-systems/energyflow-dashboard/pkg/energyflow/common"
	"github.com/elevated-systems/energyflow-dashboard/pkg/energyflow/config"
	"github.com/elevated-systems/energyflow-dashboard/pkg/energyflow/pricing"
)

const (
	chartLabelLayout = "02/01 15h"
	periodLayout     = "02/01/2006 15:04"
)

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

const summaryTemplate = `Forecast for the next {{.HoursCovered}} hours
  Average:   {{kwh .Stats.Mean}}
  Peak:      {{kwh .Stats.Max}}
  Minimum:   {{kwh .Stats.Min}}
  Period:    {{.PeriodStart}} to {{.PeriodEnd}}
  Trend:     {{.Trend.Label}}
  Cost:      {{.Currency}} {{printf "%.2f" .EstimatedCost}}
  Emissions: {{printf "%.2f" .EstimatedEmissionsKg}} kg CO2
{{- if .Anomalies}}
  Unusual hours: {{len .Anomalies}}
{{- end}}
`

const manualTemplate = `Predicted consumption: {{kwh .Value}}
  Level:      {{.Band.Name}}
  {{.Band.Explanation}}
  Confidence: {{upper .Confidence}}
{{- if .Timestamp}}
  Timestamp:  {{.Timestamp}}
{{- end}}
`

// Summary is the content of the forecast summary panel.
type Summary struct {
	HoursCovered         int     `json:"hoursCovered"`
	Stats                Stats   `json:"stats"`
	Trend                Trend   `json:"trend"`
	PeriodStart          string  `json:"periodStart"`
	PeriodEnd            string  `json:"periodEnd"`
	EstimatedCost        float64 `json:"estimatedCost"`
	Currency             string  `json:"currency"`
	EstimatedEmissionsKg float64 `json:"estimatedEmissionsKg"`
	Anomalies            []int   `json:"anomalies,omitempty"`
}

// ChartSeries is the chart-ready data. Animate is always false: every redraw
// replaces the previous series instantly.
type ChartSeries struct {
	Labels  []string  `json:"labels"`
	Values  []float64 `json:"values"`
	Animate bool      `json:"animate"`
}

// ForecastView is everything displayed for one successful forecast.
type ForecastView struct {
	Summary Summary     `json:"summary"`
	Chart   ChartSeries `json:"chart"`
	Panel   string      `json:"panel"`
}

// ManualView is the display of a single-point prediction.
type ManualView struct {
	Value      float64        `json:"value"`
	Band       Band           `json:"band"`
	Confidence api.Confidence `json:"confidence"`
	Timestamp  string         `json:"timestamp,omitempty"`
	Panel      string         `json:"panel"`
}

// Renderer turns API responses into views. It holds no state between calls,
// so the same response always renders the same view.
type Renderer struct {
	cfg     config.RenderConfig
	tariff  pricing.Tariff
	summary *template.Template
	manual  *template.Template
}

// Option configures a Renderer
type Option func(*Renderer)

// WithTariff prices each forecast hour with t instead of the flat costPerKWh.
func WithTariff(t pricing.Tariff) Option {
	return func(r *Renderer) {
		r.tariff = t
	}
}

// New creates a Renderer; zero-valued settings fall back to the defaults.
func New(cfg config.RenderConfig, opts ...Option) *Renderer {
	defaults := config.Default().Render
	if cfg.MaxPoints <= 0 || cfg.MaxPoints > common.MaxChartPoints {
		cfg.MaxPoints = defaults.MaxPoints
	}
	if cfg.TrendLowerRatio <= 0 || cfg.TrendUpperRatio <= cfg.TrendLowerRatio {
		cfg.TrendUpperRatio = defaults.TrendUpperRatio
		cfg.TrendLowerRatio = defaults.TrendLowerRatio
	}
	if cfg.Currency == "" {
		cfg.Currency = defaults.Currency
	}
	if cfg.AnomalyZScore <= 0 {
		cfg.AnomalyZScore = defaults.AnomalyZScore
	}

	funcs := template.FuncMap{
		"kwh":   func(v float64) string { return fmt.Sprintf("%.2f kWh", v) },
		"upper": func(c api.Confidence) string { return strings.ToUpper(string(c)) },
	}

	r := &Renderer{
		cfg:     cfg,
		summary: template.Must(template.New("summary").Funcs(funcs).Parse(summaryTemplate)),
		manual:  template.Must(template.New("manual").Funcs(funcs).Parse(manualTemplate)),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.tariff == nil {
		r.tariff = pricing.Flat(cfg.CostPerKWh)
	}
	return r
}

// RenderForecast validates a forecast response and builds its view. Nothing
// is returned unless every statistic is a finite number.
func (r *Renderer) RenderForecast(resp *api.ForecastResponse) (*ForecastView, error) {
	if resp == nil || len(resp.Forecasts) == 0 {
		klog.InfoS("Forecast response has no points, nothing to render")
		return nil, &common.DataIntegrityError{Reason: "forecast contains no points"}
	}

	points := Truncate(resp.Forecasts, r.cfg.MaxPoints)
	if len(points) < len(resp.Forecasts) {
		klog.V(3).InfoS("Truncated forecast for display", "received", len(resp.Forecasts), "rendered", len(points))
	}
	values := Values(points)

	stats, err := ComputeStats(values)
	if err != nil {
		klog.InfoS("Refusing to render forecast", "reason", err)
		return nil, err
	}

	hours := resp.TotalHours
	if hours <= 0 || hours > len(points) {
		hours = len(points)
	}

	summary := Summary{
		HoursCovered:         hours,
		Stats:                stats,
		Trend:                ClassifyTrend(values, r.cfg.TrendUpperRatio, r.cfg.TrendLowerRatio),
		PeriodStart:          formatPeriod(firstNonEmpty(resp.StartTime, points[0].Timestamp)),
		PeriodEnd:            formatPeriod(firstNonEmpty(resp.EndTime, points[len(points)-1].Timestamp)),
		EstimatedCost:        r.meanRate(points) * stats.Mean * float64(hours),
		Currency:             r.cfg.Currency,
		EstimatedEmissionsKg: stats.Mean * float64(hours) * r.cfg.EmissionsKgPerKWh,
		Anomalies:            DetectAnomalies(values, r.cfg.AnomalyZScore),
	}
	if !finite(summary.EstimatedCost) || !finite(summary.EstimatedEmissionsKg) {
		return nil, &common.DataIntegrityError{Reason: "cost estimate is not a finite number"}
	}

	chart := ChartSeries{
		Labels: make([]string, len(points)),
		Values: values,
	}
	for i, p := range points {
		chart.Labels[i] = ChartLabel(p.Timestamp)
	}

	var buf bytes.Buffer
	if err := r.summary.Execute(&buf, summary); err != nil {
		return nil, fmt.Errorf("failed to render summary: %w", err)
	}

	return &ForecastView{Summary: summary, Chart: chart, Panel: buf.String()}, nil
}

// meanRate is the consumption-weighted tariff over the rendered points, so
// a flat tariff gives exactly costPerKWh. Points without a parsable
// timestamp are priced at costPerKWh.
func (r *Renderer) meanRate(points []api.ForecastPoint) float64 {
	var cost, total float64
	for _, p := range points {
		rate := r.cfg.CostPerKWh
		if t, ok := parseTimestamp(p.Timestamp); ok {
			rate = r.tariff.Rate(t)
		}
		cost += p.PredictedConsumption * rate
		total += p.PredictedConsumption
	}
	if total == 0 {
		return r.tariff.Rate(time.Time{})
	}
	return cost / total
}

// RenderManual buckets a single prediction into its magnitude band.
func (r *Renderer) RenderManual(res *api.ManualPredictionResult) (*ManualView, error) {
	if res == nil || !finite(res.PredictedConsumptionKwh) {
		return nil, &common.DataIntegrityError{Reason: "prediction is not a finite number"}
	}

	view := &ManualView{
		Value:      res.PredictedConsumptionKwh,
		Band:       ClassifyBand(res.PredictedConsumptionKwh),
		Confidence: res.Confidence,
		Timestamp:  formatPeriod(res.Timestamp),
	}
	if view.Confidence == "" {
		view.Confidence = api.ConfidenceHigh
	}

	var buf bytes.Buffer
	if err := r.manual.Execute(&buf, view); err != nil {
		return nil, fmt.Errorf("failed to render prediction: %w", err)
	}
	view.Panel = buf.String()
	return view, nil
}

// ErrorPanel is the inline text shown in place of a result after a failure.
func ErrorPanel(err error) string {
	if err == nil {
		return ""
	}
	return "⚠ " + common.UserMessage(err)
}

// ChartLabel formats a timestamp as "DD/MM HHh". Unparsable timestamps are
// cut to the hour.
func ChartLabel(ts string) string {
	if t, ok := parseTimestamp(ts); ok {
		return t.Format(chartLabelLayout)
	}
	if len(ts) > 13 {
		return ts[:13]
	}
	return ts
}

func formatPeriod(ts string) string {
	if t, ok := parseTimestamp(ts); ok {
		return t.Format(periodLayout)
	}
	return ts
}

func parseTimestamp(ts string) (time.Time, bool) {
	ts = strings.TrimSpace(ts)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, ts); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
