package api

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v2"

	"github.com/elevated-systems/energyflow-dashboard/pkg/energyflow/common"
)

func TestManualPredictionRequestValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(r *ManualPredictionRequest)
		wantField string
	}{
		{name: "valid", mutate: func(r *ManualPredictionRequest) {}},
		{name: "NaN temperature", mutate: func(r *ManualPredictionRequest) { r.TemperatureCelsius = math.NaN() }, wantField: "temperature_celsius"},
		{name: "temperature too hot", mutate: func(r *ManualPredictionRequest) { r.TemperatureCelsius = 61 }, wantField: "temperature_celsius"},
		{name: "negative temperature allowed", mutate: func(r *ManualPredictionRequest) { r.TemperatureCelsius = -12 }},
		{name: "infinite lag", mutate: func(r *ManualPredictionRequest) { r.ConsumptionLag24h = math.Inf(1) }, wantField: "consumption_lag_24h"},
		{name: "negative lag", mutate: func(r *ManualPredictionRequest) { r.ConsumptionLag1h = -0.1 }, wantField: "consumption_lag_1h"},
		{name: "hour 24", mutate: func(r *ManualPredictionRequest) { r.Hour = 24 }, wantField: "hour"},
		{name: "day 7", mutate: func(r *ManualPredictionRequest) { r.DayOfWeek = 7 }, wantField: "day_of_week"},
		{name: "month 0", mutate: func(r *ManualPredictionRequest) { r.Month = 0 }, wantField: "month"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := sampleManualRequest()
			tt.mutate(&req)
			err := req.Validate()
			if tt.wantField == "" {
				assert.NoError(t, err)
				return
			}
			var ve *common.ValidationError
			require.True(t, errors.As(err, &ve))
			assert.Equal(t, tt.wantField, ve.Field)
		})
	}
}

func TestPredictionInputDerivesWeekend(t *testing.T) {
	var req ManualPredictionRequest
	require.NoError(t, json.Unmarshal([]byte(`{"temperature_celsius":20,"hour":9,"day_of_week":6,"month":3}`), &req))
	assert.True(t, req.IsWeekend)

	require.NoError(t, json.Unmarshal([]byte(`{"temperature_celsius":20,"hour":9,"day_of_week":6,"month":3,"is_weekend":0}`), &req))
	assert.False(t, req.IsWeekend, "explicit flag wins")
}

func TestPredictionInputFromYAML(t *testing.T) {
	data := []byte(`
- temperature_celsius: 31.5
  hour: 14
  day_of_week: 2
  month: 1
  is_holiday: 1
  consumption_lag_1h: 2.1
`)
	var inputs []PredictionInput
	require.NoError(t, yaml.Unmarshal(data, &inputs))
	require.Len(t, inputs, 1)

	req := inputs[0].Request()
	assert.Equal(t, 31.5, req.TemperatureCelsius)
	assert.False(t, req.IsWeekend)
	assert.True(t, req.IsHoliday)
	assert.Equal(t, 2.1, req.ConsumptionLag1h)
}

func TestConfidenceUnmarshal(t *testing.T) {
	tests := []struct {
		raw   string
		want  Confidence
		known bool
	}{
		{raw: `"high"`, want: ConfidenceHigh, known: true},
		{raw: `"Medium"`, want: ConfidenceMedium, known: true},
		{raw: `null`, want: ConfidenceHigh, known: true},
		{raw: `""`, want: ConfidenceHigh, known: true},
		{raw: `"uncertain"`, want: Confidence("uncertain")},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			var c Confidence
			require.NoError(t, json.Unmarshal([]byte(tt.raw), &c))
			assert.Equal(t, tt.want, c)
			assert.Equal(t, tt.known, c.Known())
		})
	}
}
