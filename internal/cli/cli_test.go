package cli

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elevated-systems/energyflow-dashboard/pkg/energyflow/history"
	"github.com/elevated-systems/energyflow-dashboard/pkg/energyflow/render"
)

type fakeAPI struct {
	*httptest.Server

	forecastCalls atomic.Int32

	mu        sync.Mutex
	lastInput map[string]any
	batchSize int
}

func newFakeAPI(t *testing.T) *fakeAPI {
	t.Helper()
	f := &fakeAPI{}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		writeTestJSON(w, map[string]any{"status": "healthy", "model_loaded": true, "model_info": map[string]any{"model_type": "lstm"}})
	})
	mux.HandleFunc("GET /model/info", func(w http.ResponseWriter, _ *http.Request) {
		writeTestJSON(w, map[string]any{"status": "ready", "model_type": "lstm", "total_params": 52000, "n_features": 11, "sequence_length": 24})
	})
	mux.HandleFunc("GET /stats", func(w http.ResponseWriter, _ *http.Request) {
		writeTestJSON(w, map[string]any{
			"total_records": 8760,
			"consumption":   map[string]any{"mean": 1.1, "std": 0.4, "min": 0.1, "max": 4.2, "median": 1.0},
			"temperature":   map[string]any{"mean": 21.5, "min": 8, "max": 36},
			"date_range":    map[string]any{"start": "2023-01-01", "end": "2023-12-31"},
		})
	})
	mux.HandleFunc("POST /forecast", func(w http.ResponseWriter, _ *http.Request) {
		f.forecastCalls.Add(1)
		writeTestJSON(w, map[string]any{
			"forecasts": []map[string]any{
				{"timestamp": "2024-01-01T00:00:00", "predicted_consumption": 1.0},
				{"timestamp": "2024-01-01T01:00:00", "predicted_consumption": 2.0},
				{"timestamp": "2024-01-01T02:00:00", "predicted_consumption": 3.0},
			},
			"total_hours": 3,
			"start_time":  "2024-01-01T00:00:00",
			"end_time":    "2024-01-01T02:00:00",
		})
	})
	mux.HandleFunc("POST /predict", func(w http.ResponseWriter, r *http.Request) {
		var in map[string]any
		_ = json.NewDecoder(r.Body).Decode(&in)
		f.mu.Lock()
		f.lastInput = in
		f.mu.Unlock()
		writeTestJSON(w, map[string]any{"predicted_consumption_kwh": 2.5, "confidence": "medium", "timestamp": "2024-01-06T18:00:00"})
	})
	mux.HandleFunc("POST /predict/batch", func(w http.ResponseWriter, r *http.Request) {
		var in struct {
			Data []map[string]any `json:"data"`
		}
		_ = json.NewDecoder(r.Body).Decode(&in)
		f.mu.Lock()
		f.batchSize = len(in.Data)
		f.mu.Unlock()

		preds := make([]map[string]any, len(in.Data))
		for i := range preds {
			preds[i] = map[string]any{"predicted_consumption_kwh": 0.4 + float64(i), "confidence": "high"}
		}
		writeTestJSON(w, map[string]any{"predictions": preds, "total": len(preds)})
	})

	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

func writeTestJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// isolateEnv keeps developer settings from leaking into the commands.
func isolateEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"ENERGYFLOW_ENV", "ENERGYFLOW_API_URL", "HISTORY_DB_PATH", "HISTORY_DIR"} {
		t.Setenv(key, "")
	}
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCommand(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestHealthCommand(t *testing.T) {
	isolateEnv(t)
	api := newFakeAPI(t)

	out, err := run(t, "health", "--api-url", api.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "API Online")
	assert.Contains(t, out, "model_type: lstm")

	offline := httptest.NewServer(http.NotFoundHandler())
	offlineURL := offline.URL
	offline.Close()

	out, err = run(t, "health", "--api-url", offlineURL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "offline")
	assert.Contains(t, out, "API Offline")
}

func TestModelAndStatsCommands(t *testing.T) {
	isolateEnv(t)
	api := newFakeAPI(t)

	out, err := run(t, "model", "--api-url", api.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "lstm")
	assert.Contains(t, out, "52000")

	out, err = run(t, "stats", "--api-url", api.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "8760")
	assert.Contains(t, out, "2023-01-01 to 2023-12-31")
}

func TestForecastCommand(t *testing.T) {
	isolateEnv(t)
	api := newFakeAPI(t)

	out, err := run(t, "forecast", "--api-url", api.URL, "--hours", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "Forecast: next 3 hours")
	assert.Contains(t, out, "2.00 kWh")
	assert.Contains(t, out, "3.00")
	assert.EqualValues(t, 1, api.forecastCalls.Load())
}

func TestForecastCommandRejectsHours(t *testing.T) {
	isolateEnv(t)
	api := newFakeAPI(t)

	for _, hours := range []string{"0", "169"} {
		t.Run(hours, func(t *testing.T) {
			_, err := run(t, "forecast", "--api-url", api.URL, "--hours", hours)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "Invalid input")
		})
	}
	assert.Zero(t, api.forecastCalls.Load())
}

func TestPredictCommand(t *testing.T) {
	isolateEnv(t)
	api := newFakeAPI(t)

	out, err := run(t, "predict", "--api-url", api.URL, "--hour", "18", "--day-of-week", "5", "--month", "7", "--lag-1h", "1.2")
	require.NoError(t, err)
	assert.Contains(t, out, "2.50 kWh")
	assert.Contains(t, out, "MEDIUM")

	api.mu.Lock()
	defer api.mu.Unlock()
	assert.EqualValues(t, 18, api.lastInput["hour"])
	assert.EqualValues(t, 1, api.lastInput["is_weekend"])
	assert.EqualValues(t, 0, api.lastInput["is_holiday"])
}

func TestPredictCommandValidation(t *testing.T) {
	isolateEnv(t)
	api := newFakeAPI(t)

	_, err := run(t, "predict", "--api-url", api.URL, "--hour", "24")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hour")
}

func TestBatchCommand(t *testing.T) {
	isolateEnv(t)
	api := newFakeAPI(t)
	dir := t.TempDir()

	yamlFile := filepath.Join(dir, "inputs.yaml")
	require.NoError(t, os.WriteFile(yamlFile, []byte(`
- hour: 8
  day_of_week: 1
  month: 3
  temperature_celsius: 18
- hour: 20
  day_of_week: 6
  month: 3
  temperature_celsius: 16
`), 0o644))

	out, err := run(t, "batch", "--api-url", api.URL, "--file", yamlFile)
	require.NoError(t, err)
	assert.Contains(t, out, "Batch: 2 predictions")
	assert.Contains(t, out, "very low")
	assert.Equal(t, 2, api.batchSize)

	jsonFile := filepath.Join(dir, "inputs.json")
	require.NoError(t, os.WriteFile(jsonFile, []byte(`[{"hour": 3, "day_of_week": 2, "month": 11}]`), 0o644))
	out, err = run(t, "batch", "--api-url", api.URL, "-f", jsonFile)
	require.NoError(t, err)
	assert.Contains(t, out, "Batch: 1 predictions")

	emptyFile := filepath.Join(dir, "empty.json")
	require.NoError(t, os.WriteFile(emptyFile, []byte(`[]`), 0o644))
	_, err = run(t, "batch", "--api-url", api.URL, "-f", emptyFile)
	assert.ErrorContains(t, err, "no records")

	_, err = run(t, "batch", "--api-url", api.URL)
	assert.Error(t, err)
}

func TestHistoryCommand(t *testing.T) {
	isolateEnv(t)
	api := newFakeAPI(t)

	_, err := run(t, "history")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "history is disabled")

	t.Setenv("HISTORY_DIR", t.TempDir())

	out, err := run(t, "history")
	require.NoError(t, err)
	assert.Contains(t, out, "No records yet.")

	_, err = run(t, "forecast", "--api-url", api.URL, "--hours", "3")
	require.NoError(t, err)

	out, err = run(t, "history", "--kind", "forecast", "--prune")
	require.NoError(t, err)
	assert.Contains(t, out, "Removed 0 old records")
	assert.Contains(t, out, "mean 2.00")
	assert.Contains(t, out, "increasing")

	_, err = run(t, "history", "--kind", "other")
	assert.Error(t, err)
}

func TestHistoryExportFormats(t *testing.T) {
	isolateEnv(t)
	api := newFakeAPI(t)
	t.Setenv("HISTORY_DIR", t.TempDir())

	_, err := run(t, "forecast", "--api-url", api.URL, "--hours", "3")
	require.NoError(t, err)

	out, err := run(t, "history", "--format", "csv")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "id,kind,created_at,success"))
	assert.Contains(t, lines[1], ",forecast,")
	assert.Contains(t, lines[1], "2.0000")

	out, err = run(t, "history", "-o", "json")
	require.NoError(t, err)
	var doc history.Export
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	require.Len(t, doc.Records, 1)
	assert.Equal(t, 1, doc.Report.Total)
	require.NotNil(t, doc.Report.Forecasts)
	assert.InDelta(t, 2.0, doc.Report.Forecasts.Mean, 1e-9)
	assert.Nil(t, doc.Report.Predictions)

	out, err = run(t, "history", "-o", "yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "report:")
	assert.Contains(t, out, "kind: forecast")

	_, err = run(t, "history", "-o", "xml")
	assert.ErrorContains(t, err, "--format")
}

func TestRenderBars(t *testing.T) {
	assert.Empty(t, renderBars(renderSeries(nil)))

	out := renderBars(renderSeries([]float64{1, 2, 4}))
	lines := bytes.Split(bytes.TrimSpace([]byte(out)), []byte("\n"))
	require.Len(t, lines, 3)
	assert.Contains(t, string(lines[2]), "4.00")
	assert.Less(t, bytes.Count(lines[0], []byte("█")), bytes.Count(lines[2], []byte("█")))
}

func renderSeries(values []float64) render.ChartSeries {
	labels := make([]string, len(values))
	for i := range labels {
		labels[i] = "h"
	}
	return render.ChartSeries{Labels: labels, Values: values}
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "energyflow, version")
}
