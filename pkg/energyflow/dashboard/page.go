package dashboard

import (
	"bytes"
	"fmt"
	"html/template"
	"net/http"
	"strings"

	"k8s.io/klog/v2"

	"github.com/elevated-systems/energyflow-dashboard/pkg/energyflow/common"
	"github.com/elevated-systems/energyflow-dashboard/pkg/energyflow/orchestrator"
	"github.com/elevated-systems/energyflow-dashboard/pkg/energyflow/render"
)

const (
	chartWidth   = 800
	chartHeight  = 260
	chartPadding = 32
	chartTicks   = 12
)

type chartTick struct {
	X     float64
	Label string
}

type chartData struct {
	Width, Height int
	Polyline      string
	Ticks         []chartTick
	MinLabel      string
	MaxLabel      string
	Baseline      float64
}

type pageData struct {
	Snap     orchestrator.Snapshot
	Chart    *chartData
	MinHours int
	MaxHours int
	Days     []string
}

// weekdays is indexed by the API's day_of_week, 0 is Monday.
var weekdays = []string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday"}

var pageTemplate = template.Must(template.New("page").Funcs(template.FuncMap{
	"statusClass": func(s orchestrator.Snapshot) string {
		switch {
		case !s.Health.Reachable:
			return "offline"
		case s.Health.Healthy:
			return "online"
		default:
			return "degraded"
		}
	},
}).Parse(pageHTML))

// buildChart projects the series into SVG coordinates. A flat series is drawn
// across the vertical middle.
func buildChart(series render.ChartSeries) *chartData {
	n := len(series.Values)
	if n == 0 {
		return nil
	}

	lo, hi := series.Values[0], series.Values[0]
	for _, v := range series.Values[1:] {
		lo = min(lo, v)
		hi = max(hi, v)
	}

	plotW := float64(chartWidth - 2*chartPadding)
	plotH := float64(chartHeight - 2*chartPadding)
	xAt := func(i int) float64 {
		if n == 1 {
			return chartPadding + plotW/2
		}
		return chartPadding + plotW*float64(i)/float64(n-1)
	}
	yAt := func(v float64) float64 {
		if hi == lo {
			return chartPadding + plotH/2
		}
		return chartPadding + plotH*(hi-v)/(hi-lo)
	}

	coords := make([]string, n)
	for i, v := range series.Values {
		coords[i] = fmt.Sprintf("%.1f,%.1f", xAt(i), yAt(v))
	}

	step := max(1, (n+chartTicks-1)/chartTicks)
	var ticks []chartTick
	for i := 0; i < n && i < len(series.Labels); i += step {
		ticks = append(ticks, chartTick{X: xAt(i), Label: series.Labels[i]})
	}

	return &chartData{
		Width:    chartWidth,
		Height:   chartHeight,
		Polyline: strings.Join(coords, " "),
		Ticks:    ticks,
		MinLabel: fmt.Sprintf("%.2f kWh", lo),
		MaxLabel: fmt.Sprintf("%.2f kWh", hi),
		Baseline: float64(chartHeight - chartPadding),
	}
}

func (h *Handler) page(w http.ResponseWriter, r *http.Request) {
	snap := h.ctrl.Snapshot()
	data := pageData{
		Snap:     snap,
		MinHours: common.MinForecastHours,
		MaxHours: common.MaxForecastHours,
		Days:     weekdays,
	}
	if snap.View != nil {
		data.Chart = buildChart(snap.View.Chart)
	}

	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, data); err != nil {
		klog.ErrorS(err, "Failed to render dashboard page", "requestID", requestIDFromContext(r.Context()))
		writeError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "could not render dashboard")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

const pageHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>EnergyFlow</title>
{{- if .Snap.Busy}}
<meta http-equiv="refresh" content="2">
{{- end}}
<style>
body { font-family: sans-serif; margin: 2rem; color: #222; }
.dot { display: inline-block; width: .7rem; height: .7rem; border-radius: 50%; margin-right: .4rem; }
.online { background: #2e7d32; } .degraded { background: #f9a825; } .offline { background: #c62828; }
pre { background: #f5f5f5; padding: 1rem; }
.error { color: #c62828; }
.toast { padding: .5rem 1rem; border-radius: 4px; background: #eee; }
.toast.success { background: #e8f5e9; } .toast.error { background: #ffebee; } .toast.warning { background: #fff8e1; }
progress { width: 20rem; }
.manual label { display: block; margin: .2rem 0; }
.model dt { font-weight: bold; }
</style>
</head>
<body>
<h1>EnergyFlow</h1>
<p><span class="dot {{statusClass .Snap}}"></span>{{.Snap.HealthLabel}}</p>
{{- with .Snap.Notification}}
<p class="toast {{.Kind}}">{{.Message}}</p>
{{- end}}

<form method="post" action="/api/forecast" id="forecast">
  <label>Hours ahead
    <input type="number" name="hours_ahead" min="{{.MinHours}}" max="{{.MaxHours}}" value="{{.Snap.Hours}}"{{if not .Snap.ControlEnabled}} disabled{{end}}>
  </label>
  <button type="submit"{{if not .Snap.ControlEnabled}} disabled{{end}}>Forecast</button>
  {{- if .Snap.Busy}}
  <progress max="100" value="{{.Snap.Progress}}"></progress>
  {{- end}}
</form>

{{- if .Snap.ErrorPanel}}
<pre class="error">{{.Snap.ErrorPanel}}</pre>
{{- else if .Snap.View}}
<pre>{{.Snap.View.Panel}}</pre>
{{- end}}

{{- with .Chart}}
<svg width="{{.Width}}" height="{{.Height}}" role="img" aria-label="Predicted consumption">
  <text x="4" y="16" font-size="11">{{.MaxLabel}}</text>
  <text x="4" y="{{.Baseline}}" font-size="11">{{.MinLabel}}</text>
  <polyline fill="none" stroke="#1565c0" stroke-width="2" points="{{.Polyline}}"/>
  {{- range .Ticks}}
  <text x="{{.X}}" y="{{$.Chart.Height}}" font-size="10" text-anchor="middle">{{.Label}}</text>
  {{- end}}
</svg>
{{- end}}

{{- with .Snap.ModelInfo}}
<h2>Model</h2>
<dl class="model">
  <dt>Type</dt><dd>{{or .ModelType "unknown"}}</dd>
  <dt>Status</dt><dd>{{.Status}}</dd>
  <dt>Parameters</dt><dd>{{.TotalParams}}</dd>
  <dt>Features</dt><dd>{{.NFeatures}}</dd>
  <dt>Sequence length</dt><dd>{{.SequenceLength}}</dd>
</dl>
{{- else}}
{{- if .Snap.ModelError}}
<p class="error">{{.Snap.ModelError}}</p>
{{- end}}
{{- end}}

<h2>Manual prediction</h2>
<form method="post" action="/api/predict" id="predict" class="manual">
  <label>Temperature (°C) <input type="number" step="any" name="temperature_celsius" value="20" required></label>
  <label>Hour <input type="number" name="hour" min="0" max="23" value="12" required></label>
  <label>Day of week
    <select name="day_of_week">
      {{- range $i, $d := .Days}}
      <option value="{{$i}}">{{$d}}</option>
      {{- end}}
    </select>
  </label>
  <label>Month <input type="number" name="month" min="1" max="12" value="1" required></label>
  <label><input type="checkbox" name="is_weekend"> Weekend</label>
  <label><input type="checkbox" name="is_holiday"> Holiday</label>
  <label>Lag 1h (kWh) <input type="number" step="any" name="consumption_lag_1h" value="0" required></label>
  <label>Lag 24h (kWh) <input type="number" step="any" name="consumption_lag_24h" value="0" required></label>
  <label>Lag 168h (kWh) <input type="number" step="any" name="consumption_lag_168h" value="0" required></label>
  <label>Rolling mean 24h (kWh) <input type="number" step="any" name="consumption_rolling_mean_24h" value="0" required></label>
  <label>Rolling std 24h (kWh) <input type="number" step="any" name="consumption_rolling_std_24h" value="0" min="0" required></label>
  <button type="submit"{{if not .Snap.SubmitEnabled}} disabled{{end}}>Predict</button>
</form>
{{- if .Snap.ManualErrorPanel}}
<pre class="error">{{.Snap.ManualErrorPanel}}</pre>
{{- else if .Snap.Manual}}
<pre>{{.Snap.Manual.Panel}}</pre>
{{- end}}

<script>
function post(path, payload) {
  return fetch(path, {method: "POST", headers: {"Content-Type": "application/json"}, body: JSON.stringify(payload)});
}

// The forecast keeps running server side, so the page only follows its
// progress and reloads once the request has settled.
function follow() {
  var bar = document.querySelector("#forecast progress");
  var timer = setInterval(function () {
    fetch("/api/status").then(function (r) { return r.json(); }).then(function (env) {
      if (bar && env.data) { bar.value = env.data.progress; }
    }).catch(function () {});
  }, 500);
  return function () { clearInterval(timer); window.location.reload(); };
}

document.getElementById("forecast").addEventListener("submit", function (ev) {
  ev.preventDefault();
  var form = ev.target;
  form.querySelector("button").setAttribute("disabled", "");
  var done = follow();
  post("/api/forecast", {hours_ahead: parseInt(form.hours_ahead.value, 10)}).finally(done);
});

var manual = document.getElementById("predict");
manual.day_of_week.addEventListener("change", function () {
  var d = parseInt(manual.day_of_week.value, 10);
  manual.is_weekend.checked = d === 5 || d === 6;
});

manual.addEventListener("submit", function (ev) {
  ev.preventDefault();
  var f = manual;
  var num = function (name) { return parseFloat(f[name].value); };
  f.querySelector("button").setAttribute("disabled", "");
  post("/api/predict", {
    temperature_celsius: num("temperature_celsius"),
    hour: parseInt(f.hour.value, 10),
    day_of_week: parseInt(f.day_of_week.value, 10),
    month: parseInt(f.month.value, 10),
    is_weekend: f.is_weekend.checked ? 1 : 0,
    is_holiday: f.is_holiday.checked ? 1 : 0,
    consumption_lag_1h: num("consumption_lag_1h"),
    consumption_lag_24h: num("consumption_lag_24h"),
    consumption_lag_168h: num("consumption_lag_168h"),
    consumption_rolling_mean_24h: num("consumption_rolling_mean_24h"),
    consumption_rolling_std_24h: num("consumption_rolling_std_24h")
  }).finally(function () { window.location.reload(); });
});
</script>
</body>
</html>
`
