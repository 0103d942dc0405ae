package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	versioncollector "github.com/prometheus/client_golang/prometheus/collectors/version"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "energyflow"

var (
	// APIRequestDuration tracks prediction API call latency by endpoint and outcome
	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "Latency of prediction API calls",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"endpoint", "result"},
	)

	// APIRequestsTotal counts prediction API calls by endpoint and outcome
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "Number of prediction API calls",
		},
		[]string{"endpoint", "result"},
	)

	// APIHealthy is 1 when the last health check reported a healthy API
	APIHealthy = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "healthy",
			Help:      "Whether the last health check reported a healthy API (1) or not (0)",
		},
	)

	// ModelLoaded is 1 when the last health check reported a loaded model
	ModelLoaded = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "model_loaded",
			Help:      "Whether the last health check reported a loaded model (1) or not (0)",
		},
	)

	ModelInfoCacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "model_info_cache_lookups_total",
			Help:      "Model info cache lookups by result (hit, miss)",
		},
		[]string{"result"},
	)

	// ForecastRequestsTotal counts forecast triggers by result
	// (success, failed, busy, invalid, cancelled)
	ForecastRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "forecast",
			Name:      "requests_total",
			Help:      "Forecast triggers by result",
		},
		[]string{"result"},
	)

	ForecastInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "forecast",
			Name:      "in_flight",
			Help:      "Whether a forecast request is in flight (1) or not (0)",
		},
	)

	// ForecastConsumptionKWh holds the statistics of the last rendered forecast
	ForecastConsumptionKWh = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "forecast",
			Name:      "consumption_kwh",
			Help:      "Statistics of the last rendered forecast (mean, max, min)",
		},
		[]string{"stat"},
	)

	ForecastPoints = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "forecast",
			Name:      "points",
			Help:      "Number of points in the last rendered forecast",
		},
	)

	ManualPredictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "predict",
			Name:      "requests_total",
			Help:      "Manual predictions by result",
		},
		[]string{"result"},
	)

	HealthPollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "polls_total",
			Help:      "Periodic health poll ticks by result (checked, skipped)",
		},
		[]string{"result"},
	)

	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "shown_total",
			Help:      "Notifications shown by kind",
		},
		[]string{"kind"},
	)

	HistoryRecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "history",
			Name:      "records_total",
			Help:      "History writes by record kind and result",
		},
		[]string{"kind", "result"},
	)

	DashboardRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dashboard",
			Name:      "requests_total",
			Help:      "Dashboard HTTP requests by route and status code",
		},
		[]string{"route", "code"},
	)
)

func init() {
	prometheus.MustRegister(
		APIRequestDuration,
		APIRequestsTotal,
		APIHealthy,
		ModelLoaded,
		ModelInfoCacheLookups,
		ForecastRequestsTotal,
		ForecastInFlight,
		ForecastConsumptionKWh,
		ForecastPoints,
		ManualPredictionsTotal,
		HealthPollsTotal,
		NotificationsTotal,
		HistoryRecordsTotal,
		DashboardRequestsTotal,
		versioncollector.NewCollector(namespace),
	)
}

// ObserveAPIRequest records one prediction API call.
func ObserveAPIRequest(endpoint, result string, d time.Duration) {
	APIRequestDuration.WithLabelValues(endpoint, result).Observe(d.Seconds())
	APIRequestsTotal.WithLabelValues(endpoint, result).Inc()
}

// SetHealth publishes the outcome of a health check.
func SetHealth(healthy, modelLoaded bool) {
	APIHealthy.Set(boolGauge(healthy))
	ModelLoaded.Set(boolGauge(modelLoaded))
}

// SetInFlight publishes whether a forecast is running.
func SetInFlight(busy bool) {
	ForecastInFlight.Set(boolGauge(busy))
}

// RecordForecastStats publishes the statistics of a rendered forecast.
func RecordForecastStats(points int, mean, max, min float64) {
	ForecastPoints.Set(float64(points))
	ForecastConsumptionKWh.WithLabelValues("mean").Set(mean)
	ForecastConsumptionKWh.WithLabelValues("max").Set(max)
	ForecastConsumptionKWh.WithLabelValues("min").Set(min)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
