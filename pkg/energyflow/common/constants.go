package common

import "time"

// Forecast horizon bounds accepted by the prediction API (hours).
const (
	MinForecastHours     = 1
	MaxForecastHours     = 168
	DefaultForecastHours = 24

	// MaxChartPoints is the largest number of forecast points rendered (7 days hourly).
	MaxChartPoints = 168

	// MaxBatchSize is the largest number of inputs accepted by /predict/batch.
	MaxBatchSize = 100
)

// Endpoint paths of the prediction API.
const (
	PathHealth       = "/health"
	PathModelInfo    = "/model/info"
	PathForecast     = "/forecast"
	PathPredict      = "/predict"
	PathPredictBatch = "/predict/batch"
	PathStats        = "/stats"
)

// Default timings used when configuration leaves them unset.
const (
	DefaultHealthPollInterval   = 60 * time.Second
	DefaultRequestTimeout       = 30 * time.Second
	DefaultProgressTick         = 200 * time.Millisecond
	DefaultNotificationDuration = 3 * time.Second
)

// Base URLs used when ENERGYFLOW_API_URL is not set.
const (
	DevelopmentAPIURL   = "http://localhost:8000"
	DefaultRemoteAPIURL = "https://api.energyflow.app"
)
