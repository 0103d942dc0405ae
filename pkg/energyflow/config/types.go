package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/elevated-systems/energyflow-dashboard/pkg/energyflow/common"
)

// Pricing providers
const (
	PricingFlat      = "flat"
	PricingTimeOfUse = "tou"
)

// Config holds all configuration for the EnergyFlow dashboard
type Config struct {
	API          APIConfig          `yaml:"api"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Render       RenderConfig       `yaml:"render"`
	Pricing      PricingConfig      `yaml:"pricing"`
	Notify       NotifyConfig       `yaml:"notify"`
	History      HistoryConfig      `yaml:"history"`
	Server       ServerConfig       `yaml:"server"`
}

// APIConfig holds configuration for the prediction API
type APIConfig struct {
	Environment       string        `yaml:"environment"` // "development" resolves to the local API
	URL               string        `yaml:"url"`
	Timeout           time.Duration `yaml:"timeout"`
	ModelInfoCacheTTL time.Duration `yaml:"modelInfoCacheTTL"`
	MaxCacheAge       time.Duration `yaml:"maxCacheAge"`
}

// OrchestratorConfig holds request orchestration timings
type OrchestratorConfig struct {
	HealthPollInterval time.Duration `yaml:"healthPollInterval"`
	RequestTimeout     time.Duration `yaml:"requestTimeout"`
	ProgressTick       time.Duration `yaml:"progressTick"`
	DefaultHours       int           `yaml:"defaultHours"`
}

// RenderConfig holds presentation constants. None of them change the
// rendering algorithm.
type RenderConfig struct {
	MaxPoints         int     `yaml:"maxPoints"`
	TrendUpperRatio   float64 `yaml:"trendUpperRatio"`   // last third >= ratio * first third => increasing
	TrendLowerRatio   float64 `yaml:"trendLowerRatio"`   // last third <= ratio * first third => decreasing
	CostPerKWh        float64 `yaml:"costPerKWh"`        // currency units per kWh
	EmissionsKgPerKWh float64 `yaml:"emissionsKgPerKWh"` // kg CO2 per kWh
	Currency          string  `yaml:"currency"`
	AnomalyZScore     float64 `yaml:"anomalyZScore"`
}

// Schedule is one peak window of a time-of-use tariff
type Schedule struct {
	DayOfWeek   string  `yaml:"dayOfWeek"`   // digits 0-6, 0 is Sunday, e.g. "12345"
	StartTime   string  `yaml:"startTime"`   // HH:MM, inclusive
	EndTime     string  `yaml:"endTime"`     // HH:MM, exclusive
	PeakRate    float64 `yaml:"peakRate"`    // currency units per kWh inside the window
	OffPeakRate float64 `yaml:"offPeakRate"` // currency units per kWh outside every window
}

// PricingConfig selects how the forecast cost is estimated
type PricingConfig struct {
	Provider  string     `yaml:"provider"` // "flat" uses render.costPerKWh, "tou" uses the schedules
	Schedules []Schedule `yaml:"schedules"`
}

// NotifyConfig holds toast settings
type NotifyConfig struct {
	Duration time.Duration `yaml:"duration"`
}

// HistoryConfig selects the optional prediction history backend.
// Leaving both DBPath and Dir empty disables history.
type HistoryConfig struct {
	DBPath        string `yaml:"dbPath"`
	Dir           string `yaml:"dir"`
	RetentionDays int    `yaml:"retentionDays"`
}

// ServerConfig holds dashboard server settings
type ServerConfig struct {
	Addr           string `yaml:"addr"`
	MetricsEnabled bool   `yaml:"metricsEnabled"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		API: APIConfig{
			Environment:       "production",
			Timeout:           common.DefaultRequestTimeout,
			ModelInfoCacheTTL: 10 * time.Minute,
			MaxCacheAge:       time.Hour,
		},
		Orchestrator: OrchestratorConfig{
			HealthPollInterval: common.DefaultHealthPollInterval,
			RequestTimeout:     common.DefaultRequestTimeout,
			ProgressTick:       common.DefaultProgressTick,
			DefaultHours:       common.DefaultForecastHours,
		},
		Render: RenderConfig{
			MaxPoints:         common.MaxChartPoints,
			TrendUpperRatio:   1.1,
			TrendLowerRatio:   0.9,
			CostPerKWh:        0.80,
			EmissionsKgPerKWh: 0.5,
			Currency:          "R$",
			AnomalyZScore:     3.0,
		},
		Pricing: PricingConfig{
			Provider: PricingFlat,
		},
		Notify: NotifyConfig{
			Duration: common.DefaultNotificationDuration,
		},
		History: HistoryConfig{
			RetentionDays: 30,
		},
		Server: ServerConfig{
			Addr:           ":8080",
			MetricsEnabled: true,
		},
	}
}

// BaseURL resolves the API base URL: an explicit URL wins, otherwise the
// environment picks the local or the remote address.
func (c APIConfig) BaseURL() string {
	if c.URL != "" {
		return strings.TrimRight(c.URL, "/")
	}
	if strings.EqualFold(c.Environment, "development") || strings.EqualFold(c.Environment, "dev") {
		return common.DevelopmentAPIURL
	}
	return common.DefaultRemoteAPIURL
}

// Validate performs validation of the configuration
func (c *Config) Validate() error {
	if _, err := url.ParseRequestURI(c.API.BaseURL()); err != nil {
		return fmt.Errorf("invalid API URL %q: %v", c.API.BaseURL(), err)
	}
	if c.API.Timeout <= 0 {
		return fmt.Errorf("API timeout must be positive")
	}

	if c.Orchestrator.HealthPollInterval <= 0 {
		return fmt.Errorf("health poll interval must be positive")
	}
	if c.Orchestrator.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive")
	}
	if c.Orchestrator.ProgressTick <= 0 {
		return fmt.Errorf("progress tick must be positive")
	}
	if err := common.ValidateForecastHours(c.Orchestrator.DefaultHours); err != nil {
		return fmt.Errorf("invalid default hours: %v", err)
	}

	if err := c.validateRender(); err != nil {
		return fmt.Errorf("invalid render config: %v", err)
	}

	if err := c.validatePricing(); err != nil {
		return fmt.Errorf("invalid pricing config: %v", err)
	}

	if c.Notify.Duration <= 0 {
		return fmt.Errorf("notification duration must be positive")
	}
	if c.History.DBPath != "" && c.History.Dir != "" {
		return fmt.Errorf("history dbPath and dir are mutually exclusive")
	}
	if c.History.RetentionDays < 0 {
		return fmt.Errorf("history retention days cannot be negative")
	}

	return nil
}

func (c *Config) validateRender() error {
	r := c.Render
	if r.MaxPoints <= 0 || r.MaxPoints > common.MaxChartPoints {
		return fmt.Errorf("maxPoints must be in [1, %d]", common.MaxChartPoints)
	}
	if r.TrendLowerRatio <= 0 || r.TrendUpperRatio <= r.TrendLowerRatio {
		return fmt.Errorf("trend ratios must satisfy 0 < lower < upper")
	}
	if r.CostPerKWh < 0 {
		return fmt.Errorf("cost per kWh cannot be negative")
	}
	if r.EmissionsKgPerKWh < 0 {
		return fmt.Errorf("emissions per kWh cannot be negative")
	}
	if r.AnomalyZScore <= 0 {
		return fmt.Errorf("anomaly z-score must be positive")
	}
	return nil
}

func (c *Config) validatePricing() error {
	switch c.Pricing.Provider {
	case "", PricingFlat:
		return nil
	case PricingTimeOfUse:
	default:
		return fmt.Errorf("unknown pricing provider: %s", c.Pricing.Provider)
	}

	if len(c.Pricing.Schedules) == 0 {
		return fmt.Errorf("time-of-use pricing needs at least one schedule")
	}
	offPeak := c.Pricing.Schedules[0].OffPeakRate
	for i, schedule := range c.Pricing.Schedules {
		if err := validateSchedule(schedule); err != nil {
			return fmt.Errorf("invalid schedule at index %d: %v", i, err)
		}
		if schedule.OffPeakRate <= 0 {
			return fmt.Errorf("off-peak rate must be positive in schedule at index %d", i)
		}
		if schedule.PeakRate <= schedule.OffPeakRate {
			return fmt.Errorf("peak rate must be greater than off-peak rate in schedule at index %d", i)
		}
		if schedule.OffPeakRate != offPeak {
			return fmt.Errorf("all schedules must share the same off-peak rate (index %d)", i)
		}
	}
	return nil
}

func validateSchedule(schedule Schedule) error {
	if schedule.DayOfWeek == "" {
		return fmt.Errorf("dayOfWeek is required")
	}
	for _, day := range schedule.DayOfWeek {
		if day < '0' || day > '6' {
			return fmt.Errorf("invalid day of week: %c (must be 0-6)", day)
		}
	}

	start, err := time.Parse("15:04", schedule.StartTime)
	if err != nil {
		return fmt.Errorf("invalid time format: %s (must be HH:MM in 24h format)", schedule.StartTime)
	}
	end, err := time.Parse("15:04", schedule.EndTime)
	if err != nil {
		return fmt.Errorf("invalid time format: %s (must be HH:MM in 24h format)", schedule.EndTime)
	}
	if !end.After(start) {
		return fmt.Errorf("endTime %s must be after startTime %s", schedule.EndTime, schedule.StartTime)
	}
	return nil
}
