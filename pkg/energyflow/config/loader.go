package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
	"k8s.io/klog/v2"
)

// LoadFromEnv loads configuration from environment variables on top of the defaults
func LoadFromEnv() (*Config, error) {
	return Load("")
}

// Load reads the optional YAML file at path, applies environment overrides
// and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFile(cfg, path); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %v", err)
	}

	klog.V(2).InfoS("Loaded configuration",
		"configFile", path,
		"apiURL", cfg.API.BaseURL(),
		"healthPollInterval", cfg.Orchestrator.HealthPollInterval,
		"requestTimeout", cfg.Orchestrator.RequestTimeout,
		"historyEnabled", cfg.History.DBPath != "" || cfg.History.Dir != "")

	return cfg, nil
}

func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %v", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %v", err)
	}
	return nil
}

// applyEnv overrides cfg with any ENERGYFLOW_* variables that are set; the
// current values act as defaults.
func applyEnv(cfg *Config) {
	cfg.API.Environment = getEnvOrDefault("ENERGYFLOW_ENV", cfg.API.Environment)
	cfg.API.URL = getEnvOrDefault("ENERGYFLOW_API_URL", cfg.API.URL)
	cfg.API.Timeout = getDurationOrDefault("ENERGYFLOW_API_TIMEOUT", cfg.API.Timeout)
	cfg.API.ModelInfoCacheTTL = getDurationOrDefault("ENERGYFLOW_MODEL_INFO_CACHE_TTL", cfg.API.ModelInfoCacheTTL)
	cfg.API.MaxCacheAge = getDurationOrDefault("ENERGYFLOW_MAX_CACHE_AGE", cfg.API.MaxCacheAge)

	cfg.Orchestrator.HealthPollInterval = getDurationOrDefault("ENERGYFLOW_HEALTH_POLL_INTERVAL", cfg.Orchestrator.HealthPollInterval)
	cfg.Orchestrator.RequestTimeout = getDurationOrDefault("ENERGYFLOW_REQUEST_TIMEOUT", cfg.Orchestrator.RequestTimeout)
	cfg.Orchestrator.ProgressTick = getDurationOrDefault("ENERGYFLOW_PROGRESS_TICK", cfg.Orchestrator.ProgressTick)
	cfg.Orchestrator.DefaultHours = getIntOrDefault("ENERGYFLOW_DEFAULT_HOURS", cfg.Orchestrator.DefaultHours)

	cfg.Render.MaxPoints = getIntOrDefault("ENERGYFLOW_MAX_CHART_POINTS", cfg.Render.MaxPoints)
	cfg.Render.TrendUpperRatio = getFloatOrDefault("ENERGYFLOW_TREND_UPPER_RATIO", cfg.Render.TrendUpperRatio)
	cfg.Render.TrendLowerRatio = getFloatOrDefault("ENERGYFLOW_TREND_LOWER_RATIO", cfg.Render.TrendLowerRatio)
	cfg.Render.CostPerKWh = getFloatOrDefault("ENERGYFLOW_COST_PER_KWH", cfg.Render.CostPerKWh)
	cfg.Render.EmissionsKgPerKWh = getFloatOrDefault("ENERGYFLOW_EMISSIONS_KG_PER_KWH", cfg.Render.EmissionsKgPerKWh)
	cfg.Render.Currency = getEnvOrDefault("ENERGYFLOW_CURRENCY", cfg.Render.Currency)
	cfg.Render.AnomalyZScore = getFloatOrDefault("ENERGYFLOW_ANOMALY_ZSCORE", cfg.Render.AnomalyZScore)

	cfg.Pricing.Provider = getEnvOrDefault("ENERGYFLOW_PRICING_PROVIDER", cfg.Pricing.Provider)

	cfg.Notify.Duration = getDurationOrDefault("ENERGYFLOW_NOTIFICATION_DURATION", cfg.Notify.Duration)

	cfg.History.DBPath = getEnvOrDefault("HISTORY_DB_PATH", cfg.History.DBPath)
	cfg.History.Dir = getEnvOrDefault("HISTORY_DIR", cfg.History.Dir)
	cfg.History.RetentionDays = getIntOrDefault("HISTORY_RETENTION_DAYS", cfg.History.RetentionDays)

	cfg.Server.Addr = getEnvOrDefault("ENERGYFLOW_ADDR", cfg.Server.Addr)
	cfg.Server.MetricsEnabled = getBoolOrDefault("METRICS_ENABLED", cfg.Server.MetricsEnabled)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if strValue := os.Getenv(key); strValue != "" {
		if value, err := strconv.Atoi(strValue); err == nil {
			return value
		}
		klog.V(2).InfoS("Invalid integer value, using default",
			"key", key,
			"value", strValue,
			"default", defaultValue)
	}
	return defaultValue
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	if strValue := os.Getenv(key); strValue != "" {
		if value, err := strconv.ParseFloat(strValue, 64); err == nil {
			return value
		}
		klog.V(2).InfoS("Invalid float value, using default",
			"key", key,
			"value", strValue,
			"default", defaultValue)
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if strValue := os.Getenv(key); strValue != "" {
		value, err := strconv.ParseBool(strValue)
		if err == nil {
			return value
		}
		klog.V(2).InfoS("Invalid boolean value, using default",
			"key", key,
			"value", strValue,
			"default", defaultValue)
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if strValue := os.Getenv(key); strValue != "" {
		if value, err := time.ParseDuration(strValue); err == nil {
			return value
		}
		klog.V(2).InfoS("Invalid duration value, using default",
			"key", key,
			"value", strValue,
			"default", defaultValue)
	}
	return defaultValue
}
