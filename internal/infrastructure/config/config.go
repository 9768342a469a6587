// Package config provides centralized configuration management.
//
// Configuration can be loaded from:
//  1. YAML file (config.yaml)
//  2. Environment variables (fallback)
//
// Connection parameters live here and are passed down explicitly at process
// start; nothing reads them from package-level globals.
//
// Example usage:
//
//	cfg := config.LoadOrEnv()
//	store, err := storage.Open(cfg.Database.Driver, cfg.Database.DSN)
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config represents the entire application configuration.
type Config struct {
	Database      DatabaseConfig      `yaml:"database"`
	Matching      MatchingConfig      `yaml:"matching"`
	VendorAliases map[string]string   `yaml:"vendor_aliases"`
	API           APIConfig           `yaml:"api"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// DatabaseConfig selects the driver and connection string.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // "postgres" or "sqlite"
	DSN    string `yaml:"dsn"`
}

// MatchingConfig holds the default matching parameters. Individual runs may
// override them from the command line.
type MatchingConfig struct {
	DateWindowDays     int     `yaml:"date_window_days"`
	AmountTolerancePct float64 `yaml:"amount_tolerance_pct"`
	ConfidenceFloor    float64 `yaml:"confidence_floor"`
}

// APIConfig holds the reporting API settings.
type APIConfig struct {
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// ObservabilityConfig holds observability settings.
type ObservabilityConfig struct {
	Logging LoggingConfig `yaml:"logging"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads and parses the config file. Values like ${ALMS_DB_DSN} are
// expanded from the environment so credentials stay out of the file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := defaults()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables only.
func LoadFromEnv() *Config {
	cfg := defaults()
	cfg.Database.Driver = getEnv("ALMS_DB_DRIVER", cfg.Database.Driver)
	cfg.Database.DSN = getEnv("ALMS_DB_DSN", cfg.Database.DSN)
	cfg.Matching.DateWindowDays = getEnvInt("ALMS_DATE_WINDOW_DAYS", cfg.Matching.DateWindowDays)
	cfg.Matching.AmountTolerancePct = getEnvFloat("ALMS_AMOUNT_TOLERANCE_PCT", cfg.Matching.AmountTolerancePct)
	cfg.Matching.ConfidenceFloor = getEnvFloat("ALMS_CONFIDENCE_FLOOR", cfg.Matching.ConfidenceFloor)
	cfg.API.Port = getEnvInt("PORT", cfg.API.Port)
	cfg.Observability.Logging.Level = getEnv("LOG_LEVEL", cfg.Observability.Logging.Level)
	cfg.Observability.Logging.Format = getEnv("LOG_FORMAT", cfg.Observability.Logging.Format)
	return cfg
}

// LoadOrEnv tries to load from config.yaml, falls back to environment
// variables.
func LoadOrEnv() *Config {
	return LoadOrEnvWithPath("config.yaml")
}

// LoadOrEnvWithPath tries to load from the specified path, falls back to
// environment variables.
func LoadOrEnvWithPath(path string) *Config {
	if cfg, err := Load(path); err == nil {
		return cfg
	}
	return LoadFromEnv()
}

func defaults() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "almsdata.db",
		},
		Matching: MatchingConfig{
			DateWindowDays:     3,
			AmountTolerancePct: 2.0,
			ConfidenceFloor:    50.0,
		},
		API: APIConfig{
			Port:           8080,
			AllowedOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Observability: ObservabilityConfig{
			Logging: LoggingConfig{
				Level:  "info",
				Format: "text",
			},
		},
	}
}

// getEnv retrieves an environment variable with a fallback default.
func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

// getEnvInt retrieves an integer environment variable with a fallback
// default.
func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if result, err := strconv.Atoi(val); err == nil {
			return result
		}
	}
	return fallback
}

// getEnvFloat retrieves a float environment variable with a fallback
// default.
func getEnvFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		if result, err := strconv.ParseFloat(val, 64); err == nil {
			return result
		}
	}
	return fallback
}
