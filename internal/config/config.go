package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Host string
	Port int

	// Metrics configuration
	MetricsEnabled bool
	MetricsHost    string
	MetricsPort    int

	// Database configuration
	DatabasePath string

	// Strava API configuration
	StravaClientID     string
	StravaClientSecret string
	StravaVerifyToken  string

	// SiteURL is the externally visible base URL, used to build the OAuth
	// redirect_uri and the post-callback dashboard redirect
	SiteURL string

	// Logging configuration
	LogLevel string
}

// Load reads configuration from the environment (and an optional .env file).
// It fails fast if required variables are missing.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		// Optional values with defaults
		Host:           getEnv("HOST", "localhost"),
		Port:           getEnvInt("PORT", 4201),
		MetricsEnabled: getEnv("METRICS_ENABLED", "true") == "true",
		MetricsHost:    getEnv("METRICS_HOST", "localhost"),
		MetricsPort:    getEnvInt("METRICS_PORT", 4202),
		DatabasePath:   getEnv("DATABASE_PATH", "./data.db"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
	}

	// Required values
	var missingVars []string

	cfg.StravaClientID = os.Getenv("STRAVA_CLIENT_ID")
	if cfg.StravaClientID == "" {
		missingVars = append(missingVars, "STRAVA_CLIENT_ID")
	}

	cfg.StravaClientSecret = os.Getenv("STRAVA_CLIENT_SECRET")
	if cfg.StravaClientSecret == "" {
		missingVars = append(missingVars, "STRAVA_CLIENT_SECRET")
	}

	cfg.StravaVerifyToken = os.Getenv("STRAVA_WEBHOOK_VERIFY_TOKEN")
	if cfg.StravaVerifyToken == "" {
		missingVars = append(missingVars, "STRAVA_WEBHOOK_VERIFY_TOKEN")
	}

	cfg.SiteURL = os.Getenv("SITE_URL")
	if cfg.SiteURL == "" {
		missingVars = append(missingVars, "SITE_URL")
	}

	if len(missingVars) > 0 {
		return nil, fmt.Errorf("missing required environment variables: %v", missingVars)
	}

	return cfg, nil
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvInt gets an integer environment variable or returns a default value
func getEnvInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}
