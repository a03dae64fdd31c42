// Package config provides configuration for crewdeck binaries.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds configuration for both the console client and the dev server.
type Config struct {
	// Client settings
	APIBaseURL string
	APIToken   string

	// Server settings
	HTTPPort  int
	AuthToken string

	// Database
	DatabaseURL string

	// Seed crewfile (optional); watched for changes when set.
	SeedFile string

	// Streaming
	EventPollInterval time.Duration
	StreamMaxDuration time.Duration

	// Simulated executor pacing
	TaskStepDelay time.Duration

	// Logging
	LogLevel string
}

// Load loads configuration from environment variables.
func Load() *Config {
	return &Config{
		APIBaseURL:        getEnv("CREWDECK_API_URL", "http://localhost:8080"),
		APIToken:          getEnv("CREWDECK_API_TOKEN", ""),
		HTTPPort:          getEnvInt("HTTP_PORT", 8080),
		AuthToken:         getEnv("AUTH_TOKEN", ""),
		DatabaseURL:       getEnv("DATABASE_URL", "file:crewdeck.db?cache=shared&mode=rwc"),
		SeedFile:          getEnv("SEED_FILE", ""),
		EventPollInterval: time.Duration(getEnvInt("EVENT_POLL_INTERVAL_MS", 100)) * time.Millisecond,
		StreamMaxDuration: time.Duration(getEnvInt("STREAM_MAX_DURATION_MS", 300000)) * time.Millisecond,
		TaskStepDelay:     time.Duration(getEnvInt("TASK_STEP_DELAY_MS", 200)) * time.Millisecond,
		LogLevel:          getEnv("LOG_LEVEL", "info"),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}
