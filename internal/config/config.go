// Package config loads process configuration from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration.
type Config struct {
	Port                string
	Env                 string
	PublicBaseURL       string
	LogLevel            string
	CORSAllowedOrigins  []string
	WorkerCount         int
	DatabaseURL         string
	BotToken            string
	Timezone            string
	SchedulerPollPeriod time.Duration
}

// Load reads Config from the environment, applying defaults for anything
// unset.
func Load() *Config {
	corsAllowedOrigins := []string{}
	if raw := strings.TrimSpace(getEnv("CORS_ALLOWED_ORIGINS", "")); raw != "" {
		for _, origin := range strings.Split(raw, ",") {
			origin = strings.TrimSpace(origin)
			if origin == "" {
				continue
			}
			corsAllowedOrigins = append(corsAllowedOrigins, origin)
		}
	}

	return &Config{
		Port:                getEnv("PORT", "3000"),
		Env:                 getEnv("ENV", "development"),
		PublicBaseURL:       getEnv("PUBLIC_BASE_URL", ""),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		CORSAllowedOrigins:  corsAllowedOrigins,
		WorkerCount:         getEnvAsInt("WORKER_COUNT", 4),
		DatabaseURL:         getEnv("DATABASE_URL", ""),
		BotToken:            getEnv("BOT_TOKEN", ""),
		Timezone:            getEnv("TZ", "Asia/Riyadh"),
		SchedulerPollPeriod: getEnvAsDuration("SCHEDULER_POLL_PERIOD", 30*time.Second),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsDuration retrieves an environment variable as a duration or returns a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
