package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port string
	Env  string

	// Database
	DatabaseURL   string
	RunMigrations bool

	// Redis (optional, enables ingest de-duplication)
	RedisURL string

	// JWT (optional, guards the activity read API)
	JWTSecret string

	// Logging
	LogLevel string
	LogJSON  bool

	// Presence
	HubIdleTimeout time.Duration

	// Activity ingest
	IngestRateLimit       int
	ActivityRetentionDays int

	// Frontend
	FrontendURL string
}

func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	cfg := &Config{
		Port:                  getEnvOrDefault("PORT", "8080"),
		Env:                   getEnvOrDefault("ENV", "development"),
		DatabaseURL:           mustGetEnv("DATABASE_URL"),
		RunMigrations:         getEnvAsBoolOrDefault("RUN_MIGRATIONS", true),
		RedisURL:              getEnvOrDefault("REDIS_URL", ""),
		JWTSecret:             getEnvOrDefault("JWT_SECRET", ""),
		LogLevel:              getEnvOrDefault("LOG_LEVEL", "info"),
		LogJSON:               getEnvAsBoolOrDefault("LOG_JSON", false),
		HubIdleTimeout:        getEnvAsDurationOrDefault("HUB_IDLE_TIMEOUT", time.Minute),
		IngestRateLimit:       getEnvAsIntOrDefault("INGEST_RATE_LIMIT", 120),
		ActivityRetentionDays: getEnvAsIntOrDefault("ACTIVITY_RETENTION_DAYS", 0),
		FrontendURL:           getEnvOrDefault("FRONTEND_URL", "http://localhost:5173"),
	}

	return cfg
}

// IsProduction reports whether ENV is "production".
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func mustGetEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		panic(fmt.Sprintf("required environment variable %s is not set", key))
	}
	return val
}

func getEnvOrDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvAsIntOrDefault(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

func getEnvAsBoolOrDefault(key string, defaultVal bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultVal
	}
	return b
}

// getEnvAsDurationOrDefault accepts Go durations ("90s", "2m") and falls back on
// anything unparseable or non-positive.
func getEnvAsDurationOrDefault(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}
