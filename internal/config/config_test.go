package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetEnvOrDefault(t *testing.T) {
	tests := []struct {
		name       string
		key        string
		envValue   string
		defaultVal string
		expected   string
	}{
		{"uses env value", "TEST_VAR_1", "hello", "default", "hello"},
		{"uses default when empty", "TEST_VAR_2", "", "default", "default"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.envValue != "" {
				t.Setenv(tc.key, tc.envValue)
			}

			assert.Equal(t, tc.expected, getEnvOrDefault(tc.key, tc.defaultVal))
		})
	}
}

func TestGetEnvAsIntOrDefault(t *testing.T) {
	tests := []struct {
		name       string
		key        string
		envValue   string
		defaultVal int
		expected   int
	}{
		{"parses integer", "TEST_INT_1", "42", 10, 42},
		{"uses default for empty", "TEST_INT_2", "", 10, 10},
		{"uses default for non-numeric", "TEST_INT_3", "abc", 10, 10},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.envValue != "" {
				t.Setenv(tc.key, tc.envValue)
			}

			assert.Equal(t, tc.expected, getEnvAsIntOrDefault(tc.key, tc.defaultVal))
		})
	}
}

func TestGetEnvAsBoolOrDefault(t *testing.T) {
	t.Setenv("TEST_BOOL_1", "false")
	t.Setenv("TEST_BOOL_2", "maybe")

	assert.False(t, getEnvAsBoolOrDefault("TEST_BOOL_1", true))
	assert.True(t, getEnvAsBoolOrDefault("TEST_BOOL_2", true))
	assert.True(t, getEnvAsBoolOrDefault("TEST_BOOL_UNSET", true))
}

func TestGetEnvAsDurationOrDefault(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		expected time.Duration
	}{
		{"parses duration", "90s", 90 * time.Second},
		{"rejects garbage", "soon", time.Minute},
		{"rejects negative", "-5s", time.Minute},
		{"uses default for empty", "", time.Minute},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("TEST_DURATION", tc.envValue)
			assert.Equal(t, tc.expected, getEnvAsDurationOrDefault("TEST_DURATION", time.Minute))
		})
	}
}

func TestMustGetEnv_Panics(t *testing.T) {
	t.Setenv("NONEXISTENT_REQUIRED_VAR", "")
	assert.Panics(t, func() {
		mustGetEnv("NONEXISTENT_REQUIRED_VAR")
	})
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/quotes")
	t.Setenv("HUB_IDLE_TIMEOUT", "")
	t.Setenv("INGEST_RATE_LIMIT", "")
	t.Setenv("REDIS_URL", "")

	cfg := Load()
	require.NotNil(t, cfg)
	assert.Equal(t, "postgres://localhost/quotes", cfg.DatabaseURL)
	assert.Equal(t, time.Minute, cfg.HubIdleTimeout)
	assert.Equal(t, 120, cfg.IngestRateLimit)
	assert.Empty(t, cfg.RedisURL)
	assert.True(t, cfg.RunMigrations)
}
