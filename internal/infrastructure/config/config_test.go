package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "8000", cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)

	assert.Equal(t, 30*time.Second, cfg.Transport.PingInterval)
	assert.Equal(t, 90*time.Second, cfg.Transport.StaleAfter)
	assert.Equal(t, 30*time.Second, cfg.Transport.SweepInterval)
	assert.Equal(t, 10, cfg.Transport.MaxConnsPerIP)
	assert.Equal(t, 5.0, cfg.Transport.AdmitPerSecond)
	assert.Equal(t, 10, cfg.Transport.AdmitBurst)
	assert.Equal(t, int64(64*1024), cfg.Transport.MaxMessageSize)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Logging.Development)

	assert.Equal(t, 100, cfg.RateLimit.RequestsPerSecond)
	assert.Equal(t, 200, cfg.RateLimit.Burst)
	assert.True(t, cfg.RateLimit.Enabled)
}

func TestLoadOrDefault(t *testing.T) {
	cfg := LoadOrDefault()

	assert.NotNil(t, cfg)
	assert.Equal(t, "8000", cfg.Server.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	envVars := map[string]string{
		"PORT":                "9000",
		"HOST":                "127.0.0.1",
		"JWT_SECRET":          "test-secret",
		"WS_PING_INTERVAL":    "15s",
		"WS_STALE_AFTER":      "45s",
		"WS_MAX_CONNS_PER_IP": "3",
		"WS_ADMIT_RPS":        "2.5",
		"WS_ADMIT_BURST":      "4",
		"LOG_LEVEL":           "debug",
		"LOG_DEV":             "true",
		"RATE_LIMIT_ENABLED":  "false",
	}
	for key, value := range envVars {
		t.Setenv(key, value)
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, "test-secret", cfg.Auth.JWTSecret)
	assert.Equal(t, 15*time.Second, cfg.Transport.PingInterval)
	assert.Equal(t, 45*time.Second, cfg.Transport.StaleAfter)
	assert.Equal(t, 3, cfg.Transport.MaxConnsPerIP)
	assert.Equal(t, 2.5, cfg.Transport.AdmitPerSecond)
	assert.Equal(t, 4, cfg.Transport.AdmitBurst)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Development)
	assert.False(t, cfg.RateLimit.Enabled)
}
