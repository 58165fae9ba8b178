package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all gateway configuration.
type Config struct {
	Server    ServerConfig
	Auth      AuthConfig
	Transport TransportConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8000"`
	Host string `envconfig:"HOST" default:"0.0.0.0"`
}

// AuthConfig holds credential validation configuration.
type AuthConfig struct {
	JWTSecret string `envconfig:"JWT_SECRET" default:""`
}

// TransportConfig holds WebSocket transport configuration.
type TransportConfig struct {
	// PingInterval is how often a connected client sends a ping envelope.
	PingInterval time.Duration `envconfig:"WS_PING_INTERVAL" default:"30s"`
	// StaleAfter is the server-side liveness threshold; connections without
	// inbound activity for longer are sweep candidates. Kept coarse to avoid
	// false positives on slow mobile networks.
	StaleAfter time.Duration `envconfig:"WS_STALE_AFTER" default:"90s"`
	// SweepInterval is how often the sweeper scans the registry.
	SweepInterval time.Duration `envconfig:"WS_SWEEP_INTERVAL" default:"30s"`
	// MaxConnsPerIP caps concurrent connections admitted per remote IP.
	MaxConnsPerIP int `envconfig:"WS_MAX_CONNS_PER_IP" default:"10"`
	// AdmitPerSecond and AdmitBurst shape the per-IP admission token bucket,
	// limiting how fast one IP may open connections. 0 disables the bucket.
	AdmitPerSecond float64 `envconfig:"WS_ADMIT_RPS" default:"5"`
	AdmitBurst     int     `envconfig:"WS_ADMIT_BURST" default:"10"`
	// MaxMessageSize bounds one inbound frame in bytes.
	MaxMessageSize int64 `envconfig:"WS_MAX_MESSAGE_SIZE" default:"65536"`
	// WriteTimeout bounds one outbound frame write.
	WriteTimeout time.Duration `envconfig:"WS_WRITE_TIMEOUT" default:"10s"`
	// SendBuffer sizes the per-connection outbound channel.
	SendBuffer int `envconfig:"WS_SEND_BUFFER" default:"256"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds HTTP rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8000",
			Host: "0.0.0.0",
		},
		Transport: TransportConfig{
			PingInterval:   30 * time.Second,
			StaleAfter:     90 * time.Second,
			SweepInterval:  30 * time.Second,
			MaxConnsPerIP:  10,
			AdmitPerSecond: 5,
			AdmitBurst:     10,
			MaxMessageSize: 64 * 1024,
			WriteTimeout:   10 * time.Second,
			SendBuffer:     256,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
	}
}
