// Package config provides hierarchical configuration loading for mcpgate.
// Precedence: defaults < YAML file < environment variables.
package config

import "time"

// Config holds all runtime configuration for the mcpgate daemon.
type Config struct {
	Server  Server  `yaml:"server"`
	Backend Backend `yaml:"backend"`
	Poller  Poller  `yaml:"poller"`
	Stream  Stream  `yaml:"stream"`
	Cache   Cache   `yaml:"cache"`
	Logging Logging `yaml:"logging"`
	Breaker Breaker `yaml:"breaker"`
	OTel    OTel    `yaml:"otel"`
}

// Server holds the local GUI-facing HTTP server configuration.
type Server struct {
	Port       string `yaml:"port"`
	CORSOrigin string `yaml:"cors_origin"`

	// RateLimitRPS caps requests per second per client IP. Zero
	// disables rate limiting.
	RateLimitRPS   float64 `yaml:"rate_limit_rps"`
	RateLimitBurst int     `yaml:"rate_limit_burst"`
}

// Backend holds the chat backend API connection configuration.
// TokenFile, when set, takes precedence over Token and is re-read on
// SIGHUP so a rotated token does not require a restart.
type Backend struct {
	URL       string        `yaml:"url"`
	Token     string        `yaml:"token"`
	TokenFile string        `yaml:"token_file"`
	Timeout   time.Duration `yaml:"timeout"`
}

// Poller holds execution status polling configuration.
type Poller struct {
	Interval      time.Duration `yaml:"interval"`
	MaxConcurrent int           `yaml:"max_concurrent"`
}

// Stream holds server log stream configuration.
type Stream struct {
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
}

// Cache holds the approval check cache configuration.
type Cache struct {
	MaxSizeMB int64         `yaml:"max_size_mb"`
	CheckTTL  time.Duration `yaml:"check_ttl"`
}

// Logging holds structured logging configuration.
type Logging struct {
	Level   string `yaml:"level"`
	Service string `yaml:"service"`
	Async   bool   `yaml:"async"`
}

// Breaker holds circuit breaker configuration for backend calls.
type Breaker struct {
	MaxFailures int           `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
}

// OTel holds OpenTelemetry exporter configuration. An empty endpoint
// disables exporting.
type OTel struct {
	Endpoint string `yaml:"endpoint"`
}

// Defaults returns a Config with sensible default values for local use.
func Defaults() Config {
	return Config{
		Server: Server{
			Port:           "8091",
			CORSOrigin:     "http://localhost:1420",
			RateLimitRPS:   50,
			RateLimitBurst: 100,
		},
		Backend: Backend{
			URL:     "http://localhost:1430",
			Timeout: 30 * time.Second,
		},
		Poller: Poller{
			Interval:      2 * time.Second,
			MaxConcurrent: 8,
		},
		Stream: Stream{
			ReconnectDelay: 100 * time.Millisecond,
		},
		Cache: Cache{
			MaxSizeMB: 8,
			CheckTTL:  5 * time.Minute,
		},
		Logging: Logging{
			Level:   "info",
			Service: "mcpgate",
		},
		Breaker: Breaker{
			MaxFailures: 5,
			Timeout:     30 * time.Second,
		},
	}
}
