package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "mcpgate.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// The YAML file is optional; a missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "MCPGATE_PORT")
	setString(&cfg.Server.CORSOrigin, "MCPGATE_CORS_ORIGIN")
	setString(&cfg.Backend.URL, "MCPGATE_BACKEND_URL")
	setString(&cfg.Backend.Token, "MCPGATE_BACKEND_TOKEN")
	setString(&cfg.Backend.TokenFile, "MCPGATE_BACKEND_TOKEN_FILE")
	setDuration(&cfg.Backend.Timeout, "MCPGATE_BACKEND_TIMEOUT")
	setDuration(&cfg.Poller.Interval, "MCPGATE_POLL_INTERVAL")
	setInt(&cfg.Poller.MaxConcurrent, "MCPGATE_POLL_MAX_CONCURRENT")
	setFloat64(&cfg.Server.RateLimitRPS, "MCPGATE_RATE_LIMIT_RPS")
	setInt(&cfg.Server.RateLimitBurst, "MCPGATE_RATE_LIMIT_BURST")
	setDuration(&cfg.Stream.ReconnectDelay, "MCPGATE_STREAM_RECONNECT_DELAY")
	setInt64(&cfg.Cache.MaxSizeMB, "MCPGATE_CACHE_SIZE_MB")
	setDuration(&cfg.Cache.CheckTTL, "MCPGATE_CACHE_CHECK_TTL")
	setString(&cfg.Logging.Level, "MCPGATE_LOG_LEVEL")
	setString(&cfg.Logging.Service, "MCPGATE_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "MCPGATE_LOG_ASYNC")
	setInt(&cfg.Breaker.MaxFailures, "MCPGATE_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "MCPGATE_BREAKER_TIMEOUT")
	setString(&cfg.OTel.Endpoint, "MCPGATE_OTEL_ENDPOINT")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Backend.URL == "" {
		return errors.New("backend.url is required")
	}
	if cfg.Poller.Interval <= 0 {
		return errors.New("poller.interval must be > 0")
	}
	if cfg.Poller.MaxConcurrent < 1 {
		return errors.New("poller.max_concurrent must be >= 1")
	}
	if cfg.Server.RateLimitRPS < 0 {
		return errors.New("server.rate_limit_rps must be >= 0")
	}
	if cfg.Stream.ReconnectDelay < 0 {
		return errors.New("stream.reconnect_delay must be >= 0")
	}
	if cfg.Cache.MaxSizeMB < 1 {
		return errors.New("cache.max_size_mb must be >= 1")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
