package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string        `toml:"environment"` // "development" or "production"
	Backend     BackendConfig `toml:"backend"`
	Tracker     TrackerConfig `toml:"tracker"`
	Logging     LoggingConfig `toml:"logging"`
}

// BackendConfig describes how to reach the job backend
type BackendConfig struct {
	BaseURL        string  `toml:"base_url" validate:"required,url"` // HTTP base URL, e.g. "http://localhost:3002"
	WSURL          string  `toml:"ws_url"`                           // WebSocket base URL; derived from base_url when empty
	APIKey         string  `toml:"api_key"`                          // Bearer token sent with every request
	RequestTimeout string  `toml:"request_timeout"`                  // e.g. "30s" - per-request HTTP timeout
	RateLimit      float64 `toml:"rate_limit" validate:"gte=0"`      // Requests per second toward the backend (0 = unlimited)
	RateBurst      int     `toml:"rate_burst" validate:"gte=0"`      // Burst allowance for the rate limiter
}

// TrackerConfig controls job tracking behavior
type TrackerConfig struct {
	PollInterval string `toml:"poll_interval"`             // e.g. "2s" - polling fallback interval
	PageSize     int    `toml:"page_size" validate:"gt=0"` // Results per status fetch
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Output []string `toml:"output"` // "stdout", "file"
}

// NewDefaultConfig returns a config populated with defaults.
// Defaults match the backend's observed behavior: 2s polling fallback,
// 20 results per page, 30s request timeout.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Backend: BackendConfig{
			BaseURL:        "http://localhost:3002",
			RequestTimeout: "30s",
			RateLimit:      10,
			RateBurst:      5,
		},
		Tracker: TrackerConfig{
			PollInterval: "2s",
			PageSize:     20,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout"},
		},
	}
}

// LoadFromFiles loads configuration from multiple files with priority:
// default -> file1 -> file2 -> ... -> env. Later files override earlier files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		// Unmarshal into config (merges with existing values, later values override)
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("FIREWATCH_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	// Backend configuration
	if baseURL := os.Getenv("FIREWATCH_BACKEND_URL"); baseURL != "" {
		config.Backend.BaseURL = baseURL
	}
	if wsURL := os.Getenv("FIREWATCH_BACKEND_WS_URL"); wsURL != "" {
		config.Backend.WSURL = wsURL
	}
	if apiKey := os.Getenv("FIREWATCH_API_KEY"); apiKey != "" {
		config.Backend.APIKey = apiKey
	}
	if timeout := os.Getenv("FIREWATCH_REQUEST_TIMEOUT"); timeout != "" {
		config.Backend.RequestTimeout = timeout
	}

	// Tracker configuration
	if pollInterval := os.Getenv("FIREWATCH_POLL_INTERVAL"); pollInterval != "" {
		config.Tracker.PollInterval = pollInterval
	}
	if pageSize := os.Getenv("FIREWATCH_PAGE_SIZE"); pageSize != "" {
		if p, err := strconv.Atoi(pageSize); err == nil {
			config.Tracker.PageSize = p
		}
	}

	// Logging configuration
	if level := os.Getenv("FIREWATCH_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("FIREWATCH_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}
}

// ApplyFlagOverrides applies command-line flag overrides (highest priority)
func ApplyFlagOverrides(config *Config, baseURL, apiKey string) {
	if baseURL != "" {
		config.Backend.BaseURL = baseURL
	}
	if apiKey != "" {
		config.Backend.APIKey = apiKey
	}
}

// Validate checks structural constraints and duration formats
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if _, err := time.ParseDuration(c.Backend.RequestTimeout); err != nil {
		return fmt.Errorf("invalid backend.request_timeout %q: %w", c.Backend.RequestTimeout, err)
	}
	if _, err := time.ParseDuration(c.Tracker.PollInterval); err != nil {
		return fmt.Errorf("invalid tracker.poll_interval %q: %w", c.Tracker.PollInterval, err)
	}

	return nil
}

// GetRequestTimeout returns the parsed HTTP request timeout
func (c *BackendConfig) GetRequestTimeout() time.Duration {
	d, err := time.ParseDuration(c.RequestTimeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// GetWSURL returns the websocket base URL, deriving it from the HTTP base
// URL when not explicitly configured (http -> ws, https -> wss).
func (c *BackendConfig) GetWSURL() string {
	if c.WSURL != "" {
		return c.WSURL
	}
	if strings.HasPrefix(c.BaseURL, "https://") {
		return "wss://" + strings.TrimPrefix(c.BaseURL, "https://")
	}
	return "ws://" + strings.TrimPrefix(c.BaseURL, "http://")
}

// GetPollInterval returns the parsed polling fallback interval
func (c *TrackerConfig) GetPollInterval() time.Duration {
	d, err := time.ParseDuration(c.PollInterval)
	if err != nil || d <= 0 {
		return 2 * time.Second
	}
	return d
}

// IsProduction returns true when running in production mode
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}
