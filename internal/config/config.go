package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const defaultAPIBaseURL = "http://localhost:8080/api"

// Config holds all configuration for the NileTrace watch agent.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	API      APIConfig
	Poll     PollConfig
}

type ServerConfig struct {
	Port              int
	Env               string
	RequestsPerMinute int
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

// APIConfig describes how to reach the NileTrace REST API.
type APIConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	// MaxRPS caps outgoing requests per second across all callers. 0 disables the cap.
	MaxRPS int
}

// PollConfig controls analysis job polling.
type PollConfig struct {
	Interval    time.Duration
	MaxAttempts int
	Enabled     bool
}

// ClientConfig is the subset of configuration the CLI needs.
type ClientConfig struct {
	API  APIConfig
	Poll PollConfig
}

// Load reads the agent configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:              envInt("NILETRACE_PORT", 8090),
			Env:               envString("NILETRACE_ENV", "development"),
			RequestsPerMinute: envInt("NILETRACE_RATE_LIMIT_PER_MIN", 60),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		API:  loadAPI(),
		Poll: loadPoll(),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadClient reads only the API and polling settings. It never requires
// database or cache configuration.
func LoadClient() (*ClientConfig, error) {
	cfg := &ClientConfig{
		API:  loadAPI(),
		Poll: loadPoll(),
	}
	if err := validateAPI(cfg.API); err != nil {
		return nil, err
	}
	if err := validatePoll(cfg.Poll); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadAPI() APIConfig {
	return APIConfig{
		BaseURL: strings.TrimRight(envString("NILETRACE_API_URL", defaultAPIBaseURL), "/"),
		Token:   os.Getenv("NILETRACE_TOKEN"),
		Timeout: envDuration("NILETRACE_API_TIMEOUT", 30*time.Second),
		MaxRPS:  envInt("NILETRACE_API_MAX_RPS", 0),
	}
}

func loadPoll() PollConfig {
	return PollConfig{
		Interval:    envDurationMillis("NILETRACE_POLL_INTERVAL_MS", 2000*time.Millisecond),
		MaxAttempts: envInt("NILETRACE_POLL_MAX_ATTEMPTS", 150),
		Enabled:     envBool("NILETRACE_POLL_ENABLED", true),
	}
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("NILETRACE_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	if err := validateAPI(c.API); err != nil {
		return err
	}
	return validatePoll(c.Poll)
}

func validateAPI(c APIConfig) error {
	if c.BaseURL == "" {
		return fmt.Errorf("NILETRACE_API_URL is required")
	}
	if !strings.HasPrefix(c.BaseURL, "http://") && !strings.HasPrefix(c.BaseURL, "https://") {
		return fmt.Errorf("NILETRACE_API_URL must start with http:// or https://, got %q", c.BaseURL)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("NILETRACE_API_TIMEOUT must be positive, got %s", c.Timeout)
	}
	if c.MaxRPS < 0 {
		return fmt.Errorf("NILETRACE_API_MAX_RPS must not be negative, got %d", c.MaxRPS)
	}
	return nil
}

func validatePoll(c PollConfig) error {
	if c.Interval <= 0 {
		return fmt.Errorf("NILETRACE_POLL_INTERVAL_MS must be positive, got %s", c.Interval)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("NILETRACE_POLL_MAX_ATTEMPTS must be at least 1, got %d", c.MaxAttempts)
	}
	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envDurationMillis(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	ms, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(ms) * time.Millisecond
}
