// Package config provides configuration loading for the NPC relay.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ireland-samantha/npc-relay/internal/ratelimit"
)

// StoreBackend selects where conversation memory is kept.
type StoreBackend string

const (
	StoreFile   StoreBackend = "file"
	StoreMemory StoreBackend = "memory"
)

// Config holds all configuration for the relay.
type Config struct {
	// Backend settings
	AnthropicAPIKey  string
	AnthropicBaseURL string
	ModelName        string
	Temperature      float64
	MaxTokens        int64
	BackendTimeout   time.Duration

	// HTTP settings
	Port     int
	APIToken string

	// Storage settings
	StoreBackend   StoreBackend
	MemoryPath     string
	PrepromptsPath string
	MemoryTTL      time.Duration

	// Conversation settings
	SummaryThreshold int

	// Rate limits, e.g. "200 per day;50 per hour"
	RateLimitDefault  string
	RateLimitEndpoint string

	// Optional settings
	CleanupInterval time.Duration
	MetricsEnabled  bool
	LogLevel        string
}

// Load loads configuration from environment variables. Values in the
// .env file named by ENV_FILE (default ".env") are used when present;
// real environment variables take precedence.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	// Set defaults
	v.SetDefault("ENV_FILE", ".env")
	v.SetDefault("MODEL_NAME", "claude-3-5-haiku-latest")
	v.SetDefault("TEMPERATURE", 0.1)
	v.SetDefault("MAX_TOKENS", 1024)
	v.SetDefault("BACKEND_TIMEOUT", "0s")
	v.SetDefault("PORT", 5000)
	v.SetDefault("STORE_BACKEND", string(StoreFile))
	v.SetDefault("MEMORY_PATH", "./memory")
	v.SetDefault("PREPROMPTS_PATH", "./preprompts")
	v.SetDefault("MEMORY_TTL", "0s")
	v.SetDefault("SUMMARY_THRESHOLD", 600)
	v.SetDefault("RATE_LIMIT_DEFAULT", "200 per day;50 per hour")
	v.SetDefault("RATE_LIMIT_ENDPOINT", "8 per minute")
	v.SetDefault("CLEANUP_INTERVAL", "1h")
	v.SetDefault("METRICS_ENABLED", true)
	v.SetDefault("LOG_LEVEL", "info")

	if envFile := v.GetString("ENV_FILE"); envFile != "" {
		if err := readEnvFile(v, envFile); err != nil {
			return nil, err
		}
	}

	cfg := &Config{
		AnthropicAPIKey:   v.GetString("ANTHROPIC_API_KEY"),
		AnthropicBaseURL:  v.GetString("ANTHROPIC_BASE_URL"),
		ModelName:         v.GetString("MODEL_NAME"),
		Temperature:       v.GetFloat64("TEMPERATURE"),
		MaxTokens:         v.GetInt64("MAX_TOKENS"),
		BackendTimeout:    v.GetDuration("BACKEND_TIMEOUT"),
		Port:              v.GetInt("PORT"),
		APIToken:          v.GetString("API_TOKEN"),
		StoreBackend:      StoreBackend(strings.ToLower(v.GetString("STORE_BACKEND"))),
		MemoryPath:        v.GetString("MEMORY_PATH"),
		PrepromptsPath:    v.GetString("PREPROMPTS_PATH"),
		MemoryTTL:         v.GetDuration("MEMORY_TTL"),
		SummaryThreshold:  v.GetInt("SUMMARY_THRESHOLD"),
		RateLimitDefault:  v.GetString("RATE_LIMIT_DEFAULT"),
		RateLimitEndpoint: v.GetString("RATE_LIMIT_ENDPOINT"),
		CleanupInterval:   v.GetDuration("CLEANUP_INTERVAL"),
		MetricsEnabled:    v.GetBool("METRICS_ENABLED"),
		LogLevel:          strings.ToLower(v.GetString("LOG_LEVEL")),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// readEnvFile merges a dotenv file below the environment. A missing file is
// not an error.
func readEnvFile(v *viper.Viper, path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}

	v.SetConfigFile(path)
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	return nil
}

// Validate checks that all required configuration is present.
func (c *Config) Validate() error {
	var errs []string

	// Required settings
	if c.AnthropicAPIKey == "" {
		errs = append(errs, "ANTHROPIC_API_KEY is required")
	}
	if c.APIToken == "" {
		errs = append(errs, "API_TOKEN is required")
	}

	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Sprintf("PORT %d is out of range", c.Port))
	}
	if c.Temperature < 0 || c.Temperature > 1 {
		errs = append(errs, fmt.Sprintf("TEMPERATURE %v must be between 0 and 1", c.Temperature))
	}
	if c.MaxTokens <= 0 {
		errs = append(errs, "MAX_TOKENS must be positive")
	}
	if c.SummaryThreshold < 0 {
		errs = append(errs, "SUMMARY_THRESHOLD must not be negative")
	}
	if c.BackendTimeout < 0 {
		errs = append(errs, "BACKEND_TIMEOUT must not be negative")
	}
	if c.MemoryTTL < 0 {
		errs = append(errs, "MEMORY_TTL must not be negative")
	}
	if c.CleanupInterval <= 0 {
		errs = append(errs, "CLEANUP_INTERVAL must be positive")
	}

	// Storage validation
	switch c.StoreBackend {
	case StoreFile:
		if c.MemoryPath == "" {
			errs = append(errs, "MEMORY_PATH is required with the file store")
		}
	case StoreMemory:
	default:
		errs = append(errs, fmt.Sprintf("invalid STORE_BACKEND %q, must be 'file' or 'memory'", c.StoreBackend))
	}
	if c.PrepromptsPath == "" {
		errs = append(errs, "PREPROMPTS_PATH is required")
	} else if info, err := os.Stat(c.PrepromptsPath); err == nil && !info.IsDir() {
		errs = append(errs, fmt.Sprintf("PREPROMPTS_PATH %q is not a directory", c.PrepromptsPath))
	}

	if _, err := ratelimit.ParseLimits(c.RateLimitDefault); err != nil {
		errs = append(errs, "RATE_LIMIT_DEFAULT: "+err.Error())
	}
	if _, err := ratelimit.ParseLimits(c.RateLimitEndpoint); err != nil {
		errs = append(errs, "RATE_LIMIT_ENDPOINT: "+err.Error())
	}

	if _, ok := logLevels[c.LogLevel]; !ok {
		errs = append(errs, fmt.Sprintf("invalid LOG_LEVEL %q", c.LogLevel))
	}

	if len(errs) > 0 {
		return errors.New("configuration errors:\n  - " + strings.Join(errs, "\n  - "))
	}

	return nil
}

var logLevels = map[string]slog.Level{
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

// SlogLevel returns the configured log level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	if level, ok := logLevels[c.LogLevel]; ok {
		return level
	}
	return slog.LevelInfo
}

// ListenAddr returns the address the HTTP server binds to.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf(":%d", c.Port)
}
