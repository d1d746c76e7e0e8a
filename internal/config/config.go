// Package config loads all configuration from the environment.
//
// Required: KALSHI_API_KEY, KALSHI_PRIVATE_KEY (PEM; "\n" escapes permitted).
// Everything else has a default. Placeholder values of the form
// "your_*_here" are rejected so a copied env template fails loudly.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Kalshi API endpoints selected by KALSHI_USE_DEMO.
const (
	demoBaseURL = "https://demo-api.kalshi.co"
	prodBaseURL = "https://api.elections.kalshi.com"
)

// ConfigError reports missing or malformed configuration. Configuration
// errors are fatal at startup.
type ConfigError struct {
	Key     string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Key, e.Message)
}

// KalshiConfig tunes the signed client and its retry/rate behavior.
type KalshiConfig struct {
	APIKey     string
	PrivateKey string // PEM-encoded RSA private key
	UseDemo    bool

	RateLimit         int           // max requests per second
	MaxAttempt        int           // attempts per request before surfacing
	BaseDelay         time.Duration // initial retry delay
	BackoffMultiplier float64
	MaxDelay          time.Duration // total retry budget per request
	OrderbookDepth    int
}

// BaseURL returns the API root for the configured environment.
func (c KalshiConfig) BaseURL() string {
	if c.UseDemo {
		return demoBaseURL
	}
	return prodBaseURL
}

// ObservabilityConfig locates the embedded store for observability records.
type ObservabilityConfig struct {
	DBPath string
}

// LoggingConfig selects slog handler level and format.
type LoggingConfig struct {
	Level  string
	Format string
}

// Config is the top-level application configuration.
type Config struct {
	Kalshi        KalshiConfig
	Observability ObservabilityConfig
	Logging       LoggingConfig
}

// Load reads configuration from the process environment and validates it.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	apiKey, err := requiredString(v, "KALSHI_API_KEY")
	if err != nil {
		return nil, err
	}
	privateKey, err := requiredString(v, "KALSHI_PRIVATE_KEY")
	if err != nil {
		return nil, err
	}
	if err := validatePEM(privateKey); err != nil {
		return nil, err
	}

	useDemo, err := envBool(v, "KALSHI_USE_DEMO", true)
	if err != nil {
		return nil, err
	}
	rateLimit, err := envInt(v, "KALSHI_RATE_LIMIT", 20)
	if err != nil {
		return nil, err
	}
	maxAttempt, err := envInt(v, "KALSHI_MAX_ATTEMPT", 5)
	if err != nil {
		return nil, err
	}
	baseDelay, err := envSeconds(v, "KALSHI_BASE_DELAY", 500*time.Millisecond)
	if err != nil {
		return nil, err
	}
	multiplier, err := envFloat(v, "KALSHI_BACKOFF_MULTIPLIER", 2.0)
	if err != nil {
		return nil, err
	}
	maxDelay, err := envSeconds(v, "KALSHI_MAX_DELAY", 30*time.Second)
	if err != nil {
		return nil, err
	}
	depth, err := envInt(v, "KALSHI_ORDERBOOK_DEPTH", 10)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Kalshi: KalshiConfig{
			APIKey:            apiKey,
			PrivateKey:        privateKey,
			UseDemo:           useDemo,
			RateLimit:         rateLimit,
			MaxAttempt:        maxAttempt,
			BaseDelay:         baseDelay,
			BackoffMultiplier: multiplier,
			MaxDelay:          maxDelay,
			OrderbookDepth:    depth,
		},
		Observability: ObservabilityConfig{
			DBPath: stringOr(v, "OBSERVABILITY_DB_PATH", "observability.db"),
		},
		Logging: LoggingConfig{
			Level:  stringOr(v, "LOG_LEVEL", "info"),
			Format: stringOr(v, "LOG_FORMAT", "text"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges beyond presence/parse errors.
func (c *Config) Validate() error {
	if c.Kalshi.RateLimit <= 0 {
		return &ConfigError{Key: "KALSHI_RATE_LIMIT", Message: "must be > 0"}
	}
	if c.Kalshi.MaxAttempt <= 0 {
		return &ConfigError{Key: "KALSHI_MAX_ATTEMPT", Message: "must be > 0"}
	}
	if c.Kalshi.BaseDelay <= 0 {
		return &ConfigError{Key: "KALSHI_BASE_DELAY", Message: "must be > 0"}
	}
	if c.Kalshi.BackoffMultiplier < 1 {
		return &ConfigError{Key: "KALSHI_BACKOFF_MULTIPLIER", Message: "must be >= 1"}
	}
	if c.Kalshi.MaxDelay <= 0 {
		return &ConfigError{Key: "KALSHI_MAX_DELAY", Message: "must be > 0"}
	}
	if c.Kalshi.OrderbookDepth <= 0 {
		return &ConfigError{Key: "KALSHI_ORDERBOOK_DEPTH", Message: "must be > 0"}
	}
	return nil
}

func requiredString(v *viper.Viper, key string) (string, error) {
	val := strings.TrimSpace(v.GetString(key))
	if val == "" {
		return "", &ConfigError{Key: key, Message: "is required"}
	}
	if strings.HasPrefix(val, "your_") && strings.HasSuffix(val, "_here") {
		return "", &ConfigError{Key: key, Message: "is still set to the placeholder value"}
	}
	return val, nil
}

func validatePEM(key string) error {
	trimmed := strings.TrimSpace(key)
	if !strings.HasPrefix(trimmed, "-----BEGIN") || !strings.HasSuffix(trimmed, "-----") {
		return &ConfigError{
			Key:     "KALSHI_PRIVATE_KEY",
			Message: `must be PEM ("-----BEGIN ... -----"); use \n escapes for line breaks`,
		}
	}
	return nil
}

func stringOr(v *viper.Viper, key, def string) string {
	if val := strings.TrimSpace(v.GetString(key)); val != "" {
		return val
	}
	return def
}

// Numeric and boolean envs are parsed with strconv rather than viper's
// coercion so malformed values fail at startup instead of silently
// becoming zero values.

func envBool(v *viper.Viper, key string, def bool) (bool, error) {
	raw := strings.TrimSpace(v.GetString(key))
	if raw == "" {
		return def, nil
	}
	switch strings.ToLower(raw) {
	case "true", "1", "yes", "y", "on":
		return true, nil
	case "false", "0", "no", "n", "off":
		return false, nil
	}
	return false, &ConfigError{Key: key, Message: fmt.Sprintf("must be a boolean, got %q", raw)}
}

func envInt(v *viper.Viper, key string, def int) (int, error) {
	raw := strings.TrimSpace(v.GetString(key))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &ConfigError{Key: key, Message: fmt.Sprintf("must be an integer, got %q", raw)}
	}
	return n, nil
}

func envFloat(v *viper.Viper, key string, def float64) (float64, error) {
	raw := strings.TrimSpace(v.GetString(key))
	if raw == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, &ConfigError{Key: key, Message: fmt.Sprintf("must be a number, got %q", raw)}
	}
	return f, nil
}

// envSeconds reads a float number of seconds into a time.Duration.
func envSeconds(v *viper.Viper, key string, def time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(v.GetString(key))
	if raw == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, &ConfigError{Key: key, Message: fmt.Sprintf("must be seconds as a number, got %q", raw)}
	}
	return time.Duration(f * float64(time.Second)), nil
}
