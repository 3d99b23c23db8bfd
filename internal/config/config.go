// Package config loads and validates orderwatch configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Poll interval bounds enforced on any configured value.
const (
	MinPollInterval = 1 * time.Second
	MaxPollInterval = 10 * time.Second
)

// Config captures all client configuration knobs loaded via Viper.
// Configuration is read once at startup and immutable thereafter.
type Config struct {
	API     APIConfig     `mapstructure:"api"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Retry   RetryConfig   `mapstructure:"retry"`
	Poll    PollConfig    `mapstructure:"poll"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// APIConfig locates the job server.
type APIConfig struct {
	BaseURL string `mapstructure:"base_url"`
	Key     string `mapstructure:"key"`
}

// HTTPConfig bounds individual requests.
type HTTPConfig struct {
	TimeoutMs int `mapstructure:"timeout_ms"`
}

// RetryConfig governs the request coordinator's backoff behavior.
type RetryConfig struct {
	MaxAttempts   int `mapstructure:"max_attempts"`
	BackoffBaseMs int `mapstructure:"backoff_base_ms"`
}

// PollConfig governs the status poll loop.
type PollConfig struct {
	IntervalMs int `mapstructure:"interval_ms"`
	MaxTicks   int `mapstructure:"max_ticks"`
	JitterMs   int `mapstructure:"jitter_ms"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// MetricsConfig optionally exposes a Prometheus listener.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ORDERWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Registering the keys lets AutomaticEnv surface them through
	// Unmarshal even when no config file sets them.
	v.SetDefault("api.base_url", "")
	v.SetDefault("api.key", "")
	v.SetDefault("metrics.addr", "")
	v.SetDefault("http.timeout_ms", 30000)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.backoff_base_ms", 1000)
	v.SetDefault("poll.interval_ms", 2000)
	v.SetDefault("poll.max_ticks", 300)
	v.SetDefault("poll.jitter_ms", 0)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("api.base_url is required")
	}
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("api.base_url must be a valid URL")
	}
	if c.HTTP.TimeoutMs <= 0 {
		return fmt.Errorf("http.timeout_ms must be > 0")
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be > 0")
	}
	if c.Retry.BackoffBaseMs < 0 {
		return fmt.Errorf("retry.backoff_base_ms must be >= 0")
	}
	if c.Poll.MaxTicks <= 0 {
		return fmt.Errorf("poll.max_ticks must be > 0")
	}
	return nil
}

// RequestTimeout converts the HTTP timeout config into a duration.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutMs) * time.Millisecond
}

// BackoffBase converts the retry base delay config into a duration.
func (c Config) BackoffBase() time.Duration {
	return time.Duration(c.Retry.BackoffBaseMs) * time.Millisecond
}

// PollInterval returns the configured tick interval clamped to
// [MinPollInterval, MaxPollInterval].
func (c Config) PollInterval() time.Duration {
	d := time.Duration(c.Poll.IntervalMs) * time.Millisecond
	if d < MinPollInterval {
		return MinPollInterval
	}
	if d > MaxPollInterval {
		return MaxPollInterval
	}
	return d
}

// PollJitter returns the configured tick jitter, zero when disabled.
func (c Config) PollJitter() time.Duration {
	if c.Poll.JitterMs <= 0 {
		return 0
	}
	return time.Duration(c.Poll.JitterMs) * time.Millisecond
}
