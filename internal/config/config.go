// Package config loads and validates ingestion configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/newswire-ingest/internal/source/rss"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Dedup     DedupConfig     `mapstructure:"dedup"`
	Storage   StorageConfig   `mapstructure:"storage"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Serve     ServeConfig     `mapstructure:"serve"`
	Sources   []rss.Config    `mapstructure:"sources"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// HTTPConfig configures fetcher timeout, retry, and fallback behavior.
type HTTPConfig struct {
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MaxRetries     int    `mapstructure:"max_retries"`
	BackoffBaseMs  int    `mapstructure:"backoff_base_ms"`
	BackoffCapMs   int    `mapstructure:"backoff_cap_ms"`
	UserAgent      string `mapstructure:"user_agent"`
	MaxBodyBytes   int64  `mapstructure:"max_body_bytes"`
}

// RateOverride tunes the token bucket for one destination domain.
type RateOverride struct {
	Domain     string  `mapstructure:"domain"`
	Rate       float64 `mapstructure:"rate"`
	PerSeconds float64 `mapstructure:"per_seconds"`
	Burst      float64 `mapstructure:"burst"`
}

// RateLimitConfig sets the default pacing plus per-domain overrides.
type RateLimitConfig struct {
	Rate       float64        `mapstructure:"rate"`
	PerSeconds float64        `mapstructure:"per_seconds"`
	Burst      float64        `mapstructure:"burst"`
	Overrides  []RateOverride `mapstructure:"overrides"`
}

// SchedulerConfig bounds simultaneous source jobs.
type SchedulerConfig struct {
	MaxConcurrency int `mapstructure:"max_concurrency"`
}

// DedupConfig names the persistence scope for cross-run title state.
type DedupConfig struct {
	Scope string `mapstructure:"scope"`
}

// StorageConfig selects and configures the record store backend.
type StorageConfig struct {
	// Provider is one of "memory", "local", "postgres", "gcs".
	Provider string `mapstructure:"provider"`

	LocalDir string `mapstructure:"local_dir"`

	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`

	GCSBucket string `mapstructure:"gcs_bucket"`
	GCSPrefix string `mapstructure:"gcs_prefix"`
}

// PubSubConfig holds metadata for job-completion notifications. Empty
// project/topic disables the sink.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// ServeConfig drives recurring batch runs in serve mode.
type ServeConfig struct {
	// Schedule is a cron expression, e.g. "*/15 * * * *".
	Schedule string `mapstructure:"schedule"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("INGEST")
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
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.max_retries", 3)
	v.SetDefault("http.backoff_base_ms", 1000)
	v.SetDefault("http.backoff_cap_ms", 300000)
	v.SetDefault("http.max_body_bytes", 5*1024*1024)
	v.SetDefault("rate_limit.rate", 1)
	v.SetDefault("rate_limit.per_seconds", 2)
	v.SetDefault("rate_limit.burst", 1)
	v.SetDefault("scheduler.max_concurrency", 5)
	v.SetDefault("dedup.scope", "runs-window")
	v.SetDefault("storage.provider", "local")
	v.SetDefault("storage.local_dir", "./data/dedup")
	v.SetDefault("storage.table", "titles")
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.port", 9090)
	v.SetDefault("serve.schedule", "*/15 * * * *")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxRetries < 0 {
		return fmt.Errorf("http.max_retries must be >= 0")
	}
	if c.RateLimit.Rate <= 0 || c.RateLimit.PerSeconds <= 0 || c.RateLimit.Burst <= 0 {
		return fmt.Errorf("rate_limit rate, per_seconds, and burst must all be > 0")
	}
	for _, o := range c.RateLimit.Overrides {
		if o.Domain == "" {
			return fmt.Errorf("rate_limit.overrides entries require a domain")
		}
		if o.Rate <= 0 || o.PerSeconds <= 0 || o.Burst <= 0 {
			return fmt.Errorf("rate_limit override for %q must have rate, per_seconds, burst > 0", o.Domain)
		}
	}
	if c.Scheduler.MaxConcurrency <= 0 {
		return fmt.Errorf("scheduler.max_concurrency must be > 0")
	}
	if c.Dedup.Scope == "" {
		return fmt.Errorf("dedup.scope is required")
	}
	switch c.Storage.Provider {
	case "memory":
	case "local":
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir is required for the local provider")
		}
	case "postgres":
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required for the postgres provider")
		}
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket is required for the gcs provider")
		}
	default:
		return fmt.Errorf("unknown storage.provider %q", c.Storage.Provider)
	}
	if c.Metrics.Enabled && c.Metrics.Port <= 0 {
		return fmt.Errorf("metrics.port must be > 0 when metrics are enabled")
	}
	seen := make(map[string]struct{}, len(c.Sources))
	for _, src := range c.Sources {
		if src.Name == "" || src.FeedURL == "" {
			return fmt.Errorf("sources entries require name and feed_url")
		}
		if _, dup := seen[src.Name]; dup {
			return fmt.Errorf("duplicate source name %q", src.Name)
		}
		seen[src.Name] = struct{}{}
	}
	return nil
}

// FetchTimeout converts the HTTP timeout into a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// BackoffBase converts the configured backoff base into a duration.
func (c Config) BackoffBase() time.Duration {
	return time.Duration(c.HTTP.BackoffBaseMs) * time.Millisecond
}

// BackoffCap converts the configured backoff ceiling into a duration.
func (c Config) BackoffCap() time.Duration {
	return time.Duration(c.HTTP.BackoffCapMs) * time.Millisecond
}
