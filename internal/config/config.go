// Package config loads and validates harvester configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/careerscope/jobharvester/internal/scrape"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Scraper   ScraperConfig   `mapstructure:"scraper"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Dedupe    DedupeConfig    `mapstructure:"dedupe"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Targets   []scrape.Target `mapstructure:"targets"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// ScraperConfig governs the page loop and outbound HTTP behavior.
type ScraperConfig struct {
	UserAgent          string  `mapstructure:"user_agent"`
	RespectRobots      bool    `mapstructure:"respect_robots"`
	PageTimeoutSeconds int     `mapstructure:"page_timeout_seconds"`
	MaxRateWaits       int     `mapstructure:"max_rate_waits"`
	GlobalQPS          float64 `mapstructure:"global_qps"`
	ProxyURL           string  `mapstructure:"proxy_url"`
	ArchivePages       bool    `mapstructure:"archive_pages"`
	RetryAttempts      int     `mapstructure:"retry_attempts"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	MaxParallel     int  `mapstructure:"max_parallel"`
	NavTimeoutSec   int  `mapstructure:"nav_timeout_seconds"`
	PromotionThresh int  `mapstructure:"promotion_threshold"`
}

// StorageConfig selects the listing store and blob store backends.
type StorageConfig struct {
	Backend      string `mapstructure:"backend"`
	DSN          string `mapstructure:"dsn"`
	MaxConns     int    `mapstructure:"max_conns"`
	BlobBackend  string `mapstructure:"blob_backend"`
	LocalBaseDir string `mapstructure:"local_base_dir"`
	GCSBucket    string `mapstructure:"gcs_bucket"`
	Prefix       string `mapstructure:"prefix"`
}

// DedupeConfig selects where seen listing URLs are tracked.
type DedupeConfig struct {
	Backend  string `mapstructure:"backend"`
	RedisURL string `mapstructure:"redis_url"`
	TTLHours int    `mapstructure:"ttl_hours"`
}

// PubSubConfig holds metadata for job completion events.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// SchedulerConfig controls the recurring sweep over active targets.
type SchedulerConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	Spec     string   `mapstructure:"spec"`
	Keywords []string `mapstructure:"keywords"`
	Location string   `mapstructure:"location"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HARVESTER")
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
	v.SetDefault("server.port", 8080)
	v.SetDefault("scraper.user_agent", "jobharvester-bot/0.1 (+https://careerscope.example.com/bot)")
	v.SetDefault("scraper.respect_robots", true)
	v.SetDefault("scraper.page_timeout_seconds", 30)
	v.SetDefault("scraper.max_rate_waits", 90)
	v.SetDefault("scraper.global_qps", 2.0)
	v.SetDefault("scraper.retry_attempts", 3)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 45)
	v.SetDefault("headless.promotion_threshold", 60)
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.blob_backend", "memory")
	v.SetDefault("storage.prefix", "pages")
	v.SetDefault("dedupe.backend", "memory")
	v.SetDefault("dedupe.ttl_hours", 168)
	v.SetDefault("scheduler.spec", "0 */6 * * *")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Scraper.PageTimeoutSeconds <= 0 {
		return fmt.Errorf("scraper.page_timeout_seconds must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	switch c.Storage.Backend {
	case "memory":
	case "postgres":
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn must be set for the postgres backend")
		}
	default:
		return fmt.Errorf("storage.backend must be one of memory, postgres")
	}
	switch c.Storage.BlobBackend {
	case "memory":
	case "local":
		if c.Storage.LocalBaseDir == "" {
			return fmt.Errorf("storage.local_base_dir must be set for the local blob backend")
		}
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs blob backend")
		}
	default:
		return fmt.Errorf("storage.blob_backend must be one of memory, local, gcs")
	}
	switch c.Dedupe.Backend {
	case "memory":
	case "redis":
		if c.Dedupe.RedisURL == "" {
			return fmt.Errorf("dedupe.redis_url must be set for the redis backend")
		}
	default:
		return fmt.Errorf("dedupe.backend must be one of memory, redis")
	}
	if c.PubSub.Enabled && (c.PubSub.ProjectID == "" || c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set when pubsub is enabled")
	}
	return nil
}

// PageTimeout is the per-page fetch budget as a duration.
func (c Config) PageTimeout() time.Duration {
	return time.Duration(c.Scraper.PageTimeoutSeconds) * time.Second
}

// DedupeTTL is how long a seen listing URL stays deduplicated.
func (c Config) DedupeTTL() time.Duration {
	return time.Duration(c.Dedupe.TTLHours) * time.Hour
}
