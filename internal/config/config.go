// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/JakeFAU/bizdirectory-crawler/internal/crawler"
	collyfetcher "github.com/JakeFAU/bizdirectory-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/bizdirectory-crawler/internal/scheduler"
	"github.com/spf13/viper"
)

// Storage and archive backends accepted by StorageConfig.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"

	ArchiveNone   = "none"
	ArchiveMemory = "memory"
	ArchiveLocal  = "local"
	ArchiveGCS    = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig         `mapstructure:"server"`
	Auth      AuthConfig           `mapstructure:"auth"`
	Logging   LoggingConfig        `mapstructure:"logging"`
	HTTP      HTTPConfig           `mapstructure:"http"`
	Crawler   CrawlerConfig        `mapstructure:"crawler"`
	Scheduler SchedulerConfig      `mapstructure:"scheduler"`
	Storage   StorageConfig        `mapstructure:"storage"`
	DB        DBConfig             `mapstructure:"db"`
	PubSub    PubSubConfig         `mapstructure:"pubsub"`
	Targets   []crawler.TargetSpec `mapstructure:"targets"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features. Level is a zap level name;
// empty keeps the mode's default.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// HTTPConfig configures the page fetcher.
type HTTPConfig struct {
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MaxBodyBytes   int    `mapstructure:"max_body_bytes"`
	// RatePerSecond caps requests per host; zero disables the limiter.
	RatePerSecond float64 `mapstructure:"rate_per_second"`
	RateBurst     int     `mapstructure:"rate_burst"`
}

// CrawlerConfig governs the crawl runner.
type CrawlerConfig struct {
	BIIDAttempts int  `mapstructure:"biid_attempts"`
	ArchivePages bool `mapstructure:"archive_pages"`
}

// SchedulerConfig tunes the background loop.
type SchedulerConfig struct {
	Autostart    bool          `mapstructure:"autostart"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	PollCron     string        `mapstructure:"poll_cron"`
	ErrorBackoff time.Duration `mapstructure:"error_backoff"`
}

// StorageConfig selects the business store and the page archive.
type StorageConfig struct {
	Backend    string `mapstructure:"backend"`
	SQLitePath string `mapstructure:"sqlite_path"`
	Archive    string `mapstructure:"archive"`
	ArchiveDir string `mapstructure:"archive_dir"`
	GCSBucket  string `mapstructure:"gcs_bucket"`
	Prefix     string `mapstructure:"prefix"`
}

// DBConfig controls access to Postgres.
type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// PubSubConfig holds metadata for run-summary notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// Enabled reports whether run summaries should be published.
func (p PubSubConfig) Enabled() bool {
	return p.ProjectID != "" && p.TopicName != ""
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("BIZCRAWLER")
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
	if !v.IsSet("targets") {
		cfg.Targets = DefaultTargets()
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// setDefaults registers every key, since keys without a default are invisible
// to AutomaticEnv during Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("http.user_agent", collyfetcher.DefaultUserAgent)
	v.SetDefault("http.timeout_seconds", int(collyfetcher.DefaultTimeout/time.Second))
	v.SetDefault("http.max_body_bytes", 10<<20)
	v.SetDefault("http.rate_per_second", 0.0)
	v.SetDefault("http.rate_burst", 1)
	v.SetDefault("crawler.biid_attempts", crawler.DefaultBIIDAttempts)
	v.SetDefault("crawler.archive_pages", false)
	v.SetDefault("scheduler.autostart", false)
	v.SetDefault("scheduler.poll_interval", scheduler.DefaultPollInterval)
	v.SetDefault("scheduler.poll_cron", "")
	v.SetDefault("scheduler.error_backoff", scheduler.DefaultErrorBackoff)
	v.SetDefault("storage.backend", BackendMemory)
	v.SetDefault("storage.sqlite_path", "bizdirectory.db")
	v.SetDefault("storage.archive", ArchiveNone)
	v.SetDefault("storage.archive_dir", "")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.prefix", "raw")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.max_conn_lifetime", 30*time.Minute)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.RatePerSecond < 0 {
		return fmt.Errorf("http.rate_per_second must be >= 0")
	}
	if c.Crawler.BIIDAttempts <= 0 {
		return fmt.Errorf("crawler.biid_attempts must be > 0")
	}
	if _, err := scheduler.NewSchedule(c.Scheduler.PollInterval, c.Scheduler.PollCron); err != nil {
		return fmt.Errorf("scheduler.poll_cron: %w", err)
	}

	switch c.Storage.Backend {
	case BackendMemory:
	case BackendSQLite:
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("storage.sqlite_path is required for the sqlite backend")
		}
	case BackendPostgres:
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not one of memory, sqlite, postgres", c.Storage.Backend)
	}

	switch c.Storage.Archive {
	case ArchiveNone, ArchiveMemory:
	case ArchiveLocal:
		if c.Storage.ArchiveDir == "" {
			return fmt.Errorf("storage.archive_dir is required for the local archive")
		}
	case ArchiveGCS:
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket is required for the gcs archive")
		}
	default:
		return fmt.Errorf("storage.archive %q is not one of none, memory, local, gcs", c.Storage.Archive)
	}
	if c.Crawler.ArchivePages && c.Storage.Archive == ArchiveNone {
		return fmt.Errorf("crawler.archive_pages needs storage.archive to be set")
	}

	if (c.PubSub.ProjectID == "") != (c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set together")
	}

	if _, err := c.BuildTargets(); err != nil {
		return err
	}
	return nil
}

// Timeout returns the per-request fetch timeout.
func (c Config) Timeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// BuildTargets converts the configured specs into crawl targets.
func (c Config) BuildTargets() ([]crawler.CrawlTarget, error) {
	seen := make(map[string]struct{}, len(c.Targets))
	out := make([]crawler.CrawlTarget, 0, len(c.Targets))
	for i, spec := range c.Targets {
		target, err := spec.Build()
		if err != nil {
			return nil, fmt.Errorf("targets[%d]: %w", i, err)
		}
		if _, dup := seen[target.Name]; dup {
			return nil, fmt.Errorf("targets[%d]: %w: %q", i, crawler.ErrDuplicateTarget, target.Name)
		}
		seen[target.Name] = struct{}{}
		out = append(out, target)
	}
	return out, nil
}
