// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/hn-archive-crawler/internal/storage/local"
)

// DateLayout is the layout of frontier.end_date.
const DateLayout = "2006-01-02"

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Logging  LoggingConfig  `mapstructure:"logging"`
	Site     SiteConfig     `mapstructure:"site"`
	Frontier FrontierConfig `mapstructure:"frontier"`
	Fetch    FetchConfig    `mapstructure:"fetch"`
	Crawl    CrawlConfig    `mapstructure:"crawl"`
	Buffer   BufferConfig   `mapstructure:"buffer"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Manifest ManifestConfig `mapstructure:"manifest"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
}

// LoggingConfig toggles zap development features and level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// SiteConfig selects the origin being archived.
type SiteConfig struct {
	Origin    string `mapstructure:"origin"`
	UserAgent string `mapstructure:"user_agent"`
}

// FrontierConfig controls which listing pages are walked.
type FrontierConfig struct {
	Mode     string `mapstructure:"mode"`
	EndDate  string `mapstructure:"end_date"`
	Days     int    `mapstructure:"days"`
	MaxPages int    `mapstructure:"max_pages"`
	DelayMs  int    `mapstructure:"delay_ms"`
}

// FetchConfig configures the HTTP clients and their retry policy.
type FetchConfig struct {
	TimeoutSeconds          int   `mapstructure:"timeout_seconds"`
	MaxAttempts             int   `mapstructure:"max_attempts"`
	ListingMaxAttempts      int   `mapstructure:"listing_max_attempts"`
	BaseDelayMs             int   `mapstructure:"base_delay_ms"`
	RetryStatuses           []int `mapstructure:"retry_statuses"`
	ListingCooldownStatuses []int `mapstructure:"listing_cooldown_statuses"`
	CooldownMultiplier      int   `mapstructure:"cooldown_multiplier"`
	TransportMultiplier     int   `mapstructure:"transport_multiplier"`
	MaxConnsPerHost         int   `mapstructure:"max_conns_per_host"`
}

// CrawlConfig governs the detail pool and termination.
type CrawlConfig struct {
	Workers            int `mapstructure:"workers"`
	EmptyPageThreshold int `mapstructure:"empty_page_threshold"`
	MaxListingPages    int `mapstructure:"max_listing_pages"`
}

// BufferConfig sets segment flush thresholds.
type BufferConfig struct {
	MaxRecords    int `mapstructure:"max_records"`
	MaxAgeSeconds int `mapstructure:"max_age_seconds"`
}

// StorageConfig selects where segments are written.
type StorageConfig struct {
	Backend   string       `mapstructure:"backend"`
	Prefix    string       `mapstructure:"prefix"`
	Local     local.Config `mapstructure:"local"`
	GCSBucket string       `mapstructure:"gcs_bucket"`
}

// ManifestConfig selects where segment metadata rows are recorded.
type ManifestConfig struct {
	Backend    string         `mapstructure:"backend"`
	Postgres   PostgresConfig `mapstructure:"postgres"`
	SQLitePath string         `mapstructure:"sqlite_path"`
}

// PostgresConfig controls access to the manifest database.
type PostgresConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// PubSubConfig holds metadata for segment notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// MetricsConfig controls the optional metrics listener.
type MetricsConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ProjectID   string  `mapstructure:"project_id"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
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
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("site.origin", "https://news.ycombinator.com")
	v.SetDefault("site.user_agent",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 13_0) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/118.0 Safari/537.36")
	v.SetDefault("frontier.mode", "archive")
	v.SetDefault("frontier.end_date", "")
	v.SetDefault("frontier.days", 200)
	v.SetDefault("frontier.max_pages", 0)
	v.SetDefault("frontier.delay_ms", 500)
	v.SetDefault("fetch.timeout_seconds", 15)
	v.SetDefault("fetch.max_attempts", 3)
	v.SetDefault("fetch.listing_max_attempts", 5)
	v.SetDefault("fetch.base_delay_ms", 500)
	v.SetDefault("fetch.retry_statuses", []int{429, 500, 502, 503, 504})
	v.SetDefault("fetch.listing_cooldown_statuses", []int{403})
	v.SetDefault("fetch.cooldown_multiplier", 4)
	v.SetDefault("fetch.transport_multiplier", 2)
	v.SetDefault("fetch.max_conns_per_host", 64)
	v.SetDefault("crawl.workers", 16)
	v.SetDefault("crawl.empty_page_threshold", 3)
	v.SetDefault("crawl.max_listing_pages", 10000)
	v.SetDefault("buffer.max_records", 10000)
	v.SetDefault("buffer.max_age_seconds", 60)
	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.prefix", "segments")
	v.SetDefault("storage.local.base_dir", "./data")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("manifest.backend", "")
	v.SetDefault("manifest.postgres.dsn", "")
	v.SetDefault("manifest.postgres.table", "crawl_segments")
	v.SetDefault("manifest.postgres.max_conns", 4)
	v.SetDefault("manifest.sqlite_path", "")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("metrics.listen_addr", "")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.project_id", "")
	v.SetDefault("tracing.sample_ratio", 1.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	var errs []error
	switch c.Frontier.Mode {
	case "archive":
		if c.Frontier.Days <= 0 {
			errs = append(errs, errors.New("frontier.days must be > 0 in archive mode"))
		}
	case "paged":
	default:
		errs = append(errs, fmt.Errorf("frontier.mode %q must be archive or paged", c.Frontier.Mode))
	}
	if _, err := c.EndDate(); err != nil {
		errs = append(errs, err)
	}
	if c.Frontier.DelayMs < 0 {
		errs = append(errs, errors.New("frontier.delay_ms must be >= 0"))
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		errs = append(errs, errors.New("fetch.timeout_seconds must be > 0"))
	}
	if c.Fetch.MaxAttempts < 1 || c.Fetch.MaxAttempts > 10 {
		errs = append(errs, errors.New("fetch.max_attempts must be between 1 and 10"))
	}
	if c.Fetch.ListingMaxAttempts < 1 || c.Fetch.ListingMaxAttempts > 10 {
		errs = append(errs, errors.New("fetch.listing_max_attempts must be between 1 and 10"))
	}
	if c.Crawl.Workers <= 0 {
		errs = append(errs, errors.New("crawl.workers must be > 0"))
	}
	if c.Crawl.EmptyPageThreshold <= 0 {
		errs = append(errs, errors.New("crawl.empty_page_threshold must be > 0"))
	}
	if c.Buffer.MaxRecords <= 0 {
		errs = append(errs, errors.New("buffer.max_records must be > 0"))
	}
	if c.Buffer.MaxAgeSeconds <= 0 {
		errs = append(errs, errors.New("buffer.max_age_seconds must be > 0"))
	}
	switch c.Storage.Backend {
	case "local":
		if strings.TrimSpace(c.Storage.Local.BaseDir) == "" {
			errs = append(errs, errors.New("storage.local.base_dir is required for the local backend"))
		}
	case "gcs":
		if c.Storage.GCSBucket == "" {
			errs = append(errs, errors.New("storage.gcs_bucket is required for the gcs backend"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("storage.backend %q must be local, gcs or memory", c.Storage.Backend))
	}
	switch c.Manifest.Backend {
	case "":
	case "postgres":
		if c.Manifest.Postgres.DSN == "" {
			errs = append(errs, errors.New("manifest.postgres.dsn is required for the postgres manifest"))
		}
	case "sqlite":
		if c.Manifest.SQLitePath == "" {
			errs = append(errs, errors.New("manifest.sqlite_path is required for the sqlite manifest"))
		}
	default:
		errs = append(errs, fmt.Errorf("manifest.backend %q must be empty, postgres or sqlite", c.Manifest.Backend))
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		errs = append(errs, errors.New("pubsub.project_id is required when pubsub.topic_name is set"))
	}
	return errors.Join(errs...)
}

// EndDate parses frontier.end_date. The zero time means today.
func (c Config) EndDate() (time.Time, error) {
	if strings.TrimSpace(c.Frontier.EndDate) == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(DateLayout, c.Frontier.EndDate)
	if err != nil {
		return time.Time{}, fmt.Errorf("frontier.end_date: %w", err)
	}
	return t, nil
}

// ListingDelay is the politeness delay between listing fetches.
func (c Config) ListingDelay() time.Duration {
	return time.Duration(c.Frontier.DelayMs) * time.Millisecond
}

// FetchTimeout is the per-request timeout.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutSeconds) * time.Second
}

// BaseDelay is the retry backoff unit.
func (c Config) BaseDelay() time.Duration {
	return time.Duration(c.Fetch.BaseDelayMs) * time.Millisecond
}

// BufferMaxAge is the age flush threshold.
func (c Config) BufferMaxAge() time.Duration {
	return time.Duration(c.Buffer.MaxAgeSeconds) * time.Second
}
