// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/JakeFAU/hkjc-results-crawler/internal/dispatcher"
	"github.com/JakeFAU/hkjc-results-crawler/internal/source"
)

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

// Export backends.
const (
	BackendLocal = "local"
	BackendGCS   = "gcs"
)

// Publisher backends.
const (
	PublisherRedis  = "redis"
	PublisherPubSub = "pubsub"
)

// MaxRaceCeiling caps crawler.race_ceiling; no meeting runs more races than this.
const MaxRaceCeiling = dispatcher.MaxRaceCeiling

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Source    SourceConfig    `mapstructure:"source"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	Storage   StorageConfig   `mapstructure:"storage"`
	DB        DBConfig        `mapstructure:"db"`
	Export    ExportConfig    `mapstructure:"export"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Publisher PublisherConfig `mapstructure:"publisher"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Report    ReportConfig    `mapstructure:"report"`
	Progress  ProgressConfig  `mapstructure:"progress"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// SourceConfig points the crawler at the results site.
type SourceConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	Timezone       string `mapstructure:"timezone"`
}

// CrawlerConfig governs the per-date fan-out.
type CrawlerConfig struct {
	RaceCeiling    int `mapstructure:"race_ceiling"`
	WorkersPerDate int `mapstructure:"workers_per_date"`
}

// StorageConfig selects the race store implementation.
type StorageConfig struct {
	Driver string `mapstructure:"driver"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// ExportConfig controls the JSON interchange export.
type ExportConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Backend   string `mapstructure:"backend"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
	Path      string `mapstructure:"path"`
	Checksum  bool   `mapstructure:"checksum"`
}

// RedisConfig enables the stream publisher when Addr is set.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Stream   string `mapstructure:"stream"`
	MaxLen   int64  `mapstructure:"max_len"`
}

// PublisherConfig selects where new records are announced.
type PublisherConfig struct {
	Backend string `mapstructure:"backend"`
}

// PubSubConfig points the Pub/Sub publisher at a topic.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// ReportConfig configures the PDF renderer.
type ReportConfig struct {
	FontPath string `mapstructure:"font_path"`
}

// ProgressConfig controls the crawl progress hub.
type ProgressConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	BufferSize      int  `mapstructure:"buffer_size"`
	MaxBatchEvents  int  `mapstructure:"max_batch_events"`
	MaxBatchWaitMS  int  `mapstructure:"max_batch_wait_ms"`
	SinkTimeoutSecs int  `mapstructure:"sink_timeout_seconds"`
}

// Load builds a Config from .env, disk and environment.
func Load(path string) (Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetEnvPrefix("HKJC")
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

// loadDotEnv copies variables from path into the environment. A missing file
// is not an error; variables already set win.
func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
	v.SetDefault("source.base_url", source.DefaultBaseURL)
	v.SetDefault("source.user_agent", "hkjc-results-crawler/0.1")
	v.SetDefault("source.timeout_seconds", 15)
	v.SetDefault("source.timezone", "Asia/Hong_Kong")
	v.SetDefault("crawler.race_ceiling", 15)
	v.SetDefault("crawler.workers_per_date", 10)
	v.SetDefault("storage.driver", DriverMemory)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.table", "race_results")
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("export.enabled", false)
	v.SetDefault("export.backend", BackendLocal)
	v.SetDefault("export.base_dir", "data")
	v.SetDefault("export.gcs_bucket", "")
	v.SetDefault("export.prefix", "")
	v.SetDefault("export.path", "racing_data.json")
	v.SetDefault("export.checksum", true)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.stream", "hkjc.race_results")
	v.SetDefault("redis.max_len", 100000)
	v.SetDefault("publisher.backend", PublisherRedis)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "hkjc-race-results")
	v.SetDefault("report.font_path", "")
	v.SetDefault("progress.enabled", false)
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.max_batch_events", 100)
	v.SetDefault("progress.max_batch_wait_ms", 500)
	v.SetDefault("progress.sink_timeout_seconds", 5)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Source.BaseURL == "" {
		return fmt.Errorf("source.base_url must be set")
	}
	if c.Source.TimeoutSeconds <= 0 {
		return fmt.Errorf("source.timeout_seconds must be > 0")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.Crawler.RaceCeiling <= 0 || c.Crawler.RaceCeiling > MaxRaceCeiling {
		return fmt.Errorf("crawler.race_ceiling must be between 1 and %d", MaxRaceCeiling)
	}
	if c.Crawler.WorkersPerDate <= 0 {
		return fmt.Errorf("crawler.workers_per_date must be > 0")
	}
	switch c.Storage.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn must be set when storage.driver is %q", DriverPostgres)
		}
	default:
		return fmt.Errorf("storage.driver %q is not supported", c.Storage.Driver)
	}
	if c.Export.Enabled {
		switch c.Export.Backend {
		case BackendLocal:
			if c.Export.BaseDir == "" {
				return fmt.Errorf("export.base_dir must be set for the local backend")
			}
		case BackendGCS:
			if c.Export.GCSBucket == "" {
				return fmt.Errorf("export.gcs_bucket must be set for the gcs backend")
			}
		default:
			return fmt.Errorf("export.backend %q is not supported", c.Export.Backend)
		}
		if c.Export.Path == "" {
			return fmt.Errorf("export.path must be set when export is enabled")
		}
	}
	switch c.Publisher.Backend {
	case "", PublisherRedis:
		if c.Redis.Addr != "" && c.Redis.Stream == "" {
			return fmt.Errorf("redis.stream must be set when redis.addr is set")
		}
	case PublisherPubSub:
		if c.PubSub.ProjectID == "" || c.PubSub.Topic == "" {
			return fmt.Errorf("pubsub.project_id and pubsub.topic must be set for the pubsub publisher")
		}
	default:
		return fmt.Errorf("publisher.backend %q is not supported", c.Publisher.Backend)
	}
	if c.Progress.BufferSize < 0 || c.Progress.MaxBatchEvents < 0 ||
		c.Progress.MaxBatchWaitMS < 0 || c.Progress.SinkTimeoutSecs < 0 {
		return fmt.Errorf("progress settings must be >= 0")
	}
	return nil
}

// Location resolves source.timezone, the zone "today" is judged in.
func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Source.Timezone)
	if err != nil {
		return nil, fmt.Errorf("source.timezone %q: %w", c.Source.Timezone, err)
	}
	return loc, nil
}

// ProgressWait converts progress.max_batch_wait_ms into a duration.
func (c Config) ProgressWait() time.Duration {
	return time.Duration(c.Progress.MaxBatchWaitMS) * time.Millisecond
}

// SourceTimeout converts source.timeout_seconds into a duration.
func (c Config) SourceTimeout() time.Duration {
	return time.Duration(c.Source.TimeoutSeconds) * time.Second
}
