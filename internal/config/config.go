// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/JakeFAU/gallito-crawler/internal/crawler"
	"github.com/JakeFAU/gallito-crawler/internal/feed"
	notify "github.com/JakeFAU/gallito-crawler/internal/notify/pubsub"
	"github.com/JakeFAU/gallito-crawler/internal/storage"
	"github.com/JakeFAU/gallito-crawler/internal/store/postgres"
)

// DefaultFeedPath is the feed file written when feed.path is not set.
const DefaultFeedPath = "properties_gallito.jl"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Crawler  crawler.Config  `mapstructure:"crawler"`
	Feed     feed.Config     `mapstructure:"feed"`
	Storage  storage.Config  `mapstructure:"storage"`
	Database postgres.Config `mapstructure:"database"`
	PubSub   notify.Config   `mapstructure:"pubsub"`
	Metrics  MetricsConfig   `mapstructure:"metrics"`
	Schedule ScheduleConfig  `mapstructure:"schedule"`
	Logging  LoggingConfig   `mapstructure:"logging"`
}

// MetricsConfig controls the optional Prometheus endpoint.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// ScheduleConfig holds the cron expression used by the schedule command.
type ScheduleConfig struct {
	Cron string `mapstructure:"cron"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment. A .env file in the working
// directory is loaded first when present.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindEnv(v); err != nil {
		return Config{}, err
	}

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
	crawl := crawler.DefaultConfig()
	v.SetDefault("crawler.seeds", crawl.Seeds)
	v.SetDefault("crawler.pagination_patterns", crawl.PaginationPatterns)
	v.SetDefault("crawler.listing_pattern", crawl.ListingPattern)
	v.SetDefault("crawler.allowed_domains", crawl.AllowedDomains)
	v.SetDefault("crawler.user_agent", crawl.UserAgent)
	v.SetDefault("crawler.parallelism", crawl.Parallelism)
	v.SetDefault("crawler.delay", crawl.Delay)
	v.SetDefault("crawler.random_delay", crawl.RandomDelay)
	v.SetDefault("crawler.request_timeout", crawl.RequestTimeout)
	v.SetDefault("crawler.max_retries", crawl.MaxRetries)
	v.SetDefault("crawler.respect_robots", crawl.RespectRobots)
	v.SetDefault("feed.path", DefaultFeedPath)
	v.SetDefault("feed.overwrite", false)
	v.SetDefault("storage.provider", "azure")
	v.SetDefault("storage.azure.connection_string", "")
	v.SetDefault("storage.azure.container", "")
	v.SetDefault("storage.gcs.bucket", "")
	v.SetDefault("storage.local.base_dir", "")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.table", postgres.DefaultTable)
	v.SetDefault("database.ensure_schema", false)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "")
	v.SetDefault("metrics.addr", "")
	v.SetDefault("schedule.cron", "@daily")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
}

// bindEnv accepts the unprefixed Azure variable names used by existing
// deployments alongside the CRAWLER_ ones.
func bindEnv(v *viper.Viper) error {
	bindings := map[string][]string{
		"storage.azure.connection_string": {"CRAWLER_STORAGE_AZURE_CONNECTION_STRING", "AZURE_STORAGE_CONNECTION_STRING"},
		"storage.azure.container":         {"CRAWLER_STORAGE_AZURE_CONTAINER", "AZURE_CONTAINER_NAME"},
	}
	for key, envs := range bindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return fmt.Errorf("bind %s: %w", key, err)
		}
	}
	return nil
}

// Validate enforces required values and reasonable limits. Storage
// credentials are checked when the upload runs.
func (c Config) Validate() error {
	if err := c.Crawler.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(c.Feed.Path) == "" {
		return fmt.Errorf("feed.path must be set")
	}
	switch c.Storage.Provider {
	case "azure", "gcs", "local", "memory", "noop":
	default:
		return fmt.Errorf("storage.provider %q is not supported", c.Storage.Provider)
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.Topic == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic must be set together")
	}
	return nil
}
