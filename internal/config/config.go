package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	TMDB      TMDBConfig      `yaml:"tmdb" mapstructure:"tmdb"`
	Blob      BlobConfig      `yaml:"blob" mapstructure:"blob"`
	Assets    AssetsConfig    `yaml:"assets" mapstructure:"assets"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Ingest    IngestConfig    `yaml:"ingest" mapstructure:"ingest"`
	Refresh   RefreshConfig   `yaml:"refresh" mapstructure:"refresh"`
	Discovery DiscoveryConfig `yaml:"discovery" mapstructure:"discovery"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Events    EventsConfig    `yaml:"events" mapstructure:"events"`
	Monitor   MonitorConfig   `yaml:"monitor" mapstructure:"monitor"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// TMDBConfig holds metadata provider credentials and pacing.
type TMDBConfig struct {
	APIKey              string  `yaml:"api_key" mapstructure:"api_key"`
	BaseURL             string  `yaml:"base_url" mapstructure:"base_url"`
	ImageBaseURL        string  `yaml:"image_base_url" mapstructure:"image_base_url"`
	Language            string  `yaml:"language" mapstructure:"language"`
	Region              string  `yaml:"region" mapstructure:"region"`
	CallDelayMs         int     `yaml:"call_delay_ms" mapstructure:"call_delay_ms"`
	RateLimit           float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	Burst               int     `yaml:"burst" mapstructure:"burst"`
	TimeoutSecs         int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RetryAttempts       int     `yaml:"retry_attempts" mapstructure:"retry_attempts"`
	RetryBaseMs         int     `yaml:"retry_base_ms" mapstructure:"retry_base_ms"`
	BreakerThreshold    int     `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerCooldownSecs int     `yaml:"breaker_cooldown_secs" mapstructure:"breaker_cooldown_secs"`
}

// CallDelay is the pause between sequential provider calls within one
// ingestion.
func (c TMDBConfig) CallDelay() time.Duration {
	return time.Duration(c.CallDelayMs) * time.Millisecond
}

// BlobConfig configures object storage for materialized assets.
type BlobConfig struct {
	Root          string `yaml:"root" mapstructure:"root"`
	PublicBaseURL string `yaml:"public_base_url" mapstructure:"public_base_url"`
}

// AssetsConfig configures asset downloads.
type AssetsConfig struct {
	DownloadAttempts    int `yaml:"download_attempts" mapstructure:"download_attempts"`
	DownloadTimeoutSecs int `yaml:"download_timeout_secs" mapstructure:"download_timeout_secs"`
	PlaceholderMinBytes int `yaml:"placeholder_min_bytes" mapstructure:"placeholder_min_bytes"`
	MaxPeoplePhotos     int `yaml:"max_people_photos" mapstructure:"max_people_photos"`
	MaxStills           int `yaml:"max_stills" mapstructure:"max_stills"`
}

// AnthropicConfig holds Anthropic API settings. An empty key disables
// generated loglines.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// IngestConfig configures the ingestion orchestrator.
type IngestConfig struct {
	StaleAfterHours    int `yaml:"stale_after_hours" mapstructure:"stale_after_hours"`
	PollIntervalMs     int `yaml:"poll_interval_ms" mapstructure:"poll_interval_ms"`
	PollTimeoutSecs    int `yaml:"poll_timeout_secs" mapstructure:"poll_timeout_secs"`
	LeaseMins          int `yaml:"lease_mins" mapstructure:"lease_mins"`
	RelatedLimit       int `yaml:"related_limit" mapstructure:"related_limit"`
	RelatedConcurrency int `yaml:"related_concurrency" mapstructure:"related_concurrency"`
	RelatedTimeoutSecs int `yaml:"related_timeout_secs" mapstructure:"related_timeout_secs"`
}

// StaleAfter is the maximum age of a complete work before it is refreshed.
func (c IngestConfig) StaleAfter() time.Duration {
	return time.Duration(c.StaleAfterHours) * time.Hour
}

// RefreshConfig configures the refresh queue worker and staleness sweep.
type RefreshConfig struct {
	BatchSize         int `yaml:"batch_size" mapstructure:"batch_size"`
	MaxRetries        int `yaml:"max_retries" mapstructure:"max_retries"`
	ItemDelayMs       int `yaml:"item_delay_ms" mapstructure:"item_delay_ms"`
	OnDemandPriority  int `yaml:"on_demand_priority" mapstructure:"on_demand_priority"`
	IntervalSecs      int `yaml:"interval_secs" mapstructure:"interval_secs"`
	SweepIntervalMins int `yaml:"sweep_interval_mins" mapstructure:"sweep_interval_mins"`
	SweepLimit        int `yaml:"sweep_limit" mapstructure:"sweep_limit"`
}

// DiscoveryConfig configures catalog discovery.
type DiscoveryConfig struct {
	Source            string `yaml:"source" mapstructure:"source"`
	MaxNew            int    `yaml:"max_new" mapstructure:"max_new"`
	PageSize          int    `yaml:"page_size" mapstructure:"page_size"`
	MaxPagesPerSource int    `yaml:"max_pages_per_source" mapstructure:"max_pages_per_source"`
	ItemDelayMs       int    `yaml:"item_delay_ms" mapstructure:"item_delay_ms"`
	IntervalMins      int    `yaml:"interval_mins" mapstructure:"interval_mins"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// EventsConfig configures card-updated notifications. An empty URL disables
// publishing.
type EventsConfig struct {
	URL        string `yaml:"url" mapstructure:"url"`
	Exchange   string `yaml:"exchange" mapstructure:"exchange"`
	RoutingKey string `yaml:"routing_key" mapstructure:"routing_key"`
	Queue      string `yaml:"queue" mapstructure:"queue"`
}

// MonitorConfig configures the background health checker. An empty webhook
// URL keeps alerts in the log only.
type MonitorConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	DeadLetterThreshold  int     `yaml:"dead_letter_threshold" mapstructure:"dead_letter_threshold"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level      string `yaml:"level" mapstructure:"level"`
	Format     string `yaml:"format" mapstructure:"format"`
	File       string `yaml:"file" mapstructure:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" mapstructure:"max_age_days"`
}

// Load reads configuration from .env, config.yaml and the environment.
func Load() (*Config, error) {
	// A missing .env is fine; existing env vars are never overridden.
	_ = godotenv.Load()

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("CINECARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "cinecard.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("tmdb.api_key", "")
	v.SetDefault("tmdb.base_url", "https://api.themoviedb.org/3")
	v.SetDefault("tmdb.image_base_url", "https://image.tmdb.org/t/p")
	v.SetDefault("tmdb.language", "en-US")
	v.SetDefault("tmdb.region", "US")
	v.SetDefault("tmdb.call_delay_ms", 250)
	v.SetDefault("tmdb.rate_limit", 20.0)
	v.SetDefault("tmdb.burst", 5)
	v.SetDefault("tmdb.timeout_secs", 15)
	v.SetDefault("tmdb.retry_attempts", 3)
	v.SetDefault("tmdb.retry_base_ms", 500)
	v.SetDefault("tmdb.breaker_threshold", 5)
	v.SetDefault("tmdb.breaker_cooldown_secs", 30)
	v.SetDefault("blob.root", "./data/assets")
	v.SetDefault("blob.public_base_url", "http://localhost:8080/assets")
	v.SetDefault("assets.download_attempts", 3)
	v.SetDefault("assets.download_timeout_secs", 20)
	v.SetDefault("assets.placeholder_min_bytes", 2048)
	v.SetDefault("assets.max_people_photos", 15)
	v.SetDefault("assets.max_stills", 5)
	v.SetDefault("anthropic.key", "")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 120)
	v.SetDefault("ingest.stale_after_hours", 168)
	v.SetDefault("ingest.poll_interval_ms", 2000)
	v.SetDefault("ingest.poll_timeout_secs", 30)
	v.SetDefault("ingest.lease_mins", 10)
	v.SetDefault("ingest.related_limit", 5)
	v.SetDefault("ingest.related_concurrency", 3)
	v.SetDefault("ingest.related_timeout_secs", 120)
	v.SetDefault("refresh.batch_size", 10)
	v.SetDefault("refresh.max_retries", 3)
	v.SetDefault("refresh.item_delay_ms", 1000)
	v.SetDefault("refresh.on_demand_priority", 100)
	v.SetDefault("refresh.interval_secs", 60)
	v.SetDefault("refresh.sweep_interval_mins", 60)
	v.SetDefault("refresh.sweep_limit", 200)
	v.SetDefault("discovery.source", "all")
	v.SetDefault("discovery.max_new", 20)
	v.SetDefault("discovery.page_size", 20)
	v.SetDefault("discovery.max_pages_per_source", 5)
	v.SetDefault("discovery.item_delay_ms", 2000)
	v.SetDefault("discovery.interval_mins", 0)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("events.url", "")
	v.SetDefault("events.exchange", "cinecard.cards")
	v.SetDefault("events.routing_key", "card.updated")
	v.SetDefault("events.queue", "")
	v.SetDefault("monitor.webhook_url", "")
	v.SetDefault("monitor.check_interval_secs", 300)
	v.SetDefault("monitor.lookback_window_hours", 24)
	v.SetDefault("monitor.failure_rate_threshold", 0.25)
	v.SetDefault("monitor.dead_letter_threshold", 10)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 28)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings required by a command mode and reports every
// problem at once. Modes: "store" (database only), "ingest" (database and
// provider), "serve" (ingest plus server settings).
func (c *Config) Validate(mode string) error {
	var errs []string

	checkStore := func() {
		switch c.Store.Driver {
		case "postgres", "sqlite":
		default:
			errs = append(errs, fmt.Sprintf("store.driver %q is not supported", c.Store.Driver))
		}
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required")
		}
	}
	checkIngest := func() {
		if c.TMDB.APIKey == "" {
			errs = append(errs, "tmdb.api_key is required")
		}
		if c.Ingest.StaleAfterHours <= 0 {
			errs = append(errs, "ingest.stale_after_hours must be > 0")
		}
		if c.Refresh.BatchSize <= 0 {
			errs = append(errs, "refresh.batch_size must be > 0")
		}
		if c.Refresh.MaxRetries <= 0 {
			errs = append(errs, "refresh.max_retries must be > 0")
		}
		if c.Discovery.PageSize <= 0 {
			errs = append(errs, "discovery.page_size must be > 0")
		}
	}

	switch mode {
	case "store":
		checkStore()
	case "ingest":
		checkStore()
		checkIngest()
	case "serve":
		checkStore()
		checkIngest()
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger. When cfg.File is set, log
// entries are also written as JSON to a size-rotated file.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	var opts []zap.Option
	if cfg.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
		fileCore := zapcore.NewCore(
			zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
			zapcore.AddSync(rotator),
			zapCfg.Level,
		)
		opts = append(opts, zap.WrapCore(func(c zapcore.Core) zapcore.Core {
			return zapcore.NewTee(c, fileCore)
		}))
	}

	logger, err := zapCfg.Build(opts...)
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
