// Package config defines service configuration structures and loading hooks.
//
// Conventions:
//   - New returns a Config populated with defaults.
//   - Load layers a YAML file and TRENDCAST_* env vars over the defaults.
//   - Validate checks struct tags and cross-field rules; failures wrap ErrInvalidConfig.
package config

import (
	"time"
)

// Source kinds.
const (
	SourceKindStatic = "static"
	SourceKindHTTP   = "http"
)

// Store drivers.
const (
	StoreMemory   = "memory"
	StoreBadger   = "badger"
	StorePostgres = "postgres"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level" validate:"omitempty,oneof=debug info warn warning error"`
	// LogFormat selects the handler: text or json.
	LogFormat string `koanf:"log_format" validate:"omitempty,oneof=text json"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr" validate:"required"`

	// PollInterval is the time between scan cycles.
	PollInterval time.Duration `koanf:"poll_interval" validate:"gt=0"`
	// FetchWindow is the lookback passed to every adapter.
	FetchWindow time.Duration `koanf:"fetch_window" validate:"gt=0"`
	// FetchTimeout is the default per-source deadline.
	FetchTimeout time.Duration `koanf:"fetch_timeout" validate:"gt=0"`
	// GenerationTimeout bounds each variant's backend call.
	GenerationTimeout time.Duration `koanf:"generation_timeout" validate:"gt=0"`

	VariantCount      int    `koanf:"variant_count" validate:"min=1,max=5"`
	TotalKnownSources int    `koanf:"total_known_sources" validate:"min=1"`
	DefaultStyleID    string `koanf:"default_style_id"`

	// HistoryRetention is how long a source:content_id pair counts as seen.
	// Zero disables cross-cycle tracking.
	HistoryRetention time.Duration `koanf:"history_retention" validate:"gte=0"`
	HistorySize      int           `koanf:"history_size" validate:"min=1"`
	// RedisAddr switches the signal history to Redis when set.
	RedisAddr string `koanf:"redis_addr"`

	StoreDriver string `koanf:"store_driver" validate:"oneof=memory badger postgres"`
	BadgerPath  string `koanf:"badger_path"`
	PostgresDSN string `koanf:"postgres_dsn"`

	DeliveryWorkers   int `koanf:"delivery_workers" validate:"min=1"`
	DeliveryQueueSize int `koanf:"delivery_queue_size" validate:"min=1"`

	Sources []Source `koanf:"sources" validate:"dive"`
}

// Source describes one platform adapter and its delivery rule.
type Source struct {
	ID              string        `koanf:"id" validate:"required"`
	Kind            string        `koanf:"kind" validate:"oneof=static http"`
	URL             string        `koanf:"url" validate:"required_if=Kind http"`
	Fixture         string        `koanf:"fixture"` // JSON file of raw payloads for a static source
	ReachMultiplier float64       `koanf:"reach_multiplier" validate:"gte=0"`
	RateLimit       int           `koanf:"rate_limit" validate:"gte=0"`
	Timeout         time.Duration `koanf:"timeout" validate:"gte=0"`
	MaxDurationSec  int           `koanf:"max_duration_sec" validate:"gte=0"`
	HookWithinSec   int           `koanf:"hook_within_sec" validate:"gte=0"`
	AspectRatio     string        `koanf:"aspect_ratio"`
	Tags            []string      `koanf:"tags"`
}

// New creates a Config with defaults.
func New() *Config {
	return &Config{
		LogLevel:          "info",
		LogFormat:         "text",
		Addr:              ":9080",
		PollInterval:      5 * time.Minute,
		FetchWindow:       24 * time.Hour,
		FetchTimeout:      10 * time.Second,
		GenerationTimeout: 30 * time.Second,
		VariantCount:      3,
		TotalKnownSources: 7,
		DefaultStyleID:    "default",
		HistoryRetention:  6 * time.Hour,
		HistorySize:       100_000,
		StoreDriver:       StoreMemory,
		BadgerPath:        "data/trendcast",
		DeliveryWorkers:   4,
		DeliveryQueueSize: 1024,
	}
}

// EffectiveTimeout returns the source's own deadline or the fallback.
func (s Source) EffectiveTimeout(fallback time.Duration) time.Duration {
	if s.Timeout > 0 {
		return s.Timeout
	}
	return fallback
}
