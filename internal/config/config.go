// Package config defines service configuration structures and loading hooks.
package config

import (
	"fmt"
	"math"
	"time"

	"github.com/okian/duel/internal/domain/model"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
	StoreStash    = "stash"
)

// ItemConfig is one catalogue entry seeded into stores that accept seeding.
type ItemConfig struct {
	ID        string   `koanf:"id"`
	Name      string   `koanf:"name"`
	ImagePath string   `koanf:"image_path"`
	Rating    *float64 `koanf:"rating"` // nil starts at DefaultRating
}

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFormat is text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// KFactor is the maximum rating swing per duel.
	KFactor float64 `koanf:"k_factor"`
	// PopulationPageSize is how many items one List call returns.
	PopulationPageSize int `koanf:"population_page_size"`
	// DefaultRating is substituted for items that have never been rated.
	DefaultRating float64 `koanf:"default_rating"`
	// PopulationFilter is an optional CEL predicate over item.
	PopulationFilter string `koanf:"population_filter"`

	// Store selects the rating backend: memory, redis, postgres or stash.
	Store         string `koanf:"store"`
	RedisAddr     string `koanf:"redis_addr"`
	RedisDB       int    `koanf:"redis_db"`
	RedisPrefix   string `koanf:"redis_prefix"`
	PostgresDSN   string `koanf:"postgres_dsn"`
	PostgresTable string `koanf:"postgres_table"`
	StashURL      string `koanf:"stash_url"`
	StashAPIKey   string `koanf:"stash_api_key"`

	// NATSURL enables publishing rating changes to NATS when set.
	NATSURL     string `koanf:"nats_url"`
	NATSSubject string `koanf:"nats_subject"`

	// EventQueueSize bounds the in-memory rating-change queue.
	EventQueueSize int `koanf:"event_queue_size"`
	// WorkerCount sets the number of publisher workers.
	WorkerCount int `koanf:"worker_count"`

	// SessionTTL evicts sessions idle for longer.
	SessionTTL time.Duration `koanf:"session_ttl"`
	// VoteDedupeSize is how many voted duel ids are remembered.
	VoteDedupeSize int `koanf:"vote_dedupe_size"`
	// MaxLeaderboardLimit caps GET /leaderboard?limit.
	MaxLeaderboardLimit int `koanf:"max_leaderboard_limit"`

	TracingEnabled    bool    `koanf:"tracing_enabled"`
	OTLPEndpoint      string  `koanf:"otlp_endpoint"`
	TracingSampleRate float64 `koanf:"tracing_sample_rate"`

	// Items is the catalogue loaded at startup.
	Items []ItemConfig `koanf:"items"`
}

// New creates a Config with defaults.
func New() *Config {
	return &Config{
		LogLevel:            "info",
		LogFormat:           "text",
		Addr:                ":9080",
		KFactor:             32,
		PopulationPageSize:  500,
		DefaultRating:       model.DefaultRating,
		Store:               StoreMemory,
		RedisAddr:           "localhost:6379",
		RedisPrefix:         "duel",
		PostgresTable:       "duel_items",
		NATSSubject:         "duel.rating.changed",
		EventQueueSize:      1024,
		WorkerCount:         2,
		SessionTTL:          30 * time.Minute,
		VoteDedupeSize:      50_000,
		MaxLeaderboardLimit: 100,
		TracingSampleRate:   1,
	}
}

// Validate reports the first unusable setting.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.KFactor <= 0 || math.IsInf(c.KFactor, 0) || math.IsNaN(c.KFactor):
		return fmt.Errorf("%w: k_factor must be a positive number, got %v", ErrInvalidConfig, c.KFactor)
	case c.PopulationPageSize < 2:
		return fmt.Errorf("%w: population_page_size must be at least 2, got %d", ErrInvalidConfig, c.PopulationPageSize)
	case math.IsInf(c.DefaultRating, 0) || math.IsNaN(c.DefaultRating):
		return fmt.Errorf("%w: default_rating must be finite", ErrInvalidConfig)
	case c.SessionTTL <= 0:
		return fmt.Errorf("%w: session_ttl must be positive", ErrInvalidConfig)
	case c.MaxLeaderboardLimit < 1:
		return fmt.Errorf("%w: max_leaderboard_limit must be positive", ErrInvalidConfig)
	case c.TracingSampleRate < 0 || c.TracingSampleRate > 1:
		return fmt.Errorf("%w: tracing_sample_rate must be within [0,1]", ErrInvalidConfig)
	}

	switch c.Store {
	case StoreMemory:
	case StoreRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("%w: redis_addr is required for the redis store", ErrInvalidConfig)
		}
	case StorePostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("%w: postgres_dsn is required for the postgres store", ErrInvalidConfig)
		}
	case StoreStash:
		if c.StashURL == "" {
			return fmt.Errorf("%w: stash_url is required for the stash store", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown store %q", ErrInvalidConfig, c.Store)
	}

	seen := make(map[string]bool, len(c.Items))
	for i, it := range c.Items {
		if it.ID == "" {
			return fmt.Errorf("%w: items[%d] has no id", ErrInvalidConfig, i)
		}
		if seen[it.ID] {
			return fmt.Errorf("%w: duplicate item id %q", ErrInvalidConfig, it.ID)
		}
		seen[it.ID] = true
	}
	return nil
}

// Catalogue converts the configured items to domain items, substituting the
// default rating where none is given.
func (c *Config) Catalogue() []model.Item {
	out := make([]model.Item, 0, len(c.Items))
	for _, it := range c.Items {
		r := c.DefaultRating
		if it.Rating != nil {
			r = *it.Rating
		}
		name := it.Name
		if name == "" {
			name = it.ID
		}
		out = append(out, model.Item{ID: it.ID, Name: name, ImagePath: it.ImagePath, Rating: r})
	}
	return out
}
