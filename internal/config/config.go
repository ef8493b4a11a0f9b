// Package config defines service configuration structures and loading hooks.
package config

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Backend and feed selectors.
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"

	FeedMemory = "memory"
	FeedNATS   = "nats"

	AuthHeader = "header"
	AuthJWT    = "jwt"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// Store selects the vote and standings backend: memory, sqlite or postgres.
	Store string `koanf:"store"`
	// DatabaseURL is the DSN for sqlite (a file path) or postgres.
	DatabaseURL string `koanf:"database_url"`

	// Feed selects the change feed: memory or nats.
	Feed string `koanf:"feed"`
	// Partitions is the number of feed partitions and so of workers.
	Partitions int `koanf:"partitions"`
	// PartitionBuffer bounds each in-memory partition.
	PartitionBuffer int `koanf:"partition_buffer"`

	NATSURL           string `koanf:"nats_url"`
	NATSStream        string `koanf:"nats_stream"`
	NATSSubjectPrefix string `koanf:"nats_subject_prefix"`
	NATSConsumer      string `koanf:"nats_consumer"`
	// MaxDeliver caps JetStream deliveries per record; -1 is unlimited.
	MaxDeliver int `koanf:"max_deliver"`

	RelayIntervalMS int `koanf:"relay_interval_ms"`
	RelayBatchSize  int `koanf:"relay_batch_size"`
	// RelayCursor names the saved relay position; it is independent of the feed.
	RelayCursor string `koanf:"relay_cursor"`

	// DedupeSize bounds the processor's redelivery filter; 0 is unbounded.
	DedupeSize int `koanf:"dedupe_size"`

	StoreTimeoutMS       int `koanf:"store_timeout_ms"`
	IntakeMaxAttempts    int `koanf:"intake_max_attempts"`
	ProcessorMaxAttempts int `koanf:"processor_max_attempts"`
	RetryInitialMS       int `koanf:"retry_initial_ms"`
	RetryMaxMS           int `koanf:"retry_max_ms"`

	BaselineRating  float64 `koanf:"baseline_rating"`
	RatingFlatBonus float64 `koanf:"rating_flat_bonus"`
	RatingLogisticK float64 `koanf:"rating_logistic_k"`

	DefaultLeaderboardLimit int `koanf:"default_leaderboard_limit"`
	// MaxLeaderboardLimit caps the limit query parameter.
	MaxLeaderboardLimit int `koanf:"max_leaderboard_limit"`
	// LeaderboardCacheSize enables the page cache when positive.
	LeaderboardCacheSize  int `koanf:"leaderboard_cache_size"`
	LeaderboardCacheTTLMS int `koanf:"leaderboard_cache_ttl_ms"`

	// AuthMode is header (trusted gateway) or jwt.
	AuthMode   string `koanf:"auth_mode"`
	AuthHeader string `koanf:"auth_header"`
	JWTSecret  string `koanf:"jwt_secret"`
	JWTIssuer  string `koanf:"jwt_issuer"`

	CORSOrigins []string `koanf:"cors_origins"`
}

// New creates a Config with defaults.
func New(_ context.Context) *Config {
	return &Config{
		LogLevel:                "info",
		Addr:                    ":9080",
		Store:                   StoreMemory,
		Feed:                    FeedMemory,
		Partitions:              8,
		PartitionBuffer:         10_000,
		NATSURL:                 "nats://127.0.0.1:4222",
		NATSStream:              "VERSUS_VOTES",
		NATSSubjectPrefix:       "versus.votes",
		NATSConsumer:            "versus-rating",
		MaxDeliver:              -1,
		RelayIntervalMS:         250,
		RelayBatchSize:          256,
		RelayCursor:             "rating-feed",
		DedupeSize:              50_000,
		StoreTimeoutMS:          2000,
		IntakeMaxAttempts:       3,
		ProcessorMaxAttempts:    5,
		RetryInitialMS:          50,
		RetryMaxMS:              2000,
		BaselineRating:          400,
		RatingFlatBonus:         32,
		RatingLogisticK:         16,
		DefaultLeaderboardLimit: 100,
		MaxLeaderboardLimit:     1000,
		LeaderboardCacheSize:    0,
		LeaderboardCacheTTLMS:   1000,
		AuthMode:                AuthHeader,
		AuthHeader:              "X-Voter-Id",
		CORSOrigins:             []string{"*"},
	}
}

// Validate reports the first inconsistent setting.
func (c *Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Addr) == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.Store != StoreMemory && c.Store != StoreSQLite && c.Store != StorePostgres:
		return fmt.Errorf("%w: unknown store %q", ErrInvalidConfig, c.Store)
	case c.Store != StoreMemory && strings.TrimSpace(c.DatabaseURL) == "":
		return fmt.Errorf("%w: %w: database_url for %s", ErrInvalidConfig, ErrMissingSetting, c.Store)
	case c.Feed != FeedMemory && c.Feed != FeedNATS:
		return fmt.Errorf("%w: unknown feed %q", ErrInvalidConfig, c.Feed)
	case c.Feed == FeedNATS && strings.TrimSpace(c.NATSURL) == "":
		return fmt.Errorf("%w: %w: nats_url for the nats feed", ErrInvalidConfig, ErrMissingSetting)
	case strings.TrimSpace(c.RelayCursor) == "":
		return fmt.Errorf("%w: relay_cursor must not be empty", ErrInvalidConfig)
	case c.Partitions < 1:
		return fmt.Errorf("%w: partitions must be positive", ErrInvalidConfig)
	case c.MaxDeliver == 0 || c.MaxDeliver < -1:
		return fmt.Errorf("%w: max_deliver must be -1 or positive", ErrInvalidConfig)
	case c.BaselineRating <= 0 || c.RatingFlatBonus <= 0 || c.RatingLogisticK <= 0:
		return fmt.Errorf("%w: rating parameters must be positive", ErrInvalidConfig)
	case c.MaxLeaderboardLimit < 1 || c.DefaultLeaderboardLimit < 1:
		return fmt.Errorf("%w: leaderboard limits must be positive", ErrInvalidConfig)
	case c.DefaultLeaderboardLimit > c.MaxLeaderboardLimit:
		return fmt.Errorf("%w: default_leaderboard_limit exceeds max_leaderboard_limit", ErrInvalidConfig)
	case c.AuthMode != AuthHeader && c.AuthMode != AuthJWT:
		return fmt.Errorf("%w: unknown auth_mode %q", ErrInvalidConfig, c.AuthMode)
	case c.AuthMode == AuthJWT && c.JWTSecret == "":
		return fmt.Errorf("%w: %w: jwt_secret for jwt auth", ErrInvalidConfig, ErrMissingSetting)
	}
	return nil
}

// Millis converts a millisecond setting to a duration.
func Millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
