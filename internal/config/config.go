// Package config loads and validates process configuration for the
// gateway multiplexer. Configuration is read once at startup and
// treated as immutable for the life of the process.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds every runtime setting the multiplexer needs.
//
// Tags:
//
//	env: environment variable name
//	envDefault: default value if unset
type Config struct {
	ListenAddr string `env:"GATEWAYMUX_LISTEN_ADDR" envDefault:":7878"`

	Token string `env:"GATEWAYMUX_TOKEN"`

	ShardCount int `env:"GATEWAYMUX_SHARD_COUNT" envDefault:"1"`
	ShardStart int `env:"GATEWAYMUX_SHARD_START" envDefault:"0"`
	ShardEnd   int `env:"GATEWAYMUX_SHARD_END" envDefault:"0"`

	Backpressure int `env:"GATEWAYMUX_BACKPRESSURE" envDefault:"100"`

	GuildBurstRate  float64 `env:"GATEWAYMUX_GUILD_BURST_RATE" envDefault:"500"`
	GuildBurstBurst int     `env:"GATEWAYMUX_GUILD_BURST_BURST" envDefault:"50"`

	NatsURL string `env:"GATEWAYMUX_NATS_URL" envDefault:""`

	LogLevel  string `env:"GATEWAYMUX_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"GATEWAYMUX_LOG_FORMAT" envDefault:"json"`

	MetricsInterval time.Duration `env:"GATEWAYMUX_METRICS_INTERVAL" envDefault:"15s"`
}

// Load reads configuration from environment variables, optionally
// seeded by a ".env" file in the working directory. Environment
// variables always win over the file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		// Absence of a .env file is not an error: production deployments
		// supply configuration directly via the environment.
		fmt.Println("gatewaymux: no .env file found, using environment variables only")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if cfg.ShardEnd == 0 {
		cfg.ShardEnd = cfg.ShardCount
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Validate checks invariants that cannot be expressed as simple defaults.
func (c *Config) Validate() error {
	if c.Token == "" {
		return fmt.Errorf("GATEWAYMUX_TOKEN is required")
	}
	if c.ShardCount <= 0 {
		return fmt.Errorf("GATEWAYMUX_SHARD_COUNT must be > 0, got %d", c.ShardCount)
	}
	if c.ShardStart < 0 || c.ShardStart >= c.ShardCount {
		return fmt.Errorf("GATEWAYMUX_SHARD_START out of range [0,%d): %d", c.ShardCount, c.ShardStart)
	}
	if c.ShardEnd <= c.ShardStart || c.ShardEnd > c.ShardCount {
		return fmt.Errorf("GATEWAYMUX_SHARD_END must be in (%d,%d], got %d", c.ShardStart, c.ShardCount, c.ShardEnd)
	}
	if c.Backpressure <= 0 {
		return fmt.Errorf("GATEWAYMUX_BACKPRESSURE must be > 0, got %d", c.Backpressure)
	}
	if c.GuildBurstRate <= 0 {
		return fmt.Errorf("GATEWAYMUX_GUILD_BURST_RATE must be > 0, got %f", c.GuildBurstRate)
	}
	if c.GuildBurstBurst <= 0 {
		return fmt.Errorf("GATEWAYMUX_GUILD_BURST_BURST must be > 0, got %d", c.GuildBurstBurst)
	}
	return nil
}

// ZerologLevel maps LogLevel to a zerolog.Level, defaulting to Info
// on an unrecognized value.
func (c *Config) ZerologLevel() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}
