// Package config loads runtime configuration from the environment.
package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

type Config struct {
	AppEnv      string `env:"APP_ENV" default:"development"`
	Port        string `env:"PORT" default:"8080"`
	DatabaseURL string `env:"DATABASE_URL"`
	RedisURL    string `env:"REDIS_URL"`
	LogLevel    string `env:"LOG_LEVEL" default:"info"`
	LogFormat   string `env:"LOG_FORMAT" default:"text"`

	// Actor runtime knobs. Defaults match the product behaviour; they are
	// env-tunable for load testing and staging.
	BroadcastInterval time.Duration `env:"BROADCAST_INTERVAL" default:"1s"`
	IdleTimeout       time.Duration `env:"IDLE_TIMEOUT" default:"5m"`
	ReaperInterval    time.Duration `env:"REAPER_INTERVAL" default:"60s"`
	AlertRetention    time.Duration `env:"ALERT_RETENTION" default:"1h"`
	MaxSessions       int           `env:"MAX_SESSIONS_PER_ACTOR" default:"50"`

	// Polling-style scoreboard feed. Disabled unless SCOREBOARD_URL is set.
	ScoreboardURL string        `env:"SCOREBOARD_URL"`
	PollInterval  time.Duration `env:"POLL_INTERVAL" default:"10s"`

	RateLimitPerSecond float64 `env:"RATE_LIMIT_PER_SECOND" default:"20"`
	RateLimitBurst     int     `env:"RATE_LIMIT_BURST" default:"40"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	required := map[string]string{
		"DATABASE_URL": cfg.DatabaseURL,
		"REDIS_URL":    cfg.RedisURL,
	}
	for name, value := range required {
		if value == "" {
			return fmt.Errorf("%s is required", name)
		}
	}

	if cfg.BroadcastInterval <= 0 {
		return fmt.Errorf("BROADCAST_INTERVAL must be positive")
	}
	if cfg.IdleTimeout <= 0 {
		return fmt.Errorf("IDLE_TIMEOUT must be positive")
	}
	if cfg.ReaperInterval <= 0 {
		return fmt.Errorf("REAPER_INTERVAL must be positive")
	}
	if cfg.AlertRetention <= 0 {
		return fmt.Errorf("ALERT_RETENTION must be positive")
	}
	if cfg.MaxSessions <= 0 {
		return fmt.Errorf("MAX_SESSIONS_PER_ACTOR must be positive")
	}
	if cfg.ScoreboardURL != "" && cfg.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be positive when SCOREBOARD_URL is set")
	}

	return nil
}
