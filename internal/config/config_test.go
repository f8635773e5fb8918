package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/gameday")
	t.Setenv("REDIS_URL", "redis://localhost:6379")
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.AppEnv)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, time.Second, cfg.BroadcastInterval)
	assert.Equal(t, 5*time.Minute, cfg.IdleTimeout)
	assert.Equal(t, 60*time.Second, cfg.ReaperInterval)
	assert.Equal(t, time.Hour, cfg.AlertRetention)
	assert.Equal(t, 50, cfg.MaxSessions)
	assert.Empty(t, cfg.ScoreboardURL)
	assert.Equal(t, 10*time.Second, cfg.PollInterval)
	assert.Equal(t, 20.0, cfg.RateLimitPerSecond)
	assert.Equal(t, 40, cfg.RateLimitBurst)
}

func TestLoad_Overrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("BROADCAST_INTERVAL", "250ms")
	t.Setenv("IDLE_TIMEOUT", "10m")
	t.Setenv("MAX_SESSIONS_PER_ACTOR", "5")
	t.Setenv("SCOREBOARD_URL", "http://feed.example.com")
	t.Setenv("POLL_INTERVAL", "2s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 250*time.Millisecond, cfg.BroadcastInterval)
	assert.Equal(t, 10*time.Minute, cfg.IdleTimeout)
	assert.Equal(t, 5, cfg.MaxSessions)
	assert.Equal(t, "http://feed.example.com", cfg.ScoreboardURL)
	assert.Equal(t, 2*time.Second, cfg.PollInterval)
}

func TestLoad_MissingRequired(t *testing.T) {
	tests := []struct {
		name    string
		unset   string
		wantErr string
	}{
		{"missing database url", "DATABASE_URL", "DATABASE_URL is required"},
		{"missing redis url", "REDIS_URL", "REDIS_URL is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequiredEnv(t)
			t.Setenv(tt.unset, "")

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_Durations(t *testing.T) {
	tests := []struct {
		name    string
		env     string
		value   string
		wantErr string
	}{
		{"zero broadcast interval", "BROADCAST_INTERVAL", "0s", "BROADCAST_INTERVAL must be positive"},
		{"negative idle timeout", "IDLE_TIMEOUT", "-1m", "IDLE_TIMEOUT must be positive"},
		{"zero reaper interval", "REAPER_INTERVAL", "0s", "REAPER_INTERVAL must be positive"},
		{"zero alert retention", "ALERT_RETENTION", "0s", "ALERT_RETENTION must be positive"},
		{"zero max sessions", "MAX_SESSIONS_PER_ACTOR", "0", "MAX_SESSIONS_PER_ACTOR must be positive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequiredEnv(t)
			t.Setenv(tt.env, tt.value)

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_PollIntervalOnlyWithScoreboard(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("POLL_INTERVAL", "-1s")

	// Without a scoreboard feed the poll interval is ignored.
	_, err := Load()
	require.NoError(t, err)

	t.Setenv("SCOREBOARD_URL", "http://feed.example.com")
	_, err = Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "POLL_INTERVAL must be positive when SCOREBOARD_URL is set")
}
