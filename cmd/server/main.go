package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"

	"github.com/ahump20/gameday/internal/actor"
	"github.com/ahump20/gameday/internal/config"
	"github.com/ahump20/gameday/internal/database"
	"github.com/ahump20/gameday/internal/domain"
	"github.com/ahump20/gameday/internal/logging"
	"github.com/ahump20/gameday/internal/poller"
	"github.com/ahump20/gameday/internal/server"
	"github.com/ahump20/gameday/internal/snapshot"
)

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupDB(cfg *config.Config) *pgxpool.Pool {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}

	if err := database.RunMigrations(ctx, pool); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}

	return pool
}

func setupRedis(ctx context.Context, cfg *config.Config) *goredis.Client {
	client, err := snapshot.NewClient(ctx, cfg.RedisURL)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	return client
}

func setupDirectory(cfg *config.Config, clock clockwork.Clock, store domain.SnapshotStore, prefs domain.PreferencesStore) *actor.Directory {
	newGame := func(gameID string, onDrained func()) *actor.GameActor {
		return actor.NewGameActor(actor.GameConfig{
			GameID:            gameID,
			Store:             store,
			Derive:            domain.CloseGameIndex,
			Clock:             clock,
			BroadcastInterval: cfg.BroadcastInterval,
			ReaperInterval:    cfg.ReaperInterval,
			IdleTimeout:       cfg.IdleTimeout,
			MaxSessions:       cfg.MaxSessions,
			OnDrained:         onDrained,
		})
	}
	newAlert := func(userID string, onDrained func()) *actor.AlertActor {
		return actor.NewAlertActor(actor.AlertConfig{
			UserID:         userID,
			Store:          store,
			Preferences:    prefs,
			Clock:          clock,
			ReaperInterval: cfg.ReaperInterval,
			IdleTimeout:    cfg.IdleTimeout,
			Retention:      cfg.AlertRetention,
			MaxSessions:    cfg.MaxSessions,
			OnDrained:      onDrained,
		})
	}
	return actor.NewDirectory(newGame, newAlert)
}

func runGracefulShutdown(srv *server.Server, directory *actor.Directory, scoreboard *poller.Poller) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		// Drains every live actor; each persists its snapshot on the way out.
		directory.Stop()
		if scoreboard != nil {
			scoreboard.Stop()
		}

		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	// Initialize structured logging
	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port)

	pool := setupDB(cfg)
	defer pool.Close()

	redisClient := setupRedis(context.Background(), cfg)
	defer func() { _ = redisClient.Close() }()

	snapshots := snapshot.NewRedisStore(redisClient)
	prefsRepo := database.NewPreferencesRepo(pool)

	directory := setupDirectory(cfg, clock, snapshots, prefsRepo)

	var scoreboard *poller.Poller
	if cfg.ScoreboardURL != "" {
		scoreboard = poller.New(poller.Config{
			Fetch:        poller.NewHTTPFetcher(cfg.ScoreboardURL, &http.Client{Timeout: 10 * time.Second}),
			Clock:        clock,
			PollInterval: cfg.PollInterval,
			IdleTimeout:  cfg.IdleTimeout,
			ReaperTick:   cfg.ReaperInterval,
		})
		slog.Info("Scoreboard poller enabled", "url", cfg.ScoreboardURL, "interval", cfg.PollInterval)
	}

	srv := server.NewServer(cfg, clock, directory, scoreboard, prefsRepo, snapshots, redisClient, pool)

	done := runGracefulShutdown(srv, directory, scoreboard)

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
