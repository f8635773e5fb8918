package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	goredis "github.com/redis/go-redis/v9"

	"github.com/ahump20/gameday/internal/actor"
	"github.com/ahump20/gameday/internal/config"
	"github.com/ahump20/gameday/internal/domain"
	"github.com/ahump20/gameday/internal/poller"
)

type Server struct {
	echo      *echo.Echo
	config    *config.Config
	clock     clockwork.Clock
	directory *actor.Directory
	poller    *poller.Poller
	prefs     domain.PreferencesStore
	snapshots domain.SnapshotStore
	limiter   *ConnectionRateLimiter
	startTime time.Time

	redisClient *goredis.Client
	pgPool      *pgxpool.Pool

	// Overridable in tests.
	redisHealthCheck    redisHealthChecker
	postgresHealthCheck postgresHealthChecker
}

// NewServer wires the HTTP edge. poller may be nil when the scoreboard feed
// is not configured; its routes then answer 503.
func NewServer(
	cfg *config.Config,
	clock clockwork.Clock,
	directory *actor.Directory,
	scoreboard *poller.Poller,
	prefs domain.PreferencesStore,
	snapshots domain.SnapshotStore,
	redisClient *goredis.Client,
	pgPool *pgxpool.Pool,
) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())

	srv := &Server{
		echo:        e,
		config:      cfg,
		clock:       clock,
		directory:   directory,
		poller:      scoreboard,
		prefs:       prefs,
		snapshots:   snapshots,
		limiter:     NewConnectionRateLimiter(cfg.RateLimitPerSecond, cfg.RateLimitBurst),
		startTime:   clock.Now(),
		redisClient: redisClient,
		pgPool:      pgPool,
	}

	srv.registerRoutes()

	return srv
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	return s.echo.Start(fmt.Sprintf(":%s", s.config.Port))
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
