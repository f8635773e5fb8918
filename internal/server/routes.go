package server

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) registerRoutes() {
	// Observability endpoints
	s.echo.GET("/health/live", s.handleLiveness)
	s.echo.GET("/health/ready", s.handleReadiness)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// WebSocket routes. The bare paths reject before any session exists:
	// a connection without an entity id has no actor to belong to.
	s.echo.GET("/ws/games/:gameId", s.handleGameSocket)
	s.echo.GET("/ws/games", s.handleMissingID)
	s.echo.GET("/ws/games/", s.handleMissingID)
	s.echo.GET("/ws/alerts/:userId", s.handleAlertSocket)
	s.echo.GET("/ws/alerts", s.handleMissingID)
	s.echo.GET("/ws/alerts/", s.handleMissingID)
	s.echo.GET("/ws/scoreboard", s.handleScoreboardSocket)

	// JSON API
	s.echo.GET("/api/games/:gameId/state", s.handleGameState)
	s.echo.POST("/api/games/:gameId/state", s.handleIngestState)
	s.echo.GET("/api/games/:gameId/subscribers", s.handleGameSubscribers)
	s.echo.PUT("/api/users/:userId/preferences", s.handleSavePreferences)
	s.echo.GET("/api/users/:userId/preferences", s.handleGetPreferences)
	s.echo.POST("/api/users/:userId/alerts", s.handleSendAlert)
}
