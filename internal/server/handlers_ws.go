package server

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/ahump20/gameday/internal/actor"
	"github.com/ahump20/gameday/internal/domain"
	"github.com/ahump20/gameday/internal/protocol"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// handleMissingID rejects bare stream paths before any upgrade happens. A
// connection without an entity id has no actor to attach to.
func (s *Server) handleMissingID(c echo.Context) error {
	return c.JSON(http.StatusBadRequest, map[string]string{"error": "missing entity id in path"})
}

func (s *Server) handleGameSocket(c echo.Context) error {
	gameID := c.Param("gameId")
	if gameID == "" {
		return s.handleMissingID(c)
	}

	if !s.limiter.Allow(c.RealIP()) {
		return c.JSON(http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		slog.Warn("Failed to upgrade websocket", "game_id", gameID, "error", err)
		return nil
	}

	game, sess, err := s.openGameSession(gameID, conn)
	if err != nil {
		// The actor closes the connection on rejection.
		return nil
	}

	if frame, err := protocol.Encode(protocol.KindConnected, protocol.Connected{
		SessionID: sess.ID().String(),
		GameID:    gameID,
	}, s.clock.Now()); err == nil {
		sess.Send(frame)
	}

	// Hold the handle from open time. Re-resolving through the directory
	// here could resurrect an actor the reaper already evicted.
	s.readPump(conn, func(raw []byte) {
		game.HandleMessage(sess, raw)
	})

	game.CloseSession(sess, "client disconnect")
	return nil
}

// openGameSession resolves the actor and opens a session, retrying once if
// the directory handed out an actor that stopped between resolution and open.
// The game stream is unauthenticated, so sessions carry no owner id.
func (s *Server) openGameSession(gameID string, conn *websocket.Conn) (*actor.GameActor, *actor.Session, error) {
	game := s.directory.Game(gameID)
	sess, err := game.OpenSession(conn, "")
	if err == domain.ErrActorStopped {
		game = s.directory.Game(gameID)
		sess, err = game.OpenSession(conn, "")
	}
	if err != nil {
		slog.Warn("Rejected game session", "game_id", gameID, "error", err)
		return nil, nil, err
	}
	return game, sess, nil
}

func (s *Server) handleAlertSocket(c echo.Context) error {
	userID := c.Param("userId")
	if userID == "" {
		return s.handleMissingID(c)
	}

	if !s.limiter.Allow(c.RealIP()) {
		return c.JSON(http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		slog.Warn("Failed to upgrade websocket", "user_id", userID, "error", err)
		return nil
	}

	alerts := s.directory.Alert(userID)
	sess, err := alerts.OpenSession(conn)
	if err == domain.ErrActorStopped {
		alerts = s.directory.Alert(userID)
		sess, err = alerts.OpenSession(conn)
	}
	if err != nil {
		slog.Warn("Rejected alert session", "user_id", userID, "error", err)
		return nil
	}

	if frame, err := protocol.Encode(protocol.KindConnected, protocol.Connected{
		SessionID: sess.ID().String(),
	}, s.clock.Now()); err == nil {
		sess.Send(frame)
	}

	s.readPump(conn, func(raw []byte) {
		alerts.HandleMessage(sess, raw)
	})

	alerts.CloseSession(sess, "client disconnect")
	return nil
}

func (s *Server) handleScoreboardSocket(c echo.Context) error {
	if s.poller == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "scoreboard feed not configured"})
	}

	if !s.limiter.Allow(c.RealIP()) {
		return c.JSON(http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		slog.Warn("Failed to upgrade websocket", "stream", "scoreboard", "error", err)
		return nil
	}

	sess, err := s.poller.OpenSession(conn)
	if err != nil {
		slog.Warn("Rejected scoreboard session", "error", err)
		return nil
	}

	s.readPump(conn, func(raw []byte) {
		s.poller.HandleMessage(sess, raw)
	})

	s.poller.CloseSession(sess, "client disconnect")
	return nil
}

// readPump blocks on the connection until it errors, handing every frame to
// the owning actor. The actor owns all writes through the session.
func (s *Server) readPump(conn *websocket.Conn, handle func(raw []byte)) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		handle(raw)
	}
}
