package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ahump20/gameday/internal/domain"
)

const maxIngestBytes = 1 << 20

type gameStateResponse struct {
	GameID          string          `json:"gameId"`
	State           json.RawMessage `json:"state"`
	Derived         *float64        `json:"derived,omitempty"`
	LastUpdated     time.Time       `json:"lastUpdated"`
	SubscriberCount int             `json:"subscriberCount"`
}

// handleGameState answers with the live actor's snapshot when one exists,
// falling back to the durable store for evicted games.
func (s *Server) handleGameState(c echo.Context) error {
	gameID := c.Param("gameId")

	var snap *domain.Snapshot
	if a, ok := s.directory.PeekGame(gameID); ok {
		snap = a.Snapshot()
	}
	if snap == nil {
		stored, err := s.snapshots.Get(c.Request().Context(), gameID)
		if errors.Is(err, domain.ErrSnapshotNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "game not found"})
		}
		if err != nil {
			slog.Error("Failed to load snapshot", "game_id", gameID, "error", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to load game state"})
		}
		snap = stored
	}

	return c.JSON(http.StatusOK, gameStateResponse{
		GameID:          gameID,
		State:           snap.State,
		Derived:         snap.Derived,
		LastUpdated:     snap.LastUpdated,
		SubscriberCount: snap.SubscriberCount,
	})
}

// handleIngestState accepts a pushed game state from the upstream feed and
// hands it to the owning actor. Delivery to clients is asynchronous.
func (s *Server) handleIngestState(c echo.Context) error {
	gameID := c.Param("gameId")

	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxIngestBytes))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "failed to read body"})
	}
	if !json.Valid(body) {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "state must be valid JSON"})
	}

	s.directory.Game(gameID).Accept(body)
	return c.JSON(http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleGameSubscribers(c echo.Context) error {
	gameID := c.Param("gameId")

	count := 0
	if a, ok := s.directory.PeekGame(gameID); ok {
		count = a.ClientCount()
	}

	return c.JSON(http.StatusOK, map[string]any{
		"gameId":      gameID,
		"subscribers": count,
		"timestamp":   s.clock.Now(),
	})
}

func (s *Server) handleSavePreferences(c echo.Context) error {
	userID := c.Param("userId")

	var prefs domain.AlertPreferences
	if err := c.Bind(&prefs); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "malformed preferences"})
	}
	if prefs.QuietHours != nil {
		if err := prefs.QuietHours.Validate(); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
		}
	}

	if err := s.prefs.Upsert(c.Request().Context(), userID, prefs); err != nil {
		slog.Error("Failed to save preferences", "user_id", userID, "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to save preferences"})
	}

	// A live actor keeps filtering on its cached copy until told otherwise.
	if a, ok := s.directory.PeekAlert(userID); ok {
		a.UpdatePreferences(prefs)
	}

	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGetPreferences(c echo.Context) error {
	userID := c.Param("userId")

	prefs, err := s.prefs.Get(c.Request().Context(), userID)
	if errors.Is(err, domain.ErrPreferencesNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "no preferences for user"})
	}
	if err != nil {
		slog.Error("Failed to load preferences", "user_id", userID, "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to load preferences"})
	}

	return c.JSON(http.StatusOK, prefs)
}

type sendAlertRequest struct {
	Type    domain.AlertType `json:"type"`
	Payload json.RawMessage  `json:"payload"`
}

// handleSendAlert accepts an alert from an upstream notifier and routes it
// to the user's alert actor for filtering, delivery, or queueing.
func (s *Server) handleSendAlert(c echo.Context) error {
	userID := c.Param("userId")

	var req sendAlertRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "malformed alert"})
	}
	if req.Type == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "alert type is required"})
	}

	s.directory.Alert(userID).SendAlert(domain.Alert{
		ID:        uuid.NewString(),
		Type:      req.Type,
		Payload:   req.Payload,
		Timestamp: s.clock.Now(),
	})

	return c.JSON(http.StatusAccepted, map[string]string{"status": "accepted"})
}
