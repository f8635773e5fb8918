// Package protocol defines the JSON message envelope exchanged over the
// websocket streams. Inbound messages decode into a closed tagged union;
// anything that does not match a known tag is rejected via DecodeError so
// the actor can answer with an error frame instead of dropping the
// connection.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ahump20/gameday/internal/domain"
)

// Kind is the envelope discriminant.
type Kind string

const (
	// Client to server.
	KindSubscribe     Kind = "subscribe"
	KindUnsubscribe   Kind = "unsubscribe"
	KindPing          Kind = "ping"
	KindRequestUpdate Kind = "request_update"

	// Server to client.
	KindGameUpdate Kind = "game_update"
	KindAlert      Kind = "alert"
	KindPong       Kind = "pong"
	KindError      Kind = "error"
	KindConnected  Kind = "connected"
)

// Envelope is the bidirectional wire frame: {type, data?, timestamp}.
type Envelope struct {
	Type      Kind            `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// DecodeError describes a client message the server could not accept. Its
// message is safe to echo back to the client in an error frame.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string {
	return e.Reason
}

// --- Inbound union ---

// Inbound is a decoded client-to-server message.
type Inbound interface{ isInbound() }

type baseInbound struct{}

func (baseInbound) isInbound() {}

type Subscribe struct {
	baseInbound
	GameID string `json:"gameId"`
}

type Unsubscribe struct {
	baseInbound
	GameID string `json:"gameId"`
}

type Ping struct{ baseInbound }

type RequestUpdate struct{ baseInbound }

// Decode parses a raw client frame into the inbound union.
// All failures return a *DecodeError.
func Decode(raw []byte) (Inbound, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &DecodeError{Reason: "malformed message"}
	}

	switch env.Type {
	case KindSubscribe:
		var msg Subscribe
		if err := unmarshalData(env.Data, &msg); err != nil {
			return nil, err
		}
		if msg.GameID == "" {
			return nil, &DecodeError{Reason: "subscribe requires gameId"}
		}
		return msg, nil
	case KindUnsubscribe:
		var msg Unsubscribe
		if err := unmarshalData(env.Data, &msg); err != nil {
			return nil, err
		}
		if msg.GameID == "" {
			return nil, &DecodeError{Reason: "unsubscribe requires gameId"}
		}
		return msg, nil
	case KindPing:
		return Ping{}, nil
	case KindRequestUpdate:
		return RequestUpdate{}, nil
	case "":
		return nil, &DecodeError{Reason: "missing message type"}
	default:
		return nil, &DecodeError{Reason: fmt.Sprintf("unknown message type %q", env.Type)}
	}
}

func unmarshalData(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return &DecodeError{Reason: "malformed message data"}
	}
	return nil
}

// --- Outbound payloads ---

type GameUpdate struct {
	GameID    string          `json:"gameId"`
	GameState json.RawMessage `json:"gameState"`
	Derived   *float64        `json:"derived,omitempty"`
}

type Ack struct {
	GameID  string `json:"gameId"`
	Success bool   `json:"success"`
}

type ErrorData struct {
	Error string `json:"error"`
}

type Connected struct {
	SessionID string `json:"sessionId"`
	GameID    string `json:"gameId,omitempty"`
}

// Encode marshals an outbound frame. Encoding only fails if data itself is
// unmarshalable, which indicates a programming error upstream.
func Encode(kind Kind, data any, now time.Time) ([]byte, error) {
	env := Envelope{Type: kind, Timestamp: now}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s data: %w", kind, err)
		}
		env.Data = raw
	}
	frame, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s envelope: %w", kind, err)
	}
	return frame, nil
}

// EncodeGameUpdate builds a game_update frame from a snapshot.
func EncodeGameUpdate(gameID string, snap *domain.Snapshot, now time.Time) ([]byte, error) {
	return Encode(KindGameUpdate, GameUpdate{
		GameID:    gameID,
		GameState: snap.State,
		Derived:   snap.Derived,
	}, now)
}

// EncodeAlert builds an alert frame.
func EncodeAlert(alert domain.Alert, now time.Time) ([]byte, error) {
	return Encode(KindAlert, alert, now)
}

// EncodeError builds an error frame with a client-safe message.
func EncodeError(reason string, now time.Time) ([]byte, error) {
	return Encode(KindError, ErrorData{Error: reason}, now)
}
