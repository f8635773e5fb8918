package actor

import (
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
)

// Session is one live client connection plus its subscription metadata.
// A session belongs to exactly one actor; all mutation happens inside that
// actor's event loop, so none of the methods are safe for concurrent use
// except Send and Close, which delegate to the connection writer.
type Session struct {
	id            uuid.UUID
	ownerID       string
	subscriptions map[string]struct{}
	connectedAt   time.Time
	lastActivity  time.Time
	writer        *clientWriter
}

// NewSession wraps an upgraded websocket connection in a session with a
// dedicated writer goroutine.
func NewSession(conn *websocket.Conn, clock clockwork.Clock, ownerID string) *Session {
	now := clock.Now()
	return &Session{
		id:            uuid.New(),
		ownerID:       ownerID,
		subscriptions: make(map[string]struct{}),
		connectedAt:   now,
		lastActivity:  now,
		writer:        newClientWriter(conn, clock),
	}
}

func (s *Session) ID() uuid.UUID   { return s.id }
func (s *Session) OwnerID() string { return s.ownerID }

func (s *Session) ConnectedAt() time.Time  { return s.connectedAt }
func (s *Session) LastActivity() time.Time { return s.lastActivity }

// Touch advances the activity stamp. It never moves backwards.
func (s *Session) Touch(now time.Time) {
	if now.After(s.lastActivity) {
		s.lastActivity = now
	}
}

func (s *Session) Subscribe(gameID string)   { s.subscriptions[gameID] = struct{}{} }
func (s *Session) Unsubscribe(gameID string) { delete(s.subscriptions, gameID) }

func (s *Session) Subscribed(gameID string) bool {
	_, ok := s.subscriptions[gameID]
	return ok
}

func (s *Session) SubscriptionCount() int { return len(s.subscriptions) }

// Send queues a frame for delivery. Returns false when the client is too
// slow to keep up; the caller decides whether to evict.
func (s *Session) Send(frame []byte) bool {
	return s.writer.trySend(frame)
}

// Close shuts the connection down with a close frame carrying reason.
func (s *Session) Close(reason string) {
	s.writer.stopGraceful(reason)
}

// closeAbrupt tears the connection down without a close frame.
func (s *Session) closeAbrupt() {
	s.writer.stop()
}
