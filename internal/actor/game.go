package actor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/ahump20/gameday/internal/domain"
	"github.com/ahump20/gameday/internal/metrics"
	"github.com/ahump20/gameday/internal/protocol"
)

const (
	commandTimeout  = 5 * time.Second
	snapshotTimeout = 2 * time.Second
	stopTimeout     = 10 * time.Second

	defaultBroadcastInterval = 1 * time.Second
	defaultReaperInterval    = 60 * time.Second
	defaultIdleTimeout       = 5 * time.Minute
	defaultMaxSessions       = 50

	// CloseReasonTimeout is sent to clients evicted by the idle reaper.
	CloseReasonTimeout = "connection timeout"
)

// gameCmd is the command interface for the GameActor event loop.
type gameCmd interface{ isGameCmd() }

type baseGameCmd struct{}

func (baseGameCmd) isGameCmd() {}

type acceptCmd struct {
	baseGameCmd
	state json.RawMessage
}

type openSessionCmd struct {
	baseGameCmd
	conn         *websocket.Conn
	ownerID      string
	replyChannel chan openSessionResult
}

type openSessionResult struct {
	session *Session
	err     error
}

type inboundCmd struct {
	baseGameCmd
	session *Session
	raw     []byte
}

type closeSessionCmd struct {
	baseGameCmd
	session *Session
	reason  string
}

type snapshotQueryCmd struct {
	baseGameCmd
	replyChannel chan *domain.Snapshot
}

type clientCountCmd struct {
	baseGameCmd
	replyChannel chan int
}

type stopCmd struct {
	baseGameCmd
}

// GameConfig configures a game actor.
type GameConfig struct {
	GameID string
	Store  domain.SnapshotStore
	Derive domain.DeriveFunc
	Clock  clockwork.Clock

	BroadcastInterval time.Duration
	ReaperInterval    time.Duration
	IdleTimeout       time.Duration
	MaxSessions       int

	// OnDrained is called (on its own goroutine) after the last session
	// closes and the snapshot persist has been issued. The host uses it to
	// evict the actor.
	OnDrained func()
}

func (c *GameConfig) applyDefaults() {
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.BroadcastInterval <= 0 {
		c.BroadcastInterval = defaultBroadcastInterval
	}
	if c.ReaperInterval <= 0 {
		c.ReaperInterval = defaultReaperInterval
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = defaultIdleTimeout
	}
	if c.MaxSessions <= 0 {
		c.MaxSessions = defaultMaxSessions
	}
}

// GameActor is the single owner of one game's live state. All mutations are
// serialized through its command channel; there is no shared mutable state
// across actors. It starts Cold, loads its snapshot from the store, and
// stays the authoritative copy of the state until evicted.
type GameActor struct {
	cfg   GameConfig
	cmdCh chan gameCmd
	done  chan struct{}
	gate  *Gate

	// Owned by the run goroutine.
	sessions    map[uuid.UUID]*Session
	state       json.RawMessage
	derived     *float64
	lastUpdated time.Time
	warm        bool
	stopping    bool

	// emptySince marks when the actor last became session-less. The reaper
	// drains actors that stay session-less for a full interval, so ingest
	// for games nobody watches cannot pin a goroutine forever.
	emptySince time.Time
}

// NewGameActor creates and starts a game actor. The actor is Cold until its
// snapshot load completes; commands sent in the meantime queue on the
// command channel.
func NewGameActor(cfg GameConfig) *GameActor {
	cfg.applyDefaults()
	a := &GameActor{
		cfg:      cfg,
		cmdCh:    make(chan gameCmd, 256),
		done:     make(chan struct{}),
		gate:     NewGate(cfg.Clock, cfg.BroadcastInterval),
		sessions: make(map[uuid.UUID]*Session),
	}
	go a.run()
	return a
}

// GameID returns the entity id this actor owns.
func (a *GameActor) GameID() string { return a.cfg.GameID }

// Accept pushes a new game state from the upstream feed. It never blocks on
// client delivery; per-client send failures are handled inside the loop.
func (a *GameActor) Accept(state json.RawMessage) {
	select {
	case a.cmdCh <- acceptCmd{state: state}:
	case <-a.done:
	}
}

// OpenSession registers a new session for an upgraded connection and
// immediately delivers the last known snapshot, bypassing the rate gate.
func (a *GameActor) OpenSession(conn *websocket.Conn, ownerID string) (*Session, error) {
	replyCh := make(chan openSessionResult, 1)

	select {
	case a.cmdCh <- openSessionCmd{conn: conn, ownerID: ownerID, replyChannel: replyCh}:
	case <-a.done:
		return nil, domain.ErrActorStopped
	}

	timer := a.cfg.Clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case res := <-replyCh:
		return res.session, res.err
	case <-a.done:
		return nil, domain.ErrActorStopped
	case <-timer.Chan():
		return nil, fmt.Errorf("open session timed out after %v", commandTimeout)
	}
}

// HandleMessage dispatches a raw inbound client frame for a session.
func (a *GameActor) HandleMessage(session *Session, raw []byte) {
	select {
	case a.cmdCh <- inboundCmd{session: session, raw: raw}:
	case <-a.done:
	}
}

// CloseSession removes a session. Closing the last session triggers a
// snapshot persist and drains the actor.
func (a *GameActor) CloseSession(session *Session, reason string) {
	select {
	case a.cmdCh <- closeSessionCmd{session: session, reason: reason}:
	case <-a.done:
	}
}

// Snapshot returns a copy of the actor's current snapshot, or nil if no
// state has been accepted or loaded yet.
func (a *GameActor) Snapshot() *domain.Snapshot {
	replyCh := make(chan *domain.Snapshot, 1)

	select {
	case a.cmdCh <- snapshotQueryCmd{replyChannel: replyCh}:
	case <-a.done:
		return nil
	}

	timer := a.cfg.Clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case snap := <-replyCh:
		return snap
	case <-a.done:
		return nil
	case <-timer.Chan():
		slog.Warn("Snapshot query timed out", "game_id", a.cfg.GameID)
		return nil
	}
}

// ClientCount returns the number of connected sessions. Returns -1 if the
// query times out.
func (a *GameActor) ClientCount() int {
	replyCh := make(chan int, 1)

	select {
	case a.cmdCh <- clientCountCmd{replyChannel: replyCh}:
	case <-a.done:
		return 0
	}

	timer := a.cfg.Clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case count := <-replyCh:
		return count
	case <-a.done:
		return 0
	case <-timer.Chan():
		slog.Warn("ClientCount timed out", "game_id", a.cfg.GameID)
		return -1
	}
}

// Stop shuts the actor down, closing all sessions and persisting a final
// snapshot. Blocks until the loop exits or the stop timeout is reached.
func (a *GameActor) Stop() {
	select {
	case a.cmdCh <- stopCmd{}:
	case <-a.done:
		return
	}

	timer := a.cfg.Clock.NewTimer(stopTimeout)
	defer timer.Stop()

	select {
	case <-a.done:
	case <-timer.Chan():
		slog.Warn("Game actor stop timeout exceeded", "game_id", a.cfg.GameID)
	}
}

// Stopped reports whether the actor's loop has exited.
func (a *GameActor) Stopped() bool {
	select {
	case <-a.done:
		return true
	default:
		return false
	}
}

// --- Event loop ---

func (a *GameActor) run() {
	defer close(a.done)
	defer metrics.ActorsActive.WithLabelValues("game").Dec()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Game actor panic recovered", "game_id", a.cfg.GameID, "panic", r)
			metrics.ActorPanicsTotal.Inc()
			a.closeAllSessions("internal error")
		}
	}()

	metrics.ActorsActive.WithLabelValues("game").Inc()

	// Cold start: reload from the snapshot store. In-memory state never
	// survives between activations.
	a.loadSnapshot()
	a.emptySince = a.cfg.Clock.Now()

	reaper := newAlarm(a.cfg.Clock, a.cfg.ReaperInterval)
	defer reaper.Stop()

	for {
		select {
		case cmd := <-a.cmdCh:
			switch c := cmd.(type) {
			case acceptCmd:
				a.handleAccept(c.state)
			case openSessionCmd:
				a.handleOpenSession(c)
			case inboundCmd:
				a.handleInbound(c.session, c.raw)
			case closeSessionCmd:
				a.handleCloseSession(c.session, c.reason)
			case snapshotQueryCmd:
				c.replyChannel <- a.snapshotCopy()
			case clientCountCmd:
				c.replyChannel <- len(a.sessions)
			case stopCmd:
				a.handleStop()
				return
			default:
				slog.Warn("Game actor received unknown command type", "command_type", fmt.Sprintf("%T", cmd))
			}
		case <-reaper.Chan():
			a.handleAlarm()
			reaper.Reschedule()
		}
	}
}

func (a *GameActor) loadSnapshot() {
	ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
	defer cancel()

	snap, err := a.cfg.Store.Get(ctx, a.cfg.GameID)
	if err != nil {
		if err != domain.ErrSnapshotNotFound {
			slog.Warn("Failed to load snapshot, starting empty", "game_id", a.cfg.GameID, "error", err)
		}
		return
	}

	a.state = snap.State
	a.derived = snap.Derived
	a.lastUpdated = snap.LastUpdated
	a.warm = true
	slog.Debug("Snapshot loaded", "game_id", a.cfg.GameID, "last_updated", snap.LastUpdated)
}

func (a *GameActor) handleAccept(state json.RawMessage) {
	a.state = state
	a.derived = nil
	if a.cfg.Derive != nil {
		if value, ok := a.cfg.Derive(state); ok {
			a.derived = &value
		}
	}
	a.lastUpdated = a.cfg.Clock.Now()
	a.warm = true

	// A live feed counts as activity for a session-less actor.
	if len(a.sessions) == 0 {
		a.emptySince = a.lastUpdated
	}

	if !a.gate.Allow() {
		metrics.BroadcastsTotal.WithLabelValues("suppressed").Inc()
		return
	}

	a.broadcast()
	metrics.BroadcastsTotal.WithLabelValues("sent").Inc()
	a.persistAsync()
}

func (a *GameActor) broadcast() {
	frame, err := protocol.EncodeGameUpdate(a.cfg.GameID, a.snapshotCopy(), a.cfg.Clock.Now())
	if err != nil {
		slog.Error("Failed to encode game update", "game_id", a.cfg.GameID, "error", err)
		return
	}

	var slow []*Session
	for _, sess := range a.sessions {
		if !sess.Subscribed(a.cfg.GameID) {
			continue
		}
		if !sess.Send(frame) {
			slow = append(slow, sess)
		}
	}

	for _, sess := range slow {
		slog.Warn("Disconnecting slow client", "game_id", a.cfg.GameID, "session_id", sess.ID().String())
		metrics.SlowClientsEvicted.Inc()
		a.handleCloseSession(sess, "send buffer full")
	}
}

func (a *GameActor) handleOpenSession(c openSessionCmd) {
	if len(a.sessions) >= a.cfg.MaxSessions {
		slog.Warn("Rejecting client: max sessions reached", "game_id", a.cfg.GameID, "max_sessions", a.cfg.MaxSessions)
		_ = c.conn.Close()
		c.replyChannel <- openSessionResult{err: domain.ErrTooManySessions}
		return
	}

	sess := NewSession(c.conn, a.cfg.Clock, c.ownerID)
	a.sessions[sess.ID()] = sess
	a.emptySince = time.Time{}
	metrics.SessionsConnected.Inc()

	// First contact must not be starved: deliver the last known state
	// immediately, bypassing the rate gate.
	if a.warm && a.state != nil {
		if frame, err := protocol.EncodeGameUpdate(a.cfg.GameID, a.snapshotCopy(), a.cfg.Clock.Now()); err == nil {
			sess.Send(frame)
		}
	}

	slog.Debug("Session opened", "game_id", a.cfg.GameID, "session_id", sess.ID().String(), "total_sessions", len(a.sessions))
	c.replyChannel <- openSessionResult{session: sess}
}

func (a *GameActor) handleInbound(sess *Session, raw []byte) {
	if _, ok := a.sessions[sess.ID()]; !ok {
		return
	}

	now := a.cfg.Clock.Now()

	msg, err := protocol.Decode(raw)
	if err != nil {
		a.sendError(sess, err.Error(), now)
		return
	}

	sess.Touch(now)

	switch m := msg.(type) {
	case protocol.Subscribe:
		sess.Subscribe(m.GameID)
		a.sendFrame(sess, protocol.KindSubscribe, protocol.Ack{GameID: m.GameID, Success: true}, now)
	case protocol.Unsubscribe:
		sess.Unsubscribe(m.GameID)
		a.sendFrame(sess, protocol.KindUnsubscribe, protocol.Ack{GameID: m.GameID, Success: true}, now)
	case protocol.Ping:
		a.sendFrame(sess, protocol.KindPong, nil, now)
	case protocol.RequestUpdate:
		// Direct requests always deliver the latest state, unrated.
		if !a.warm || a.state == nil {
			a.sendError(sess, "no game state available", now)
			return
		}
		if frame, err := protocol.EncodeGameUpdate(a.cfg.GameID, a.snapshotCopy(), now); err == nil {
			sess.Send(frame)
		}
	default:
		a.sendError(sess, "unknown message type", now)
	}
}

func (a *GameActor) sendFrame(sess *Session, kind protocol.Kind, data any, now time.Time) {
	frame, err := protocol.Encode(kind, data, now)
	if err != nil {
		slog.Error("Failed to encode frame", "kind", string(kind), "error", err)
		return
	}
	sess.Send(frame)
}

func (a *GameActor) sendError(sess *Session, reason string, now time.Time) {
	if frame, err := protocol.EncodeError(reason, now); err == nil {
		sess.Send(frame)
	}
}

func (a *GameActor) handleCloseSession(sess *Session, reason string) {
	if _, ok := a.sessions[sess.ID()]; !ok {
		return
	}

	delete(a.sessions, sess.ID())
	sess.Close(reason)
	metrics.SessionsConnected.Dec()

	if len(a.sessions) == 0 && !a.stopping {
		slog.Info("Last session closed, draining", "game_id", a.cfg.GameID)
		a.drain()
	} else {
		slog.Debug("Session closed", "game_id", a.cfg.GameID, "session_id", sess.ID().String(), "remaining_sessions", len(a.sessions))
	}
}

// drain persists the snapshot and notifies the host. The in-memory copy may
// be evicted after this point.
func (a *GameActor) drain() {
	if a.warm {
		a.persistAsync()
	}
	a.emptySince = a.cfg.Clock.Now()
	if a.cfg.OnDrained != nil {
		go a.cfg.OnDrained()
	}
}

func (a *GameActor) handleAlarm() {
	now := a.cfg.Clock.Now()

	var stale []*Session
	for _, sess := range a.sessions {
		if now.Sub(sess.LastActivity()) > a.cfg.IdleTimeout {
			stale = append(stale, sess)
		}
	}

	for _, sess := range stale {
		slog.Info("Evicting idle session", "game_id", a.cfg.GameID, "session_id", sess.ID().String(), "idle", now.Sub(sess.LastActivity()).String())
		metrics.SessionsEvictedTotal.WithLabelValues("idle").Inc()
		a.handleCloseSession(sess, CloseReasonTimeout)
	}

	// An actor that has held no sessions for a full interval is drained too,
	// whether created by ingest or left behind after eviction.
	if len(a.sessions) == 0 && !a.emptySince.IsZero() && now.Sub(a.emptySince) >= a.cfg.ReaperInterval {
		slog.Info("No sessions for a full reaper interval, draining", "game_id", a.cfg.GameID)
		a.drain()
	}
}

func (a *GameActor) snapshotCopy() *domain.Snapshot {
	if !a.warm && a.state == nil {
		return nil
	}
	return &domain.Snapshot{
		EntityID:        a.cfg.GameID,
		State:           a.state,
		Derived:         a.derived,
		LastUpdated:     a.lastUpdated,
		SubscriberCount: len(a.sessions),
	}
}

// persistAsync issues a fire-and-forget snapshot write. A failed persist is
// logged and dropped; in-memory state stays authoritative and the next
// successful persist catches up.
func (a *GameActor) persistAsync() {
	snap := a.snapshotCopy()
	if snap == nil {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
		defer cancel()

		if err := a.cfg.Store.Put(ctx, snap); err != nil {
			slog.Warn("Snapshot persist failed", "game_id", snap.EntityID, "error", err)
			metrics.SnapshotPersistFailures.Inc()
		}
	}()
}

func (a *GameActor) handleStop() {
	a.stopping = true
	slog.Info("Game actor shutting down", "game_id", a.cfg.GameID, "sessions", len(a.sessions))
	a.closeAllSessions("Server shutting down")
	if a.warm {
		a.persistFinal()
	}
}

func (a *GameActor) closeAllSessions(reason string) {
	for id, sess := range a.sessions {
		delete(a.sessions, id)
		sess.Close(reason)
		metrics.SessionsConnected.Dec()
	}
}

// persistFinal writes the snapshot synchronously during shutdown.
func (a *GameActor) persistFinal() {
	snap := a.snapshotCopy()
	if snap == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
	defer cancel()

	if err := a.cfg.Store.Put(ctx, snap); err != nil {
		slog.Warn("Final snapshot persist failed", "game_id", snap.EntityID, "error", err)
		metrics.SnapshotPersistFailures.Inc()
	}
}
