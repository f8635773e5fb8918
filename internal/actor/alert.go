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

const defaultAlertRetention = 1 * time.Hour

// alertCmd is the command interface for the AlertActor event loop.
type alertCmd interface{ isAlertCmd() }

type baseAlertCmd struct{}

func (baseAlertCmd) isAlertCmd() {}

type sendAlertCmd struct {
	baseAlertCmd
	alert domain.Alert
}

type alertOpenSessionCmd struct {
	baseAlertCmd
	conn         *websocket.Conn
	replyChannel chan openSessionResult
}

type alertInboundCmd struct {
	baseAlertCmd
	session *Session
	raw     []byte
}

type alertCloseSessionCmd struct {
	baseAlertCmd
	session *Session
	reason  string
}

type updatePreferencesCmd struct {
	baseAlertCmd
	prefs domain.AlertPreferences
}

type preferencesQueryCmd struct {
	baseAlertCmd
	replyChannel chan domain.AlertPreferences
}

type queueLengthCmd struct {
	baseAlertCmd
	replyChannel chan int
}

type alertClientCountCmd struct {
	baseAlertCmd
	replyChannel chan int
}

type alertStopCmd struct {
	baseAlertCmd
}

// alertSnapshotState is the opaque state payload an alert actor persists:
// a cached copy of the preferences plus the undelivered queue.
type alertSnapshotState struct {
	Preferences domain.AlertPreferences `json:"preferences"`
	Queue       []domain.Alert          `json:"queue,omitempty"`
}

// AlertConfig configures a per-user alert actor.
type AlertConfig struct {
	UserID      string
	Store       domain.SnapshotStore
	Preferences domain.PreferencesStore
	Clock       clockwork.Clock

	ReaperInterval time.Duration
	IdleTimeout    time.Duration
	Retention      time.Duration
	MaxSessions    int

	OnDrained func()
}

func (c *AlertConfig) applyDefaults() {
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.ReaperInterval <= 0 {
		c.ReaperInterval = defaultReaperInterval
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = defaultIdleTimeout
	}
	if c.Retention <= 0 {
		c.Retention = defaultAlertRetention
	}
	if c.MaxSessions <= 0 {
		c.MaxSessions = defaultMaxSessions
	}
}

// AlertActor owns one user's alert channel: preference-filtered delivery to
// live sessions and an age-bounded queue for offline periods. The queue is
// exclusively owned by the actor; nobody else mutates it.
type AlertActor struct {
	cfg   AlertConfig
	cmdCh chan alertCmd
	done  chan struct{}

	// Owned by the run goroutine.
	sessions map[uuid.UUID]*Session
	prefs    domain.AlertPreferences
	queue    []domain.Alert
	stopping bool

	// emptySince marks when the actor last became session-less; the reaper
	// drains actors that stay that way for a full interval. The queue is
	// persisted on drain and restored on the next cold start.
	emptySince time.Time
}

// NewAlertActor creates and starts an alert actor. It loads preferences and
// the undelivered queue before handling commands.
func NewAlertActor(cfg AlertConfig) *AlertActor {
	cfg.applyDefaults()
	a := &AlertActor{
		cfg:      cfg,
		cmdCh:    make(chan alertCmd, 256),
		done:     make(chan struct{}),
		sessions: make(map[uuid.UUID]*Session),
		prefs:    domain.DefaultPreferences(),
	}
	go a.run()
	return a
}

// UserID returns the entity id this actor owns.
func (a *AlertActor) UserID() string { return a.cfg.UserID }

// SendAlert delivers or queues an alert from an upstream notifier.
func (a *AlertActor) SendAlert(alert domain.Alert) {
	select {
	case a.cmdCh <- sendAlertCmd{alert: alert}:
	case <-a.done:
	}
}

// OpenSession registers a session and replays any queued alerts to it in
// original arrival order.
func (a *AlertActor) OpenSession(conn *websocket.Conn) (*Session, error) {
	replyCh := make(chan openSessionResult, 1)

	select {
	case a.cmdCh <- alertOpenSessionCmd{conn: conn, replyChannel: replyCh}:
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
func (a *AlertActor) HandleMessage(session *Session, raw []byte) {
	select {
	case a.cmdCh <- alertInboundCmd{session: session, raw: raw}:
	case <-a.done:
	}
}

// CloseSession removes a session.
func (a *AlertActor) CloseSession(session *Session, reason string) {
	select {
	case a.cmdCh <- alertCloseSessionCmd{session: session, reason: reason}:
	case <-a.done:
	}
}

// UpdatePreferences replaces the live preferences wholesale. Already-queued
// alerts are not re-filtered.
func (a *AlertActor) UpdatePreferences(prefs domain.AlertPreferences) {
	select {
	case a.cmdCh <- updatePreferencesCmd{prefs: prefs}:
	case <-a.done:
	}
}

// Preferences returns the actor's current preference set.
func (a *AlertActor) Preferences() domain.AlertPreferences {
	replyCh := make(chan domain.AlertPreferences, 1)

	select {
	case a.cmdCh <- preferencesQueryCmd{replyChannel: replyCh}:
	case <-a.done:
		return domain.DefaultPreferences()
	}

	select {
	case prefs := <-replyCh:
		return prefs
	case <-a.done:
		return domain.DefaultPreferences()
	}
}

// QueueLength returns the number of undelivered queued alerts.
func (a *AlertActor) QueueLength() int {
	replyCh := make(chan int, 1)

	select {
	case a.cmdCh <- queueLengthCmd{replyChannel: replyCh}:
	case <-a.done:
		return 0
	}

	select {
	case n := <-replyCh:
		return n
	case <-a.done:
		return 0
	}
}

// ClientCount returns the number of connected sessions.
func (a *AlertActor) ClientCount() int {
	replyCh := make(chan int, 1)

	select {
	case a.cmdCh <- alertClientCountCmd{replyChannel: replyCh}:
	case <-a.done:
		return 0
	}

	select {
	case n := <-replyCh:
		return n
	case <-a.done:
		return 0
	}
}

// Stop shuts the actor down, closing all sessions and persisting the queue.
func (a *AlertActor) Stop() {
	select {
	case a.cmdCh <- alertStopCmd{}:
	case <-a.done:
		return
	}

	timer := a.cfg.Clock.NewTimer(stopTimeout)
	defer timer.Stop()

	select {
	case <-a.done:
	case <-timer.Chan():
		slog.Warn("Alert actor stop timeout exceeded", "user_id", a.cfg.UserID)
	}
}

// Stopped reports whether the actor's loop has exited.
func (a *AlertActor) Stopped() bool {
	select {
	case <-a.done:
		return true
	default:
		return false
	}
}

// --- Event loop ---

func (a *AlertActor) run() {
	defer close(a.done)
	defer metrics.ActorsActive.WithLabelValues("alert").Dec()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Alert actor panic recovered", "user_id", a.cfg.UserID, "panic", r)
			metrics.ActorPanicsTotal.Inc()
			a.closeAllSessions("internal error")
		}
	}()

	metrics.ActorsActive.WithLabelValues("alert").Inc()

	a.load()
	a.emptySince = a.cfg.Clock.Now()

	reaper := newAlarm(a.cfg.Clock, a.cfg.ReaperInterval)
	defer reaper.Stop()

	for {
		select {
		case cmd := <-a.cmdCh:
			switch c := cmd.(type) {
			case sendAlertCmd:
				a.handleSendAlert(c.alert)
			case alertOpenSessionCmd:
				a.handleOpenSession(c)
			case alertInboundCmd:
				a.handleInbound(c.session, c.raw)
			case alertCloseSessionCmd:
				a.handleCloseSession(c.session, c.reason)
			case updatePreferencesCmd:
				a.prefs = c.prefs
				a.persistAsync()
			case preferencesQueryCmd:
				c.replyChannel <- a.prefs
			case queueLengthCmd:
				c.replyChannel <- len(a.queue)
			case alertClientCountCmd:
				c.replyChannel <- len(a.sessions)
			case alertStopCmd:
				a.handleStop()
				return
			default:
				slog.Warn("Alert actor received unknown command type", "command_type", fmt.Sprintf("%T", cmd))
			}
		case <-reaper.Chan():
			a.handleAlarm()
			reaper.Reschedule()
		}
	}
}

// load restores preferences and the undelivered queue. The preferences
// store is authoritative; the snapshot copy is the fallback when the store
// has no row or is unavailable.
func (a *AlertActor) load() {
	ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
	defer cancel()

	var snapState *alertSnapshotState
	snap, err := a.cfg.Store.Get(ctx, a.cfg.UserID)
	if err != nil {
		if err != domain.ErrSnapshotNotFound {
			slog.Warn("Failed to load alert snapshot, starting empty", "user_id", a.cfg.UserID, "error", err)
		}
	} else if len(snap.State) > 0 {
		var state alertSnapshotState
		if err := json.Unmarshal(snap.State, &state); err != nil {
			slog.Warn("Corrupt alert snapshot, starting empty", "user_id", a.cfg.UserID, "error", err)
		} else {
			snapState = &state
		}
	}

	if snapState != nil {
		a.queue = snapState.Queue
		a.prefs = snapState.Preferences
	}

	if a.cfg.Preferences != nil {
		prefs, err := a.cfg.Preferences.Get(ctx, a.cfg.UserID)
		switch {
		case err == nil:
			a.prefs = *prefs
		case err == domain.ErrPreferencesNotFound && snapState == nil:
			a.prefs = domain.DefaultPreferences()
		case err != domain.ErrPreferencesNotFound:
			slog.Warn("Failed to load preferences, using cached copy", "user_id", a.cfg.UserID, "error", err)
		}
	}
}

func (a *AlertActor) handleSendAlert(alert domain.Alert) {
	// Inbound alerts count as activity for a session-less actor.
	if len(a.sessions) == 0 {
		a.emptySince = a.cfg.Clock.Now()
	}

	if !a.prefs.Allows(alert.Type) {
		slog.Debug("Alert suppressed by preferences", "user_id", a.cfg.UserID, "alert_type", string(alert.Type))
		metrics.AlertsTotal.WithLabelValues("suppressed_pref").Inc()
		return
	}

	if a.prefs.Suppressed(alert.Timestamp) {
		slog.Debug("Alert suppressed by quiet hours", "user_id", a.cfg.UserID, "alert_type", string(alert.Type))
		metrics.AlertsTotal.WithLabelValues("suppressed_quiet").Inc()
		return
	}

	if len(a.sessions) == 0 {
		a.queue = append(a.queue, alert)
		metrics.AlertsTotal.WithLabelValues("queued").Inc()
		a.persistAsync()
		return
	}

	frame, err := protocol.EncodeAlert(alert, a.cfg.Clock.Now())
	if err != nil {
		slog.Error("Failed to encode alert", "user_id", a.cfg.UserID, "error", err)
		return
	}

	var slow []*Session
	for _, sess := range a.sessions {
		if !sess.Send(frame) {
			slow = append(slow, sess)
		}
	}
	for _, sess := range slow {
		metrics.SlowClientsEvicted.Inc()
		a.handleCloseSession(sess, "send buffer full")
	}

	metrics.AlertsTotal.WithLabelValues("delivered").Inc()
}

func (a *AlertActor) handleOpenSession(c alertOpenSessionCmd) {
	if len(a.sessions) >= a.cfg.MaxSessions {
		slog.Warn("Rejecting client: max sessions reached", "user_id", a.cfg.UserID, "max_sessions", a.cfg.MaxSessions)
		_ = c.conn.Close()
		c.replyChannel <- openSessionResult{err: domain.ErrTooManySessions}
		return
	}

	sess := NewSession(c.conn, a.cfg.Clock, a.cfg.UserID)
	a.sessions[sess.ID()] = sess
	a.emptySince = time.Time{}
	metrics.SessionsConnected.Inc()

	// Replay the offline queue in original arrival order, then clear it.
	if len(a.queue) > 0 {
		now := a.cfg.Clock.Now()
		for _, alert := range a.queue {
			if frame, err := protocol.EncodeAlert(alert, now); err == nil {
				sess.Send(frame)
				metrics.AlertsTotal.WithLabelValues("replayed").Inc()
			}
		}
		a.queue = nil
		a.persistAsync()
	}

	slog.Debug("Alert session opened", "user_id", a.cfg.UserID, "session_id", sess.ID().String())
	c.replyChannel <- openSessionResult{session: sess}
}

func (a *AlertActor) handleInbound(sess *Session, raw []byte) {
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
		// The alert stream has no game state to replay.
		a.sendError(sess, "request_update is not supported on the alert stream", now)
	default:
		a.sendError(sess, "unknown message type", now)
	}
}

func (a *AlertActor) sendFrame(sess *Session, kind protocol.Kind, data any, now time.Time) {
	frame, err := protocol.Encode(kind, data, now)
	if err != nil {
		slog.Error("Failed to encode frame", "kind", string(kind), "error", err)
		return
	}
	sess.Send(frame)
}

func (a *AlertActor) sendError(sess *Session, reason string, now time.Time) {
	if frame, err := protocol.EncodeError(reason, now); err == nil {
		sess.Send(frame)
	}
}

func (a *AlertActor) handleCloseSession(sess *Session, reason string) {
	if _, ok := a.sessions[sess.ID()]; !ok {
		return
	}

	delete(a.sessions, sess.ID())
	sess.Close(reason)
	metrics.SessionsConnected.Dec()

	if len(a.sessions) == 0 && !a.stopping {
		slog.Info("Last alert session closed, draining", "user_id", a.cfg.UserID)
		a.drain()
	}
}

// drain persists the queue and preferences, then notifies the host.
func (a *AlertActor) drain() {
	a.persistAsync()
	a.emptySince = a.cfg.Clock.Now()
	if a.cfg.OnDrained != nil {
		go a.cfg.OnDrained()
	}
}

func (a *AlertActor) handleAlarm() {
	now := a.cfg.Clock.Now()

	// Prune queued alerts past the retention window.
	if len(a.queue) > 0 {
		cutoff := now.Add(-a.cfg.Retention)
		kept := a.queue[:0]
		pruned := 0
		for _, alert := range a.queue {
			if alert.Timestamp.Before(cutoff) {
				pruned++
				continue
			}
			kept = append(kept, alert)
		}
		if pruned > 0 {
			a.queue = kept
			metrics.AlertsTotal.WithLabelValues("pruned").Add(float64(pruned))
			slog.Debug("Pruned stale queued alerts", "user_id", a.cfg.UserID, "pruned", pruned, "remaining", len(a.queue))
			a.persistAsync()
		}
	}

	var stale []*Session
	for _, sess := range a.sessions {
		if now.Sub(sess.LastActivity()) > a.cfg.IdleTimeout {
			stale = append(stale, sess)
		}
	}
	for _, sess := range stale {
		metrics.SessionsEvictedTotal.WithLabelValues("idle").Inc()
		a.handleCloseSession(sess, CloseReasonTimeout)
	}

	if len(a.sessions) == 0 && !a.emptySince.IsZero() && now.Sub(a.emptySince) >= a.cfg.ReaperInterval {
		slog.Info("No sessions for a full reaper interval, draining", "user_id", a.cfg.UserID)
		a.drain()
	}
}

func (a *AlertActor) snapshotCopy() *domain.Snapshot {
	state, err := json.Marshal(alertSnapshotState{Preferences: a.prefs, Queue: a.queue})
	if err != nil {
		slog.Error("Failed to marshal alert snapshot state", "user_id", a.cfg.UserID, "error", err)
		return nil
	}
	return &domain.Snapshot{
		EntityID:        a.cfg.UserID,
		State:           state,
		LastUpdated:     a.cfg.Clock.Now(),
		SubscriberCount: len(a.sessions),
	}
}

func (a *AlertActor) persistAsync() {
	snap := a.snapshotCopy()
	if snap == nil {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
		defer cancel()

		if err := a.cfg.Store.Put(ctx, snap); err != nil {
			slog.Warn("Alert snapshot persist failed", "user_id", snap.EntityID, "error", err)
			metrics.SnapshotPersistFailures.Inc()
		}
	}()
}

func (a *AlertActor) handleStop() {
	a.stopping = true
	slog.Info("Alert actor shutting down", "user_id", a.cfg.UserID, "sessions", len(a.sessions), "queued", len(a.queue))
	a.closeAllSessions("Server shutting down")

	snap := a.snapshotCopy()
	if snap == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
	defer cancel()

	if err := a.cfg.Store.Put(ctx, snap); err != nil {
		slog.Warn("Final alert snapshot persist failed", "user_id", snap.EntityID, "error", err)
		metrics.SnapshotPersistFailures.Inc()
	}
}

func (a *AlertActor) closeAllSessions(reason string) {
	for id, sess := range a.sessions {
		delete(a.sessions, id)
		sess.Close(reason)
		metrics.SessionsConnected.Dec()
	}
}
