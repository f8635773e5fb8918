// Package poller implements the polling-style scoreboard feed: a single
// global actor that shares the broadcast runtime's session and message
// semantics but acquires state by polling an external HTTP source per
// subscribed game id, starting each poll loop lazily on first subscriber
// and cancelling it when the last one leaves.
package poller

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/ahump20/gameday/internal/actor"
	"github.com/ahump20/gameday/internal/metrics"
	"github.com/ahump20/gameday/internal/protocol"
)

const (
	commandTimeout      = 5 * time.Second
	fetchTimeout        = 5 * time.Second
	stopTimeout         = 10 * time.Second
	defaultPollInterval = 10 * time.Second
	maxResponseBytes    = 1 << 20
)

// FetchFunc retrieves the current state of one game from the external
// source.
type FetchFunc func(ctx context.Context, gameID string) (json.RawMessage, error)

// NewHTTPFetcher builds a FetchFunc against a scoreboard base URL; the game
// state is expected at GET {baseURL}/games/{gameID}.
func NewHTTPFetcher(baseURL string, client *http.Client) FetchFunc {
	if client == nil {
		client = &http.Client{Timeout: fetchTimeout}
	}
	return func(ctx context.Context, gameID string) (json.RawMessage, error) {
		url := fmt.Sprintf("%s/games/%s", baseURL, gameID)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to build scoreboard request: %w", err)
		}

		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("scoreboard fetch failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("scoreboard returned status %d for game %s", resp.StatusCode, gameID)
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return nil, fmt.Errorf("failed to read scoreboard response: %w", err)
		}
		if !json.Valid(body) {
			return nil, fmt.Errorf("scoreboard returned invalid JSON for game %s", gameID)
		}
		return body, nil
	}
}

// pollerCmd is the command interface for the Poller event loop.
type pollerCmd interface{ isPollerCmd() }

type basePollerCmd struct{}

func (basePollerCmd) isPollerCmd() {}

type openSessionCmd struct {
	basePollerCmd
	conn         *websocket.Conn
	replyChannel chan openSessionResult
}

type openSessionResult struct {
	session *actor.Session
	err     error
}

type inboundCmd struct {
	basePollerCmd
	session *actor.Session
	raw     []byte
}

type closeSessionCmd struct {
	basePollerCmd
	session *actor.Session
	reason  string
}

type stateFetchedCmd struct {
	basePollerCmd
	gameID string
	state  json.RawMessage
}

type clientCountCmd struct {
	basePollerCmd
	replyChannel chan int
}

type stopCmd struct {
	basePollerCmd
}

// Config configures the poller.
type Config struct {
	Fetch        FetchFunc
	Clock        clockwork.Clock
	PollInterval time.Duration
	IdleTimeout  time.Duration
	ReaperTick   time.Duration
}

func (c *Config) applyDefaults() {
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 5 * time.Minute
	}
	if c.ReaperTick <= 0 {
		c.ReaperTick = 60 * time.Second
	}
}

// Poller is the single global actor for the pull-through feed.
type Poller struct {
	cfg   Config
	cmdCh chan pollerCmd
	done  chan struct{}

	// Owned by the run goroutine.
	sessions map[uuid.UUID]*actor.Session
	subs     map[string]map[uuid.UUID]*actor.Session
	loops    map[string]context.CancelFunc
	latest   map[string]json.RawMessage
}

// New creates and starts the poller.
func New(cfg Config) *Poller {
	cfg.applyDefaults()
	p := &Poller{
		cfg:      cfg,
		cmdCh:    make(chan pollerCmd, 256),
		done:     make(chan struct{}),
		sessions: make(map[uuid.UUID]*actor.Session),
		subs:     make(map[string]map[uuid.UUID]*actor.Session),
		loops:    make(map[string]context.CancelFunc),
		latest:   make(map[string]json.RawMessage),
	}
	go p.run()
	return p
}

// OpenSession registers a session and answers with a connected handshake.
func (p *Poller) OpenSession(conn *websocket.Conn) (*actor.Session, error) {
	replyCh := make(chan openSessionResult, 1)

	select {
	case p.cmdCh <- openSessionCmd{conn: conn, replyChannel: replyCh}:
	case <-p.done:
		return nil, fmt.Errorf("poller is stopped")
	}

	timer := p.cfg.Clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case res := <-replyCh:
		return res.session, res.err
	case <-p.done:
		return nil, fmt.Errorf("poller is stopped")
	case <-timer.Chan():
		return nil, fmt.Errorf("open session timed out after %v", commandTimeout)
	}
}

// HandleMessage dispatches a raw inbound client frame for a session.
func (p *Poller) HandleMessage(session *actor.Session, raw []byte) {
	select {
	case p.cmdCh <- inboundCmd{session: session, raw: raw}:
	case <-p.done:
	}
}

// CloseSession removes a session, cancelling poll loops that lose their last
// subscriber.
func (p *Poller) CloseSession(session *actor.Session, reason string) {
	select {
	case p.cmdCh <- closeSessionCmd{session: session, reason: reason}:
	case <-p.done:
	}
}

// ClientCount returns the number of connected sessions.
func (p *Poller) ClientCount() int {
	replyCh := make(chan int, 1)

	select {
	case p.cmdCh <- clientCountCmd{replyChannel: replyCh}:
	case <-p.done:
		return 0
	}

	select {
	case n := <-replyCh:
		return n
	case <-p.done:
		return 0
	}
}

// Stop shuts the poller down, cancelling all poll loops and closing all
// sessions.
func (p *Poller) Stop() {
	select {
	case p.cmdCh <- stopCmd{}:
	case <-p.done:
		return
	}

	timer := p.cfg.Clock.NewTimer(stopTimeout)
	defer timer.Stop()

	select {
	case <-p.done:
	case <-timer.Chan():
		slog.Warn("Poller stop timeout exceeded")
	}
}

// --- Event loop ---

func (p *Poller) run() {
	defer close(p.done)
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Poller panic recovered", "panic", r)
			metrics.ActorPanicsTotal.Inc()
			p.teardown("internal error")
		}
	}()

	reaper := p.cfg.Clock.NewTicker(p.cfg.ReaperTick)
	defer reaper.Stop()

	for {
		select {
		case cmd := <-p.cmdCh:
			switch c := cmd.(type) {
			case openSessionCmd:
				p.handleOpenSession(c)
			case inboundCmd:
				p.handleInbound(c.session, c.raw)
			case closeSessionCmd:
				p.handleCloseSession(c.session, c.reason)
			case stateFetchedCmd:
				p.handleStateFetched(c.gameID, c.state)
			case clientCountCmd:
				c.replyChannel <- len(p.sessions)
			case stopCmd:
				p.teardown("Server shutting down")
				return
			default:
				slog.Warn("Poller received unknown command type", "command_type", fmt.Sprintf("%T", cmd))
			}
		case <-reaper.Chan():
			p.handleAlarm()
		}
	}
}

func (p *Poller) handleOpenSession(c openSessionCmd) {
	sess := actor.NewSession(c.conn, p.cfg.Clock, "")
	p.sessions[sess.ID()] = sess
	metrics.SessionsConnected.Inc()

	now := p.cfg.Clock.Now()
	if frame, err := protocol.Encode(protocol.KindConnected, protocol.Connected{SessionID: sess.ID().String()}, now); err == nil {
		sess.Send(frame)
	}

	c.replyChannel <- openSessionResult{session: sess}
}

func (p *Poller) handleInbound(sess *actor.Session, raw []byte) {
	if _, ok := p.sessions[sess.ID()]; !ok {
		return
	}

	now := p.cfg.Clock.Now()

	msg, err := protocol.Decode(raw)
	if err != nil {
		p.sendError(sess, err.Error(), now)
		return
	}

	sess.Touch(now)

	switch m := msg.(type) {
	case protocol.Subscribe:
		p.subscribe(sess, m.GameID, now)
	case protocol.Unsubscribe:
		p.unsubscribe(sess, m.GameID, now)
	case protocol.Ping:
		p.sendFrame(sess, protocol.KindPong, nil, now)
	case protocol.RequestUpdate:
		sent := false
		for gameID := range p.subs {
			if _, ok := p.subs[gameID][sess.ID()]; !ok {
				continue
			}
			if state, ok := p.latest[gameID]; ok {
				p.sendGameUpdate(sess, gameID, state, now)
				sent = true
			}
		}
		if !sent {
			p.sendError(sess, "no game state available", now)
		}
	default:
		p.sendError(sess, "unknown message type", now)
	}
}

func (p *Poller) subscribe(sess *actor.Session, gameID string, now time.Time) {
	subscribers, ok := p.subs[gameID]
	if !ok {
		subscribers = make(map[uuid.UUID]*actor.Session)
		p.subs[gameID] = subscribers
	}
	subscribers[sess.ID()] = sess
	sess.Subscribe(gameID)

	// First subscriber starts the poll loop for this game.
	if _, running := p.loops[gameID]; !running {
		ctx, cancel := context.WithCancel(context.Background())
		p.loops[gameID] = cancel
		metrics.PollerLoopsActive.Inc()
		go p.pollLoop(ctx, gameID)
	}

	p.sendFrame(sess, protocol.KindSubscribe, protocol.Ack{GameID: gameID, Success: true}, now)
	p.sendFrame(sess, protocol.KindConnected, protocol.Connected{SessionID: sess.ID().String(), GameID: gameID}, now)

	// A cached state is delivered immediately rather than waiting a tick.
	if state, ok := p.latest[gameID]; ok {
		p.sendGameUpdate(sess, gameID, state, now)
	}
}

func (p *Poller) unsubscribe(sess *actor.Session, gameID string, now time.Time) {
	if subscribers, ok := p.subs[gameID]; ok {
		delete(subscribers, sess.ID())
		if len(subscribers) == 0 {
			p.stopLoop(gameID)
		}
	}
	sess.Unsubscribe(gameID)
	p.sendFrame(sess, protocol.KindUnsubscribe, protocol.Ack{GameID: gameID, Success: true}, now)
}

// stopLoop cancels the poll loop for a game that lost its last subscriber.
func (p *Poller) stopLoop(gameID string) {
	if cancel, ok := p.loops[gameID]; ok {
		cancel()
		delete(p.loops, gameID)
		metrics.PollerLoopsActive.Dec()
	}
	delete(p.subs, gameID)
	delete(p.latest, gameID)
}

func (p *Poller) pollLoop(ctx context.Context, gameID string) {
	// Fetch once immediately so the first subscriber is not left waiting a
	// full interval.
	p.fetchOnce(ctx, gameID)

	ticker := p.cfg.Clock.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			p.fetchOnce(ctx, gameID)
		}
	}
}

func (p *Poller) fetchOnce(ctx context.Context, gameID string) {
	fetchCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
	state, err := p.cfg.Fetch(fetchCtx, gameID)
	cancel()

	if err != nil {
		if ctx.Err() == nil {
			slog.Warn("Scoreboard fetch failed", "game_id", gameID, "error", err)
			metrics.PollerFetchesTotal.WithLabelValues("error").Inc()
		}
		return
	}
	metrics.PollerFetchesTotal.WithLabelValues("success").Inc()

	select {
	case p.cmdCh <- stateFetchedCmd{gameID: gameID, state: state}:
	case <-ctx.Done():
	}
}

func (p *Poller) handleStateFetched(gameID string, state json.RawMessage) {
	subscribers, ok := p.subs[gameID]
	if !ok {
		// Last subscriber left while the fetch was in flight.
		return
	}

	p.latest[gameID] = state
	now := p.cfg.Clock.Now()

	frame, err := protocol.Encode(protocol.KindGameUpdate, protocol.GameUpdate{GameID: gameID, GameState: state}, now)
	if err != nil {
		slog.Error("Failed to encode game update", "game_id", gameID, "error", err)
		return
	}

	var slow []*actor.Session
	for _, sess := range subscribers {
		if !sess.Send(frame) {
			slow = append(slow, sess)
		}
	}
	for _, sess := range slow {
		metrics.SlowClientsEvicted.Inc()
		p.handleCloseSession(sess, "send buffer full")
	}
}

func (p *Poller) handleCloseSession(sess *actor.Session, reason string) {
	if _, ok := p.sessions[sess.ID()]; !ok {
		return
	}

	delete(p.sessions, sess.ID())
	for gameID, subscribers := range p.subs {
		delete(subscribers, sess.ID())
		if len(subscribers) == 0 {
			p.stopLoop(gameID)
		}
	}
	sess.Close(reason)
	metrics.SessionsConnected.Dec()
}

func (p *Poller) handleAlarm() {
	now := p.cfg.Clock.Now()

	var stale []*actor.Session
	for _, sess := range p.sessions {
		if now.Sub(sess.LastActivity()) > p.cfg.IdleTimeout {
			stale = append(stale, sess)
		}
	}
	for _, sess := range stale {
		metrics.SessionsEvictedTotal.WithLabelValues("idle").Inc()
		p.handleCloseSession(sess, actor.CloseReasonTimeout)
	}
}

func (p *Poller) sendGameUpdate(sess *actor.Session, gameID string, state json.RawMessage, now time.Time) {
	if frame, err := protocol.Encode(protocol.KindGameUpdate, protocol.GameUpdate{GameID: gameID, GameState: state}, now); err == nil {
		sess.Send(frame)
	}
}

func (p *Poller) sendFrame(sess *actor.Session, kind protocol.Kind, data any, now time.Time) {
	frame, err := protocol.Encode(kind, data, now)
	if err != nil {
		slog.Error("Failed to encode frame", "kind", string(kind), "error", err)
		return
	}
	sess.Send(frame)
}

func (p *Poller) sendError(sess *actor.Session, reason string, now time.Time) {
	if frame, err := protocol.EncodeError(reason, now); err == nil {
		sess.Send(frame)
	}
}

func (p *Poller) teardown(reason string) {
	for gameID := range p.loops {
		p.stopLoop(gameID)
	}
	for id, sess := range p.sessions {
		delete(p.sessions, id)
		sess.Close(reason)
		metrics.SessionsConnected.Dec()
	}
}
