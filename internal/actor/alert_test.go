package actor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahump20/gameday/internal/domain"
	"github.com/ahump20/gameday/internal/protocol"
	"github.com/ahump20/gameday/internal/snapshot"
)

// stubPrefsStore is an in-memory PreferencesStore for tests.
type stubPrefsStore struct {
	mu    sync.Mutex
	prefs map[string]domain.AlertPreferences
}

func newStubPrefsStore() *stubPrefsStore {
	return &stubPrefsStore{prefs: make(map[string]domain.AlertPreferences)}
}

func (s *stubPrefsStore) Get(_ context.Context, userID string) (*domain.AlertPreferences, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.prefs[userID]
	if !ok {
		return nil, domain.ErrPreferencesNotFound
	}
	return &p, nil
}

func (s *stubPrefsStore) Upsert(_ context.Context, userID string, prefs domain.AlertPreferences) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefs[userID] = prefs
	return nil
}

func testAlertActor(t *testing.T, cfg AlertConfig) (*AlertActor, func() *ws.Conn) {
	t.Helper()

	if cfg.UserID == "" {
		cfg.UserID = "user-1"
	}
	if cfg.Store == nil {
		cfg.Store = snapshot.NewMemoryStore()
	}

	actor := NewAlertActor(cfg)
	t.Cleanup(func() { actor.Stop() })

	upgrader := ws.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		sess, err := actor.OpenSession(conn)
		if err != nil {
			return
		}
		go func() {
			for {
				_, raw, err := conn.ReadMessage()
				if err != nil {
					actor.CloseSession(sess, "client disconnect")
					return
				}
				actor.HandleMessage(sess, raw)
			}
		}()
	}))
	t.Cleanup(func() { server.Close() })

	dial := func() *ws.Conn {
		t.Helper()
		url := "ws" + strings.TrimPrefix(server.URL, "http")
		conn, _, err := ws.DefaultDialer.Dial(url, nil)
		require.NoError(t, err)
		t.Cleanup(func() { conn.Close() })
		return conn
	}

	return actor, dial
}

func alertFrom(t *testing.T, env protocol.Envelope) domain.Alert {
	t.Helper()
	require.Equal(t, protocol.KindAlert, env.Type)
	var alert domain.Alert
	require.NoError(t, json.Unmarshal(env.Data, &alert))
	return alert
}

func scoreAlert(id string, ts time.Time) domain.Alert {
	return domain.Alert{
		ID:        id,
		Type:      domain.AlertScoreUpdate,
		Payload:   json.RawMessage(`{"gameId":"game-1"}`),
		Timestamp: ts,
	}
}

func TestAlertActor_DeliversToLiveSession(t *testing.T) {
	actor, dial := testAlertActor(t, AlertConfig{})
	conn := dial()
	waitForClientCount(t, actor.ClientCount, 1)

	actor.SendAlert(scoreAlert("a1", time.Now()))

	alert := alertFrom(t, readEnvelope(t, conn))
	assert.Equal(t, "a1", alert.ID)
	assert.Equal(t, domain.AlertScoreUpdate, alert.Type)
	assert.Equal(t, 0, actor.QueueLength())
}

func TestAlertActor_DisabledTypeDropped(t *testing.T) {
	prefs := newStubPrefsStore()
	require.NoError(t, prefs.Upsert(context.Background(), "user-1", domain.AlertPreferences{
		AlertTypes: map[domain.AlertType]bool{domain.AlertScoreUpdate: false},
	}))

	actor, dial := testAlertActor(t, AlertConfig{Preferences: prefs})
	conn := dial()
	waitForClientCount(t, actor.ClientCount, 1)

	actor.SendAlert(scoreAlert("a1", time.Now()))

	// No delivery and no queue entry: the alert is gone.
	assertNoFrame(t, conn)
	assert.Equal(t, 0, actor.QueueLength())

	// Other types still flow.
	actor.SendAlert(domain.Alert{ID: "a2", Type: domain.AlertGameEnd, Timestamp: time.Now()})
	alert := alertFrom(t, readEnvelope(t, conn))
	assert.Equal(t, "a2", alert.ID)
}

func TestAlertActor_QuietHoursWrapMidnight(t *testing.T) {
	prefs := newStubPrefsStore()
	require.NoError(t, prefs.Upsert(context.Background(), "user-1", domain.AlertPreferences{
		QuietHours: &domain.QuietHours{Start: "22:00", End: "06:00"},
	}))

	actor, dial := testAlertActor(t, AlertConfig{Preferences: prefs})
	conn := dial()
	waitForClientCount(t, actor.ClientCount, 1)

	lateNight := time.Date(2026, 9, 1, 23, 30, 0, 0, time.UTC)
	actor.SendAlert(scoreAlert("night", lateNight))
	assertNoFrame(t, conn)
	assert.Equal(t, 0, actor.QueueLength())

	noon := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	actor.SendAlert(scoreAlert("noon", noon))
	alert := alertFrom(t, readEnvelope(t, conn))
	assert.Equal(t, "noon", alert.ID)
}

func TestAlertActor_QueuesOfflineAndReplaysInOrder(t *testing.T) {
	actor, dial := testAlertActor(t, AlertConfig{})

	now := time.Now()
	actor.SendAlert(scoreAlert("a1", now))
	actor.SendAlert(scoreAlert("a2", now.Add(time.Second)))
	actor.SendAlert(scoreAlert("a3", now.Add(2*time.Second)))

	for range 200 {
		if actor.QueueLength() == 3 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.Equal(t, 3, actor.QueueLength())

	conn := dial()
	for _, want := range []string{"a1", "a2", "a3"} {
		alert := alertFrom(t, readEnvelope(t, conn))
		assert.Equal(t, want, alert.ID)
	}

	// Replay empties the queue; a second connection gets nothing.
	assert.Equal(t, 0, actor.QueueLength())
	second := dial()
	assertNoFrame(t, second)
}

func TestAlertActor_RetentionPrunesOldQueuedAlerts(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Now())
	actor, _ := testAlertActor(t, AlertConfig{
		Clock:          clock,
		Retention:      time.Hour,
		ReaperInterval: time.Minute,
	})

	actor.SendAlert(scoreAlert("old", clock.Now()))
	for range 200 {
		if actor.QueueLength() == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.Equal(t, 1, actor.QueueLength())

	// Step past the retention window one reaper tick at a time.
	for range 62 {
		clock.Advance(time.Minute)
		time.Sleep(2 * time.Millisecond)
	}

	for range 200 {
		if actor.QueueLength() == 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, 0, actor.QueueLength())
}

func TestAlertActor_ReaperDrainsSessionlessActor(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Now())
	store := snapshot.NewMemoryStore()
	drained := make(chan struct{}, 1)

	actor := NewAlertActor(AlertConfig{
		UserID:         "user-1",
		Store:          store,
		Clock:          clock,
		ReaperInterval: time.Minute,
		OnDrained:      func() { drained <- struct{}{} },
	})
	t.Cleanup(actor.Stop)
	time.Sleep(20 * time.Millisecond)

	actor.SendAlert(scoreAlert("queued", clock.Now()))
	for range 200 {
		if actor.QueueLength() == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.Equal(t, 1, actor.QueueLength())

	for range 3 {
		clock.Advance(time.Minute)
		time.Sleep(20 * time.Millisecond)
	}

	select {
	case <-drained:
	case <-time.After(2 * time.Second):
		t.Fatal("session-less actor was never drained")
	}

	// The undelivered queue is in the persisted snapshot, ready for the
	// next cold start.
	var snap *domain.Snapshot
	for range 200 {
		var err error
		if snap, err = store.Get(context.Background(), "user-1"); err == nil {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.NotNil(t, snap)
	var state alertSnapshotState
	require.NoError(t, json.Unmarshal(snap.State, &state))
	require.Len(t, state.Queue, 1)
	assert.Equal(t, "queued", state.Queue[0].ID)
}

func TestAlertActor_UpdatePreferencesNoRetroactiveFiltering(t *testing.T) {
	actor, dial := testAlertActor(t, AlertConfig{})

	// Queued while the type was still enabled.
	actor.SendAlert(scoreAlert("queued", time.Now()))
	for range 200 {
		if actor.QueueLength() == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.Equal(t, 1, actor.QueueLength())

	actor.UpdatePreferences(domain.AlertPreferences{
		AlertTypes: map[domain.AlertType]bool{domain.AlertScoreUpdate: false},
	})

	// New alerts of the type are dropped, but the queued one survives and
	// replays on connect.
	actor.SendAlert(scoreAlert("dropped", time.Now()))

	conn := dial()
	alert := alertFrom(t, readEnvelope(t, conn))
	assert.Equal(t, "queued", alert.ID)
	assertNoFrame(t, conn)
}

func TestAlertActor_RequestUpdateAnswersError(t *testing.T) {
	_, dial := testAlertActor(t, AlertConfig{})
	conn := dial()

	sendEnvelope(t, conn, protocol.KindRequestUpdate, nil)

	env := readEnvelope(t, conn)
	require.Equal(t, protocol.KindError, env.Type)
	var data protocol.ErrorData
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Contains(t, data.Error, "not supported")

	// Still connected.
	sendEnvelope(t, conn, protocol.KindPing, nil)
	env = readEnvelope(t, conn)
	assert.Equal(t, protocol.KindPong, env.Type)
}

func TestAlertActor_QueueSurvivesRestartThroughSnapshot(t *testing.T) {
	store := snapshot.NewMemoryStore()

	first := NewAlertActor(AlertConfig{UserID: "user-1", Store: store})
	first.SendAlert(scoreAlert("a1", time.Now()))
	first.SendAlert(scoreAlert("a2", time.Now()))
	for range 200 {
		if first.QueueLength() == 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	first.Stop()

	// A cold actor for the same user restores the queue from the snapshot.
	second, dial := testAlertActor(t, AlertConfig{UserID: "user-1", Store: store})
	for range 200 {
		if second.QueueLength() == 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.Equal(t, 2, second.QueueLength())

	conn := dial()
	assert.Equal(t, "a1", alertFrom(t, readEnvelope(t, conn)).ID)
	assert.Equal(t, "a2", alertFrom(t, readEnvelope(t, conn)).ID)
}

func TestAlertActor_PreferencesStoreIsAuthoritative(t *testing.T) {
	store := snapshot.NewMemoryStore()

	// Snapshot says everything enabled; the durable store disables scores.
	state, err := json.Marshal(map[string]any{
		"preferences": domain.DefaultPreferences(),
	})
	require.NoError(t, err)
	require.NoError(t, store.Put(context.Background(), &domain.Snapshot{
		EntityID: "user-1",
		State:    state,
	}))

	prefs := newStubPrefsStore()
	require.NoError(t, prefs.Upsert(context.Background(), "user-1", domain.AlertPreferences{
		AlertTypes: map[domain.AlertType]bool{domain.AlertScoreUpdate: false},
	}))

	actor, dial := testAlertActor(t, AlertConfig{Store: store, Preferences: prefs})
	conn := dial()
	waitForClientCount(t, actor.ClientCount, 1)

	actor.SendAlert(scoreAlert("a1", time.Now()))
	assertNoFrame(t, conn)
	assert.Equal(t, 0, actor.QueueLength())
}
