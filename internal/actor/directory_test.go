package actor

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahump20/gameday/internal/domain"
	"github.com/ahump20/gameday/internal/snapshot"
)

func testDirectory(t *testing.T) *Directory {
	t.Helper()
	store := snapshot.NewMemoryStore()

	d := NewDirectory(
		func(gameID string, onDrained func()) *GameActor {
			return NewGameActor(GameConfig{GameID: gameID, Store: store, OnDrained: onDrained})
		},
		func(userID string, onDrained func()) *AlertActor {
			return NewAlertActor(AlertConfig{UserID: userID, Store: store, OnDrained: onDrained})
		},
	)
	t.Cleanup(d.Stop)
	return d
}

func TestDirectory_ResolutionIsIdempotent(t *testing.T) {
	d := testDirectory(t)

	a1 := d.Game("game-1")
	a2 := d.Game("game-1")
	assert.Same(t, a1, a2)
	assert.Equal(t, 1, d.GameCount())

	b1 := d.Alert("user-1")
	b2 := d.Alert("user-1")
	assert.Same(t, b1, b2)
	assert.Equal(t, 1, d.AlertCount())
}

func TestDirectory_DistinctIDsDistinctActors(t *testing.T) {
	d := testDirectory(t)

	a := d.Game("game-1")
	b := d.Game("game-2")
	assert.NotSame(t, a, b)
	assert.Equal(t, 2, d.GameCount())
}

func TestDirectory_PeekDoesNotCreate(t *testing.T) {
	d := testDirectory(t)

	_, ok := d.PeekGame("game-1")
	assert.False(t, ok)
	assert.Equal(t, 0, d.GameCount())

	created := d.Game("game-1")
	peeked, ok := d.PeekGame("game-1")
	require.True(t, ok)
	assert.Same(t, created, peeked)

	_, ok = d.PeekAlert("user-1")
	assert.False(t, ok)
	assert.Equal(t, 0, d.AlertCount())
}

func TestDirectory_StoppedActorReplacedOnResolve(t *testing.T) {
	d := testDirectory(t)

	a := d.Game("game-1")
	a.Stop()
	require.True(t, a.Stopped())

	// A stopped handle is never reused.
	b := d.Game("game-1")
	assert.NotSame(t, a, b)
	assert.False(t, b.Stopped())

	_, ok := d.PeekGame("game-2")
	assert.False(t, ok)
}

func TestDirectory_StopDrainsEverything(t *testing.T) {
	d := testDirectory(t)

	game := d.Game("game-1")
	alert := d.Alert("user-1")

	d.Stop()

	assert.True(t, game.Stopped())
	assert.True(t, alert.Stopped())
	assert.Equal(t, 0, d.GameCount())
	assert.Equal(t, 0, d.AlertCount())
}

// blockingStore wedges an actor's cold start until released.
type blockingStore struct {
	release chan struct{}
}

func (s *blockingStore) Get(_ context.Context, _ string) (*domain.Snapshot, error) {
	<-s.release
	return nil, domain.ErrSnapshotNotFound
}

func (s *blockingStore) Put(_ context.Context, _ *domain.Snapshot) error { return nil }

func TestDirectory_EvictionDoesNotBlockResolution(t *testing.T) {
	release := make(chan struct{})
	wedgedStore := &blockingStore{release: release}
	store := snapshot.NewMemoryStore()

	d := NewDirectory(
		func(gameID string, onDrained func()) *GameActor {
			if gameID == "wedged" {
				// A fake clock keeps the count query's timeout from firing,
				// so eviction stays stuck on the wedged actor.
				return NewGameActor(GameConfig{GameID: gameID, Store: wedgedStore, Clock: clockwork.NewFakeClock(), OnDrained: onDrained})
			}
			return NewGameActor(GameConfig{GameID: gameID, Store: store, OnDrained: onDrained})
		},
		func(userID string, onDrained func()) *AlertActor {
			return NewAlertActor(AlertConfig{UserID: userID, Store: store, OnDrained: onDrained})
		},
	)

	d.Game("wedged")

	evictDone := make(chan struct{})
	go func() {
		d.evictGame("wedged")
		close(evictDone)
	}()
	// Let the eviction reach the count query before resolving.
	time.Sleep(50 * time.Millisecond)

	// Resolving a different id must not queue behind the stuck count query.
	resolved := make(chan *GameActor, 1)
	go func() { resolved <- d.Game("game-2") }()

	select {
	case a := <-resolved:
		require.NotNil(t, a)
	case <-time.After(2 * time.Second):
		t.Fatal("resolution blocked behind a busy eviction")
	}

	close(release)
	select {
	case <-evictDone:
	case <-time.After(2 * time.Second):
		t.Fatal("eviction never completed")
	}
	d.Stop()
}

func TestDirectory_EvictionAfterDrain(t *testing.T) {
	d := testDirectory(t)

	a := d.Game("game-1")

	// The drain callback fires when the last session closes. Simulate the
	// actor reporting it directly: a drained actor with no clients leaves
	// the directory and stops.
	d.evictGame("game-1")

	assert.Equal(t, 0, d.GameCount())
	assert.True(t, a.Stopped())

	// Re-resolving the id builds a fresh actor.
	b := d.Game("game-1")
	assert.NotSame(t, a, b)
	assert.False(t, b.Stopped())
}
