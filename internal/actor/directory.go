package actor

import (
	"sync"
)

// GameFactory builds a game actor for an entity id. onDrained must be wired
// into the actor's config so the directory can evict it.
type GameFactory func(gameID string, onDrained func()) *GameActor

// AlertFactory builds an alert actor for a user id.
type AlertFactory func(userID string, onDrained func()) *AlertActor

// Directory resolves a logical entity id to exactly one live actor,
// creating it on first reference and evicting it once drained. It is the
// only process-wide state in the runtime: created empty at startup, entries
// created lazily, entries removed by the idle/drain policy.
type Directory struct {
	mu       sync.Mutex
	games    map[string]*GameActor
	alerts   map[string]*AlertActor
	newGame  GameFactory
	newAlert AlertFactory
}

func NewDirectory(newGame GameFactory, newAlert AlertFactory) *Directory {
	return &Directory{
		games:    make(map[string]*GameActor),
		alerts:   make(map[string]*AlertActor),
		newGame:  newGame,
		newAlert: newAlert,
	}
}

// Game returns the live actor for a game id, creating it if needed.
// Resolution is idempotent: the same id always yields the same handle until
// the actor is evicted.
func (d *Directory) Game(gameID string) *GameActor {
	d.mu.Lock()
	defer d.mu.Unlock()

	if a, ok := d.games[gameID]; ok && !a.Stopped() {
		return a
	}

	a := d.newGame(gameID, func() { d.evictGame(gameID) })
	d.games[gameID] = a
	return a
}

// Alert returns the live actor for a user id, creating it if needed.
func (d *Directory) Alert(userID string) *AlertActor {
	d.mu.Lock()
	defer d.mu.Unlock()

	if a, ok := d.alerts[userID]; ok && !a.Stopped() {
		return a
	}

	a := d.newAlert(userID, func() { d.evictAlert(userID) })
	d.alerts[userID] = a
	return a
}

// PeekGame returns the live actor for a game id without creating one.
func (d *Directory) PeekGame(gameID string) (*GameActor, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	a, ok := d.games[gameID]
	if !ok || a.Stopped() {
		return nil, false
	}
	return a, true
}

// PeekAlert returns the live actor for a user id without creating one.
func (d *Directory) PeekAlert(userID string) (*AlertActor, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	a, ok := d.alerts[userID]
	if !ok || a.Stopped() {
		return nil, false
	}
	return a, true
}

// evictGame removes and stops a drained game actor. If a client reconnected
// between the drain notification and eviction, the actor is left alone. The
// count query goes through the actor's command loop and can block on a busy
// actor, so it must not run under the map lock.
func (d *Directory) evictGame(gameID string) {
	d.mu.Lock()
	a, ok := d.games[gameID]
	d.mu.Unlock()
	if !ok {
		return
	}

	if a.ClientCount() != 0 {
		return
	}

	d.mu.Lock()
	if cur, ok := d.games[gameID]; !ok || cur != a {
		d.mu.Unlock()
		return
	}
	delete(d.games, gameID)
	d.mu.Unlock()

	a.Stop()
}

func (d *Directory) evictAlert(userID string) {
	d.mu.Lock()
	a, ok := d.alerts[userID]
	d.mu.Unlock()
	if !ok {
		return
	}

	if a.ClientCount() != 0 {
		return
	}

	d.mu.Lock()
	if cur, ok := d.alerts[userID]; !ok || cur != a {
		d.mu.Unlock()
		return
	}
	delete(d.alerts, userID)
	d.mu.Unlock()

	a.Stop()
}

// GameCount returns the number of live game actors.
func (d *Directory) GameCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.games)
}

// AlertCount returns the number of live alert actors.
func (d *Directory) AlertCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.alerts)
}

// Stop drains and stops every live actor. Used during graceful shutdown.
func (d *Directory) Stop() {
	d.mu.Lock()
	games := make([]*GameActor, 0, len(d.games))
	for id, a := range d.games {
		games = append(games, a)
		delete(d.games, id)
	}
	alerts := make([]*AlertActor, 0, len(d.alerts))
	for id, a := range d.alerts {
		alerts = append(alerts, a)
		delete(d.alerts, id)
	}
	d.mu.Unlock()

	var wg sync.WaitGroup
	for _, a := range games {
		wg.Add(1)
		go func(a *GameActor) {
			defer wg.Done()
			a.Stop()
		}(a)
	}
	for _, a := range alerts {
		wg.Add(1)
		go func(a *AlertActor) {
			defer wg.Done()
			a.Stop()
		}(a)
	}
	wg.Wait()
}
