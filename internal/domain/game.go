package domain

import (
	"context"
	"encoding/json"
	"time"
)

// DeriveFunc computes a derived metric (e.g. a win probability) from a raw
// game state. It must be synchronous and side-effect-free. The second return
// value reports whether a metric could be derived from this state.
type DeriveFunc func(state json.RawMessage) (float64, bool)

// scoreState is the subset of a feed payload the default metric reads.
type scoreState struct {
	HomeScore *float64 `json:"homeScore"`
	AwayScore *float64 `json:"awayScore"`
	Period    int      `json:"period"`
}

// CloseGameIndex is the default DeriveFunc: a 0..1 closeness metric from a
// scoreboard payload. Tight late-game scores rank highest. States without
// both scores derive nothing.
func CloseGameIndex(state json.RawMessage) (float64, bool) {
	var s scoreState
	if err := json.Unmarshal(state, &s); err != nil {
		return 0, false
	}
	if s.HomeScore == nil || s.AwayScore == nil {
		return 0, false
	}

	margin := *s.HomeScore - *s.AwayScore
	if margin < 0 {
		margin = -margin
	}
	index := 1 / (1 + margin/7)
	if s.Period >= 4 {
		index = min(1, index*1.25)
	}
	return index, true
}

// Snapshot is the persisted, recoverable copy of an actor's current state.
// SubscriberCount is informational and recomputed at persist time.
type Snapshot struct {
	EntityID        string          `json:"entityId"`
	State           json.RawMessage `json:"state"`
	Derived         *float64        `json:"derived,omitempty"`
	LastUpdated     time.Time       `json:"lastUpdated"`
	SubscriberCount int             `json:"subscriberCount"`
}

// SnapshotStore persists one snapshot per entity id. Implementations are
// assumed eventually consistent; no transactional guarantee is required.
type SnapshotStore interface {
	// Get returns the stored snapshot for an entity, or ErrSnapshotNotFound.
	Get(ctx context.Context, entityID string) (*Snapshot, error)
	// Put stores or overwrites the snapshot for snap.EntityID.
	Put(ctx context.Context, snap *Snapshot) error
}
