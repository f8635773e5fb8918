package snapshot

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ahump20/gameday/internal/domain"
)

const (
	// Redis hash field names for snapshot keys.
	fieldState           = "state"
	fieldDerived         = "derived"
	fieldLastUpdated     = "last_updated"
	fieldSubscriberCount = "subscriber_count"
)

// RedisStore persists snapshots as one redis hash per entity id.
type RedisStore struct {
	rdb *redis.Client
}

var _ domain.SnapshotStore = (*RedisStore)(nil)

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func snapshotKey(entityID string) string {
	return "gameday:snapshot:" + entityID
}

func (s *RedisStore) Get(ctx context.Context, entityID string) (*domain.Snapshot, error) {
	fields, err := s.rdb.HGetAll(ctx, snapshotKey(entityID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot for %s: %w", entityID, err)
	}
	if len(fields) == 0 {
		return nil, domain.ErrSnapshotNotFound
	}

	snap := &domain.Snapshot{EntityID: entityID}

	if state, ok := fields[fieldState]; ok && state != "" {
		snap.State = []byte(state)
	}

	if raw, ok := fields[fieldDerived]; ok && raw != "" {
		derived, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("corrupt derived value for %s: %w", entityID, err)
		}
		snap.Derived = &derived
	}

	if raw, ok := fields[fieldLastUpdated]; ok && raw != "" {
		millis, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("corrupt last_updated for %s: %w", entityID, err)
		}
		snap.LastUpdated = time.UnixMilli(millis).UTC()
	}

	if raw, ok := fields[fieldSubscriberCount]; ok && raw != "" {
		count, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("corrupt subscriber_count for %s: %w", entityID, err)
		}
		snap.SubscriberCount = count
	}

	return snap, nil
}

func (s *RedisStore) Put(ctx context.Context, snap *domain.Snapshot) error {
	derived := ""
	if snap.Derived != nil {
		derived = strconv.FormatFloat(*snap.Derived, 'f', -1, 64)
	}

	err := s.rdb.HSet(ctx, snapshotKey(snap.EntityID), map[string]any{
		fieldState:           string(snap.State),
		fieldDerived:         derived,
		fieldLastUpdated:     strconv.FormatInt(snap.LastUpdated.UnixMilli(), 10),
		fieldSubscriberCount: strconv.Itoa(snap.SubscriberCount),
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to write snapshot for %s: %w", snap.EntityID, err)
	}
	return nil
}
