package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ahump20/gameday/internal/domain"
)

// PreferencesRepo stores alert preferences in postgres. It is the durable
// source of truth; actors cache a copy in their snapshots.
type PreferencesRepo struct {
	pool *pgxpool.Pool
}

var _ domain.PreferencesStore = (*PreferencesRepo)(nil)

func NewPreferencesRepo(pool *pgxpool.Pool) *PreferencesRepo {
	return &PreferencesRepo{pool: pool}
}

func (r *PreferencesRepo) Get(ctx context.Context, userID string) (*domain.AlertPreferences, error) {
	var raw []byte
	err := r.pool.QueryRow(ctx,
		`SELECT preferences FROM alert_preferences WHERE user_id = $1`,
		userID,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrPreferencesNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read preferences for %s: %w", userID, err)
	}

	var prefs domain.AlertPreferences
	if err := json.Unmarshal(raw, &prefs); err != nil {
		return nil, fmt.Errorf("corrupt preferences for %s: %w", userID, err)
	}
	return &prefs, nil
}

func (r *PreferencesRepo) Upsert(ctx context.Context, userID string, prefs domain.AlertPreferences) error {
	raw, err := json.Marshal(prefs)
	if err != nil {
		return fmt.Errorf("failed to marshal preferences: %w", err)
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO alert_preferences (user_id, preferences, updated_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (user_id)
		 DO UPDATE SET preferences = EXCLUDED.preferences, updated_at = now()`,
		userID, raw,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert preferences for %s: %w", userID, err)
	}
	return nil
}
