package domain

import "errors"

var (
	ErrSnapshotNotFound    = errors.New("snapshot not found")
	ErrPreferencesNotFound = errors.New("preferences not found")
	ErrActorStopped        = errors.New("actor is stopped")
	ErrTooManySessions     = errors.New("too many sessions")
)
