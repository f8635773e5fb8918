package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// AlertType identifies a kind of alert a user can subscribe to.
type AlertType string

const (
	AlertScoreUpdate AlertType = "scoreUpdate"
	AlertGameStart   AlertType = "gameStart"
	AlertGameEnd     AlertType = "gameEnd"
	AlertCloseGame   AlertType = "closeGame"
)

// Alert is a single notification produced by an upstream notifier.
type Alert struct {
	ID        string          `json:"id"`
	Type      AlertType       `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// QuietHours is a user-configured time-of-day window during which alerts are
// suppressed. Start and End are local times in "HH:MM" form; if Start > End
// the window wraps midnight (e.g. 22:00-06:00).
type QuietHours struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Validate checks that both window bounds parse as "HH:MM" clock times.
func (q QuietHours) Validate() error {
	if _, err := parseClock(q.Start); err != nil {
		return err
	}
	if _, err := parseClock(q.End); err != nil {
		return err
	}
	return nil
}

// Contains reports whether t's time of day falls inside the window.
// A malformed or zero-length window never matches.
func (q QuietHours) Contains(t time.Time) bool {
	start, err := parseClock(q.Start)
	if err != nil {
		return false
	}
	end, err := parseClock(q.End)
	if err != nil {
		return false
	}
	if start == end {
		return false
	}

	minute := t.Hour()*60 + t.Minute()
	if start < end {
		return minute >= start && minute < end
	}
	// Window wraps midnight.
	return minute >= start || minute < end
}

// parseClock parses "HH:MM" into minutes since midnight.
func parseClock(s string) (int, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid clock time %q", s)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return hour*60 + minute, nil
}

// AlertPreferences holds a user's per-type enable flags and optional quiet
// hours. A type missing from AlertTypes is treated as enabled.
type AlertPreferences struct {
	AlertTypes map[AlertType]bool `json:"alertTypes"`
	QuietHours *QuietHours        `json:"quietHours,omitempty"`
}

// DefaultPreferences returns preferences with every known alert type enabled
// and no quiet hours.
func DefaultPreferences() AlertPreferences {
	return AlertPreferences{
		AlertTypes: map[AlertType]bool{
			AlertScoreUpdate: true,
			AlertGameStart:   true,
			AlertGameEnd:     true,
			AlertCloseGame:   true,
		},
	}
}

// Allows reports whether alerts of the given type are enabled.
func (p AlertPreferences) Allows(t AlertType) bool {
	enabled, ok := p.AlertTypes[t]
	if !ok {
		return true
	}
	return enabled
}

// Suppressed reports whether an alert timestamped at ts falls inside the
// active quiet-hours window.
func (p AlertPreferences) Suppressed(ts time.Time) bool {
	if p.QuietHours == nil {
		return false
	}
	return p.QuietHours.Contains(ts)
}

// PreferencesStore persists alert preferences per user id.
type PreferencesStore interface {
	// Get returns the stored preferences, or ErrPreferencesNotFound.
	Get(ctx context.Context, userID string) (*AlertPreferences, error)
	// Upsert stores or replaces the preferences for a user.
	Upsert(ctx context.Context, userID string, prefs AlertPreferences) error
}
