package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func at(hour, minute int) time.Time {
	return time.Date(2026, 9, 1, hour, minute, 0, 0, time.UTC)
}

func TestQuietHours_NormalWindow(t *testing.T) {
	q := QuietHours{Start: "09:00", End: "17:00"}

	assert.True(t, q.Contains(at(9, 0)))
	assert.True(t, q.Contains(at(12, 30)))
	assert.False(t, q.Contains(at(17, 0)))
	assert.False(t, q.Contains(at(8, 59)))
	assert.False(t, q.Contains(at(23, 0)))
}

func TestQuietHours_WrapsMidnight(t *testing.T) {
	q := QuietHours{Start: "22:00", End: "06:00"}

	assert.True(t, q.Contains(at(23, 30)))
	assert.True(t, q.Contains(at(2, 0)))
	assert.True(t, q.Contains(at(22, 0)))
	assert.False(t, q.Contains(at(12, 0)))
	assert.False(t, q.Contains(at(6, 0)))
	assert.False(t, q.Contains(at(21, 59)))
}

func TestQuietHours_DegenerateWindows(t *testing.T) {
	// Equal bounds mean an empty window, not a 24h one.
	q := QuietHours{Start: "08:00", End: "08:00"}
	assert.False(t, q.Contains(at(8, 0)))
	assert.False(t, q.Contains(at(20, 0)))

	// Malformed bounds never suppress.
	q = QuietHours{Start: "not-a-time", End: "06:00"}
	assert.False(t, q.Contains(at(3, 0)))
}

func TestQuietHours_Validate(t *testing.T) {
	require.NoError(t, QuietHours{Start: "22:00", End: "06:00"}.Validate())
	require.NoError(t, QuietHours{Start: "00:00", End: "23:59"}.Validate())

	assert.Error(t, QuietHours{Start: "25:00", End: "06:00"}.Validate())
	assert.Error(t, QuietHours{Start: "22:00", End: "06:61"}.Validate())
	assert.Error(t, QuietHours{Start: "", End: "06:00"}.Validate())
	assert.Error(t, QuietHours{Start: "22h00", End: "06:00"}.Validate())
}

func TestAlertPreferences_Allows(t *testing.T) {
	prefs := AlertPreferences{
		AlertTypes: map[AlertType]bool{
			AlertScoreUpdate: false,
			AlertGameEnd:     true,
		},
	}

	assert.False(t, prefs.Allows(AlertScoreUpdate))
	assert.True(t, prefs.Allows(AlertGameEnd))
	// Types missing from the map are enabled.
	assert.True(t, prefs.Allows(AlertGameStart))
}

func TestAlertPreferences_Suppressed(t *testing.T) {
	prefs := AlertPreferences{
		QuietHours: &QuietHours{Start: "22:00", End: "06:00"},
	}

	assert.True(t, prefs.Suppressed(at(23, 30)))
	assert.False(t, prefs.Suppressed(at(12, 0)))

	// No quiet hours configured means nothing is suppressed.
	assert.False(t, AlertPreferences{}.Suppressed(at(23, 30)))
}

func TestDefaultPreferences(t *testing.T) {
	prefs := DefaultPreferences()

	for _, at := range []AlertType{AlertScoreUpdate, AlertGameStart, AlertGameEnd, AlertCloseGame} {
		assert.True(t, prefs.Allows(at), "default should allow %s", at)
	}
	assert.Nil(t, prefs.QuietHours)
}
