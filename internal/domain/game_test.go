package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCloseGameIndex(t *testing.T) {
	tests := []struct {
		name  string
		state string
		want  float64
		ok    bool
	}{
		{"tied game", `{"homeScore":21,"awayScore":21,"period":2}`, 1.0, true},
		{"one score game", `{"homeScore":24,"awayScore":17,"period":2}`, 0.5, true},
		{"blowout", `{"homeScore":49,"awayScore":7,"period":3}`, 1.0 / 7, true},
		{"missing away score", `{"homeScore":21,"period":2}`, 0, false},
		{"no scores", `{"period":1}`, 0, false},
		{"not an object", `[1,2,3]`, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := CloseGameIndex(json.RawMessage(tt.state))
			require.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.InDelta(t, tt.want, got, 0.0001)
			}
		})
	}
}

func TestCloseGameIndex_LateGameBoost(t *testing.T) {
	early, ok := CloseGameIndex(json.RawMessage(`{"homeScore":24,"awayScore":17,"period":2}`))
	require.True(t, ok)
	late, ok := CloseGameIndex(json.RawMessage(`{"homeScore":24,"awayScore":17,"period":4}`))
	require.True(t, ok)

	assert.Greater(t, late, early)

	// The boost never pushes the index past 1.
	tied, ok := CloseGameIndex(json.RawMessage(`{"homeScore":21,"awayScore":21,"period":4}`))
	require.True(t, ok)
	assert.LessOrEqual(t, tied, 1.0)
}
