package actor

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// Gate bounds the rate of full fan-out dissemination for one actor. It is a
// monotonic gate, not a token bucket: bursts beyond one event per interval
// are dropped, because only the most recent state matters for a live feed.
// Direct client requests (request_update, initial connect) bypass the gate.
type Gate struct {
	clock    clockwork.Clock
	interval time.Duration
	last     time.Time
}

// NewGate creates a gate that allows at most one broadcast per interval.
func NewGate(clock clockwork.Clock, interval time.Duration) *Gate {
	return &Gate{clock: clock, interval: interval}
}

// Allow reports whether a broadcast may happen now. An accepted true resets
// the internal last-broadcast stamp.
func (g *Gate) Allow() bool {
	now := g.clock.Now()
	if !g.last.IsZero() && now.Sub(g.last) < g.interval {
		return false
	}
	g.last = now
	return true
}
