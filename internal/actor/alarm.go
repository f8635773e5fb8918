package actor

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// alarm is a self-perpetuating scheduled task: it fires no earlier than one
// interval after arming, and the owner reschedules it after handling each
// tick. Scheduling stops with the actor and starts fresh on reactivation.
type alarm struct {
	clock    clockwork.Clock
	interval time.Duration
	timer    clockwork.Timer
}

func newAlarm(clock clockwork.Clock, interval time.Duration) *alarm {
	return &alarm{
		clock:    clock,
		interval: interval,
		timer:    clock.NewTimer(interval),
	}
}

func (a *alarm) Chan() <-chan time.Time {
	return a.timer.Chan()
}

// Reschedule arms the next tick. Call after fully handling the current one.
func (a *alarm) Reschedule() {
	a.timer.Reset(a.interval)
}

func (a *alarm) Stop() {
	a.timer.Stop()
}
