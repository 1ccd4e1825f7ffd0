package protocol

import (
	"context"
	"log"
	"time"
)

// RunWatchdog starts the heartbeat task: on every tick, if the lock has
// been held longer than lockTimeout, it is cleared unilaterally. This is
// the system's final guarantee against deadlock when the election and
// explicit unlocks both fail. RunWatchdog blocks until ctx is canceled, so
// callers should run it in its own goroutine.
func (a *Authority) RunWatchdog(ctx context.Context) {
	ticker := time.NewTicker(watchdogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.checkDeadline()
		}
	}
}

func (a *Authority) checkDeadline() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state.blocker == none {
		return
	}
	if a.clock.Now().Sub(a.state.blockerSetTime) > lockTimeout {
		log.Printf("[protocol] %s: watchdog clearing stale lock held by %s", a.name, a.state.blocker)
		a.state.blocker = none
		a.state.competingBlockers = nil
	}
}
