// Package core provides the timing primitives the rest of the firmware
// is built on: the host-adjustable logical clock, the repeating event
// timer, and the buffered log channel back to the host.
package core

import (
	"log/slog"
	"time"
)

// resyncJump is the local-clock jump beyond which we assume the
// underlying system clock was disciplined externally, making any manual
// offset redundant.
const resyncJump = time.Hour

// Clock layers a host-supplied offset on top of the local clock. The
// offset only ever grows: a stale or hostile timestamp can never move
// time backwards. If the local clock itself jumps forward by more than
// an hour between reads, the offset is discarded and the synchronised
// flag cleared until the host sets the time again.
type Clock struct {
	local  func() time.Time
	offset time.Duration
	synced bool
	prev   time.Time
	log    *slog.Logger
}

// NewClock creates a clock over the given local time source. A nil
// source uses time.Now.
func NewClock(local func() time.Time, log *slog.Logger) *Clock {
	if local == nil {
		local = time.Now
	}
	if log == nil {
		log = slog.Default()
	}
	c := &Clock{local: local, log: log}
	c.prev = local()
	return c
}

// Now returns the current logical time: local time plus the offset.
func (c *Clock) Now() time.Time {
	now := c.local()
	c.checkResync(now)
	return now.Add(c.offset)
}

// Local returns the raw local time without the offset applied.
func (c *Clock) Local() time.Time {
	return c.local()
}

// Synchronised reports whether the host has set the time since startup
// (or since the last detected local resync).
func (c *Clock) Synchronised() bool {
	return c.synced
}

// AdvanceTo nudges the clock forward so that Now() reads candidate.
// Candidates at or behind the current logical time are ignored; the
// clock never regresses. Returns true if the offset changed.
func (c *Clock) AdvanceTo(candidate time.Time) bool {
	now := c.Now()
	if !candidate.After(now) {
		return false
	}
	c.offset += candidate.Sub(now)
	c.synced = true
	c.log.Info("clock advanced", "now", candidate, "offset", c.offset)
	return true
}

func (c *Clock) checkResync(now time.Time) {
	if now.Sub(c.prev) > resyncJump {
		c.log.Warn("local clock jumped, dropping offset", "jump", now.Sub(c.prev))
		c.offset = 0
		c.synced = false
	}
	c.prev = now
}
