package core

import (
	"time"
)

// Timer is a repeating due/fire primitive. Callers poll Due() from the
// control loop; when it fires, the timer reschedules itself by whole
// multiples of its period so a stalled loop never releases a burst of
// backlogged events.
type Timer struct {
	name    string
	period  time.Duration
	nextDue time.Time
	now     func() time.Time
}

// NewTimer creates a timer firing every period. The first event is due
// after offset if nonzero, otherwise after one full period. Periods
// below one second are raised to one second. A nil now source uses
// time.Now.
func NewTimer(name string, period, offset time.Duration, now func() time.Time) *Timer {
	if now == nil {
		now = time.Now
	}
	if period < time.Second {
		period = time.Second
	}
	t := &Timer{name: name, period: period, now: now}
	if offset != 0 {
		t.nextDue = now().Add(offset)
	} else {
		t.nextDue = now().Add(period)
	}
	return t
}

// Name returns the timer's label.
func (t *Timer) Name() string { return t.name }

// Period returns the repeat interval.
func (t *Timer) Period() time.Duration { return t.period }

// SetPeriod changes the repeat interval and restarts the timer.
func (t *Timer) SetPeriod(period time.Duration) {
	if period < time.Second {
		period = time.Second
	}
	t.period = period
	t.Reset()
}

// Reset restarts the timer from now.
func (t *Timer) Reset() {
	t.nextDue = t.now().Add(t.period)
}

// Remaining returns how long until the next event.
func (t *Timer) Remaining() time.Duration {
	return t.nextDue.Sub(t.now())
}

// Due reports whether the timer has expired, rescheduling the next
// occurrence when it has. If the clock moved such that more than one
// full period remains, the timer is out of sync and restarts instead.
func (t *Timer) Due() bool {
	remaining := t.Remaining()
	if remaining > t.period {
		t.Reset()
		return false
	}
	if remaining > 0 {
		return false
	}
	t.advance()
	return true
}

// advance rolls nextDue forward by whole periods to the first due time
// in the future.
func (t *Timer) advance() {
	now := t.now()
	for !t.nextDue.After(now) {
		behind := now.Sub(t.nextDue)
		gaps := behind/t.period + 1
		t.nextDue = t.nextDue.Add(gaps * t.period)
	}
}
