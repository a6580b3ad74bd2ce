package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimerFiresOnPeriod(t *testing.T) {
	fn := newFakeNow()
	tm := NewTimer("status", 10*time.Second, 0, fn.now)

	assert.False(t, tm.Due())
	fn.advance(9 * time.Second)
	assert.False(t, tm.Due())
	fn.advance(time.Second)
	assert.True(t, tm.Due())
	// Fires once per period, not repeatedly.
	assert.False(t, tm.Due())
}

func TestTimerOffset(t *testing.T) {
	fn := newFakeNow()
	tm := NewTimer("session", 30*time.Second, 7*time.Second, fn.now)

	fn.advance(7 * time.Second)
	require.True(t, tm.Due())
	// Subsequent events revert to the full period.
	fn.advance(29 * time.Second)
	assert.False(t, tm.Due())
	fn.advance(time.Second)
	assert.True(t, tm.Due())
}

func TestTimerSkipsMissedEvents(t *testing.T) {
	fn := newFakeNow()
	tm := NewTimer("status", 10*time.Second, 0, fn.now)

	// The loop stalled for several periods: exactly one event fires and
	// the next due time lands in the future, not in the backlog.
	fn.advance(45 * time.Second)
	assert.True(t, tm.Due())
	assert.False(t, tm.Due())
	assert.Greater(t, tm.Remaining(), time.Duration(0))
	assert.LessOrEqual(t, tm.Remaining(), 10*time.Second)
}

func TestTimerClockRegressionResets(t *testing.T) {
	fn := newFakeNow()
	tm := NewTimer("status", 10*time.Second, 0, fn.now)

	// Clock steps backwards, leaving more than a full period remaining.
	fn.advance(-time.Minute)
	assert.False(t, tm.Due())
	assert.LessOrEqual(t, tm.Remaining(), 10*time.Second)
}

func TestTimerMinimumPeriod(t *testing.T) {
	fn := newFakeNow()
	tm := NewTimer("fast", 100*time.Millisecond, 0, fn.now)
	assert.Equal(t, time.Second, tm.Period())
}
