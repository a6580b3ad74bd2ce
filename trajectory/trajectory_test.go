package trajectory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mountctl/core"
)

type fixture struct {
	now  time.Time
	traj *Trajectory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{now: time.Date(2021, 4, 10, 16, 30, 0, 0, time.Local)}
	clock := core.NewClock(func() time.Time { return f.now }, nil)
	f.traj = New("azimuth", clock, nil)
	return f
}

func (f *fixture) point(t *testing.T, startOffset, endOffset time.Duration, startAngle, endAngle float64) Point {
	t.Helper()
	p, err := NewPoint(f.now.Add(startOffset), f.now.Add(endOffset), startAngle, endAngle)
	require.NoError(t, err)
	return p
}

func TestNewPointRejectsReversedTimes(t *testing.T) {
	now := time.Now()
	_, err := NewPoint(now, now.Add(-time.Second), 0, 1)
	assert.Error(t, err)
}

func TestEmptyTrajectoryInvalid(t *testing.T) {
	f := newFixture(t)
	assert.False(t, f.traj.Valid())
	_, err := f.traj.ExpectedAngle()
	assert.ErrorIs(t, err, ErrNoAngle)
	assert.Equal(t, f.now, f.traj.ValidUntil())
}

func TestInterpolation(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.traj.Add(f.point(t, 0, time.Minute, 10, 70)))

	angleAt := func(offset time.Duration) float64 {
		a, err := f.traj.ExpectedAngleAt(f.now.Add(offset))
		require.NoError(t, err)
		return a
	}

	assert.InDelta(t, 10.0, angleAt(0), 1e-9)
	assert.InDelta(t, 40.0, angleAt(30*time.Second), 1e-9)
	assert.InDelta(t, 70.0, angleAt(time.Minute), 1e-9)
}

func TestLoiterBeforeStart(t *testing.T) {
	f := newFixture(t)
	// Segment starts in the future, e.g. waiting for a satellite rise.
	require.NoError(t, f.traj.Add(f.point(t, 5*time.Minute, 6*time.Minute, 120, 130)))

	a, err := f.traj.ExpectedAngle()
	require.NoError(t, err)
	assert.InDelta(t, 120.0, a, 1e-9, "loiter at the start angle before the segment begins")
}

func TestHoldAfterEnd(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.traj.Add(f.point(t, 0, time.Minute, 10, 70)))

	a, err := f.traj.ExpectedAngleAt(f.now.Add(2 * time.Minute))
	require.NoError(t, err)
	assert.InDelta(t, 70.0, a, 1e-9, "hold the end angle after the segment expires")
}

func TestAddSupersedesOverlappingSegments(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.traj.Add(f.point(t, 0, time.Minute, 10, 70)))
	// Second segment starts before the first ends: the first is
	// superseded entirely, the newest report wins.
	require.NoError(t, f.traj.Add(f.point(t, 30*time.Second, 90*time.Second, 40, 80)))

	assert.Equal(t, 1, f.traj.Len())
	until := f.traj.ValidUntil()
	assert.Equal(t, f.now.Add(90*time.Second), until)
}

func TestAddKeepsStrictOrdering(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.traj.Add(f.point(t, 0, time.Minute, 0, 10)))
	require.NoError(t, f.traj.Add(f.point(t, time.Minute, 2*time.Minute, 10, 20)))
	require.NoError(t, f.traj.Add(f.point(t, 2*time.Minute, 3*time.Minute, 20, 30)))
	assert.Equal(t, 3, f.traj.Len())

	// Re-reporting the middle segment drops it and everything after,
	// then appends the replacement.
	require.NoError(t, f.traj.Add(f.point(t, time.Minute, 4*time.Minute, 10, 40)))
	assert.Equal(t, 2, f.traj.Len())
	assert.Equal(t, f.now.Add(4*time.Minute), f.traj.ValidUntil())
}

func TestPruneExpired(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.traj.Add(f.point(t, 0, time.Minute, 10, 70)))
	require.NoError(t, f.traj.Add(f.point(t, time.Minute, 2*time.Minute, 70, 90)))
	require.True(t, f.traj.Valid())

	f.now = f.now.Add(90 * time.Second)
	assert.Equal(t, 1, f.traj.Len(), "expired head segment pruned on read")
	assert.True(t, f.traj.Valid())

	f.now = f.now.Add(time.Minute)
	assert.Equal(t, 0, f.traj.Len())
	assert.False(t, f.traj.Valid())
}

func TestValidityExpiresWithPlan(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.traj.Add(f.point(t, 0, time.Minute, 10, 70)))
	assert.True(t, f.traj.Valid())

	f.now = f.now.Add(time.Minute + time.Second)
	assert.Equal(t, 0, f.traj.Len(), "any read reprunes and revalidates")
	assert.False(t, f.traj.Valid())

	_, err := f.traj.EndAngle()
	assert.ErrorIs(t, err, ErrNoAngle)
}
