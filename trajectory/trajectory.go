// Package trajectory holds the per-axis motion plan: an ordered list of
// short linear angle-vs-time segments supplied by the host. The
// firmware never plans motion itself; it only interpolates the segments
// it is given.
package trajectory

import (
	"errors"
	"fmt"
	"time"

	"mountctl/core"
	"mountctl/protocol"
)

// Point is one linear segment of a trajectory. It is immutable once
// created; the angle at any instant is interpolated between the
// endpoints and clamped to the segment's time range, so an axis
// "loiters" at StartAngle before the segment begins and holds EndAngle
// after it expires.
type Point struct {
	Start      time.Time
	End        time.Time
	StartAngle float64
	EndAngle   float64
}

// NewPoint validates and builds a segment. The end must not precede the
// start; a zero-duration segment is allowed and simply pins one angle.
func NewPoint(start, end time.Time, startAngle, endAngle float64) (Point, error) {
	if end.Before(start) {
		return Point{}, fmt.Errorf("segment ends %v before it starts", start.Sub(end))
	}
	return Point{Start: start, End: end, StartAngle: startAngle, EndAngle: endAngle}, nil
}

// AngleAt interpolates the expected angle at time t, clamped to the
// segment's range.
func (p Point) AngleAt(t time.Time) float64 {
	if !t.After(p.Start) {
		return p.StartAngle
	}
	if !t.Before(p.End) {
		return p.EndAngle
	}
	span := p.End.Sub(p.Start).Seconds()
	if span == 0 {
		return p.EndAngle
	}
	elapsed := t.Sub(p.Start).Seconds()
	return p.StartAngle + (p.EndAngle-p.StartAngle)*(elapsed/span)
}

func (p Point) String() string {
	return fmt.Sprintf("%s %.4f %s %.4f",
		protocol.FormatTime(p.Start), p.StartAngle,
		protocol.FormatTime(p.End), p.EndAngle)
}

// ErrNoAngle is returned when an empty trajectory is asked for a
// position.
var ErrNoAngle = errors.New("trajectory is empty")

// Trajectory is the ordered segment list for one axis. Segments are
// strictly increasing in start time; adding a segment supersedes any
// queued segment starting at or after it, so the host's newest plan is
// always authoritative for the future. Expired segments are pruned
// lazily on every read, and validity is recomputed by every mutation so
// it can never go stale.
type Trajectory struct {
	axis   string
	clock  *core.Clock
	logbuf *core.LogBuffer
	points []Point
	valid  bool
}

// New creates an empty trajectory for the named axis. An empty
// trajectory is never valid.
func New(axis string, clock *core.Clock, logbuf *core.LogBuffer) *Trajectory {
	return &Trajectory{axis: axis, clock: clock, logbuf: logbuf}
}

// Add appends a segment, first pruning expired entries and removing any
// existing segment whose start time is at or after the new one. It only
// fails on malformed input; ordering conflicts are resolved by
// trimming, never reported as errors.
func (t *Trajectory) Add(p Point) error {
	t.prune()
	for n := len(t.points); n > 0 && !t.points[n-1].Start.Before(p.Start); n = len(t.points) {
		t.points = t.points[:n-1]
	}
	t.points = append(t.points, p)
	t.revalidate()
	return nil
}

// Clear drops every segment.
func (t *Trajectory) Clear() {
	t.points = nil
	t.revalidate()
}

// Valid reports whether the plan extends into the future.
func (t *Trajectory) Valid() bool { return t.valid }

// Len returns the number of live segments after pruning.
func (t *Trajectory) Len() int {
	t.prune()
	return len(t.points)
}

// ValidUntil returns the end time of the final segment, or the current
// time when the trajectory is empty (making it immediately invalid).
func (t *Trajectory) ValidUntil() time.Time {
	if len(t.points) == 0 {
		return t.clock.Now()
	}
	return t.points[len(t.points)-1].End
}

// EndAngle returns the final rest angle of the plan so far.
func (t *Trajectory) EndAngle() (float64, error) {
	if len(t.points) == 0 {
		return 0, ErrNoAngle
	}
	return t.points[len(t.points)-1].EndAngle, nil
}

// ExpectedAngle returns the angle the axis should hold right now.
func (t *Trajectory) ExpectedAngle() (float64, error) {
	return t.ExpectedAngleAt(t.clock.Now())
}

// ExpectedAngleAt interpolates within the earliest remaining segment.
// A stalled head segment keeps being honoured (holding its end angle)
// until the host replaces it, so a brief comms gap does not abandon the
// plan mid-pass.
func (t *Trajectory) ExpectedAngleAt(at time.Time) (float64, error) {
	t.prune()
	if len(t.points) == 0 {
		return 0, ErrNoAngle
	}
	return t.points[0].AngleAt(at), nil
}

// prune discards segments whose end time has passed and recomputes
// validity.
func (t *Trajectory) prune() {
	now := t.clock.Now()
	for len(t.points) > 0 && t.points[0].End.Before(now) {
		if t.logbuf != nil {
			t.logbuf.Logf("trajectory expired (%s %s)", t.axis, t.points[0])
		}
		t.points = t.points[1:]
	}
	t.revalidate()
}

func (t *Trajectory) revalidate() {
	t.valid = t.ValidUntil().After(t.clock.Now())
}
