package controller

import (
	"strconv"
	"strings"
	"time"

	"mountctl/core"
	"mountctl/link"
	"mountctl/motor"
	"mountctl/protocol"
)

// trajectorySafetyWindow is the communication silence after which any
// valid trajectory is flushed. A crashed host must not leave the mount
// blindly following a stale plan.
const trajectorySafetyWindow = 2 * time.Minute

// Session decides whether motion is permitted and enforces the
// communication-loss failsafe.
type Session struct {
	clock  *core.Clock
	lnk    *link.Link
	logbuf *core.LogBuffer
	motors []*motor.Motor
	now    func() time.Time

	started      time.Time
	safetyWindow time.Duration

	// AutonomousControl permits trajectory-driven motion: every axis
	// configured, every trajectory valid, clock synchronised.
	AutonomousControl bool

	// RemoteControl permits host-commanded motion: every axis
	// configured.
	RemoteControl bool

	failsafeLatch bool

	// FailsafeFlushes counts protective trajectory clears.
	FailsafeFlushes int
}

// NewSession wires the session over its collaborators. now may be nil
// for time.Now.
func NewSession(clock *core.Clock, lnk *link.Link, logbuf *core.LogBuffer, motors []*motor.Motor, now func() time.Time) *Session {
	if now == nil {
		now = time.Now
	}
	return &Session{
		clock:        clock,
		lnk:          lnk,
		logbuf:       logbuf,
		motors:       motors,
		now:          now,
		started:      now(),
		safetyWindow: trajectorySafetyWindow,
	}
}

// RecomputePermissions rederives both permission flags. Called after
// any command that could affect configuration, trajectories or clock
// sync, and once per scheduler pass.
func (s *Session) RecomputePermissions() {
	remote := true
	for _, m := range s.motors {
		if !m.Configured() {
			remote = false
		}
	}
	s.RemoteControl = remote

	autonomous := remote && s.clock.Synchronised()
	for _, m := range s.motors {
		if !m.Trajectory().Valid() {
			autonomous = false
		}
	}
	s.AutonomousControl = autonomous
}

// TrajectorySafety clears every axis's trajectory when the link has
// been silent past the safety window while a valid trajectory is still
// loaded. The latch keeps the clear and its log from repeating every
// scheduler pass during continued silence.
func (s *Session) TrajectorySafety() {
	silence := s.lnk.ReceiveAge()
	failsafe := false
	if silence > s.safetyWindow {
		for _, m := range s.motors {
			if m.Trajectory().Valid() {
				failsafe = true
			}
		}
	}
	if failsafe && !s.failsafeLatch {
		s.failsafeLatch = true
		s.FailsafeFlushes++
		s.logbuf.Logf("trajectory safety: %dms comms silence, flushing trajectories",
			silence.Milliseconds())
		for _, m := range s.motors {
			m.ClearTrajectory()
		}
	}
	if !failsafe {
		s.failsafeLatch = false
	}
}

// AliveSeconds is how long the firmware has been up, on the raw local
// clock so host time adjustments don't distort it.
func (s *Session) AliveSeconds() int {
	return int(s.now().Sub(s.started) / time.Second)
}

// SendStatus pushes the session and comms status lines. They go as two
// separate messages; small lines survive a flaky link better than one
// large packet.
func (s *Session) SendStatus(codes string) {
	stamp := protocol.FormatTime(s.clock.Now())

	var b strings.Builder
	b.WriteString("session status ")
	b.WriteString(stamp)
	b.WriteString(" ")
	b.WriteString(protocol.FormatBool(s.clock.Synchronised()))
	b.WriteString(" ")
	b.WriteString(protocol.FormatBool(s.AutonomousControl))
	b.WriteString(" ")
	b.WriteString(protocol.FormatBool(s.RemoteControl))
	b.WriteString(" ")
	b.WriteString(strconv.Itoa(s.AliveSeconds()))
	b.WriteString(" ")
	b.WriteString(strconv.Itoa(s.FailsafeFlushes))
	b.WriteString(" ")
	b.WriteString(codes)
	s.lnk.Send(b.String())

	b.Reset()
	b.WriteString("comms status ")
	b.WriteString(stamp)
	b.WriteString(" ")
	b.WriteString(strconv.Itoa(s.lnk.RxErrors))
	b.WriteString(" ")
	b.WriteString(strconv.Itoa(s.lnk.BytesRead))
	b.WriteString(" ")
	b.WriteString(strconv.Itoa(s.lnk.BytesWritten))
	b.WriteString(" ")
	b.WriteString(strconv.Itoa(s.lnk.WriteDrops))
	b.WriteString(" ")
	b.WriteString(strconv.FormatInt(s.lnk.ReceiveAge().Milliseconds(), 10))
	b.WriteString(" ")
	b.WriteString(strconv.Itoa(s.lnk.ReadDrops))
	b.WriteString(" ")
	b.WriteString(strconv.Itoa(s.lnk.Pending()))
	b.WriteString(" ")
	b.WriteString(codes)
	s.lnk.Send(b.String())
}

// AutoMove drives every axis toward its trajectory's expected angle,
// when autonomous control is permitted.
func (s *Session) AutoMove() bool {
	s.RecomputePermissions()
	if !s.AutonomousControl {
		return false
	}
	ok := true
	for _, m := range s.motors {
		if !m.TargetFromTrajectory() {
			s.logbuf.Logf("automove %s: target not set", m.Name())
			ok = false
			continue
		}
		if m.Target() != m.Position() {
			m.MoveToTarget()
		}
	}
	return ok
}
