package motor

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mountctl/core"
	"mountctl/hal"
	"mountctl/trajectory"
)

type fakeNow struct {
	t time.Time
}

func (f *fakeNow) now() time.Time {
	return f.t
}

func (f *fakeNow) advance(d time.Duration) {
	f.t = f.t.Add(d)
}

type fakeComms struct {
	sent  []string
	polls int
}

func (c *fakeComms) Send(line string) { c.sent = append(c.sent, line) }
func (c *fakeComms) Poll()            { c.polls++ }

func (c *fakeComms) last() string {
	if len(c.sent) == 0 {
		return ""
	}
	return c.sent[len(c.sent)-1]
}

type motorFixture struct {
	fn     *fakeNow
	clock  *core.Clock
	logbuf *core.LogBuffer
	comms  *fakeComms
	sim    *hal.SimMotorPins
	volt   *hal.SimAnalog
	m      *Motor
}

func newFixture(t *testing.T) *motorFixture {
	t.Helper()
	f := &motorFixture{
		fn:    &fakeNow{t: time.Date(2021, 4, 9, 9, 0, 0, 0, time.Local)},
		comms: &fakeComms{},
		sim:   hal.NewSimMotorPins(),
		volt:  &hal.SimAnalog{Raw: 512},
	}
	f.clock = core.NewClock(f.fn.now, nil)
	f.logbuf = core.NewLogBuffer(f.clock)
	pins := Pins{
		Step:      &f.sim.Step,
		Direction: &f.sim.Dir,
		Mode:      [3]hal.OutputPin{&f.sim.Mode[0], &f.sim.Mode[1], &f.sim.Mode[2]},
		Enable:    &f.sim.Enable,
		Fault:     &f.sim.Fault,
		Voltage:   f.volt,
	}
	f.m = New("azimuth", pins, Deps{
		Clock:  f.clock,
		LogBuf: f.logbuf,
		Comms:  f.comms,
		Sleep:  func(time.Duration) {},
		Now:    f.fn.now,
	})
	return f
}

// benchConfig gives 4 steps per degree without microstepping.
func benchConfig() Config {
	cfg := DefaultConfig()
	cfg.GearRatio = 4
	cfg.MotorStepsPerRev = 360
	cfg.MicrostepRatio = 1
	cfg.MinAngle = 45
	cfg.MaxAngle = 315
	cfg.RestAngle = 180
	cfg.CurrentAngle = 180
	return cfg
}

func (f *motorFixture) logLines() []string {
	var lines []string
	f.logbuf.SendAll(func(s string) { lines = append(lines, s) })
	return lines
}

func TestGoToClampsToLimits(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.m.Configure(benchConfig()))

	f.m.GoToAngle(400)

	assert.Equal(t, f.m.AngleToStep(315), f.m.Position())
	assert.Equal(t, 315.0, f.m.Angle())
	assert.True(t, f.m.OnTarget())
	assert.Greater(t, f.comms.polls, 0)

	fields := strings.Fields(f.comms.last())
	require.GreaterOrEqual(t, len(fields), 14)
	assert.Equal(t, "motor", fields[0])
	assert.Equal(t, "status", fields[1])
	assert.Equal(t, "azimuth", fields[3])
	assert.Equal(t, "1260", fields[7])
	assert.Equal(t, "y", fields[9], "configured flag")
	assert.Equal(t, "y", fields[10], "on-target flag")
	assert.Equal(t, "512", fields[12], "motor voltage raw")
	assert.Equal(t, "gte", fields[13])
}

func TestGoToRejectedWhenUnconfigured(t *testing.T) {
	f := newFixture(t)

	f.m.GoToAngle(90)

	assert.Contains(t, f.comms.sent, "goto rejected azimuth 90 MotorNotConfigured")
	assert.Equal(t, 0, f.sim.Step.Pulses)
}

func TestAngleStepRoundTrip(t *testing.T) {
	f := newFixture(t)
	cfg := benchConfig()
	require.NoError(t, f.m.Configure(cfg))

	quantum := 360.0 / 1440.0
	for angle := cfg.MinAngle; angle <= cfg.MaxAngle; angle += 0.37 {
		got := f.m.StepToAngle(f.m.AngleToStep(angle))
		if diff := got - angle; diff > quantum || diff < -quantum {
			t.Fatalf("round trip of %v gave %v, off by %v", angle, got, diff)
		}
	}
}

func TestTargetClampReportsFailure(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.m.Configure(benchConfig()))

	assert.False(t, f.m.SetTargetAngle(400))
	assert.Equal(t, f.m.AngleToStep(315), f.m.Target())
	assert.False(t, f.m.SetTargetAngle(10))
	assert.Equal(t, f.m.AngleToStep(45), f.m.Target())
	assert.True(t, f.m.SetTargetAngle(200))
}

func TestTuneRestoresBookkeeping(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.m.Configure(benchConfig()))
	before := f.m.Position()
	pulsesBefore := f.sim.Step.Pulses

	f.m.Tune(-50)

	assert.Equal(t, 50, f.sim.Step.Pulses-pulsesBefore, "physical steps commanded")
	assert.Equal(t, before, f.m.Position(), "logical position restored")
	assert.Equal(t, before, f.m.Target())
	assert.Equal(t, 180.0, f.m.Angle())

	want := "tune complete azimuth 20210409090000 -50"
	assert.Contains(t, f.comms.sent, want)
}

func TestTuneRejectedWhenUnconfigured(t *testing.T) {
	f := newFixture(t)

	f.m.Tune(25)

	require.NotEmpty(t, f.comms.sent)
	assert.Contains(t, f.comms.sent[0], "tune rejected azimuth")
	assert.Equal(t, 0, f.sim.Step.Pulses)
}

func TestMicrostepStrideSelection(t *testing.T) {
	f := newFixture(t)
	cfg := benchConfig()
	cfg.MotorStepsPerRev = 200
	cfg.GearRatio = 1
	cfg.MicrostepRatio = 8
	require.NoError(t, f.m.Configure(cfg))

	start := f.m.Position()
	f.m.SetTargetPosition(start+20, true)
	f.m.MoveToTarget()

	// 20 microsteps: two full-step strides of 8 then four microsteps.
	assert.Equal(t, start+20, f.m.Position())
	assert.Equal(t, 6, f.sim.Step.Pulses)
	assert.True(t, f.m.OnTarget())

	// Last strides were microsteps, so the mode pins hold the
	// ratio-8 pattern.
	assert.True(t, f.sim.Mode[0].Value)
	assert.True(t, f.sim.Mode[1].Value)
	assert.False(t, f.sim.Mode[2].Value)
}

func TestMoveAccelerates(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.m.Configure(benchConfig()))

	f.m.SetTargetPosition(f.m.Position()+5, true)
	f.m.MoveToTarget()

	want := 50*time.Millisecond - 5*3*time.Millisecond
	assert.Equal(t, want, f.m.waitTime)
}

func TestAccelerationStopsAtFastTime(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.m.Configure(benchConfig()))

	f.m.SetTargetPosition(f.m.Position()+100, true)
	f.m.MoveToTarget()

	assert.Equal(t, 500*time.Microsecond, f.m.waitTime)
}

func TestSensitiveFaultAbortsMove(t *testing.T) {
	f := newFixture(t)
	cfg := benchConfig()
	cfg.FaultSensitive = true
	require.NoError(t, f.m.Configure(cfg))
	f.sim.Fault.Value = false

	start := f.m.Position()
	f.m.SetTargetPosition(start+10, true)
	f.m.MoveToTarget()

	assert.Equal(t, start, f.m.Position())
	assert.True(t, f.m.FaultDetected())
	assert.False(t, f.m.OnTarget())

	// The latch reports once, even across repeated attempts.
	f.m.MoveToTarget()
	count := 0
	for _, l := range f.logLines() {
		if strings.Contains(l, "driver fault, stopping") {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestInsensitiveFaultLogsAndContinues(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.m.Configure(benchConfig()))
	f.sim.Fault.Value = false

	start := f.m.Position()
	f.m.SetTargetPosition(start+10, true)
	f.m.MoveToTarget()

	assert.Equal(t, start+10, f.m.Position())
	assert.True(t, f.m.FaultDetected())
	count := 0
	for _, l := range f.logLines() {
		if strings.Contains(l, "driver fault, ignored") {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestFaultLatchClears(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.m.Configure(benchConfig()))
	f.sim.Fault.Value = false

	f.m.SetTargetPosition(f.m.Position()+2, true)
	f.m.MoveToTarget()
	require.True(t, f.m.FaultDetected())

	f.sim.Fault.Value = true
	f.m.SetTargetPosition(f.m.Position()+2, true)
	f.m.MoveToTarget()
	assert.False(t, f.m.FaultDetected())
}

func TestStatusThrottledByTimer(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.m.Configure(benchConfig()))
	f.comms.sent = nil

	f.m.SendStatus(false, "per")
	assert.Empty(t, f.comms.sent)

	f.fn.advance(11 * time.Second)
	f.m.SendStatus(false, "per")
	require.Len(t, f.comms.sent, 1)
	assert.Contains(t, f.comms.sent[0], "motor status")
}

func TestStatusDisabledSendsComment(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.m.Configure(benchConfig()))
	f.comms.sent = nil

	f.m.SetStatusEnabled(false)
	f.m.SendStatus(true, "chk")

	require.Len(t, f.comms.sent, 1)
	assert.True(t, strings.HasPrefix(f.comms.sent[0], "# motor status"))
	assert.Contains(t, f.comms.sent[0], "disabled")
}

func TestStopClearsTrajectoryAndHolds(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.m.Configure(benchConfig()))
	p, err := trajectory.NewPoint(f.fn.now(), f.fn.now().Add(time.Minute), 100, 120)
	require.NoError(t, err)
	f.m.AddTrajectoryPoint(p)
	require.Equal(t, 1, f.m.Trajectory().Len())

	f.m.Stop()

	assert.Equal(t, 0, f.m.Trajectory().Len())
	assert.Equal(t, f.m.Position(), f.m.Target())
	assert.False(t, f.m.OnTarget())
}

func TestResetReturnsToRest(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.m.Configure(benchConfig()))
	f.m.GoToAngle(250)
	require.NotEqual(t, f.m.AngleToStep(180), f.m.Position())

	f.m.Reset(false)

	assert.Equal(t, f.m.AngleToStep(180), f.m.Position())
	assert.Equal(t, 180.0, f.m.Angle())
	assert.False(t, f.m.Configured())
	assert.False(t, f.m.Enabled())
	assert.Contains(t, f.comms.last(), "rst")
}

func TestApplyPatchesSelectedFields(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.m.Configure(benchConfig()))

	minAngle := 30.0
	sensitive := true
	err := f.m.Apply(Params{MinAngle: &minAngle, FaultSensitive: &sensitive})
	require.NoError(t, err)

	cfg := f.m.Config()
	assert.Equal(t, 30.0, cfg.MinAngle)
	assert.True(t, cfg.FaultSensitive)
	assert.Equal(t, 315.0, cfg.MaxAngle, "untouched field survives")
	assert.True(t, f.m.Configured())
}

func TestApplyRejectsBadGeometry(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.m.Configure(benchConfig()))

	ratio := 3
	err := f.m.Apply(Params{MicrostepRatio: &ratio})
	assert.Error(t, err)
	assert.Equal(t, 1, f.m.Config().MicrostepRatio)
}

func TestApplyGeometryPatchKeepsPosition(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.m.Configure(benchConfig()))
	f.m.GoToAngle(250)
	require.Equal(t, 1000, f.m.Position())

	rest := 170.0
	require.NoError(t, f.m.Apply(Params{RestAngle: &rest}))

	assert.Equal(t, 1000, f.m.Position(), "position survives a restangle patch")
	assert.Equal(t, 250.0, f.m.Angle())
	assert.Equal(t, 170.0, f.m.Config().RestAngle)

	// An explicit currentangle is the one way to move the bookkeeping.
	angle := 200.0
	require.NoError(t, f.m.Apply(Params{CurrentAngle: &angle}))
	assert.Equal(t, 800, f.m.Position())
	assert.Equal(t, 200.0, f.m.Angle())
}

func TestConfigureClampsStatusPeriod(t *testing.T) {
	f := newFixture(t)
	cfg := benchConfig()
	cfg.StatusPeriod = 5 * time.Minute
	require.NoError(t, f.m.Configure(cfg))
	assert.Equal(t, 30*time.Second, f.m.Config().StatusPeriod)

	cfg.StatusPeriod = 100 * time.Millisecond
	require.NoError(t, f.m.SetBootProfile(cfg))
	assert.Equal(t, time.Second, f.m.Config().StatusPeriod)
}

func TestEfficiencyCheckLogsLongWayRound(t *testing.T) {
	f := newFixture(t)
	cfg := benchConfig()
	cfg.MinAngle = 0
	cfg.MaxAngle = 360
	cfg.CurrentAngle = 10
	require.NoError(t, f.m.Configure(cfg))

	f.m.SetTargetAngle(350)
	f.m.efficiencyCheck(f.m.remainingSteps())

	found := false
	for _, l := range f.logLines() {
		if strings.Contains(l, "inefficient move") {
			found = true
		}
	}
	assert.True(t, found)
}

func TestTargetFromTrajectory(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.m.Configure(benchConfig()))
	start := f.fn.now()
	p, err := trajectory.NewPoint(start, start.Add(time.Minute), 100, 130)
	require.NoError(t, err)
	f.m.AddTrajectoryPoint(p)

	f.fn.advance(30 * time.Second)
	require.True(t, f.m.TargetFromTrajectory())

	assert.Equal(t, f.m.AngleToStep(115), f.m.Target())
}
