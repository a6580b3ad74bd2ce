package motor

import (
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"mountctl/core"
	"mountctl/hal"
	"mountctl/protocol"
	"mountctl/trajectory"
)

// Comms is the slice of the serial link a motor needs: pushing status
// lines out and keeping the channel serviced during long moves.
type Comms interface {
	Send(line string)
	Poll()
}

// Pins bundles the driver pins for one axis. Voltage is optional; when
// nil the status report carries a zero reading.
type Pins struct {
	Step      hal.OutputPin
	Direction hal.OutputPin
	Mode      [3]hal.OutputPin
	Enable    hal.OutputPin
	Fault     hal.InputPin
	Voltage   hal.AnalogPin
}

// Deps are the collaborators a Motor is wired to at startup.
type Deps struct {
	Clock  *core.Clock
	LogBuf *core.LogBuffer
	Comms  Comms
	Lamp   *hal.StatusLamp
	Log    *slog.Logger

	// Sleep performs the pulse-timing waits. Tests inject a no-op.
	Sleep func(time.Duration)

	// Now paces the status timer. Nil means time.Now.
	Now func() time.Time
}

// Motor owns one axis: its trajectory, geometry, motion state and
// driver pins. Not safe for concurrent use; the control loop owns it.
type Motor struct {
	name string
	pins Pins
	cfg  Config

	clock  *core.Clock
	logbuf *core.LogBuffer
	comms  Comms
	lamp   *hal.StatusLamp
	log    *slog.Logger
	sleep  func(time.Duration)
	now    func() time.Time

	traj        *trajectory.Trajectory
	statusTimer *core.Timer

	configured bool
	enabled    bool

	useMicrostepping bool
	mode             modeSetting
	axisStepsPerRev  float64
	fullStepBoundary bool

	current      int
	target       int
	currentAngle float64
	targetAngle  float64

	requestedValid bool
	requestedPos   int
	requestedAngle float64

	restPos int
	minPos  int
	maxPos  int

	stepDir     int
	lastStepDir int
	waitTime    time.Duration

	onTarget      bool
	faultDetected bool
	statusEnabled bool

	latestTuneSteps int
	latestTuneTime  time.Time
}

// New builds an unconfigured Motor. The default geometry makes the
// conversion maths usable immediately, but no motion is permitted until
// the host configures the axis.
func New(name string, pins Pins, deps Deps) *Motor {
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	if deps.Sleep == nil {
		deps.Sleep = time.Sleep
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	m := &Motor{
		name:          name,
		pins:          pins,
		clock:         deps.Clock,
		logbuf:        deps.LogBuf,
		comms:         deps.Comms,
		lamp:          deps.Lamp,
		log:           deps.Log.With("motor", name),
		sleep:         deps.Sleep,
		now:           deps.Now,
		traj:          trajectory.New(name, deps.Clock, deps.LogBuf),
		statusEnabled: true,
		stepDir:       1,
	}
	cfg := DefaultConfig()
	m.applyGeometry(cfg)
	m.configured = false
	m.statusTimer = core.NewTimer(name, cfg.StatusPeriod, 0, deps.Now)
	m.quietPins()
	return m
}

func (m *Motor) quietPins() {
	m.pins.Step.Set(false)
	m.pins.Direction.Set(false)
	for _, p := range m.pins.Mode {
		p.Set(false)
	}
	m.pins.Enable.Set(true)
}

// Name returns the axis name, e.g. "azimuth".
func (m *Motor) Name() string { return m.name }

// Trajectory exposes the axis's trajectory engine.
func (m *Motor) Trajectory() *trajectory.Trajectory { return m.traj }

// Configured reports whether the host has supplied a configuration.
func (m *Motor) Configured() bool { return m.configured }

// Enabled reports whether drive current is engaged.
func (m *Motor) Enabled() bool { return m.enabled }

// OnTarget reports whether the axis sits exactly on its target step.
func (m *Motor) OnTarget() bool { return m.onTarget }

// FaultDetected reports the latched driver fault state.
func (m *Motor) FaultDetected() bool { return m.faultDetected }

// Position returns the current absolute step position.
func (m *Motor) Position() int { return m.current }

// Angle returns the current axis angle in degrees.
func (m *Motor) Angle() float64 { return m.currentAngle }

// Target returns the current target step position.
func (m *Motor) Target() int { return m.target }

// Config returns the live configuration.
func (m *Motor) Config() Config { return m.cfg }

// applyGeometry installs cfg and recomputes every derived constant and
// the position bookkeeping that hangs off it.
func (m *Motor) applyGeometry(cfg Config) {
	cfg.StatusPeriod = clampStatusPeriod(cfg.StatusPeriod)
	m.cfg = cfg
	m.useMicrostepping = cfg.MicrostepRatio > 1
	m.mode = modeSettings[cfg.MicrostepRatio]
	stepsPerRev := cfg.MotorStepsPerRev
	if m.useMicrostepping {
		stepsPerRev *= cfg.MicrostepRatio
	}
	m.axisStepsPerRev = float64(stepsPerRev) * cfg.GearRatio
	m.restPos = m.AngleToStep(cfg.RestAngle)
	m.minPos = m.AngleToStep(cfg.MinAngle)
	m.maxPos = m.AngleToStep(cfg.MaxAngle)
	m.currentAngle = cfg.CurrentAngle
	m.current = m.AngleToStep(cfg.CurrentAngle)
	m.target = m.current
	m.targetAngle = m.currentAngle
	m.requestedValid = false
	m.waitTime = cfg.SlowTime
	m.stepDir = 1
	m.lastStepDir = 0
	m.fullStepBoundary = true
	if m.useMicrostepping && m.mode.power <= 10 {
		m.logbuf.Logf("%s: microstep ratio %d leaves %d%% torque",
			m.name, cfg.MicrostepRatio, m.mode.power)
	}
}

// Configure replaces the whole configuration. The trajectory is left
// untouched; callers wanting a clean slate reset separately.
func (m *Motor) Configure(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	m.applyGeometry(cfg)
	m.statusTimer.SetPeriod(m.cfg.StatusPeriod)
	m.configured = true
	m.log.Info("configured",
		"stepsPerRev", m.axisStepsPerRev,
		"min", cfg.MinAngle, "max", cfg.MaxAngle)
	return nil
}

// SetBootProfile installs a boot-time configuration without marking
// the axis configured. The host must still send a configure command
// before any motion is permitted, but angle maths works immediately.
func (m *Motor) SetBootProfile(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	m.applyGeometry(cfg)
	m.statusTimer.SetPeriod(m.cfg.StatusPeriod)
	m.configured = false
	return nil
}

// Apply patches the configuration with the non-nil fields of params and
// marks the axis configured. Geometry-affecting fields trigger a full
// rederivation anchored at the live angle; only an explicit
// currentangle moves the position bookkeeping.
func (m *Motor) Apply(params Params) error {
	cfg := params.merge(m.cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}
	geometry := params.GearRatio != nil || params.MotorStepsPerRev != nil ||
		params.MicrostepRatio != nil || params.CurrentAngle != nil ||
		params.RestAngle != nil
	if geometry {
		if params.CurrentAngle == nil {
			// Only an explicit currentangle may move the axis's
			// idea of where it points. Rederive from the live
			// angle, not the snapshot taken at the last configure.
			cfg.CurrentAngle = m.currentAngle
		}
		m.applyGeometry(cfg)
	} else {
		m.cfg = cfg
	}
	m.minPos = m.AngleToStep(cfg.MinAngle)
	m.maxPos = m.AngleToStep(cfg.MaxAngle)
	if m.waitTime < cfg.FastTime {
		m.waitTime = cfg.FastTime
	}
	if m.waitTime > cfg.SlowTime {
		m.waitTime = cfg.SlowTime
	}
	if params.StatusPeriod != nil {
		m.statusTimer.SetPeriod(cfg.StatusPeriod)
	}
	m.configured = true
	return nil
}

// Reset returns the axis to its rest state: trajectory cleared, current
// position declared to be the rest position, configuration revoked. It
// does not physically move anything.
func (m *Motor) Reset(enable bool) {
	m.logbuf.Log(m.name + ".Reset.")
	m.traj.Clear()
	if enable {
		m.EnableMotor()
	} else {
		m.DisableMotor()
	}
	m.onTarget = false
	m.current = m.restPos
	m.currentAngle = m.cfg.RestAngle
	m.target = m.current
	m.targetAngle = m.currentAngle
	m.requestedValid = false
	m.configured = false
	m.statusEnabled = true
	m.SendStatus(true, "rst")
}

// EnableMotor engages drive current. The enable pin is active low.
func (m *Motor) EnableMotor() {
	if !m.configured {
		m.logbuf.Log(m.name + ": not configured, will not enable")
		return
	}
	m.pins.Enable.Set(false)
	m.enabled = true
}

// DisableMotor releases drive current; the axis will not hold position.
func (m *Motor) DisableMotor() {
	m.pins.Enable.Set(true)
	m.enabled = false
}

// AngleToStep converts an axis angle to the nearest absolute step.
func (m *Motor) AngleToStep(deg float64) int {
	return int(math.Round(deg * m.axisStepsPerRev / 360))
}

// StepToAngle converts an absolute step position to an axis angle.
func (m *Motor) StepToAngle(steps int) float64 {
	return float64(steps) * 360 / m.axisStepsPerRev
}

// remainingSteps is the signed step delta still to move.
func (m *Motor) remainingSteps() int {
	return m.target - m.current
}

// SetTargetAngle aims the axis at an absolute angle, clamped to the
// configured travel limits. Returns false when the request had to be
// clamped. The motor does not move until MoveToTarget runs.
func (m *Motor) SetTargetAngle(angle float64) bool {
	m.requestedAngle = angle
	m.requestedPos = m.AngleToStep(angle)
	m.requestedValid = true
	m.EnableMotor()
	ok := true
	if angle > m.cfg.MaxAngle {
		m.logbuf.Logf("%s: target %s limited to %s",
			m.name, formatAngle(angle), formatAngle(m.cfg.MaxAngle))
		angle = m.cfg.MaxAngle
		ok = false
	}
	if angle < m.cfg.MinAngle {
		m.logbuf.Logf("%s: target %s limited to %s",
			m.name, formatAngle(angle), formatAngle(m.cfg.MinAngle))
		angle = m.cfg.MinAngle
		ok = false
	}
	m.targetAngle = angle
	m.target = m.AngleToStep(angle)
	m.primeMove()
	return ok
}

// SetTargetPosition aims the axis at an absolute step position. With
// limit true the request is clamped to the travel range; tuning moves
// pass false to slip past the bookkeeping.
func (m *Motor) SetTargetPosition(steps int, limit bool) bool {
	angle := m.StepToAngle(steps)
	m.requestedAngle = angle
	m.requestedPos = steps
	m.requestedValid = true
	m.EnableMotor()
	ok := true
	if limit {
		if angle > m.cfg.MaxAngle {
			m.logbuf.Logf("%s: target %s limited to %s",
				m.name, formatAngle(angle), formatAngle(m.cfg.MaxAngle))
			angle = m.cfg.MaxAngle
			steps = m.AngleToStep(angle)
			ok = false
		}
		if angle < m.cfg.MinAngle {
			m.logbuf.Logf("%s: target %s limited to %s",
				m.name, formatAngle(angle), formatAngle(m.cfg.MinAngle))
			angle = m.cfg.MinAngle
			steps = m.AngleToStep(angle)
			ok = false
		}
	}
	m.targetAngle = angle
	m.target = steps
	m.primeMove()
	return ok
}

func (m *Motor) primeMove() {
	m.waitTime = m.cfg.SlowTime
	if m.remainingSteps() >= 0 {
		m.stepDir = 1
	} else {
		m.stepDir = -1
	}
}

// Stop abandons the trajectory and declares the current position to be
// the target. Motion ceases at the next stride poll point.
func (m *Motor) Stop() {
	m.ClearTrajectory()
	m.target = m.current
	m.targetAngle = m.currentAngle
	m.onTarget = false
	m.requestedValid = false
	m.logbuf.Log("stop " + m.name)
}

// ClearTrajectory empties the trajectory and tells the host.
func (m *Motor) ClearTrajectory() {
	m.traj.Clear()
	m.SendStatus(true, "clt")
}

// AddTrajectoryPoint appends a segment and pushes an immediate status
// so the host sends the next segment without waiting a full period.
func (m *Motor) AddTrajectoryPoint(p trajectory.Point) {
	if err := m.traj.Add(p); err != nil {
		m.logbuf.Logf("%s: trajectory add failed: %v", m.name, err)
	}
	m.SendStatus(true, "atp")
}

// GoToAngle clears any trajectory and executes an immediate move to an
// absolute angle. Rejected outright when the axis is unconfigured.
func (m *Motor) GoToAngle(angle float64) {
	if m.configured {
		m.logbuf.Logf("goto %s %s", m.name, formatAngle(angle))
		m.Stop()
		m.SetTargetAngle(angle)
		m.MoveToTarget()
	} else {
		m.logbuf.Logf("goto %s rejected, not configured", m.name)
		m.comms.Send("goto rejected " + m.name + " " + formatAngle(angle) + " MotorNotConfigured")
	}
	m.SendStatus(true, "gte")
}

// TargetFromTrajectory aims the axis at the trajectory's expected angle
// for now. With no valid trajectory or configuration the target is the
// current position, so the axis holds still.
func (m *Motor) TargetFromTrajectory() bool {
	angle, err := m.traj.ExpectedAngle()
	if err == nil && m.traj.Valid() && m.configured {
		return m.SetTargetAngle(angle)
	}
	m.logbuf.Logf("%s: no usable trajectory target (valid %s configured %s)",
		m.name, protocol.FormatBool(m.traj.Valid()), protocol.FormatBool(m.configured))
	return m.SetTargetAngle(m.currentAngle)
}

// Tune nudges the physical position by delta steps, then restores the
// logical position bookkeeping so the firmware's idea of where it
// points is unchanged. Used to absorb drift the host has measured.
func (m *Motor) Tune(delta int) {
	if !m.configured {
		m.comms.Send("tune rejected " + m.name + " " +
			protocol.FormatTime(m.clock.Now()) + " " + strconv.Itoa(delta) + ": Motor not configured")
		m.logbuf.Logf("error: tune %s rejected, not configured", m.name)
		return
	}
	m.EnableMotor()
	old := m.current
	m.SetTargetPosition(old+delta, false)
	m.logbuf.Logf("tune %s from %d to %d", m.name, old, m.target)
	m.MoveToTarget()
	m.current = old
	m.target = old
	m.currentAngle = m.StepToAngle(old)
	m.targetAngle = m.currentAngle
	m.latestTuneSteps = delta
	m.latestTuneTime = m.clock.Now()
	m.comms.Send("tune complete " + m.name + " " +
		protocol.FormatTime(m.latestTuneTime) + " " + strconv.Itoa(delta))
	m.SendStatus(true, "tup")
}

// largeMove is the step delta beyond which the on-target flag drops as
// soon as the move starts.
const largeMove = 100

// MoveToTarget runs the stride loop until the axis reaches its target,
// a sensitive fault aborts it, or the remaining delta is consumed. The
// link is re-polled after every stride so a long move never starves
// communication, and periodic status keeps the host able to spot a
// stalled mount.
func (m *Motor) MoveToTarget() {
	remaining := m.remainingSteps()
	m.efficiencyCheck(remaining)
	m.waitTime = m.cfg.SlowTime
	if remaining != 0 {
		m.lampTask(hal.LampMove)
		if abs(remaining) > largeMove {
			m.onTarget = false
		}
	}
	for remaining != 0 {
		stride := 1
		if m.useMicrostepping {
			if abs(remaining) > m.cfg.MicrostepRatio && m.fullStepBoundary {
				stride = m.cfg.MicrostepRatio
			}
		}
		remaining -= m.stepDir * stride
		if !m.stride(stride) {
			break
		}
		m.SendStatus(false, "mov")
		m.comms.Poll()
		m.lampTask(hal.LampMove)
	}
	m.checkOnTarget()
	if m.current != m.target {
		m.logbuf.Logf("%s: move ended at %d, target %d", m.name, m.current, m.target)
	}
	m.lampTask(hal.LampIdle)
}

// stride commands one physical step of the given size (1 = microstep
// when microstepping, otherwise a full step; MicrostepRatio = a full
// step taken across a boundary). Returns false when a sensitive fault
// aborts the move.
func (m *Motor) stride(size int) bool {
	if !m.checkFault() {
		return false
	}
	if m.stepDir != 1 && m.stepDir != -1 {
		m.logbuf.Logf("%s: invalid step direction %d", m.name, m.stepDir)
		return false
	}
	m.pins.Direction.Set(m.stepDir*m.cfg.Orientation > 0)
	if m.stepDir != m.lastStepDir && m.lastStepDir != 0 {
		m.logbuf.Logf("%s: direction change (%d to %d), backlash %s",
			m.name, m.lastStepDir, m.stepDir, formatAngle(m.cfg.BacklashAngle))
	}
	m.lastStepDir = m.stepDir

	fullStep := !m.useMicrostepping || size > 1
	if fullStep {
		for _, p := range m.pins.Mode {
			p.Set(false)
		}
	} else {
		m.pins.Mode[0].Set(m.mode.m0)
		m.pins.Mode[1].Set(m.mode.m1)
		m.pins.Mode[2].Set(m.mode.m2)
	}

	// A disabled motor goes through the motions without the pulse.
	if m.enabled {
		m.pins.Step.Set(true)
		m.sleep(m.waitTime)
		m.pins.Step.Set(false)
		m.sleep(m.waitTime)
	}
	m.current += m.stepDir * size
	m.currentAngle = m.StepToAngle(m.current)
	if m.useMicrostepping {
		m.fullStepBoundary = m.current%m.cfg.MicrostepRatio == 0
	}
	if m.waitTime > m.cfg.FastTime {
		m.waitTime -= m.cfg.AccelTime
		if m.waitTime < m.cfg.FastTime {
			m.waitTime = m.cfg.FastTime
		}
	}
	return true
}

// checkFault samples the driver fault input (active low). A sensitive
// axis aborts on fault; an insensitive one logs once and carries on.
// Either way the latch stops the log flooding the link. Returns false
// when motion must stop.
func (m *Motor) checkFault() bool {
	if !m.pins.Fault.Get() {
		if m.cfg.FaultSensitive {
			if !m.faultDetected {
				m.faultDetected = true
				m.logbuf.Log(m.name + ": driver fault, stopping")
				m.lampTask(hal.LampError)
			}
			return false
		}
		if !m.faultDetected {
			m.faultDetected = true
			m.logbuf.Log(m.name + ": driver fault, ignored")
		}
		return true
	}
	if m.faultDetected {
		m.faultDetected = false
		m.logbuf.Log(m.name + ": driver fault cleared")
	}
	return true
}

// invertSteps returns the complementary move the other way round the
// axis circle.
func (m *Motor) invertSteps(steps int) int {
	rev := int(math.Round(m.axisStepsPerRev))
	if steps > 0 {
		return steps - rev
	}
	return steps + rev
}

// efficiencyCheck flags a move going the long way round. Detection
// only; auto-redirect could cross the cable-wrap limits.
func (m *Motor) efficiencyCheck(steps int) {
	if abs(steps) > int(m.axisStepsPerRev/2) {
		m.logbuf.Logf("%s: inefficient move %d to %d (%d steps, suggest %d)",
			m.name, m.current, m.target, steps, m.invertSteps(steps))
	}
}

// checkOnTarget updates the on-target flag. Step positions are
// compared, never angles, so float rounding cannot fake a miss.
func (m *Motor) checkOnTarget() {
	m.onTarget = m.current == m.target
}

// SetStatusEnabled switches the periodic status stream, used by the
// host to silence an axis while bulk-loading trajectories.
func (m *Motor) SetStatusEnabled(enabled bool) {
	m.statusEnabled = enabled
}

// StatusLine builds the motor status report.
func (m *Motor) StatusLine(codes string) string {
	var b strings.Builder
	b.WriteString("motor status ")
	b.WriteString(protocol.FormatTime(m.clock.Now()))
	b.WriteString(" ")
	b.WriteString(m.name)
	b.WriteString(" ")
	b.WriteString(protocol.FormatBool(m.traj.Valid()))
	b.WriteString(" ")
	b.WriteString(protocol.FormatTime(m.traj.ValidUntil()))
	b.WriteString(" ")
	b.WriteString(strconv.Itoa(m.traj.Len()))
	b.WriteString(" ")
	b.WriteString(strconv.Itoa(m.current))
	b.WriteString(" ")
	b.WriteString(formatAngle(m.currentAngle))
	b.WriteString(" ")
	b.WriteString(protocol.FormatBool(m.configured))
	b.WriteString(" ")
	b.WriteString(protocol.FormatBool(m.onTarget))
	b.WriteString(" ")
	b.WriteString(strconv.FormatFloat((2 * m.waitTime).Seconds(), 'g', -1, 64))
	b.WriteString(" ")
	b.WriteString(strconv.Itoa(int(m.voltageRaw())))
	b.WriteString(" ")
	b.WriteString(codes)
	return b.String()
}

// SendStatus pushes a status line, immediately or when the periodic
// timer is due. Disabled status still answers with a comment so the
// host knows the axis is alive.
func (m *Motor) SendStatus(immediate bool, codes string) {
	if !immediate && !m.statusTimer.Due() {
		return
	}
	if !m.statusEnabled {
		m.comms.Send("# motor status " + protocol.FormatTime(m.clock.Now()) +
			" " + m.name + " disabled " + codes)
		return
	}
	m.comms.Send(m.StatusLine(codes))
	m.statusTimer.Reset()
}

// ReportConfig sends the live configuration as comment lines.
func (m *Motor) ReportConfig() {
	m.comms.Send("# motor " + m.name + " conf gearratio " +
		strconv.FormatFloat(m.cfg.GearRatio, 'f', -1, 64) +
		" stepsperrev " + strconv.Itoa(m.cfg.MotorStepsPerRev) +
		" microstep " + strconv.Itoa(m.cfg.MicrostepRatio))
	m.comms.Send("# motor " + m.name + " conf angles min " +
		formatAngle(m.cfg.MinAngle) + " max " + formatAngle(m.cfg.MaxAngle) +
		" rest " + formatAngle(m.cfg.RestAngle) +
		" backlash " + formatAngle(m.cfg.BacklashAngle))
	m.comms.Send("# motor " + m.name + " conf pulses fast " +
		m.cfg.FastTime.String() + " slow " + m.cfg.SlowTime.String() +
		" accel " + m.cfg.AccelTime.String() +
		" faultsensitive " + protocol.FormatBool(m.cfg.FaultSensitive))
}

func (m *Motor) voltageRaw() uint16 {
	if m.pins.Voltage == nil {
		return 0
	}
	return m.pins.Voltage.ReadRaw()
}

func (m *Motor) lampTask(task hal.LampTask) {
	if m.lamp != nil {
		m.lamp.Task(task)
	}
}

func formatAngle(a float64) string {
	return strconv.FormatFloat(a, 'f', -1, 64)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
