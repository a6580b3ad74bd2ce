package controller

import (
	"errors"
	"log/slog"
	"runtime"
	"strconv"
	"strings"
	"time"

	"mountctl/core"
	"mountctl/hal"
	"mountctl/link"
	"mountctl/motor"
	"mountctl/protocol"
)

// Version is the firmware version reported at startup.
const Version = "1.0.0"

// acceptedHostVersions lists the host major.minor versions this
// firmware is known to work with. A mismatch is logged, never fatal.
var acceptedHostVersions = []string{"1.0", "1.1"}

const (
	sessionStatusPeriod = 20 * time.Second
	sessionStatusOffset = 7 * time.Second
	cpuStatusPeriod     = 2 * time.Minute
	cpuStatusOffset     = 11 * time.Second

	// loopDelay keeps an idle control loop from spinning a core.
	loopDelay = time.Millisecond

	// exitFlushPolls bounds the shutdown drain of the outbound queue.
	exitFlushPolls = 1000
)

// Options wires a Controller. Link, Clock, LogBuf and Motors are
// required; the rest default sensibly.
type Options struct {
	Link   *link.Link
	Clock  *core.Clock
	LogBuf *core.LogBuffer
	Motors []*motor.Motor
	Lamp   *hal.StatusLamp
	Log    *slog.Logger
	Now    func() time.Time
	Sleep  func(time.Duration)
}

// Controller owns the firmware's moving parts and runs the cooperative
// control loop. There are no package-level singletons; everything hangs
// off this struct.
type Controller struct {
	lnk     *link.Link
	clock   *core.Clock
	logbuf  *core.LogBuffer
	motors  []*motor.Motor
	lamp    *hal.StatusLamp
	session *Session
	log     *slog.Logger
	now     func() time.Time
	sleep   func(time.Duration)

	sessionTimer *core.Timer
	cpuTimer     *core.Timer

	quit bool
}

// New assembles a Controller from its collaborators.
func New(opts Options) *Controller {
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sleep == nil {
		opts.Sleep = time.Sleep
	}
	c := &Controller{
		lnk:    opts.Link,
		clock:  opts.Clock,
		logbuf: opts.LogBuf,
		motors: opts.Motors,
		lamp:   opts.Lamp,
		log:    opts.Log,
		now:    opts.Now,
		sleep:  opts.Sleep,
	}
	c.session = NewSession(opts.Clock, opts.Link, opts.LogBuf, opts.Motors, opts.Now)
	c.sessionTimer = core.NewTimer("session", sessionStatusPeriod, sessionStatusOffset, opts.Now)
	c.cpuTimer = core.NewTimer("cpu", cpuStatusPeriod, cpuStatusOffset, opts.Now)
	return c
}

// Session exposes the permission state machine.
func (c *Controller) Session() *Session { return c.session }

// RequestExit makes the control loop finish its current pass and run
// the shutdown sequence.
func (c *Controller) RequestExit() { c.quit = true }

func (c *Controller) findMotor(name string) (*motor.Motor, bool) {
	for _, m := range c.motors {
		if m.Name() == name {
			return m, true
		}
	}
	return nil, false
}

// Dispatch decodes one inbound line and routes it. Comments are
// ignored; unknown commands are answered so the host always sees them.
func (c *Controller) Dispatch(line string) {
	if strings.HasPrefix(line, "#") {
		return
	}
	cmd, err := ParseCommand(line)
	if errors.Is(err, ErrUnknownCommand) {
		c.lnk.Send("error: unrecognised command: " + line)
		return
	}
	if err != nil {
		c.lnk.Send("error: " + err.Error() + ": " + line)
		return
	}

	switch cmd := cmd.(type) {
	case ExitCommand:
		c.logbuf.Log("exit command received")
		c.quit = true
	case StopCommand:
		for _, m := range c.motors {
			m.Stop()
		}
		c.session.RecomputePermissions()
	case HostStartedCommand:
		c.lnk.Send("acknowledged rpi started")
		for _, m := range c.motors {
			m.Reset(false)
		}
		c.session.RecomputePermissions()
	case ResetCommand:
		for _, m := range c.motors {
			m.Reset(false)
		}
		c.lnk.Reset()
		c.sendFlushPadding()
		c.lnk.Send("acknowledged reset")
	case StatusEnableCommand:
		m, ok := c.findMotor(cmd.Motor)
		if !ok {
			c.lnk.Send("error: unknown motor: " + line)
			return
		}
		m.SetStatusEnabled(cmd.Enabled)
		c.lnk.Send("# sendstatus " + cmd.Motor + " " + protocol.FormatBool(cmd.Enabled))
	case TuneCommand:
		m, ok := c.findMotor(cmd.Motor)
		if !ok {
			c.lnk.Send("error: unknown motor: " + line)
			return
		}
		m.Tune(cmd.Delta)
	case HostVersionCommand:
		c.checkHostVersion(cmd.Version)
	case ClearTrajectoryCommand:
		c.lnk.Send("cleared trajectory")
		for _, m := range c.motors {
			m.Trajectory().Clear()
		}
		c.session.RecomputePermissions()
	case ConfigureCommand:
		c.clock.AdvanceTo(cmd.Stamp)
		m, ok := c.findMotor(cmd.Motor)
		if !ok {
			c.lnk.Send("error: unknown motor: " + line)
			return
		}
		if err := m.Apply(cmd.Params); err != nil {
			c.lnk.Send("error: configure " + cmd.Motor + ": " + err.Error())
			return
		}
		m.SendStatus(true, "cfg")
		c.session.RecomputePermissions()
	case TrajectoryCommand:
		m, ok := c.findMotor(cmd.Motor)
		if !ok {
			c.lnk.Send("error: unknown motor: " + line)
			return
		}
		m.AddTrajectoryPoint(cmd.Point)
		c.session.RecomputePermissions()
	case GotoCommand:
		m, ok := c.findMotor(cmd.Motor)
		if !ok {
			c.lnk.Send("error: unknown motor: " + line)
			return
		}
		m.GoToAngle(cmd.Angle)
	case SetTimeCommand:
		c.clock.AdvanceTo(cmd.Stamp)
		c.session.RecomputePermissions()
	case LedsCommand:
		if c.lamp == nil {
			return
		}
		if cmd.On {
			c.lamp.Enable()
		} else {
			c.lamp.Disable()
		}
	case ReportCommand:
		for _, m := range c.motors {
			m.ReportConfig()
		}
	}
}

// checkHostVersion compares the host's major.minor against the
// allow-list. Logged only; an old host still gets to talk.
func (c *Controller) checkHostVersion(v string) {
	idx := strings.LastIndex(v, ".")
	if idx <= 0 {
		c.logbuf.Logf("host version %q malformed", v)
		return
	}
	comp := v[:idx]
	for _, accepted := range acceptedHostVersions {
		if comp == accepted {
			return
		}
	}
	c.logbuf.Logf("host version %s not in %v", v, acceptedHostVersions)
}

func (c *Controller) sendFlushPadding() {
	for i := 0; i < 2; i++ {
		c.lnk.Send(strings.Repeat("#", 20))
	}
}

// Startup announces the firmware over a possibly junk-filled channel.
func (c *Controller) Startup() {
	if c.lamp != nil {
		c.lamp.Task(hal.LampInit)
	}
	c.sendFlushPadding()
	c.lnk.Send("controller started")
	c.lnk.Send("controller version " + Version)
	c.lnk.Send("# runtime " + runtime.Version())
	names := make([]string, 0, len(c.motors))
	for _, m := range c.motors {
		names = append(names, m.Name())
	}
	c.lnk.Send("defined motors " + strings.Join(names, " "))
}

// Run executes the control loop until an exit command or RequestExit.
// Each duty is isolated: a panic in one is logged and the loop carries
// on with the next.
func (c *Controller) Run() {
	c.Startup()
	for !c.quit {
		c.Cycle()
		c.sleep(loopDelay)
	}
	c.Shutdown()
}

// Cycle performs one scheduler pass. Exposed so a simulation harness
// can single-step the firmware.
func (c *Controller) Cycle() {
	c.runDuty("logflush", c.dutyLogFlush)
	c.runDuty("read", c.dutyRead)
	c.runDuty("failsafe", c.session.TrajectorySafety)
	if c.quit {
		return
	}
	c.runDuty("sessionstatus", c.dutySessionStatus)
	c.runDuty("cpustatus", c.dutyCPUStatus)
	c.runDuty("motorstatus", c.dutyMotorStatus)
	c.runDuty("write", c.lnk.PollWrite)
	c.runDuty("automove", c.dutyAutoMove)
}

// runDuty isolates one scheduler step. A panic is logged against the
// duty and the cycle continues; one bad command must never stop status
// or motion.
func (c *Controller) runDuty(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("duty failed", "duty", name, "panic", r)
			c.logbuf.Logf("error: duty %s failed: %v", name, r)
		}
	}()
	fn()
}

func (c *Controller) dutyLogFlush() {
	c.logbuf.SendCheck(c.lnk.Send, false)
}

func (c *Controller) dutyRead() {
	c.lnk.PollRead()
	line, ok := c.lnk.Receive()
	if !ok {
		return
	}
	if c.lamp != nil {
		c.lamp.Task(hal.LampComs)
	}
	c.Dispatch(line)
}

func (c *Controller) dutySessionStatus() {
	if c.sessionTimer.Due() {
		c.session.SendStatus("tmr")
	}
}

func (c *Controller) dutyCPUStatus() {
	if c.cpuTimer.Due() {
		c.SendCPUStatus()
	}
}

// SendCPUStatus reports runtime health the way the session reports
// comms health.
func (c *Controller) SendCPUStatus() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	c.lnk.Send("cpu status " + protocol.FormatTime(c.clock.Now()) +
		" " + strconv.Itoa(runtime.NumGoroutine()) +
		" " + strconv.FormatUint(ms.HeapAlloc, 10) +
		" " + strconv.FormatUint(ms.HeapSys, 10) +
		" " + strconv.FormatUint(uint64(ms.NumGC), 10))
}

func (c *Controller) dutyMotorStatus() {
	for _, m := range c.motors {
		m.SendStatus(false, "tmr")
	}
}

func (c *Controller) dutyAutoMove() {
	c.session.AutoMove()
}

// Shutdown flushes the final messages to the host, bounded so a dead
// link cannot hang the exit.
func (c *Controller) Shutdown() {
	c.lnk.Send("controller stopping")
	c.logbuf.SendCheck(c.lnk.Send, true)
	c.lnk.Send("controller stopped")
	c.lnk.Flush(exitFlushPolls, c.sleep)
	if c.lamp != nil {
		c.lamp.Task(hal.LampIdle)
	}
}
