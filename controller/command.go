// Package controller ties the firmware together: it parses host
// commands, routes them to the motors, clock and session, and runs the
// cooperative control loop.
package controller

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"mountctl/motor"
	"mountctl/protocol"
	"mountctl/trajectory"
)

// ErrUnknownCommand marks input the parser has no handler for. The
// dispatcher answers these explicitly so unknown input is always
// observable to the host.
var ErrUnknownCommand = errors.New("unrecognised command")

// Command is one decoded host instruction. The concrete type selects
// the handler.
type Command interface {
	command()
}

type ExitCommand struct{}

type StopCommand struct{}

type HostStartedCommand struct{}

type ResetCommand struct{}

type StatusEnableCommand struct {
	Motor   string
	Enabled bool
}

type TuneCommand struct {
	Motor string
	Delta int
}

type HostVersionCommand struct {
	Version string
}

type ClearTrajectoryCommand struct{}

type ConfigureCommand struct {
	Stamp  time.Time
	Motor  string
	Params motor.Params
}

type TrajectoryCommand struct {
	Motor string
	Point trajectory.Point
}

type GotoCommand struct {
	Motor string
	Angle float64
}

type SetTimeCommand struct {
	Stamp time.Time
}

type LedsCommand struct {
	On bool
}

type ReportCommand struct{}

func (ExitCommand) command()            {}
func (StopCommand) command()            {}
func (HostStartedCommand) command()     {}
func (ResetCommand) command()           {}
func (StatusEnableCommand) command()    {}
func (TuneCommand) command()            {}
func (HostVersionCommand) command()     {}
func (ClearTrajectoryCommand) command() {}
func (ConfigureCommand) command()       {}
func (TrajectoryCommand) command()      {}
func (GotoCommand) command()            {}
func (SetTimeCommand) command()         {}
func (LedsCommand) command()            {}
func (ReportCommand) command()          {}

// ParseCommand decodes one validated, checksum-stripped line. Unknown
// input returns ErrUnknownCommand; recognised commands with malformed
// arguments return a descriptive error.
func ParseCommand(line string) (Command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil, ErrUnknownCommand
	}
	switch fields[0] {
	case "exit":
		return ExitCommand{}, nil
	case "stop":
		return StopCommand{}, nil
	case "reset":
		return ResetCommand{}, nil
	case "rpi":
		if len(fields) >= 2 && fields[1] == "started" {
			return HostStartedCommand{}, nil
		}
		if len(fields) >= 3 && fields[1] == "version" {
			return HostVersionCommand{Version: fields[2]}, nil
		}
	case "sendstatus":
		if len(fields) == 3 {
			return StatusEnableCommand{
				Motor:   fields[1],
				Enabled: protocol.ParseBool(fields[2], true),
			}, nil
		}
		return nil, fmt.Errorf("sendstatus wants motor and flag")
	case "tune":
		if len(fields) != 3 {
			return nil, fmt.Errorf("tune wants motor and step delta")
		}
		delta, err := strconv.Atoi(fields[2])
		if err != nil {
			return nil, fmt.Errorf("tune delta: %w", err)
		}
		return TuneCommand{Motor: fields[1], Delta: delta}, nil
	case "clear":
		if len(fields) >= 2 && fields[1] == "trajectory" {
			return ClearTrajectoryCommand{}, nil
		}
	case "configure":
		if len(fields) >= 2 && fields[1] == "motor" {
			return parseConfigure(fields)
		}
	case "trajectory":
		return parseTrajectory(fields)
	case "goto":
		if len(fields) != 3 {
			return nil, fmt.Errorf("goto wants motor and angle")
		}
		angle, err := strconv.ParseFloat(fields[2], 64)
		if err != nil {
			return nil, fmt.Errorf("goto angle: %w", err)
		}
		return GotoCommand{Motor: fields[1], Angle: angle}, nil
	case "set":
		if len(fields) == 3 && fields[1] == "time" {
			stamp, err := protocol.ParseTime(fields[2])
			if err != nil {
				return nil, fmt.Errorf("set time: %w", err)
			}
			return SetTimeCommand{Stamp: stamp}, nil
		}
	case "leds":
		if len(fields) == 2 {
			switch fields[1] {
			case "on":
				return LedsCommand{On: true}, nil
			case "off":
				return LedsCommand{On: false}, nil
			}
		}
	case "report":
		if len(fields) >= 2 && fields[1] == "motor" {
			return ReportCommand{}, nil
		}
	}
	return nil, ErrUnknownCommand
}

// parseConfigure decodes
//
//	configure motor <ts> <name> <currentangle> <minangle> <maxangle>
//	  <backlash> <orientation> <fasttime> <slowtime> <accel>
//	  <statusperiod> <faultsensitive> <gearratio> <motorstepsperrev>
//	  <microstepratio> <restangle>
//
// Fields after the name are positional and optional; "none" leaves the
// live value unchanged.
func parseConfigure(fields []string) (Command, error) {
	if len(fields) < 4 {
		return nil, fmt.Errorf("configure motor wants timestamp and name")
	}
	stamp, err := protocol.ParseTime(fields[2])
	if err != nil {
		return nil, fmt.Errorf("configure timestamp: %w", err)
	}
	cmd := ConfigureCommand{Stamp: stamp, Motor: fields[3]}
	p := &cmd.Params
	parsers := []func(string) error{
		floatField(&p.CurrentAngle),
		floatField(&p.MinAngle),
		floatField(&p.MaxAngle),
		floatField(&p.BacklashAngle),
		intField(&p.Orientation),
		secondsField(&p.FastTime),
		secondsField(&p.SlowTime),
		secondsField(&p.AccelTime),
		wholeSecondsField(&p.StatusPeriod),
		boolField(&p.FaultSensitive),
		floatField(&p.GearRatio),
		intField(&p.MotorStepsPerRev),
		intField(&p.MicrostepRatio),
		floatField(&p.RestAngle),
	}
	for i, parse := range parsers {
		idx := i + 4
		if idx >= len(fields) {
			break
		}
		if strings.EqualFold(fields[idx], "none") {
			continue
		}
		if err := parse(fields[idx]); err != nil {
			return nil, fmt.Errorf("configure field %d: %w", idx, err)
		}
	}
	return cmd, nil
}

// parseTrajectory decodes
//
//	trajectory <name> <starttime> <startangle> <endtime> <endangle>
func parseTrajectory(fields []string) (Command, error) {
	if len(fields) != 6 {
		return nil, fmt.Errorf("trajectory wants name, start, startangle, end, endangle")
	}
	start, err := protocol.ParseTime(fields[2])
	if err != nil {
		return nil, fmt.Errorf("trajectory start: %w", err)
	}
	startAngle, err := strconv.ParseFloat(fields[3], 64)
	if err != nil {
		return nil, fmt.Errorf("trajectory start angle: %w", err)
	}
	end, err := protocol.ParseTime(fields[4])
	if err != nil {
		return nil, fmt.Errorf("trajectory end: %w", err)
	}
	endAngle, err := strconv.ParseFloat(fields[5], 64)
	if err != nil {
		return nil, fmt.Errorf("trajectory end angle: %w", err)
	}
	point, err := trajectory.NewPoint(start, end, startAngle, endAngle)
	if err != nil {
		return nil, fmt.Errorf("trajectory segment: %w", err)
	}
	return TrajectoryCommand{Motor: fields[1], Point: point}, nil
}

func floatField(dst **float64) func(string) error {
	return func(s string) error {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		*dst = &v
		return nil
	}
}

func intField(dst **int) func(string) error {
	return func(s string) error {
		v, err := strconv.Atoi(s)
		if err != nil {
			return err
		}
		*dst = &v
		return nil
	}
}

// secondsField parses a decimal seconds value, e.g. "0.0005".
func secondsField(dst **time.Duration) func(string) error {
	return func(s string) error {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		d := time.Duration(v * float64(time.Second))
		*dst = &d
		return nil
	}
}

// wholeSecondsField parses an integer seconds value.
func wholeSecondsField(dst **time.Duration) func(string) error {
	return func(s string) error {
		v, err := strconv.Atoi(s)
		if err != nil {
			return err
		}
		d := time.Duration(v) * time.Second
		*dst = &d
		return nil
	}
}

func boolField(dst **bool) func(string) error {
	return func(s string) error {
		v := protocol.ParseBool(s, false)
		*dst = &v
		return nil
	}
}
