// Package motor drives one stepper-motor axis: configuration,
// angle/step conversion, the acceleration profile, microstepping
// policy, fault and limit handling, and the physical move loop.
package motor

import (
	"fmt"
	"time"
)

// Config carries everything needed to derive an axis's geometry and
// motion profile. Replaced wholesale by Configure; individual fields
// are patched at runtime through Apply.
type Config struct {
	// GearRatio is the transmission ratio, motor revolutions per
	// axis revolution.
	GearRatio float64

	// MotorStepsPerRev is the motor's full steps per revolution.
	MotorStepsPerRev int

	// MicrostepRatio is the driver's microsteps per full step. 1
	// disables microstepping.
	MicrostepRatio int

	// MinAngle and MaxAngle bound axis travel in degrees. These are
	// cable-wrap limits, never crossed.
	MinAngle float64
	MaxAngle float64

	// RestAngle is the parked position the axis resets to.
	RestAngle float64

	// CurrentAngle is where the axis physically points when the
	// configuration is applied.
	CurrentAngle float64

	// Orientation is +1 or -1, compensating for gearing that
	// reverses the direction of motion.
	Orientation int

	// BacklashAngle is the slack in the gearing on direction change,
	// recorded for diagnostics. Compensation is the host's job.
	BacklashAngle float64

	// FastTime and SlowTime are the shortest and longest half pulse
	// periods. Moves start slow and accelerate by AccelTime per
	// stride.
	FastTime  time.Duration
	SlowTime  time.Duration
	AccelTime time.Duration

	// StatusPeriod paces the periodic motor status messages.
	StatusPeriod time.Duration

	// FaultSensitive makes an asserted driver fault abort motion
	// rather than just being logged.
	FaultSensitive bool
}

// DefaultConfig returns the profile the firmware boots with. The host
// overrides it through configure commands before any motion is allowed.
func DefaultConfig() Config {
	return Config{
		GearRatio:        60,
		MotorStepsPerRev: 400,
		MicrostepRatio:   1,
		MinAngle:         0,
		MaxAngle:         360,
		RestAngle:        180,
		CurrentAngle:     180,
		Orientation:      1,
		FastTime:         500 * time.Microsecond,
		SlowTime:         50 * time.Millisecond,
		AccelTime:        3 * time.Millisecond,
		StatusPeriod:     10 * time.Second,
	}
}

// modeSetting holds the driver mode-pin levels and torque fraction for
// one microstep ratio (DRV8825 mode table).
type modeSetting struct {
	power      int
	m0, m1, m2 bool
}

var modeSettings = map[int]modeSetting{
	1:  {power: 100},
	2:  {power: 70, m0: true},
	4:  {power: 40, m1: true},
	8:  {power: 20, m0: true, m1: true},
	16: {power: 10, m2: true},
	32: {power: 5, m0: true, m1: true, m2: true},
}

// Validate checks the configuration is usable.
func (c Config) Validate() error {
	if c.GearRatio <= 0 {
		return fmt.Errorf("gear ratio %v must be positive", c.GearRatio)
	}
	if c.MotorStepsPerRev <= 0 {
		return fmt.Errorf("motor steps per revolution %d must be positive", c.MotorStepsPerRev)
	}
	if _, ok := modeSettings[c.MicrostepRatio]; !ok {
		return fmt.Errorf("unsupported microstep ratio %d", c.MicrostepRatio)
	}
	if c.MinAngle >= c.MaxAngle {
		return fmt.Errorf("min angle %v must be below max angle %v", c.MinAngle, c.MaxAngle)
	}
	if c.Orientation != 1 && c.Orientation != -1 {
		return fmt.Errorf("orientation %d must be +1 or -1", c.Orientation)
	}
	if c.FastTime <= 0 || c.SlowTime < c.FastTime {
		return fmt.Errorf("pulse times invalid: fast %v slow %v", c.FastTime, c.SlowTime)
	}
	return nil
}

// Params is a partial configuration update from a configure command.
// Nil fields leave the current value unchanged.
type Params struct {
	CurrentAngle     *float64
	MinAngle         *float64
	MaxAngle         *float64
	BacklashAngle    *float64
	Orientation      *int
	FastTime         *time.Duration
	SlowTime         *time.Duration
	AccelTime        *time.Duration
	StatusPeriod     *time.Duration
	FaultSensitive   *bool
	GearRatio        *float64
	MotorStepsPerRev *int
	MicrostepRatio   *int
	RestAngle        *float64
}

// merge overlays the non-nil fields of p onto c.
func (p Params) merge(c Config) Config {
	if p.CurrentAngle != nil {
		c.CurrentAngle = *p.CurrentAngle
	}
	if p.MinAngle != nil {
		c.MinAngle = *p.MinAngle
	}
	if p.MaxAngle != nil {
		c.MaxAngle = *p.MaxAngle
	}
	if p.BacklashAngle != nil {
		c.BacklashAngle = *p.BacklashAngle
	}
	if p.Orientation != nil {
		c.Orientation = *p.Orientation
	}
	if p.FastTime != nil {
		c.FastTime = *p.FastTime
	}
	if p.SlowTime != nil {
		c.SlowTime = *p.SlowTime
	}
	if p.AccelTime != nil {
		c.AccelTime = *p.AccelTime
	}
	if p.StatusPeriod != nil {
		c.StatusPeriod = clampStatusPeriod(*p.StatusPeriod)
	}
	if p.FaultSensitive != nil {
		c.FaultSensitive = *p.FaultSensitive
	}
	if p.GearRatio != nil {
		c.GearRatio = *p.GearRatio
	}
	if p.MotorStepsPerRev != nil {
		c.MotorStepsPerRev = *p.MotorStepsPerRev
	}
	if p.MicrostepRatio != nil {
		c.MicrostepRatio = *p.MicrostepRatio
	}
	if p.RestAngle != nil {
		c.RestAngle = *p.RestAngle
	}
	return c
}

func clampStatusPeriod(d time.Duration) time.Duration {
	if d < time.Second {
		return time.Second
	}
	if d > 30*time.Second {
		return 30 * time.Second
	}
	return d
}
