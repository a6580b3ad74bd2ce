package hal

import (
	"time"
)

// LampTask names the controller activities the status lamp signals.
type LampTask string

const (
	LampIdle  LampTask = "idle"
	LampComs  LampTask = "coms"
	LampMove  LampTask = "move"
	LampError LampTask = "error"
	LampInit  LampTask = "init"
)

// lampColours maps tasks to R,G,B channel states.
var lampColours = map[LampTask][3]bool{
	LampIdle:  {false, false, false},
	LampComs:  {false, false, true},
	LampMove:  {false, true, false},
	LampError: {true, false, false},
	LampInit:  {false, true, true},
}

// errorHold is how long an error colour stays latched before any other
// task may repaint the lamp.
const errorHold = time.Second

// StatusLamp drives a three-channel RGB indicator from task names. It
// is purely cosmetic: the host can disable it ("leds off"), after which
// only error states still light.
type StatusLamp struct {
	r, g, b OutputPin
	enabled bool
	holdTil time.Time
	now     func() time.Time
}

// NewStatusLamp creates a lamp over three output pins. A nil now source
// uses time.Now.
func NewStatusLamp(r, g, b OutputPin, now func() time.Time) *StatusLamp {
	if now == nil {
		now = time.Now
	}
	return &StatusLamp{r: r, g: g, b: b, enabled: true, now: now}
}

// Enable turns the lamp back on.
func (l *StatusLamp) Enable() { l.enabled = true }

// Disable turns the lamp off for everything except errors.
func (l *StatusLamp) Disable() {
	l.enabled = false
	l.set(lampColours[LampIdle])
}

// Enabled reports whether the lamp is active.
func (l *StatusLamp) Enabled() bool { return l.enabled }

// Task paints the lamp for the given activity. Error colours win and
// persist for at least errorHold before anything else shows.
func (l *StatusLamp) Task(task LampTask) {
	now := l.now()
	if now.Before(l.holdTil) {
		return
	}
	if !l.enabled && task != LampError {
		l.set(lampColours[LampIdle])
		return
	}
	if task == LampError {
		l.holdTil = now.Add(errorHold)
	}
	colour, ok := lampColours[task]
	if !ok {
		colour = lampColours[LampIdle]
	}
	l.set(colour)
}

func (l *StatusLamp) set(colour [3]bool) {
	l.r.Set(colour[0])
	l.g.Set(colour[1])
	l.b.Set(colour[2])
}
