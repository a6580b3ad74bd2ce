// Package hal defines the minimal hardware capability interfaces the
// motion core drives, so the control algorithm runs identically against
// real GPIO, a bench rig, or the simulated pins used in tests. Platform
// packages implement these interfaces; the core never touches hardware
// registers directly.
package hal

// OutputPin is a single digital output.
type OutputPin interface {
	// Set drives the pin high (true) or low (false).
	Set(value bool)
}

// InputPin is a single digital input.
type InputPin interface {
	// Get reads the current pin state.
	Get() bool
}

// AnalogPin is a raw ADC input. Values are reported to the host
// unscaled; calibration is the host's concern.
type AnalogPin interface {
	ReadRaw() uint16
}
