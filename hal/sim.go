package hal

// SimOutput is an in-memory OutputPin recording its drive history.
// Pulses counts rising edges, which for a step pin equals the number of
// physical steps commanded.
type SimOutput struct {
	Value  bool
	Pulses int
	Writes int
}

func (p *SimOutput) Set(value bool) {
	if value && !p.Value {
		p.Pulses++
	}
	p.Value = value
	p.Writes++
}

// SimInput is an in-memory InputPin with a settable level.
type SimInput struct {
	Value bool
}

func (p *SimInput) Get() bool { return p.Value }

// SimAnalog is an in-memory AnalogPin returning a fixed raw reading.
type SimAnalog struct {
	Raw uint16
}

func (p *SimAnalog) ReadRaw() uint16 { return p.Raw }

// SimMotorPins builds a complete simulated pin set for one axis, with
// the fault input idle (high; the driver pulls it low on fault).
type SimMotorPins struct {
	Step   SimOutput
	Dir    SimOutput
	Mode   [3]SimOutput
	Enable SimOutput
	Fault  SimInput
}

func NewSimMotorPins() *SimMotorPins {
	p := &SimMotorPins{}
	p.Fault.Value = true
	return p
}
