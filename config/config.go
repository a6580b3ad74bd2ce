// Package config loads the firmware configuration: serial settings and
// per-axis motor profiles.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"mountctl/motor"
)

// Config is the firmware's YAML configuration.
type Config struct {
	Serial SerialConfig `yaml:"serial"`
	Lamp   bool         `yaml:"lamp"`
	Axes   []AxisConfig `yaml:"axes"`
}

// SerialConfig names the host-facing serial port.
type SerialConfig struct {
	Device string `yaml:"device"`
	Baud   int    `yaml:"baud"`
}

// AxisConfig is the boot-time motion profile for one axis. The host
// overrides most of it through configure commands; these values make
// the firmware usable on the bench before a host connects. Pulse times
// are decimal seconds, the status period whole seconds.
type AxisConfig struct {
	Name             string  `yaml:"name"`
	GearRatio        float64 `yaml:"gearratio"`
	MotorStepsPerRev int     `yaml:"motorstepsperrev"`
	MicrostepRatio   int     `yaml:"microstepratio"`
	MinAngle         float64 `yaml:"minangle"`
	MaxAngle         float64 `yaml:"maxangle"`
	RestAngle        float64 `yaml:"restangle"`
	Orientation      int     `yaml:"orientation"`
	BacklashAngle    float64 `yaml:"backlashangle"`
	FastTime         float64 `yaml:"fasttime"`
	SlowTime         float64 `yaml:"slowtime"`
	AccelTime        float64 `yaml:"acceltime"`
	StatusPeriod     int     `yaml:"statusperiod"`
	FaultSensitive   bool    `yaml:"faultsensitive"`
}

// Load reads and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes configuration bytes, applying defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the two-axis mount profile used when no file is
// supplied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Serial.Device == "" {
		cfg.Serial.Device = "/dev/ttyAMA0"
	}
	if cfg.Serial.Baud == 0 {
		cfg.Serial.Baud = 115200
	}
	if len(cfg.Axes) == 0 {
		cfg.Axes = []AxisConfig{
			{Name: "azimuth"},
			{Name: "altitude"},
		}
		cfg.Lamp = true
	}
	for i := range cfg.Axes {
		a := &cfg.Axes[i]
		if a.GearRatio == 0 {
			a.GearRatio = 60
		}
		if a.MotorStepsPerRev == 0 {
			a.MotorStepsPerRev = 400
		}
		if a.MicrostepRatio == 0 {
			a.MicrostepRatio = 1
		}
		if a.MinAngle == 0 && a.MaxAngle == 0 {
			a.MinAngle = 0
			a.MaxAngle = 360
		}
		if a.RestAngle == 0 {
			a.RestAngle = 180
		}
		if a.Orientation == 0 {
			a.Orientation = 1
		}
		if a.FastTime == 0 {
			a.FastTime = 0.0005
		}
		if a.SlowTime == 0 {
			a.SlowTime = 0.05
		}
		if a.AccelTime == 0 {
			a.AccelTime = 0.003
		}
		if a.StatusPeriod == 0 {
			a.StatusPeriod = 10
		}
	}
}

func validate(cfg *Config) error {
	if len(cfg.Axes) == 0 {
		return fmt.Errorf("no axes configured")
	}
	seen := map[string]bool{}
	for _, a := range cfg.Axes {
		if a.Name == "" {
			return fmt.Errorf("axis with no name")
		}
		if seen[a.Name] {
			return fmt.Errorf("duplicate axis %q", a.Name)
		}
		seen[a.Name] = true
		if err := a.MotorConfig().Validate(); err != nil {
			return fmt.Errorf("axis %s: %w", a.Name, err)
		}
	}
	return nil
}

// MotorConfig converts the axis profile into the motor package's
// configuration, parked at the rest angle.
func (a AxisConfig) MotorConfig() motor.Config {
	return motor.Config{
		GearRatio:        a.GearRatio,
		MotorStepsPerRev: a.MotorStepsPerRev,
		MicrostepRatio:   a.MicrostepRatio,
		MinAngle:         a.MinAngle,
		MaxAngle:         a.MaxAngle,
		RestAngle:        a.RestAngle,
		CurrentAngle:     a.RestAngle,
		Orientation:      a.Orientation,
		BacklashAngle:    a.BacklashAngle,
		FastTime:         time.Duration(a.FastTime * float64(time.Second)),
		SlowTime:         time.Duration(a.SlowTime * float64(time.Second)),
		AccelTime:        time.Duration(a.AccelTime * float64(time.Second)),
		StatusPeriod:     time.Duration(a.StatusPeriod) * time.Second,
		FaultSensitive:   a.FaultSensitive,
	}
}
