// Command mountctl runs the mount controller firmware: it opens the
// host-facing serial port, assembles the control stack and runs the
// cooperative control loop until the host sends exit or the process is
// interrupted.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"mountctl/config"
	"mountctl/controller"
	"mountctl/core"
	"mountctl/hal"
	"mountctl/link"
	"mountctl/motor"
)

var (
	configPath = flag.String("config", "", "Configuration file path (YAML)")
	device     = flag.String("device", "", "Serial device path, overrides config")
	baud       = flag.Int("baud", 0, "Baud rate, overrides config")
	sim        = flag.Bool("sim", false, "Simulated hardware, protocol on stdin/stdout")
	verbose    = flag.Bool("verbose", false, "Enable debug logging")
)

func main() {
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if err := run(log); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(log *slog.Logger) error {
	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if *device != "" {
		cfg.Serial.Device = *device
	}
	if *baud != 0 {
		cfg.Serial.Baud = *baud
	}

	var port link.Port
	if *sim {
		port = newStdioPort()
		log.Info("running against simulated hardware")
	} else {
		pc := link.DefaultPortConfig(cfg.Serial.Device)
		pc.Baud = cfg.Serial.Baud
		opened, err := link.OpenSerial(pc)
		if err != nil {
			return err
		}
		port = opened
		log.Info("serial port open", "device", cfg.Serial.Device, "baud", cfg.Serial.Baud)
	}

	clock := core.NewClock(nil, log)
	logbuf := core.NewLogBuffer(clock)
	lnk := link.New(port, clock, logbuf, log, nil)
	defer lnk.Close()

	var lamp *hal.StatusLamp
	if cfg.Lamp {
		lamp = hal.NewStatusLamp(&hal.SimOutput{}, &hal.SimOutput{}, &hal.SimOutput{}, nil)
		lamp.Enable()
	}

	motors := make([]*motor.Motor, 0, len(cfg.Axes))
	for _, axis := range cfg.Axes {
		pins := hal.NewSimMotorPins()
		m := motor.New(axis.Name, motor.Pins{
			Step:      &pins.Step,
			Direction: &pins.Dir,
			Mode:      [3]hal.OutputPin{&pins.Mode[0], &pins.Mode[1], &pins.Mode[2]},
			Enable:    &pins.Enable,
			Fault:     &pins.Fault,
		}, motor.Deps{
			Clock:  clock,
			LogBuf: logbuf,
			Comms:  lnk,
			Lamp:   lamp,
			Log:    log,
		})
		if err := m.SetBootProfile(axis.MotorConfig()); err != nil {
			return fmt.Errorf("axis %s: %w", axis.Name, err)
		}
		motors = append(motors, m)
	}

	ctl := controller.New(controller.Options{
		Link:   lnk,
		Clock:  clock,
		LogBuf: logbuf,
		Motors: motors,
		Lamp:   lamp,
		Log:    log,
	})

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigc
		log.Info("interrupt, shutting down")
		ctl.RequestExit()
	}()

	ctl.Run()
	return nil
}
