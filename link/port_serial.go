package link

import (
	"fmt"

	"github.com/tarm/serial"
)

// serialPort wraps a tarm/serial port behind the Port interface.
type serialPort struct {
	port *serial.Port
}

// OpenSerial opens the named serial device with the given settings.
func OpenSerial(cfg *PortConfig) (Port, error) {
	sc := &serial.Config{
		Name:        cfg.Device,
		Baud:        cfg.Baud,
		ReadTimeout: cfg.ReadTimeout,
	}

	p, err := serial.OpenPort(sc)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", cfg.Device, err)
	}

	return &serialPort{port: p}, nil
}

func (s *serialPort) Read(b []byte) (int, error) {
	return s.port.Read(b)
}

func (s *serialPort) Write(b []byte) (int, error) {
	return s.port.Write(b)
}

func (s *serialPort) Close() error {
	return s.port.Close()
}
