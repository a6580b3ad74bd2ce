// Package link implements the framed, checksummed, queued serial
// channel between the mount controller and its host. Both directions
// are bounded: the link never blocks the control loop waiting for
// buffer space, it degrades by dropping the least valuable entries and
// counting the damage.
package link

import (
	"io"
	"time"
)

// Port is the raw byte channel the link runs over. Reads must not block
// indefinitely; serial implementations configure a short read timeout
// so the control loop keeps its cadence.
type Port interface {
	io.ReadWriter
	io.Closer
}

// InputWaiter is an optional Port capability: reporting whether receive
// data is already buffered. When available, the link refuses to start a
// write while inbound bytes are waiting, so receive always pre-empts
// transmit.
type InputWaiter interface {
	InputWaiting() bool
}

// PortConfig holds serial port settings.
type PortConfig struct {
	// Device path, e.g. "/dev/ttyAMA0" or "COM3".
	Device string

	// Baud rate. The UART link to the mount runs at 115200.
	Baud int

	// ReadTimeout bounds a single blocking read so the poll loop
	// stays responsive.
	ReadTimeout time.Duration
}

// DefaultPortConfig returns the standard settings for the mount UART.
func DefaultPortConfig(device string) *PortConfig {
	return &PortConfig{
		Device:      device,
		Baud:        115200,
		ReadTimeout: 5 * time.Millisecond,
	}
}
