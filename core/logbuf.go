package core

import (
	"fmt"
	"strings"

	"mountctl/protocol"
)

const (
	logBufferLines = 20
	logFlushBytes  = 80
)

// LogBuffer accumulates timestamped log lines destined for the host.
// Entries are queued locally and flushed through the link as
// "log :<message>" lines when the buffer grows large enough, to avoid
// interleaving chatter with command traffic. The buffer is bounded;
// when full, new entries are dropped and counted.
type LogBuffer struct {
	clock     *Clock
	lines     []string
	bytes     int
	Overflows int
}

// NewLogBuffer creates an empty log buffer stamped by clock.
func NewLogBuffer(clock *Clock) *LogBuffer {
	return &LogBuffer{clock: clock}
}

// Logf records a formatted message.
func (b *LogBuffer) Logf(format string, args ...any) {
	b.Log(fmt.Sprintf(format, args...))
}

// Log records a message with the current logical timestamp.
func (b *LogBuffer) Log(msg string) {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return
	}
	if len(b.lines) >= logBufferLines {
		b.Overflows++
		return
	}
	line := protocol.FormatTime(b.clock.Now()) + ":" + msg
	b.lines = append(b.lines, line)
	b.bytes += len(line)
}

// Pending returns the number of buffered lines.
func (b *LogBuffer) Pending() int { return len(b.lines) }

// SendCheck flushes the buffer through send when it has grown past the
// flush threshold, or unconditionally when force is set.
func (b *LogBuffer) SendCheck(send func(string), force bool) {
	if b.bytes <= logFlushBytes && !force {
		return
	}
	b.SendAll(send)
}

// SendAll drains every buffered line through send.
func (b *LogBuffer) SendAll(send func(string)) {
	for _, line := range b.lines {
		send("log :" + line)
	}
	b.lines = nil
	b.bytes = 0
}

// SendOne drains a single line through send, oldest first. Used when
// the controller is otherwise idle.
func (b *LogBuffer) SendOne(send func(string)) {
	if len(b.lines) == 0 {
		return
	}
	line := b.lines[0]
	b.lines = b.lines[1:]
	b.bytes -= len(line)
	send("log :" + line)
}
