package link

import (
	"log/slog"
	"strings"
	"time"

	"mountctl/core"
	"mountctl/protocol"
)

const (
	// inboundCap bounds the received-line queue. When full, a newly
	// completed line is ignored and counted; queued lines are never
	// evicted, a stop already waiting must not be shed by a flood.
	inboundCap = 10

	// outboundCap bounds the transmit queue. When full, the second
	// entry is dropped: the head may already be partially on the
	// wire, and the newest entry carries the freshest state.
	outboundCap = 20

	// writeChunk is the most bytes handed to the port per poll.
	writeChunk = 32

	// writeGap is the minimum pause between successive writes,
	// giving the host time to drain its receive buffer.
	writeGap = 100 * time.Millisecond

	// heartbeatAfter is the transmit silence that triggers an
	// automatic heartbeat message.
	heartbeatAfter = 30 * time.Second

	// readBurst bounds the buffers consumed in a single read poll so
	// a chatty host cannot starve the motor loop.
	readBurst = 10
)

// Link frames, checksums and paces traffic over a Port. It is not safe
// for concurrent use; the controller polls it from a single loop.
type Link struct {
	port   Port
	waiter InputWaiter
	clock  *core.Clock
	logbuf *core.LogBuffer
	log    *slog.Logger
	now    func() time.Time

	inbound  []string
	outbound []string
	partial  []byte

	lastTx time.Time
	lastRx time.Time

	// Traffic counters, reported in comms status lines.
	LinesRead    int
	LinesWritten int
	BytesRead    int
	BytesWritten int
	RxErrors     int
	ReadDrops    int
	WriteDrops   int
}

// New wires a Link over the given port. The clock supplies heartbeat
// timestamps; logbuf receives receive acknowledgements and error
// records destined for the host. now paces writes and may be nil for
// time.Now.
func New(port Port, clock *core.Clock, logbuf *core.LogBuffer, log *slog.Logger, now func() time.Time) *Link {
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = slog.Default()
	}
	waiter, _ := port.(InputWaiter)
	t := now()
	return &Link{
		port:   port,
		waiter: waiter,
		clock:  clock,
		logbuf: logbuf,
		log:    log,
		now:    now,
		lastTx: t,
		lastRx: t,
	}
}

// Send queues a line for transmission, adding the checksum suffix. If
// the queue is full the second entry is dropped to make room.
func (l *Link) Send(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	for len(l.outbound) >= outboundCap {
		l.outbound = append(l.outbound[:1], l.outbound[2:]...)
		l.WriteDrops++
		l.log.Warn("transmit queue full, dropped entry", "drops", l.WriteDrops)
	}
	l.outbound = append(l.outbound, protocol.AddChecksum(line))
}

// PollRead drains waiting receive bytes into the inbound queue. Bytes
// above 127 are dropped. Completed lines are queued; when the queue is
// full the new line is ignored and counted.
func (l *Link) PollRead() {
	buf := make([]byte, writeChunk)
	for i := 0; i < readBurst; i++ {
		n, err := l.port.Read(buf)
		if n > 0 {
			l.BytesRead += n
			l.lastRx = l.now()
			for _, b := range buf[:n] {
				l.acceptByte(b)
			}
		}
		if err != nil || n == 0 {
			return
		}
	}
}

func (l *Link) acceptByte(b byte) {
	switch {
	case b == '\n':
		line := strings.TrimSpace(string(l.partial))
		l.partial = l.partial[:0]
		if line != "" {
			l.acceptLine(line)
		}
	case b > 127:
		l.log.Debug("dropped non-ascii byte", "byte", int(b))
	case b == '\r':
		// ignored, lines end with \n
	default:
		l.partial = append(l.partial, b)
	}
}

func (l *Link) acceptLine(line string) {
	if len(l.inbound) >= inboundCap {
		l.ReadDrops++
		l.log.Warn("receive queue full, line ignored", "drops", l.ReadDrops)
		return
	}
	l.inbound = append(l.inbound, line)
	l.LinesRead++
	l.acknowledge(line)
}

// acknowledge records receipt of a non-comment line in the log buffer.
// When the line carries a trailing sequence token only the token is
// echoed, keeping the record short.
func (l *Link) acknowledge(line string) {
	if strings.HasPrefix(line, "#") {
		return
	}
	report := protocol.RemoveChecksum(line)
	if token := protocol.SequenceToken(report); token != "" {
		report = token
	}
	if l.logbuf != nil {
		l.logbuf.Log("rec: " + report)
	}
}

// Receive returns the next validated inbound line with its checksum and
// sequence token stripped, or "" and false when nothing valid is
// queued. Lines failing checksum validation are counted, recorded for
// the host and skipped.
func (l *Link) Receive() (string, bool) {
	for len(l.inbound) > 0 {
		line := l.inbound[0]
		l.inbound = l.inbound[1:]
		if !protocol.ValidateChecksum(line) {
			l.RxErrors++
			l.log.Warn("checksum rejected", "line", line, "errors", l.RxErrors)
			if l.logbuf != nil {
				l.logbuf.Logf("error: rx checksum failed (%d): %s", l.RxErrors, line)
			}
			continue
		}
		return protocol.RemoveSequence(protocol.RemoveChecksum(line)), true
	}
	return "", false
}

// PollWrite transmits at most one chunk of the head outbound entry.
// Receive pre-empts transmit: nothing is written while inbound bytes
// are waiting. When transmit has been silent past the heartbeat period
// a heartbeat is queued first, so the channel never goes quiet.
func (l *Link) PollWrite() {
	if l.waiter != nil && l.waiter.InputWaiting() {
		return
	}
	t := l.now()
	if t.Sub(l.lastTx) < writeGap {
		return
	}
	if t.Sub(l.lastTx) > heartbeatAfter && len(l.outbound) == 0 {
		l.queueHeartbeat()
	}
	if len(l.outbound) == 0 {
		return
	}

	head := l.outbound[0]
	if len(head) > writeChunk {
		l.writeBytes([]byte(head[:writeChunk]))
		l.outbound[0] = head[writeChunk:]
		return
	}
	l.writeBytes(append([]byte(head), '\n'))
	l.outbound = l.outbound[1:]
	l.LinesWritten++
}

func (l *Link) writeBytes(b []byte) {
	n, err := l.port.Write(b)
	l.BytesWritten += n
	l.lastTx = l.now()
	if err != nil {
		l.log.Warn("serial write failed", "error", err)
	}
}

func (l *Link) queueHeartbeat() {
	msg := "controller heartbeat"
	if l.clock != nil {
		msg += " " + protocol.FormatTime(l.clock.Now()) +
			" on " + protocol.FormatTime(l.clock.Local())
	}
	l.Send(msg)
}

// Poll services both directions once: drain waiting receive bytes,
// then attempt one outbound chunk. Motors call this between strides so
// long moves never starve the channel.
func (l *Link) Poll() {
	l.PollRead()
	l.PollWrite()
}

// Pending returns the number of queued outbound entries.
func (l *Link) Pending() int {
	return len(l.outbound)
}

// Waiting returns the number of queued inbound lines.
func (l *Link) Waiting() int {
	return len(l.inbound)
}

// ReceiveAge returns how long the link has gone without receiving any
// bytes. The session failsafe watches this.
func (l *Link) ReceiveAge() time.Duration {
	return l.now().Sub(l.lastRx)
}

// TransmitAge returns how long since the last write.
func (l *Link) TransmitAge() time.Duration {
	return l.now().Sub(l.lastTx)
}

// Reset discards both queues and any partially assembled receive line.
func (l *Link) Reset() {
	l.inbound = l.inbound[:0]
	l.outbound = l.outbound[:0]
	l.partial = l.partial[:0]
}

// Flush drives PollWrite until the outbound queue drains or maxPolls
// attempts pass, sleeping the write gap between polls. Used during
// shutdown so final status lines reach the host.
func (l *Link) Flush(maxPolls int, sleep func(time.Duration)) {
	if sleep == nil {
		sleep = time.Sleep
	}
	for i := 0; i < maxPolls && len(l.outbound) > 0; i++ {
		l.PollWrite()
		if len(l.outbound) > 0 {
			sleep(writeGap)
		}
	}
}

// Close shuts the underlying port.
func (l *Link) Close() error {
	return l.port.Close()
}
