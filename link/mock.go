package link

import (
	"bytes"
	"strings"

	"mountctl/protocol"
)

// MockPort is an in-memory Port for tests. Bytes fed in with Feed or
// FeedLine come back out of Read; bytes the link writes accumulate and
// can be inspected with Output or SentLines.
type MockPort struct {
	in     bytes.Buffer
	out    bytes.Buffer
	closed bool

	// ReadErr, when set, is returned by the next Read.
	ReadErr error
}

// NewMockPort returns an empty MockPort.
func NewMockPort() *MockPort {
	return &MockPort{}
}

// Feed appends raw bytes to the receive stream.
func (m *MockPort) Feed(b []byte) {
	m.in.Write(b)
}

// FeedLine appends a checksummed, newline-terminated message to the
// receive stream, exactly as the remote host would frame it.
func (m *MockPort) FeedLine(line string) {
	m.in.WriteString(protocol.AddChecksum(line))
	m.in.WriteByte('\n')
}

// FeedRaw appends a newline-terminated line without adding a checksum.
func (m *MockPort) FeedRaw(line string) {
	m.in.WriteString(line)
	m.in.WriteByte('\n')
}

func (m *MockPort) Read(b []byte) (int, error) {
	if m.ReadErr != nil {
		err := m.ReadErr
		m.ReadErr = nil
		return 0, err
	}
	return m.in.Read(b)
}

func (m *MockPort) Write(b []byte) (int, error) {
	return m.out.Write(b)
}

func (m *MockPort) Close() error {
	m.closed = true
	return nil
}

// Closed reports whether Close has been called.
func (m *MockPort) Closed() bool {
	return m.closed
}

// InputWaiting reports whether unread receive bytes remain.
func (m *MockPort) InputWaiting() bool {
	return m.in.Len() > 0
}

// Output returns everything written so far.
func (m *MockPort) Output() string {
	return m.out.String()
}

// SentLines returns the complete lines written so far, checksums
// stripped.
func (m *MockPort) SentLines() []string {
	raw := m.out.String()
	var lines []string
	for _, l := range strings.Split(raw, "\n") {
		if l == "" {
			continue
		}
		lines = append(lines, protocol.RemoveChecksum(l))
	}
	return lines
}
