// Package protocol implements the wire-format primitives shared by the
// mount controller and its host: line checksums, timestamp encoding and
// boolean flags.
//
// Lines exchanged over the serial link are newline terminated text with
// space separated fields. Most lines carry a trailing checksum token
// separated by '|'. A receiver recomputes the checksum over the portion
// before the separator and discards the line on mismatch; the sender is
// expected to raise the message again, so no retry protocol is needed.
package protocol

import (
	"strconv"
	"strings"
)

// Separator divides the payload of a line from its checksum token.
const Separator = "|"

// Checksum computes the weighted byte sum of line: bytes at even offsets
// count once, bytes at odd offsets count three times, summed mod 65536.
// The result is rendered as lowercase hex without padding.
func Checksum(line string) string {
	sum := 0
	for i := 0; i < len(line); i++ {
		if i%2 == 0 {
			sum += int(line[i])
		} else {
			sum += int(line[i]) * 3
		}
	}
	return strconv.FormatInt(int64(sum%65536), 16)
}

// AddChecksum appends the checksum token to line.
func AddChecksum(line string) string {
	return line + Separator + Checksum(line)
}

// RemoveChecksum strips the checksum token, if any, returning the payload.
func RemoveChecksum(line string) string {
	if i := strings.Index(line, Separator); i >= 0 {
		return line[:i]
	}
	return line
}

// ValidateChecksum reports whether line carries a checksum token and the
// token matches the payload. A line without a separator is invalid.
func ValidateChecksum(line string) bool {
	i := strings.Index(line, Separator)
	if i < 0 {
		return false
	}
	return line[i+1:] == Checksum(line[:i])
}

// RemoveSequence strips a trailing bracketed sequence token ("[nnn]")
// from a payload line. The host numbers its messages for tracing; the
// counter is not part of the command itself.
func RemoveSequence(line string) string {
	if i := strings.LastIndex(line, "["); i >= 0 {
		return strings.TrimSpace(line[:i])
	}
	return line
}

// SequenceToken returns the trailing bracketed sequence token of a line,
// or "" if the line does not end with one.
func SequenceToken(line string) string {
	i := strings.LastIndex(line, "[")
	if i < 0 || !strings.HasSuffix(line, "]") {
		return ""
	}
	return line[i:]
}
