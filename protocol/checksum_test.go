package protocol

import (
	"testing"
)

func TestChecksumRoundTrip(t *testing.T) {
	lines := []string{
		"controller started",
		"motor status 20210409090939 azimuth n 20210409090939 0 48000 180.0 y n 0.001 0 tmr",
		"goto azimuth 315.0",
		"x",
		"",
		"trajectory azimuth 20210410163444 256.57 20210410163544 256.79",
	}

	for _, line := range lines {
		framed := AddChecksum(line)
		if !ValidateChecksum(framed) {
			t.Errorf("ValidateChecksum(AddChecksum(%q)) = false, want true", line)
		}
		if got := RemoveChecksum(framed); got != line {
			t.Errorf("RemoveChecksum(AddChecksum(%q)) = %q, want original", line, got)
		}
	}
}

func TestChecksumAllPrintable(t *testing.T) {
	// Every printable ASCII character in every position parity.
	line := ""
	for c := byte(' '); c < 127; c++ {
		line += string(c)
	}
	framed := AddChecksum(line)
	if !ValidateChecksum(framed) {
		t.Fatal("checksum over full printable range did not validate")
	}
	if RemoveChecksum(framed) != line {
		t.Fatal("payload not recovered after checksum strip")
	}
}

func TestChecksumWeighting(t *testing.T) {
	// "ab" = 'a' + 3*'b' = 97 + 294 = 391 = 0x187
	if got := Checksum("ab"); got != "187" {
		t.Errorf("Checksum(\"ab\") = %q, want \"187\"", got)
	}
	// Swapping bytes must change the sum: 'b' + 3*'a' = 98 + 291 = 389
	if Checksum("ab") == Checksum("ba") {
		t.Error("checksum should be position sensitive")
	}
}

func TestValidateChecksumRejects(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{"no separator", "stop"},
		{"wrong token", "stop|ffff"},
		{"corrupt payload", "stoq|" + Checksum("stop")},
		{"empty token", "stop|"},
	}
	for _, tc := range tests {
		if ValidateChecksum(tc.line) {
			t.Errorf("%s: ValidateChecksum(%q) = true, want false", tc.name, tc.line)
		}
	}
}

func TestSequenceToken(t *testing.T) {
	tests := []struct {
		line    string
		token   string
		payload string
	}{
		{"stop [17]", "[17]", "stop"},
		{"stop", "", "stop"},
		{"set time 20210409090929 [204]", "[204]", "set time 20210409090929"},
		{"weird [unclosed", "", "weird"},
	}
	for _, tc := range tests {
		if got := SequenceToken(tc.line); got != tc.token {
			t.Errorf("SequenceToken(%q) = %q, want %q", tc.line, got, tc.token)
		}
		if got := RemoveSequence(tc.line); got != tc.payload {
			t.Errorf("RemoveSequence(%q) = %q, want %q", tc.line, got, tc.payload)
		}
	}
}
