package protocol

import (
	"fmt"
	"strings"
	"time"
)

// TimeLayout is the 14 digit timestamp used on the wire. Both sides
// treat it as a single shared epoch; no zone conversion is applied.
const TimeLayout = "20060102150405"

// FormatTime renders t as a wire timestamp.
func FormatTime(t time.Time) string {
	return t.Format(TimeLayout)
}

// ParseTime parses a wire timestamp. Cosmetic separators (space, dot,
// dash, colon) are tolerated and stripped first, so "2021-04-09
// 09:09:29" and "20210409090929" decode identically.
func ParseTime(s string) (time.Time, error) {
	r := strings.NewReplacer(" ", "", ".", "", "-", "", ":", "")
	s = r.Replace(s)
	t, err := time.ParseInLocation(TimeLayout, s, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad timestamp %q: %w", s, err)
	}
	return t, nil
}

// FormatBool renders a boolean as the single character flag used in
// status messages.
func FormatBool(v bool) string {
	if v {
		return "y"
	}
	return "n"
}

// ParseBool decodes a y/n flag, also accepting true/false. Unrecognised
// values return the fallback.
func ParseBool(s string, fallback bool) bool {
	switch strings.ToLower(s) {
	case "y", "true":
		return true
	case "n", "false":
		return false
	}
	return fallback
}
