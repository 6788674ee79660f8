package contracts

import (
	"fmt"
	"time"
)

// ParseTimestamp parses an RFC 3339 timestamp and converts it to UTC.
// Timestamps without an explicit zone (Z or offset) are rejected: the
// control plane fails closed on naive timestamps.
func ParseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid RFC 3339 timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

// FormatTimestamp renders t as a canonical RFC 3339 UTC string with a "Z"
// suffix, preserving sub-second precision.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// CanonicalTimestamp round-trips s through parse/format, yielding the
// canonical form stored and emitted by the control plane.
func CanonicalTimestamp(s string) (string, error) {
	t, err := ParseTimestamp(s)
	if err != nil {
		return "", err
	}
	return FormatTimestamp(t), nil
}
