package utils

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	dps "github.com/markusmobius/go-dateparser"
)

// ParseTimestamp parses RFC3339, Unix seconds, or human-readable dates.
// An empty value returns the zero time and no error.
func ParseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse("2006-01-02T15:04:05.999999", value); err == nil {
		return t.UTC(), nil
	}
	if unix, err := strconv.ParseInt(value, 10, 64); err == nil {
		if unix < 0 {
			return time.Time{}, fmt.Errorf("timestamp must be non-negative")
		}
		return time.Unix(unix, 0).UTC(), nil
	}

	parser := dps.Parser{}
	parsed, err := parser.Parse(&dps.Configuration{PreferredDateSource: dps.Past}, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", value, err)
	}
	if parsed.IsZero() {
		return time.Time{}, fmt.Errorf("parse timestamp %q: no date found", value)
	}
	return parsed.Time.UTC(), nil
}

// ElapsedMinutes returns whole minutes between start and end, floored at min.
// A zero start returns fallback.
func ElapsedMinutes(start, end time.Time, min, fallback int) int {
	if start.IsZero() {
		return fallback
	}
	minutes := int(end.Sub(start).Minutes())
	if minutes < min {
		return min
	}
	return minutes
}
