package utils

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseRFC3339 returns a time from the provided string or an error.
func ParseRFC3339(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("empty time value")
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time: %w", err)
	}
	return t, nil
}

// ParseTimestamp accepts RFC3339 text or epoch milliseconds, with or without
// surrounding JSON quotes.
func ParseTimestamp(value string) (time.Time, error) {
	trimmed := strings.Trim(strings.TrimSpace(value), `"`)
	if trimmed == "" {
		return time.Time{}, fmt.Errorf("empty time value")
	}
	if ms, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	return ParseRFC3339(trimmed)
}

// FormatEpochMillis renders t as epoch milliseconds.
func FormatEpochMillis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}
