package calendar

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// DayLayout is the canonical bucket key format.
const DayLayout = "2006-01-02"

// Accepted timestamp layouts, tried in order. Layouts without a zone are
// parsed by time.Parse as UTC, never as local time.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999-0700",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04-0700",
	"20060102T150405Z07:00",
	"20060102T150405-0700",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"20060102T150405",
	"2006-01-02 15:04:05",
	DayLayout,
}

var errEmptyTimestamp = errors.New("calendar: empty timestamp")

// ParseTimestamp parses an ISO-8601 timestamp as an instant.
func ParseTimestamp(iso string) (time.Time, error) {
	// ISO-8601 allows lowercase designators ("t", "z").
	v := strings.ToUpper(strings.TrimSpace(iso))
	if v == "" {
		return time.Time{}, errEmptyTimestamp
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("calendar: unrecognized timestamp %q", iso)
}

// BucketKey returns the UTC calendar day of iso as YYYY-MM-DD. Any two
// representations of the same instant yield the same key, whatever the
// process's local timezone.
func BucketKey(iso string) (string, error) {
	t, err := ParseTimestamp(iso)
	if err != nil {
		return "", err
	}
	return DayKey(t), nil
}

// DayKey formats the UTC calendar day of t.
func DayKey(t time.Time) string {
	y, m, d := t.UTC().Date()
	return fmt.Sprintf("%04d-%02d-%02d", y, int(m), d)
}

// DayOf returns UTC midnight of t's UTC calendar day.
func DayOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDay parses a YYYY-MM-DD key into UTC midnight.
func ParseDay(key string) (time.Time, error) {
	t, err := time.Parse(DayLayout, strings.TrimSpace(key))
	if err != nil {
		return time.Time{}, fmt.Errorf("calendar: invalid day %q: %w", key, err)
	}
	return t, nil
}

// AddDays moves n calendar days from day's UTC midnight.
func AddDays(day time.Time, n int) time.Time {
	return DayOf(day).AddDate(0, 0, n)
}
