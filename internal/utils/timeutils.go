package utils

import (
	"fmt"
	"regexp"
	"time"
)

// NoteTimeLayout renders timestamps as dd-mm-YYYY HH:MM in ticket notes.
const NoteTimeLayout = "02-01-2006 15:04"

var fractionPattern = regexp.MustCompile(`\.(\d+)`)

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

// TruncateFraction trims fractional seconds to at most six digits.
// Activity log timestamps carry seven, which stricter ISO parsers reject.
func TruncateFraction(value string) string {
	return fractionPattern.ReplaceAllStringFunc(value, func(match string) string {
		if len(match) > 7 {
			return match[:7]
		}
		return match
	})
}

// ParseEventTimestamp parses an activity log timestamp after truncating its fraction.
func ParseEventTimestamp(value string) (time.Time, error) {
	return ParseRFC3339(TruncateFraction(value))
}

// FormatNoteTime renders t for a ticket note.
func FormatNoteTime(t time.Time) string {
	return t.Format(NoteTimeLayout)
}

var localISOLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseISO8601 accepts RFC 3339 timestamps and offset-less ISO-8601 forms, the latter read in loc.
func ParseISO8601(value string, loc *time.Location) (time.Time, error) {
	if t, err := ParseRFC3339(value); err == nil {
		return t, nil
	}
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range localISOLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("parse time %q: not ISO-8601", value)
}
