package utils

import (
	"testing"
	"time"
)

func TestTruncateFraction(t *testing.T) {
	cases := map[string]string{
		"2024-10-01T10:11:12.1234567Z":      "2024-10-01T10:11:12.123456Z",
		"2024-10-01T10:11:12.12Z":           "2024-10-01T10:11:12.12Z",
		"2024-10-01T10:11:12Z":              "2024-10-01T10:11:12Z",
		"2024-10-01T10:11:12.9999999+00:00": "2024-10-01T10:11:12.999999+00:00",
	}
	for in, want := range cases {
		if got := TruncateFraction(in); got != want {
			t.Fatalf("TruncateFraction(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseEventTimestamp(t *testing.T) {
	ts, err := ParseEventTimestamp("2024-10-01T10:11:12.1234567Z")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ts.Nanosecond() != 123456000 {
		t.Fatalf("expected microsecond precision, got %d", ts.Nanosecond())
	}
	if _, err := ParseEventTimestamp(""); err == nil {
		t.Fatalf("expected error for empty timestamp")
	}
}

func TestFormatNoteTime(t *testing.T) {
	ts := time.Date(2024, time.March, 5, 7, 9, 0, 0, time.UTC)
	if got := FormatNoteTime(ts); got != "05-03-2024 07:09" {
		t.Fatalf("unexpected note time %q", got)
	}
}

func TestParseISO8601(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}

	withOffset, err := ParseISO8601("2030-01-02T03:04:05+02:00", berlin)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, offset := withOffset.Zone(); offset != 2*3600 {
		t.Fatalf("explicit offset should win, got %d", offset)
	}

	local, err := ParseISO8601("2030-01-02T03:04:05", berlin)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if local.Location() != berlin {
		t.Fatalf("expected time in supplied location, got %s", local.Location())
	}

	if _, err := ParseISO8601("next tuesday", nil); err == nil {
		t.Fatalf("expected error for free text")
	}
}
