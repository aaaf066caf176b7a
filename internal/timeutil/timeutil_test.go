package timeutil

import (
	"strings"
	"testing"
	"time"
)

func TestFormatUsesExplicitOffset(t *testing.T) {
	instant := time.Date(2025, 10, 8, 13, 42, 17, 0, time.UTC)
	got := Format(instant)
	if got != "2025-10-08T13:42:17+00:00" {
		t.Fatalf("expected +00:00 offset, got %q", got)
	}
}

func TestFormatNormalizesZones(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("load zone: %v", err)
	}
	instant := time.Date(2025, 10, 8, 9, 42, 17, 0, ny)
	got := Format(instant)
	if !strings.HasSuffix(got, "+00:00") {
		t.Fatalf("expected UTC offset, got %q", got)
	}
	if got != "2025-10-08T13:42:17+00:00" {
		t.Fatalf("expected EDT converted to UTC, got %q", got)
	}
}

func TestParseRejectsNaive(t *testing.T) {
	if _, err := Parse("2025-10-08T13:42:17"); err == nil {
		t.Fatalf("expected error for timestamp without offset")
	}
	if _, err := Parse(""); err == nil {
		t.Fatalf("expected error for empty timestamp")
	}
}

func TestParseRoundTrip(t *testing.T) {
	in := "2025-10-08T13:42:17+00:00"
	got, err := Parse(in)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if Format(got) != in {
		t.Fatalf("round trip: got %q", Format(got))
	}
}

func TestParseNormalizesOffsets(t *testing.T) {
	got, err := Parse("2025-10-08T15:42:17+02:00")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if Format(got) != "2025-10-08T13:42:17+00:00" {
		t.Fatalf("expected normalization to UTC, got %q", Format(got))
	}
}

func TestDayWindowPlain(t *testing.T) {
	w, err := DayWindow("2025-07-15", "Europe/Brussels")
	if err != nil {
		t.Fatalf("day window: %v", err)
	}
	if w.Duration() != 24*time.Hour {
		t.Fatalf("expected 24h, got %v", w.Duration())
	}
	if w.DST {
		t.Fatalf("unexpected DST flag on plain summer day")
	}
	// CEST is UTC+2: local midnight is 22:00 the previous UTC day.
	if Format(w.Start) != "2025-07-14T22:00:00+00:00" {
		t.Fatalf("start: %q", Format(w.Start))
	}
}

func TestDayWindowFallBack(t *testing.T) {
	// 2025-10-26 is the fall-back day in Europe/Brussels: 25 hours.
	w, err := DayWindow("2025-10-26", "Europe/Brussels")
	if err != nil {
		t.Fatalf("day window: %v", err)
	}
	if w.Duration() != 25*time.Hour {
		t.Fatalf("expected 25h, got %v", w.Duration())
	}
	if !w.DST {
		t.Fatalf("expected DST flag")
	}
	if Format(w.Start) != "2025-10-25T22:00:00+00:00" {
		t.Fatalf("start: %q", Format(w.Start))
	}
	if Format(w.End) != "2025-10-26T23:00:00+00:00" {
		t.Fatalf("end: %q", Format(w.End))
	}
}

func TestDayWindowSpringForward(t *testing.T) {
	w, err := DayWindow("2025-03-30", "Europe/Brussels")
	if err != nil {
		t.Fatalf("day window: %v", err)
	}
	if w.Duration() != 23*time.Hour {
		t.Fatalf("expected 23h, got %v", w.Duration())
	}
	if !w.DST {
		t.Fatalf("expected DST flag")
	}
}

func TestWeekWindowMondayBased(t *testing.T) {
	// 2025-07-16 is a Wednesday; the week starts Monday 2025-07-14.
	w, err := WeekWindow("2025-07-16", "UTC")
	if err != nil {
		t.Fatalf("week window: %v", err)
	}
	if Format(w.Start) != "2025-07-14T00:00:00+00:00" {
		t.Fatalf("start: %q", Format(w.Start))
	}
	if w.Duration() != 7*24*time.Hour {
		t.Fatalf("expected 168h, got %v", w.Duration())
	}
	if w.DST {
		t.Fatalf("unexpected DST flag")
	}
}

func TestWeekWindowAcrossFallBack(t *testing.T) {
	// Week of Mon 2025-10-20 .. Mon 2025-10-27 contains the transition.
	w, err := WeekWindow("2025-10-22", "Europe/Brussels")
	if err != nil {
		t.Fatalf("week window: %v", err)
	}
	if w.Duration() != 7*24*time.Hour+time.Hour {
		t.Fatalf("expected 169h, got %v", w.Duration())
	}
	if !w.DST {
		t.Fatalf("expected DST flag")
	}
}

func TestWindowContains(t *testing.T) {
	w, err := DayWindow("2025-10-26", "Europe/Brussels")
	if err != nil {
		t.Fatalf("day window: %v", err)
	}
	inside, _ := Parse("2025-10-26T02:30:00+00:00")
	if !w.Contains(inside) {
		t.Fatalf("expected %v inside window", inside)
	}
	if w.Contains(w.End) {
		t.Fatalf("window must be half-open")
	}
}

func TestDayWindowBadInput(t *testing.T) {
	if _, err := DayWindow("2025-10-26", "Neverwhere/Nowhere"); err == nil {
		t.Fatalf("expected error for unknown zone")
	}
	if _, err := DayWindow("26/10/2025", "UTC"); err == nil {
		t.Fatalf("expected error for bad date format")
	}
}
