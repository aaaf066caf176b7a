// Package timeutil provides UTC-only instant handling and DST-aware
// civil day/week windows.
//
// Every instant persisted by the vault is formatted with an explicit
// "+00:00" offset. Parsing rejects naive timestamps outright; window
// math is always zone-aware (never fixed-offset arithmetic), so days
// that cross a DST transition come out as 23h or 25h.
package timeutil

import (
	"fmt"
	"strings"
	"time"
)

// Layout formats a UTC instant with an explicit numeric offset.
// For a UTC time this renders "+00:00", never "Z".
const Layout = "2006-01-02T15:04:05-07:00"

// DateLayout is the civil-date form accepted by the window functions.
const DateLayout = "2006-01-02"

// Now returns the current instant in UTC, truncated to whole seconds.
// Sub-second precision is deliberately dropped: headers round-trip
// through the YAML codec at second granularity.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}

// Truncate normalizes an arbitrary instant to the stored precision:
// UTC, whole seconds.
func Truncate(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

// Format renders an instant as ISO-8601 UTC with a "+00:00" offset.
func Format(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(Layout)
}

// Parse reads an ISO-8601 instant. The input must carry an explicit
// offset ("+00:00", "Z", "-05:00", ...); naive timestamps are an error.
// The result is normalized to UTC.
func Parse(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("timeutil: empty timestamp")
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("timeutil: %q is not an ISO-8601 instant with explicit offset: %w", s, err)
	}
	return t.UTC(), nil
}

// Window is a half-open UTC interval [Start, End). DST is true when the
// interval's duration differs from its nominal length (24h for a day,
// 168h for a week) because a DST transition falls inside it.
type Window struct {
	Start time.Time
	End   time.Time
	DST   bool
}

// Duration returns End - Start.
func (w Window) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// Contains reports whether t falls inside the half-open interval.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// DayWindow computes the UTC interval covering the civil date (given as
// "2006-01-02") in the named zone. time.Date normalizes through the
// zone's rules, so a local midnight that sits inside a DST gap still
// yields a valid window of 23h or 25h.
func DayWindow(date, zone string) (Window, error) {
	loc, y, m, d, err := resolveCivil(date, zone)
	if err != nil {
		return Window{}, err
	}
	start := time.Date(y, m, d, 0, 0, 0, 0, loc)
	end := time.Date(y, m, d+1, 0, 0, 0, 0, loc)
	return makeWindow(start, end, 24*time.Hour), nil
}

// WeekWindow computes the UTC interval for the Monday-based week
// containing the civil date in the named zone.
func WeekWindow(date, zone string) (Window, error) {
	loc, y, m, d, err := resolveCivil(date, zone)
	if err != nil {
		return Window{}, err
	}
	// Walk back to Monday. Weekday is evaluated at local noon so a DST
	// shift at midnight cannot move us into the wrong civil day.
	noon := time.Date(y, m, d, 12, 0, 0, 0, loc)
	offset := (int(noon.Weekday()) + 6) % 7 // Monday=0 ... Sunday=6
	start := time.Date(y, m, d-offset, 0, 0, 0, 0, loc)
	end := time.Date(y, m, d-offset+7, 0, 0, 0, 0, loc)
	return makeWindow(start, end, 7*24*time.Hour), nil
}

func makeWindow(start, end time.Time, nominal time.Duration) Window {
	w := Window{Start: start.UTC(), End: end.UTC()}
	w.DST = w.End.Sub(w.Start) != nominal
	return w
}

func resolveCivil(date, zone string) (*time.Location, int, time.Month, int, error) {
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, 0, 0, 0, fmt.Errorf("timeutil: unknown zone %q: %w", zone, err)
	}
	day, err := time.Parse(DateLayout, date)
	if err != nil {
		return nil, 0, 0, 0, fmt.Errorf("timeutil: %q is not a civil date (want YYYY-MM-DD): %w", date, err)
	}
	return loc, day.Year(), day.Month(), day.Day(), nil
}
