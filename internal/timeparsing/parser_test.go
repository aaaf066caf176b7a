package timeparsing

import (
	"testing"
	"time"
)

func TestParseCompactDuration(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		input   string
		want    time.Time
		wantErr bool
	}{
		{input: "+6h", want: time.Date(2025, 6, 15, 18, 0, 0, 0, time.UTC)},
		{input: "+1d", want: time.Date(2025, 6, 16, 12, 0, 0, 0, time.UTC)},
		{input: "+2w", want: time.Date(2025, 6, 29, 12, 0, 0, 0, time.UTC)},
		{input: "+3m", want: time.Date(2025, 9, 15, 12, 0, 0, 0, time.UTC)},
		{input: "+1y", want: time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)},
		{input: "-1d", want: time.Date(2025, 6, 14, 12, 0, 0, 0, time.UTC)},
		{input: "-6h", want: time.Date(2025, 6, 15, 6, 0, 0, 0, time.UTC)},
		// No sign means positive.
		{input: "3m", want: time.Date(2025, 9, 15, 12, 0, 0, 0, time.UTC)},
		{input: "365d", want: time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)},
		{input: "6h+", wantErr: true},
		{input: "++1d", wantErr: true},
		{input: "1x", wantErr: true},
		{input: "", wantErr: true},
		{input: "6", wantErr: true},
		{input: "+ 6h", wantErr: true},
		{input: "tomorrow", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseCompactDuration(tt.input, now)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseCompactDuration(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && !got.Equal(tt.want) {
				t.Fatalf("ParseCompactDuration(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestIsCompactDuration(t *testing.T) {
	for _, valid := range []string{"+6h", "-1d", "+2w", "3m", "1y", "+24h"} {
		if !IsCompactDuration(valid) {
			t.Errorf("IsCompactDuration(%q) = false, want true", valid)
		}
	}
	for _, invalid := range []string{"", "tomorrow", "2025-01-15", "6h+", "1x"} {
		if IsCompactDuration(invalid) {
			t.Errorf("IsCompactDuration(%q) = true, want false", invalid)
		}
	}
}

func TestParseNatural(t *testing.T) {
	// Wednesday, January 15, 2025, 10:00 local.
	now := time.Date(2025, 1, 15, 10, 0, 0, 0, time.Local)

	got, matched, ok := ParseNatural("tomorrow at 9am", now)
	if !ok {
		t.Fatalf("expected a match")
	}
	if matched == "" {
		t.Fatalf("expected the matched fragment to be reported")
	}
	if got.Day() != 16 || got.Hour() != 9 {
		t.Fatalf("tomorrow at 9am = %v, want Jan 16 09:00", got)
	}

	if _, _, ok := ParseNatural("nothing temporal here at all", now); ok {
		t.Fatalf("expected no match for non-temporal text")
	}
}

func TestParseInstantLayers(t *testing.T) {
	now := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)

	// Layer 1: compact duration takes precedence and preserves the hour.
	got, err := ParseInstant("+1d", now)
	if err != nil {
		t.Fatalf("+1d: %v", err)
	}
	if !got.Equal(now.AddDate(0, 0, 1)) {
		t.Fatalf("+1d = %v, want %v", got, now.AddDate(0, 0, 1))
	}

	// Layer 2: absolute forms.
	got, err = ParseInstant("2025-03-15T14:30:00Z", now)
	if err != nil {
		t.Fatalf("rfc3339: %v", err)
	}
	if got.Hour() != 14 {
		t.Fatalf("rfc3339 hour = %d, want 14", got.Hour())
	}
	got, err = ParseInstant("2025-02-01", now)
	if err != nil {
		t.Fatalf("date-only: %v", err)
	}
	if got.Day() != 1 || got.Month() != time.February {
		t.Fatalf("date-only = %v, want Feb 1", got)
	}

	// Layer 3: natural language.
	got, err = ParseInstant("next monday", now)
	if err != nil {
		t.Fatalf("next monday: %v", err)
	}
	if got.Weekday() != time.Monday {
		t.Fatalf("next monday = %v, want a Monday", got)
	}

	if _, err := ParseInstant("not-a-date", now); err == nil {
		t.Fatalf("expected error for unrecognized expression")
	}
}
