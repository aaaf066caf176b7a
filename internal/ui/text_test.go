package ui

import (
	"strings"
	"testing"
)

func TestClipTitle(t *testing.T) {
	if got := ClipTitle("short", 10); got != "short" {
		t.Fatalf("short title changed: %q", got)
	}
	got := ClipTitle("review the quarterly budget and headcount plan", 20)
	if !strings.HasSuffix(got, "…") {
		t.Fatalf("no ellipsis: %q", got)
	}
	if n := len([]rune(got)); n > 20 {
		t.Fatalf("clipped to %d runes", n)
	}
	// Multi-byte runes must not be split.
	got = ClipTitle(strings.Repeat("né", 20), 9)
	if n := len([]rune(got)); n != 9 {
		t.Fatalf("utf8 clip length = %d", n)
	}
}

func TestClipTitleTinyMax(t *testing.T) {
	if got := ClipTitle("anything", 1); got != "anything" {
		t.Fatalf("max below ellipsis room must pass through: %q", got)
	}
}

func TestShouldClip(t *testing.T) {
	three := "a\nb\nc"
	if ShouldClip(three, 3) {
		t.Fatal("at the threshold is not clipped")
	}
	if !ShouldClip(three+"\nd", 3) {
		t.Fatal("over the threshold must clip")
	}
	if ShouldClip(three, 0) {
		t.Fatal("zero threshold disables clipping")
	}
}

func TestClipBodyPassThrough(t *testing.T) {
	body := "one\ntwo\nthree"
	if got := ClipBody(body, 10, 2); got != body {
		t.Fatalf("short body changed: %q", got)
	}
}

func TestClipBodyHidesMiddle(t *testing.T) {
	var lines []string
	for i := 1; i <= 30; i++ {
		lines = append(lines, "line")
	}
	lines[0] = "first"
	lines[29] = "last"

	got := ClipBody(strings.Join(lines, "\n"), 20, 6)
	out := strings.Split(got, "\n")
	if out[0] != "first" {
		t.Fatalf("head lost: %q", out[0])
	}
	if out[len(out)-1] != "last" {
		t.Fatalf("tail lost: %q", out[len(out)-1])
	}
	if !strings.Contains(got, "18 lines hidden") {
		t.Fatalf("hidden count missing: %q", got)
	}
	if n := len(out); n != 13 {
		t.Fatalf("clipped body has %d lines, want 6+1+6", n)
	}
}
