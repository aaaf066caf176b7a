package ui

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Body clipping defaults for `vd show`.
const (
	DefaultBodyLines    = 20 // lines a body may have before clipping
	DefaultContextLines = 6  // lines kept at each end of a clipped body
)

// ClipTitle shortens a one-line string to at most max runes, ending in
// an ellipsis. UTF-8 safe.
func ClipTitle(s string, max int) string {
	if max < 2 || utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return strings.TrimRight(string(runes[:max-1]), " ") + "…"
}

// ShouldClip reports whether text exceeds the line threshold.
func ShouldClip(text string, maxLines int) bool {
	return maxLines > 0 && strings.Count(text, "\n")+1 > maxLines
}

// ClipBody keeps the head and tail of long text with a muted marker
// naming how many lines were hidden. Text at or under maxLines passes
// through unchanged.
func ClipBody(text string, maxLines, contextLines int) string {
	if !ShouldClip(text, maxLines) {
		return text
	}
	if contextLines < 1 {
		contextLines = DefaultContextLines
	}
	lines := strings.Split(text, "\n")
	// Too tight for head + marker + tail: plain cut from the end.
	if maxLines < contextLines*2+1 {
		return strings.Join(lines[:maxLines], "\n") + "\n" + RenderMuted("…")
	}
	hidden := len(lines) - contextLines*2

	var b strings.Builder
	b.WriteString(strings.Join(lines[:contextLines], "\n"))
	b.WriteString("\n")
	b.WriteString(RenderMuted(fmt.Sprintf("… %d lines hidden, use --full …", hidden)))
	b.WriteString("\n")
	b.WriteString(strings.Join(lines[len(lines)-contextLines:], "\n"))
	return b.String()
}
