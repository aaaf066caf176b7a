package ui

import (
	"os"

	"golang.org/x/term"
)

// IsAgentMode reports whether output is consumed by a program rather
// than a person. Agent mode skips glamour and color so output stays
// stable for parsing.
func IsAgentMode() bool {
	return os.Getenv("VD_AGENT") != ""
}

// ShouldUseColor honors NO_COLOR and requires stdout to be a terminal.
func ShouldUseColor() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return term.IsTerminal(int(os.Stdout.Fd()))
}
