// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"io"
	"os"

	"github.com/muesli/termenv"
	"golang.org/x/term"
)

const (
	defaultTerminalWidth = 80
	minTerminalWidth     = 40
	maxRenderWidth       = 120
)

// isTerminal reports whether w is a terminal. Buffers and pipes are not.
func isTerminal(w any) bool {
	f, ok := w.(interface{ Fd() uintptr })
	return ok && term.IsTerminal(int(f.Fd()))
}

// terminalWidth returns the width of w, clamped for readable wrapping.
func terminalWidth(w io.Writer) int {
	f, ok := w.(interface{ Fd() uintptr })
	if !ok {
		return defaultTerminalWidth
	}
	width, _, err := term.GetSize(int(f.Fd()))
	switch {
	case err != nil || width <= 0:
		return defaultTerminalWidth
	case width < minTerminalWidth:
		return minTerminalWidth
	case width > maxRenderWidth:
		return maxRenderWidth
	}
	return width
}

// colorProfile honors NO_COLOR and FORCE_COLOR before detecting stdout.
func colorProfile() termenv.Profile {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return termenv.Ascii
	}
	if v := os.Getenv("FORCE_COLOR"); v != "" && v != "0" {
		return termenv.TrueColor
	}
	if !isTerminal(os.Stdout) {
		return termenv.Ascii
	}
	return termenv.NewOutput(os.Stdout).EnvColorProfile()
}

// darkBackground reports whether the terminal background is dark.
func darkBackground() bool {
	if !isTerminal(os.Stdout) {
		return true
	}
	return termenv.HasDarkBackground()
}
