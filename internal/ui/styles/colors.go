// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package styles

import "github.com/charmbracelet/lipgloss"

// =============================================================================
// ACCENT COLORS
// =============================================================================

// Blue - brand color, user messages, focus
var Blue = lipgloss.AdaptiveColor{Light: "#1D4ED8", Dark: "#60A5FA"}

// Violet - assistant messages
var Violet = lipgloss.AdaptiveColor{Light: "#6D28D9", Dark: "#C4B5FD"}

// Green - success, ready state
var Green = lipgloss.AdaptiveColor{Light: "#047857", Dark: "#6EE7B7"}

// Red - errors
var Red = lipgloss.AdaptiveColor{Light: "#B91C1C", Dark: "#F87171"}

// Yellow - thinking state, warnings
var Yellow = lipgloss.AdaptiveColor{Light: "#B45309", Dark: "#FCD34D"}

// =============================================================================
// SURFACES AND TEXT
// =============================================================================

var (
	Border      = lipgloss.AdaptiveColor{Light: "#CBD5E1", Dark: "#334155"}
	BorderFocus = Blue

	TextPrimary   = lipgloss.AdaptiveColor{Light: "#0F172A", Dark: "#E2E8F0"}
	TextSecondary = lipgloss.AdaptiveColor{Light: "#475569", Dark: "#94A3B8"}
	TextMuted     = lipgloss.AdaptiveColor{Light: "#94A3B8", Dark: "#64748B"}
)

// =============================================================================
// STATUS HELPERS
// =============================================================================

// Status indicators stay readable without color.
const (
	IndicatorOK    = "[OK]"
	IndicatorError = "[X]"
	IndicatorBusy  = "[..]"
)

// RenderSuccess renders an OK-prefixed message.
func RenderSuccess(message string) string {
	return lipgloss.NewStyle().Foreground(Green).Bold(true).Render(IndicatorOK + " " + message)
}

// RenderError renders an X-prefixed message.
func RenderError(message string) string {
	return lipgloss.NewStyle().Foreground(Red).Bold(true).Render(IndicatorError + " " + message)
}
