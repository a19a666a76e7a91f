// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package styles

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Theme holds the styled components of the TUI.
type Theme struct {
	// Terminal capabilities
	IsDark       bool
	ColorProfile termenv.Profile

	// Header
	Title    lipgloss.Style
	Subtitle lipgloss.Style

	// Panels
	Panel        lipgloss.Style
	PanelFocused lipgloss.Style
	PanelTitle   lipgloss.Style

	// Welcome screen
	WelcomeHeading     lipgloss.Style
	Suggestion         lipgloss.Style
	SuggestionSelected lipgloss.Style

	// Messages
	UserName      lipgloss.Style
	AssistantName lipgloss.Style
	Timestamp     lipgloss.Style
	MessageBody   lipgloss.Style
	Notice        lipgloss.Style
	ErrorText     lipgloss.Style

	// Status line
	StatusReady    lipgloss.Style
	StatusThinking lipgloss.Style
	Hint           lipgloss.Style
	HintKey        lipgloss.Style

	// Input
	InputPrompt lipgloss.Style
}

// NewTheme detects the terminal and builds the styles.
func NewTheme() *Theme {
	return newTheme(termenv.ColorProfile(), termenv.HasDarkBackground())
}

// NewThemeFor builds styles for an explicit profile, for tests and
// non-interactive output.
func NewThemeFor(profile termenv.Profile, dark bool) *Theme {
	return newTheme(profile, dark)
}

func newTheme(profile termenv.Profile, dark bool) *Theme {
	t := &Theme{IsDark: dark, ColorProfile: profile}

	t.Title = lipgloss.NewStyle().Bold(true).Foreground(Blue)
	t.Subtitle = lipgloss.NewStyle().Foreground(TextSecondary)

	t.Panel = lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(Border).
		Padding(0, 1)
	t.PanelFocused = t.Panel.Copy().BorderForeground(BorderFocus)
	t.PanelTitle = lipgloss.NewStyle().Bold(true).Foreground(TextPrimary)

	t.WelcomeHeading = lipgloss.NewStyle().Bold(true).Foreground(TextPrimary).MarginBottom(1)
	t.Suggestion = lipgloss.NewStyle().
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(Border).
		Foreground(TextSecondary).
		Padding(0, 1)
	t.SuggestionSelected = t.Suggestion.Copy().
		BorderForeground(Blue).
		Foreground(Blue).
		Bold(true)

	t.UserName = lipgloss.NewStyle().Bold(true).Foreground(Blue)
	t.AssistantName = lipgloss.NewStyle().Bold(true).Foreground(Violet)
	t.Timestamp = lipgloss.NewStyle().Foreground(TextMuted)
	t.MessageBody = lipgloss.NewStyle().Foreground(TextPrimary)
	t.Notice = lipgloss.NewStyle().Foreground(TextSecondary).Italic(true)
	t.ErrorText = lipgloss.NewStyle().Foreground(Red)

	t.StatusReady = lipgloss.NewStyle().Foreground(Green)
	t.StatusThinking = lipgloss.NewStyle().Foreground(Yellow)
	t.Hint = lipgloss.NewStyle().Foreground(TextMuted)
	t.HintKey = lipgloss.NewStyle().Foreground(TextSecondary).Bold(true)

	t.InputPrompt = lipgloss.NewStyle().Foreground(Blue).Bold(true)
	return t
}

// GlamourStyle returns the glamour standard style matching the background.
func (t *Theme) GlamourStyle() string {
	if t.ColorProfile == termenv.Ascii {
		return "notty"
	}
	if t.IsDark {
		return "dark"
	}
	return "light"
}

// LayoutMode represents the responsive layout for a width.
type LayoutMode int

const (
	LayoutNarrow LayoutMode = iota // < 80 columns: workspace hidden
	LayoutWide                     // chat docked left of the workspace
)

// LayoutFor returns the layout mode for a terminal width.
func LayoutFor(width int) LayoutMode {
	if width < 80 {
		return LayoutNarrow
	}
	return LayoutWide
}
