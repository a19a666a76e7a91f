// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/ottodev/internal/ui/styles"
)

func init() {
	lipgloss.SetColorProfile(colorProfile())
}

// Shared styles for command output.
var (
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(styles.Blue)

	LabelStyle = lipgloss.NewStyle().
			Foreground(styles.TextMuted).
			Width(18)

	ValueStyle = lipgloss.NewStyle().
			Foreground(styles.TextPrimary)

	SuccessStyle = lipgloss.NewStyle().
			Foreground(styles.Green).
			Bold(true)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(styles.Red).
			Bold(true)

	DimStyle = lipgloss.NewStyle().
			Foreground(styles.TextMuted)

	// REPL speaker labels
	UserLabelStyle = lipgloss.NewStyle().
			Foreground(styles.Blue).
			Bold(true)

	AssistantLabelStyle = lipgloss.NewStyle().
				Foreground(styles.Violet).
				Bold(true)
)

// field renders an aligned "label value" line.
func field(label, value string) string {
	return LabelStyle.Render(label) + ValueStyle.Render(value)
}
