// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package styles holds the colors and lipgloss styles of the OttoDev
// terminal UI. Colors are AdaptiveColor values so light and dark terminals
// both render legibly.
package styles
