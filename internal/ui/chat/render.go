// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"strings"

	"github.com/charmbracelet/glamour"
)

// markdownRenderer renders finished assistant messages with glamour.
// Output is cached per message; the cache is dropped when the wrap width
// changes.
type markdownRenderer struct {
	style    string
	width    int
	renderer *glamour.TermRenderer
	cache    map[string]string
}

func newMarkdownRenderer(style string) *markdownRenderer {
	return &markdownRenderer{style: style, cache: make(map[string]string)}
}

// SetWidth rebuilds the renderer for a new wrap width.
func (r *markdownRenderer) SetWidth(width int) {
	if width < 20 {
		width = 20
	}
	if width == r.width && r.renderer != nil {
		return
	}
	r.width = width
	r.cache = make(map[string]string)

	tr, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(r.style),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		r.renderer = nil
		return
	}
	r.renderer = tr
}

// Render renders content, keyed by id. It falls back to the raw text when
// glamour is unavailable or fails.
func (r *markdownRenderer) Render(id, content string) string {
	if out, ok := r.cache[id]; ok {
		return out
	}
	if r.renderer == nil {
		return content
	}
	out, err := r.renderer.Render(content)
	if err != nil {
		return content
	}
	out = strings.Trim(out, "\n")
	r.cache[id] = out
	return out
}

// Forget drops every cached rendering, e.g. after a new conversation.
func (r *markdownRenderer) Forget() {
	r.cache = make(map[string]string)
}
