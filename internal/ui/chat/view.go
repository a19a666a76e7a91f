// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/ottodev/internal/transcript"
	"github.com/jeranaias/ottodev/internal/ui/styles"
	"github.com/jeranaias/ottodev/internal/util"
)

const (
	// chatDockRatio is the share of the width the docked chat panel takes.
	chatDockRatio = 0.42

	headerHeight = 2
	footerHeight = 1
	inputHeight  = 1
	// panel border (2) plus the typing/status line
	panelChrome = 3
)

// =============================================================================
// LAYOUT
// =============================================================================

// chatWidth returns the outer width of the chat panel.
func (m Model) chatWidth() int {
	if !m.snap.Started || styles.LayoutFor(m.width) == styles.LayoutNarrow {
		return m.width
	}
	return int(float64(m.width) * chatDockRatio)
}

// layout sizes the components for the current window and state.
func (m *Model) layout() {
	if !m.ready {
		return
	}
	inner := m.chatWidth() - 4 // border plus padding
	if inner < 10 {
		inner = 10
	}
	height := m.height - headerHeight - footerHeight - inputHeight - panelChrome
	if height < 3 {
		height = 3
	}

	m.viewport.Width = inner
	m.viewport.Height = height
	m.input.Width = inner - 3
	m.markdown.SetWidth(inner)
}

// refreshViewport re-renders the transcript, following the bottom when the
// user has not scrolled up.
func (m *Model) refreshViewport() {
	if !m.ready {
		return
	}
	atBottom := m.viewport.AtBottom() || m.viewport.TotalLineCount() <= m.viewport.Height
	m.viewport.SetContent(m.renderMessages())
	if atBottom {
		m.viewport.GotoBottom()
	}
}

// =============================================================================
// VIEW
// =============================================================================

// View renders the chat view.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if !m.ready {
		return "Loading..."
	}

	var body string
	switch {
	case !m.snap.Started:
		body = m.renderWelcome()
	case styles.LayoutFor(m.width) == styles.LayoutNarrow:
		body = m.renderChatPanel(m.width)
	default:
		chat := m.renderChatPanel(m.chatWidth())
		workspace := m.renderWorkspace(m.width-lipgloss.Width(chat), lipgloss.Height(chat))
		body = lipgloss.JoinHorizontal(lipgloss.Top, chat, workspace)
	}

	return lipgloss.JoinVertical(lipgloss.Left, m.renderHeader(), body, m.renderFooter())
}

func (m Model) renderHeader() string {
	title := m.theme.Title.Render("OttoDev")
	model := m.theme.Subtitle.Render(" · " + m.session.Model())
	return title + model + "  " + m.renderStatus() + "\n"
}

// renderStatus renders "Thinking..." or "Ready to help".
func (m Model) renderStatus() string {
	if m.snap.InFlight {
		return m.spinner.View() + m.theme.StatusThinking.Render(m.snap.Status())
	}
	return m.theme.StatusReady.Render(m.snap.Status())
}

func (m Model) renderWelcome() string {
	width := m.width - 4
	var b strings.Builder
	b.WriteString(m.theme.WelcomeHeading.Render("How can I help you code today?"))
	b.WriteString("\n")

	cells := make([]string, len(Suggestions))
	cellWidth := (width - 4) / 2
	if cellWidth < 20 {
		cellWidth = width - 2
	}
	for i, s := range Suggestions {
		style := m.theme.Suggestion
		if i == m.suggestion {
			style = m.theme.SuggestionSelected
		}
		cells[i] = style.Width(cellWidth).Render(util.TruncateWidth(s, cellWidth-2))
	}
	if cellWidth == width-2 {
		b.WriteString(lipgloss.JoinVertical(lipgloss.Left, cells...))
	} else {
		b.WriteString(lipgloss.JoinVertical(lipgloss.Left,
			lipgloss.JoinHorizontal(lipgloss.Top, cells[0], " ", cells[1]),
			lipgloss.JoinHorizontal(lipgloss.Top, cells[2], " ", cells[3]),
		))
	}
	b.WriteString("\n\n")
	b.WriteString(m.input.View())

	height := m.height - headerHeight - footerHeight - 2
	return m.theme.PanelFocused.
		Width(width).
		Height(height).
		Render(lipgloss.Place(width-2, height, lipgloss.Center, lipgloss.Center, b.String()))
}

func (m Model) renderChatPanel(width int) string {
	typing := ""
	if m.snap.InFlight {
		typing = m.spinner.View() + m.theme.Hint.Render("AI Assistant is typing")
	}
	content := lipgloss.JoinVertical(lipgloss.Left,
		m.viewport.View(),
		typing,
		m.input.View(),
	)
	return m.theme.PanelFocused.Width(width - 2).Render(content)
}

func (m Model) renderWorkspace(width, height int) string {
	if width < 12 {
		return ""
	}
	inner := width - 4

	lines := []string{
		m.theme.PanelTitle.Render("Workspace"),
		"",
		m.theme.Hint.Render("Model: ") + util.TruncateWidth(m.session.Model(), inner-7),
	}
	if id := m.session.ConversationID(); id != "" {
		lines = append(lines, m.theme.Hint.Render("Conversation: ")+util.TruncateWidth(id, 8))
	}
	lines = append(lines, "", m.theme.PanelTitle.Render("Uploaded files"))
	if len(m.uploadsList) == 0 {
		lines = append(lines, m.theme.Hint.Render("None yet. Use /upload <path>"))
	}
	for _, rec := range m.uploadsList {
		size := util.FormatBytes(rec.Size)
		name := util.TruncateWidth(rec.Name, inner-util.StringWidth(size)-3)
		lines = append(lines, "• "+util.PadWidth(name, inner-util.StringWidth(size)-3)+" "+m.theme.Hint.Render(size))
	}

	return m.theme.Panel.
		Width(width - 2).
		Height(height - 2).
		Render(strings.Join(lines, "\n"))
}

func (m Model) renderFooter() string {
	if m.flash != "" {
		if m.flashError {
			return m.theme.ErrorText.Render(m.flash)
		}
		return m.theme.StatusReady.Render(m.flash)
	}
	var parts []string
	for _, b := range m.keys.ShortHelp(m.snap.Started) {
		h := b.Help()
		parts = append(parts, m.theme.HintKey.Render(h.Key)+" "+m.theme.Hint.Render(h.Desc))
	}
	return util.TruncateWidth(strings.Join(parts, "  "), m.width)
}

// =============================================================================
// MESSAGES
// =============================================================================

func (m Model) renderMessages() string {
	var b strings.Builder
	for i, msg := range m.snap.Messages {
		if i > 0 {
			b.WriteString("\n\n")
		}
		inFlight := m.snap.InFlight && i == len(m.snap.Messages)-1
		b.WriteString(m.renderMessage(msg, inFlight))
	}
	return b.String()
}

func (m Model) renderMessage(msg transcript.Message, inFlight bool) string {
	nameStyle := m.theme.AssistantName
	if msg.Role == transcript.RoleUser {
		nameStyle = m.theme.UserName
	}
	header := nameStyle.Render(msg.Role.DisplayName()) + " " + m.theme.Timestamp.Render(msg.Clock())

	width := m.viewport.Width
	var body string
	switch {
	case inFlight && msg.Content == "":
		body = m.spinner.View() + m.theme.Hint.Render("...")
	case inFlight, msg.Role == transcript.RoleUser:
		body = m.theme.MessageBody.Width(width).Render(msg.Content)
	case isNotice(msg.Content):
		body = m.theme.Notice.Width(width).Render(msg.Content)
	default:
		body = m.markdown.Render(msg.ID, msg.Content)
	}
	return header + "\n" + body
}

// isNotice reports whether content is one of the fixed system notices.
func isNotice(content string) bool {
	return content == transcript.StreamErrorText ||
		content == transcript.UploadFailureText ||
		strings.HasPrefix(content, strings.TrimSuffix(transcript.UploadSuccessFormat, "%s"))
}
