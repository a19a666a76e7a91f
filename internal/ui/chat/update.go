// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"errors"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/ottodev/internal/transcript"
)

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.ready = true
		m.layout()
		m.refreshViewport()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case SnapshotMsg:
		return m.handleSnapshot(msg)

	case subscriptionClosedMsg:
		m.updates = nil
		return m, nil

	case UploadResultMsg:
		return m.handleUploadResult(msg)

	case UploadsMsg:
		if msg.Err == nil {
			m.uploadsList = msg.Records
		}
		return m, nil

	case FlashMsg:
		m.flash, m.flashError = msg.Text, msg.IsError
		return m, nil

	case spinner.TickMsg:
		if !m.snap.InFlight {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		m.refreshViewport()
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// =============================================================================
// KEYS
// =============================================================================

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.quitting = true
		return m, tea.Quit

	case key.Matches(msg, m.keys.Submit):
		return m.submit()

	case key.Matches(msg, m.keys.NextSuggestion):
		return m.cycleSuggestion(1), nil

	case key.Matches(msg, m.keys.PrevSuggestion):
		return m.cycleSuggestion(-1), nil

	case key.Matches(msg, m.keys.Copy):
		return m.copyLastReply()

	case key.Matches(msg, m.keys.NewChat):
		return m.newChat()

	case key.Matches(msg, m.keys.PageUp):
		m.viewport.HalfViewUp()
		return m, nil

	case key.Matches(msg, m.keys.PageDown):
		m.viewport.HalfViewDown()
		return m, nil
	}

	m.flash = ""
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// cycleSuggestion fills the input with the next suggestion. Suggestions are
// only offered on the welcome panel.
func (m Model) cycleSuggestion(delta int) Model {
	if m.snap.Started {
		return m
	}
	n := len(Suggestions)
	if m.suggestion < 0 && delta < 0 {
		m.suggestion = 0
	}
	m.suggestion = ((m.suggestion+delta)%n + n) % n
	m.input.SetValue(Suggestions[m.suggestion])
	m.input.CursorEnd()
	return m
}

// =============================================================================
// ACTIONS
// =============================================================================

func (m Model) submit() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(m.input.Value())
	if strings.HasPrefix(text, "/") {
		return m.runCommand(text)
	}

	snap, err := m.session.Send(m.ctx, text)
	switch {
	case errors.Is(err, transcript.ErrEmptyInput):
		return m, nil
	case errors.Is(err, transcript.ErrTurnInFlight):
		m.flash, m.flashError = "A reply is still streaming", true
		return m, nil
	case err != nil:
		m.flash, m.flashError = err.Error(), true
		return m, nil
	}

	m.input.Reset()
	m.suggestion = -1
	m.flash = ""
	wasInFlight := m.snap.InFlight
	m.applySnapshot(snap)
	if !wasInFlight && snap.InFlight {
		return m, m.spinner.Tick
	}
	return m, nil
}

func (m Model) runCommand(text string) (tea.Model, tea.Cmd) {
	name, arg, _ := strings.Cut(text, " ")
	arg = strings.TrimSpace(arg)
	m.input.Reset()

	switch name {
	case "/upload":
		if arg == "" {
			m.flash, m.flashError = "Usage: /upload <path>", true
			return m, nil
		}
		if m.snap.InFlight {
			m.flash, m.flashError = "Wait for the reply before uploading", true
			return m, nil
		}
		m.flash, m.flashError = "Uploading "+arg+"...", false
		return m, uploadCmd(m.ctx, m.session, arg)
	case "/new":
		return m.newChat()
	case "/copy":
		return m.copyLastReply()
	case "/quit", "/exit":
		m.quitting = true
		return m, tea.Quit
	default:
		m.flash, m.flashError = "Unknown command: "+name, true
		return m, nil
	}
}

func (m Model) copyLastReply() (tea.Model, tea.Cmd) {
	last, ok := m.snap.LastAssistant()
	if !ok {
		m.flash, m.flashError = "Nothing to copy yet", true
		return m, nil
	}
	if err := writeClipboard(last.Content); err != nil {
		m.flash, m.flashError = "Clipboard unavailable: "+err.Error(), true
		return m, nil
	}
	m.flash, m.flashError = "Copied last reply", false
	return m, nil
}

func (m Model) newChat() (tea.Model, tea.Cmd) {
	if err := m.session.Reset(); err != nil {
		if errors.Is(err, transcript.ErrTurnInFlight) {
			m.flash, m.flashError = "Wait for the reply before starting a new chat", true
		} else {
			m.flash, m.flashError = err.Error(), true
		}
		return m, nil
	}
	m.markdown.Forget()
	m.suggestion = -1
	m.flash, m.flashError = "Started a new conversation", false
	m.applySnapshot(m.session.Snapshot())
	return m, nil
}

// =============================================================================
// SNAPSHOTS AND UPLOADS
// =============================================================================

func (m Model) handleSnapshot(msg SnapshotMsg) (tea.Model, tea.Cmd) {
	// Submit applies its snapshot directly; an older one from the
	// subscription must not roll it back.
	if msg.Snapshot.Version < m.snap.Version {
		return m, waitForSnapshot(m.updates)
	}

	wasInFlight := m.snap.InFlight
	m.applySnapshot(msg.Snapshot)

	cmds := []tea.Cmd{waitForSnapshot(m.updates)}
	if !wasInFlight && msg.Snapshot.InFlight {
		cmds = append(cmds, m.spinner.Tick)
	}
	return m, tea.Batch(cmds...)
}

func (m *Model) applySnapshot(snap transcript.Snapshot) {
	startedNow := !m.snap.Started && snap.Started
	m.snap = snap
	if startedNow {
		// The chat panel docks and shrinks.
		m.layout()
	}
	m.refreshViewport()
}

func (m Model) handleUploadResult(msg UploadResultMsg) (tea.Model, tea.Cmd) {
	if msg.Err != nil {
		m.flash, m.flashError = "Upload failed: "+msg.Err.Error(), true
		return m, nil
	}
	m.flash, m.flashError = "Uploaded "+msg.Record.Name, false
	return m, listUploadsCmd(m.ctx, m.uploads)
}
