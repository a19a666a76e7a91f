// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"io"
	"os"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/muesli/termenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/ottodev/internal/transcript"
	"github.com/jeranaias/ottodev/internal/ui/styles"
	"github.com/jeranaias/ottodev/internal/upload"
)

// fakeSession drives a real controller without streaming.
type fakeSession struct {
	ctrl    *transcript.Controller
	sent    []string
	uploads []string
}

func newFakeSession() *fakeSession {
	return &fakeSession{ctrl: transcript.NewController()}
}

func (f *fakeSession) Snapshot() transcript.Snapshot { return f.ctrl.Snapshot() }

func (f *fakeSession) Subscribe() (<-chan transcript.Snapshot, func()) { return f.ctrl.Subscribe() }

func (f *fakeSession) Send(_ context.Context, text string) (transcript.Snapshot, error) {
	snap, err := f.ctrl.Submit(text)
	if err == nil {
		f.sent = append(f.sent, text)
	}
	return snap, err
}

func (f *fakeSession) Upload(_ context.Context, name string, r io.Reader) (transcript.Snapshot, *upload.Record, error) {
	data, _ := io.ReadAll(r)
	f.uploads = append(f.uploads, name)
	snap, err := f.ctrl.AppendNotice(transcript.UploadNotice(name, nil))
	return snap, &upload.Record{Name: name, Size: int64(len(data))}, err
}

func (f *fakeSession) Reset() error { return f.ctrl.Reset() }

func (f *fakeSession) Model() string { return "llama3.2" }

func (f *fakeSession) ConversationID() string { return "" }

func newTestModel(t *testing.T, width int) (Model, *fakeSession) {
	t.Helper()
	session := newFakeSession()
	m := New(context.Background(), session, nil, styles.NewThemeFor(termenv.Ascii, true))
	t.Cleanup(m.Close)

	updated, _ := m.Update(tea.WindowSizeMsg{Width: width, Height: 30})
	return updated.(Model), session
}

func press(t *testing.T, m Model, msgs ...tea.KeyMsg) Model {
	t.Helper()
	for _, msg := range msgs {
		updated, _ := m.Update(msg)
		m = updated.(Model)
	}
	return m
}

func typeText(t *testing.T, m Model, text string) Model {
	t.Helper()
	return press(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(text)})
}

var (
	enter    = tea.KeyMsg{Type: tea.KeyEnter}
	tab      = tea.KeyMsg{Type: tea.KeyTab}
	shiftTab = tea.KeyMsg{Type: tea.KeyShiftTab}
)

// =============================================================================
// WELCOME TESTS
// =============================================================================

func TestView_WelcomeShowsSuggestions(t *testing.T) {
	m, _ := newTestModel(t, 100)

	view := m.View()
	assert.Contains(t, view, "How can I help you code today?")
	for _, s := range Suggestions {
		assert.Contains(t, view, s)
	}
	assert.Contains(t, view, "Ready to help")
	assert.NotContains(t, view, "Workspace")
}

func TestSuggestions_CycleIntoInput(t *testing.T) {
	m, _ := newTestModel(t, 100)

	m = press(t, m, tab)
	assert.Equal(t, Suggestions[0], m.InputValue())
	m = press(t, m, tab, tab)
	assert.Equal(t, Suggestions[2], m.InputValue())
	m = press(t, m, shiftTab)
	assert.Equal(t, Suggestions[1], m.InputValue())

	m = press(t, m, tab, tab, tab)
	assert.Equal(t, Suggestions[0], m.InputValue(), "wraps around")
}

// =============================================================================
// SUBMIT TESTS
// =============================================================================

func TestSubmit_SendsAndDocksChat(t *testing.T) {
	m, session := newTestModel(t, 120)

	m = typeText(t, m, "Hello")
	m = press(t, m, enter)

	require.Equal(t, []string{"Hello"}, session.sent)
	assert.Empty(t, m.InputValue())

	snap := m.Snapshot()
	assert.True(t, snap.Started)
	assert.True(t, snap.InFlight)

	view := m.View()
	assert.Contains(t, view, "Thinking...")
	assert.Contains(t, view, "Workspace")
	assert.Contains(t, view, "You")
	assert.NotContains(t, view, "How can I help you code today?")
}

func TestSubmit_IgnoresBlankAndFlagsInFlight(t *testing.T) {
	m, session := newTestModel(t, 120)

	m = press(t, m, enter)
	assert.Empty(t, session.sent)
	assert.False(t, m.Snapshot().Started)

	m = typeText(t, m, "one")
	m = press(t, m, enter)
	m = typeText(t, m, "two")
	m = press(t, m, enter)

	assert.Equal(t, []string{"one"}, session.sent)
	assert.Equal(t, "two", m.InputValue(), "rejected input is kept")
	assert.Contains(t, m.View(), "A reply is still streaming")
}

func TestSnapshotMsg_RendersStreamAndIgnoresStale(t *testing.T) {
	m, session := newTestModel(t, 120)
	m = typeText(t, m, "Hello")
	m = press(t, m, enter)
	stale := m.Snapshot()

	require.NoError(t, session.ctrl.AppendChunk("Hi **there**"))
	require.NoError(t, session.ctrl.CompleteTurn())

	updated, cmd := m.Update(SnapshotMsg{Snapshot: session.ctrl.Snapshot()})
	m = updated.(Model)
	assert.NotNil(t, cmd)
	assert.False(t, m.Snapshot().InFlight)
	assert.Contains(t, m.View(), "Ready to help")
	assert.Contains(t, m.View(), "there")

	updated, _ = m.Update(SnapshotMsg{Snapshot: stale})
	m = updated.(Model)
	assert.False(t, m.Snapshot().InFlight, "stale snapshot must not roll back")
}

func TestFailedTurnShowsErrorText(t *testing.T) {
	m, session := newTestModel(t, 160)
	m = typeText(t, m, "Hello")
	m = press(t, m, enter)

	require.NoError(t, session.ctrl.FailTurn(errors.New("connection refused")))
	updated, _ := m.Update(SnapshotMsg{Snapshot: session.ctrl.Snapshot()})
	m = updated.(Model)

	assert.Contains(t, m.View(), "Sorry, there was an error")
}

// =============================================================================
// ACTION TESTS
// =============================================================================

func TestCopyLastReply(t *testing.T) {
	var copied string
	orig := writeClipboard
	writeClipboard = func(s string) error { copied = s; return nil }
	defer func() { writeClipboard = orig }()

	m, session := newTestModel(t, 120)
	m = press(t, m, tea.KeyMsg{Type: tea.KeyCtrlY})
	assert.Empty(t, copied)
	assert.Contains(t, m.View(), "Nothing to copy yet")

	m = typeText(t, m, "Hello")
	m = press(t, m, enter)
	require.NoError(t, session.ctrl.AppendChunk("Hi there"))
	require.NoError(t, session.ctrl.CompleteTurn())
	updated, _ := m.Update(SnapshotMsg{Snapshot: session.ctrl.Snapshot()})
	m = updated.(Model)

	m = press(t, m, tea.KeyMsg{Type: tea.KeyCtrlY})
	assert.Equal(t, "Hi there", copied)
	assert.Contains(t, m.View(), "Copied last reply")
}

func TestNewChat(t *testing.T) {
	m, session := newTestModel(t, 120)
	m = typeText(t, m, "Hello")
	m = press(t, m, enter)

	m = press(t, m, tea.KeyMsg{Type: tea.KeyCtrlN})
	assert.True(t, m.Snapshot().Started, "reset is rejected while streaming")
	assert.Contains(t, m.View(), "Wait for the reply")

	require.NoError(t, session.ctrl.CompleteTurn())
	m = press(t, m, tea.KeyMsg{Type: tea.KeyCtrlN})
	assert.False(t, m.Snapshot().Started)
	assert.Contains(t, m.View(), "How can I help you code today?")
}

func TestCommands(t *testing.T) {
	m, session := newTestModel(t, 120)

	m = typeText(t, m, "/upload")
	m = press(t, m, enter)
	assert.Contains(t, m.View(), "Usage: /upload <path>")

	m = typeText(t, m, "/bogus")
	m = press(t, m, enter)
	assert.Contains(t, m.View(), "Unknown command: /bogus")
	assert.Empty(t, session.sent)

	m = typeText(t, m, "/quit")
	_, cmd := m.Update(enter)
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestUploadCmd(t *testing.T) {
	session := newFakeSession()
	path := t.TempDir() + "/notes.txt"
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0600))

	msg := uploadCmd(context.Background(), session, path)()
	res, ok := msg.(UploadResultMsg)
	require.True(t, ok)
	require.NoError(t, res.Err)
	assert.Equal(t, "notes.txt", res.Record.Name)
	assert.Equal(t, []string{"notes.txt"}, session.uploads)

	last, _ := session.Snapshot().Last()
	assert.Equal(t, "📎 File uploaded successfully: notes.txt", last.Content)

	msg = uploadCmd(context.Background(), session, t.TempDir()+"/missing.txt")()
	assert.Error(t, msg.(UploadResultMsg).Err)
}

func TestNarrowLayoutHidesWorkspace(t *testing.T) {
	m, _ := newTestModel(t, 60)
	m = typeText(t, m, "Hello")
	m = press(t, m, enter)
	assert.NotContains(t, m.View(), "Workspace")
}

// =============================================================================
// HELPER TESTS
// =============================================================================

func TestIsNotice(t *testing.T) {
	assert.True(t, isNotice(transcript.StreamErrorText))
	assert.True(t, isNotice(transcript.UploadFailureText))
	assert.True(t, isNotice(transcript.UploadNotice("a.go", nil)))
	assert.False(t, isNotice("Here is a React component"))
}
