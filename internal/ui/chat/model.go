// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"io"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/ottodev/internal/transcript"
	"github.com/jeranaias/ottodev/internal/ui/styles"
	"github.com/jeranaias/ottodev/internal/upload"
)

// Suggestions are the prompts offered on the welcome panel.
var Suggestions = []string{
	"Create a React component",
	"Debug my code",
	"Explain this function",
	"Generate API endpoints",
}

const (
	inputPlaceholder     = "Ask me anything about code..."
	inputCharLimit       = 8000
	workspaceUploadLimit = 20
)

// writeClipboard is replaced in tests.
var writeClipboard = clipboard.WriteAll

// Session is the chat session the view drives.
type Session interface {
	Snapshot() transcript.Snapshot
	Subscribe() (<-chan transcript.Snapshot, func())
	Send(ctx context.Context, text string) (transcript.Snapshot, error)
	Upload(ctx context.Context, name string, r io.Reader) (transcript.Snapshot, *upload.Record, error)
	Reset() error
	Model() string
	ConversationID() string
}

// UploadLister lists stored uploads for the workspace panel.
type UploadLister interface {
	List(ctx context.Context, limit int) ([]upload.Record, error)
}

// =============================================================================
// CHAT MODEL
// =============================================================================

// Model is the Bubble Tea model for the chat view.
type Model struct {
	ctx     context.Context
	session Session
	uploads UploadLister
	theme   *styles.Theme
	keys    KeyMap

	// Transcript state, replaced on every snapshot
	snap        transcript.Snapshot
	updates     <-chan transcript.Snapshot
	unsubscribe func()

	// Components
	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model
	markdown *markdownRenderer

	// Dimensions
	width  int
	height int
	ready  bool

	suggestion  int // index into Suggestions, -1 when none selected
	flash       string
	flashError  bool
	uploadsList []upload.Record
	quitting    bool
}

// New creates the chat view for session. uploads may be nil.
func New(ctx context.Context, session Session, uploads UploadLister, theme *styles.Theme) Model {
	if theme == nil {
		theme = styles.NewTheme()
	}

	input := textinput.New()
	input.Placeholder = inputPlaceholder
	input.CharLimit = inputCharLimit
	input.Prompt = "> "
	input.PromptStyle = theme.InputPrompt
	input.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = theme.StatusThinking

	updates, unsubscribe := session.Subscribe()

	return Model{
		ctx:         ctx,
		session:     session,
		uploads:     uploads,
		theme:       theme,
		keys:        DefaultKeyMap(),
		snap:        session.Snapshot(),
		updates:     updates,
		unsubscribe: unsubscribe,
		input:       input,
		viewport:    viewport.New(0, 0),
		spinner:     sp,
		markdown:    newMarkdownRenderer(theme.GlamourStyle()),
		suggestion:  -1,
	}
}

// Init starts listening for snapshots.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{
		waitForSnapshot(m.updates),
		textinput.Blink,
		listUploadsCmd(m.ctx, m.uploads),
	}
	if m.snap.InFlight {
		cmds = append(cmds, m.spinner.Tick)
	}
	return tea.Batch(cmds...)
}

// Close stops the snapshot subscription. Call it after the program exits.
func (m Model) Close() {
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
}

// Snapshot returns the last snapshot the view rendered.
func (m Model) Snapshot() transcript.Snapshot {
	return m.snap
}

// InputValue returns the current input text.
func (m Model) InputValue() string {
	return m.input.Value()
}
