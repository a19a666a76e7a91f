// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat runs chat turns against a transcript controller.
//
// A Session owns a transcript.Controller and connects it to its
// collaborators: the streaming chat client, the upload service and the
// conversation store. Send submits a turn and consumes the stream on a
// background goroutine; presentation layers observe progress through
// Subscribe.
package chat

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/jeranaias/ottodev/internal/ollama"
	"github.com/jeranaias/ottodev/internal/storage"
	"github.com/jeranaias/ottodev/internal/transcript"
	"github.com/jeranaias/ottodev/internal/upload"
)

// =============================================================================
// COLLABORATORS
// =============================================================================

// Streamer streams a chat reply. The channel delivers chunks in order and is
// closed when the stream ends; a chunk carrying an error is the last one.
type Streamer interface {
	ChatStreamChan(ctx context.Context, model string, messages []ollama.Message) <-chan ollama.StreamChunk
}

// Uploader stores an uploaded file.
type Uploader interface {
	Upload(ctx context.Context, name string, r io.Reader) (*upload.Record, error)
}

// Store persists conversations.
type Store interface {
	Save(conv *storage.Conversation) (string, error)
}

// Deleter is implemented by uploaders that can remove a stored upload.
type Deleter interface {
	Delete(ctx context.Context, id string) error
}

// Errors returned by Session.
var (
	ErrClosed     = errors.New("chat session closed")
	ErrNoUploader = errors.New("uploads are not enabled")
)

// =============================================================================
// SESSION
// =============================================================================

// Options configures a Session.
type Options struct {
	Model        string
	SystemPrompt string

	// TurnTimeout bounds a whole turn; zero means no limit.
	TurnTimeout time.Duration

	Uploader Uploader // optional
	Store    Store    // optional

	Logger     zerolog.Logger
	Controller *transcript.Controller // optional; a new one is created when nil
}

// Session drives chat turns. It is safe for concurrent use.
type Session struct {
	ctrl     *transcript.Controller
	streamer Streamer
	uploader Uploader
	store    Store
	timeout  time.Duration
	log      zerolog.Logger

	// ops serializes Send, Upload, Reset and Resume. It is taken before mu
	// and never held by the turn goroutine.
	ops sync.Mutex

	mu           sync.Mutex
	model        string
	systemPrompt string
	conv         *storage.Conversation
	closed       bool

	baseCtx context.Context
	cancel  context.CancelFunc
	turns   errgroup.Group
}

// NewSession creates a session that streams replies from streamer.
func NewSession(streamer Streamer, opts Options) *Session {
	ctrl := opts.Controller
	if ctrl == nil {
		ctrl = transcript.NewController()
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Session{
		ctrl:         ctrl,
		streamer:     streamer,
		uploader:     opts.Uploader,
		store:        opts.Store,
		timeout:      opts.TurnTimeout,
		log:          opts.Logger.With().Str("component", "chat").Logger(),
		model:        opts.Model,
		systemPrompt: opts.SystemPrompt,
		baseCtx:      ctx,
		cancel:       cancel,
	}
}

// Controller returns the underlying transcript controller.
func (s *Session) Controller() *transcript.Controller {
	return s.ctrl
}

// Snapshot returns the current transcript state.
func (s *Session) Snapshot() transcript.Snapshot {
	return s.ctrl.Snapshot()
}

// Subscribe returns a channel of transcript snapshots; see
// transcript.Controller.Subscribe.
func (s *Session) Subscribe() (<-chan transcript.Snapshot, func()) {
	return s.ctrl.Subscribe()
}

// =============================================================================
// TURNS
// =============================================================================

// Send submits text as a new turn and starts streaming the reply. It returns
// the snapshot right after submission; the reply arrives through Subscribe.
//
// The stream is tied to the session, not to ctx, so an HTTP handler can
// return while the reply is still streaming. Close cancels it.
func (s *Session) Send(ctx context.Context, text string) (transcript.Snapshot, error) {
	s.ops.Lock()
	defer s.ops.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return s.ctrl.Snapshot(), ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return s.ctrl.Snapshot(), err
	}

	snap, err := s.ctrl.Submit(text)
	if err != nil {
		return snap, err
	}

	messages := s.requestMessagesLocked()
	model := s.model

	turnCtx, cancel := s.baseCtx, context.CancelFunc(func() {})
	if s.timeout > 0 {
		turnCtx, cancel = context.WithTimeout(s.baseCtx, s.timeout)
	}

	s.log.Debug().
		Str("model", model).
		Int("messages", len(messages)).
		Msg("turn started")

	s.turns.Go(func() error {
		defer cancel()
		s.runTurn(turnCtx, model, messages)
		return nil
	})

	return snap, nil
}

// requestMessagesLocked builds the chat request: the system prompt, then
// every message except the in-flight placeholder.
func (s *Session) requestMessagesLocked() []ollama.Message {
	history := s.ctrl.History()
	messages := make([]ollama.Message, 0, len(history)+1)
	if s.systemPrompt != "" {
		messages = append(messages, ollama.NewSystemMessage(s.systemPrompt))
	}
	for _, m := range history {
		messages = append(messages, ollama.Message{Role: m.Role.String(), Content: m.Content})
	}
	return messages
}

// runTurn consumes the stream and settles the turn.
func (s *Session) runTurn(ctx context.Context, model string, messages []ollama.Message) {
	start := time.Now()
	chunks := 0
	done := false

	for chunk := range s.streamer.ChatStreamChan(ctx, model, messages) {
		if chunk.Error != nil {
			s.fail(chunk.Error, chunks)
			return
		}
		if chunk.Content != "" {
			if err := s.ctrl.AppendChunk(chunk.Content); err != nil {
				s.log.Error().Err(err).Msg("dropping chunk")
				continue
			}
			chunks++
		}
		if chunk.Done {
			done = true
		}
	}

	// A canceled stream may close without delivering its error chunk.
	if err := ctx.Err(); err != nil && !done {
		s.fail(err, chunks)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ctrl.CompleteTurn(); err != nil {
		s.log.Error().Err(err).Msg("failed to complete turn")
		return
	}
	s.saveLocked()
	s.log.Info().
		Str("model", model).
		Int("chunks", chunks).
		Dur("duration", time.Since(start)).
		Msg("turn completed")
}

// fail settles the turn as failed and saves it. Settling and saving share
// one critical section so a Reset cannot slip in between.
func (s *Session) fail(cause error, chunks int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ctrl.FailTurn(cause); err != nil {
		s.log.Error().Err(err).Msg("failed to fail turn")
		return
	}
	s.saveLocked()
	s.log.Warn().
		Err(cause).
		Int("chunks_discarded", chunks).
		Bool("ollama_down", ollama.IsNotRunning(cause)).
		Bool("timeout", ollama.IsTimeout(cause) || errors.Is(cause, context.DeadlineExceeded)).
		Bool("canceled", ollama.IsCanceled(cause) || errors.Is(cause, context.Canceled)).
		Msg("turn failed")
}

// Wait blocks until every started turn has settled and been saved.
func (s *Session) Wait() error {
	return s.turns.Wait()
}

// =============================================================================
// UPLOADS
// =============================================================================

// Upload stores a file and appends the outcome notice to the transcript.
// The upload error, if any, is returned alongside the snapshot that carries
// the failure notice. While a turn is streaming the upload is rejected with
// transcript.ErrTurnInFlight and nothing is stored. A Send issued during the
// upload waits until the notice is appended.
func (s *Session) Upload(ctx context.Context, name string, r io.Reader) (transcript.Snapshot, *upload.Record, error) {
	if s.uploader == nil {
		return s.ctrl.Snapshot(), nil, ErrNoUploader
	}

	s.ops.Lock()
	defer s.ops.Unlock()

	if s.isClosed() {
		return s.ctrl.Snapshot(), nil, ErrClosed
	}
	if s.ctrl.InFlight() {
		return s.ctrl.Snapshot(), nil, transcript.ErrTurnInFlight
	}

	rec, upErr := s.uploader.Upload(ctx, name, r)
	shown := name
	if rec != nil {
		shown = rec.Name
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := s.ctrl.AppendNotice(transcript.UploadNotice(shown, upErr))
	if err != nil {
		// No notice means the upload must not stay behind either.
		if d, ok := s.uploader.(Deleter); ok && rec != nil {
			if derr := d.Delete(ctx, rec.ID); derr != nil {
				s.log.Error().Err(derr).Str("id", rec.ID).Msg("failed to remove orphaned upload")
			}
		}
		return snap, nil, err
	}

	if upErr != nil {
		s.log.Warn().Err(upErr).Str("name", name).Msg("upload failed")
	}
	s.saveLocked()
	return snap, rec, upErr
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// =============================================================================
// CONVERSATIONS
// =============================================================================

// Reset starts a new conversation. It fails while a turn is streaming.
func (s *Session) Reset() error {
	s.ops.Lock()
	defer s.ops.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ctrl.Reset(); err != nil {
		return err
	}
	s.conv = nil
	return nil
}

// Resume replaces the transcript with a saved conversation; later turns are
// saved back to it.
func (s *Session) Resume(conv *storage.Conversation) error {
	s.ops.Lock()
	defer s.ops.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ctrl.Restore(conv.Messages); err != nil {
		return err
	}
	s.conv = conv
	if conv.Model != "" {
		s.model = conv.Model
	}
	return nil
}

// ConversationID returns the ID of the conversation being saved to, or ""
// before the first save.
func (s *Session) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conv == nil {
		return ""
	}
	return s.conv.ID
}

// saveLocked persists the transcript. A failed save is logged and does not
// affect the turn. The caller holds s.mu.
func (s *Session) saveLocked() {
	if s.store == nil {
		return
	}
	history := s.ctrl.History()
	if len(history) == 0 {
		return
	}
	if s.conv == nil {
		s.conv = &storage.Conversation{}
	}
	s.conv.Model = s.model
	s.conv.Messages = history

	id, err := s.store.Save(s.conv)
	if err != nil {
		s.log.Error().Err(errors.Wrap(err, "failed to save conversation")).Msg("conversation not saved")
		return
	}
	s.log.Debug().Str("conversation", id).Int("messages", len(history)).Msg("conversation saved")
}

// =============================================================================
// SETTINGS
// =============================================================================

// SetModel changes the model used by later turns.
func (s *Session) SetModel(model string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if model != "" && model != s.model {
		s.log.Info().Str("from", s.model).Str("to", model).Msg("model changed")
		s.model = model
	}
}

// Model returns the model used for new turns.
func (s *Session) Model() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.model
}

// SetSystemPrompt changes the system prompt used by later turns.
func (s *Session) SetSystemPrompt(prompt string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.systemPrompt = prompt
}

// Close cancels any streaming turn, waits for it to settle and rejects
// further turns.
func (s *Session) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	return s.Wait()
}
