// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/ottodev/internal/ollama"
	"github.com/jeranaias/ottodev/internal/storage"
	"github.com/jeranaias/ottodev/internal/transcript"
	"github.com/jeranaias/ottodev/internal/upload"
)

// =============================================================================
// FAKES
// =============================================================================

// scriptedStreamer replays chunks. When gate is set, it waits for a value on
// gate before each chunk.
type scriptedStreamer struct {
	mu     sync.Mutex
	chunks []ollama.StreamChunk
	gate   chan struct{}
	calls  [][]ollama.Message
	models []string
}

func (f *scriptedStreamer) ChatStreamChan(ctx context.Context, model string, messages []ollama.Message) <-chan ollama.StreamChunk {
	f.mu.Lock()
	f.calls = append(f.calls, messages)
	f.models = append(f.models, model)
	chunks := f.chunks
	f.mu.Unlock()

	ch := make(chan ollama.StreamChunk)
	go func() {
		defer close(ch)
		for _, c := range chunks {
			if f.gate != nil {
				select {
				case <-f.gate:
				case <-ctx.Done():
					return
				}
			}
			select {
			case ch <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}

func (f *scriptedStreamer) lastCall() (string, []ollama.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.models[len(f.models)-1], f.calls[len(f.calls)-1]
}

type fakeUploader struct {
	err error
}

func (f *fakeUploader) Upload(_ context.Context, name string, r io.Reader) (*upload.Record, error) {
	if f.err != nil {
		return nil, f.err
	}
	data, _ := io.ReadAll(r)
	return &upload.Record{ID: "u1", Name: name, Size: int64(len(data))}, nil
}

func text(s string) ollama.StreamChunk { return ollama.StreamChunk{Content: s} }

var doneChunk = ollama.StreamChunk{Done: true}

func newSession(t *testing.T, streamer Streamer, opts Options) *Session {
	t.Helper()
	if opts.Model == "" {
		opts.Model = "llama3.2"
	}
	opts.Logger = zerolog.Nop()
	s := NewSession(streamer, opts)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// =============================================================================
// TURN TESTS
// =============================================================================

func TestSend_SuccessfulTurn(t *testing.T) {
	streamer := &scriptedStreamer{chunks: []ollama.StreamChunk{text("Hi"), text(" there"), doneChunk}}
	s := newSession(t, streamer, Options{})

	snap, err := s.Send(context.Background(), "Hello")
	require.NoError(t, err)
	require.Len(t, snap.Messages, 2)
	assert.True(t, snap.InFlight)

	require.NoError(t, s.Wait())

	final := s.Snapshot()
	assert.False(t, final.InFlight)
	require.Len(t, final.Messages, 2)
	assert.Equal(t, "Hi there", final.Messages[1].Content)
}

func TestSend_RequestCarriesSystemPromptAndHistory(t *testing.T) {
	streamer := &scriptedStreamer{chunks: []ollama.StreamChunk{text("ok"), doneChunk}}
	s := newSession(t, streamer, Options{SystemPrompt: "You are OttoDev."})

	_, err := s.Send(context.Background(), "first")
	require.NoError(t, err)
	require.NoError(t, s.Wait())

	_, err = s.Send(context.Background(), "second")
	require.NoError(t, err)
	require.NoError(t, s.Wait())

	model, msgs := streamer.lastCall()
	assert.Equal(t, "llama3.2", model)
	require.Len(t, msgs, 4)
	assert.Equal(t, ollama.NewSystemMessage("You are OttoDev."), msgs[0])
	assert.Equal(t, ollama.NewUserMessage("first"), msgs[1])
	assert.Equal(t, ollama.NewAssistantMessage("ok"), msgs[2])
	assert.Equal(t, ollama.NewUserMessage("second"), msgs[3])
}

func TestSend_StreamErrorFailsTurn(t *testing.T) {
	streamer := &scriptedStreamer{chunks: []ollama.StreamChunk{
		text("partial"),
		{Error: ollama.ErrNotRunning, Done: true},
	}}
	s := newSession(t, streamer, Options{})

	_, err := s.Send(context.Background(), "Hello")
	require.NoError(t, err)
	require.NoError(t, s.Wait())

	snap := s.Snapshot()
	require.Len(t, snap.Messages, 2)
	assert.Equal(t, transcript.StreamErrorText, snap.Messages[1].Content)
	assert.False(t, snap.InFlight)
	assert.True(t, ollama.IsNotRunning(s.Controller().Err()))

	// The session stays usable.
	streamer.chunks = []ollama.StreamChunk{text("back"), doneChunk}
	_, err = s.Send(context.Background(), "retry")
	require.NoError(t, err)
	require.NoError(t, s.Wait())
	last, _ := s.Snapshot().Last()
	assert.Equal(t, "back", last.Content)
}

func TestSend_RejectsWhileStreaming(t *testing.T) {
	streamer := &scriptedStreamer{
		chunks: []ollama.StreamChunk{text("slow"), doneChunk},
		gate:   make(chan struct{}),
	}
	s := newSession(t, streamer, Options{})

	_, err := s.Send(context.Background(), "one")
	require.NoError(t, err)

	snap, err := s.Send(context.Background(), "two")
	assert.ErrorIs(t, err, transcript.ErrTurnInFlight)
	assert.Len(t, snap.Messages, 2)

	_, err = s.Send(context.Background(), "   ")
	assert.ErrorIs(t, err, transcript.ErrEmptyInput)

	close(streamer.gate)
	require.NoError(t, s.Wait())
	last, _ := s.Snapshot().Last()
	assert.Equal(t, "slow", last.Content)
}

func TestSend_TimeoutFailsTurn(t *testing.T) {
	streamer := &scriptedStreamer{
		chunks: []ollama.StreamChunk{text("never")},
		gate:   make(chan struct{}),
	}
	var logs bytes.Buffer
	s := NewSession(streamer, Options{TurnTimeout: 20 * time.Millisecond, Logger: zerolog.New(&logs)})
	t.Cleanup(func() { _ = s.Close() })

	_, err := s.Send(context.Background(), "Hello")
	require.NoError(t, err)
	require.NoError(t, s.Wait())

	last, _ := s.Snapshot().Last()
	assert.Equal(t, transcript.StreamErrorText, last.Content)
	assert.ErrorIs(t, s.Controller().Err(), context.DeadlineExceeded)
	assert.Contains(t, logs.String(), `"timeout":true`)
	assert.Contains(t, logs.String(), `"canceled":false`)
}

func TestClose_CancelsStreamAndRejectsSend(t *testing.T) {
	streamer := &scriptedStreamer{
		chunks: []ollama.StreamChunk{text("never")},
		gate:   make(chan struct{}),
	}
	s := NewSession(streamer, Options{Logger: zerolog.Nop()})

	_, err := s.Send(context.Background(), "Hello")
	require.NoError(t, err)

	require.NoError(t, s.Close())
	snap := s.Snapshot()
	assert.False(t, snap.InFlight)
	last, _ := snap.Last()
	assert.Equal(t, transcript.StreamErrorText, last.Content)

	_, err = s.Send(context.Background(), "again")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSend_CanceledContextRejected(t *testing.T) {
	s := newSession(t, &scriptedStreamer{}, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Send(ctx, "Hello")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, s.Snapshot().Len())
}

func TestSubscribe_SeesStreamingProgress(t *testing.T) {
	streamer := &scriptedStreamer{chunks: []ollama.StreamChunk{text("a"), text("b"), doneChunk}}
	s := newSession(t, streamer, Options{})

	ch, cancel := s.Subscribe()
	defer cancel()
	<-ch

	_, err := s.Send(context.Background(), "Hello")
	require.NoError(t, err)

	deadline := time.After(5 * time.Second)
	for {
		select {
		case snap := <-ch:
			if !snap.InFlight && snap.Len() == 2 {
				last, _ := snap.Last()
				assert.Equal(t, "ab", last.Content)
				return
			}
		case <-deadline:
			t.Fatal("never saw settled snapshot")
		}
	}
}

// =============================================================================
// UPLOAD TESTS
// =============================================================================

func TestUpload_AppendsNotice(t *testing.T) {
	s := newSession(t, &scriptedStreamer{}, Options{Uploader: &fakeUploader{}})

	snap, rec, err := s.Upload(context.Background(), "main.go", strings.NewReader("package main"))
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Equal(t, 1, snap.Len())
	assert.Equal(t, "📎 File uploaded successfully: main.go", snap.Messages[0].Content)
}

func TestUpload_FailureAppendsFailureNotice(t *testing.T) {
	s := newSession(t, &scriptedStreamer{}, Options{Uploader: &fakeUploader{err: upload.ErrTooLarge}})

	snap, rec, err := s.Upload(context.Background(), "big.zip", strings.NewReader("x"))
	assert.ErrorIs(t, err, upload.ErrTooLarge)
	assert.Nil(t, rec)
	last, ok := snap.Last()
	require.True(t, ok)
	assert.Equal(t, transcript.UploadFailureText, last.Content)
}

func TestUpload_RejectedWhileStreaming(t *testing.T) {
	streamer := &scriptedStreamer{chunks: []ollama.StreamChunk{text("x"), doneChunk}, gate: make(chan struct{})}
	s := newSession(t, streamer, Options{Uploader: &fakeUploader{}})

	_, err := s.Send(context.Background(), "Hello")
	require.NoError(t, err)

	_, _, err = s.Upload(context.Background(), "a.txt", strings.NewReader("x"))
	assert.ErrorIs(t, err, transcript.ErrTurnInFlight)

	close(streamer.gate)
	require.NoError(t, s.Wait())
	assert.Equal(t, 2, s.Snapshot().Len())
}

func TestUpload_WithoutUploader(t *testing.T) {
	s := newSession(t, &scriptedStreamer{}, Options{})
	_, _, err := s.Upload(context.Background(), "a.txt", strings.NewReader("x"))
	assert.ErrorIs(t, err, ErrNoUploader)
}

// midUploader calls during before storing a file and records deletions.
type midUploader struct {
	during  func()
	mu      sync.Mutex
	stored  []string
	deleted []string
}

func (m *midUploader) Upload(_ context.Context, name string, _ io.Reader) (*upload.Record, error) {
	m.during()
	m.mu.Lock()
	defer m.mu.Unlock()
	id := "u" + name
	m.stored = append(m.stored, id)
	return &upload.Record{ID: id, Name: name}, nil
}

func (m *midUploader) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, id)
	return nil
}

func TestUpload_SendDuringUploadWaitsForNotice(t *testing.T) {
	streamer := &scriptedStreamer{chunks: []ollama.StreamChunk{text("ok"), doneChunk}}
	uploader := &midUploader{}
	s := newSession(t, streamer, Options{Uploader: uploader})

	sendErr := make(chan error, 1)
	sentEarly := false
	uploader.during = func() {
		go func() {
			_, err := s.Send(context.Background(), "Hello")
			sendErr <- err
		}()
		select {
		case <-sendErr:
			sentEarly = true
		case <-time.After(50 * time.Millisecond):
		}
	}

	snap, rec, err := s.Upload(context.Background(), "main.go", strings.NewReader("x"))
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.False(t, sentEarly, "send returned while the upload was running")
	require.Equal(t, 1, snap.Len())

	require.NoError(t, <-sendErr)
	require.NoError(t, s.Wait())

	final := s.Snapshot()
	require.Len(t, final.Messages, 3)
	assert.Equal(t, "📎 File uploaded successfully: main.go", final.Messages[0].Content)
	assert.Equal(t, "Hello", final.Messages[1].Content)
	assert.Equal(t, "ok", final.Messages[2].Content)
	assert.Empty(t, uploader.deleted)
}

func TestUpload_RemovesStoredFileWhenNoticeRejected(t *testing.T) {
	uploader := &midUploader{}
	s := newSession(t, &scriptedStreamer{}, Options{Uploader: uploader})

	// A turn submitted straight on the controller bypasses the session.
	uploader.during = func() {
		_, err := s.Controller().Submit("Hello")
		require.NoError(t, err)
	}

	_, rec, err := s.Upload(context.Background(), "main.go", strings.NewReader("x"))
	assert.ErrorIs(t, err, transcript.ErrTurnInFlight)
	assert.Nil(t, rec)
	assert.Equal(t, []string{"umain.go"}, uploader.deleted)
}

// =============================================================================
// PERSISTENCE TESTS
// =============================================================================

func TestPersistence_SavesAfterTurnsAndNotices(t *testing.T) {
	store, err := storage.NewConversationStore(t.TempDir(), 0)
	require.NoError(t, err)

	streamer := &scriptedStreamer{chunks: []ollama.StreamChunk{text("Hi"), doneChunk}}
	s := newSession(t, streamer, Options{Store: store, Uploader: &fakeUploader{}})

	_, err = s.Send(context.Background(), "Hello")
	require.NoError(t, err)
	require.NoError(t, s.Wait())

	id := s.ConversationID()
	require.NotEmpty(t, id)

	conv, err := store.Load(id)
	require.NoError(t, err)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, "Hi", conv.Messages[1].Content)
	assert.Equal(t, "llama3.2", conv.Model)

	_, _, err = s.Upload(context.Background(), "notes.md", strings.NewReader("#"))
	require.NoError(t, err)
	conv, err = store.Load(id)
	require.NoError(t, err)
	assert.Len(t, conv.Messages, 3)

	// Reset starts a new conversation file.
	require.NoError(t, s.Reset())
	assert.Empty(t, s.ConversationID())
	_, err = s.Send(context.Background(), "fresh")
	require.NoError(t, err)
	require.NoError(t, s.Wait())
	assert.NotEqual(t, id, s.ConversationID())

	metas, err := store.List()
	require.NoError(t, err)
	assert.Len(t, metas, 2)
}

func TestResume_ContinuesSavedConversation(t *testing.T) {
	store, err := storage.NewConversationStore(t.TempDir(), 0)
	require.NoError(t, err)

	saved := &storage.Conversation{
		Model: "mistral",
		Messages: []transcript.Message{
			{ID: "1", Role: transcript.RoleUser, Content: "Hello", Timestamp: time.Now()},
			{ID: "2", Role: transcript.RoleAssistant, Content: "Hi", Timestamp: time.Now()},
		},
	}
	id, err := store.Save(saved)
	require.NoError(t, err)

	streamer := &scriptedStreamer{chunks: []ollama.StreamChunk{text("sure"), doneChunk}}
	s := newSession(t, streamer, Options{Store: store})
	require.NoError(t, s.Resume(saved))
	assert.Equal(t, "mistral", s.Model())
	assert.True(t, s.Snapshot().Started)

	_, err = s.Send(context.Background(), "more")
	require.NoError(t, err)
	require.NoError(t, s.Wait())

	model, msgs := streamer.lastCall()
	assert.Equal(t, "mistral", model)
	assert.Len(t, msgs, 3)

	conv, err := store.Load(id)
	require.NoError(t, err)
	assert.Len(t, conv.Messages, 4)
}

type failingStore struct{}

func (failingStore) Save(*storage.Conversation) (string, error) {
	return "", errors.New("disk full")
}

func TestSaveError_LoggedWithoutFailingSession(t *testing.T) {
	streamer := &scriptedStreamer{chunks: []ollama.StreamChunk{text("x"), doneChunk}}
	var logs bytes.Buffer
	s := NewSession(streamer, Options{Store: failingStore{}, Logger: zerolog.New(&logs)})

	_, err := s.Send(context.Background(), "Hello")
	require.NoError(t, err)
	require.NoError(t, s.Wait())
	assert.Contains(t, logs.String(), "disk full")

	// The turn itself still completed.
	last, _ := s.Snapshot().Last()
	assert.Equal(t, "x", last.Content)

	// A later turn and Close are not tainted by the earlier failure.
	_, err = s.Send(context.Background(), "again")
	require.NoError(t, err)
	require.NoError(t, s.Wait())
	assert.NoError(t, s.Close())
}

// recordingStore keeps the length of every saved transcript.
type recordingStore struct {
	mu    sync.Mutex
	saved []int
}

func (r *recordingStore) Save(conv *storage.Conversation) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved = append(r.saved, len(conv.Messages))
	return "c1", nil
}

func (r *recordingStore) lengths() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.saved...)
}

func TestReset_RightAfterTurnSettlesKeepsSavedTurn(t *testing.T) {
	for i := 0; i < 20; i++ {
		store := &recordingStore{}
		streamer := &scriptedStreamer{chunks: []ollama.StreamChunk{text("Hi"), doneChunk}}
		s := newSession(t, streamer, Options{Store: store})

		ch, cancel := s.Subscribe()
		<-ch

		_, err := s.Send(context.Background(), "Hello")
		require.NoError(t, err)

		for snap := range ch {
			if !snap.InFlight && snap.Len() == 2 {
				break
			}
		}
		cancel()

		require.NoError(t, s.Reset())
		require.NoError(t, s.Wait())
		assert.Equal(t, []int{2}, store.lengths())
		assert.Equal(t, 0, s.Snapshot().Len())
	}
}

func TestSetModelAndSystemPrompt(t *testing.T) {
	streamer := &scriptedStreamer{chunks: []ollama.StreamChunk{doneChunk}}
	s := newSession(t, streamer, Options{})

	s.SetModel("qwen2.5-coder:7b")
	s.SetModel("")
	s.SetSystemPrompt("Be terse.")
	assert.Equal(t, "qwen2.5-coder:7b", s.Model())

	_, err := s.Send(context.Background(), "Hello")
	require.NoError(t, err)
	require.NoError(t, s.Wait())

	model, msgs := streamer.lastCall()
	assert.Equal(t, "qwen2.5-coder:7b", model)
	assert.Equal(t, "system", msgs[0].Role)
}
