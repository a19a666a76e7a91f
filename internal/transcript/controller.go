// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package transcript

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Fixed user-visible texts.
const (
	// StreamErrorText replaces the assistant message when a turn fails.
	StreamErrorText = "Sorry, there was an error connecting to the chat service. Please make sure Ollama is running locally."

	// UploadSuccessFormat is the notice appended after a successful upload.
	UploadSuccessFormat = "📎 File uploaded successfully: %s"

	// UploadFailureText is the notice appended after a failed upload.
	UploadFailureText = "❌ File upload failed. Please try again."
)

// Errors returned by the Controller.
var (
	// ErrEmptyInput is returned by Submit for empty or whitespace-only text.
	ErrEmptyInput = errors.New("transcript: empty input")

	// ErrTurnInFlight is returned when an operation needs the controller idle.
	ErrTurnInFlight = errors.New("transcript: a turn is already in flight")

	// ErrNoTurnInFlight is returned by AppendChunk, CompleteTurn and FailTurn
	// when they are called outside of a turn. It always signals a caller bug.
	ErrNoTurnInFlight = errors.New("transcript: no turn in flight")

	// ErrNotAssistant is returned when the last message is not an assistant message.
	ErrNotAssistant = errors.New("transcript: last message is not an assistant message")
)

// UploadNotice returns the assistant notice for an upload outcome.
func UploadNotice(filename string, err error) string {
	if err != nil {
		return UploadFailureText
	}
	return fmt.Sprintf(UploadSuccessFormat, filename)
}

// =============================================================================
// CONTROLLER
// =============================================================================

// Controller owns a transcript and its streaming turn state.
//
// The Controller is safe for concurrent use. Chunks are applied in call
// order; callers feed them from a single stream consumer per turn.
type Controller struct {
	mu       sync.Mutex
	messages []Message
	inFlight bool
	started  bool
	version  uint64
	lastErr  error

	now func() time.Time

	subs    map[int]chan Snapshot
	nextSub int
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock overrides the clock used for message timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// NewController creates an idle controller with an empty transcript.
func NewController(opts ...Option) *Controller {
	c := &Controller{
		messages: make([]Message, 0),
		now:      time.Now,
		subs:     make(map[int]chan Snapshot),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// =============================================================================
// TURN OPERATIONS
// =============================================================================

// Submit appends a user message and an empty assistant placeholder and
// marks a turn in flight.
func (c *Controller) Submit(text string) (Snapshot, error) {
	text = strings.TrimSpace(text)

	c.mu.Lock()
	defer c.mu.Unlock()

	if text == "" {
		return c.snapshotLocked(), ErrEmptyInput
	}
	if c.inFlight {
		return c.snapshotLocked(), ErrTurnInFlight
	}

	now := c.now()
	c.messages = append(c.messages,
		newMessage(RoleUser, text, now),
		newMessage(RoleAssistant, "", now),
	)
	c.inFlight = true
	c.started = true
	c.lastErr = nil

	return c.publishLocked(), nil
}

// AppendChunk concatenates text onto the in-flight assistant message.
func (c *Controller) AppendChunk(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	last, err := c.inFlightLocked()
	if err != nil {
		return err
	}
	if text == "" {
		return nil
	}
	last.Content += text
	c.publishLocked()
	return nil
}

// CompleteTurn ends the turn, keeping the accumulated content.
func (c *Controller) CompleteTurn() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.inFlightLocked(); err != nil {
		return err
	}
	c.inFlight = false
	c.publishLocked()
	return nil
}

// FailTurn ends the turn and replaces the assistant content with
// StreamErrorText, discarding any partial response.
func (c *Controller) FailTurn(cause error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	last, err := c.inFlightLocked()
	if err != nil {
		return err
	}
	last.Content = StreamErrorText
	c.inFlight = false
	c.lastErr = cause
	c.publishLocked()
	return nil
}

// inFlightLocked returns the in-flight assistant message.
func (c *Controller) inFlightLocked() (*Message, error) {
	if !c.inFlight {
		return nil, ErrNoTurnInFlight
	}
	last := &c.messages[len(c.messages)-1]
	if last.Role != RoleAssistant {
		return nil, ErrNotAssistant
	}
	return last, nil
}

// =============================================================================
// NOTICES AND LIFECYCLE
// =============================================================================

// AppendNotice appends a finished assistant message, such as an upload
// result. It is rejected while a turn is in flight so the streaming message
// stays last.
func (c *Controller) AppendNotice(content string) (Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.inFlight {
		return c.snapshotLocked(), ErrTurnInFlight
	}
	c.messages = append(c.messages, newMessage(RoleAssistant, content, c.now()))
	return c.publishLocked(), nil
}

// Restore replaces the transcript with previously saved messages.
func (c *Controller) Restore(messages []Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.inFlight {
		return ErrTurnInFlight
	}
	for i, m := range messages {
		if !m.Role.Valid() {
			return fmt.Errorf("transcript: message %d has invalid role %q", i, m.Role)
		}
	}
	c.messages = append(make([]Message, 0, len(messages)), messages...)
	c.started = len(messages) > 0
	c.lastErr = nil
	c.publishLocked()
	return nil
}

// Reset clears the transcript and returns to the welcome state.
func (c *Controller) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.inFlight {
		return ErrTurnInFlight
	}
	c.messages = make([]Message, 0)
	c.started = false
	c.lastErr = nil
	c.publishLocked()
	return nil
}

// =============================================================================
// READ ACCESS
// =============================================================================

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// InFlight reports whether a turn is streaming.
func (c *Controller) InFlight() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight
}

// Err returns the cause passed to the most recent FailTurn of the current
// conversation, or nil.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// History returns the messages a chat request should carry: everything
// except the in-flight placeholder.
func (c *Controller) History() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.messages)
	if c.inFlight {
		n--
	}
	out := make([]Message, n)
	copy(out, c.messages[:n])
	return out
}

func (c *Controller) snapshotLocked() Snapshot {
	msgs := make([]Message, len(c.messages))
	copy(msgs, c.messages)
	return Snapshot{
		Messages: msgs,
		InFlight: c.inFlight,
		Started:  c.started,
		Version:  c.version,
	}
}

// =============================================================================
// SUBSCRIPTIONS
// =============================================================================

// Subscribe returns a channel that receives a snapshot after every change,
// starting with the current state. Slow subscribers only see the latest
// snapshot. The returned function unsubscribes and closes the channel.
func (c *Controller) Subscribe() (<-chan Snapshot, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextSub
	c.nextSub++
	ch := make(chan Snapshot, 1)
	ch <- c.snapshotLocked()
	c.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			delete(c.subs, id)
			close(ch)
		})
	}
}

// publishLocked bumps the version and fans the new snapshot out.
func (c *Controller) publishLocked() Snapshot {
	c.version++
	snap := c.snapshotLocked()
	for _, ch := range c.subs {
		select {
		case ch <- snap:
		default:
			// Drop the stale snapshot and replace it.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
	return snap
}
