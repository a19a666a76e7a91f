// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package transcript

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "AI Assistant"
	default:
		return string(r)
	}
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message is a single entry of the transcript.
// Timestamp is set at creation and never changes afterwards.
type Message struct {
	ID        string    `json:"id" yaml:"id"`
	Role      Role      `json:"role" yaml:"role"`
	Content   string    `json:"content" yaml:"content"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
}

func newMessage(role Role, content string, now time.Time) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: now,
	}
}

// Clock formats the timestamp the way the chat bubbles show it (HH:MM).
func (m Message) Clock() string {
	return m.Timestamp.Format("15:04")
}

// =============================================================================
// SNAPSHOT TYPE
// =============================================================================

// Snapshot is an immutable copy of the transcript state.
type Snapshot struct {
	Messages []Message `json:"messages"`
	// InFlight is true while an assistant turn is streaming.
	InFlight bool `json:"in_flight"`
	// Started flips on the first accepted submission and stays on until Reset.
	Started bool `json:"started"`
	// Version increases with every mutation.
	Version uint64 `json:"version"`
}

// Len returns the number of messages in the snapshot.
func (s Snapshot) Len() int {
	return len(s.Messages)
}

// Last returns the last message, or false when the snapshot is empty.
func (s Snapshot) Last() (Message, bool) {
	if len(s.Messages) == 0 {
		return Message{}, false
	}
	return s.Messages[len(s.Messages)-1], true
}

// LastAssistant returns the most recent assistant message with content.
func (s Snapshot) LastAssistant() (Message, bool) {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == RoleAssistant && s.Messages[i].Content != "" {
			return s.Messages[i], true
		}
	}
	return Message{}, false
}

// Status returns the status line shown under the assistant header.
func (s Snapshot) Status() string {
	if s.InFlight {
		return "Thinking..."
	}
	return "Ready to help"
}
