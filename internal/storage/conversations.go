// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/jeranaias/ottodev/internal/transcript"
	"github.com/jeranaias/ottodev/internal/util"
)

// =============================================================================
// CONVERSATION TYPE
// =============================================================================

// Conversation is a persisted transcript.
type Conversation struct {
	ID        string               `json:"id" yaml:"id"`
	Summary   string               `json:"summary" yaml:"summary"`
	Model     string               `json:"model" yaml:"model"`
	CreatedAt time.Time            `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time            `json:"updated_at" yaml:"updated_at"`
	Messages  []transcript.Message `json:"messages" yaml:"messages"`
}

// ConversationMeta contains metadata for listing conversations.
type ConversationMeta struct {
	ID           string    `json:"id"`
	Summary      string    `json:"summary"`
	Model        string    `json:"model"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
	Preview      string    `json:"preview"` // First user message truncated
}

// Preview returns the first user message, truncated to 80 runes.
func (c *Conversation) Preview() string {
	for _, msg := range c.Messages {
		if msg.Role == transcript.RoleUser && msg.Content != "" {
			return util.TruncateRunes(oneLine(msg.Content), 80)
		}
	}
	return ""
}

// Meta returns the listing metadata of the conversation.
func (c *Conversation) Meta() ConversationMeta {
	return ConversationMeta{
		ID:           c.ID,
		Summary:      c.Summary,
		Model:        c.Model,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
		MessageCount: len(c.Messages),
		Preview:      c.Preview(),
	}
}

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrConversationNotFound is returned when a conversation doesn't exist.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrInvalidID is returned for IDs that are not conversation UUIDs.
	ErrInvalidID = errors.New("invalid conversation id")

	// ErrAmbiguousID is returned when an ID prefix matches several conversations.
	ErrAmbiguousID = errors.New("conversation id prefix is ambiguous")
)

// =============================================================================
// CONVERSATION STORE
// =============================================================================

// DefaultMaxConversations is used when a store is created with a zero limit.
const DefaultMaxConversations = 100

// ConversationStore handles conversation persistence.
type ConversationStore struct {
	mu sync.Mutex

	// BaseDir is the directory for storing conversations
	BaseDir string

	// MaxConversations limits stored conversations (negative = unlimited)
	MaxConversations int

	now func() time.Time
}

// NewConversationStore creates a store rooted at baseDir.
func NewConversationStore(baseDir string, maxConversations int) (*ConversationStore, error) {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, errors.Wrapf(err, "failed to create %s", baseDir)
	}
	if maxConversations == 0 {
		maxConversations = DefaultMaxConversations
	}
	return &ConversationStore{
		BaseDir:          baseDir,
		MaxConversations: maxConversations,
		now:              time.Now,
	}, nil
}

// =============================================================================
// SAVE OPERATIONS
// =============================================================================

// Save persists a conversation and returns its ID. A missing ID, summary or
// creation time is filled in.
func (s *ConversationStore) Save(conv *Conversation) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if conv.ID == "" {
		conv.ID = uuid.NewString()
	} else if err := validateID(conv.ID); err != nil {
		return "", err
	}

	if conv.Summary == "" {
		conv.Summary = generateSummary(conv)
	}

	conv.UpdatedAt = s.now()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = conv.UpdatedAt
	}

	data, err := json.MarshalIndent(conv, "", "  ")
	if err != nil {
		return "", errors.Wrap(err, "failed to encode conversation")
	}

	// RELIABILITY: Atomic write with fsync prevents data loss on crash
	if err := util.AtomicWriteFile(s.filePath(conv.ID), data, 0600); err != nil {
		return "", err
	}

	if s.MaxConversations > 0 {
		s.enforceLimitLocked()
	}

	return conv.ID, nil
}

// generateSummary creates a summary from the first user message.
func generateSummary(conv *Conversation) string {
	for _, msg := range conv.Messages {
		if msg.Role == transcript.RoleUser && msg.Content != "" {
			return util.TruncateRunes(oneLine(msg.Content), 50)
		}
	}
	return "New conversation"
}

// enforceLimitLocked removes the oldest conversations beyond the limit.
func (s *ConversationStore) enforceLimitLocked() {
	metas, err := s.listLocked()
	if err != nil || len(metas) <= s.MaxConversations {
		return
	}

	// listLocked sorts newest first
	for _, meta := range metas[s.MaxConversations:] {
		_ = os.Remove(s.filePath(meta.ID))
	}
}

// =============================================================================
// LOAD OPERATIONS
// =============================================================================

// Load retrieves a conversation by ID.
func (s *ConversationStore) Load(id string) (*Conversation, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	return s.load(id)
}

func (s *ConversationStore) load(id string) (*Conversation, error) {
	data, err := os.ReadFile(s.filePath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrConversationNotFound
		}
		return nil, errors.Wrapf(err, "failed to read conversation %s", id)
	}

	var conv Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		return nil, errors.Wrapf(err, "failed to decode conversation %s", id)
	}
	return &conv, nil
}

// LoadLatest returns the most recently updated conversation.
func (s *ConversationStore) LoadLatest() (*Conversation, error) {
	metas, err := s.List()
	if err != nil {
		return nil, err
	}
	if len(metas) == 0 {
		return nil, ErrConversationNotFound
	}
	return s.load(metas[0].ID)
}

// Resolve expands a unique ID prefix to the full conversation ID.
func (s *ConversationStore) Resolve(prefix string) (string, error) {
	prefix = strings.ToLower(strings.TrimSpace(prefix))
	if prefix == "" {
		return "", ErrInvalidID
	}

	metas, err := s.List()
	if err != nil {
		return "", err
	}

	var match string
	for _, meta := range metas {
		if meta.ID == prefix {
			return meta.ID, nil
		}
		if strings.HasPrefix(meta.ID, prefix) {
			if match != "" {
				return "", ErrAmbiguousID
			}
			match = meta.ID
		}
	}
	if match == "" {
		return "", ErrConversationNotFound
	}
	return match, nil
}

// =============================================================================
// LIST OPERATIONS
// =============================================================================

// List returns all saved conversations, most recent first.
func (s *ConversationStore) List() ([]ConversationMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listLocked()
}

func (s *ConversationStore) listLocked() ([]ConversationMeta, error) {
	entries, err := os.ReadDir(s.BaseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []ConversationMeta{}, nil
		}
		return nil, errors.Wrap(err, "failed to list conversations")
	}

	metas := make([]ConversationMeta, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		id := strings.TrimSuffix(entry.Name(), ".json")
		if validateID(id) != nil {
			continue
		}

		conv, err := s.load(id)
		if err != nil {
			continue // Skip corrupted files
		}
		metas = append(metas, conv.Meta())
	}

	sort.Slice(metas, func(i, j int) bool {
		return metas[i].UpdatedAt.After(metas[j].UpdatedAt)
	})

	return metas, nil
}

// Search finds conversations with a message containing query (case-insensitive).
func (s *ConversationStore) Search(query string) ([]ConversationMeta, error) {
	all, err := s.List()
	if err != nil || query == "" {
		return all, err
	}

	query = strings.ToLower(query)
	var results []ConversationMeta
	for _, meta := range all {
		if strings.Contains(strings.ToLower(meta.Summary), query) {
			results = append(results, meta)
			continue
		}

		conv, err := s.load(meta.ID)
		if err != nil {
			continue
		}
		for _, msg := range conv.Messages {
			if strings.Contains(strings.ToLower(msg.Content), query) {
				results = append(results, meta)
				break
			}
		}
	}

	return results, nil
}

// =============================================================================
// DELETE OPERATIONS
// =============================================================================

// Delete removes a conversation by ID.
func (s *ConversationStore) Delete(id string) error {
	if err := validateID(id); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.filePath(id)); err != nil {
		if os.IsNotExist(err) {
			return ErrConversationNotFound
		}
		return errors.Wrapf(err, "failed to delete conversation %s", id)
	}
	return nil
}

// Clear removes all saved conversations.
func (s *ConversationStore) Clear() error {
	metas, err := s.List()
	if err != nil {
		return err
	}
	for _, meta := range metas {
		if err := s.Delete(meta.ID); err != nil && !errors.Is(err, ErrConversationNotFound) {
			return err
		}
	}
	return nil
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

func (s *ConversationStore) filePath(id string) string {
	return filepath.Join(s.BaseDir, id+".json")
}

// validateID keeps IDs to canonical UUIDs so they are safe as file names.
func validateID(id string) error {
	u, err := uuid.Parse(id)
	if err != nil || u.String() != id {
		return errors.Wrapf(ErrInvalidID, "%q", id)
	}
	return nil
}

func oneLine(s string) string {
	s = strings.ReplaceAll(s, "\r", "")
	return strings.ReplaceAll(s, "\n", " ")
}
