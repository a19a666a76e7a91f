// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage persists chat transcripts, one JSON file per conversation.
//
// # Key Types
//
//   - ConversationStore: Saves, lists, searches and prunes conversations
//   - Conversation: A transcript plus its metadata
//   - ConversationMeta: Lightweight metadata for listing
//
// # Usage
//
//	store, err := storage.NewConversationStore(cfg.Storage.Dir, cfg.Storage.MaxConversations)
//	conv := &storage.Conversation{Model: "llama3.2", Messages: ctrl.History()}
//	id, err := store.Save(conv)
//
//	metas, err := store.List()
//	conv, err = store.Load(metas[0].ID)
//
// Conversations export to Markdown, JSON or YAML.
//
// # Storage Location
//
// Conversations are stored in ~/.ottodev/conversations/ by default.
package storage
