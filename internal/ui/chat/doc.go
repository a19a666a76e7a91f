// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat provides the Bubble Tea chat view of OttoDev.
//
// Before the first message the view shows a welcome panel with prompt
// suggestions. Once a conversation starts, the chat panel docks to the left
// and a workspace panel listing uploads appears beside it. The view renders
// transcript snapshots pushed by the chat session; it never mutates the
// transcript itself.
//
// # Key Bindings
//
//	Enter      send the message (or run a /command)
//	Tab        cycle prompt suggestions into the input
//	Ctrl+Y     copy the last reply to the clipboard
//	Ctrl+N     start a new conversation
//	PgUp/PgDn  scroll the transcript
//	Ctrl+C     quit
//
// # Commands
//
//	/upload <path>  upload a file
//	/new            start a new conversation
//	/copy           copy the last reply
//	/quit           exit
package chat
