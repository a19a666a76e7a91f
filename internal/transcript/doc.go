// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package transcript owns the ordered message list of a chat and the
// streaming turn state machine that folds response chunks into it.
//
// # Key Types
//
//   - Controller: the single owner of the transcript; all mutations go through it
//   - Message: one user or assistant message with an immutable timestamp
//   - Snapshot: a read-only copy handed to presentation layers
//
// # State Machine
//
//	IDLE --Submit--> STREAMING --AppendChunk*--> (CompleteTurn | FailTurn) --> IDLE
//
// At most one assistant message is in flight, and while it is in flight it
// is the last message of the transcript.
//
// # Usage
//
//	c := transcript.NewController()
//	if _, err := c.Submit("Hello"); err != nil {
//	    return err
//	}
//	c.AppendChunk("Hi")
//	c.AppendChunk(" there")
//	c.CompleteTurn()
package transcript
