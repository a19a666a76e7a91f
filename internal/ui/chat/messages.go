// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/ottodev/internal/transcript"
	"github.com/jeranaias/ottodev/internal/upload"
	"github.com/jeranaias/ottodev/internal/util"
)

// =============================================================================
// MESSAGES
// =============================================================================

// SnapshotMsg carries a transcript snapshot from the session subscription.
type SnapshotMsg struct {
	Snapshot transcript.Snapshot
}

// subscriptionClosedMsg reports that the snapshot channel was closed.
type subscriptionClosedMsg struct{}

// UploadResultMsg reports the outcome of an upload.
type UploadResultMsg struct {
	Path   string
	Record *upload.Record
	Err    error
}

// UploadsMsg carries the stored uploads for the workspace panel.
type UploadsMsg struct {
	Records []upload.Record
	Err     error
}

// FlashMsg shows a transient footer message.
type FlashMsg struct {
	Text    string
	IsError bool
}

// =============================================================================
// COMMANDS
// =============================================================================

// waitForSnapshot blocks on the subscription for the next snapshot.
func waitForSnapshot(updates <-chan transcript.Snapshot) tea.Cmd {
	return func() tea.Msg {
		snap, ok := <-updates
		if !ok {
			return subscriptionClosedMsg{}
		}
		return SnapshotMsg{Snapshot: snap}
	}
}

// uploadCmd opens path and hands it to the session.
func uploadCmd(ctx context.Context, session Session, path string) tea.Cmd {
	return func() tea.Msg {
		path = util.ExpandHome(path)
		f, err := os.Open(path)
		if err != nil {
			return UploadResultMsg{Path: path, Err: err}
		}
		defer f.Close()

		_, rec, err := session.Upload(ctx, filepath.Base(path), f)
		return UploadResultMsg{Path: path, Record: rec, Err: err}
	}
}

// listUploadsCmd loads the workspace upload list.
func listUploadsCmd(ctx context.Context, uploads UploadLister) tea.Cmd {
	if uploads == nil {
		return nil
	}
	return func() tea.Msg {
		records, err := uploads.List(ctx, workspaceUploadLimit)
		return UploadsMsg{Records: records, Err: err}
	}
}
