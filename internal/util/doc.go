// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared by the OttoDev packages.
//
// # Atomic writes
//
// AtomicWriteFile and AtomicWriteReader write through a temp file in the
// target directory, fsync, then rename, so readers never see a partial file.
//
// # Display width
//
// TruncateWidth and PadWidth measure terminal cells with go-runewidth, so
// CJK text and emoji line up in the TUI.
package util
