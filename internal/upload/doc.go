// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package upload stores files attached to a chat and keeps a registry of
// them.
//
// Files are checked against an extension allowlist and a size cap, written
// atomically under a UUID name, and recorded in a SQLite database with their
// BLAKE2b-256 digest. The original file name is kept only as metadata, after
// NFC normalization and stripping of any directory components.
//
// # Usage
//
//	svc, err := upload.Open(upload.Config{Dir: dir, MaxBytes: 10 << 20}, logger)
//	defer svc.Close()
//	rec, err := svc.Upload(ctx, "main.go", file)
//	if errors.Is(err, upload.ErrTooLarge) { ... }
package upload
