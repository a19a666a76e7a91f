// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server serves the browser chat UI and its JSON API.
//
// # Endpoints
//
//   - GET  /                      - Embedded single-page UI
//   - GET  /health                - Liveness and Ollama reachability
//   - GET  /api/transcript        - Current transcript snapshot
//   - POST /api/messages          - Submit a turn (202, streams in background)
//   - POST /api/transcript/reset  - Start a new conversation
//   - POST /api/uploads           - Upload a file (multipart "file")
//   - GET  /api/uploads           - List stored uploads
//   - GET  /api/models            - List local models
//   - GET  /ws                    - Snapshot push over WebSocket
//
// Every transcript change is broadcast to connected WebSocket clients as a
// snapshot document, so the browser never polls.
//
// # Usage
//
//	srv := server.New(server.Config{Addr: "127.0.0.1:8080"}, session, uploads, client, logger)
//	go srv.Start()
//	defer srv.Shutdown(ctx)
package server
