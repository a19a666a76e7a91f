// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the ottodev command line.
//
// # Commands
//
//   - serve: browser UI and JSON/WebSocket API
//   - tui: full-screen terminal chat
//   - chat: line-editing REPL
//   - ask: one-shot streamed answer
//   - upload, uploads: store and list files
//   - history: list, show, search, delete and export saved conversations
//   - models: list local Ollama models
//   - config: show, init or locate the config file
//   - version: print build information
//
// Every command loads ~/.ottodev/config.toml (or --config), applies
// OTTODEV_* environment overrides and then the global flags.
package cli
