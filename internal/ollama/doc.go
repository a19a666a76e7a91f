// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama provides the HTTP client for communicating with Ollama API.
//
// This package implements the chat collaborator used by OttoDev: it sends the
// full prior message list to a locally-hosted Ollama server and delivers the
// streamed response as an ordered sequence of text chunks.
//
// # Key Types
//
//   - Client: HTTP client for Ollama API communication
//   - Message: Chat message with role and content
//   - StreamChunk: One decoded line of a streaming response
//   - StreamReader: NDJSON reader that turns a response body into chunks
//
// # Usage
//
// Stream a reply chunk by chunk:
//
//	client := ollama.NewClient()
//	for chunk := range client.ChatStreamChan(ctx, "", messages) {
//	    if chunk.Error != nil {
//	        return chunk.Error
//	    }
//	    fmt.Print(chunk.Content)
//	}
//
// The channel is closed once the stream settles. Cancelling ctx stops the
// request and closes the channel.
package ollama
