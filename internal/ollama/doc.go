// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama provides the HTTP client for communicating with Ollama API.
//
// Only the surface pinac needs is covered: model listing (which doubles as
// the liveness probe), non-streaming chat and NDJSON streaming chat.
//
// # Key Types
//
//   - Client: HTTP client for Ollama API communication
//   - Message: Chat message with role and content
//   - StreamChunk: one parsed NDJSON line of a streaming reply
//   - StreamReader: line reader that stops on done:true or cancellation
//   - ClientError: typed failure, matched with IsNotRunning and friends
//
// # Usage
//
//	client := ollama.NewClientWithConfig(&ollama.ClientConfig{BaseURL: url})
//	if err := client.CheckRunning(ctx); err != nil {
//	    return err
//	}
//	err := client.ChatStream(ctx, "llama3.2", []ollama.Message{
//	    {Role: "user", Content: "Hello"},
//	}, func(c ollama.StreamChunk) {
//	    fmt.Print(c.Content)
//	})
package ollama
