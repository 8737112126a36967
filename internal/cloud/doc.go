// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cloud provides the HTTP transports for remote chat backends.
//
// Two backends are covered. The managed pinac backend streams Server-Sent
// Events carrying {"content": ...} payloads. The bring-your-own-key relay
// forwards a user's own provider key and streams raw UTF-8 text; it also
// proxies web search. Both stream bodies pass through an incremental UTF-8
// decoder so a character split across network reads is never emitted in
// halves.
//
// # Key Types
//
//   - ManagedClient: managed backend, SSE streaming and one-shot completion
//   - RelayClient: BYOK relay chat (raw text streaming) and web search
//   - SSEReader: Server-Sent Events framing
//   - BackendError: non-2xx answer with status and server message
//
// # Usage
//
//	client := cloud.NewManagedClient(cloud.Options{BaseURL: url}, "")
//	text, err := client.Stream(ctx, cloud.ManagedRequest{
//	    Prompt: "Hello",
//	    Model:  "Base Model",
//	}, func(chunk string) {
//	    fmt.Print(chunk)
//	})
//
// # Security
//
// Provider keys travel only in request bodies and are never logged. Remote
// calls use TLS 1.2+ and respect the offline policy.
package cloud
