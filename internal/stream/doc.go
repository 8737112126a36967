// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stream orchestrates streaming chat sessions.
//
// The Manager owns the single active session: it resolves the provider
// adapter, optionally augments the prompt with web search, relays chunks
// to a Sink and finishes every session with exactly one Done or Error
// event. Cancellation is not an error; a cancelled session ends with Done
// and keeps its partial text.
//
// Lifecycle:
//
//	Idle -> Starting -> Augmenting -> Streaming -> Finalizing -> Idle
//	                                  Streaming -> Cancelling -> Idle
//	any -> Idle after an Error event
//
// # Key Types
//
//   - Manager: session state machine
//   - Session: one generation, waitable
//   - Service: the request/response boundary a UI calls
//   - Sink, SinkFunc: event delivery
//
// # Usage
//
//	mgr := stream.NewManager(registry, augmenter, stream.SinkFunc(func(e stream.Event) {
//		ui.Send(e)
//	}))
//	svc := stream.NewService(mgr, local, store)
//	id := svc.StartChatStream(req)
//	...
//	svc.StopChatStream()
package stream
