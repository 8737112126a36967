// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server exposes the chat session service over loopback HTTP for
// a desktop shell.
//
// Starting a generation returns immediately with a session id; the text
// itself arrives on the shared server-sent event stream.
//
// # Endpoints
//
//   - POST /api/chat/stream        - start a session, 202 {"session_id"}
//   - POST /api/chat/stop          - cancel the active session
//   - GET  /api/events             - SSE stream: event data|done|error
//   - GET  /api/models             - installed local models
//   - GET  /api/settings/provider  - stored BYOK configuration or null
//   - PUT  /api/settings/provider  - store BYOK configuration
//   - PUT  /api/settings/search-key - store the web search key
//   - POST /api/logout             - stop and clear all credentials
//   - GET  /health                 - liveness and local backend status
//
// # Security Features
//
//   - Optional bearer token with constant-time comparison
//   - Per-client token bucket rate limiting
//   - CORS allowlist for the shell origin
//   - 1 MiB request body limit
//   - Security headers (X-Content-Type-Options, X-Frame-Options, etc.)
//
// # Key Types
//
//   - Server: router, middleware and lifecycle
//   - Hub: stream.Sink that fans events out to SSE clients
//
// # Usage
//
//	hub := server.NewHub(0)
//	mgr := stream.NewManager(registry, augmenter, hub)
//	srv := server.New(cfg.Server, stream.NewService(mgr, local, store), hub)
//	go srv.ListenAndServe()
//	...
//	srv.Shutdown(ctx)
package server
