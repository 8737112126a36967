// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the pinac command line.
//
// Every command loads the configuration (file, then PINAC_* variables,
// then flags), wires the components it needs and releases them on exit.
//
// # Key Types
//
//   - App: the wired credential store, providers and web search
//   - CommandError: an error carrying its exit code
//
// # Commands Overview
//
//   - serve: loopback HTTP API with server-sent events
//   - chat: interactive REPL; Ctrl+C stops the current reply
//   - ask: one prompt, streamed to stdout
//   - models: installed local models
//   - credential set|get|delete|clear|list: encrypted secrets
//   - config show|init|path
//
// Global flags: --config, --data-dir, --offline, --verbose.
//
// # Usage
//
//	func main() {
//		os.Exit(cli.Execute())
//	}
package cli
