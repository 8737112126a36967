// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package websearch augments chat prompts with web search context.
//
// A search runs in three steps: the active model rewrites the prompt into a
// short search query, an Engine fetches results as a markdown context
// block, and Enhance wraps the original question in an instruction that
// points the model at that context. Every failure degrades to the original
// prompt; progress is reported through in-band status lines.
//
// # Key Types
//
//   - Augmenter: runs the whole pipeline for one request
//   - Engine: a search backend (relay, Tavily, DuckDuckGo)
//   - SearchError: a failed search with its HTTP status
//
// # Usage
//
//	engine, err := websearch.NewEngine(websearch.EngineOptions{
//		Kind:  "relay",
//		Relay: relayClient,
//	})
//	aug := websearch.NewAugmenter(engine, store)
//	prompt, err := aug.Execute(ctx, req, queryFn, func(s string) { emit(s) })
package websearch
