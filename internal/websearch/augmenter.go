// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package websearch

import (
	"context"
	"log"
	"strings"

	"github.com/jeranaias/pinac/internal/credstore"
	"github.com/jeranaias/pinac/internal/provider"
)

// =============================================================================
// STATUS LINES
// =============================================================================

// Status lines are streamed to the user as ordinary chunks.
const (
	StatusSearching = "[Searching the web...]\n\n"
	StatusComplete  = "[Search complete. Generating answer...]\n\n"
	StatusNoKey     = "[Warning: Tavily API key not configured. Skipping web search...]\n\n"
)

// StatusFailed is the line reported when a search fails.
func StatusFailed(err error) string {
	return "[Web search failed: " + err.Error() + ". Proceeding without search results...]\n\n"
}

// =============================================================================
// AUGMENTER
// =============================================================================

// Augmenter runs query generation, search and prompt enhancement for one
// request. It holds no per-request state and is safe for concurrent use.
type Augmenter struct {
	engine  Engine
	secrets provider.SecretSource
}

// NewAugmenter creates an augmenter. secrets may be nil when engine does
// not need a key.
func NewAugmenter(engine Engine, secrets provider.SecretSource) *Augmenter {
	return &Augmenter{engine: engine, secrets: secrets}
}

// Engine returns the configured engine.
func (a *Augmenter) Engine() Engine {
	return a.engine
}

// Execute returns the prompt to send for req. Failures are reported
// through status and yield req.Prompt with a nil error; only cancellation
// returns an error (ctx.Err()), again alongside req.Prompt.
func (a *Augmenter) Execute(ctx context.Context, req provider.Request, queryFn QueryFunc, status func(string)) (string, error) {
	if status == nil {
		status = func(string) {}
	}

	apiKey := ""
	if a.engine.NeedsKey() {
		key, ok := a.searchKey()
		if !ok {
			status(StatusNoKey)
			return req.Prompt, nil
		}
		apiKey = key
	}

	status(StatusSearching)

	query := BuildSearchQuery(ctx, req.History, req.Prompt, queryFn)
	if err := ctx.Err(); err != nil {
		return req.Prompt, err
	}

	searchContext, err := a.engine.Search(ctx, query, apiKey)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return req.Prompt, ctxErr
		}
		log.Printf("[websearch] %s search failed: %v", a.engine.Name(), err)
		status(StatusFailed(err))
		return req.Prompt, nil
	}

	status(StatusComplete)
	return Enhance(req.Prompt, searchContext), nil
}

// searchKey reads the stored search key. An unreadable entry counts as
// absent.
func (a *Augmenter) searchKey() (string, bool) {
	if a.secrets == nil {
		return "", false
	}
	key, ok, err := a.secrets.Get(credstore.SearchKeyName)
	if err != nil {
		log.Printf("[websearch] could not read search key: %v", err)
		return "", false
	}
	key = strings.TrimSpace(key)
	return key, ok && key != ""
}
