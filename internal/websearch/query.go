// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package websearch

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/jeranaias/pinac/internal/provider"
)

// =============================================================================
// QUERY GENERATION
// =============================================================================

// contextWindow is how many prior messages feed query generation
// (three exchanges).
const contextWindow = 6

// QueryFunc asks the active model for a one-shot completion of directive.
type QueryFunc func(ctx context.Context, directive string) (string, error)

// QueryDirective builds the instruction that asks the model for a search
// query. The current user turn, when history ends with it, is not part of
// the context block.
func QueryDirective(history []provider.Message, prompt string) string {
	recent := provider.PriorHistory(history)
	if len(recent) > contextWindow {
		recent = recent[len(recent)-contextWindow:]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Generate a web search query for: \"%s\"\n\n", prompt)
	if len(recent) > 0 {
		b.WriteString("Recent conversation context:\n")
		for _, m := range recent {
			fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
		}
		b.WriteString("\n")
	}
	b.WriteString("Return only the search query text (3-8 words), nothing else:")
	return b.String()
}

// BuildSearchQuery turns prompt into a search query using queryFn. An
// error or an empty answer falls back to the prompt itself.
func BuildSearchQuery(ctx context.Context, history []provider.Message, prompt string, queryFn QueryFunc) string {
	if queryFn == nil {
		return prompt
	}

	answer, err := queryFn(ctx, QueryDirective(history, prompt))
	if err != nil {
		if ctx.Err() == nil {
			log.Printf("[websearch] query generation failed, using prompt: %v", err)
		}
		return prompt
	}

	query := provider.CleanCompletion(answer)
	if query == "" {
		return prompt
	}
	return query
}

// =============================================================================
// PROMPT ENHANCEMENT
// =============================================================================

// Enhance wraps question with the search context.
func Enhance(question, searchContext string) string {
	return "Answer the following question using the provided web search context. " +
		"If the context is relevant, use it to provide accurate and up-to-date information.\n\n" +
		"Web Search Context:\n" + searchContext + "\n\n" +
		"User Question: " + question + "\n\n" +
		"Provide a comprehensive answer based on the search results above."
}
