// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/jeranaias/pinac/internal/ollama"
)

// =============================================================================
// LOCAL (OLLAMA)
// =============================================================================

// Local generates with a model served by the local Ollama daemon.
type Local struct {
	client *ollama.Client
}

// NewLocal wraps an Ollama client.
func NewLocal(client *ollama.Client) *Local {
	return &Local{client: client}
}

// ID implements Adapter.
func (l *Local) ID() string { return IDLocal }

// IsAvailable reports whether the daemon answers a model listing.
func (l *Local) IsAvailable(ctx context.Context) bool {
	return l.client.CheckRunning(ctx) == nil
}

// ListModels returns the locally installed models.
func (l *Local) ListModels(ctx context.Context) ([]ollama.ModelInfo, error) {
	return l.client.ListModels(ctx)
}

// Generate implements Adapter. Availability is probed once up front and
// never retried.
func (l *Local) Generate(ctx context.Context, req Request, onChunk func(string)) (string, error) {
	if strings.TrimSpace(req.ModelID) == "" {
		return "", ErrModelRequired
	}
	if err := l.client.CheckRunning(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", l.unavailable(err)
	}

	var acc strings.Builder
	err := l.client.ChatStream(ctx, req.ModelID, toOllama(WithPrompt(req.History, req.Prompt)), func(chunk ollama.StreamChunk) {
		if chunk.Done {
			log.Printf("[provider] local %s: %d tokens in %s (%.1f tok/s)",
				req.ModelID, chunk.CompletionTokens, chunk.TotalDuration, chunk.TokensPerSecond())
		}
		if chunk.Content == "" || ctx.Err() != nil {
			return
		}
		acc.WriteString(chunk.Content)
		onChunk(chunk.Content)
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return acc.String(), ctxErr
		}
		if err := l.classify(req.ModelID, err); err != nil {
			return acc.String(), err
		}
		return acc.String(), fmt.Errorf("local generation: %w", err)
	}
	return acc.String(), nil
}

// Complete implements Adapter.
func (l *Local) Complete(ctx context.Context, model, prompt string, history []Message) (string, error) {
	if strings.TrimSpace(model) == "" {
		return "", ErrModelRequired
	}
	resp, err := l.client.Chat(ctx, model, toOllama(append(PriorHistory(history), Message{Role: RoleUser, Content: prompt})))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		if err := l.classify(model, err); err != nil {
			return "", err
		}
		return "", fmt.Errorf("local completion: %w", err)
	}
	return resp.Message.Content, nil
}

// classify maps client failures with a user-facing meaning; other errors
// return nil.
func (l *Local) classify(model string, err error) error {
	switch {
	case ollama.IsNotRunning(err), ollama.IsTimeout(err):
		return l.unavailable(err)
	case ollama.IsModelNotFound(err):
		return &ModelNotFoundError{Model: model, Err: err}
	}
	return nil
}

func (l *Local) unavailable(err error) error {
	return &BackendUnavailableError{Provider: IDLocal, Message: MsgLocalUnavailable, Err: err}
}

func toOllama(msgs []Message) []ollama.Message {
	out := make([]ollama.Message, len(msgs))
	for i, m := range msgs {
		out[i] = ollama.Message{Role: m.Role, Content: m.Content}
	}
	return out
}
