// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"errors"
	"strings"

	"github.com/jeranaias/pinac/internal/cloud"
	"github.com/jeranaias/pinac/internal/offline"
)

// DefaultManagedModel is the managed backend's default model name.
const DefaultManagedModel = "Base Model"

// MsgManagedUnreachable is shown when the managed backend cannot be reached.
const MsgManagedUnreachable = "Pinac Cloud is unreachable. Please check your connection and try again."

// =============================================================================
// MANAGED (PINAC CLOUD)
// =============================================================================

// Managed generates with the hosted pinac backend, which performs web
// search on its side when the request asks for it.
type Managed struct {
	client       *cloud.ManagedClient
	defaultModel string
}

// NewManaged wraps a managed client. An empty defaultModel selects
// DefaultManagedModel.
func NewManaged(client *cloud.ManagedClient, defaultModel string) *Managed {
	if defaultModel == "" {
		defaultModel = DefaultManagedModel
	}
	return &Managed{client: client, defaultModel: defaultModel}
}

// ID implements Adapter.
func (m *Managed) ID() string { return IDManaged }

// SearchesServerSide implements ServerSideSearcher.
func (m *Managed) SearchesServerSide() bool { return true }

// Generate implements Adapter.
func (m *Managed) Generate(ctx context.Context, req Request, onChunk func(string)) (string, error) {
	body := cloud.ManagedRequest{
		Prompt:    req.Prompt,
		Messages:  toCloud(req.History),
		Model:     m.model(req.ModelID),
		WebSearch: req.WebSearch,
	}
	if req.Attachment != nil {
		body.DocumentsPath = req.Attachment.Path
	}

	text, err := m.client.Stream(ctx, body, func(chunk string) {
		if ctx.Err() == nil {
			onChunk(chunk)
		}
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return text, ctxErr
		}
		return text, unreachable(IDManaged, MsgManagedUnreachable, text, err)
	}
	return text, nil
}

// Complete implements Adapter.
func (m *Managed) Complete(ctx context.Context, model, prompt string, history []Message) (string, error) {
	text, err := m.client.Complete(ctx, cloud.ManagedRequest{
		Prompt:   prompt,
		Messages: toCloud(WithPrompt(history, prompt)),
		Model:    m.model(model),
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", unreachable(IDManaged, MsgManagedUnreachable, "", err)
	}
	return text, nil
}

func (m *Managed) model(id string) string {
	if strings.TrimSpace(id) == "" {
		return m.defaultModel
	}
	return id
}

// unreachable turns a transport failure that happened before any text
// arrived into a *BackendUnavailableError. Backend answers, in-stream
// errors and offline refusals pass through unchanged.
func unreachable(id, msg, partial string, err error) error {
	var be *cloud.BackendError
	var se *cloud.StreamError
	switch {
	case partial != "",
		errors.As(err, &be),
		errors.As(err, &se),
		errors.Is(err, offline.ErrOffline),
		errors.Is(err, offline.ErrInvalidURL),
		errors.Is(err, offline.ErrInvalidURLScheme),
		errors.Is(err, cloud.ErrInvalidResponse),
		errors.Is(err, cloud.ErrEmptyResponse):
		return err
	}
	return &BackendUnavailableError{Provider: id, Message: msg, Err: err}
}

func toCloud(msgs []Message) []cloud.Message {
	out := make([]cloud.Message, len(msgs))
	for i, m := range msgs {
		out[i] = cloud.Message{Role: m.Role, Content: m.Content}
	}
	return out
}
