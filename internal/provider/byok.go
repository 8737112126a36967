// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/jeranaias/pinac/internal/cloud"
	"github.com/jeranaias/pinac/internal/credstore"
)

// MsgRelayUnreachable is shown when the BYOK relay cannot be reached.
const MsgRelayUnreachable = "The provider relay is unreachable. Please check your connection and try again."

// SecretSource is the read side of the credential store.
type SecretSource interface {
	Get(name string) (string, bool, error)
}

// ProviderConfig is the stored bring-your-own-key configuration.
//
// SECURITY: APIKey is a user secret. Never log a ProviderConfig.
type ProviderConfig struct {
	SubProvider string `json:"subProvider"`
	ModelName   string `json:"modelName"`
	APIKey      string `json:"apiKey"`
}

// =============================================================================
// BYOK (CUSTOM PROVIDER)
// =============================================================================

// BYOK generates through the relay with the user's own provider key. The
// configuration is read from the credential store on every call and never
// kept afterwards.
type BYOK struct {
	relay   *cloud.RelayClient
	secrets SecretSource
}

// NewBYOK wraps a relay client and the credential store.
func NewBYOK(relay *cloud.RelayClient, secrets SecretSource) *BYOK {
	return &BYOK{relay: relay, secrets: secrets}
}

// ID implements Adapter.
func (b *BYOK) ID() string { return IDBYOK }

// resolve loads the stored configuration. Decryption failures are returned
// as is so callers can show a generic message.
func (b *BYOK) resolve() (ProviderConfig, error) {
	raw, ok, err := b.secrets.Get(credstore.ProviderConfigName)
	if err != nil {
		return ProviderConfig{}, err
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return ProviderConfig{}, &MissingCredentialError{Name: credstore.ProviderConfigName, Message: MsgConfigNotFound}
	}

	var cfg ProviderConfig
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return ProviderConfig{}, &MissingCredentialError{Name: credstore.ProviderConfigName, Message: MsgConfigNotFound}
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return ProviderConfig{}, &MissingCredentialError{Name: credstore.ProviderConfigName, Message: MsgAPIKeyMissing}
	}
	return cfg, nil
}

// Generate implements Adapter. The stored model name wins over
// req.ModelID.
func (b *BYOK) Generate(ctx context.Context, req Request, onChunk func(string)) (string, error) {
	cfg, err := b.resolve()
	if err != nil {
		return "", err
	}

	text, err := b.relay.ChatStream(ctx, cloud.RelayChatRequest{
		Provider: cfg.SubProvider,
		Model:    pick(cfg.ModelName, req.ModelID),
		APIKey:   cfg.APIKey,
		History:  toCloud(PriorHistory(req.History)),
		Query:    req.Prompt,
	}, func(chunk string) {
		if ctx.Err() == nil {
			onChunk(chunk)
		}
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return text, ctxErr
		}
		return text, unreachable(IDBYOK, MsgRelayUnreachable, text, err)
	}
	return text, nil
}

// Complete implements Adapter. The reply is cleaned of quotes and a
// leading "Search query:"; an empty result is an error.
func (b *BYOK) Complete(ctx context.Context, model, prompt string, history []Message) (string, error) {
	cfg, err := b.resolve()
	if err != nil {
		return "", err
	}

	text, err := b.relay.Chat(ctx, cloud.RelayChatRequest{
		Provider: cfg.SubProvider,
		Model:    pick(cfg.ModelName, model),
		APIKey:   cfg.APIKey,
		History:  toCloud(PriorHistory(history)),
		Query:    prompt,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", unreachable(IDBYOK, MsgRelayUnreachable, "", err)
	}

	text = CleanCompletion(text)
	if text == "" {
		return "", cloud.ErrEmptyResponse
	}
	return text, nil
}

func pick(preferred, fallback string) string {
	if strings.TrimSpace(preferred) != "" {
		return preferred
	}
	return fallback
}
