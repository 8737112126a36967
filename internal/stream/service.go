// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/jeranaias/pinac/internal/credstore"
	"github.com/jeranaias/pinac/internal/ollama"
	"github.com/jeranaias/pinac/internal/provider"
)

// =============================================================================
// BOUNDARY COLLABORATORS
// =============================================================================

// ModelLister lists locally installed models. *provider.Local implements it.
type ModelLister interface {
	ListModels(ctx context.Context) ([]ollama.ModelInfo, error)
}

// CredentialStore is the subset of *credstore.Store the boundary uses.
type CredentialStore interface {
	Put(name, plaintext string) error
	Get(name string) (string, bool, error)
	Clear() error
}

// CredentialResult answers a credential save.
type CredentialResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// ErrEmptyKey is returned by SaveSearchKey for a blank key.
var ErrEmptyKey = errors.New("search key must not be empty")

// =============================================================================
// SERVICE
// =============================================================================

// Service is the request/response surface a UI calls. Streaming output
// arrives through the Manager's Sink, not through return values.
type Service struct {
	manager *Manager
	models  ModelLister
	store   CredentialStore
}

// NewService wires the boundary. models may be nil when no local backend
// is configured.
func NewService(manager *Manager, models ModelLister, store CredentialStore) *Service {
	return &Service{manager: manager, models: models, store: store}
}

// Manager returns the underlying session manager.
func (s *Service) Manager() *Manager {
	return s.manager
}

// StartChatStream starts req and returns the new session id without
// waiting for any output. An empty id means the manager is closed.
func (s *Service) StartChatStream(req provider.Request) string {
	session, err := s.manager.Start(context.Background(), req)
	if err != nil {
		log.Printf("[stream] start rejected: %v", err)
		return ""
	}
	return session.ID
}

// StopChatStream cancels the active session. It always returns true.
func (s *Service) StopChatStream() bool {
	return s.manager.Cancel()
}

// ListLocalModels returns the installed local models, or an empty slice
// when the local backend is unreachable.
func (s *Service) ListLocalModels(ctx context.Context) []ollama.ModelInfo {
	if s.models == nil {
		return []ollama.ModelInfo{}
	}
	models, err := s.models.ListModels(ctx)
	if err != nil {
		log.Printf("[stream] list local models: %v", err)
		return []ollama.ModelInfo{}
	}
	if models == nil {
		return []ollama.ModelInfo{}
	}
	return models
}

// SaveProviderCredential stores the BYOK configuration blob as given.
func (s *Service) SaveProviderCredential(cfg map[string]any) CredentialResult {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return CredentialResult{Error: fmt.Sprintf("invalid configuration: %v", err)}
	}
	if err := s.store.Put(credstore.ProviderConfigName, string(raw)); err != nil {
		log.Printf("[stream] save provider configuration: %v", err)
		return CredentialResult{Error: err.Error()}
	}
	return CredentialResult{Success: true}
}

// GetProviderCredential returns the stored BYOK configuration, or nil when
// it is absent or cannot be read.
func (s *Service) GetProviderCredential() map[string]any {
	raw, ok, err := s.store.Get(credstore.ProviderConfigName)
	if err != nil {
		log.Printf("[stream] read provider configuration: %v", err)
		return nil
	}
	if !ok {
		return nil
	}

	var cfg map[string]any
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		log.Printf("[stream] stored provider configuration is not valid JSON: %v", err)
		return nil
	}
	return cfg
}

// SaveSearchKey stores the web search API key.
func (s *Service) SaveSearchKey(key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return ErrEmptyKey
	}
	return s.store.Put(credstore.SearchKeyName, key)
}

// Logout stops any running session and removes every stored credential.
func (s *Service) Logout() bool {
	s.manager.Cancel()
	if err := s.store.Clear(); err != nil {
		log.Printf("[stream] logout failed: %v", err)
		return false
	}
	return true
}
