// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// Provider ids.
const (
	IDLocal   = "ollama"
	IDManaged = "pinac-cloud"
	IDBYOK    = "custom"

	// AliasLocal is accepted wherever IDLocal is.
	AliasLocal = "local"
)

// =============================================================================
// ADAPTER
// =============================================================================

// Adapter is one generation backend.
//
// Generate streams the reply for req, calling onChunk for every piece of
// text in order, and returns the accumulated text. If ctx is cancelled it
// returns the partial text together with ctx.Err() and emits nothing
// further. onChunk is called from the caller's goroutine.
//
// Complete is a non-streaming call used for short helper prompts such as
// search query generation.
type Adapter interface {
	ID() string
	Generate(ctx context.Context, req Request, onChunk func(string)) (string, error)
	Complete(ctx context.Context, model, prompt string, history []Message) (string, error)
}

// ServerSideSearcher is implemented by adapters whose backend performs
// web search itself when asked to, so no local augmentation is needed.
type ServerSideSearcher interface {
	SearchesServerSide() bool
}

// =============================================================================
// REGISTRY
// =============================================================================

// Registry maps provider ids and aliases to adapters. Safe for concurrent
// use.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
	aliases  map[string]string
}

// NewRegistry returns a registry holding adapters under their own ids.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{
		adapters: make(map[string]Adapter),
		aliases:  make(map[string]string),
	}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

// Register adds or replaces an adapter and any aliases for it.
func (r *Registry) Register(a Adapter, aliases ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := normalizeID(a.ID())
	r.adapters[id] = a
	for _, alias := range aliases {
		r.aliases[normalizeID(alias)] = id
	}
}

// Lookup resolves id (or an alias) to its adapter. Unknown ids return an
// error wrapping ErrUnknownProvider.
func (r *Registry) Lookup(id string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	key := normalizeID(id)
	if target, ok := r.aliases[key]; ok {
		key = target
	}
	a, ok := r.adapters[key]
	if !ok {
		return nil, unknownProvider(id)
	}
	return a, nil
}

// IDs returns the registered provider ids, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.adapters))
	for id := range r.adapters {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func normalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
