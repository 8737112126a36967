// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"log"

	"github.com/jeranaias/pinac/internal/cloud"
	"github.com/jeranaias/pinac/internal/config"
	"github.com/jeranaias/pinac/internal/credstore"
	"github.com/jeranaias/pinac/internal/offline"
	"github.com/jeranaias/pinac/internal/ollama"
	"github.com/jeranaias/pinac/internal/provider"
	"github.com/jeranaias/pinac/internal/stream"
	"github.com/jeranaias/pinac/internal/websearch"
)

// =============================================================================
// APPLICATION WIRING
// =============================================================================

// App holds every long-lived component a command needs. Build it with
// newApp and release it with Close.
type App struct {
	Config    *config.Config
	DataDir   string
	Policy    *offline.Policy
	Store     *credstore.Store
	Local     *provider.Local
	Registry  *provider.Registry
	Augmenter *websearch.Augmenter
}

// newApp opens the credential store and builds the provider registry from
// cfg. The store is the only component that holds resources.
func newApp(ctx context.Context, cfg *config.Config) (*App, error) {
	dataDir, err := cfg.ResolvedDataDir()
	if err != nil {
		return nil, &CommandError{Code: ExitConfigError, Message: "cannot resolve data directory", Cause: err}
	}

	policy := offline.NewPolicy(cfg.Offline)
	// SECURITY: in offline mode even the local backend must be loopback.
	if err := policy.CheckURL(cfg.Local.OllamaURL); err != nil {
		return nil, &CommandError{Code: ExitSecurityError, Message: "local backend is not reachable offline", Cause: err}
	}

	store, err := openStore(ctx, cfg, dataDir)
	if err != nil {
		return nil, err
	}

	timeouts := cfg.Timeouts
	local := provider.NewLocal(ollama.NewClientWithConfig(&ollama.ClientConfig{
		BaseURL:               cfg.Local.OllamaURL,
		Timeout:               timeouts.Request(),
		ConnectTimeout:        timeouts.Connect(),
		ResponseHeaderTimeout: timeouts.ResponseHeader(),
	}))

	managed := cloud.NewManagedClient(cloud.Options{
		BaseURL:               cfg.Managed.BaseURL,
		ConnectTimeout:        timeouts.Connect(),
		ResponseHeaderTimeout: timeouts.ResponseHeader(),
		RequestTimeout:        timeouts.Request(),
		Offline:               policy,
	}, cfg.Managed.StreamPath)

	relay := cloud.NewRelayClient(cloud.Options{
		BaseURL:               cfg.Relay.BaseURL,
		ConnectTimeout:        timeouts.Connect(),
		ResponseHeaderTimeout: timeouts.ResponseHeader(),
		RequestTimeout:        timeouts.Request(),
		Offline:               policy,
	})

	registry := provider.NewRegistry()
	registry.Register(local, provider.AliasLocal)
	registry.Register(provider.NewManaged(managed, cfg.Managed.DefaultModel))
	registry.Register(provider.NewBYOK(relay, store))

	engine, err := websearch.NewEngine(websearch.EngineOptions{
		Kind:              cfg.Search.Engine,
		Relay:             relay,
		Endpoint:          cfg.Search.Endpoint,
		Timeout:           timeouts.Request(),
		RequestsPerMinute: cfg.Search.RequestsPerMinute,
		Offline:           policy,
	})
	if err != nil {
		_ = store.Close()
		return nil, &CommandError{Code: ExitConfigError, Message: "invalid search configuration", Cause: err}
	}

	return &App{
		Config:    cfg,
		DataDir:   dataDir,
		Policy:    policy,
		Store:     store,
		Local:     local,
		Registry:  registry,
		Augmenter: websearch.NewAugmenter(engine, store),
	}, nil
}

// openStore opens the credential store with the configured backend.
func openStore(ctx context.Context, cfg *config.Config, dataDir string) (*credstore.Store, error) {
	backend, err := credstore.NewBackend(cfg.Credentials.Backend, dataDir)
	if err != nil {
		return nil, &CommandError{Code: ExitConfigError, Message: "cannot open credential backend", Cause: err}
	}
	store, err := credstore.Open(ctx, credstore.Options{
		Dir:     dataDir,
		Backend: backend,
		KDF:     cfg.Credentials.KDF,
	})
	if err != nil {
		_ = backend.Close()
		return nil, &CommandError{Code: ExitGeneralError, Message: "cannot open credential store", Cause: err}
	}
	return store, nil
}

// NewService builds a session manager publishing to sink and the service
// boundary around it. Close the returned manager when done.
func (a *App) NewService(sink stream.Sink, opts ...stream.Option) *stream.Service {
	mgr := stream.NewManager(a.Registry, a.Augmenter, sink, opts...)
	return stream.NewService(mgr, a.Local, a.Store)
}

// DefaultModel returns the model for providerID when the user gave none.
func (a *App) DefaultModel(providerID string) string {
	switch providerID {
	case provider.IDManaged:
		return a.Config.Managed.DefaultModel
	case provider.IDBYOK:
		return ""
	default:
		return a.Config.Local.DefaultModel
	}
}

// Close releases the credential store.
func (a *App) Close() {
	if a.Store == nil {
		return
	}
	if err := a.Store.Close(); err != nil {
		log.Printf("[cli] close credential store: %v", err)
	}
}

// describe returns a one-line summary of the wiring for --verbose.
func (a *App) describe() string {
	engine := a.Config.Search.Engine
	if engine == "" {
		engine = websearch.KindRelay
	}
	return fmt.Sprintf("data=%s backend=%s search=%s %s",
		a.DataDir, a.Config.Credentials.Backend, engine, a.Policy.StatusBadge())
}
