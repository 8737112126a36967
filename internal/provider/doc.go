// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package provider adapts each generation backend to one streaming
// interface.
//
// # Key Types
//
//   - Adapter: Generate (streaming) and Complete (one-shot)
//   - Local: Ollama on this machine, id "ollama" (alias "local")
//   - Managed: hosted pinac backend, id "pinac-cloud"
//   - BYOK: relay with the user's own key, id "custom"
//   - Registry: id and alias lookup
//
// # Usage
//
//	reg := provider.NewRegistry(provider.NewManaged(managed, ""), provider.NewBYOK(relay, store))
//	reg.Register(provider.NewLocal(client), provider.AliasLocal)
//
//	adapter, err := reg.Lookup(req.ProviderID)
//	if err != nil {
//		return err
//	}
//	text, err := adapter.Generate(ctx, req, func(chunk string) {
//		fmt.Print(chunk)
//	})
package provider
