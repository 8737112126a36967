// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config loads, validates and watches the pinac configuration.
//
// TOML is the primary format; a config.json next to the TOML path is
// accepted as a fallback. Secrets are not kept here: provider keys live in
// the encrypted credential store.
//
// # Key Types
//
//   - Config: every setting, grouped by component
//   - ValidationErrors: all problems found by Validate
//
// # Configuration Precedence
//
//   - Environment variables (PINAC_*)
//   - ~/.pinac/config.toml
//   - ~/.pinac/config.json
//   - Built-in defaults
//
// # Usage
//
//	cfg, err := config.Load("")
//	if err != nil {
//		log.Fatal(err)
//	}
//	go config.Watch(ctx, path, 0, func(next *config.Config) {
//		policy.SetEnabled(next.Offline)
//	})
package config
