// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package offline restricts outbound traffic to loopback endpoints.
//
// When offline mode is on the managed backend, the BYOK relay and web
// search engines refuse to dial anything except localhost. The local model
// daemon keeps working.
//
// # Key Types
//
//   - Policy: injectable on/off switch with URL validation
//
// # Usage
//
//	policy := offline.NewPolicy(cfg.Offline)
//	if err := policy.CheckURL(endpoint); err != nil {
//		return err
//	}
package offline
