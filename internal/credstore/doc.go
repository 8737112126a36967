// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package credstore keeps provider secrets encrypted at rest.
//
// A per-installation master secret (64 random bytes, hex encoded, mode
// 0600) is stretched with scrypt or PBKDF2 into an AES-256 key. Every entry
// is sealed with AES-256-GCM under a fresh random nonce and persisted as a
// "nonce:ciphertext:tag" hex triple keyed by name. Plaintext never touches
// disk.
//
// # Key Types
//
//   - Store: Put / Get / Delete / Clear over a Backend
//   - Backend: FileBackend (JSON map) or SQLiteBackend (modernc.org/sqlite)
//   - DecryptionError: tampered, corrupted or foreign entry
//   - StorageError: filesystem or database failure
//
// # Usage
//
//	store, err := credstore.Open(ctx, credstore.Options{Dir: dataDir})
//	if err != nil {
//		return err
//	}
//	defer store.Close()
//
//	if err := store.Put(credstore.SearchKeyName, key); err != nil {
//		return err
//	}
//	key, ok, err := store.Get(credstore.SearchKeyName)
package credstore
