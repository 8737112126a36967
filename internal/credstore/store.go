// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package credstore

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"sync"
)

// =============================================================================
// WELL-KNOWN NAMES
// =============================================================================

// Entry names used by the rest of pinac.
const (
	// ProviderConfigName holds the BYOK JSON blob
	// {subProvider, modelName, apiKey}.
	ProviderConfigName = "custom_provider_config"

	// SearchKeyName holds the Tavily API key.
	SearchKeyName = "tavily_api_key"
)

// =============================================================================
// OPTIONS
// =============================================================================

// Options configures Open.
type Options struct {
	// Dir holds the master secret and, for the file backend, the entries.
	Dir string

	// Backend overrides the default FileBackend in Dir.
	Backend Backend

	// KDF is KDFScrypt (default) or KDFPBKDF2.
	KDF string

	// Salt defaults to DefaultSalt.
	Salt []byte
}

// =============================================================================
// STORE
// =============================================================================

// Store is the encrypted name to secret mapping. It is safe for concurrent
// use; writes are serialized by the backend.
type Store struct {
	mu      sync.RWMutex
	backend Backend
	sealer  *sealer
	key     []byte
}

// Open loads or creates the master secret in opts.Dir, derives the entry
// key and returns a ready Store.
//
// Key derivation is intentionally slow (tens to hundreds of milliseconds).
// It runs off the caller's goroutine so a cancelled ctx returns promptly;
// the derivation itself finishes in the background and is discarded.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if opts.Dir == "" {
		return nil, &StorageError{Op: "open", Err: fmt.Errorf("no data directory configured")}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	secret, err := GetOrCreateMasterSecret(opts.Dir)
	if err != nil {
		return nil, err
	}

	salt := opts.Salt
	if len(salt) == 0 {
		salt = []byte(DefaultSalt)
	}

	type derived struct {
		key []byte
		err error
	}
	result := make(chan derived, 1)
	go func() {
		defer ZeroBytes(secret)
		key, err := DeriveKey(opts.KDF, secret, salt)
		result <- derived{key: key, err: err}
	}()

	var key []byte
	select {
	case <-ctx.Done():
		go func() {
			if d := <-result; d.key != nil {
				ZeroBytes(d.key)
			}
		}()
		return nil, ctx.Err()
	case d := <-result:
		if d.err != nil {
			return nil, fmt.Errorf("derive credential key: %w", d.err)
		}
		key = d.key
	}

	s, err := newSealer(key)
	if err != nil {
		ZeroBytes(key)
		return nil, err
	}

	backend := opts.Backend
	if backend == nil {
		backend = NewFileBackend(filepath.Join(opts.Dir, TokensFile))
	}

	return &Store{backend: backend, sealer: s, key: key}, nil
}

// Put encrypts plaintext and stores it under name, replacing any previous
// entry.
func (s *Store) Put(name, plaintext string) error {
	if name == "" {
		return ErrEmptyName
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.sealer == nil {
		return ErrClosed
	}

	record, err := s.sealer.seal(name, []byte(plaintext))
	if err != nil {
		return err
	}
	if err := s.backend.Save(name, record.Encode()); err != nil {
		return err
	}
	return nil
}

// Get returns the plaintext stored under name. A missing entry is
// ("", false, nil). A record that does not parse or authenticate is a
// *DecryptionError; corrupted plaintext is never returned.
func (s *Store) Get(name string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.sealer == nil {
		return "", false, ErrClosed
	}

	encoded, ok, err := s.backend.Load(name)
	if err != nil || !ok {
		return "", false, err
	}

	record, err := ParseRecord(encoded)
	if err != nil {
		log.Printf("[credstore] entry %q is malformed: %v", name, err)
		return "", false, &DecryptionError{Name: name, Err: err}
	}
	plaintext, err := s.sealer.open(name, record)
	if err != nil {
		log.Printf("[credstore] entry %q failed authentication", name)
		return "", false, &DecryptionError{Name: name, Err: err}
	}
	return string(plaintext), true, nil
}

// Has reports whether an entry exists, without decrypting it.
func (s *Store) Has(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.sealer == nil {
		return false
	}
	_, ok, err := s.backend.Load(name)
	return err == nil && ok
}

// Names lists stored entry names.
func (s *Store) Names() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.sealer == nil {
		return nil, ErrClosed
	}
	return s.backend.List()
}

// Delete removes one entry. Deleting a missing name is not an error.
func (s *Store) Delete(name string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.sealer == nil {
		return ErrClosed
	}
	return s.backend.Remove(name)
}

// Clear removes every entry. The master secret is kept.
func (s *Store) Clear() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.sealer == nil {
		return ErrClosed
	}
	return s.backend.RemoveAll()
}

// Close zeroes the derived key and closes the backend. Further calls
// return ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sealer == nil {
		return nil
	}
	s.sealer = nil
	ZeroBytes(s.key)
	s.key = nil
	return s.backend.Close()
}
