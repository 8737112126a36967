// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package credstore

import (
	"errors"
	"fmt"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrMalformedRecord means a stored entry is not a nonce:ciphertext:tag
	// hex triple of the expected sizes.
	ErrMalformedRecord = errors.New("malformed credential record")

	// ErrAuthFailed means the GCM tag did not verify: the entry was
	// tampered with, corrupted, or sealed under a different master secret.
	ErrAuthFailed = errors.New("authentication tag mismatch")

	// ErrClosed is returned by a Store after Close.
	ErrClosed = errors.New("credential store is closed")

	// ErrEmptyName rejects entries without a name.
	ErrEmptyName = errors.New("credential name must not be empty")
)

// DecryptionError reports an entry that could not be authenticated.
//
// SECURITY: Error() deliberately carries no cryptographic detail so it can
// be shown to users as is. The cause stays reachable through Unwrap for logs.
type DecryptionError struct {
	Name string
	Err  error
}

func (e *DecryptionError) Error() string {
	return fmt.Sprintf("could not read stored credential %q", e.Name)
}

func (e *DecryptionError) Unwrap() error { return e.Err }

// StorageError reports a filesystem or database failure while reading or
// writing the master secret or credential entries.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("credential storage: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("credential storage: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// IsDecryptionError reports whether err is or wraps a *DecryptionError.
func IsDecryptionError(err error) bool {
	var de *DecryptionError
	return errors.As(err, &de)
}

// IsStorageError reports whether err is or wraps a *StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}
