// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package credstore

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/jeranaias/pinac/internal/util"
)

// =============================================================================
// MASTER SECRET
// =============================================================================

const (
	// MasterSecretFile is the file name of the master secret inside the
	// data directory.
	MasterSecretFile = "app-secret.key"

	// MasterSecretBytes is the amount of entropy in a new master secret.
	MasterSecretBytes = 64
)

// GetOrCreateMasterSecret returns the installation's master secret, creating
// it on first use. The secret is stored hex encoded in dir/app-secret.key
// with owner-only permissions and is never rotated automatically: losing
// or replacing it makes every existing entry undecryptable.
//
// The returned slice is the hex text as stored. Callers that are done with
// it should ZeroBytes it.
func GetOrCreateMasterSecret(dir string) ([]byte, error) {
	path := filepath.Join(dir, MasterSecretFile)

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		secret := bytes.TrimSpace(data)
		if len(secret) == 0 {
			return nil, &StorageError{Op: "read master secret", Path: path, Err: errors.New("file is empty")}
		}
		if err := enforcePrivateFile(path); err != nil {
			return nil, &StorageError{Op: "secure master secret", Path: path, Err: err}
		}
		return secret, nil

	case errors.Is(err, fs.ErrNotExist):
		return createMasterSecret(dir, path)

	default:
		return nil, &StorageError{Op: "read master secret", Path: path, Err: err}
	}
}

func createMasterSecret(dir, path string) ([]byte, error) {
	if _, err := os.Stat(dir); err == nil {
		warnSharedDir(dir)
	} else if err := util.EnsurePrivateDir(dir); err != nil {
		return nil, &StorageError{Op: "create data directory", Path: dir, Err: err}
	}

	raw := make([]byte, MasterSecretBytes)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return nil, fmt.Errorf("generate master secret: %w", err)
	}
	defer ZeroBytes(raw)

	secret := make([]byte, hex.EncodedLen(len(raw)))
	hex.Encode(secret, raw)

	if err := util.AtomicWriteFile(path, secret, util.PrivateFilePerm); err != nil {
		ZeroBytes(secret)
		return nil, &StorageError{Op: "write master secret", Path: path, Err: err}
	}
	return secret, nil
}
