// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package credstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/jeranaias/pinac/internal/util"
)

// =============================================================================
// BACKEND INTERFACE
// =============================================================================

// Backend persists encoded records by name. Implementations never see
// plaintext. Load returns ok=false for a missing name; Remove and RemoveAll
// are idempotent.
type Backend interface {
	Load(name string) (record string, ok bool, err error)
	Save(name, record string) error
	Remove(name string) error
	RemoveAll() error
	List() ([]string, error)
	Close() error
}

// Backend kinds accepted by NewBackend.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// NewBackend returns the backend of the given kind rooted in dir.
func NewBackend(kind, dir string) (Backend, error) {
	switch kind {
	case "", BackendFile:
		return NewFileBackend(filepath.Join(dir, TokensFile)), nil
	case BackendSQLite:
		if err := util.EnsurePrivateDir(dir); err != nil {
			return nil, &StorageError{Op: "create data directory", Path: dir, Err: err}
		}
		return OpenSQLiteBackend(filepath.Join(dir, CredentialsDB))
	default:
		return nil, fmt.Errorf("unknown credential backend %q", kind)
	}
}

// =============================================================================
// FILE BACKEND
// =============================================================================

// TokensFile is the default file name for FileBackend.
const TokensFile = "secure-tokens.json"

// FileBackend keeps every record in one JSON object on disk. Each change
// rewrites the file atomically; the mutex serializes writers in this
// process. The file is re-read on every call so another process's writes
// are picked up.
type FileBackend struct {
	mu   sync.Mutex
	path string
}

// NewFileBackend returns a backend stored at path. The file is created on
// first write.
func NewFileBackend(path string) *FileBackend {
	return &FileBackend{path: path}
}

// Path returns the backing file.
func (b *FileBackend) Path() string { return b.path }

func (b *FileBackend) read() (map[string]string, error) {
	data, err := os.ReadFile(b.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, &StorageError{Op: "read", Path: b.path, Err: err}
	}
	if err := enforcePrivateFile(b.path); err != nil {
		return nil, &StorageError{Op: "secure", Path: b.path, Err: err}
	}

	entries := map[string]string{}
	if len(data) == 0 {
		return entries, nil
	}
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, &StorageError{Op: "decode", Path: b.path, Err: err}
	}
	return entries, nil
}

func (b *FileBackend) write(entries map[string]string) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return &StorageError{Op: "encode", Path: b.path, Err: err}
	}
	if err := util.AtomicWriteFile(b.path, data, util.PrivateFilePerm); err != nil {
		return &StorageError{Op: "write", Path: b.path, Err: err}
	}
	return nil
}

// Load implements Backend.
func (b *FileBackend) Load(name string) (string, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entries, err := b.read()
	if err != nil {
		return "", false, err
	}
	record, ok := entries[name]
	return record, ok, nil
}

// Save implements Backend.
func (b *FileBackend) Save(name, record string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	entries, err := b.read()
	if err != nil {
		return err
	}
	entries[name] = record
	return b.write(entries)
}

// Remove implements Backend.
func (b *FileBackend) Remove(name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	entries, err := b.read()
	if err != nil {
		return err
	}
	if _, ok := entries[name]; !ok {
		return nil
	}
	delete(entries, name)
	return b.write(entries)
}

// RemoveAll implements Backend.
func (b *FileBackend) RemoveAll() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := os.Stat(b.path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return b.write(map[string]string{})
}

// List implements Backend. Names are sorted.
func (b *FileBackend) List() ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entries, err := b.read()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Close implements Backend.
func (b *FileBackend) Close() error { return nil }
