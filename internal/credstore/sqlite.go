// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package credstore

import (
	"database/sql"
	"errors"
	"os"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/jeranaias/pinac/internal/util"
)

// =============================================================================
// SQLITE BACKEND
// =============================================================================

// CredentialsDB is the default database file name for SQLiteBackend.
const CredentialsDB = "credentials.db"

const credentialsSchema = `
CREATE TABLE IF NOT EXISTS credentials (
	name       TEXT PRIMARY KEY,
	record     TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);`

// SQLiteBackend stores records in a single table. SQLite serializes
// writers itself; the pool is capped at one connection so this process
// never races its own transactions.
type SQLiteBackend struct {
	db   *sql.DB
	path string
}

// OpenSQLiteBackend opens or creates the database at path with owner-only
// permissions.
func OpenSQLiteBackend(path string) (*SQLiteBackend, error) {
	// SECURITY: create the file ourselves so it never exists with the
	// driver's default umask-derived mode.
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, util.PrivateFilePerm)
	if err != nil {
		return nil, &StorageError{Op: "create", Path: path, Err: err}
	}
	f.Close()
	if err := enforcePrivateFile(path); err != nil {
		return nil, &StorageError{Op: "secure", Path: path, Err: err}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, &StorageError{Op: "open", Path: path, Err: err}
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=FULL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, &StorageError{Op: "configure", Path: path, Err: err}
		}
	}
	if _, err := db.Exec(credentialsSchema); err != nil {
		db.Close()
		return nil, &StorageError{Op: "migrate", Path: path, Err: err}
	}

	return &SQLiteBackend{db: db, path: path}, nil
}

// Load implements Backend.
func (b *SQLiteBackend) Load(name string) (string, bool, error) {
	var record string
	err := b.db.QueryRow(`SELECT record FROM credentials WHERE name = ?`, name).Scan(&record)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, &StorageError{Op: "query", Path: b.path, Err: err}
	}
	return record, true, nil
}

// Save implements Backend.
func (b *SQLiteBackend) Save(name, record string) error {
	_, err := b.db.Exec(`
		INSERT INTO credentials (name, record, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET record = excluded.record, updated_at = excluded.updated_at`,
		name, record, time.Now().Unix())
	if err != nil {
		return &StorageError{Op: "upsert", Path: b.path, Err: err}
	}
	return nil
}

// Remove implements Backend.
func (b *SQLiteBackend) Remove(name string) error {
	if _, err := b.db.Exec(`DELETE FROM credentials WHERE name = ?`, name); err != nil {
		return &StorageError{Op: "delete", Path: b.path, Err: err}
	}
	return nil
}

// RemoveAll implements Backend.
func (b *SQLiteBackend) RemoveAll() error {
	if _, err := b.db.Exec(`DELETE FROM credentials`); err != nil {
		return &StorageError{Op: "clear", Path: b.path, Err: err}
	}
	return nil
}

// List implements Backend. Names are sorted.
func (b *SQLiteBackend) List() ([]string, error) {
	rows, err := b.db.Query(`SELECT name FROM credentials ORDER BY name`)
	if err != nil {
		return nil, &StorageError{Op: "list", Path: b.path, Err: err}
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, &StorageError{Op: "list", Path: b.path, Err: err}
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "list", Path: b.path, Err: err}
	}
	return names, nil
}

// Close implements Backend.
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}
