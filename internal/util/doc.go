// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util holds small helpers shared across pinac.
//
// # Key Functions
//
// File Operations:
//   - AtomicWriteFile: crash-safe write through temp file, fsync and rename
//   - EnsurePrivateDir: create an owner-only directory
//
// String Utilities:
//   - TruncateRunes: UTF-8 safe truncation with ellipsis, used for log lines
//   - TrimQuotes, TrimPrefixFold: cleanup of short model replies
//
// # Usage
//
//	if err := util.AtomicWriteFile(path, data, util.PrivateFilePerm); err != nil {
//		return err
//	}
package util
