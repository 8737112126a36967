// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

//go:build windows

package credstore

// POSIX mode bits mean little on NTFS; the profile directory ACL is what
// protects the files there.

func enforcePrivateFile(path string) error { return nil }

func warnSharedDir(dir string) {}
