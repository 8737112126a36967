// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

//go:build !windows

package credstore

import (
	"fmt"
	"log"
	"os"

	"github.com/jeranaias/pinac/internal/util"
)

// enforcePrivateFile tightens a secret file that has group or world bits
// set. A file we cannot tighten is an error.
func enforcePrivateFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	mode := info.Mode().Perm()
	if mode&0077 == 0 {
		return nil
	}

	log.Printf("[credstore] SECURITY: %s had mode %o, tightening to %o", path, mode, util.PrivateFilePerm)
	if err := os.Chmod(path, util.PrivateFilePerm); err != nil {
		return fmt.Errorf("insecure permissions %o and chmod failed: %w", mode, err)
	}
	return nil
}

// warnSharedDir logs when a data directory we did not create is readable
// by others. The secret file itself is still written 0600.
func warnSharedDir(dir string) {
	info, err := os.Stat(dir)
	if err != nil {
		return
	}
	if mode := info.Mode().Perm(); mode&0077 != 0 {
		log.Printf("[credstore] SECURITY: data directory %s has mode %o; consider: chmod 700 %s", dir, mode, dir)
	}
}
