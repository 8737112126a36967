// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"errors"
	"fmt"

	"github.com/jeranaias/pinac/internal/cloud"
	"github.com/jeranaias/pinac/internal/credstore"
	"github.com/jeranaias/pinac/internal/provider"
)

// MsgUnreadableConfig replaces decryption failures so nothing about the
// stored ciphertext leaks to the UI.
const MsgUnreadableConfig = "Could not read stored configuration."

// UserMessage maps err to the text sent with EventError.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	var unavailable *provider.BackendUnavailableError
	var missing *provider.MissingCredentialError
	var backend *cloud.BackendError

	switch {
	case credstore.IsDecryptionError(err):
		return MsgUnreadableConfig
	case errors.As(err, &missing):
		return missing.Message
	case errors.As(err, &unavailable):
		return unavailable.Message
	case errors.As(err, &backend):
		return fmt.Sprintf("Backend error (%d): %s", backend.Status, backend.Message)
	default:
		return err.Error()
	}
}
