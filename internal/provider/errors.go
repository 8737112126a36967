// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"errors"
	"fmt"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrUnknownProvider means no adapter is registered under the id.
	ErrUnknownProvider = errors.New("unknown provider")

	// ErrModelRequired means the adapter needs a model id and got none.
	ErrModelRequired = errors.New("model is required")
)

// Messages shown to users verbatim.
const (
	MsgLocalUnavailable = "Ollama is not running. Please start Ollama and try again."
	MsgConfigNotFound   = "Custom provider configuration not found. Please check your settings."
	MsgAPIKeyMissing    = "API key is missing for custom provider. Please check your settings."
)

// BackendUnavailableError means the backend could not be reached before
// generation started. Message is user-facing.
type BackendUnavailableError struct {
	Provider string
	Message  string
	Err      error
}

func (e *BackendUnavailableError) Error() string {
	return e.Message
}

func (e *BackendUnavailableError) Unwrap() error { return e.Err }

// ModelNotFoundError means the local daemon does not have the model.
type ModelNotFoundError struct {
	Model string
	Err   error
}

func (e *ModelNotFoundError) Error() string {
	return fmt.Sprintf("Model %q is not installed. Pull it with: ollama pull %s", e.Model, e.Model)
}

func (e *ModelNotFoundError) Unwrap() error { return e.Err }

// IsModelNotFound reports whether err is or wraps a *ModelNotFoundError.
func IsModelNotFound(err error) bool {
	var e *ModelNotFoundError
	return errors.As(err, &e)
}

// MissingCredentialError means a required stored credential is absent or
// incomplete. Message is user-facing.
type MissingCredentialError struct {
	Name    string
	Message string
}

func (e *MissingCredentialError) Error() string {
	return e.Message
}

// IsBackendUnavailable reports whether err is or wraps a
// *BackendUnavailableError.
func IsBackendUnavailable(err error) bool {
	var e *BackendUnavailableError
	return errors.As(err, &e)
}

// IsMissingCredential reports whether err is or wraps a
// *MissingCredentialError.
func IsMissingCredential(err error) bool {
	var e *MissingCredentialError
	return errors.As(err, &e)
}

func unknownProvider(id string) error {
	return fmt.Errorf("%w: %q", ErrUnknownProvider, id)
}
