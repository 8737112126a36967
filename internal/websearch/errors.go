// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package websearch

import (
	"errors"
	"fmt"
)

// ErrUnknownEngine is returned by NewEngine for an unrecognised kind.
var ErrUnknownEngine = errors.New("unknown search engine")

// SearchError is a failed search. Status is the HTTP status reported by
// the engine, or a synthesised one for transport failures.
type SearchError struct {
	Status  int
	Message string
}

// Error implements the error interface.
func (e *SearchError) Error() string {
	return fmt.Sprintf("Search failed (%d): %s", e.Status, e.Message)
}

// IsSearchError reports whether err is or wraps a *SearchError.
func IsSearchError(err error) bool {
	var se *SearchError
	return errors.As(err, &se)
}
