// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

// State is the manager's position in the session lifecycle.
type State int

const (
	// StateIdle means no session is running.
	StateIdle State = iota
	// StateStarting means a session was created and its adapter is being
	// resolved.
	StateStarting
	// StateAugmenting means web search is running.
	StateAugmenting
	// StateStreaming means the adapter is producing chunks.
	StateStreaming
	// StateFinalizing means generation succeeded and Done is being sent.
	StateFinalizing
	// StateCancelling means a cancel was requested and the session is
	// winding down.
	StateCancelling
)

// String returns a string representation of the State.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateStarting:
		return "STARTING"
	case StateAugmenting:
		return "AUGMENTING"
	case StateStreaming:
		return "STREAMING"
	case StateFinalizing:
		return "FINALIZING"
	case StateCancelling:
		return "CANCELLING"
	default:
		return "UNKNOWN"
	}
}

// Busy reports whether a session is in flight.
func (s State) Busy() bool {
	return s != StateIdle
}
