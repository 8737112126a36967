// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

// =============================================================================
// EVENTS
// =============================================================================

// EventType tags an Event.
type EventType int

const (
	// EventData carries one chunk of generated (or status) text.
	EventData EventType = iota
	// EventDone ends a session normally, including after cancellation.
	EventDone
	// EventError ends a session with a user-facing message.
	EventError
)

// String returns the wire name of the event type.
func (t EventType) String() string {
	switch t {
	case EventData:
		return "data"
	case EventDone:
		return "done"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one notification for the UI. A session produces zero or more
// EventData followed by exactly one EventDone or EventError.
type Event struct {
	Type      EventType `json:"-"`
	SessionID string    `json:"session_id"`
	Content   string    `json:"content,omitempty"`
	Message   string    `json:"message,omitempty"`
}

// Terminal reports whether e ends its session.
func (e Event) Terminal() bool {
	return e.Type == EventDone || e.Type == EventError
}

// Sink receives session events. Calls for one session come from a single
// goroutine in production order; calls for different sessions never
// overlap because only one session runs at a time.
type Sink interface {
	OnChunk(sessionID, text string)
	OnError(sessionID, message string)
	OnDone(sessionID string)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

// OnChunk implements Sink.
func (f SinkFunc) OnChunk(sessionID, text string) {
	f(Event{Type: EventData, SessionID: sessionID, Content: text})
}

// OnError implements Sink.
func (f SinkFunc) OnError(sessionID, message string) {
	f(Event{Type: EventError, SessionID: sessionID, Message: message})
}

// OnDone implements Sink.
func (f SinkFunc) OnDone(sessionID string) {
	f(Event{Type: EventDone, SessionID: sessionID})
}

// discard is used when no sink is configured.
type discard struct{}

func (discard) OnChunk(string, string) {}
func (discard) OnError(string, string) {}
func (discard) OnDone(string)          {}

// =============================================================================
// RESULTS
// =============================================================================

// Result is the outcome of a finished session. Text holds everything that
// was streamed, status lines included, and is kept on error and on
// cancellation alike.
type Result struct {
	SessionID string
	Request   RequestSummary
	Text      string
	// Err is the underlying failure; nil on success and on cancellation.
	Err error
	// Message is the user-facing text sent with EventError.
	Message   string
	Cancelled bool
}

// RequestSummary identifies what a Result answered, for history sinks.
type RequestSummary struct {
	Prompt     string
	ProviderID string
	ModelID    string
}

// CompletionHook receives every finished session, for example to persist
// chat history. It runs on the session goroutine after the terminal event.
type CompletionHook func(Result)
