// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"github.com/jeranaias/pinac/internal/util"
)

// =============================================================================
// MESSAGES
// =============================================================================

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message is one turn of a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Attachment is a local file the user attached to a prompt.
type Attachment struct {
	Path string `json:"path"`
	Name string `json:"name"`
}

// Request is one generation request. History is chronological and, as
// sent by the UI, ends with the current user turn.
//
// A Request is treated as immutable once submitted; use Clone before
// handing it to another goroutine.
type Request struct {
	Prompt     string      `json:"prompt"`
	History    []Message   `json:"history"`
	ProviderID string      `json:"provider"`
	ModelID    string      `json:"model"`
	WebSearch  bool        `json:"web_search"`
	Attachment *Attachment `json:"attachment,omitempty"`
}

// Clone returns a deep copy of r.
func (r Request) Clone() Request {
	out := r
	if r.History != nil {
		out.History = make([]Message, len(r.History))
		copy(out.History, r.History)
	}
	if r.Attachment != nil {
		a := *r.Attachment
		out.Attachment = &a
	}
	return out
}

// =============================================================================
// HISTORY SHAPING
// =============================================================================

// PriorHistory returns history without its trailing user turn, which is
// the one the prompt stands for. The returned slice is a copy.
func PriorHistory(history []Message) []Message {
	n := len(history)
	if n > 0 && history[n-1].Role == RoleUser {
		n--
	}
	out := make([]Message, n)
	copy(out, history[:n])
	return out
}

// WithPrompt returns the message list to send: prior history followed by
// prompt as the final user turn. When web search rewrote the prompt this
// replaces the user's original wording.
func WithPrompt(history []Message, prompt string) []Message {
	out := PriorHistory(history)
	return append(out, Message{Role: RoleUser, Content: prompt})
}

// CleanCompletion normalizes a one-shot completion used as a search query:
// surrounding whitespace and quotes go, as does a leading "Search query:".
func CleanCompletion(s string) string {
	s = util.TrimQuotes(s)
	s = util.TrimPrefixFold(s, "Search query:")
	return util.TrimQuotes(s)
}
