// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/jeranaias/pinac/internal/provider"
)

// Session is one streamed generation. Its fields are fixed at creation;
// the buffer and result are guarded by mu.
type Session struct {
	// ID is a random UUID.
	ID string

	// Request is a private copy of what was submitted.
	Request provider.Request

	// StartedAt is when Start created the session.
	StartedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	buf    strings.Builder
	result Result
}

func newSession(parent context.Context, id string, req provider.Request) *Session {
	ctx, cancel := context.WithCancel(parent)
	return &Session{
		ID:        id,
		Request:   req,
		StartedAt: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

// append adds text to the accumulated buffer.
func (s *Session) append(text string) {
	s.mu.Lock()
	s.buf.WriteString(text)
	s.mu.Unlock()
}

// Text returns what has been streamed so far.
func (s *Session) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

// Done is closed once the terminal event was delivered.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the session ends or ctx is done.
func (s *Session) Wait(ctx context.Context) (Result, error) {
	select {
	case <-s.done:
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// finish records the result. It must be called exactly once, by the run
// goroutine, before done is closed.
func (s *Session) finish(r Result) Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.SessionID = s.ID
	r.Text = s.buf.String()
	r.Request = RequestSummary{
		Prompt:     s.Request.Prompt,
		ProviderID: s.Request.ProviderID,
		ModelID:    s.Request.ModelID,
	}
	s.result = r
	return r
}
