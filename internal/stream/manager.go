// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/pinac/internal/provider"
	"github.com/jeranaias/pinac/internal/websearch"
)

// ErrClosed is returned by Start after Close.
var ErrClosed = errors.New("stream manager is closed")

// =============================================================================
// COLLABORATORS
// =============================================================================

// AdapterLookup resolves a provider id. *provider.Registry implements it.
type AdapterLookup interface {
	Lookup(id string) (provider.Adapter, error)
}

// Augmenter rewrites a prompt with web search context.
// *websearch.Augmenter implements it.
type Augmenter interface {
	Execute(ctx context.Context, req provider.Request, queryFn websearch.QueryFunc, status func(string)) (string, error)
}

// Option configures a Manager.
type Option func(*Manager)

// WithCompletionHook registers a hook that receives every finished session.
func WithCompletionHook(hook CompletionHook) Option {
	return func(m *Manager) { m.onComplete = hook }
}

// WithIDGenerator replaces the UUID session id source.
func WithIDGenerator(next func() string) Option {
	return func(m *Manager) { m.newID = next }
}

// =============================================================================
// SESSION MANAGER
// =============================================================================

// Manager runs at most one streaming session at a time. Starting a new
// session cancels the previous one and waits for its terminal event
// first, so events of two sessions never interleave.
type Manager struct {
	adapters   AdapterLookup
	augmenter  Augmenter
	sink       Sink
	onComplete CompletionHook
	newID      func() string

	// startMu serializes Start so two callers cannot both claim the
	// active slot.
	startMu sync.Mutex

	// mu guards the fields below.
	mu      sync.Mutex
	current *Session
	state   State
	closed  bool

	base context.Context
	stop context.CancelFunc
}

// NewManager creates a manager. augmenter may be nil, in which case web
// search requests are streamed without augmentation; sink may be nil to
// drop events.
func NewManager(adapters AdapterLookup, augmenter Augmenter, sink Sink, opts ...Option) *Manager {
	if sink == nil {
		sink = discard{}
	}
	base, stop := context.WithCancel(context.Background())
	m := &Manager{
		adapters:  adapters,
		augmenter: augmenter,
		sink:      sink,
		newID:     func() string { return uuid.New().String() },
		base:      base,
		stop:      stop,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start cancels any running session, waits for it to finish, then starts
// req in a new session. ctx only bounds that wait; the new session lives
// until it completes or is cancelled.
//
// Every session returned by Start emits exactly one terminal event, even
// when the provider id is unknown.
func (m *Manager) Start(ctx context.Context, req provider.Request) (*Session, error) {
	m.startMu.Lock()
	defer m.startMu.Unlock()

	if prev, ok := m.Active(); ok {
		m.setState(prev, StateCancelling)
		prev.cancel()
		select {
		case <-prev.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	s := newSession(m.base, m.newID(), req.Clone())
	m.current = s
	m.state = StateStarting
	m.mu.Unlock()

	log.Printf("[stream] session %s started (provider=%s model=%s web_search=%t)",
		s.ID, req.ProviderID, req.ModelID, req.WebSearch)

	go m.run(s)
	return s, nil
}

// Cancel stops the active session and waits for its terminal event. It
// always returns true, including when nothing was running.
func (m *Manager) Cancel() bool {
	s, ok := m.Active()
	if !ok {
		return true
	}
	m.setState(s, StateCancelling)
	s.cancel()
	<-s.done
	return true
}

// Active returns the running session, if any.
func (m *Manager) Active() (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current, m.current != nil
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Close cancels the active session, waits for it and rejects further
// starts.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	s := m.current
	m.mu.Unlock()

	m.stop()
	if s != nil {
		<-s.done
	}
}

// setState moves the manager to st while s is still the current session.
// Transitions out of Cancelling are ignored so a late phase change cannot
// hide a pending cancel.
func (m *Manager) setState(s *Session, st State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != s {
		return
	}
	if m.state == StateCancelling && st != StateIdle {
		return
	}
	m.state = st
}

// =============================================================================
// SESSION LIFECYCLE
// =============================================================================

// run drives one session from Starting to its terminal event. All events
// for s are emitted from this goroutine.
func (m *Manager) run(s *Session) {
	adapter, err := m.adapters.Lookup(s.Request.ProviderID)
	if err != nil {
		m.finish(s, err)
		return
	}

	req := s.Request
	if req.WebSearch {
		prompt, err := m.augment(s, adapter)
		if err != nil {
			m.finish(s, err)
			return
		}
		req.Prompt = prompt
	}

	m.setState(s, StateStreaming)
	_, err = adapter.Generate(s.ctx, req, func(chunk string) {
		m.emit(s, chunk)
	})
	m.finish(s, err)
}

// augment runs web search unless the backend searches on its own. The
// returned error is only ever a cancellation.
func (m *Manager) augment(s *Session, adapter provider.Adapter) (string, error) {
	if searcher, ok := adapter.(provider.ServerSideSearcher); ok && searcher.SearchesServerSide() {
		return s.Request.Prompt, nil
	}
	if m.augmenter == nil {
		log.Printf("[stream] session %s: web search requested but no search engine is configured", s.ID)
		return s.Request.Prompt, nil
	}

	m.setState(s, StateAugmenting)
	model := s.Request.ModelID
	queryFn := func(ctx context.Context, directive string) (string, error) {
		return adapter.Complete(ctx, model, directive, nil)
	}
	return m.augmenter.Execute(s.ctx, s.Request, queryFn, func(status string) {
		m.emit(s, status)
	})
}

// emit forwards one chunk. Nothing is emitted once s is cancelled.
func (m *Manager) emit(s *Session, text string) {
	if text == "" || s.ctx.Err() != nil {
		return
	}
	s.append(text)
	m.sink.OnChunk(s.ID, text)
}

// finish emits the terminal event, records the result, returns the
// manager to Idle and releases waiters.
//
// The completion hook and the sink run before done is closed, so neither
// may call Start, Cancel or Close.
func (m *Manager) finish(s *Session, err error) {
	var r Result
	switch {
	case s.ctx.Err() != nil:
		// Cancellation wins over whatever error the unwinding produced.
		r.Cancelled = true
		m.sink.OnDone(s.ID)
	case err != nil:
		r.Err = err
		r.Message = UserMessage(err)
		m.sink.OnError(s.ID, r.Message)
	default:
		m.setState(s, StateFinalizing)
		m.sink.OnDone(s.ID)
	}

	r = s.finish(r)
	log.Printf("[stream] session %s finished in %v (chars=%d cancelled=%t error=%t)",
		s.ID, time.Since(s.StartedAt).Round(time.Millisecond), len(r.Text), r.Cancelled, r.Err != nil)

	if m.onComplete != nil {
		m.onComplete(r)
	}

	m.mu.Lock()
	if m.current == s {
		m.current = nil
		m.state = StateIdle
	}
	m.mu.Unlock()

	s.cancel()
	close(s.done)
}
