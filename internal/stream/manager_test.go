// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/pinac/internal/cloud"
	"github.com/jeranaias/pinac/internal/credstore"
	"github.com/jeranaias/pinac/internal/ollama"
	"github.com/jeranaias/pinac/internal/provider"
	"github.com/jeranaias/pinac/internal/websearch"
)

// =============================================================================
// FAKES
// =============================================================================

type fakeAdapter struct {
	id         string
	chunks     []string
	err        error
	block      bool
	completion string

	mu        sync.Mutex
	requests  []provider.Request
	completes []string
	models    []string
	started   chan struct{}
}

func newFakeAdapter(id string, chunks ...string) *fakeAdapter {
	return &fakeAdapter{id: id, chunks: chunks, started: make(chan struct{}, 16)}
}

func (f *fakeAdapter) ID() string { return f.id }

func (f *fakeAdapter) Generate(ctx context.Context, req provider.Request, onChunk func(string)) (string, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	var acc strings.Builder
	for _, c := range f.chunks {
		if ctx.Err() != nil {
			return acc.String(), ctx.Err()
		}
		acc.WriteString(c)
		onChunk(c)
	}
	f.started <- struct{}{}
	if f.block {
		<-ctx.Done()
		return acc.String(), ctx.Err()
	}
	return acc.String(), f.err
}

func (f *fakeAdapter) Complete(_ context.Context, model, prompt string, _ []provider.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completes = append(f.completes, prompt)
	f.models = append(f.models, model)
	return f.completion, nil
}

func (f *fakeAdapter) lastRequest() provider.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

// serverSideAdapter searches on the backend.
type serverSideAdapter struct{ *fakeAdapter }

func (serverSideAdapter) SearchesServerSide() bool { return true }

type fakeAugmenter struct {
	mu     sync.Mutex
	calls  int
	block  bool
	query  string
	result string
}

func (a *fakeAugmenter) Execute(ctx context.Context, req provider.Request, queryFn websearch.QueryFunc, status func(string)) (string, error) {
	a.mu.Lock()
	a.calls++
	a.mu.Unlock()

	status(websearch.StatusSearching)
	q, _ := queryFn(ctx, "directive")
	a.mu.Lock()
	a.query = q
	a.mu.Unlock()

	if a.block {
		<-ctx.Done()
		return req.Prompt, ctx.Err()
	}
	status(websearch.StatusComplete)
	return a.result, nil
}

func (a *fakeAugmenter) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) sink() Sink {
	return SinkFunc(func(e Event) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, e)
	})
}

func (r *recorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *recorder) forSession(id string) []Event {
	var out []Event
	for _, e := range r.all() {
		if e.SessionID == id {
			out = append(out, e)
		}
	}
	return out
}

func data(id, content string) Event { return Event{Type: EventData, SessionID: id, Content: content} }
func done(id string) Event          { return Event{Type: EventDone, SessionID: id} }

func wait(t *testing.T, s *Session) Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r, err := s.Wait(ctx)
	require.NoError(t, err)
	return r
}

func newTestManager(rec *recorder, aug Augmenter, adapters ...provider.Adapter) *Manager {
	return NewManager(provider.NewRegistry(adapters...), aug, rec.sink())
}

// =============================================================================
// STREAMING
// =============================================================================

func TestManager_StreamsChunksThenDone(t *testing.T) {
	rec := &recorder{}
	m := newTestManager(rec, nil, newFakeAdapter("ollama", "Hel", "lo"))
	defer m.Close()

	s, err := m.Start(context.Background(), provider.Request{Prompt: "hi", ProviderID: "ollama", ModelID: "llama3"})
	require.NoError(t, err)
	require.NotEmpty(t, s.ID)

	r := wait(t, s)
	assert.Equal(t, "Hello", r.Text)
	assert.False(t, r.Cancelled)
	assert.NoError(t, r.Err)
	assert.Equal(t, RequestSummary{Prompt: "hi", ProviderID: "ollama", ModelID: "llama3"}, r.Request)

	assert.Equal(t, []Event{data(s.ID, "Hel"), data(s.ID, "lo"), done(s.ID)}, rec.all())
	assert.Equal(t, StateIdle, m.State())
	_, active := m.Active()
	assert.False(t, active)
}

func TestManager_ErrorKeepsPartialText(t *testing.T) {
	rec := &recorder{}
	adapter := newFakeAdapter("pinac-cloud", "partial ")
	adapter.err = &cloud.BackendError{Status: 502, Message: "upstream down"}
	m := newTestManager(rec, nil, adapter)
	defer m.Close()

	s, err := m.Start(context.Background(), provider.Request{Prompt: "hi", ProviderID: "pinac-cloud"})
	require.NoError(t, err)

	r := wait(t, s)
	assert.Equal(t, "partial ", r.Text)
	assert.Equal(t, "Backend error (502): upstream down", r.Message)
	require.Error(t, r.Err)

	events := rec.all()
	require.Len(t, events, 2)
	assert.Equal(t, data(s.ID, "partial "), events[0])
	assert.Equal(t, Event{Type: EventError, SessionID: s.ID, Message: "Backend error (502): upstream down"}, events[1])
	assert.Equal(t, StateIdle, m.State())
}

func TestManager_UnknownProviderEmitsSingleError(t *testing.T) {
	rec := &recorder{}
	m := newTestManager(rec, nil)
	defer m.Close()

	s, err := m.Start(context.Background(), provider.Request{Prompt: "hi", ProviderID: "nope"})
	require.NoError(t, err)

	r := wait(t, s)
	assert.ErrorIs(t, r.Err, provider.ErrUnknownProvider)

	events := rec.all()
	require.Len(t, events, 1)
	assert.Equal(t, EventError, events[0].Type)
	assert.Contains(t, events[0].Message, "unknown provider")
}

func TestManager_LocalBackendDownEmitsOnlyError(t *testing.T) {
	var chatCalls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/chat" {
			chatCalls.Add(1)
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	rec := &recorder{}
	local := provider.NewLocal(ollama.NewClientWithConfig(&ollama.ClientConfig{BaseURL: srv.URL}))
	m := newTestManager(rec, nil, local)
	defer m.Close()

	s, err := m.Start(context.Background(), provider.Request{Prompt: "hi", ProviderID: "ollama", ModelID: "llama3.2"})
	require.NoError(t, err)

	r := wait(t, s)
	require.Error(t, r.Err)
	assert.Equal(t, provider.MsgLocalUnavailable, r.Message)
	assert.Empty(t, r.Text)
	assert.Equal(t, []Event{{Type: EventError, SessionID: s.ID, Message: provider.MsgLocalUnavailable}}, rec.all())
	assert.Zero(t, chatCalls.Load())
}

func TestManager_RequestIsCopied(t *testing.T) {
	rec := &recorder{}
	adapter := newFakeAdapter("ollama", "ok")
	m := newTestManager(rec, nil, adapter)
	defer m.Close()

	history := []provider.Message{{Role: provider.RoleUser, Content: "original"}}
	s, err := m.Start(context.Background(), provider.Request{Prompt: "original", History: history, ProviderID: "ollama"})
	require.NoError(t, err)
	history[0].Content = "mutated"

	wait(t, s)
	assert.Equal(t, "original", adapter.lastRequest().History[0].Content)
}

// =============================================================================
// CANCELLATION
// =============================================================================

func TestManager_CancelEndsWithDoneAndPartialText(t *testing.T) {
	rec := &recorder{}
	adapter := newFakeAdapter("ollama", "Hel", "lo ", "world")
	adapter.block = true
	m := newTestManager(rec, nil, adapter)
	defer m.Close()

	s, err := m.Start(context.Background(), provider.Request{Prompt: "hi", ProviderID: "ollama"})
	require.NoError(t, err)
	<-adapter.started
	assert.Equal(t, StateStreaming, m.State())

	assert.True(t, m.Cancel())

	r := wait(t, s)
	assert.True(t, r.Cancelled)
	assert.NoError(t, r.Err)
	assert.Equal(t, "Hello world", r.Text)
	assert.Equal(t, []Event{
		data(s.ID, "Hel"), data(s.ID, "lo "), data(s.ID, "world"), done(s.ID),
	}, rec.all())
	assert.Equal(t, StateIdle, m.State())
}

func TestManager_CancelWithoutSession(t *testing.T) {
	m := newTestManager(&recorder{}, nil)
	defer m.Close()
	assert.True(t, m.Cancel())
	assert.True(t, m.Cancel())
}

func TestManager_StartReplacesRunningSession(t *testing.T) {
	rec := &recorder{}
	slow := newFakeAdapter("ollama", "first")
	slow.block = true
	fast := newFakeAdapter("pinac-cloud", "second")
	m := newTestManager(rec, nil, slow, fast)
	defer m.Close()

	first, err := m.Start(context.Background(), provider.Request{Prompt: "a", ProviderID: "ollama"})
	require.NoError(t, err)
	<-slow.started

	second, err := m.Start(context.Background(), provider.Request{Prompt: "b", ProviderID: "pinac-cloud"})
	require.NoError(t, err)

	firstResult := wait(t, first)
	assert.True(t, firstResult.Cancelled)
	wait(t, second)

	assert.Equal(t, []Event{
		data(first.ID, "first"), done(first.ID),
		data(second.ID, "second"), done(second.ID),
	}, rec.all())
}

func TestManager_ConcurrentStartsNeverInterleave(t *testing.T) {
	rec := &recorder{}
	m := newTestManager(rec, nil, newFakeAdapter("ollama", "a", "b", "c"))
	defer m.Close()

	const n = 10
	sessions := make(chan *Session, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := m.Start(context.Background(), provider.Request{Prompt: fmt.Sprint(i), ProviderID: "ollama"})
			assert.NoError(t, err)
			sessions <- s
		}(i)
	}
	wg.Wait()
	close(sessions)

	for s := range sessions {
		wait(t, s)
	}

	// Each session's events form one contiguous block ending in exactly one
	// terminal event.
	seen := map[string]bool{}
	var current string
	for _, e := range rec.all() {
		if current == "" {
			require.False(t, seen[e.SessionID], "session %s resumed after its terminal event", e.SessionID)
			current = e.SessionID
		}
		require.Equal(t, current, e.SessionID, "events of two sessions interleaved")
		if e.Terminal() {
			seen[current] = true
			current = ""
		}
	}
	assert.Empty(t, current)
	assert.Len(t, seen, n)
}

func TestManager_Close(t *testing.T) {
	adapter := newFakeAdapter("ollama")
	adapter.block = true
	m := newTestManager(&recorder{}, nil, adapter)

	s, err := m.Start(context.Background(), provider.Request{ProviderID: "ollama"})
	require.NoError(t, err)
	<-adapter.started

	m.Close()
	select {
	case <-s.Done():
	default:
		t.Fatal("Close returned before the session finished")
	}

	_, err = m.Start(context.Background(), provider.Request{ProviderID: "ollama"})
	assert.ErrorIs(t, err, ErrClosed)
}

// =============================================================================
// WEB SEARCH
// =============================================================================

func TestManager_WebSearchAugmentsPrompt(t *testing.T) {
	rec := &recorder{}
	adapter := newFakeAdapter("ollama", "answer")
	adapter.completion = "generated query"
	aug := &fakeAugmenter{result: "ENHANCED"}
	m := newTestManager(rec, aug, adapter)
	defer m.Close()

	s, err := m.Start(context.Background(), provider.Request{Prompt: "q", ProviderID: "ollama", ModelID: "llama3", WebSearch: true})
	require.NoError(t, err)

	r := wait(t, s)
	assert.Equal(t, websearch.StatusSearching+websearch.StatusComplete+"answer", r.Text)
	assert.Equal(t, "ENHANCED", adapter.lastRequest().Prompt)
	assert.Equal(t, "generated query", aug.query)
	assert.Equal(t, []string{"llama3"}, adapter.models)

	assert.Equal(t, []Event{
		data(s.ID, websearch.StatusSearching),
		data(s.ID, websearch.StatusComplete),
		data(s.ID, "answer"),
		done(s.ID),
	}, rec.all())
}

func TestManager_WebSearchSkippedForServerSideSearch(t *testing.T) {
	rec := &recorder{}
	adapter := serverSideAdapter{newFakeAdapter("pinac-cloud", "ok")}
	aug := &fakeAugmenter{result: "ENHANCED"}
	m := newTestManager(rec, aug, adapter)
	defer m.Close()

	s, err := m.Start(context.Background(), provider.Request{Prompt: "q", ProviderID: "pinac-cloud", WebSearch: true})
	require.NoError(t, err)
	wait(t, s)

	assert.Zero(t, aug.callCount())
	req := adapter.lastRequest()
	assert.Equal(t, "q", req.Prompt)
	assert.True(t, req.WebSearch)
}

func TestManager_CancelDuringAugmentation(t *testing.T) {
	rec := &recorder{}
	adapter := newFakeAdapter("ollama", "never")
	aug := &fakeAugmenter{block: true}
	m := newTestManager(rec, aug, adapter)
	defer m.Close()

	s, err := m.Start(context.Background(), provider.Request{Prompt: "q", ProviderID: "ollama", WebSearch: true})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(rec.all()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, StateAugmenting, m.State())
	m.Cancel()

	r := wait(t, s)
	assert.True(t, r.Cancelled)
	assert.Equal(t, websearch.StatusSearching, r.Text)
	assert.Equal(t, []Event{data(s.ID, websearch.StatusSearching), done(s.ID)}, rec.all())

	adapter.mu.Lock()
	defer adapter.mu.Unlock()
	assert.Empty(t, adapter.requests)
}

// =============================================================================
// HOOKS AND MESSAGES
// =============================================================================

func TestManager_CompletionHook(t *testing.T) {
	results := make(chan Result, 1)
	m := NewManager(provider.NewRegistry(newFakeAdapter("ollama", "x")), nil, nil,
		WithCompletionHook(func(r Result) { results <- r }),
		WithIDGenerator(func() string { return "fixed-id" }),
	)
	defer m.Close()

	s, err := m.Start(context.Background(), provider.Request{ProviderID: "ollama"})
	require.NoError(t, err)
	assert.Equal(t, "fixed-id", s.ID)

	select {
	case r := <-results:
		assert.Equal(t, "fixed-id", r.SessionID)
		assert.Equal(t, "x", r.Text)
	case <-time.After(5 * time.Second):
		t.Fatal("hook not called")
	}
}

func TestUserMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"unavailable", &provider.BackendUnavailableError{Message: provider.MsgLocalUnavailable}, provider.MsgLocalUnavailable},
		{"backend", fmt.Errorf("wrapped: %w", &cloud.BackendError{Status: 401, Message: "bad token"}), "Backend error (401): bad token"},
		{"missing", &provider.MissingCredentialError{Message: provider.MsgConfigNotFound}, provider.MsgConfigNotFound},
		{"decrypt", &credstore.DecryptionError{Name: "custom_provider_config", Err: credstore.ErrAuthFailed}, MsgUnreadableConfig},
		{"other", errors.New("something odd"), "something odd"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, UserMessage(tt.err))
		})
	}
}

func TestStateAndEventStrings(t *testing.T) {
	assert.Equal(t, "STREAMING", StateStreaming.String())
	assert.Equal(t, "UNKNOWN", State(99).String())
	assert.False(t, StateIdle.Busy())
	assert.True(t, StateCancelling.Busy())

	assert.Equal(t, "data", EventData.String())
	assert.Equal(t, "error", EventError.String())
	assert.True(t, done("x").Terminal())
	assert.False(t, data("x", "y").Terminal())
}
