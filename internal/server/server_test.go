// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/pinac/internal/config"
	"github.com/jeranaias/pinac/internal/credstore"
	"github.com/jeranaias/pinac/internal/offline"
	"github.com/jeranaias/pinac/internal/ollama"
	"github.com/jeranaias/pinac/internal/provider"
	"github.com/jeranaias/pinac/internal/stream"
)

// =============================================================================
// FAKES
// =============================================================================

type fakeAdapter struct {
	chunks  []string
	block   bool
	started chan struct{}
}

func newFakeAdapter(chunks ...string) *fakeAdapter {
	return &fakeAdapter{chunks: chunks, started: make(chan struct{}, 4)}
}

func (a *fakeAdapter) ID() string { return provider.IDLocal }

func (a *fakeAdapter) Generate(ctx context.Context, _ provider.Request, onChunk func(string)) (string, error) {
	var sb strings.Builder
	for _, c := range a.chunks {
		onChunk(c)
		sb.WriteString(c)
	}
	a.started <- struct{}{}
	if a.block {
		<-ctx.Done()
		return sb.String(), ctx.Err()
	}
	return sb.String(), nil
}

func (a *fakeAdapter) Complete(context.Context, string, string, []provider.Message) (string, error) {
	return "", nil
}

type fakeLister struct{ models []ollama.ModelInfo }

func (f fakeLister) ListModels(context.Context) ([]ollama.ModelInfo, error) {
	return f.models, nil
}

type fakeHealth bool

func (f fakeHealth) IsAvailable(context.Context) bool { return bool(f) }

// =============================================================================
// HARNESS
// =============================================================================

type testEnv struct {
	ts      *httptest.Server
	srv     *Server
	hub     *Hub
	store   *credstore.Store
	adapter *fakeAdapter
}

func newTestEnv(t *testing.T, cfg config.ServerConfig, opts ...Option) *testEnv {
	t.Helper()

	store, err := credstore.Open(context.Background(), credstore.Options{Dir: t.TempDir()})
	require.NoError(t, err)

	adapter := newFakeAdapter("Hello", ", world")
	hub := NewHub(0)
	mgr := stream.NewManager(provider.NewRegistry(adapter), nil, hub)
	lister := fakeLister{models: []ollama.ModelInfo{{Name: "llama3.2"}}}
	svc := stream.NewService(mgr, lister, store)

	srv := New(cfg, svc, hub, opts...)
	ts := httptest.NewServer(srv.Handler())

	t.Cleanup(func() {
		mgr.Close()
		hub.Close()
		ts.Close()
		srv.limiter.Close()
		_ = store.Close()
	})
	return &testEnv{ts: ts, srv: srv, hub: hub, store: store, adapter: adapter}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.ts.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

type sseEvent struct {
	name string
	data stream.Event
}

// subscribe opens the event stream and returns a reader of parsed events.
func (e *testEnv) subscribe(t *testing.T) (next func() sseEvent, closeFn func()) {
	t.Helper()
	resp, err := http.Get(e.ts.URL + "/api/events")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	scanner := bufio.NewScanner(resp.Body)
	next = func() sseEvent {
		var ev sseEvent
		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case strings.HasPrefix(line, "event: "):
				ev.name = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev.data))
			case line == "" && ev.name != "":
				return ev
			}
		}
		t.Fatalf("event stream ended: %v", scanner.Err())
		return ev
	}
	return next, func() { resp.Body.Close() }
}

// =============================================================================
// CHAT & EVENTS
// =============================================================================

func TestServer_ChatStreamDeliversEvents(t *testing.T) {
	env := newTestEnv(t, config.ServerConfig{})
	next, closeEvents := env.subscribe(t)
	defer closeEvents()
	require.Equal(t, 1, env.hub.Subscribers())

	resp := env.do(t, http.MethodPost, "/api/chat/stream",
		`{"prompt":"hi","history":[{"role":"user","content":"hi"}],"provider":"ollama","model":"llama3.2"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	id := decodeBody[StartResponse](t, resp).SessionID
	require.NotEmpty(t, id)

	ev := next()
	assert.Equal(t, "data", ev.name)
	assert.Equal(t, stream.Event{SessionID: id, Content: "Hello"}, ev.data)

	ev = next()
	assert.Equal(t, "data", ev.name)
	assert.Equal(t, ", world", ev.data.Content)

	ev = next()
	assert.Equal(t, "done", ev.name)
	assert.Equal(t, id, ev.data.SessionID)
}

func TestServer_UnknownProviderIsAnErrorEvent(t *testing.T) {
	env := newTestEnv(t, config.ServerConfig{})
	next, closeEvents := env.subscribe(t)
	defer closeEvents()

	resp := env.do(t, http.MethodPost, "/api/chat/stream", `{"prompt":"hi","provider":"nope"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	ev := next()
	assert.Equal(t, "error", ev.name)
	assert.NotEmpty(t, ev.data.Message)
}

func TestServer_ChatStop(t *testing.T) {
	env := newTestEnv(t, config.ServerConfig{})
	env.adapter.block = true
	next, closeEvents := env.subscribe(t)
	defer closeEvents()

	resp := env.do(t, http.MethodPost, "/api/chat/stream", `{"prompt":"hi","provider":"ollama"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	<-env.adapter.started

	resp = env.do(t, http.MethodPost, "/api/chat/stop", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, StopResponse{Stopped: true}, decodeBody[StopResponse](t, resp))

	assert.Equal(t, "data", next().name)
	assert.Equal(t, "data", next().name)
	assert.Equal(t, "done", next().name)
}

func TestServer_ChatStreamValidation(t *testing.T) {
	env := newTestEnv(t, config.ServerConfig{})

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"malformed json", `{"prompt":`, http.StatusBadRequest},
		{"bad role", `{"prompt":"x","history":[{"role":"tool","content":"x"}]}`, http.StatusBadRequest},
		{"prompt too long", `{"prompt":"` + strings.Repeat("a", MaxPromptLength+1) + `"}`, http.StatusBadRequest},
		{"body too large", `{"prompt":"` + strings.Repeat("a", MaxRequestBodySize) + `"}`, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/chat/stream", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			env.srv.Handler().ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			var body errorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.status, body.Error.Code)
		})
	}
}

func TestServer_WrongMethod(t *testing.T) {
	env := newTestEnv(t, config.ServerConfig{})
	resp := env.do(t, http.MethodGet, "/api/chat/stream", "")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestHub_SlowSubscriberIsDropped(t *testing.T) {
	hub := NewHub(1)
	events, unsubscribe := hub.Subscribe()

	hub.OnChunk("s", "a")
	hub.OnChunk("s", "b")
	assert.Equal(t, 0, hub.Subscribers())

	e, ok := <-events
	require.True(t, ok)
	assert.Equal(t, "a", e.Content)
	_, ok = <-events
	assert.False(t, ok)

	unsubscribe()
	unsubscribe()
}

func TestHub_SubscribeAfterClose(t *testing.T) {
	hub := NewHub(0)
	hub.Close()
	events, unsubscribe := hub.Subscribe()
	defer unsubscribe()
	_, ok := <-events
	assert.False(t, ok)
	hub.OnDone("s")
}

// =============================================================================
// MODELS & SETTINGS
// =============================================================================

func TestServer_Models(t *testing.T) {
	env := newTestEnv(t, config.ServerConfig{})
	resp := env.do(t, http.MethodGet, "/api/models", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	models := decodeBody[[]ollama.ModelInfo](t, resp)
	require.Len(t, models, 1)
	assert.Equal(t, "llama3.2", models[0].Name)
}

func TestServer_ProviderSettings(t *testing.T) {
	env := newTestEnv(t, config.ServerConfig{})

	resp := env.do(t, http.MethodGet, "/api/settings/provider", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Nil(t, decodeBody[map[string]any](t, resp))

	resp = env.do(t, http.MethodPut, "/api/settings/provider",
		`{"subProvider":"openai","modelName":"gpt-4o-mini","apiKey":"sk-test"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, stream.CredentialResult{Success: true}, decodeBody[stream.CredentialResult](t, resp))

	resp = env.do(t, http.MethodGet, "/api/settings/provider", "")
	got := decodeBody[map[string]any](t, resp)
	assert.Equal(t, "openai", got["subProvider"])
	assert.Equal(t, "sk-test", got["apiKey"])

	resp = env.do(t, http.MethodPut, "/api/settings/provider", `null`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_SearchKeyAndLogout(t *testing.T) {
	env := newTestEnv(t, config.ServerConfig{})

	resp := env.do(t, http.MethodPut, "/api/settings/search-key", `{"api_key":"  "}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, http.MethodPut, "/api/settings/search-key", `{"api_key":"tvly-1"}`)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.True(t, env.store.Has(credstore.SearchKeyName))

	resp = env.do(t, http.MethodPost, "/api/logout", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decodeBody[stream.CredentialResult](t, resp).Success)
	assert.False(t, env.store.Has(credstore.SearchKeyName))
}

// =============================================================================
// HEALTH
// =============================================================================

func TestServer_Health(t *testing.T) {
	tests := []struct {
		name   string
		opts   []Option
		status string
		ollama string
	}{
		{"no checker", nil, "ok", "not_configured"},
		{"available", []Option{WithHealthChecker(fakeHealth(true))}, "ok", "ok"},
		{"unavailable", []Option{WithHealthChecker(fakeHealth(false))}, "degraded", "unavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, config.ServerConfig{}, tt.opts...)
			resp := env.do(t, http.MethodGet, "/health", "")
			require.Equal(t, http.StatusOK, resp.StatusCode)

			h := decodeBody[HealthResponse](t, resp)
			assert.Equal(t, tt.status, h.Status)
			assert.Equal(t, tt.ollama, h.OllamaStatus)
			assert.Equal(t, Version, h.Version)
			assert.Equal(t, "IDLE", h.Session)
			assert.False(t, h.Offline)
		})
	}
}

func TestServer_HealthReportsOffline(t *testing.T) {
	env := newTestEnv(t, config.ServerConfig{}, WithOfflinePolicy(offline.NewPolicy(true)))
	resp := env.do(t, http.MethodGet, "/health", "")
	assert.True(t, decodeBody[HealthResponse](t, resp).Offline)
}

// =============================================================================
// MIDDLEWARE WIRING
// =============================================================================

func TestServer_AuthToken(t *testing.T) {
	env := newTestEnv(t, config.ServerConfig{AuthToken: "s3cret"})

	resp := env.do(t, http.MethodGet, "/api/models", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, env.ts.URL+"/api/models", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer s3cret")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err = http.NewRequestWithContext(ctx, http.MethodGet, env.ts.URL+"/api/events?access_token=s3cret", nil)
	require.NoError(t, err)
	events, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer events.Body.Close()
	assert.Equal(t, http.StatusOK, events.StatusCode)
}

func TestServer_RateLimit(t *testing.T) {
	env := newTestEnv(t, config.ServerConfig{RequestsPerSecond: 0.001, Burst: 1})

	resp := env.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "1", resp.Header.Get("Retry-After"))
}

func TestServer_CORSPreflight(t *testing.T) {
	env := newTestEnv(t, config.ServerConfig{AllowedOrigins: []string{"app://pinac"}})

	req, err := http.NewRequest(http.MethodOptions, env.ts.URL+"/api/chat/stream", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "app://pinac")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "app://pinac", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Methods"), "PUT")
}

func TestServer_SecurityHeaders(t *testing.T) {
	env := newTestEnv(t, config.ServerConfig{})
	resp := env.do(t, http.MethodGet, "/health", "")

	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
	assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
}

func TestServer_ServeAndShutdown(t *testing.T) {
	store, err := credstore.Open(context.Background(), credstore.Options{Dir: t.TempDir()})
	require.NoError(t, err)
	defer store.Close()

	hub := NewHub(0)
	mgr := stream.NewManager(provider.NewRegistry(), nil, hub)
	defer mgr.Close()
	srv := New(config.ServerConfig{Addr: "127.0.0.1:0"}, stream.NewService(mgr, nil, store), hub)

	ln, err := (&net.ListenConfig{}).Listen(context.Background(), "tcp", "127.0.0.1:0")
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))
	require.NoError(t, <-errCh)
}
