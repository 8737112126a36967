// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClientWithConfig(&ClientConfig{BaseURL: srv.URL + "/"})
}

// =============================================================================
// MESSAGE TESTS
// =============================================================================

func TestModelInfo_FormatSize(t *testing.T) {
	tests := []struct {
		size int64
		want string
	}{
		{512, "512 B"},
		{2048, "2.0 KB"},
		{5 * 1024 * 1024, "5.0 MB"},
		{4_700_000_000, "4.4 GB"},
	}
	for _, tt := range tests {
		m := ModelInfo{Size: tt.size}
		assert.Equal(t, tt.want, m.FormatSize())
	}
}

func TestStreamChunk_TokensPerSecond(t *testing.T) {
	assert.Zero(t, StreamChunk{}.TokensPerSecond())
	c := StreamChunk{CompletionTokens: 50, EvalDuration: 2 * time.Second}
	assert.InDelta(t, 25.0, c.TokensPerSecond(), 0.001)
}

// =============================================================================
// CLIENT TESTS
// =============================================================================

func TestListModels(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tags", r.URL.Path)
		fmt.Fprint(w, `{"models":[{"name":"llama3.2:latest","size":2019393189},{"name":"qwen2.5:7b"}]}`)
	})

	models, err := c.ListModels(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 2)
	assert.Equal(t, "llama3.2:latest", models[0].Name)
	assert.NoError(t, c.CheckRunning(context.Background()))
}

func TestCheckRunning_Down(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewClientWithConfig(&ClientConfig{BaseURL: url})
	err := c.CheckRunning(context.Background())
	require.Error(t, err)
	assert.True(t, IsNotRunning(err))
}

func TestCheckRunning_BadStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	err := c.CheckRunning(context.Background())
	require.Error(t, err)
	assert.False(t, IsNotRunning(err))
}

func TestChat_NonStreaming(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req ChatRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.False(t, req.Stream)
		assert.Equal(t, "llama3.2", req.Model)
		assert.Len(t, req.Messages, 1)
		fmt.Fprint(w, `{"model":"llama3.2","message":{"role":"assistant","content":"4"},"done":true}`)
	})

	resp, err := c.Chat(context.Background(), "llama3.2", []Message{{Role: "user", Content: "2+2?"}})
	require.NoError(t, err)
	assert.Equal(t, "4", resp.Message.Content)
}

func TestChat_ModelNotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":"model 'nope' not found"}`)
	})

	_, err := c.Chat(context.Background(), "nope", nil)
	require.Error(t, err)
	assert.True(t, IsModelNotFound(err))
	assert.Contains(t, err.Error(), "nope")
}

func TestChatStream(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req ChatRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Stream)

		lines := []string{
			`{"model":"llama3.2","message":{"role":"assistant","content":"Hel"},"done":false}`,
			``,
			`not json`,
			`{"model":"llama3.2","message":{"role":"assistant","content":"lo"},"done":false}`,
			`{"model":"llama3.2","message":{"role":"assistant","content":""},"done":true,"eval_count":2,"eval_duration":1000000000}`,
			`{"model":"llama3.2","message":{"role":"assistant","content":"after done"},"done":false}`,
		}
		for _, l := range lines {
			fmt.Fprintln(w, l)
		}
	})

	var parts []string
	var last StreamChunk
	err := c.ChatStream(context.Background(), "llama3.2", []Message{{Role: "user", Content: "hi"}}, func(chunk StreamChunk) {
		if chunk.Content != "" {
			parts = append(parts, chunk.Content)
		}
		last = chunk
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Hel", "lo"}, parts)
	assert.True(t, last.Done)
	assert.Equal(t, 2, last.CompletionTokens)
	assert.InDelta(t, 2.0, last.TokensPerSecond(), 0.001)
	assert.Equal(t, "llama3.2", last.Model)
}

func TestChatStream_ErrorLine(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"message":{"content":"partial"},"done":false}`)
		fmt.Fprintln(w, `{"error":"out of memory"}`)
	})

	var got strings.Builder
	err := c.ChatStream(context.Background(), "m", nil, func(chunk StreamChunk) {
		got.WriteString(chunk.Content)
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of memory")
	assert.Equal(t, "partial", got.String())
}

func TestChatStream_Cancel(t *testing.T) {
	release := make(chan struct{})
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"message":{"content":"Hello"},"done":false}`)
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	})
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	var got strings.Builder
	err := c.ChatStream(ctx, "m", nil, func(chunk StreamChunk) {
		got.WriteString(chunk.Content)
		cancel()
	})
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, "Hello", got.String())
}

func TestChatStream_NotRunning(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewClientWithConfig(&ClientConfig{BaseURL: url})
	err := c.ChatStream(context.Background(), "m", nil, func(StreamChunk) {})
	assert.True(t, IsNotRunning(err))
}

func TestStreamReader_LongLine(t *testing.T) {
	long := strings.Repeat("x", 70*1024)
	body := `{"message":{"content":"` + long + `"},"done":true}` + "\n"

	r := NewStreamReader(strings.NewReader(body))
	var got string
	require.NoError(t, r.Process(context.Background(), func(c StreamChunk) { got = c.Content }))
	assert.Equal(t, long, got)
}

func TestStreamReader_UnterminatedFinalLine(t *testing.T) {
	r := NewStreamReader(strings.NewReader(`{"message":{"content":"end"},"done":false}`))
	var got string
	require.NoError(t, r.Process(context.Background(), func(c StreamChunk) { got += c.Content }))
	assert.Equal(t, "end", got)
}

func TestErrorPredicates(t *testing.T) {
	wrapped := fmt.Errorf("local: %w", &ClientError{Type: ErrTypeTimeout, Message: "slow"})
	assert.True(t, IsTimeout(wrapped))
	assert.False(t, IsNotRunning(wrapped))
	assert.False(t, IsModelNotFound(errors.New("other")))
}
