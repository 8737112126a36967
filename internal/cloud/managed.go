// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"strings"
)

// Message is one history entry on the wire.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// =============================================================================
// MANAGED BACKEND
// =============================================================================

// ManagedRequest is the body of a managed chat call.
type ManagedRequest struct {
	Prompt    string    `json:"prompt"`
	Messages  []Message `json:"messages"`
	Model     string    `json:"model"`
	WebSearch bool      `json:"web_search"`
	Stream    bool      `json:"stream"`

	// DocumentsPath points the backend at an attached document.
	DocumentsPath string `json:"documents_path,omitempty"`
}

// managedEvent is the JSON payload of one SSE data line.
type managedEvent struct {
	Content string `json:"content"`
	Error   string `json:"error,omitempty"`
	Done    bool   `json:"done,omitempty"`
}

// ManagedClient talks to the hosted pinac backend. It is safe for
// concurrent use.
type ManagedClient struct {
	opts       Options
	streamPath string
	clients    httpClients
}

// NewManagedClient creates a client for the managed backend. An empty
// streamPath selects DefaultStreamPath.
func NewManagedClient(opts Options, streamPath string) *ManagedClient {
	opts.fillDefaults()
	if streamPath == "" {
		streamPath = DefaultStreamPath
	}
	if !strings.HasPrefix(streamPath, "/") {
		streamPath = "/" + streamPath
	}
	return &ManagedClient{
		opts:       opts,
		streamPath: streamPath,
		clients:    newHTTPClients(opts),
	}
}

// URL returns the full streaming endpoint.
func (c *ManagedClient) URL() string {
	return c.opts.BaseURL + c.streamPath
}

// Stream posts req with stream:true and forwards every content payload to
// onChunk in order. It returns the concatenated content. On cancellation
// it returns what was received so far together with ctx.Err().
func (c *ManagedClient) Stream(ctx context.Context, req ManagedRequest, onChunk func(string)) (string, error) {
	req.Stream = true
	if req.Messages == nil {
		req.Messages = []Message{}
	}

	resp, err := postJSON(ctx, c.clients.stream, c.opts.Offline, c.URL(), req, "text/event-stream")
	if err != nil {
		return "", err
	}
	// RELIABILITY: closing the body unblocks a read parked on a cancelled request.
	defer resp.Body.Close()

	return c.processStream(ctx, resp.Body, onChunk)
}

// processStream reads the SSE body through the incremental UTF-8 decoder.
func (c *ManagedClient) processStream(ctx context.Context, body io.Reader, onChunk func(string)) (string, error) {
	reader := NewSSEReader(NewUTF8Reader(body))
	var acc strings.Builder

	for {
		if err := ctx.Err(); err != nil {
			return acc.String(), err
		}

		_, data, err := reader.ReadEvent()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return acc.String(), ctxErr
			}
			if errors.Is(err, io.EOF) {
				return acc.String(), nil
			}
			return acc.String(), err
		}

		// Check for [DONE] signal
		if bytes.Equal(bytes.TrimSpace(data), []byte("[DONE]")) {
			return acc.String(), nil
		}

		var event managedEvent
		if err := json.Unmarshal(data, &event); err != nil {
			log.Printf("[cloud] skipping malformed stream event (%d bytes)", len(data))
			continue
		}
		if event.Error != "" {
			return acc.String(), &StreamError{Message: event.Error}
		}
		if event.Content != "" {
			acc.WriteString(event.Content)
			onChunk(event.Content)
		}
		if event.Done {
			return acc.String(), nil
		}
	}
}

// Complete posts req with stream:false and returns the reply text.
func (c *ManagedClient) Complete(ctx context.Context, req ManagedRequest) (string, error) {
	req.Stream = false
	if req.Messages == nil {
		req.Messages = []Message{}
	}

	resp, err := postJSON(ctx, c.clients.request, c.opts.Offline, c.URL(), req, "application/json")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := readResponse(resp)
	if err != nil {
		return "", err
	}
	return extractText(body)
}
