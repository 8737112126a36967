// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"context"
	"encoding/json"
	"fmt"
)

// =============================================================================
// BYOK RELAY
// =============================================================================

// RelayChatRequest is the body of a relay chat call. APIKey is the user's
// own provider key and is forwarded as is.
//
// SECURITY: never log this struct.
type RelayChatRequest struct {
	Provider string    `json:"provider"`
	Model    string    `json:"model"`
	APIKey   string    `json:"api_key"`
	History  []Message `json:"history"`
	Query    string    `json:"query"`
	Stream   bool      `json:"stream"`
}

// SearchRequest is the body of a relay web search.
type SearchRequest struct {
	Query         string `json:"query"`
	APIKey        string `json:"api_key"`
	SearchDepth   string `json:"search_depth"`
	IncludeAnswer bool   `json:"include_answer"`
}

// SearchResult is one hit returned by the relay.
type SearchResult struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// SearchResponse is the relay's search answer. Context is ready-made
// markdown for prompt augmentation.
type SearchResponse struct {
	Query   string         `json:"query"`
	Results []SearchResult `json:"results"`
	Answer  string         `json:"answer,omitempty"`
	Context string         `json:"context"`
}

// RelayClient talks to the relay that fronts third-party providers for
// bring-your-own-key chat and proxies web search. It is safe for
// concurrent use.
type RelayClient struct {
	opts    Options
	clients httpClients
}

// NewRelayClient creates a relay client.
func NewRelayClient(opts Options) *RelayClient {
	opts.fillDefaults()
	return &RelayClient{opts: opts, clients: newHTTPClients(opts)}
}

// BaseURL returns the relay base URL.
func (c *RelayClient) BaseURL() string {
	return c.opts.BaseURL
}

// ChatStream posts req with stream:true. The body is raw UTF-8 text which
// is forwarded to onChunk as it decodes. It returns everything received;
// on cancellation that is the partial text together with ctx.Err().
func (c *RelayClient) ChatStream(ctx context.Context, req RelayChatRequest, onChunk func(string)) (string, error) {
	req.Stream = true
	if req.History == nil {
		req.History = []Message{}
	}

	resp, err := postJSON(ctx, c.clients.stream, c.opts.Offline, c.opts.BaseURL+"/api/chat", req, "")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	return streamText(ctx, resp.Body, onChunk)
}

// Chat posts req with stream:false and returns the reply text uncleaned.
func (c *RelayClient) Chat(ctx context.Context, req RelayChatRequest) (string, error) {
	req.Stream = false
	if req.History == nil {
		req.History = []Message{}
	}

	resp, err := postJSON(ctx, c.clients.request, c.opts.Offline, c.opts.BaseURL+"/api/chat", req, "application/json")
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

// Search runs a web search through the relay.
func (c *RelayClient) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	if req.SearchDepth == "" {
		req.SearchDepth = "basic"
	}

	resp, err := postJSON(ctx, c.clients.request, c.opts.Offline, c.opts.BaseURL+"/api/search", req, "application/json")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := readResponse(resp)
	if err != nil {
		return nil, err
	}

	var result SearchResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return &result, nil
}
