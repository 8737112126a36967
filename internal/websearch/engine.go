// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package websearch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/jeranaias/pinac/internal/cloud"
	"github.com/jeranaias/pinac/internal/offline"
)

// =============================================================================
// ENGINE INTERFACE
// =============================================================================

// Engine names accepted by NewEngine.
const (
	KindRelay      = "relay"
	KindTavily     = "tavily"
	KindDuckDuckGo = "duckduckgo"
)

// Engine runs one web search and returns a markdown context block.
type Engine interface {
	Name() string
	// NeedsKey reports whether Search requires the stored search API key.
	NeedsKey() bool
	Search(ctx context.Context, query, apiKey string) (string, error)
}

// EngineOptions configures NewEngine.
type EngineOptions struct {
	// Kind is one of KindRelay, KindTavily or KindDuckDuckGo.
	Kind string

	// Relay is required for KindRelay.
	Relay *cloud.RelayClient

	// Endpoint overrides the direct engines' default URL.
	Endpoint string

	// Timeout bounds one direct search call (default 30s).
	Timeout time.Duration

	// RequestsPerMinute throttles Search calls; 0 disables throttling.
	RequestsPerMinute int

	// Offline restricts the direct engines to loopback hosts.
	Offline *offline.Policy
}

// NewEngine builds the engine selected by opts.Kind.
func NewEngine(opts EngineOptions) (Engine, error) {
	var engine Engine
	switch strings.ToLower(strings.TrimSpace(opts.Kind)) {
	case KindRelay, "":
		if opts.Relay == nil {
			return nil, errors.New("relay search engine requires a relay client")
		}
		engine = NewRelayEngine(opts.Relay)
	case KindTavily:
		engine = NewTavilyEngine(opts.Endpoint, opts.Timeout, opts.Offline)
	case KindDuckDuckGo:
		engine = NewDuckDuckGoEngine(opts.Endpoint, opts.Timeout, opts.Offline)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEngine, opts.Kind)
	}
	return Throttle(engine, opts.RequestsPerMinute), nil
}

// newHTTPClient returns the client used by the direct engines.
func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{
		Timeout: timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 5 {
				return errors.New("too many redirects")
			}
			return nil
		},
	}
}

// =============================================================================
// RESULT FORMATTING
// =============================================================================

// Hit is one search result.
type Hit struct {
	Title   string
	URL     string
	Content string
}

// FormatContext renders hits as the markdown block handed to the model.
func FormatContext(query, answer string, hits []Hit) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Search Results for '%s'\n\n", query)
	if answer != "" {
		fmt.Fprintf(&b, "## Answer\n%s\n\n", answer)
	}
	b.WriteString("## Sources\n")
	for _, h := range hits {
		title, link := h.Title, h.URL
		if title == "" {
			title = "No Title"
		}
		if link == "" {
			link = "#"
		}
		fmt.Fprintf(&b, "### [%s](%s)\n%s\n\n", title, link, h.Content)
	}
	return b.String()
}

// =============================================================================
// RELAY ENGINE
// =============================================================================

// RelayEngine searches through the pinac relay, which holds no key of its
// own and forwards the user's.
type RelayEngine struct {
	relay *cloud.RelayClient
}

// NewRelayEngine wraps relay.
func NewRelayEngine(relay *cloud.RelayClient) *RelayEngine {
	return &RelayEngine{relay: relay}
}

// Name implements Engine.
func (e *RelayEngine) Name() string { return KindRelay }

// NeedsKey implements Engine.
func (e *RelayEngine) NeedsKey() bool { return true }

// Search implements Engine.
func (e *RelayEngine) Search(ctx context.Context, query, apiKey string) (string, error) {
	resp, err := e.relay.Search(ctx, cloud.SearchRequest{
		Query:         query,
		APIKey:        apiKey,
		SearchDepth:   "basic",
		IncludeAnswer: true,
	})
	if err != nil {
		var be *cloud.BackendError
		if errors.As(err, &be) {
			return "", &SearchError{Status: be.Status, Message: be.Message}
		}
		return "", err
	}

	if resp.Context != "" {
		return resp.Context, nil
	}
	hits := make([]Hit, len(resp.Results))
	for i, r := range resp.Results {
		hits[i] = Hit{Title: r.Title, URL: r.URL, Content: r.Content}
	}
	return FormatContext(query, resp.Answer, hits), nil
}

// =============================================================================
// TAVILY ENGINE
// =============================================================================

// TavilyURL is the Tavily search endpoint.
const TavilyURL = "https://api.tavily.com/search"

// Messages reported for Tavily failures.
const (
	MsgTavilyBadKey      = "Incorrect Tavily API Key provided. Please check your key and try again."
	MsgTavilyRateLimited = "Tavily API rate limit exceeded. Please try again later or check your quota."
	MsgTavilyUnreachable = "Failed to connect to Tavily search service."
)

// TavilyEngine calls the Tavily API directly with the user's key.
type TavilyEngine struct {
	endpoint string
	client   *http.Client
	offline  *offline.Policy
}

// NewTavilyEngine creates a direct Tavily engine. An empty endpoint means
// TavilyURL.
func NewTavilyEngine(endpoint string, timeout time.Duration, policy *offline.Policy) *TavilyEngine {
	if endpoint == "" {
		endpoint = TavilyURL
	}
	return &TavilyEngine{endpoint: endpoint, client: newHTTPClient(timeout), offline: policy}
}

// Name implements Engine.
func (e *TavilyEngine) Name() string { return KindTavily }

// NeedsKey implements Engine.
func (e *TavilyEngine) NeedsKey() bool { return true }

type tavilyRequest struct {
	APIKey        string `json:"api_key"`
	Query         string `json:"query"`
	SearchDepth   string `json:"search_depth"`
	IncludeAnswer bool   `json:"include_answer"`
}

type tavilyResponse struct {
	Answer  string `json:"answer"`
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Content string `json:"content"`
	} `json:"results"`
}

// Search implements Engine.
func (e *TavilyEngine) Search(ctx context.Context, query, apiKey string) (string, error) {
	if err := e.offline.CheckURL(e.endpoint); err != nil {
		return "", err
	}

	payload, err := json.Marshal(tavilyRequest{
		APIKey:        apiKey,
		Query:         query,
		SearchDepth:   "basic",
		IncludeAnswer: true,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		log.Printf("[websearch] tavily connection error: %v", err)
		return "", &SearchError{Status: http.StatusServiceUnavailable, Message: MsgTavilyUnreachable}
	}
	defer resp.Body.Close()

	// SECURITY: Response size limit prevents memory exhaustion attacks.
	body, err := io.ReadAll(io.LimitReader(resp.Body, cloud.MaxResponseSize))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", &SearchError{Status: http.StatusUnauthorized, Message: MsgTavilyBadKey}
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", &SearchError{Status: http.StatusTooManyRequests, Message: MsgTavilyRateLimited}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return "", &SearchError{
			Status:  resp.StatusCode,
			Message: "Tavily Search failed: " + strings.TrimSpace(string(body)),
		}
	}

	var data tavilyResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return "", &SearchError{Status: http.StatusBadGateway, Message: "invalid response from Tavily"}
	}

	hits := make([]Hit, len(data.Results))
	for i, r := range data.Results {
		hits[i] = Hit{Title: r.Title, URL: r.URL, Content: r.Content}
	}
	return FormatContext(query, data.Answer, hits), nil
}

// =============================================================================
// THROTTLING
// =============================================================================

// Throttle limits e to perMinute searches per minute. A non-positive rate
// returns e unchanged.
func Throttle(e Engine, perMinute int) Engine {
	if perMinute <= 0 {
		return e
	}
	burst := perMinute / 10
	if burst < 1 {
		burst = 1
	}
	return &throttled{
		Engine:  e,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), burst),
	}
}

type throttled struct {
	Engine
	limiter *rate.Limiter
}

// Search waits for a token before delegating. A wait that could never
// finish inside ctx's deadline is reported as a rate limit failure.
func (t *throttled) Search(ctx context.Context, query, apiKey string) (string, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", &SearchError{Status: http.StatusTooManyRequests, Message: "search rate limit exceeded"}
	}
	return t.Engine.Search(ctx, query, apiKey)
}
