// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package websearch

import (
	"context"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/jeranaias/pinac/internal/offline"
	"github.com/jeranaias/pinac/internal/util"
)

// =============================================================================
// PERFORMANCE: Pre-compiled regex (compiled once at startup)
// =============================================================================

var (
	ddgTitleRegex   = regexp.MustCompile(`(?s)<a[^>]+class="result__a"[^>]+href="([^"]+)"[^>]*>(.+?)</a>`)
	ddgSnippetRegex = regexp.MustCompile(`(?s)<a[^>]+class="result__snippet"[^>]*>(.+?)</a>`)

	ddgTagRegex        = regexp.MustCompile(`<[^>]*>`)
	ddgWhitespaceRegex = regexp.MustCompile(`\s+`)
)

// =============================================================================
// DUCKDUCKGO ENGINE
// =============================================================================

const (
	// DuckDuckGoURL is the HTML (no JavaScript) search endpoint.
	DuckDuckGoURL = "https://html.duckduckgo.com/html/"

	ddgUserAgent    = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	ddgMaxBody      = 5 * 1024 * 1024
	ddgMaxResults   = 5
	ddgSnippetRunes = 300
)

// DuckDuckGoEngine scrapes DuckDuckGo's HTML results page. It needs no
// API key, which makes it the fallback for users without a Tavily key.
type DuckDuckGoEngine struct {
	baseURL    string
	maxResults int
	client     *http.Client
	offline    *offline.Policy
}

// NewDuckDuckGoEngine creates a keyless engine. An empty baseURL means
// DuckDuckGoURL.
func NewDuckDuckGoEngine(baseURL string, timeout time.Duration, policy *offline.Policy) *DuckDuckGoEngine {
	if baseURL == "" {
		baseURL = DuckDuckGoURL
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &DuckDuckGoEngine{
		baseURL:    baseURL,
		maxResults: ddgMaxResults,
		client:     newHTTPClient(timeout),
		offline:    policy,
	}
}

// Name implements Engine.
func (e *DuckDuckGoEngine) Name() string { return KindDuckDuckGo }

// NeedsKey implements Engine.
func (e *DuckDuckGoEngine) NeedsKey() bool { return false }

// Search implements Engine. apiKey is ignored.
func (e *DuckDuckGoEngine) Search(ctx context.Context, query, _ string) (string, error) {
	if err := e.offline.CheckURL(e.baseURL); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"?q="+url.QueryEscape(query), nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	// Go's transport negotiates gzip itself; setting Accept-Encoding here
	// would disable transparent decompression.
	req.Header.Set("User-Agent", ddgUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := e.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", &SearchError{Status: http.StatusServiceUnavailable, Message: "Failed to connect to DuckDuckGo."}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &SearchError{Status: resp.StatusCode, Message: "DuckDuckGo returned " + resp.Status}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, ddgMaxBody))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	results := parseDuckDuckGo(string(body), e.maxResults)
	return FormatContext(query, "", results), nil
}

// parseDuckDuckGo extracts up to limit results from a results page.
//
// Result markup (2024+):
//
//	<a rel="nofollow" class="result__a" href="//duckduckgo.com/l/?uddg=URL">Title</a>
//	<a class="result__snippet" href="...">Snippet text</a>
func parseDuckDuckGo(page string, limit int) []Hit {
	titles := ddgTitleRegex.FindAllStringSubmatch(page, 30)
	snippets := ddgSnippetRegex.FindAllStringSubmatch(page, 30)

	var hits []Hit
	for i, match := range titles {
		if len(match) < 3 {
			continue
		}

		link := extractActualURL(strings.ReplaceAll(match[1], "&amp;", "&"))
		title := cleanHTML(match[2])
		if link == "" || title == "" {
			continue
		}

		snippet := ""
		if i < len(snippets) && len(snippets[i]) >= 2 {
			// UNICODE: Rune-aware truncation preserves multi-byte characters
			snippet = util.TruncateRunes(cleanHTML(snippets[i][1]), ddgSnippetRunes)
		}

		hits = append(hits, Hit{Title: title, URL: link, Content: snippet})
		if len(hits) >= limit {
			break
		}
	}
	return hits
}

// extractActualURL unwraps DuckDuckGo's //duckduckgo.com/l/?uddg=... redirect.
func extractActualURL(ddgURL string) string {
	if strings.Contains(ddgURL, "uddg=") {
		if strings.HasPrefix(ddgURL, "//") {
			ddgURL = "https:" + ddgURL
		}
		parsed, err := url.Parse(ddgURL)
		if err != nil {
			return ""
		}
		if target := parsed.Query().Get("uddg"); target != "" {
			return target
		}
	}

	if strings.HasPrefix(ddgURL, "http://") || strings.HasPrefix(ddgURL, "https://") {
		return ddgURL
	}
	return ""
}

// cleanHTML strips tags, decodes entities and collapses whitespace.
func cleanHTML(fragment string) string {
	text := ddgTagRegex.ReplaceAllString(fragment, "")
	text = html.UnescapeString(text)
	text = ddgWhitespaceRegex.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}
