// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/jeranaias/pinac/internal/offline"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// DefaultBaseURL is the pinac backend on a developer machine.
	DefaultBaseURL = "http://localhost:8000"

	// DefaultStreamPath is the managed streaming endpoint.
	DefaultStreamPath = "/api/chat/pinac-cloud/stream"

	// MaxResponseSize is the maximum allowed non-streaming response body.
	// SECURITY: Response size limit prevents memory exhaustion attacks.
	MaxResponseSize = 10 * 1024 * 1024

	// maxErrorBody caps how much of an error response is read.
	maxErrorBody = 64 * 1024
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrEmptyResponse means a non-streaming call returned no usable text.
	ErrEmptyResponse = errors.New("backend returned empty response")

	// ErrInvalidResponse means a non-streaming body had none of the
	// expected fields.
	ErrInvalidResponse = errors.New("invalid response format from backend")
)

// BackendError is a non-2xx answer from a remote backend.
type BackendError struct {
	Status  int
	Message string
}

// Error implements the error interface.
func (e *BackendError) Error() string {
	return fmt.Sprintf("backend error (HTTP %d): %s", e.Status, e.Message)
}

// IsBackendError reports whether err is or wraps a *BackendError.
func IsBackendError(err error) bool {
	var be *BackendError
	return errors.As(err, &be)
}

// StreamError is a failure reported inside an otherwise healthy stream.
type StreamError struct {
	Message string
}

// Error implements the error interface.
func (e *StreamError) Error() string {
	return e.Message
}

// =============================================================================
// HTTP CLIENTS
// =============================================================================

// Options configures the transports shared by ManagedClient and
// RelayClient.
type Options struct {
	// BaseURL of the backend, without trailing slash.
	BaseURL string

	// ConnectTimeout bounds dialing and the TLS handshake (default 10s).
	ConnectTimeout time.Duration

	// ResponseHeaderTimeout bounds the wait for response headers (default 60s).
	ResponseHeaderTimeout time.Duration

	// RequestTimeout bounds a whole non-streaming call (default 120s).
	RequestTimeout time.Duration

	// Offline, when enabled, restricts requests to loopback hosts.
	Offline *offline.Policy
}

func (o *Options) fillDefaults() {
	if o.BaseURL == "" {
		o.BaseURL = DefaultBaseURL
	}
	o.BaseURL = strings.TrimRight(o.BaseURL, "/")
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 10 * time.Second
	}
	if o.ResponseHeaderTimeout <= 0 {
		o.ResponseHeaderTimeout = 60 * time.Second
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 120 * time.Second
	}
}

// httpClients holds the pair every remote client needs.
type httpClients struct {
	// PERFORMANCE: both clients share one pooled transport.
	request *http.Client
	// stream has no overall timeout; cancellation comes from ctx.
	stream *http.Client
}

func newHTTPClients(o Options) httpClients {
	// SECURITY: TLS 1.2+ with certificate verification.
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   o.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   o.ConnectTimeout,
		ResponseHeaderTimeout: o.ResponseHeaderTimeout,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	}
	return httpClients{
		request: &http.Client{Transport: transport, Timeout: o.RequestTimeout},
		stream:  &http.Client{Transport: transport},
	}
}

// postJSON sends body to url and returns the response when it is 2xx.
// Non-2xx answers are turned into *BackendError and the body is closed.
func postJSON(ctx context.Context, hc *http.Client, policy *offline.Policy, url string, body any, accept string) (*http.Response, error) {
	if err := policy.CheckURL(url); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	start := time.Now()
	resp, err := hc.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("request to %s failed: %w", req.URL.Redacted(), err)
	}
	log.Printf("[cloud] POST %s -> %d (%v)", req.URL.Path, resp.StatusCode, time.Since(start).Round(time.Millisecond))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, handleErrorResponse(resp.StatusCode, raw)
	}
	return resp, nil
}

// readResponse reads a non-streaming body with a size limit.
//
// SECURITY: Response size limit prevents memory exhaustion attacks.
func readResponse(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if len(body) > MaxResponseSize {
		return nil, fmt.Errorf("response exceeded maximum size of %d bytes", MaxResponseSize)
	}
	return body, nil
}

// handleErrorResponse converts an HTTP error body to a *BackendError,
// preferring the detail, message, error_msg or error JSON fields over the
// raw text.
func handleErrorResponse(status int, body []byte) error {
	msg := errorMessage(body)
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &BackendError{Status: status, Message: msg}
}

func errorMessage(body []byte) string {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return ""
	}
	for _, key := range []string{"detail", "message", "error_msg", "error"} {
		raw, ok := fields[key]
		if !ok {
			continue
		}
		var s string
		if json.Unmarshal(raw, &s) == nil && s != "" {
			return s
		}
		// FastAPI nests structured details: {"detail": {"message": "..."}}.
		if nested := errorMessage(raw); nested != "" {
			return nested
		}
	}
	return ""
}

// extractText pulls the reply out of a non-streaming body, which may be a
// bare JSON string or an object carrying response, content or message.
func extractText(body []byte) (string, error) {
	var s string
	if json.Unmarshal(body, &s) == nil {
		return s, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	for _, key := range []string{"response", "content", "message"} {
		raw, ok := fields[key]
		if !ok || string(raw) == "null" {
			continue
		}
		if json.Unmarshal(raw, &s) == nil {
			return s, nil
		}
		// Numbers and other scalars are stringified as is.
		return strings.TrimSpace(string(raw)), nil
	}
	return "", ErrInvalidResponse
}
