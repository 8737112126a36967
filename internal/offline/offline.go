// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package offline

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync/atomic"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrOffline is returned when a non-loopback endpoint is dialed while
	// offline mode is on.
	ErrOffline = errors.New("offline mode: only localhost endpoints are allowed")

	// ErrInvalidURLScheme is returned for anything other than http or https.
	ErrInvalidURLScheme = errors.New("only http and https URLs are allowed")

	// ErrInvalidURL is returned when an endpoint cannot be parsed.
	ErrInvalidURL = errors.New("invalid endpoint URL")
)

// =============================================================================
// POLICY
// =============================================================================

// Policy decides whether outbound requests may leave the machine. A nil
// *Policy behaves as online mode.
type Policy struct {
	enabled atomic.Bool
}

// NewPolicy returns a policy with offline mode set to enabled.
func NewPolicy(enabled bool) *Policy {
	p := &Policy{}
	p.enabled.Store(enabled)
	return p
}

// Enabled reports whether offline mode is on.
func (p *Policy) Enabled() bool {
	if p == nil {
		return false
	}
	return p.enabled.Load()
}

// SetEnabled toggles offline mode. Safe for concurrent use.
func (p *Policy) SetEnabled(enabled bool) {
	if p == nil {
		return
	}
	p.enabled.Store(enabled)
}

// CheckURL validates an endpoint before it is dialed.
//
// SECURITY: the scheme check runs regardless of mode so file:// and friends
// never reach the HTTP client. The loopback restriction only applies
// while offline.
func (p *Policy) CheckURL(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return ErrInvalidURLScheme
	}

	if p.Enabled() && !IsLocalhost(parsed.Hostname()) {
		return fmt.Errorf("%w (blocked %s)", ErrOffline, parsed.Hostname())
	}
	return nil
}

// IsLocalhost reports whether host refers to the loopback interface. Ports
// and IPv6 brackets are tolerated.
func IsLocalhost(host string) bool {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.ToLower(strings.Trim(host, "[]"))

	if host == "localhost" {
		return true
	}
	// Covers all of 127.0.0.0/8 and every spelling of ::1.
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return false
}

// StatusBadge returns "[OFFLINE]" while offline mode is on.
func (p *Policy) StatusBadge() string {
	if p.Enabled() {
		return "[OFFLINE]"
	}
	return ""
}
