// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/jeranaias/pinac/internal/config"
	"github.com/jeranaias/pinac/internal/offline"
	"github.com/jeranaias/pinac/internal/provider"
	"github.com/jeranaias/pinac/internal/stream"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// MaxRequestBodySize bounds every JSON request body (1 MiB).
	MaxRequestBodySize = 1 << 20

	// MaxPromptLength is the maximum prompt length in runes.
	MaxPromptLength = 100000

	// MaxMessageCount is the maximum number of history messages.
	MaxMessageCount = 500

	// DefaultKeepAlive is the interval between SSE comment pings.
	DefaultKeepAlive = 15 * time.Second

	// healthProbeTimeout bounds the local backend probe in /health.
	healthProbeTimeout = 2 * time.Second

	// Version is the API version reported by /health.
	Version = "0.1.0"
)

// validRoles defines the set of acceptable message roles.
// SECURITY: prevents role injection through client-supplied history.
var validRoles = map[string]bool{
	provider.RoleUser:      true,
	provider.RoleAssistant: true,
	provider.RoleSystem:    true,
}

// ============================================================================
// SERVER
// ============================================================================

// HealthChecker reports whether the local backend answers.
// *provider.Local implements it.
type HealthChecker interface {
	IsAvailable(ctx context.Context) bool
}

// Option configures a Server.
type Option func(*Server)

// WithHealthChecker sets the local backend probe used by /health.
func WithHealthChecker(h HealthChecker) Option {
	return func(s *Server) { s.health = h }
}

// WithOfflinePolicy reports the offline state on /health.
func WithOfflinePolicy(p *offline.Policy) Option {
	return func(s *Server) { s.policy = p }
}

// WithKeepAlive overrides the SSE ping interval.
func WithKeepAlive(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.keepAlive = d
		}
	}
}

// Server exposes a stream.Service over loopback HTTP.
type Server struct {
	cfg       config.ServerConfig
	svc       *stream.Service
	hub       *Hub
	health    HealthChecker
	policy    *offline.Policy
	keepAlive time.Duration

	limiter *RateLimiter
	handler http.Handler

	mu     sync.Mutex
	server *http.Server
}

// New builds the router and middleware chain. hub must be the Sink the
// service's manager publishes into.
func New(cfg config.ServerConfig, svc *stream.Service, hub *Hub, opts ...Option) *Server {
	s := &Server{
		cfg:       cfg,
		svc:       svc,
		hub:       hub,
		keepAlive: DefaultKeepAlive,
	}
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chat/stream", s.handleChatStream)
	mux.HandleFunc("POST /api/chat/stop", s.handleChatStop)
	mux.HandleFunc("GET /api/events", s.handleEvents)
	mux.HandleFunc("GET /api/models", s.handleModels)
	mux.HandleFunc("GET /api/settings/provider", s.handleGetProvider)
	mux.HandleFunc("PUT /api/settings/provider", s.handlePutProvider)
	mux.HandleFunc("PUT /api/settings/search-key", s.handlePutSearchKey)
	mux.HandleFunc("POST /api/logout", s.handleLogout)
	mux.HandleFunc("GET /health", s.handleHealth)

	cors := DefaultCORSConfig()
	if len(cfg.AllowedOrigins) > 0 {
		cors.AllowedOrigins = cfg.AllowedOrigins
	}

	rps, burst := cfg.RequestsPerSecond, cfg.Burst
	if rps <= 0 {
		rps = config.Default().Server.RequestsPerSecond
	}
	if burst <= 0 {
		burst = config.Default().Server.Burst
	}
	s.limiter = NewRateLimiter(rps, burst)

	s.handler = Chain(
		RecoveryMiddleware(),
		SecurityHeadersMiddleware(),
		LoggingMiddleware(log.Default()),
		CORSMiddleware(cors),
		RateLimitMiddleware(s.limiter),
		AuthMiddleware(cfg.AuthToken),
	)(mux)

	return s
}

// Handler returns the complete HTTP handler including middleware.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ============================================================================
// SERVER LIFECYCLE
// ============================================================================

// ListenAndServe binds cfg.Addr and serves until Shutdown.
func (s *Server) ListenAndServe() error {
	addr := s.cfg.Addr
	if addr == "" {
		addr = config.Default().Server.Addr
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return s.Serve(ln)
}

// Serve serves on ln until Shutdown. It returns nil after a graceful
// shutdown.
func (s *Server) Serve(ln net.Listener) error {
	// RELIABILITY: no WriteTimeout, the event stream is long-lived.
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	s.mu.Lock()
	s.server = srv
	s.mu.Unlock()

	log.Printf("[server] listening on %s (version %s)", ln.Addr(), Version)
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections, disconnects event listeners and
// waits for in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.limiter.Close()
	s.hub.Close()

	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	log.Printf("[server] shutting down")
	return srv.Shutdown(ctx)
}

// ============================================================================
// CHAT
// ============================================================================

// StartResponse answers POST /api/chat/stream.
type StartResponse struct {
	SessionID string `json:"session_id"`
}

// StopResponse answers POST /api/chat/stop.
type StopResponse struct {
	Stopped bool `json:"stopped"`
}

// handleChatStream handles POST /api/chat/stream. Output arrives on
// /api/events; the response only carries the new session id.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	var req provider.Request
	if !s.decode(w, r, &req) {
		return
	}
	if err := validateRequest(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id := s.svc.StartChatStream(req)
	if id == "" {
		writeError(w, http.StatusServiceUnavailable, "session manager is closed")
		return
	}
	writeJSON(w, http.StatusAccepted, StartResponse{SessionID: id})
}

// handleChatStop handles POST /api/chat/stop.
func (s *Server) handleChatStop(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StopResponse{Stopped: s.svc.StopChatStream()})
}

// validateRequest rejects requests the adapters should never see. Provider
// and model problems are reported through the event stream instead.
func validateRequest(req provider.Request) error {
	if utf8.RuneCountInString(req.Prompt) > MaxPromptLength {
		return fmt.Errorf("prompt exceeds %d characters", MaxPromptLength)
	}
	if len(req.History) > MaxMessageCount {
		return fmt.Errorf("history exceeds %d messages", MaxMessageCount)
	}
	for i, msg := range req.History {
		if !validRoles[msg.Role] {
			return fmt.Errorf("invalid role %q in message %d", msg.Role, i)
		}
	}
	return nil
}

// ============================================================================
// EVENTS
// ============================================================================

// handleEvents handles GET /api/events: a server-sent event stream of
// every session event, one `event:` line per type with a JSON payload.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)

	events, unsubscribe := s.hub.Subscribe()
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if _, err := io.WriteString(w, ": connected\n\n"); err != nil {
		return
	}
	if err := rc.Flush(); err != nil {
		log.Printf("[server] event stream unsupported: %v", err)
		return
	}

	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if err := writeEvent(w, e); err != nil {
				return
			}
		case <-ticker.C:
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

// writeEvent writes e in SSE framing.
func writeEvent(w io.Writer, e stream.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Type, payload)
	return err
}

// ============================================================================
// MODELS & SETTINGS
// ============================================================================

// handleModels handles GET /api/models. An unreachable backend yields [].
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.ListLocalModels(r.Context()))
}

// handleGetProvider handles GET /api/settings/provider.
func (s *Server) handleGetProvider(w http.ResponseWriter, r *http.Request) {
	cfg := s.svc.GetProviderCredential()
	if cfg == nil {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// handlePutProvider handles PUT /api/settings/provider.
func (s *Server) handlePutProvider(w http.ResponseWriter, r *http.Request) {
	var cfg map[string]any
	if !s.decode(w, r, &cfg) {
		return
	}
	if cfg == nil {
		writeError(w, http.StatusBadRequest, "provider configuration must be a JSON object")
		return
	}

	res := s.svc.SaveProviderCredential(cfg)
	status := http.StatusOK
	if !res.Success {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, res)
}

// SearchKeyRequest is the body of PUT /api/settings/search-key.
type SearchKeyRequest struct {
	APIKey string `json:"api_key"`
}

// handlePutSearchKey handles PUT /api/settings/search-key.
func (s *Server) handlePutSearchKey(w http.ResponseWriter, r *http.Request) {
	var req SearchKeyRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.svc.SaveSearchKey(req.APIKey); err != nil {
		if errors.Is(err, stream.ErrEmptyKey) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		log.Printf("[server] save search key: %v", err)
		writeError(w, http.StatusInternalServerError, "could not store search key")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleLogout handles POST /api/logout.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, stream.CredentialResult{Success: s.svc.Logout()})
}

// ============================================================================
// HEALTH
// ============================================================================

// HealthResponse answers GET /health.
type HealthResponse struct {
	Status       string `json:"status"`
	Version      string `json:"version"`
	OllamaStatus string `json:"ollama_status"`
	Offline      bool   `json:"offline"`
	Session      string `json:"session"`
}

// handleHealth handles GET /health. The process is alive whenever this
// answers; a missing local backend only degrades the status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := HealthResponse{
		Status:  "ok",
		Version: Version,
		Offline: s.policy.Enabled(),
		Session: s.svc.Manager().State().String(),
	}

	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthProbeTimeout)
		defer cancel()

		if s.health.IsAvailable(ctx) {
			health.OllamaStatus = "ok"
		} else {
			health.OllamaStatus = "unavailable"
			health.Status = "degraded"
		}
	} else {
		health.OllamaStatus = "not_configured"
	}

	writeJSON(w, http.StatusOK, health)
}

// ============================================================================
// HELPERS
// ============================================================================

// decode reads a JSON body into v, writing the error response itself.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	// SECURITY: bound the body before the decoder sees it.
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// errorResponse is the JSON shape of every error.
type errorResponse struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[server] encode response: %v", err)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: errorDetail{Message: message, Code: status}})
}
