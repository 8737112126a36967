// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/pinac/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config is the complete pinac configuration.
type Config struct {
	// DataDir holds the master secret and credential entries.
	// Empty means the config directory (~/.pinac).
	DataDir string `toml:"data_dir" json:"data_dir"`

	// Offline blocks every non-loopback endpoint.
	Offline bool `toml:"offline" json:"offline"`

	Local       LocalConfig       `toml:"local" json:"local"`
	Managed     ManagedConfig     `toml:"managed" json:"managed"`
	Relay       RelayConfig       `toml:"relay" json:"relay"`
	Search      SearchConfig      `toml:"search" json:"search"`
	Credentials CredentialsConfig `toml:"credentials" json:"credentials"`
	Server      ServerConfig      `toml:"server" json:"server"`
	Timeouts    TimeoutConfig     `toml:"timeouts" json:"timeouts"`
	Log         LogConfig         `toml:"log" json:"log"`
}

// LocalConfig points at the local Ollama daemon.
type LocalConfig struct {
	OllamaURL    string `toml:"ollama_url" json:"ollama_url"`
	DefaultModel string `toml:"default_model" json:"default_model"`
}

// ManagedConfig points at the hosted chat backend.
type ManagedConfig struct {
	BaseURL      string `toml:"base_url" json:"base_url"`
	StreamPath   string `toml:"stream_path" json:"stream_path"`
	DefaultModel string `toml:"default_model" json:"default_model"`
}

// RelayConfig points at the relay that forwards BYOK requests and web
// searches to third-party APIs.
type RelayConfig struct {
	BaseURL string `toml:"base_url" json:"base_url"`
}

// SearchConfig selects the web search engine.
type SearchConfig struct {
	// Engine is one of "relay", "tavily", "duckduckgo".
	Engine string `toml:"engine" json:"engine"`
	// Endpoint overrides the engine's default URL. Mostly for tests and
	// self-hosted relays.
	Endpoint string `toml:"endpoint" json:"endpoint"`
	// RequestsPerMinute throttles outbound search calls (0 = unlimited).
	RequestsPerMinute int `toml:"requests_per_minute" json:"requests_per_minute"`
}

// CredentialsConfig selects how credential entries are stored.
type CredentialsConfig struct {
	// Backend is "file" (JSON map) or "sqlite".
	Backend string `toml:"backend" json:"backend"`
	// KDF is "scrypt" or "pbkdf2".
	KDF string `toml:"kdf" json:"kdf"`
}

// ServerConfig configures the loopback boundary server.
type ServerConfig struct {
	Addr              string   `toml:"addr" json:"addr"`
	AuthToken         string   `toml:"auth_token" json:"auth_token"`
	AllowedOrigins    []string `toml:"allowed_origins" json:"allowed_origins"`
	RequestsPerSecond float64  `toml:"requests_per_second" json:"requests_per_second"`
	Burst             int      `toml:"burst" json:"burst"`
}

// TimeoutConfig holds transport timeouts in seconds. Streaming requests
// are never given an overall deadline, only connect and header timeouts.
type TimeoutConfig struct {
	ConnectSecs        int `toml:"connect_secs" json:"connect_secs"`
	ResponseHeaderSecs int `toml:"response_header_secs" json:"response_header_secs"`
	RequestSecs        int `toml:"request_secs" json:"request_secs"`
}

// LogConfig controls log verbosity.
type LogConfig struct {
	Verbose bool `toml:"verbose" json:"verbose"`
}

// Connect returns the dial timeout.
func (t TimeoutConfig) Connect() time.Duration {
	return time.Duration(t.ConnectSecs) * time.Second
}

// ResponseHeader returns the time allowed for response headers.
func (t TimeoutConfig) ResponseHeader() time.Duration {
	return time.Duration(t.ResponseHeaderSecs) * time.Second
}

// Request returns the overall deadline for non-streaming requests.
func (t TimeoutConfig) Request() time.Duration {
	return time.Duration(t.RequestSecs) * time.Second
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Engine and backend names accepted by Validate.
const (
	EngineRelay      = "relay"
	EngineTavily     = "tavily"
	EngineDuckDuckGo = "duckduckgo"

	BackendFile   = "file"
	BackendSQLite = "sqlite"

	KDFScrypt = "scrypt"
	KDFPBKDF2 = "pbkdf2"
)

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Local: LocalConfig{
			OllamaURL: "http://localhost:11434",
		},
		Managed: ManagedConfig{
			BaseURL:      "http://localhost:8000",
			StreamPath:   "/api/chat/pinac-cloud/stream",
			DefaultModel: "Base Model",
		},
		Relay: RelayConfig{
			BaseURL: "http://localhost:8000",
		},
		Search: SearchConfig{
			Engine:            EngineRelay,
			RequestsPerMinute: 30,
		},
		Credentials: CredentialsConfig{
			Backend: BackendFile,
			KDF:     KDFScrypt,
		},
		Server: ServerConfig{
			Addr:              "127.0.0.1:8765",
			RequestsPerSecond: 20,
			Burst:             40,
		},
		Timeouts: TimeoutConfig{
			ConnectSecs:        10,
			ResponseHeaderSecs: 60,
			RequestSecs:        120,
		},
	}
}

// fillDefaults replaces zero values left by a partial config file.
func (c *Config) fillDefaults() {
	d := Default()
	if c.Local.OllamaURL == "" {
		c.Local.OllamaURL = d.Local.OllamaURL
	}
	if c.Managed.BaseURL == "" {
		c.Managed.BaseURL = d.Managed.BaseURL
	}
	if c.Managed.StreamPath == "" {
		c.Managed.StreamPath = d.Managed.StreamPath
	}
	if c.Managed.DefaultModel == "" {
		c.Managed.DefaultModel = d.Managed.DefaultModel
	}
	if c.Relay.BaseURL == "" {
		c.Relay.BaseURL = d.Relay.BaseURL
	}
	if c.Search.Engine == "" {
		c.Search.Engine = d.Search.Engine
	}
	if c.Credentials.Backend == "" {
		c.Credentials.Backend = d.Credentials.Backend
	}
	if c.Credentials.KDF == "" {
		c.Credentials.KDF = d.Credentials.KDF
	}
	if c.Server.Addr == "" {
		c.Server.Addr = d.Server.Addr
	}
	if c.Server.RequestsPerSecond == 0 {
		c.Server.RequestsPerSecond = d.Server.RequestsPerSecond
	}
	if c.Server.Burst == 0 {
		c.Server.Burst = d.Server.Burst
	}
	if c.Timeouts.ConnectSecs == 0 {
		c.Timeouts.ConnectSecs = d.Timeouts.ConnectSecs
	}
	if c.Timeouts.ResponseHeaderSecs == 0 {
		c.Timeouts.ResponseHeaderSecs = d.Timeouts.ResponseHeaderSecs
	}
	if c.Timeouts.RequestSecs == 0 {
		c.Timeouts.RequestSecs = d.Timeouts.RequestSecs
	}
	c.Search.Engine = strings.ToLower(strings.TrimSpace(c.Search.Engine))
	c.Credentials.Backend = strings.ToLower(strings.TrimSpace(c.Credentials.Backend))
	c.Credentials.KDF = strings.ToLower(strings.TrimSpace(c.Credentials.KDF))
}

// =============================================================================
// PATHS
// =============================================================================

// ConfigDir returns ~/.pinac.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".pinac"), nil
}

// DefaultPath returns ~/.pinac/config.toml.
func DefaultPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ResolvedDataDir returns DataDir, or the config directory when unset.
func (c *Config) ResolvedDataDir() (string, error) {
	if c.DataDir != "" {
		return c.DataDir, nil
	}
	return ConfigDir()
}

// ensureSecurePermissions tightens a config file to 0600.
// SECURITY: the file may hold the server auth token.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode != util.PrivateFilePerm {
		if err := os.Chmod(path, util.PrivateFilePerm); err != nil {
			return fmt.Errorf("fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD / SAVE
// =============================================================================

// Load reads the configuration at path. An empty path means DefaultPath.
// A ".json" path is decoded as JSON; anything else as TOML. When the TOML
// file is missing, a sibling config.json is tried before falling back to
// defaults. Environment overrides are applied last and the result is
// validated.
func Load(path string) (*Config, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	cfg := Default()
	candidates := []string{path}
	if !strings.HasSuffix(path, ".json") {
		candidates = append(candidates, strings.TrimSuffix(path, filepath.Ext(path))+".json")
	}

	for _, candidate := range candidates {
		if _, err := os.Stat(candidate); err != nil {
			continue
		}
		if err := decodeFile(cfg, candidate); err != nil {
			return nil, err
		}
		break
	}

	cfg.fillDefaults()
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func decodeFile(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		log.Printf("[config] warning: could not secure %s: %v", path, err)
	}

	if strings.HasSuffix(path, ".json") {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("decode %s: %w", path, err)
		}
		return nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// Save writes cfg to path as TOML with 0600 permissions.
// RELIABILITY: goes through an atomic rename so a crash never leaves a
// truncated config behind.
func Save(cfg *Config, path string) error {
	var buf bytes.Buffer
	buf.WriteString("# pinac configuration file\n")
	buf.WriteString("# Secrets do not belong here; use `pinac credential set`.\n\n")

	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, buf.Bytes(), util.PrivateFilePerm); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies PINAC_* environment variables.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("PINAC_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("PINAC_OFFLINE"); v != "" {
		c.Offline = parseBool(v)
	}
	if v := os.Getenv("PINAC_OLLAMA_URL"); v != "" {
		c.Local.OllamaURL = v
	}
	if v := os.Getenv("PINAC_MODEL"); v != "" {
		c.Local.DefaultModel = v
	}
	if v := os.Getenv("PINAC_BACKEND_URL"); v != "" {
		// One variable for both: they are the same service in a default
		// deployment.
		c.Managed.BaseURL = v
		c.Relay.BaseURL = v
	}
	if v := os.Getenv("PINAC_SEARCH_ENGINE"); v != "" {
		c.Search.Engine = strings.ToLower(v)
	}
	if v := os.Getenv("PINAC_CREDENTIAL_BACKEND"); v != "" {
		c.Credentials.Backend = strings.ToLower(v)
	}
	if v := os.Getenv("PINAC_SERVER_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("PINAC_SERVER_TOKEN"); v != "" {
		c.Server.AuthToken = v
	}
	if v := os.Getenv("PINAC_VERBOSE"); v != "" {
		c.Log.Verbose = parseBool(v)
	}
}

func parseBool(v string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	return err == nil && b
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError describes one invalid field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors collects every problem found by Validate.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// ErrInvalidConfig is matched by errors.Is for any Validate failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Is lets callers write errors.Is(err, config.ErrInvalidConfig).
func (e ValidationErrors) Is(target error) bool {
	return target == ErrInvalidConfig
}

// Validate checks every field and reports all problems at once.
func (c *Config) Validate() error {
	var errs ValidationErrors

	checkURL := func(field, raw string) {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf("invalid URL %q", raw)})
		}
	}
	checkURL("local.ollama_url", c.Local.OllamaURL)
	checkURL("managed.base_url", c.Managed.BaseURL)
	checkURL("relay.base_url", c.Relay.BaseURL)
	if c.Search.Endpoint != "" {
		checkURL("search.endpoint", c.Search.Endpoint)
	}

	if !strings.HasPrefix(c.Managed.StreamPath, "/") {
		errs = append(errs, ValidationError{Field: "managed.stream_path", Message: "must start with /"})
	}

	switch c.Search.Engine {
	case EngineRelay, EngineTavily, EngineDuckDuckGo:
	default:
		errs = append(errs, ValidationError{
			Field:   "search.engine",
			Message: fmt.Sprintf("unknown engine %q, must be one of: relay, tavily, duckduckgo", c.Search.Engine),
		})
	}
	if c.Search.RequestsPerMinute < 0 {
		errs = append(errs, ValidationError{Field: "search.requests_per_minute", Message: "must not be negative"})
	}

	switch c.Credentials.Backend {
	case BackendFile, BackendSQLite:
	default:
		errs = append(errs, ValidationError{
			Field:   "credentials.backend",
			Message: fmt.Sprintf("unknown backend %q, must be file or sqlite", c.Credentials.Backend),
		})
	}
	switch c.Credentials.KDF {
	case KDFScrypt, KDFPBKDF2:
	default:
		errs = append(errs, ValidationError{
			Field:   "credentials.kdf",
			Message: fmt.Sprintf("unknown kdf %q, must be scrypt or pbkdf2", c.Credentials.KDF),
		})
	}

	if c.Server.RequestsPerSecond < 0 || c.Server.Burst < 0 {
		errs = append(errs, ValidationError{Field: "server", Message: "rate limits must not be negative"})
	}
	if c.Timeouts.ConnectSecs < 0 || c.Timeouts.ResponseHeaderSecs < 0 || c.Timeouts.RequestSecs < 0 {
		errs = append(errs, ValidationError{Field: "timeouts", Message: "timeouts must not be negative"})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
