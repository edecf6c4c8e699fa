// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/jeranaias/streamchat/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete streamchat configuration.
type Config struct {
	// Version of the configuration schema.
	Version string `toml:"version" json:"version"`

	// Service contains chat service endpoint settings.
	Service ServiceConfig `toml:"service" json:"service"`

	// Session contains streaming session behavior settings.
	Session SessionConfig `toml:"session" json:"session"`

	// Store contains credential persistence settings.
	Store StoreConfig `toml:"store" json:"store"`
}

// ServiceConfig contains chat service endpoint configuration.
type ServiceConfig struct {
	// BaseURL is the chat service endpoint.
	BaseURL string `toml:"base_url" json:"base_url"`
	// RequestTimeoutSecs bounds non-streaming requests such as
	// authentication. Streaming transfers are bounded by the session
	// turn timeout instead.
	RequestTimeoutSecs int `toml:"request_timeout_secs" json:"request_timeout_secs"`
	// UserAgent overrides the default User-Agent header when non-empty.
	UserAgent string `toml:"user_agent" json:"user_agent"`
}

// SessionConfig contains streaming session configuration.
type SessionConfig struct {
	// TurnTimeoutSecs caps a single streaming turn from open to completion.
	// A turn that exceeds the cap fails with a timeout message.
	TurnTimeoutSecs int `toml:"turn_timeout_secs" json:"turn_timeout_secs"`
	// HistoryLimit is the maximum number of messages retained per
	// conversation. Older messages are pruned once the limit is reached.
	HistoryLimit int `toml:"history_limit" json:"history_limit"`
}

// StoreConfig contains credential store configuration.
type StoreConfig struct {
	// Backend selects the credential store: "memory", "file",
	// "file-encrypted", or "sqlite".
	Backend string `toml:"backend" json:"backend"`
	// Path is the backing file for the file and sqlite backends
	// (empty = default under the config directory).
	Path string `toml:"path" json:"path"`
	// KeyPath is the key file for the encrypted backend
	// (empty = default under the config directory).
	KeyPath string `toml:"key_path" json:"key_path"`
	// Watch reloads credentials when another process rewrites the store
	// file. Only the file backends support watching.
	Watch bool `toml:"watch" json:"watch"`
}

// Credential store backends.
const (
	BackendMemory    = "memory"
	BackendFile      = "file"
	BackendEncrypted = "file-encrypted"
	BackendSQLite    = "sqlite"
)

// =============================================================================
// DEFAULT CONFIGURATION
// =============================================================================

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Version: "1.0.0",

		Service: ServiceConfig{
			BaseURL:            "https://api.streamchat.dev/v1",
			RequestTimeoutSecs: 30,
		},

		Session: SessionConfig{
			TurnTimeoutSecs: 300,
			HistoryLimit:    1000,
		},

		Store: StoreConfig{
			Backend: BackendFile,
			Watch:   false,
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the streamchat configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".streamchat"), nil
}

// ConfigPathTOML returns the path to the TOML config file.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ConfigPathJSON returns the path to the JSON config file.
func ConfigPathJSON() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// EnsureConfigDir ensures the config directory exists.
// SECURITY: The directory defaults to 0700 because credential store files
// land here.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0700)
}

// ensureSecurePermissions checks and fixes permissions on config files.
// SECURITY: Config files should be 0600 (owner read/write only).
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	mode := info.Mode().Perm()
	if mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}

	return nil
}

// StorePath returns the credential store path, defaulting into the config
// directory by backend when unset.
func (c *Config) StorePath() (string, error) {
	if c.Store.Path != "" {
		return c.Store.Path, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	if c.Store.Backend == BackendSQLite {
		return filepath.Join(dir, "credentials.db"), nil
	}
	return filepath.Join(dir, "credentials.json"), nil
}

// StoreKeyPath returns the key file path for the encrypted backend,
// defaulting into the config directory when unset.
func (c *Config) StoreKeyPath() (string, error) {
	if c.Store.KeyPath != "" {
		return c.Store.KeyPath, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "credentials.key"), nil
}

// RequestTimeout returns the non-streaming request timeout as a duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Service.RequestTimeoutSecs) * time.Second
}

// TurnTimeout returns the cap on a single streaming turn as a duration.
func (c *Config) TurnTimeout() time.Duration {
	return time.Duration(c.Session.TurnTimeoutSecs) * time.Second
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads configuration from the config file(s).
// Tries TOML first, then JSON, and falls back to defaults.
// Environment overrides are applied last.
func Load() (*Config, error) {
	loadEnvFile()

	cfg := Default()
	var loadErr error

	// Try TOML first
	tomlPath, err := ConfigPathTOML()
	if err == nil {
		if _, statErr := os.Stat(tomlPath); statErr == nil {
			if err := LoadTOML(cfg, tomlPath); err != nil {
				loadErr = fmt.Errorf("failed to load TOML config: %w", err)
			} else {
				return finishLoad(cfg)
			}
		}
	}

	// Try JSON as fallback
	jsonPath, err := ConfigPathJSON()
	if err == nil {
		if _, statErr := os.Stat(jsonPath); statErr == nil {
			if err := LoadJSON(cfg, jsonPath); err != nil {
				loadErr = fmt.Errorf("failed to load JSON config: %w", err)
			} else {
				return finishLoad(cfg)
			}
		}
	}

	// Fall back to defaults (with any load error for informational purposes)
	cfg, err = finishLoad(cfg)
	if err != nil {
		return nil, err
	}
	return cfg, loadErr
}

// LoadTOML loads configuration from a TOML file.
// SECURITY: Checks and fixes file permissions on load.
func LoadTOML(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		// Permissions might not be fixable on all systems; warn and continue.
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	return nil
}

// LoadJSON loads configuration from a JSON file.
// SECURITY: Checks and fixes file permissions on load.
func LoadJSON(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read JSON file: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to decode JSON file: %w", err)
	}
	return nil
}

// LoadFromPath loads configuration from a specific file path with full
// validation. The format is chosen by file extension; TOML is the default.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	if strings.HasSuffix(path, ".json") {
		if err := LoadJSON(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load JSON config from %s: %w", path, err)
		}
	} else {
		if err := LoadTOML(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load TOML config from %s: %w", path, err)
		}
	}

	return finishLoad(cfg)
}

// finishLoad applies environment overrides, defaults, and validation to a
// loaded config.
func finishLoad(cfg *Config) (*Config, error) {
	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// loadEnvFile folds a local .env file into the process environment before
// overrides are read. Missing files are fine; variables already set in the
// environment win.
func loadEnvFile() {
	if _, err := os.Stat(".env"); err != nil {
		return
	}
	if err := godotenv.Load(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not load .env file: %v\n", err)
	}
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save saves the configuration to the default TOML file.
func Save(cfg *Config) error {
	path, err := ConfigPathTOML()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML saves the configuration to a TOML file.
// SECURITY: Creates config files with 0600 permissions (owner read/write only).
func SaveTOML(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	// Ensure permissions are correct even if the file already existed
	if err := os.Chmod(path, 0600); err != nil {
		return fmt.Errorf("failed to set config file permissions: %w", err)
	}

	// Write header comment
	fmt.Fprintln(file, "# streamchat configuration file")
	fmt.Fprintln(file, "# Generated by streamchat - edit with care")
	fmt.Fprintln(file, "#")
	fmt.Fprintln(file, "# Documentation: https://github.com/jeranaias/streamchat")
	fmt.Fprintln(file, "")

	encoder := toml.NewEncoder(file)
	if err := encoder.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	return nil
}

// SaveJSON saves the configuration to a JSON file.
// RELIABILITY: Atomic write with fsync prevents data loss on crash.
func SaveJSON(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := util.AtomicWriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	var errs ValidateErrors

	// Validate service base URL
	if c.Service.BaseURL != "" {
		u, err := url.Parse(c.Service.BaseURL)
		if err != nil {
			errs = append(errs, ValidationError{
				Field:   "service.base_url",
				Message: fmt.Sprintf("invalid URL: %v", err),
			})
		} else if u.Scheme != "http" && u.Scheme != "https" {
			errs = append(errs, ValidationError{
				Field:   "service.base_url",
				Message: fmt.Sprintf("unsupported scheme '%s', must be http or https", u.Scheme),
			})
		}
	}

	// Validate request timeout
	if c.Service.RequestTimeoutSecs < 1 || c.Service.RequestTimeoutSecs > 600 {
		errs = append(errs, ValidationError{
			Field:   "service.request_timeout_secs",
			Message: fmt.Sprintf("must be 1-600 seconds, got %d", c.Service.RequestTimeoutSecs),
		})
	}

	// Validate turn timeout
	if c.Session.TurnTimeoutSecs < 10 || c.Session.TurnTimeoutSecs > 3600 {
		errs = append(errs, ValidationError{
			Field:   "session.turn_timeout_secs",
			Message: fmt.Sprintf("must be 10-3600 seconds, got %d", c.Session.TurnTimeoutSecs),
		})
	}

	// Validate history limit
	if c.Session.HistoryLimit < 10 || c.Session.HistoryLimit > 10000 {
		errs = append(errs, ValidationError{
			Field:   "session.history_limit",
			Message: fmt.Sprintf("must be 10-10000 messages, got %d", c.Session.HistoryLimit),
		})
	}

	// Validate store backend
	validBackends := map[string]bool{
		BackendMemory: true, BackendFile: true,
		BackendEncrypted: true, BackendSQLite: true,
	}
	if !validBackends[c.Store.Backend] {
		errs = append(errs, ValidationError{
			Field: "store.backend",
			Message: fmt.Sprintf("invalid backend '%s', must be one of: %s, %s, %s, %s",
				c.Store.Backend, BackendMemory, BackendFile, BackendEncrypted, BackendSQLite),
		})
	}

	// Watch needs a file on disk to watch
	if c.Store.Watch && c.Store.Backend != BackendFile && c.Store.Backend != BackendEncrypted {
		errs = append(errs, ValidationError{
			Field:   "store.watch",
			Message: fmt.Sprintf("watch requires the %s or %s backend", BackendFile, BackendEncrypted),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// SetDefaults sets default values for any missing or zero-value
// configuration fields.
func (c *Config) SetDefaults() {
	defaults := Default()

	if c.Version == "" {
		c.Version = defaults.Version
	}

	// Service defaults
	if c.Service.BaseURL == "" {
		c.Service.BaseURL = defaults.Service.BaseURL
	}
	if c.Service.RequestTimeoutSecs == 0 {
		c.Service.RequestTimeoutSecs = defaults.Service.RequestTimeoutSecs
	}

	// Session defaults
	if c.Session.TurnTimeoutSecs == 0 {
		c.Session.TurnTimeoutSecs = defaults.Session.TurnTimeoutSecs
	}
	if c.Session.HistoryLimit == 0 {
		c.Session.HistoryLimit = defaults.Session.HistoryLimit
	}

	// Store defaults
	c.Store.Backend = strings.ToLower(strings.TrimSpace(c.Store.Backend))
	if c.Store.Backend == "" {
		c.Store.Backend = defaults.Store.Backend
	}
	// Accept the short alias used by early config files
	if c.Store.Backend == "encrypted" {
		c.Store.Backend = BackendEncrypted
	}
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - STREAMCHAT_BASE_URL: overrides service.base_url
//   - STREAMCHAT_USER_AGENT: overrides service.user_agent
//   - STREAMCHAT_TURN_TIMEOUT_SECS: overrides session.turn_timeout_secs
//   - STREAMCHAT_STORE_BACKEND: overrides store.backend
//   - STREAMCHAT_STORE_PATH: overrides store.path
//   - STREAMCHAT_STORE_WATCH: set to "1" or "true" to reload on external writes
func (c *Config) ApplyEnvOverrides() {
	// STREAMCHAT_BASE_URL
	if base := os.Getenv("STREAMCHAT_BASE_URL"); base != "" {
		c.Service.BaseURL = base
	}

	// STREAMCHAT_USER_AGENT
	if agent := os.Getenv("STREAMCHAT_USER_AGENT"); agent != "" {
		c.Service.UserAgent = agent
	}

	// STREAMCHAT_TURN_TIMEOUT_SECS
	if secs := os.Getenv("STREAMCHAT_TURN_TIMEOUT_SECS"); secs != "" {
		if n, err := strconv.Atoi(secs); err == nil && n > 0 {
			c.Session.TurnTimeoutSecs = n
		}
	}

	// STREAMCHAT_STORE_BACKEND
	if backend := os.Getenv("STREAMCHAT_STORE_BACKEND"); backend != "" {
		c.Store.Backend = backend
	}

	// STREAMCHAT_STORE_PATH
	if path := os.Getenv("STREAMCHAT_STORE_PATH"); path != "" {
		c.Store.Path = path
	}

	// STREAMCHAT_STORE_WATCH
	if watch := os.Getenv("STREAMCHAT_STORE_WATCH"); watch != "" {
		c.Store.Watch = watch == "1" || strings.ToLower(watch) == "true"
	}
}

// Clone creates a copy of the configuration. The config holds no reference
// types, so a value copy is a full copy.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}
