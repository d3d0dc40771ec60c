// Copyright (C) 2025 OmniChat Contributors (hello@omnichat.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package settings loads and watches the YAML settings file.
//
// API keys never sit in plain Go memory between requests: on load they are
// moved into memguard enclaves and only sealed back into a per-request
// snapshot when Snapshot is called. The rest of the file (model, sampling
// knobs, tool flags) is kept as an ordinary struct.
package settings

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/awnumar/memguard"
	"gopkg.in/yaml.v3"

	"github.com/omnichat-app/omnichat/services/chat/datatypes"
)

// =============================================================================
// Manager
// =============================================================================

// Manager holds the current settings and guards credential material.
//
// # Description
//
// Manager owns a single settings file. Load (and the fsnotify watcher's
// reloads) parse the file, validate it, and swap the in-memory state under a
// lock. API keys are stripped out of the parsed struct immediately and stored
// as memguard enclaves; the plaintext slice parsed by yaml is wiped.
//
// # Thread Safety
//
// Safe for concurrent use. Snapshot returns a value copy, so callers never
// observe a reload mid-request.
type Manager struct {
	path   string
	logger *slog.Logger

	mu      sync.RWMutex
	current datatypes.Settings
	keys    map[string]*memguard.Enclave
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger used for load and reload events.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// NewManager creates a manager for the given settings file and performs the
// initial load.
//
// # Inputs
//
//   - path: Path to the YAML settings file.
//   - opts: Optional configuration.
//
// # Outputs
//
//   - *Manager: Manager with the file loaded.
//   - error: Non-nil if the file cannot be read, parsed, or validated.
func NewManager(path string, opts ...Option) (*Manager, error) {
	m := &Manager{
		path:   path,
		logger: slog.Default(),
		keys:   make(map[string]*memguard.Enclave),
	}
	for _, opt := range opts {
		opt(m)
	}

	if err := m.Reload(); err != nil {
		return nil, err
	}
	return m, nil
}

// Path returns the settings file path.
func (m *Manager) Path() string {
	return m.path
}

// Reload re-reads the settings file and swaps the in-memory state.
//
// On failure the previous state is kept, so a half-written file during an
// editor save never takes down a running server.
func (m *Manager) Reload() error {
	raw, err := os.ReadFile(m.path)
	if err != nil {
		return fmt.Errorf("read settings file: %w", err)
	}

	var parsed datatypes.Settings
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return fmt.Errorf("parse settings file: %w", err)
	}
	if err := parsed.Validate(); err != nil {
		return fmt.Errorf("validate settings: %w", err)
	}

	keys := sealKeys(parsed.APIKeys)
	parsed.APIKeys = nil
	memguard.WipeBytes(raw)

	m.mu.Lock()
	m.current = parsed
	m.keys = keys
	m.mu.Unlock()

	m.logger.Info("Settings loaded",
		"path", m.path,
		"provider", parsed.Provider,
		"model", parsed.Model,
		"api_keys", len(keys),
	)
	return nil
}

// Snapshot returns a read-only copy of the settings for one request.
//
// # Description
//
// The returned value includes plaintext API keys unsealed from their
// enclaves; it is intended to be built per request, handed to the provider
// adapter, and dropped. Enclaves that fail to open are skipped; the adapter
// will then fail fast with its missing-key error.
func (m *Manager) Snapshot() datatypes.Settings {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := m.current
	snap.Advanced.StopSequences = append([]string(nil), m.current.Advanced.StopSequences...)

	if len(m.keys) > 0 {
		snap.APIKeys = make(map[string]string, len(m.keys))
		for provider, enclave := range m.keys {
			buf, err := enclave.Open()
			if err != nil {
				m.logger.Warn("Failed to open key enclave", "provider", provider, "error", err)
				continue
			}
			// buf.String() aliases the locked buffer without copying, so the
			// key must be copied out before Destroy unmaps the pages.
			snap.APIKeys[provider] = string(buf.Bytes())
			buf.Destroy()
		}
	}
	return snap
}

// HasKey reports whether a credential is configured for the provider without
// unsealing it.
func (m *Manager) HasKey(provider string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.keys[strings.ToLower(provider)]
	return ok
}

// sealKeys moves plaintext credentials into enclaves and wipes the originals
// as far as Go strings allow.
func sealKeys(plain map[string]string) map[string]*memguard.Enclave {
	keys := make(map[string]*memguard.Enclave, len(plain))
	for provider, key := range plain {
		if key == "" {
			continue
		}
		// Provider names are matched case-insensitively everywhere.
		keys[strings.ToLower(provider)] = memguard.NewEnclave([]byte(key))
	}
	return keys
}

// =============================================================================
// Defaults
// =============================================================================

// Default returns the settings used when no file exists yet.
func Default() datatypes.Settings {
	return datatypes.Settings{
		Model:       "gemini-2.5-flash",
		Provider:    "gemini",
		Temperature: 1.0,
		Advanced: datatypes.AdvancedSettings{
			TopP:            0.95,
			TopK:            40,
			MaxOutputTokens: 8192,
		},
		Thinking: true,
	}
}

// WriteDefault writes the default settings file if none exists.
//
// Returns true when a file was created.
func WriteDefault(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, fmt.Errorf("stat settings file: %w", err)
	}

	defaults := Default()
	raw, err := yaml.Marshal(&defaults)
	if err != nil {
		return false, fmt.Errorf("marshal default settings: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return false, fmt.Errorf("write default settings: %w", err)
	}
	return true, nil
}
