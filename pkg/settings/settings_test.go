// Copyright (C) 2025 OmniChat Contributors (hello@omnichat.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package settings

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
model: gemini-2.5-flash
provider: gemini
temperature: 0.7
advanced:
  topP: 0.9
  topK: 32
  maxOutputTokens: 4096
  stopSequences: ["END"]
systemInstruction: "Be brief."
thinking: true
thinkingBudget: 1024
tools:
  googleSearch: true
apiKeys:
  gemini: test-key-123
  openai: sk-test-456
`

func writeSettings(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestNewManager_LoadsFile(t *testing.T) {
	mgr, err := NewManager(writeSettings(t, sampleYAML))
	require.NoError(t, err)

	snap := mgr.Snapshot()
	assert.Equal(t, "gemini-2.5-flash", snap.Model)
	assert.Equal(t, "gemini", snap.Provider)
	assert.InDelta(t, 0.7, snap.Temperature, 0.001)
	assert.Equal(t, 32, snap.Advanced.TopK)
	assert.Equal(t, []string{"END"}, snap.Advanced.StopSequences)
	assert.Equal(t, "Be brief.", snap.SystemInstruction)
	assert.True(t, snap.Tools.GoogleSearch)
}

func TestSnapshot_UnsealsKeys(t *testing.T) {
	mgr, err := NewManager(writeSettings(t, sampleYAML))
	require.NoError(t, err)

	snap := mgr.Snapshot()
	assert.Equal(t, "test-key-123", snap.APIKey())
	assert.Equal(t, "sk-test-456", snap.APIKeys["openai"])
}

func TestManager_KeysNotHeldInPlainState(t *testing.T) {
	mgr, err := NewManager(writeSettings(t, sampleYAML))
	require.NoError(t, err)

	mgr.mu.RLock()
	defer mgr.mu.RUnlock()
	assert.Nil(t, mgr.current.APIKeys)
}

func TestManager_HasKey(t *testing.T) {
	mgr, err := NewManager(writeSettings(t, sampleYAML))
	require.NoError(t, err)

	assert.True(t, mgr.HasKey("gemini"))
	assert.True(t, mgr.HasKey("Gemini"))
	assert.False(t, mgr.HasKey("openrouter"))
}

func TestManager_KeyNamesNormalizedOnLoad(t *testing.T) {
	yaml := `
model: gemini-2.5-flash
provider: Gemini
apiKeys:
  Gemini: mixed-case-key
`
	mgr, err := NewManager(writeSettings(t, yaml))
	require.NoError(t, err)

	snap := mgr.Snapshot()
	assert.Equal(t, "mixed-case-key", snap.APIKey())
	assert.True(t, mgr.HasKey("gemini"))
}

func TestNewManager_MissingFile(t *testing.T) {
	_, err := NewManager(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestNewManager_InvalidSettings(t *testing.T) {
	_, err := NewManager(writeSettings(t, "provider: gemini\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validate settings")
}

func TestReload_KeepsStateOnBadFile(t *testing.T) {
	path := writeSettings(t, sampleYAML)
	mgr, err := NewManager(path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte(":::not yaml"), 0o600))
	assert.Error(t, mgr.Reload())

	snap := mgr.Snapshot()
	assert.Equal(t, "gemini-2.5-flash", snap.Model)
	assert.Equal(t, "test-key-123", snap.APIKey())
}

func TestSnapshot_IsCopy(t *testing.T) {
	mgr, err := NewManager(writeSettings(t, sampleYAML))
	require.NoError(t, err)

	snap := mgr.Snapshot()
	snap.Model = "mutated"
	snap.Advanced.StopSequences[0] = "mutated"
	snap.APIKeys["gemini"] = "mutated"

	fresh := mgr.Snapshot()
	assert.Equal(t, "gemini-2.5-flash", fresh.Model)
	assert.Equal(t, []string{"END"}, fresh.Advanced.StopSequences)
	assert.Equal(t, "test-key-123", fresh.APIKey())
}

func TestWriteDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	created, err := WriteDefault(path)
	require.NoError(t, err)
	assert.True(t, created)

	mgr, err := NewManager(path)
	require.NoError(t, err)
	snap := mgr.Snapshot()
	assert.Equal(t, "gemini", snap.Provider)
	assert.NotEmpty(t, snap.Model)

	created, err = WriteDefault(path)
	require.NoError(t, err)
	assert.False(t, created)
}

func TestWatcher_ReloadsOnChange(t *testing.T) {
	path := writeSettings(t, sampleYAML)
	mgr, err := NewManager(path)
	require.NoError(t, err)

	watcher, err := NewWatcher(mgr)
	require.NoError(t, err)
	watcher.debounce = 20 * time.Millisecond
	defer watcher.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, watcher.Start(ctx))

	updated := "model: gpt-4o-mini\nprovider: openai\ntemperature: 0.2\n"
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o600))

	assert.Eventually(t, func() bool {
		return mgr.Snapshot().Model == "gpt-4o-mini"
	}, 3*time.Second, 25*time.Millisecond)
	assert.Equal(t, "openai", mgr.Snapshot().Provider)
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	path := writeSettings(t, sampleYAML)
	mgr, err := NewManager(path)
	require.NoError(t, err)

	watcher, err := NewWatcher(mgr)
	require.NoError(t, err)
	watcher.debounce = 20 * time.Millisecond
	defer watcher.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, watcher.Start(ctx))

	other := filepath.Join(filepath.Dir(path), "other.yaml")
	require.NoError(t, os.WriteFile(other, []byte("model: nope\n"), 0o600))

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, "gemini-2.5-flash", mgr.Snapshot().Model)
}
