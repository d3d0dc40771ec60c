// Copyright (C) 2025 OmniChat Contributors (hello@omnichat.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package logging

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevel_String(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{Level(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.level.String())
		})
	}
}

func TestNew_ZeroConfig(t *testing.T) {
	logger := New(Config{})
	require.NotNil(t, logger)
	defer logger.Close()

	// Must not panic without any destinations configured.
	logger.Info("hello", "k", "v")
}

func TestDefault(t *testing.T) {
	logger := Default()
	defer logger.Close()

	assert.Equal(t, LevelInfo, logger.config.Level)
	assert.Equal(t, "omnichat", logger.config.Service)
	assert.Nil(t, logger.file)
}

func logFilePath(t *testing.T, dir, service string) string {
	t.Helper()
	return filepath.Join(dir, fmt.Sprintf("%s_%s.log", service, time.Now().Format("2006-01-02")))
}

func TestNew_FileLogging(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{
		Level:   LevelDebug,
		LogDir:  dir,
		Service: "gateway",
		Quiet:   true,
	})

	logger.Info("stream started", "chat_id", "abc")
	logger.Debug("record decoded", "bytes", 42)
	require.NoError(t, logger.Close())

	file, err := os.Open(logFilePath(t, dir, "gateway"))
	require.NoError(t, err)
	defer file.Close()

	var lines []map[string]any
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var entry map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &entry))
		lines = append(lines, entry)
	}

	require.Len(t, lines, 2)
	assert.Equal(t, "stream started", lines[0]["msg"])
	assert.Equal(t, "abc", lines[0]["chat_id"])
	assert.Equal(t, "gateway", lines[0]["service"])
	assert.Equal(t, "DEBUG", lines[1]["level"])
}

func TestNew_LevelFilter(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{
		Level:   LevelWarn,
		LogDir:  dir,
		Service: "filter",
		Quiet:   true,
	})

	logger.Debug("dropped")
	logger.Info("dropped")
	logger.Warn("kept")
	logger.Error("kept")
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(logFilePath(t, dir, "filter"))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "dropped")
	assert.Contains(t, string(data), "kept")
}

func TestNew_DefaultServiceFilename(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{LogDir: dir, Quiet: true})

	logger.Info("entry")
	require.NoError(t, logger.Close())

	_, err := os.Stat(logFilePath(t, dir, "omnichat"))
	assert.NoError(t, err)
}

func TestWith_AddsAttributes(t *testing.T) {
	dir := t.TempDir()
	root := New(Config{LogDir: dir, Service: "with", Quiet: true})

	child := root.With("chat_id", "c1")
	child.Info("turn complete")
	require.NoError(t, root.Close())

	data, err := os.ReadFile(logFilePath(t, dir, "with"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"chat_id":"c1"`)
}

func TestClose_NoFileIsNil(t *testing.T) {
	logger := New(Config{Quiet: true})
	assert.NoError(t, logger.Close())
}

func TestSlog_ReturnsUnderlying(t *testing.T) {
	logger := New(Config{Quiet: true})
	defer logger.Close()

	require.NotNil(t, logger.Slog())
	logger.Slog().Info("direct slog use")
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, ".omnichat/logs"), expandPath("~/.omnichat/logs"))
	assert.Equal(t, "/var/log/omnichat", expandPath("/var/log/omnichat"))
	assert.Equal(t, "relative/path", expandPath("relative/path"))
}
