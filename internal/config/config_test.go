// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
}

// =============================================================================
// DEFAULTS AND VALIDATION
// =============================================================================

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, ModeStandalone, cfg.Mode)
	assert.Equal(t, "Nuova chat", cfg.DefaultTitle)
	assert.Equal(t, "gpt-4o-mini", cfg.DefaultModel)
	assert.Len(t, cfg.Models, 3)
	assert.Equal(t, 30, cfg.Standalone.MinDelayMs)
	assert.Equal(t, 100, cfg.Standalone.MaxDelayMs)
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.Mode = "cloud"
	cfg.Storage.Backend = "postgres"
	cfg.Log.Level = "trace"
	cfg.Standalone.MinDelayMs = 50
	cfg.Standalone.MaxDelayMs = 10

	err := cfg.Validate()
	require.Error(t, err)

	var verrs ValidateErrors
	require.True(t, errors.As(err, &verrs))
	fields := make([]string, 0, len(verrs))
	for _, v := range verrs {
		fields = append(fields, v.Field)
	}
	assert.ElementsMatch(t, []string{"mode", "storage.backend", "log.level", "standalone"}, fields)
}

func TestValidate_RemoteNeedsURL(t *testing.T) {
	cfg := Default()
	cfg.Mode = ModeRemote
	cfg.Remote.BaseURL = "not a url"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "remote.base_url")
}

// =============================================================================
// LOADING
// =============================================================================

func TestLoadFromPath_TOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	writeFile(t, path, `
mode = "remote"
default_model = "o3-mini"

[remote]
base_url = "https://chat.example.com"
token = "abc"

[storage]
backend = "sqlite"
`)

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)

	assert.Equal(t, ModeRemote, cfg.Mode)
	assert.Equal(t, "o3-mini", cfg.DefaultModel)
	assert.Equal(t, "https://chat.example.com", cfg.Remote.BaseURL)
	assert.Equal(t, "abc", cfg.Remote.Token)
	assert.Equal(t, BackendSQLite, cfg.Storage.Backend)
	// untouched sections keep defaults
	assert.Equal(t, "session", cfg.Remote.CookieName)
	assert.Len(t, cfg.Models, 3)
}

func TestLoadFromPath_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, `
mode: standalone
models:
  - id: local-echo
    label: Echo
standalone:
  min_delay_ms: 1
  max_delay_ms: 2
`)

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)

	assert.Equal(t, ModeStandalone, cfg.Mode)
	require.Len(t, cfg.Models, 1)
	assert.Equal(t, "Echo", cfg.Models[0].Label)
	assert.Equal(t, 2, cfg.Standalone.MaxDelayMs)
}

func TestLoadFromPath_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	writeFile(t, path, `{"mode":"standalone","storage":{"backend":"redis","redis_url":"redis://cache:6379/1"}}`)

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)

	assert.Equal(t, BackendRedis, cfg.Storage.Backend)
	assert.Equal(t, "redis://cache:6379/1", cfg.Storage.RedisURL)
}

func TestLoadFromPath_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	writeFile(t, path, `mode = "sideways"`)

	_, err := LoadFromPath(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("STREAMCHAT_MODE", "REMOTE")
	t.Setenv("STREAMCHAT_TOKEN", "from-env")
	t.Setenv("STREAMCHAT_STORAGE", "sqlite")
	t.Setenv("STREAMCHAT_LOG_CONSOLE", "true")
	t.Setenv("NO_COLOR", "1")

	cfg := Default()
	cfg.ApplyEnvOverrides()

	assert.Equal(t, ModeRemote, cfg.Mode)
	assert.Equal(t, "from-env", cfg.Remote.Token)
	assert.Equal(t, BackendSQLite, cfg.Storage.Backend)
	assert.True(t, cfg.Log.Console)
	assert.True(t, cfg.UI.NoColor)
}

func TestSaveTOML_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	cfg := Default()
	cfg.DefaultTitle = "Bozza"
	cfg.Remote.Token = "secret"

	require.NoError(t, SaveTOML(cfg, path))

	loaded, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, "Bozza", loaded.DefaultTitle)
	assert.Equal(t, "secret", loaded.Remote.Token)
	assert.Equal(t, cfg.Models, loaded.Models)
}

func TestClone_Independent(t *testing.T) {
	cfg := Default()
	c := cfg.Clone()
	c.Models[0].ID = "changed"

	assert.Equal(t, "gpt-4o", cfg.Models[0].ID)
}

// =============================================================================
// WATCH
// =============================================================================

func TestWatch_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	writeFile(t, path, `default_title = "uno"`)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan *Config, 4)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, func(c *Config, err error) {
			if err == nil {
				got <- c
			}
		})
	}()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	writeFile(t, path, `default_title = "due"`)

	select {
	case c := <-got:
		assert.Equal(t, "due", c.DefaultTitle)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not report the change")
	}

	cancel()
	require.NoError(t, <-done)
}
