// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8087, cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.CountdownDuration())
	assert.Equal(t, 30*time.Second, cfg.PlayAgainWindow())
	assert.Equal(t, 60*time.Second, cfg.NarrativeTimeout())
	assert.Equal(t, int64(15<<20), cfg.ReplayBudgetBytes())
	assert.True(t, cfg.Engine.AutoAdvance)
	assert.False(t, cfg.Engine.AllowFateOverride)
}

func TestLoadFileMergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
engine:
  countdown_seconds: 20
  intro_prompt: "A custom opening."
llm:
  backend: ollama
  model: llama3
`), 0o640))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 20*time.Second, cfg.CountdownDuration())
	assert.Equal(t, "A custom opening.", cfg.Engine.IntroPrompt)
	assert.Equal(t, "ollama", cfg.LLM.Backend)
	// Untouched keys keep their defaults.
	assert.Equal(t, 8087, cfg.Server.Port)
	assert.Equal(t, 30, cfg.Engine.PlayAgainSeconds)
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
engine:
  countdown_seconds: 1
`), 0o640))
	_, err := Load(path)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte(`
llm:
  backend: carrier-pigeon
`), 0o640))
	_, err = Load(path)
	assert.Error(t, err)
}

func TestEnvOverridesDataDir(t *testing.T) {
	t.Setenv("ENGINE_DATA_DIR", "/var/lib/tale")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/tale", cfg.Engine.DataDir)
}

func TestManagerHotReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.yaml")
	require.NoError(t, os.WriteFile(path, []byte("engine:\n  countdown_seconds: 15\n"), 0o640))

	m, err := NewManager(path)
	require.NoError(t, err)
	defer m.Close()
	assert.Equal(t, 15, m.Get().Engine.CountdownSeconds)

	require.NoError(t, os.WriteFile(path, []byte("engine:\n  countdown_seconds: 45\n"), 0o640))
	require.Eventually(t, func() bool {
		return m.Get().Engine.CountdownSeconds == 45
	}, 3*time.Second, 20*time.Millisecond)
}

func TestManagerKeepsLastGoodOnBadReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.yaml")
	require.NoError(t, os.WriteFile(path, []byte("engine:\n  countdown_seconds: 25\n"), 0o640))

	m, err := NewManager(path)
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, os.WriteFile(path, []byte("engine:\n  countdown_seconds: -5\n"), 0o640))
	// The bad write is rejected; give the watcher a moment, then confirm.
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, 25, m.Get().Engine.CountdownSeconds)
}
