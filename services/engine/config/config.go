// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the engine's YAML configuration and keeps it fresh
// via filesystem watching. Tunables (countdown length, timeouts, budgets)
// hot-reload; structural settings (data dir, listen address, backends)
// require a restart and are read once at startup.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the engine's full configuration tree.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Engine EngineConfig `yaml:"engine"`
	LLM    LLMConfig    `yaml:"llm"`
	Image  ImageConfig  `yaml:"image"`
	Trace  TraceConfig  `yaml:"trace"`
}

// ServerConfig is the HTTP listener.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port" validate:"min=1,max=65535"`
}

// EngineConfig holds the turn-machine tunables.
type EngineConfig struct {
	// DataDir is the session-store root.
	DataDir string `yaml:"data_dir" validate:"required"`

	// IntroPrompt seeds the world of every fresh session.
	IntroPrompt string `yaml:"intro_prompt" validate:"required"`

	// BrandingFrame is the title-card image path; empty disables it.
	BrandingFrame string `yaml:"branding_frame"`

	CountdownSeconds        int `yaml:"countdown_seconds" validate:"min=3,max=300"`
	PlayAgainSeconds        int `yaml:"play_again_seconds" validate:"min=5,max=600"`
	NarrativeTimeoutSeconds int `yaml:"narrative_timeout_seconds" validate:"min=5,max=600"`
	ReferenceCount          int `yaml:"reference_count" validate:"min=1,max=10"`
	ReplayBudgetMB          int `yaml:"replay_budget_mb" validate:"min=1,max=256"`

	// AutoAdvance chains Phase B automatically after each Phase A.
	AutoAdvance bool `yaml:"auto_advance"`

	// AllowFateOverride honors client-supplied fates. Never enable in
	// production.
	AllowFateOverride bool `yaml:"allow_fate_override"`

	// LoreDir is the lore cache location; empty keeps lore in memory.
	LoreDir string `yaml:"lore_dir"`
}

// LLMConfig selects and tunes the text backend.
type LLMConfig struct {
	// Backend is one of openai, anthropic, ollama, local.
	Backend string `yaml:"backend" validate:"oneof=openai anthropic ollama local"`
	Model   string `yaml:"model" validate:"required"`
	BaseURL string `yaml:"base_url"`
}

// ImageConfig tunes the render backend.
type ImageConfig struct {
	Model             string `yaml:"model"`
	Size              string `yaml:"size"`
	RequestsPerMinute int    `yaml:"requests_per_minute" validate:"min=0,max=600"`
}

// TraceConfig controls OTLP trace export.
type TraceConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// Default returns the built-in configuration, used when no file is given
// and as the base the file is merged over.
func Default() Config {
	return Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8087},
		Engine: EngineConfig{
			DataDir:                 "./data",
			IntroPrompt:             defaultIntroPrompt,
			CountdownSeconds:        15,
			PlayAgainSeconds:        30,
			NarrativeTimeoutSeconds: 60,
			ReferenceCount:          1,
			ReplayBudgetMB:          15,
			AutoAdvance:             true,
		},
		LLM:   LLMConfig{Backend: "openai", Model: "gpt-4o-mini"},
		Image: ImageConfig{Model: "dall-e-3", Size: "1024x1024", RequestsPerMinute: 12},
	}
}

const defaultIntroPrompt = "You wake on the cold deck of a beached trawler. " +
	"The town beyond the harbor wall is silent, its windows dark, and the tide " +
	"is coming in faster than it should."

// Load reads and validates the configuration at path, merged over
// Default(). An empty path returns the defaults. ENGINE_DATA_DIR
// overrides the data dir for containerized deployments.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}
	if dir := os.Getenv("ENGINE_DATA_DIR"); dir != "" {
		cfg.Engine.DataDir = dir
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the structural constraints.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// CountdownDuration returns the decision window as a duration.
func (c Config) CountdownDuration() time.Duration {
	return time.Duration(c.Engine.CountdownSeconds) * time.Second
}

// PlayAgainWindow returns the restart window as a duration.
func (c Config) PlayAgainWindow() time.Duration {
	return time.Duration(c.Engine.PlayAgainSeconds) * time.Second
}

// NarrativeTimeout returns the per-generation deadline as a duration.
func (c Config) NarrativeTimeout() time.Duration {
	return time.Duration(c.Engine.NarrativeTimeoutSeconds) * time.Second
}

// ReplayBudgetBytes returns the replay size budget in bytes.
func (c Config) ReplayBudgetBytes() int64 {
	return int64(c.Engine.ReplayBudgetMB) << 20
}
