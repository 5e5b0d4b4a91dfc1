// Copyright (c) 2025 The Keel Authors.
// Licensed under the Apache License, Version 2.0.

// Package config loads and saves keel.json, the per-project configuration
// file under the control directory (spec §6). The file is JSON, so this
// package uses encoding/json directly rather than a YAML/TOML library —
// there is no other config surface in the core.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// CurrentVersion is written into new configs. Load fills it in when a
// config has no version and does not compare it against a stored one.
const CurrentVersion = "1"

// Config is the schema of keel.json. The absence of ProjectID never blocks
// core operation (spec §6).
type Config struct {
	Version   string   `json:"version"`
	Languages []string `json:"languages,omitempty"`
	ProjectID string   `json:"project_id,omitempty"`
}

// Default returns a fresh Config with the current schema version and no
// detected languages.
func Default() Config {
	return Config{Version: CurrentVersion}
}

// Load reads and parses keel.json from path. A missing file is not an
// error; it returns Default().
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if cfg.Version == "" {
		cfg.Version = CurrentVersion
	}
	return cfg, nil
}

// Save writes cfg to path atomically: marshal to a temp file in the same
// directory, then rename over the destination. This mirrors the teacher's
// convention of atomic-write-then-rename for any state file that must
// never be observed half-written.
func Save(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("config: mkdir %s: %w", filepath.Dir(path), err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o640); err != nil {
		return fmt.Errorf("config: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("config: rename %s -> %s: %w", tmp, path, err)
	}
	return nil
}
