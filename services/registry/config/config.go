// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the registry service configuration.
//
// Precedence, lowest to highest: built-in defaults, then the YAML file,
// then LINEAGE_* environment variables. A missing config file is not an
// error; the defaults are a complete working configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is consulted when no explicit path is given.
const DefaultConfigPath = "~/.lineage/registry.yaml"

// Config is the registry service configuration.
type Config struct {
	// ListenAddr is the HTTP bind address.
	ListenAddr string `yaml:"listen_addr"`

	// DBPath is the SQLite database file.
	DBPath string `yaml:"db_path"`

	// IDPrefix and IDWidth shape member identifiers ("P" + 3 -> "P001").
	// Changing these on an existing database is not supported.
	IDPrefix string `yaml:"id_prefix"`
	IDWidth  int    `yaml:"id_width"`

	// RetryAttempts and RetryInitialDelay tune the transient-failure
	// retry loop in the mutation engine.
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInitialDelay time.Duration `yaml:"retry_initial_delay"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// LogDir enables JSON file logging when non-empty.
	LogDir string `yaml:"log_dir"`

	// ShutdownTimeout bounds graceful HTTP shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		ListenAddr:        ":12260",
		DBPath:            "~/.lineage/registry.db",
		IDPrefix:          "P",
		IDWidth:           3,
		RetryAttempts:     5,
		RetryInitialDelay: 50 * time.Millisecond,
		LogLevel:          "info",
		LogDir:            "",
		ShutdownTimeout:   10 * time.Second,
	}
}

// Load reads the configuration from path. An empty path means
// DefaultConfigPath; a nonexistent file yields the defaults. Environment
// variables override file values last.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = DefaultConfigPath
	}
	path = expandPath(path)

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// Defaults only.
	case err != nil:
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	cfg.DBPath = expandPath(cfg.DBPath)
	cfg.LogDir = expandPath(cfg.LogDir)
	return cfg, nil
}

// applyEnv overlays LINEAGE_* environment variables. Malformed numeric
// values are ignored in favor of the current value.
func applyEnv(cfg *Config) {
	if v := os.Getenv("LINEAGE_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("LINEAGE_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("LINEAGE_ID_PREFIX"); v != "" {
		cfg.IDPrefix = v
	}
	if v := os.Getenv("LINEAGE_ID_WIDTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.IDWidth = n
		}
	}
	if v := os.Getenv("LINEAGE_RETRY_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RetryAttempts = n
		}
	}
	if v := os.Getenv("LINEAGE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("LINEAGE_LOG_DIR"); v != "" {
		cfg.LogDir = v
	}
}

func (c Config) validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr must not be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("db_path must not be empty")
	}
	if c.IDWidth < 1 || c.IDWidth > 12 {
		return fmt.Errorf("id_width %d out of range [1, 12]", c.IDWidth)
	}
	if c.RetryAttempts < 1 {
		return fmt.Errorf("retry_attempts must be at least 1")
	}
	return nil
}

// expandPath expands a leading ~ to the user's home directory.
func expandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
