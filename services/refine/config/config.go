// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the engine configuration.
//
// Defaults are embedded; an external YAML file overlays individual
// fields on top of them, so a deployment only writes the settings it
// changes. The loaded config is cached behind a singleton with a
// Reset for tests.
//
// Thread Safety:
//
//	All exported functions are safe for concurrent use.
package config

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/Refinery/services/refine/ledger"
)

const (
	// EnvConfigPath names the environment variable that points at an
	// external config file. When set it takes precedence over the
	// default search locations.
	EnvConfigPath = "REFINERY_CONFIG"

	// MaxConfigFileSize is the maximum allowed external config size.
	MaxConfigFileSize = 1024 * 1024
)

//go:embed defaults.yaml
var defaultConfigYAML []byte

// configValidate checks struct tags after loading.
var configValidate *validator.Validate

func init() {
	configValidate = validator.New()
}

// =============================================================================
// Types
// =============================================================================

// Model selects one model and its sampling temperature.
type Model struct {
	ID          string  `yaml:"id" validate:"required"`
	Temperature float64 `yaml:"temperature" validate:"gte=0,lte=2"`
}

// Models maps capability tiers to models.
type Models struct {
	Highest Model `yaml:"highest"`
	Middle  Model `yaml:"middle"`
	Small   Model `yaml:"small"`
	XS      Model `yaml:"xs"`
}

// Reasoning bounds the refinement loop.
type Reasoning struct {
	// MaxSteps is the fix-attempt budget per refinement phase.
	MaxSteps int `yaml:"max_steps" validate:"gte=1,lte=10"`
}

// Budget carries the ledger's spending defaults.
type Budget struct {
	// Session is the session spending cap in dollars. Zero means no
	// cap; the SESSION_BUDGET environment variable wins when set.
	Session float64 `yaml:"session" validate:"gte=0"`

	// AutoApproveThreshold is the cost under which approval requests
	// pass without consulting the approver.
	AutoApproveThreshold float64 `yaml:"auto_approve_threshold" validate:"gte=0"`
}

// Server configures the HTTP surface.
type Server struct {
	Listen                 string `yaml:"listen" validate:"required"`
	ShutdownTimeoutSeconds int    `yaml:"shutdown_timeout_seconds" validate:"gte=1,lte=300"`
}

// Storage configures the trajectory archive.
type Storage struct {
	// Path is the on-disk archive directory. Empty keeps the archive
	// in memory.
	Path string `yaml:"path"`
}

// Config is the engine configuration tree.
type Config struct {
	Models    Models    `yaml:"models"`
	Reasoning Reasoning `yaml:"reasoning"`
	Budget    Budget    `yaml:"budget"`
	Server    Server    `yaml:"server"`
	Storage   Storage   `yaml:"storage"`

	source string
}

// Source reports where the config came from: "embedded" or "external".
func (c *Config) Source() string {
	return c.source
}

// ModelForTier returns the model configured for a capability tier.
// Unknown tiers fall back to the middle model.
func (c *Config) ModelForTier(tier ledger.ModelTier) Model {
	switch tier {
	case ledger.TierHighest:
		return c.Models.Highest
	case ledger.TierMiddle:
		return c.Models.Middle
	case ledger.TierSmall:
		return c.Models.Small
	case ledger.TierXS:
		return c.Models.XS
	default:
		return c.Models.Middle
	}
}

// Validate checks the config against its struct tags.
func (c *Config) Validate() error {
	if err := configValidate.Struct(c); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}
	return nil
}

// =============================================================================
// Singleton (sync.Once for thread-safe initialization)
// =============================================================================

var (
	configMu      sync.RWMutex
	configOnce    sync.Once
	cachedConfig  *Config
	configLoadErr error
)

// Get returns the cached engine config.
//
// Description:
//
//	Loads the config on first call and caches it for subsequent
//	calls. Embedded defaults load first; an external file, when one
//	is configured and readable, overlays the fields it sets.
//
// Inputs:
//
//	ctx - Context for cancellation symmetry with the other loaders.
//	Must not be nil.
//
// Outputs:
//
//	*Config - The loaded config. Never nil on success.
//	error - Non-nil if parsing or validation failed.
//
// Thread Safety: Safe for concurrent use via sync.Once.
func Get(ctx context.Context) (*Config, error) {
	if ctx == nil {
		return nil, fmt.Errorf("config.Get: ctx must not be nil")
	}

	configMu.RLock()
	if cachedConfig != nil || configLoadErr != nil {
		cfg, err := cachedConfig, configLoadErr
		configMu.RUnlock()
		return cfg, err
	}
	configMu.RUnlock()

	configMu.Lock()
	defer configMu.Unlock()

	// Double-check after acquiring write lock
	if cachedConfig != nil || configLoadErr != nil {
		return cachedConfig, configLoadErr
	}

	configOnce.Do(func() {
		cachedConfig, configLoadErr = loadConfig()
	})

	return cachedConfig, configLoadErr
}

// Reset clears the cached config and sync.Once state so the next Get
// call re-loads.
//
// WARNING: Intended for testing. Concurrent callers of Get observe
// either the old or the new config, never a partially loaded one.
func Reset() {
	configMu.Lock()
	defer configMu.Unlock()
	configOnce = sync.Once{}
	cachedConfig = nil
	configLoadErr = nil
}

// =============================================================================
// Loading Logic
// =============================================================================

// loadConfig parses the embedded defaults and overlays an external
// file when one is available.
func loadConfig() (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultConfigYAML, cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded config: %w", err)
	}
	cfg.source = "embedded"

	if externalPath := externalConfigPath(); externalPath != "" {
		data, err := loadExternalConfig(externalPath)
		if err != nil {
			slog.Warn("External config not available, using embedded defaults",
				slog.String("path", externalPath),
				slog.String("error", err.Error()))
		} else {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config %s: %w", externalPath, err)
			}
			cfg.source = "external"
			slog.Info("Loaded engine config from external file",
				slog.String("path", externalPath))
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	slog.Debug("Engine config loaded",
		slog.String("source", cfg.source),
		slog.String("highest_model", cfg.Models.Highest.ID),
		slog.Int("max_steps", cfg.Reasoning.MaxSteps))

	return cfg, nil
}

// externalConfigPath returns the path to an external config file.
// Returns empty string if none is configured.
func externalConfigPath() string {
	if path := os.Getenv(EnvConfigPath); path != "" {
		return path
	}

	locations := []string{
		"./config/refinery.yaml",
		"./refinery.yaml",
	}
	if home, err := os.UserHomeDir(); err == nil {
		locations = append(locations, filepath.Join(home, ".refinery", "refinery.yaml"))
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			absPath, _ := filepath.Abs(loc)
			return absPath
		}
	}

	return ""
}

// loadExternalConfig loads YAML from an external file with path and
// size checks.
func loadExternalConfig(path string) ([]byte, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}

	if strings.Contains(absPath, "..") {
		return nil, fmt.Errorf("loadExternalConfig: path traversal not allowed: %s", absPath)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}

	if info.Size() > MaxConfigFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), MaxConfigFileSize)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}

	return data, nil
}
