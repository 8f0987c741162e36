// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads changeguard configuration.
//
// The embedded default.yaml is always parsed first. A user file is then
// decoded on top of it, so a file only needs the keys it overrides. The
// result is validated with go-playground/validator.
//
// Thread Safety:
//
//	All exported functions are safe for concurrent use. *Config values are
//	not synchronised; treat them as read-only once loaded.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/changeguard/pkg/logging"
	"github.com/AleutianAI/changeguard/services/changeguard/apply"
	"github.com/AleutianAI/changeguard/services/changeguard/conflict"
	"github.com/AleutianAI/changeguard/services/changeguard/journal"
	"github.com/AleutianAI/changeguard/services/changeguard/telemetry"
)

// =============================================================================
// Constants
// =============================================================================

// MaxFileSize is the largest config file accepted (1MB).
const MaxFileSize = 1024 * 1024

//go:embed default.yaml
var defaultYAML []byte

var (
	// ErrFileTooLarge is returned for files above MaxFileSize.
	ErrFileTooLarge = errors.New("config file too large")

	// ErrInvalid wraps parse and validation failures.
	ErrInvalid = errors.New("invalid config")
)

var validate = validator.New()

// =============================================================================
// Types
// =============================================================================

// Config is the full changeguard configuration.
type Config struct {
	Applier   apply.Config     `yaml:"applier" json:"applier"`
	Conflicts conflict.Config  `yaml:"conflicts" json:"conflicts"`
	Server    ServerConfig     `yaml:"server" json:"server"`
	Logging   logging.Config   `yaml:"logging" json:"logging"`
	Telemetry telemetry.Config `yaml:"telemetry" json:"telemetry"`
	Journal   journal.Config   `yaml:"journal" json:"journal"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	// Addr is the listen address.
	Addr string `yaml:"addr" json:"addr" validate:"required"`

	// RateLimit is requests per second across all clients. Zero disables
	// limiting.
	RateLimit float64 `yaml:"rate_limit" json:"rate_limit" validate:"gte=0"`

	// Burst is the token bucket size.
	Burst int `yaml:"burst" json:"burst" validate:"gte=0"`

	// MaxBodyBytes caps request bodies.
	MaxBodyBytes int64 `yaml:"max_body_bytes" json:"max_body_bytes" validate:"gt=0"`

	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout" validate:"gt=0"`
}

// =============================================================================
// Loading
// =============================================================================

// Default returns the embedded defaults.
func Default() (*Config, error) {
	return Parse(nil)
}

// Parse decodes data on top of the embedded defaults and validates the
// result. Empty data yields the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := decode(defaultYAML, cfg); err != nil {
		return nil, fmt.Errorf("%w: embedded defaults: %v", ErrInvalid, err)
	}
	if len(bytes.TrimSpace(data)) > 0 {
		if err := decode(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads path and parses it over the defaults. An empty path yields
// the defaults.
//
// # Outputs
//
//   - *Config: Validated configuration.
//   - error: ErrFileTooLarge, ErrInvalid, or a filesystem error.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default()
	}
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks struct constraints of every section.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	return dec.Decode(cfg)
}

func readFile(path string) ([]byte, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat config: %w", err)
	}
	if info.Size() > MaxFileSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrFileTooLarge, info.Size(), MaxFileSize)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return data, nil
}
