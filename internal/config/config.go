// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: 2025 The Linux Foundation

// Package config loads the desired-state configuration file and the credentials that go with it.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is used when no --config-file flag is given
const DefaultConfigFile = "all-repos.json"

// Config is the desired-state configuration. The file may be YAML or JSON.
type Config struct {
	// OutputDir is the forest root. Relative paths resolve against the config file's directory.
	OutputDir string `yaml:"output_dir"`

	// Source names the registered source adapter and carries its settings
	Source         string    `yaml:"source"`
	SourceSettings yaml.Node `yaml:"source_settings"`

	// Push names the registered push adapter and carries its settings
	Push         string    `yaml:"push"`
	PushSettings yaml.Node `yaml:"push_settings"`

	// Include and Exclude are doublestar globs over canonical repository names
	Include []string `yaml:"include"`
	Exclude []string `yaml:"exclude"`

	// Jobs is the worker count; zero or negative means all available CPUs
	Jobs int `yaml:"jobs"`

	// CredentialsFile is an optional KEY=VALUE file with token fallbacks
	CredentialsFile string `yaml:"credentials_file"`

	path string
}

// Load checks the file permissions, then parses and validates the configuration.
// Nothing is read from the file if the permission check fails.
func Load(path string) (*Config, error) {
	if err := CheckPermissions(path); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg := &Config{}
	if err := decodeStrict(data, cfg); err != nil {
		return nil, &ConfigurationError{Message: fmt.Sprintf("invalid config file %s", path), Err: err}
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %s: %w", path, err)
	}
	cfg.path = abs

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if !filepath.IsAbs(cfg.OutputDir) {
		cfg.OutputDir = filepath.Join(filepath.Dir(abs), cfg.OutputDir)
	}
	cfg.OutputDir = filepath.Clean(cfg.OutputDir)

	if cfg.CredentialsFile != "" && !filepath.IsAbs(cfg.CredentialsFile) {
		cfg.CredentialsFile = filepath.Join(filepath.Dir(abs), cfg.CredentialsFile)
	}

	return cfg, nil
}

// Validate checks the required keys
func (c *Config) Validate() error {
	if c.OutputDir == "" {
		return Errorf("%s: output_dir is required", c.path)
	}
	if c.Source == "" {
		return Errorf("%s: source is required", c.path)
	}
	return nil
}

// Path returns the absolute path the configuration was loaded from
func (c *Config) Path() string {
	return c.path
}

// DecodeSettings decodes an adapter settings node into target, rejecting unknown
// keys. Fields missing from the node keep the values already present in target,
// so callers pre-fill target with their defaults.
func DecodeSettings(node *yaml.Node, target interface{}) error {
	if node == nil || node.Kind == 0 {
		return nil
	}

	data, err := yaml.Marshal(node)
	if err != nil {
		return &ConfigurationError{Message: "invalid adapter settings", Err: err}
	}

	if err := decodeStrict(data, target); err != nil {
		return &ConfigurationError{Message: "invalid adapter settings", Err: err}
	}
	return nil
}

func decodeStrict(data []byte, target interface{}) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(target); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
