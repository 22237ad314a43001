// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: 2025 The Linux Foundation

package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/ModeSevenIndustrialSolutions/git-forest/internal/config"
)

// JSONFileSourceName is the registry name of the static mapping source
const JSONFileSourceName = "json_file"

// JSONFileSettings configures the json_file source
type JSONFileSettings struct {
	Filename string `yaml:"filename"`
}

// JSONFileSource reads the desired mapping from a JSON object of name to URL
type JSONFileSource struct {
	path string
}

func newJSONFileSource(node *yaml.Node, env *Env) (Source, error) {
	var settings JSONFileSettings
	if err := config.DecodeSettings(node, &settings); err != nil {
		return nil, err
	}
	if settings.Filename == "" {
		return nil, config.Errorf("%s: filename is required", JSONFileSourceName)
	}

	path := settings.Filename
	if !filepath.IsAbs(path) && env.BaseDir != "" {
		path = filepath.Join(env.BaseDir, path)
	}
	return NewJSONFileSource(path), nil
}

// NewJSONFileSource creates a source backed by the file at path
func NewJSONFileSource(path string) *JSONFileSource {
	return &JSONFileSource{path: path}
}

// Name returns the registry name
func (s *JSONFileSource) Name() string {
	return JSONFileSourceName
}

// ListRepos returns the mapping stored in the file
func (s *JSONFileSource) ListRepos(_ context.Context) (Mapping, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", s.path, err)
	}

	var mapping Mapping
	if err := json.Unmarshal(data, &mapping); err != nil {
		return nil, &config.ConfigurationError{
			Message: fmt.Sprintf("%s is not a JSON object of repository names to URLs", s.path),
			Err:     err,
		}
	}
	if mapping == nil {
		mapping = Mapping{}
	}
	return mapping, nil
}

// decodeItem decodes one listing item into a forge type
func decodeItem(raw json.RawMessage, target interface{}) error {
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("failed to decode repository: %w", err)
	}
	return nil
}
