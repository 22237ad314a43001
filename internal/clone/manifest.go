// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: 2025 The Linux Foundation

package clone

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ModeSevenIndustrialSolutions/git-forest/internal/provider"
)

// Manifest file names at the root of the output directory
const (
	ManifestFile         = "repos.json"
	FilteredManifestFile = "repos_filtered.json"
)

// ReadManifest reads a name to URL manifest. The error wraps
// os.ErrNotExist when the file is missing.
func ReadManifest(path string) (provider.Mapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest %s: %w", path, err)
	}

	var mapping provider.Mapping
	if err := json.Unmarshal(data, &mapping); err != nil {
		return nil, fmt.Errorf("parsing manifest %s: %w", path, err)
	}
	if mapping == nil {
		mapping = provider.Mapping{}
	}
	return mapping, nil
}

// WriteManifest writes mapping as a JSON object with sorted keys, two-space
// indentation and a trailing newline. The file is replaced atomically.
func WriteManifest(path string, mapping provider.Mapping) error {
	if mapping == nil {
		mapping = provider.Mapping{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(mapping); err != nil {
		return fmt.Errorf("marshaling manifest: %w", err)
	}
	data := buf.Bytes()

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp manifest for %s: %w", path, err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing temp manifest %s: %w", tmp.Name(), err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("syncing temp manifest %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp manifest %s: %w", tmp.Name(), err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("setting mode on %s: %w", tmp.Name(), err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("renaming temp manifest to %s: %w", path, err)
	}
	return nil
}
