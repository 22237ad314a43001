// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: 2025 The Linux Foundation

package clone

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ModeSevenIndustrialSolutions/git-forest/internal/config"
	"github.com/ModeSevenIndustrialSolutions/git-forest/internal/provider"
)

// Action is the operation planned for one repository
type Action string

const (
	// ActionClone creates a new checkout
	ActionClone Action = "clone"
	// ActionUpdate converges an existing checkout onto the remote HEAD
	ActionUpdate Action = "update"
	// ActionRemove deletes a checkout that is no longer desired
	ActionRemove Action = "remove"
)

// Plan is the set difference between the desired mapping and the forest.
// Every list is sorted and no name appears in more than one list.
type Plan struct {
	Clone  []string
	Update []string
	Remove []string

	forest provider.Mapping
}

// NewPlan computes the actions that converge forest onto desired. It does
// no I/O.
func NewPlan(desired, forest provider.Mapping) *Plan {
	plan := &Plan{
		Clone:  []string{},
		Update: []string{},
		Remove: []string{},
		forest: forest,
	}

	for _, name := range desired.Names() {
		if _, ok := forest[name]; ok {
			plan.Update = append(plan.Update, name)
		} else {
			plan.Clone = append(plan.Clone, name)
		}
	}
	for _, name := range forest.Names() {
		if _, ok := desired[name]; !ok {
			plan.Remove = append(plan.Remove, name)
		}
	}

	return plan
}

// Len returns the total number of planned actions
func (p *Plan) Len() int {
	return len(p.Clone) + len(p.Update) + len(p.Remove)
}

// SplitRemovals separates removals whose path overlaps a clone target
// (one is an ancestor of the other) from the rest. Overlapping removals
// must run before the clone; everything else is removed after the workers
// finish.
func (p *Plan) SplitRemovals() (early, late []string) {
	early, late = []string{}, []string{}
	for _, name := range p.Remove {
		overlaps := false
		for _, target := range p.Clone {
			if isAncestor(name, target) || isAncestor(target, name) {
				overlaps = true
				break
			}
		}
		if overlaps {
			early = append(early, name)
		} else {
			late = append(late, name)
		}
	}
	return early, late
}

func isAncestor(parent, child string) bool {
	return strings.HasPrefix(child, parent+"/")
}

// ValidateName checks that name is usable as a path below the output
// directory: relative, clean, without . or .. elements
func ValidateName(name string) error {
	if name == "" {
		return config.Errorf("repository name must not be empty")
	}
	if strings.Contains(name, "\\") || path.IsAbs(name) || filepath.IsAbs(name) {
		return config.Errorf("repository name %q must be a relative path", name)
	}
	if path.Clean(name) != name {
		return config.Errorf("repository name %q is not a clean path", name)
	}
	for _, part := range strings.Split(name, "/") {
		if part == "." || part == ".." {
			return config.Errorf("repository name %q must not contain %q", name, part)
		}
	}
	if name == ManifestFile || name == FilteredManifestFile {
		return config.Errorf("repository name %q collides with a manifest file", name)
	}
	return nil
}

// ValidateNames checks every name and rejects mappings where one
// repository would be nested inside another
func ValidateNames(mapping provider.Mapping) error {
	for _, name := range mapping.Names() {
		if err := ValidateName(name); err != nil {
			return err
		}
		for dir := path.Dir(name); dir != "."; dir = path.Dir(dir) {
			if _, ok := mapping[dir]; ok {
				return config.Errorf("repository %q is nested inside repository %q", name, dir)
			}
		}
	}
	return nil
}

// LoadForest returns the entries of the previous repos_filtered.json whose
// directory still holds a git checkout. A missing manifest is an empty
// forest.
func LoadForest(outputDir string) (provider.Mapping, error) {
	previous, err := ReadManifest(filepath.Join(outputDir, FilteredManifestFile))
	if errors.Is(err, os.ErrNotExist) {
		return provider.Mapping{}, nil
	}
	if err != nil {
		return nil, err
	}

	forest := make(provider.Mapping, len(previous))
	for name, url := range previous {
		// Never act on a path that could escape the output directory
		if ValidateName(name) != nil {
			continue
		}
		if isCheckout(filepath.Join(outputDir, filepath.FromSlash(name))) {
			forest[name] = url
		}
	}
	return forest, nil
}

func isCheckout(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, ".git"))
	return err == nil && (info.IsDir() || info.Mode().IsRegular())
}

// String summarizes the plan
func (p *Plan) String() string {
	return fmt.Sprintf("%d to clone, %d to update, %d to remove", len(p.Clone), len(p.Update), len(p.Remove))
}

// sortedCopy returns a sorted copy of names
func sortedCopy(names []string) []string {
	out := append([]string(nil), names...)
	sort.Strings(out)
	return out
}
