// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: 2025 The Linux Foundation

package provider

import (
	"fmt"
	"sort"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/ModeSevenIndustrialSolutions/git-forest/internal/config"
)

// Mapping associates a repository name (its relative path in the output
// directory) with the URL it is cloned from
type Mapping map[string]string

// Names returns the repository names in sorted order
func (m Mapping) Names() []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Select narrows the mapping with glob patterns. An empty include list
// keeps every name; exclude patterns always win.
func (m Mapping) Select(include, exclude []string) (Mapping, error) {
	for _, pattern := range append(append([]string{}, include...), exclude...) {
		if !doublestar.ValidatePattern(pattern) {
			return nil, config.Errorf("invalid repository pattern %q", pattern)
		}
	}

	selected := make(Mapping, len(m))
	for name, url := range m {
		if len(include) > 0 && !matchAny(include, name) {
			continue
		}
		if matchAny(exclude, name) {
			continue
		}
		selected[name] = url
	}
	return selected, nil
}

func matchAny(patterns []string, name string) bool {
	for _, pattern := range patterns {
		if ok, _ := doublestar.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

// ListSettings are the listing filters shared by the forge sources
type ListSettings struct {
	Archived bool `yaml:"archived"`
	Forks    bool `yaml:"forks"`
	Private  bool `yaml:"private"`
	UseSSH   bool `yaml:"use_ssh"`
}

// FilterRepositories applies the archived, fork and private filters and
// picks the clone URL for every surviving repository, preferring the SSH URL
// when use_ssh is set
func FilterRepositories(repos []*Repository, settings ListSettings) (Mapping, error) {
	mapping := make(Mapping, len(repos))
	for _, repo := range repos {
		if repo.Archived && !settings.Archived {
			continue
		}
		if repo.Fork && !settings.Forks {
			continue
		}
		if repo.Private && !settings.Private {
			continue
		}

		url := repo.CloneURL
		if settings.UseSSH && repo.SSHCloneURL != "" {
			url = repo.SSHCloneURL
		}
		if url == "" {
			return nil, fmt.Errorf("repository %s has no clone URL", repo.Name)
		}
		if _, dup := mapping[repo.Name]; dup {
			return nil, config.Errorf("duplicate repository name %s", repo.Name)
		}
		mapping[repo.Name] = url
	}
	return mapping, nil
}
