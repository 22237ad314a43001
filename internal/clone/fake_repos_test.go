// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: 2025 The Linux Foundation

package clone_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// fakeRepos stands in for git: Clone creates dest/.git and records the
// origin, SyncToRemoteHead rewrites it
type fakeRepos struct {
	mu      sync.Mutex
	clones  []string
	updates []string
	fail    map[string]error
	block   chan struct{}
}

func newFakeRepos() *fakeRepos {
	return &fakeRepos{fail: map[string]error{}}
}

func (f *fakeRepos) Clone(ctx context.Context, url, path string) error {
	if err := f.wait(ctx); err != nil {
		return err
	}
	f.mu.Lock()
	f.clones = append(f.clones, url)
	err := f.fail[url]
	f.mu.Unlock()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Join(path, ".git"), 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(path, ".git", "origin"), []byte(url), 0o644)
}

func (f *fakeRepos) SyncToRemoteHead(ctx context.Context, path, url string) error {
	if err := f.wait(ctx); err != nil {
		return err
	}
	f.mu.Lock()
	f.updates = append(f.updates, url)
	err := f.fail[url]
	f.mu.Unlock()
	if err != nil {
		return err
	}
	if _, statErr := os.Stat(filepath.Join(path, ".git")); statErr != nil {
		return errors.New("not a git repository")
	}
	return os.WriteFile(filepath.Join(path, ".git", "origin"), []byte(url), 0o644)
}

func (f *fakeRepos) wait(ctx context.Context) error {
	if f.block == nil {
		return nil
	}
	select {
	case <-f.block:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeRepos) cloned() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]string(nil), f.clones...)
	sort.Strings(out)
	return out
}

func (f *fakeRepos) updated() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]string(nil), f.updates...)
	sort.Strings(out)
	return out
}
