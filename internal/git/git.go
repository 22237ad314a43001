// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: 2025 The Linux Foundation

package git

import (
	"context"
	"fmt"
	"strings"
)

// Git exposes the repository operations used by the sync engine and the
// push adapters on top of a Runner
type Git struct {
	runner Runner
}

// New creates a Git backed by runner
func New(runner Runner) *Git {
	if runner == nil {
		runner = NewExecRunner()
	}
	return &Git{runner: runner}
}

// Clone makes a full checkout of url at path
func (g *Git) Clone(ctx context.Context, url, path string) error {
	_, err := g.runner.Run(ctx, "", "clone", "--quiet", "--", url, path)
	return err
}

// SyncToRemoteHead points origin at url, fetches the remote's default branch
// and hard-resets the checkout to it. Local divergence is discarded.
func (g *Git) SyncToRemoteHead(ctx context.Context, path, url string) error {
	steps := [][]string{
		{"remote", "set-url", "origin", url},
		{"fetch", "--quiet", "origin", "HEAD"},
		{"reset", "--hard", "--quiet", "FETCH_HEAD"},
	}
	for _, args := range steps {
		if _, err := g.runner.Run(ctx, path, args...); err != nil {
			return err
		}
	}
	return nil
}

// PushBranch pushes the current HEAD to branch on remote
func (g *Git) PushBranch(ctx context.Context, path, remote, branch string) error {
	_, err := g.runner.Run(ctx, path, "push", remote, "HEAD:"+branch, "--quiet")
	return err
}

// RemoteURL returns the configured URL of remote
func (g *Git) RemoteURL(ctx context.Context, path, remote string) (string, error) {
	url, err := g.runner.Run(ctx, path, "config", "remote."+remote+".url")
	if err != nil {
		return "", fmt.Errorf("failed to read URL of remote %s: %w", remote, err)
	}
	return url, nil
}

// HeadMessage returns the subject and body of the HEAD commit
func (g *Git) HeadMessage(ctx context.Context, path string) (subject, body string, err error) {
	if subject, err = g.runner.Run(ctx, path, "log", "-1", "--format=%s"); err != nil {
		return "", "", err
	}
	if body, err = g.runner.Run(ctx, path, "log", "-1", "--format=%b"); err != nil {
		return "", "", err
	}
	return subject, body, nil
}

// DefaultBranch returns the branch HEAD of remote points to. The local
// remote-tracking HEAD is used when the clone recorded one, otherwise the
// remote is asked.
func (g *Git) DefaultBranch(ctx context.Context, path, remote string) (string, error) {
	if ref, err := g.runner.Run(ctx, path, "symbolic-ref", "--quiet", "refs/remotes/"+remote+"/HEAD"); err == nil {
		if branch := strings.TrimPrefix(ref, "refs/remotes/"+remote+"/"); branch != ref && branch != "" {
			return branch, nil
		}
	}

	out, err := g.runner.Run(ctx, path, "ls-remote", "--symref", remote, "HEAD")
	if err != nil {
		return "", fmt.Errorf("failed to read default branch of %s: %w", remote, err)
	}
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 3 && fields[0] == "ref:" && fields[2] == "HEAD" {
			return strings.TrimPrefix(fields[1], "refs/heads/"), nil
		}
	}
	return "", fmt.Errorf("remote %s does not report a default branch", remote)
}
