// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: 2025 The Linux Foundation

package provider

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/ModeSevenIndustrialSolutions/git-forest/internal/api"
)

// PushSettings are the settings shared by every push adapter
type PushSettings struct {
	AccessToken string            `yaml:"access_token"`
	BaseURL     string            `yaml:"base_url"`
	Fork        bool              `yaml:"fork"`
	MRBodies    map[string]string `yaml:"mr_bodies"`
}

// changeRequest is the forge-independent description of a pull/merge request
type changeRequest struct {
	Slug         string // owner/name path of the repository on the forge
	Title        string
	Description  string
	SourceBranch string
	TargetBranch string
}

// createFunc opens the request on the forge and returns its web URL
type createFunc func(ctx context.Context, cr *changeRequest) (string, error)

// RepoSlug extracts the owner/name path from a remote URL. Both URL style
// (https://host/group/name.git) and scp style (git@host:group/name.git)
// remotes are accepted.
func RepoSlug(remoteURL string) (string, error) {
	remoteURL = strings.TrimSpace(remoteURL)

	var slug string
	if strings.Contains(remoteURL, "://") {
		u, err := url.Parse(remoteURL)
		if err != nil {
			return "", fmt.Errorf("invalid remote URL %s: %w", remoteURL, err)
		}
		slug = u.Path
	} else if i := strings.LastIndex(remoteURL, ":"); i >= 0 {
		slug = remoteURL[i+1:]
	} else {
		slug = remoteURL
	}

	slug = strings.TrimSuffix(strings.Trim(slug, "/"), ".git")
	if slug == "" {
		return "", fmt.Errorf("cannot determine repository path from remote %q", remoteURL)
	}
	return slug, nil
}

// escapeSlug quotes every segment of an owner/name path
func escapeSlug(slug string) string {
	parts := strings.Split(slug, "/")
	for i, part := range parts {
		parts[i] = api.QuotePathSegment(part)
	}
	return strings.Join(parts, "/")
}

// publish runs the flow shared by the push adapters: push the branch to
// origin, take title and description from the HEAD commit and hand the
// request to create.
func publish(ctx context.Context, env *Env, adapter string, settings *PushSettings, req *PublishRequest, create createFunc) (*PullRequestResult, error) {
	if settings.Fork {
		return nil, &UnsupportedModeError{Adapter: adapter, Mode: "fork"}
	}
	if req == nil || req.Dir == "" {
		return nil, errors.New("publish requires a repository directory")
	}
	if req.Branch == "" {
		return nil, errors.New("publish requires a branch")
	}
	if env.Git == nil {
		return nil, errors.New("publish requires a git implementation")
	}

	target := req.TargetBranch
	if target == "" {
		branch, err := env.Git.DefaultBranch(ctx, req.Dir, "origin")
		if err != nil {
			return nil, fmt.Errorf("no target branch given: %w", err)
		}
		target = branch
	}
	if target == req.Branch {
		return nil, fmt.Errorf("branch %s cannot target itself", req.Branch)
	}

	remote, err := env.Git.RemoteURL(ctx, req.Dir, "origin")
	if err != nil {
		return nil, err
	}
	slug, err := RepoSlug(remote)
	if err != nil {
		return nil, err
	}

	env.logf("Pushing %s to origin (%s)", req.Branch, slug)
	if err := env.Git.PushBranch(ctx, req.Dir, "origin", req.Branch); err != nil {
		return nil, fmt.Errorf("failed to push %s: %w", req.Branch, err)
	}

	title, body, err := env.Git.HeadMessage(ctx, req.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read HEAD commit message: %w", err)
	}
	if override, ok := settings.MRBodies[path.Base(slug)]; ok {
		body = override
	}

	link, err := create(ctx, &changeRequest{
		Slug:         slug,
		Title:        title,
		Description:  body,
		SourceBranch: req.Branch,
		TargetBranch: target,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", adapter, err)
	}
	if link == "" {
		return nil, fmt.Errorf("%s: response did not include a request URL", adapter)
	}

	env.logf("Opened %s", link)
	return &PullRequestResult{URL: link}, nil
}
