// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: 2025 The Linux Foundation

package provider

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/go-github/v53/github"
	"github.com/google/go-querystring/query"
	"gopkg.in/yaml.v3"

	"github.com/ModeSevenIndustrialSolutions/git-forest/internal/config"
)

// Registry names of the GitHub adapters
const (
	GitHubSourceName    = "github_org"
	GitHubPublisherName = "github_pull_request"
)

const defaultGitHubURL = "https://api.github.com"

// GitHubSettings configures the github_org source
type GitHubSettings struct {
	AccessToken  string `yaml:"access_token"`
	Org          string `yaml:"org"`
	BaseURL      string `yaml:"base_url"`
	ListSettings `yaml:",inline"`
}

// GitHubSource lists the repositories of a GitHub organization
type GitHubSource struct {
	settings GitHubSettings
	env      *Env
}

func newGitHubSource(node *yaml.Node, env *Env) (Source, error) {
	settings := GitHubSettings{BaseURL: defaultGitHubURL}
	if err := config.DecodeSettings(node, &settings); err != nil {
		return nil, err
	}
	return NewGitHubSource(settings, env)
}

// NewGitHubSource creates a GitHub source, falling back to GITHUB_TOKEN
// when no access token is configured
func NewGitHubSource(settings GitHubSettings, env *Env) (*GitHubSource, error) {
	if settings.Org == "" {
		return nil, config.Errorf("%s: org is required", GitHubSourceName)
	}
	if settings.BaseURL == "" {
		settings.BaseURL = defaultGitHubURL
	}
	settings.BaseURL = strings.TrimRight(settings.BaseURL, "/")
	settings.AccessToken = env.Credentials.Resolve(settings.AccessToken, config.GitHubTokenKey)
	return &GitHubSource{settings: settings, env: env}, nil
}

// Name returns the registry name
func (s *GitHubSource) Name() string {
	return GitHubSourceName
}

// ListRepos lists every repository of the organization and applies the filters
func (s *GitHubSource) ListRepos(ctx context.Context) (Mapping, error) {
	opts := github.RepositoryListByOrgOptions{
		Type:        "all",
		ListOptions: github.ListOptions{PerPage: 100},
	}
	values, err := query.Values(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to encode list options: %w", err)
	}

	listURL := fmt.Sprintf("%s/orgs/%s/repos?%s", s.settings.BaseURL, escapeSlug(s.settings.Org), values.Encode())
	s.env.logf("Listing GitHub repositories for %s", s.settings.Org)

	items, err := s.env.client().ListAll(ctx, listURL, githubHeaders(s.settings.AccessToken), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list repositories for %s: %w", s.settings.Org, err)
	}

	repos := make([]*Repository, 0, len(items))
	for _, raw := range items {
		var repo github.Repository
		if err := decodeItem(raw, &repo); err != nil {
			return nil, err
		}
		repos = append(repos, convertGitHubRepository(&repo))
	}

	s.env.logf("Found %d GitHub repositories for %s", len(repos), s.settings.Org)
	return FilterRepositories(repos, s.settings.ListSettings)
}

func convertGitHubRepository(repo *github.Repository) *Repository {
	return &Repository{
		Name:          repo.GetFullName(),
		FullName:      repo.GetFullName(),
		CloneURL:      repo.GetCloneURL(),
		SSHCloneURL:   repo.GetSSHURL(),
		Description:   repo.GetDescription(),
		DefaultBranch: repo.GetDefaultBranch(),
		Visibility:    repo.GetVisibility(),
		Private:       repo.GetPrivate(),
		Fork:          repo.GetFork(),
		Archived:      repo.GetArchived(),
		Metadata: map[string]string{
			"id":       strconv.FormatInt(repo.GetID(), 10),
			"topics":   strings.Join(repo.Topics, ","),
			"disabled": strconv.FormatBool(repo.GetDisabled()),
		},
	}
}

func githubHeaders(token string) http.Header {
	headers := http.Header{}
	headers.Set("Accept", "application/vnd.github+json")
	if token != "" {
		headers.Set("Authorization", "token "+token)
	}
	return headers
}

// GitHubPublisher opens GitHub pull requests
type GitHubPublisher struct {
	settings PushSettings
	env      *Env
}

func newGitHubPublisher(node *yaml.Node, env *Env) (Publisher, error) {
	settings := PushSettings{BaseURL: defaultGitHubURL}
	if err := config.DecodeSettings(node, &settings); err != nil {
		return nil, err
	}
	return NewGitHubPublisher(settings, env), nil
}

// NewGitHubPublisher creates a GitHub push adapter
func NewGitHubPublisher(settings PushSettings, env *Env) *GitHubPublisher {
	if settings.BaseURL == "" {
		settings.BaseURL = defaultGitHubURL
	}
	settings.BaseURL = strings.TrimRight(settings.BaseURL, "/")
	settings.AccessToken = env.Credentials.Resolve(settings.AccessToken, config.GitHubTokenKey)
	return &GitHubPublisher{settings: settings, env: env}
}

// Name returns the registry name
func (p *GitHubPublisher) Name() string {
	return GitHubPublisherName
}

// Publish pushes the branch and opens a pull request against the target branch
func (p *GitHubPublisher) Publish(ctx context.Context, req *PublishRequest) (*PullRequestResult, error) {
	return publish(ctx, p.env, GitHubPublisherName, &p.settings, req, p.create)
}

func (p *GitHubPublisher) create(ctx context.Context, cr *changeRequest) (string, error) {
	pull := &github.NewPullRequest{
		Title: github.String(cr.Title),
		Body:  github.String(cr.Description),
		Head:  github.String(cr.SourceBranch),
		Base:  github.String(cr.TargetBranch),
	}

	createURL := fmt.Sprintf("%s/repos/%s/pulls", p.settings.BaseURL, escapeSlug(cr.Slug))
	resp, err := p.env.client().Request(ctx, http.MethodPost, createURL, githubHeaders(p.settings.AccessToken), pull)
	if err != nil {
		return "", err
	}

	var created github.PullRequest
	if err := resp.JSON(&created); err != nil {
		return "", err
	}
	return created.GetHTMLURL(), nil
}
