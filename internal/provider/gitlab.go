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
	"github.com/xanzy/go-gitlab"
	"gopkg.in/yaml.v3"

	"github.com/ModeSevenIndustrialSolutions/git-forest/internal/api"
	"github.com/ModeSevenIndustrialSolutions/git-forest/internal/config"
)

// Registry names of the GitLab adapters
const (
	GitLabSourceName               = "gitlab_org"
	GitLabPublisherName            = "gitlab_merge_request"
	GitLabPullRequestPublisherName = "gitlab_pull_request"
)

const defaultGitLabURL = "https://gitlab.example.com/api/v4"

// GitLabSettings configures the gitlab_org source
type GitLabSettings struct {
	AccessToken      string `yaml:"access_token"`
	Org              string `yaml:"org"`
	BaseURL          string `yaml:"base_url"`
	IncludeSubgroups bool   `yaml:"include_subgroups"`
	ListSettings     `yaml:",inline"`
}

// GitLabSource lists the projects of a GitLab group
type GitLabSource struct {
	settings GitLabSettings
	env      *Env
}

func newGitLabSource(node *yaml.Node, env *Env) (Source, error) {
	settings := GitLabSettings{
		BaseURL:      defaultGitLabURL,
		ListSettings: ListSettings{Forks: true, Private: true},
	}
	if err := config.DecodeSettings(node, &settings); err != nil {
		return nil, err
	}
	return NewGitLabSource(settings, env)
}

// NewGitLabSource creates a GitLab source, falling back to GITLAB_TOKEN
// when no access token is configured
func NewGitLabSource(settings GitLabSettings, env *Env) (*GitLabSource, error) {
	if settings.Org == "" {
		return nil, config.Errorf("%s: org is required", GitLabSourceName)
	}
	if settings.BaseURL == "" {
		settings.BaseURL = defaultGitLabURL
	}
	settings.BaseURL = strings.TrimRight(settings.BaseURL, "/")
	settings.AccessToken = env.Credentials.Resolve(settings.AccessToken, config.GitLabTokenKey)
	return &GitLabSource{settings: settings, env: env}, nil
}

// Name returns the registry name
func (s *GitLabSource) Name() string {
	return GitLabSourceName
}

// ListRepos lists the group's projects and applies the filters
func (s *GitLabSource) ListRepos(ctx context.Context) (Mapping, error) {
	opts := gitlab.ListGroupProjectsOptions{
		ListOptions: gitlab.ListOptions{
			PerPage: 100,
		},
		WithShared:       gitlab.Bool(false),
		IncludeSubGroups: gitlab.Bool(s.settings.IncludeSubgroups),
	}
	values, err := query.Values(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to encode list options: %w", err)
	}

	// The whole group path is a single segment: group/sub becomes group%2Fsub
	listURL := fmt.Sprintf("%s/groups/%s/projects?%s", s.settings.BaseURL, api.QuotePathSegment(s.settings.Org), values.Encode())
	s.env.logf("Listing GitLab projects for %s", s.settings.Org)

	items, err := s.env.client().ListAll(ctx, listURL, gitlabHeaders(s.settings.AccessToken), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects for %s: %w", s.settings.Org, err)
	}

	repos := make([]*Repository, 0, len(items))
	for _, raw := range items {
		var project gitlab.Project
		if err := decodeItem(raw, &project); err != nil {
			return nil, err
		}
		repos = append(repos, convertGitLabProject(&project))
	}

	s.env.logf("Found %d GitLab projects for %s", len(repos), s.settings.Org)
	return FilterRepositories(repos, s.settings.ListSettings)
}

func convertGitLabProject(project *gitlab.Project) *Repository {
	return &Repository{
		Name:          project.PathWithNamespace,
		FullName:      project.PathWithNamespace,
		CloneURL:      project.HTTPURLToRepo,
		SSHCloneURL:   project.SSHURLToRepo,
		Description:   project.Description,
		DefaultBranch: project.DefaultBranch,
		Visibility:    string(project.Visibility),
		Private:       project.Visibility != "" && project.Visibility != gitlab.PublicVisibility,
		Fork:          project.ForkedFromProject != nil,
		Archived:      project.Archived,
		Metadata: map[string]string{
			"id":      strconv.Itoa(project.ID),
			"web_url": project.WebURL,
		},
	}
}

func gitlabHeaders(token string) http.Header {
	headers := http.Header{}
	if token != "" {
		headers.Set("Private-Token", token)
	}
	return headers
}

// GitLabPublisher opens GitLab merge requests
type GitLabPublisher struct {
	settings PushSettings
	env      *Env
}

func newGitLabPublisher(node *yaml.Node, env *Env) (Publisher, error) {
	settings := PushSettings{BaseURL: defaultGitLabURL}
	if err := config.DecodeSettings(node, &settings); err != nil {
		return nil, err
	}
	return NewGitLabPublisher(settings, env), nil
}

// NewGitLabPublisher creates a GitLab push adapter
func NewGitLabPublisher(settings PushSettings, env *Env) *GitLabPublisher {
	if settings.BaseURL == "" {
		settings.BaseURL = defaultGitLabURL
	}
	settings.BaseURL = strings.TrimRight(settings.BaseURL, "/")
	settings.AccessToken = env.Credentials.Resolve(settings.AccessToken, config.GitLabTokenKey)
	return &GitLabPublisher{settings: settings, env: env}
}

// Name returns the registry name
func (p *GitLabPublisher) Name() string {
	return GitLabPublisherName
}

// Publish pushes the branch and opens a merge request against the target branch
func (p *GitLabPublisher) Publish(ctx context.Context, req *PublishRequest) (*PullRequestResult, error) {
	return publish(ctx, p.env, GitLabPublisherName, &p.settings, req, p.create)
}

// create discovers the merge request endpoint from the project's _links
// and posts the request there
func (p *GitLabPublisher) create(ctx context.Context, cr *changeRequest) (string, error) {
	headers := gitlabHeaders(p.settings.AccessToken)
	headers.Set("Content-Type", "application/json")

	projectURL := fmt.Sprintf("%s/projects/%s", p.settings.BaseURL, api.QuotePathSegment(cr.Slug))
	resp, err := p.env.client().Request(ctx, http.MethodGet, projectURL, headers, nil)
	if err != nil {
		return "", fmt.Errorf("failed to look up project %s: %w", cr.Slug, err)
	}

	var project gitlab.Project
	if err := resp.JSON(&project); err != nil {
		return "", err
	}
	if project.Links == nil || project.Links.MergeRequests == "" {
		return "", fmt.Errorf("project %s does not expose a merge_requests link", cr.Slug)
	}

	opts := &gitlab.CreateMergeRequestOptions{
		Title:        gitlab.String(cr.Title),
		Description:  gitlab.String(cr.Description),
		SourceBranch: gitlab.String(cr.SourceBranch),
		TargetBranch: gitlab.String(cr.TargetBranch),
	}
	resp, err = p.env.client().Request(ctx, http.MethodPost, project.Links.MergeRequests, headers, opts)
	if err != nil {
		return "", err
	}

	var mr gitlab.MergeRequest
	if err := resp.JSON(&mr); err != nil {
		return "", err
	}
	return mr.WebURL, nil
}

// GitLabPullRequestPublisher posts a GitHub-shaped pull request to
// {base_url}/{slug}/pulls with a Private-Token header. It serves
// GitLab instances fronted by a pulls-compatible API.
type GitLabPullRequestPublisher struct {
	settings PushSettings
	env      *Env
}

func newGitLabPullRequestPublisher(node *yaml.Node, env *Env) (Publisher, error) {
	settings := PushSettings{BaseURL: defaultGitLabURL}
	if err := config.DecodeSettings(node, &settings); err != nil {
		return nil, err
	}
	return NewGitLabPullRequestPublisher(settings, env), nil
}

// NewGitLabPullRequestPublisher creates the gitlab_pull_request push adapter
func NewGitLabPullRequestPublisher(settings PushSettings, env *Env) *GitLabPullRequestPublisher {
	if settings.BaseURL == "" {
		settings.BaseURL = defaultGitLabURL
	}
	settings.BaseURL = strings.TrimRight(settings.BaseURL, "/")
	settings.AccessToken = env.Credentials.Resolve(settings.AccessToken, config.GitLabTokenKey)
	return &GitLabPullRequestPublisher{settings: settings, env: env}
}

// Name returns the registry name
func (p *GitLabPullRequestPublisher) Name() string {
	return GitLabPullRequestPublisherName
}

// Publish pushes the branch and opens a pull request against the target branch
func (p *GitLabPullRequestPublisher) Publish(ctx context.Context, req *PublishRequest) (*PullRequestResult, error) {
	return publish(ctx, p.env, GitLabPullRequestPublisherName, &p.settings, req, p.create)
}

func (p *GitLabPullRequestPublisher) create(ctx context.Context, cr *changeRequest) (string, error) {
	headers := gitlabHeaders(p.settings.AccessToken)
	headers.Set("Content-Type", "application/json")

	pull := &github.NewPullRequest{
		Title: github.String(cr.Title),
		Body:  github.String(cr.Description),
		Base:  github.String(cr.TargetBranch),
		Head:  github.String(cr.SourceBranch),
	}
	createURL := fmt.Sprintf("%s/%s/pulls", p.settings.BaseURL, escapeSlug(cr.Slug))
	resp, err := p.env.client().Request(ctx, http.MethodPost, createURL, headers, pull)
	if err != nil {
		return "", err
	}

	var created github.PullRequest
	if err := resp.JSON(&created); err != nil {
		return "", err
	}
	return created.GetHTMLURL(), nil
}
