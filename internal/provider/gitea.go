// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: 2025 The Linux Foundation

package provider

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"code.gitea.io/sdk/gitea"
	"github.com/google/go-querystring/query"
	"gopkg.in/yaml.v3"

	"github.com/ModeSevenIndustrialSolutions/git-forest/internal/config"
)

// Registry names of the Gitea adapters
const (
	GiteaSourceName    = "gitea_org"
	GiteaPublisherName = "gitea_pull_request"
)

const defaultGiteaURL = "https://gitea.com/api/v1"

// GiteaSettings configures the gitea_org source
type GiteaSettings struct {
	AccessToken  string `yaml:"access_token"`
	Org          string `yaml:"org"`
	BaseURL      string `yaml:"base_url"`
	ListSettings `yaml:",inline"`
}

// giteaListOptions mirrors gitea.ListOptions with query tags
type giteaListOptions struct {
	Page  int `url:"page,omitempty"`
	Limit int `url:"limit,omitempty"`
}

// GiteaSource lists the repositories of a Gitea organization
type GiteaSource struct {
	settings GiteaSettings
	env      *Env
}

func newGiteaSource(node *yaml.Node, env *Env) (Source, error) {
	settings := GiteaSettings{BaseURL: defaultGiteaURL}
	if err := config.DecodeSettings(node, &settings); err != nil {
		return nil, err
	}
	return NewGiteaSource(settings, env)
}

// NewGiteaSource creates a Gitea source, falling back to GITEA_TOKEN
// when no access token is configured
func NewGiteaSource(settings GiteaSettings, env *Env) (*GiteaSource, error) {
	if settings.Org == "" {
		return nil, config.Errorf("%s: org is required", GiteaSourceName)
	}
	if settings.BaseURL == "" {
		settings.BaseURL = defaultGiteaURL
	}
	settings.BaseURL = strings.TrimRight(settings.BaseURL, "/")
	settings.AccessToken = env.Credentials.Resolve(settings.AccessToken, config.GiteaTokenKey)
	return &GiteaSource{settings: settings, env: env}, nil
}

// Name returns the registry name
func (s *GiteaSource) Name() string {
	return GiteaSourceName
}

// ListRepos lists every repository of the organization and applies the filters
func (s *GiteaSource) ListRepos(ctx context.Context) (Mapping, error) {
	values, err := query.Values(giteaListOptions{Limit: 50})
	if err != nil {
		return nil, fmt.Errorf("failed to encode list options: %w", err)
	}

	listURL := fmt.Sprintf("%s/orgs/%s/repos?%s", s.settings.BaseURL, escapeSlug(s.settings.Org), values.Encode())
	s.env.logf("Listing Gitea repositories for %s", s.settings.Org)

	items, err := s.env.client().ListAll(ctx, listURL, giteaHeaders(s.settings.AccessToken), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list repositories for %s: %w", s.settings.Org, err)
	}

	repos := make([]*Repository, 0, len(items))
	for _, raw := range items {
		var repo gitea.Repository
		if err := decodeItem(raw, &repo); err != nil {
			return nil, err
		}
		repos = append(repos, convertGiteaRepository(&repo))
	}

	s.env.logf("Found %d Gitea repositories for %s", len(repos), s.settings.Org)
	return FilterRepositories(repos, s.settings.ListSettings)
}

func convertGiteaRepository(repo *gitea.Repository) *Repository {
	return &Repository{
		Name:          repo.FullName,
		FullName:      repo.FullName,
		CloneURL:      repo.CloneURL,
		SSHCloneURL:   repo.SSHURL,
		Description:   repo.Description,
		DefaultBranch: repo.DefaultBranch,
		Private:       repo.Private,
		Fork:          repo.Fork,
		Archived:      repo.Archived,
		Metadata: map[string]string{
			"id":       strconv.FormatInt(repo.ID, 10),
			"html_url": repo.HTMLURL,
		},
	}
}

func giteaHeaders(token string) http.Header {
	headers := http.Header{}
	if token != "" {
		headers.Set("Authorization", "token "+token)
	}
	return headers
}

// GiteaPublisher opens Gitea pull requests
type GiteaPublisher struct {
	settings PushSettings
	env      *Env
}

func newGiteaPublisher(node *yaml.Node, env *Env) (Publisher, error) {
	settings := PushSettings{BaseURL: defaultGiteaURL}
	if err := config.DecodeSettings(node, &settings); err != nil {
		return nil, err
	}
	return NewGiteaPublisher(settings, env), nil
}

// NewGiteaPublisher creates a Gitea push adapter
func NewGiteaPublisher(settings PushSettings, env *Env) *GiteaPublisher {
	if settings.BaseURL == "" {
		settings.BaseURL = defaultGiteaURL
	}
	settings.BaseURL = strings.TrimRight(settings.BaseURL, "/")
	settings.AccessToken = env.Credentials.Resolve(settings.AccessToken, config.GiteaTokenKey)
	return &GiteaPublisher{settings: settings, env: env}
}

// Name returns the registry name
func (p *GiteaPublisher) Name() string {
	return GiteaPublisherName
}

// Publish pushes the branch and opens a pull request against the target branch
func (p *GiteaPublisher) Publish(ctx context.Context, req *PublishRequest) (*PullRequestResult, error) {
	return publish(ctx, p.env, GiteaPublisherName, &p.settings, req, p.create)
}

func (p *GiteaPublisher) create(ctx context.Context, cr *changeRequest) (string, error) {
	opts := gitea.CreatePullRequestOption{
		Head:  cr.SourceBranch,
		Base:  cr.TargetBranch,
		Title: cr.Title,
		Body:  cr.Description,
	}

	createURL := fmt.Sprintf("%s/repos/%s/pulls", p.settings.BaseURL, escapeSlug(cr.Slug))
	resp, err := p.env.client().Request(ctx, http.MethodPost, createURL, giteaHeaders(p.settings.AccessToken), &opts)
	if err != nil {
		return "", err
	}

	var pr gitea.PullRequest
	if err := resp.JSON(&pr); err != nil {
		return "", err
	}
	return pr.HTMLURL, nil
}
