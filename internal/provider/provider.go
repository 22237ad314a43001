// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: 2025 The Linux Foundation

// Package provider implements the forge adapters: sources that list an
// organization's repositories and publishers that open pull/merge requests.
package provider

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ModeSevenIndustrialSolutions/git-forest/internal/api"
	"github.com/ModeSevenIndustrialSolutions/git-forest/internal/config"
)

// Repository represents a repository from any Git hosting provider
type Repository struct {
	Name          string            // Canonical name, the path under the output directory
	FullName      string            // Full name as reported by the forge
	CloneURL      string            // HTTPS clone URL
	SSHCloneURL   string            // SSH clone URL
	Description   string            // Repository description
	DefaultBranch string            // Default branch, when reported
	Visibility    string            // Forge-specific visibility level
	Private       bool              // Whether repository is not public
	Fork          bool              // Whether repository is a fork
	Archived      bool              // Whether repository is archived or read-only
	Metadata      map[string]string // Provider-specific metadata
}

// Source lists the repositories of one organization as a name to clone URL mapping
type Source interface {
	// Name returns the registry name of the adapter (e.g., "github_org")
	Name() string

	// ListRepos returns the filtered mapping of every repository in scope
	ListRepos(ctx context.Context) (Mapping, error)
}

// PublishRequest describes the already committed branch to publish
type PublishRequest struct {
	Dir          string // Checkout holding the commit
	Branch       string // Branch name to push and open the request from
	TargetBranch string // Branch the request merges into, empty for origin's default branch
}

// PullRequestResult is the outcome of a successful publish
type PullRequestResult struct {
	URL string
}

// Publisher pushes a branch and opens a pull/merge request for it
type Publisher interface {
	// Name returns the registry name of the adapter (e.g., "gitlab_merge_request")
	Name() string

	// Publish pushes req.Branch and opens a request against req.TargetBranch.
	// It is not idempotent: every call opens a new request.
	Publish(ctx context.Context, req *PublishRequest) (*PullRequestResult, error)
}

// GitRepo is the subset of git operations publishers need
type GitRepo interface {
	RemoteURL(ctx context.Context, path, remote string) (string, error)
	PushBranch(ctx context.Context, path, remote, branch string) error
	HeadMessage(ctx context.Context, path string) (subject, body string, err error)
	DefaultBranch(ctx context.Context, path, remote string) (string, error)
}

// UnsupportedModeError is returned when settings request a publishing mode
// that is recognized but not implemented
type UnsupportedModeError struct {
	Adapter string
	Mode    string
}

func (e *UnsupportedModeError) Error() string {
	return fmt.Sprintf("%s: %s support not yet implemented", e.Adapter, e.Mode)
}

// Env carries the collaborators adapters are built with
type Env struct {
	API         *api.Client
	Git         GitRepo
	Credentials *config.CredentialsLoader
	BaseDir     string // Directory relative settings paths resolve against
	Verbose     bool
}

func (e *Env) client() *api.Client {
	if e.API == nil {
		e.API = api.NewClient(nil)
	}
	return e.API
}

func (e *Env) logf(format string, args ...interface{}) {
	if e.Verbose {
		log.Printf("[PROVIDER] "+format, args...)
	}
}

// SourceFactory builds a Source from its raw settings
type SourceFactory func(settings *yaml.Node, env *Env) (Source, error)

// PublisherFactory builds a Publisher from its raw settings
type PublisherFactory func(settings *yaml.Node, env *Env) (Publisher, error)

// Registry maps adapter names to their constructors
type Registry struct {
	sources    map[string]SourceFactory
	publishers map[string]PublisherFactory
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		sources:    make(map[string]SourceFactory),
		publishers: make(map[string]PublisherFactory),
	}
}

// DefaultRegistry returns a registry holding every built-in adapter
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.RegisterSource(JSONFileSourceName, newJSONFileSource)
	r.RegisterSource(GitHubSourceName, newGitHubSource)
	r.RegisterSource(GitLabSourceName, newGitLabSource)
	r.RegisterSource(GiteaSourceName, newGiteaSource)
	r.RegisterSource(GerritSourceName, newGerritSource)
	r.RegisterPublisher(GitHubPublisherName, newGitHubPublisher)
	r.RegisterPublisher(GitLabPublisherName, newGitLabPublisher)
	r.RegisterPublisher(GitLabPullRequestPublisherName, newGitLabPullRequestPublisher)
	r.RegisterPublisher(GiteaPublisherName, newGiteaPublisher)
	return r
}

// RegisterSource registers a source adapter under name
func (r *Registry) RegisterSource(name string, factory SourceFactory) {
	r.sources[name] = factory
}

// RegisterPublisher registers a push adapter under name
func (r *Registry) RegisterPublisher(name string, factory PublisherFactory) {
	r.publishers[name] = factory
}

// NewSource builds the source adapter registered under name
func (r *Registry) NewSource(name string, settings *yaml.Node, env *Env) (Source, error) {
	factory, ok := r.sources[name]
	if !ok {
		return nil, config.Errorf("unknown source %q (available: %s)", name, strings.Join(r.SourceNames(), ", "))
	}
	if env == nil {
		env = &Env{}
	}
	return factory(settings, env)
}

// NewPublisher builds the push adapter registered under name
func (r *Registry) NewPublisher(name string, settings *yaml.Node, env *Env) (Publisher, error) {
	factory, ok := r.publishers[name]
	if !ok {
		return nil, config.Errorf("unknown push adapter %q (available: %s)", name, strings.Join(r.PublisherNames(), ", "))
	}
	if env == nil {
		env = &Env{}
	}
	return factory(settings, env)
}

// SourceNames returns the registered source names in order
func (r *Registry) SourceNames() []string {
	names := make([]string, 0, len(r.sources))
	for name := range r.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PublisherNames returns the registered push adapter names in order
func (r *Registry) PublisherNames() []string {
	names := make([]string, 0, len(r.publishers))
	for name := range r.publishers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
