// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: 2025 The Linux Foundation

package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ModeSevenIndustrialSolutions/git-forest/internal/api"
	"github.com/ModeSevenIndustrialSolutions/git-forest/internal/config"
)

// GerritSourceName is the registry name of the Gerrit source
const GerritSourceName = "gerrit"

const (
	defaultGerritSSHPort = 29418
	gerritPageSize       = 100
)

// gerritMagicPrefix precedes every Gerrit JSON response to defeat XSSI
var gerritMagicPrefix = []byte(")]}'")

// GerritSettings configures the gerrit source
type GerritSettings struct {
	BaseURL      string `yaml:"base_url"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	Prefix       string `yaml:"prefix"`
	SSHPort      int    `yaml:"ssh_port"`
	ListSettings `yaml:",inline"`
}

// GerritProject represents a Gerrit project
type GerritProject struct {
	ID           string                 `json:"id"`
	Name         string                 `json:"name"`
	Parent       string                 `json:"parent,omitempty"`
	Description  string                 `json:"description,omitempty"`
	State        string                 `json:"state,omitempty"`
	WebLinks     []GerritWebLink        `json:"web_links,omitempty"`
	CloneLinks   map[string]GerritClone `json:"clone_links,omitempty"`
	MoreProjects bool                   `json:"_more_projects,omitempty"`
}

// GerritWebLink represents a web link for a Gerrit project
type GerritWebLink struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// GerritClone represents clone information for a Gerrit project
type GerritClone struct {
	URL string `json:"url"`
}

// GerritSource lists the projects of a Gerrit server. Gerrit has no
// organizations; an optional name prefix narrows the listing.
type GerritSource struct {
	settings GerritSettings
	baseURL  *url.URL
	env      *Env
}

func newGerritSource(node *yaml.Node, env *Env) (Source, error) {
	settings := GerritSettings{SSHPort: defaultGerritSSHPort}
	if err := config.DecodeSettings(node, &settings); err != nil {
		return nil, err
	}
	return NewGerritSource(settings, env)
}

// NewGerritSource creates a Gerrit source, falling back to GERRIT_USERNAME
// and GERRIT_PASSWORD when no credentials are configured
func NewGerritSource(settings GerritSettings, env *Env) (*GerritSource, error) {
	if settings.BaseURL == "" {
		return nil, config.Errorf("%s: base_url is required", GerritSourceName)
	}

	// Ensure the base URL ends with /
	if !strings.HasSuffix(settings.BaseURL, "/") {
		settings.BaseURL += "/"
	}
	base, err := url.Parse(settings.BaseURL)
	if err != nil || base.Host == "" {
		return nil, config.Errorf("%s: invalid base_url %q", GerritSourceName, settings.BaseURL)
	}
	if settings.SSHPort == 0 {
		settings.SSHPort = defaultGerritSSHPort
	}

	settings.Username = env.Credentials.Resolve(settings.Username, config.GerritUsernameKey)
	settings.Password = env.Credentials.Resolve(settings.Password, config.GerritPasswordKey)

	return &GerritSource{settings: settings, baseURL: base, env: env}, nil
}

// Name returns the registry name
func (s *GerritSource) Name() string {
	return GerritSourceName
}

func (s *GerritSource) authenticated() bool {
	return s.settings.Username != "" && s.settings.Password != ""
}

// pageURL builds the listing URL starting at offset
func (s *GerritSource) pageURL(offset int) string {
	endpoint := "projects/"
	if s.authenticated() {
		endpoint = "a/" + endpoint
	}
	listURL := fmt.Sprintf("%s%s?d&n=%d&S=%d", s.settings.BaseURL, endpoint, gerritPageSize, offset)
	if s.settings.Prefix != "" {
		listURL += "&p=" + url.QueryEscape(s.settings.Prefix)
	}
	return listURL
}

// ListRepos lists all projects on the server and applies the filters
func (s *GerritSource) ListRepos(ctx context.Context) (Mapping, error) {
	headers := http.Header{}
	if s.authenticated() {
		creds := s.settings.Username + ":" + s.settings.Password
		headers.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(creds)))
	}

	s.env.logf("Listing Gerrit projects on %s", s.baseURL.Host)
	items, err := s.env.client().ListAll(ctx, s.pageURL(0), headers, s.pager)
	if err != nil {
		return nil, fmt.Errorf("failed to list Gerrit projects: %w", err)
	}

	repos := make([]*Repository, 0, len(items))
	for _, raw := range items {
		var project GerritProject
		if err := decodeItem(raw, &project); err != nil {
			return nil, err
		}
		repos = append(repos, s.convertProject(&project))
	}

	s.env.logf("Found %d Gerrit projects", len(repos))
	return FilterRepositories(repos, s.settings.ListSettings)
}

// pager reads a Gerrit project map and continues at the next offset while
// the last entry carries _more_projects
func (s *GerritSource) pager(pageURL string, resp *api.Response) ([]json.RawMessage, string, error) {
	var projects map[string]GerritProject
	if err := parseGerritResponse(resp.Body, &projects); err != nil {
		return nil, "", err
	}

	names := make([]string, 0, len(projects))
	for name := range projects {
		names = append(names, name)
	}
	sort.Strings(names)

	more := false
	items := make([]json.RawMessage, 0, len(names))
	for _, name := range names {
		project := projects[name]
		if project.MoreProjects {
			more = true
		}
		project.Name = name
		raw, err := json.Marshal(&project)
		if err != nil {
			return nil, "", err
		}
		items = append(items, raw)
	}

	if !more || len(names) == 0 {
		return items, "", nil
	}

	current, err := url.Parse(pageURL)
	if err != nil {
		return nil, "", err
	}
	offset, _ := strconv.Atoi(current.Query().Get("S"))
	return items, s.pageURL(offset + len(names)), nil
}

func (s *GerritSource) convertProject(project *GerritProject) *Repository {
	repo := &Repository{
		Name:        project.Name,
		FullName:    project.Name,
		Description: project.Description,
		Visibility:  project.State,
		Archived:    project.State == "READ_ONLY" || project.State == "HIDDEN",
		Metadata: map[string]string{
			"id":     project.ID,
			"state":  project.State,
			"parent": project.Parent,
		},
	}

	// Set clone URLs from Gerrit response
	if project.CloneLinks != nil {
		if httpClone, exists := project.CloneLinks["http"]; exists {
			repo.CloneURL = httpClone.URL
		}
		if sshClone, exists := project.CloneLinks["ssh"]; exists {
			repo.SSHCloneURL = sshClone.URL
		}
	}

	// If no clone URLs from API, construct them
	if repo.CloneURL == "" {
		repo.CloneURL = s.constructHTTPCloneURL(project.Name)
	}
	if repo.SSHCloneURL == "" {
		repo.SSHCloneURL = s.constructSSHCloneURL(project.Name)
	}

	return repo
}

func (s *GerritSource) constructHTTPCloneURL(projectName string) string {
	if s.authenticated() {
		return s.settings.BaseURL + "a/" + projectName
	}
	return s.settings.BaseURL + projectName
}

func (s *GerritSource) constructSSHCloneURL(projectName string) string {
	host := s.baseURL.Hostname()
	if s.settings.Username != "" {
		host = s.settings.Username + "@" + host
	}
	return fmt.Sprintf("ssh://%s:%d/%s", host, s.settings.SSHPort, projectName)
}

// parseGerritResponse decodes a Gerrit API body, handling the )]}' prefix
func parseGerritResponse(body []byte, target interface{}) error {
	if !bytes.HasPrefix(body, gerritMagicPrefix) {
		return fmt.Errorf("invalid Gerrit response: missing security prefix")
	}
	body = bytes.TrimPrefix(body, gerritMagicPrefix)

	if err := json.Unmarshal(body, target); err != nil {
		return fmt.Errorf("failed to decode Gerrit response: %w", err)
	}
	return nil
}
