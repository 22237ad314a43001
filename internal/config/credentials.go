// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: 2025 The Linux Foundation

package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Environment keys consulted when adapter settings leave a credential empty
const (
	GitHubTokenKey    = "GITHUB_TOKEN"
	GitLabTokenKey    = "GITLAB_TOKEN"
	GiteaTokenKey     = "GITEA_TOKEN"
	GerritUsernameKey = "GERRIT_USERNAME"
	GerritPasswordKey = "GERRIT_PASSWORD"
)

// CredentialsLoader handles loading credentials from files and environment variables
type CredentialsLoader struct {
	credentialsPath string
	fileCredentials map[string]string
}

// NewCredentialsLoader creates a new credentials loader. An empty path means
// environment variables only.
func NewCredentialsLoader(credentialsPath string) *CredentialsLoader {
	return &CredentialsLoader{
		credentialsPath: credentialsPath,
		fileCredentials: make(map[string]string),
	}
}

// LoadCredentials loads credentials from the file if it exists. The file is
// held to the same permission rule as the config file.
func (c *CredentialsLoader) LoadCredentials() error {
	if c.credentialsPath == "" {
		return nil
	}

	if _, err := os.Stat(c.credentialsPath); os.IsNotExist(err) {
		return nil
	}

	if err := CheckPermissions(c.credentialsPath); err != nil {
		return err
	}

	file, err := os.Open(c.credentialsPath)
	if err != nil {
		return fmt.Errorf("failed to open credentials file %s: %w", c.credentialsPath, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	lineNumber := 0

	for scanner.Scan() {
		lineNumber++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		line = strings.TrimPrefix(line, "export ")

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return Errorf("invalid format in credentials file %s at line %d", c.credentialsPath, lineNumber)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if len(value) >= 2 && ((strings.HasPrefix(value, `"`) && strings.HasSuffix(value, `"`)) ||
			(strings.HasPrefix(value, `'`) && strings.HasSuffix(value, `'`))) {
			value = value[1 : len(value)-1]
		}

		c.fileCredentials[key] = value
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading credentials file: %w", err)
	}

	return nil
}

// GetCredential gets a credential value, checking environment variables first, then the file
func (c *CredentialsLoader) GetCredential(key string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return c.fileCredentials[key]
}

// Resolve returns explicit when set, otherwise the first non-empty credential among keys
func (c *CredentialsLoader) Resolve(explicit string, keys ...string) string {
	if explicit != "" {
		return explicit
	}
	if c == nil {
		return ""
	}
	for _, key := range keys {
		if value := c.GetCredential(key); value != "" {
			return value
		}
	}
	return ""
}

// ListCredentials returns which of the known credentials are available
func (c *CredentialsLoader) ListCredentials() map[string]bool {
	credentials := make(map[string]bool)

	keys := []string{
		GitHubTokenKey,
		GitLabTokenKey,
		GiteaTokenKey,
		GerritUsernameKey,
		GerritPasswordKey,
	}

	for _, key := range keys {
		credentials[key] = c.GetCredential(key) != ""
	}

	return credentials
}

// FindCredentialsFile looks for a credentials file in common locations
func FindCredentialsFile() string {
	locations := []string{
		".credentials",
		".env",
	}
	if home, err := os.UserHomeDir(); err == nil {
		locations = append(locations, filepath.Join(home, ".config", "git-forest", "credentials"))
	}

	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}

	return ""
}
