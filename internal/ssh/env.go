// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: 2025 The Linux Foundation

// Package ssh provides non-interactive SSH support for git operations and
// connectivity diagnostics for the hosts of SSH clone URLs
package ssh

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
)

// BatchOptions keep ssh from prompting for passwords, passphrases or host
// key confirmation
const BatchOptions = "-o BatchMode=yes -o ConnectTimeout=30"

// DefaultCommand is the GIT_SSH_COMMAND used when the environment sets none
const DefaultCommand = "ssh " + BatchOptions

const (
	defaultUser = "git"
	defaultPort = 22
)

// Endpoint is the SSH host a clone URL connects to
type Endpoint struct {
	User string
	Host string
	Port int
}

// Address returns host:port
func (e Endpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s@%s", e.User, e.Address())
}

// IsSSHURL reports whether a clone URL is fetched over SSH, either as
// ssh://host/path or in scp form user@host:path
func IsSSHURL(raw string) bool {
	if i := strings.Index(raw, "://"); i >= 0 {
		scheme := strings.ToLower(raw[:i])
		return scheme == "ssh" || scheme == "git+ssh" || scheme == "ssh+git"
	}
	colon := strings.Index(raw, ":")
	if colon <= 0 {
		return false
	}
	// A slash before the colon makes it a local path
	if strings.Contains(raw[:colon], "/") {
		return false
	}
	// C:\repo and C:/repo are drive letters
	return colon > 1
}

// ParseEndpoint extracts the host of an SSH clone URL. The user defaults to
// git and the port to 22.
func ParseEndpoint(raw string) (Endpoint, error) {
	if !IsSSHURL(raw) {
		return Endpoint{}, fmt.Errorf("%s is not an SSH URL", raw)
	}

	ep := Endpoint{User: defaultUser, Port: defaultPort}

	if strings.Contains(raw, "://") {
		u, err := url.Parse(raw)
		if err != nil {
			return Endpoint{}, fmt.Errorf("invalid SSH URL %s: %w", raw, err)
		}
		if u.User != nil && u.User.Username() != "" {
			ep.User = u.User.Username()
		}
		ep.Host = u.Hostname()
		if p := u.Port(); p != "" {
			port, err := strconv.Atoi(p)
			if err != nil {
				return Endpoint{}, fmt.Errorf("invalid port in %s: %w", raw, err)
			}
			ep.Port = port
		}
	} else {
		hostPart := raw[:strings.Index(raw, ":")]
		if at := strings.LastIndex(hostPart, "@"); at >= 0 {
			ep.User = hostPart[:at]
			hostPart = hostPart[at+1:]
		}
		ep.Host = hostPart
	}

	if ep.Host == "" {
		return Endpoint{}, fmt.Errorf("SSH URL %s has no host", raw)
	}
	return ep, nil
}

// Endpoints returns the distinct SSH endpoints among urls, sorted by
// address then user. Non-SSH URLs are ignored.
func Endpoints(urls []string) []Endpoint {
	seen := make(map[Endpoint]bool)
	var out []Endpoint
	for _, raw := range urls {
		ep, err := ParseEndpoint(raw)
		if err != nil || seen[ep] {
			continue
		}
		seen[ep] = true
		out = append(out, ep)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Address() != out[j].Address() {
			return out[i].Address() < out[j].Address()
		}
		return out[i].User < out[j].User
	})
	return out
}

// AnySSH reports whether at least one of urls is an SSH URL
func AnySSH(urls []string) bool {
	for _, raw := range urls {
		if IsSSHURL(raw) {
			return true
		}
	}
	return false
}

// GitEnv returns the environment additions that make git's ssh
// invocations fail instead of prompting. A GIT_SSH_COMMAND already present
// in the environment is kept with the batch options appended.
func GitEnv() []string {
	command := DefaultCommand
	if existing := strings.TrimSpace(os.Getenv("GIT_SSH_COMMAND")); existing != "" {
		command = existing + " " + BatchOptions
	}
	return []string{"GIT_SSH_COMMAND=" + command}
}
