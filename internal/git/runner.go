// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: 2025 The Linux Foundation

// Package git wraps the git command line for the few operations the forest needs.
package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Runner executes git with args inside dir and returns trimmed stdout
type Runner interface {
	Run(ctx context.Context, dir string, args ...string) (string, error)
}

// CommandError describes a failed git invocation
type CommandError struct {
	Args   []string
	Dir    string
	Output string
	Err    error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("git %s failed: %v", strings.Join(e.Args, " "), e.Err)
	if e.Output != "" {
		msg += "\nOutput: " + e.Output
	}
	return msg
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// ExecRunner runs the git binary as a subprocess
type ExecRunner struct {
	// Env is appended to the inherited environment
	Env []string

	// Timeout bounds each invocation; zero means no deadline
	Timeout time.Duration

	// DisableCredentialHelpers stops git from prompting for passwords
	DisableCredentialHelpers bool

	Verbose bool
}

// NewExecRunner returns a runner that never prompts
func NewExecRunner() *ExecRunner {
	return &ExecRunner{DisableCredentialHelpers: true}
}

// Run implements Runner
func (r *ExecRunner) Run(ctx context.Context, dir string, args ...string) (string, error) {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	var fullArgs []string
	if r.DisableCredentialHelpers {
		fullArgs = append(fullArgs, "-c", "credential.helper=", "-c", "core.askpass=")
	}
	fullArgs = append(fullArgs, args...)

	r.logf("Executing: git %s (dir: %s)", strings.Join(args, " "), dir)

	cmd := exec.CommandContext(ctx, "git", fullArgs...)
	cmd.Dir = dir
	cmd.Env = os.Environ()
	if r.DisableCredentialHelpers {
		cmd.Env = append(cmd.Env,
			"GIT_ASKPASS=",
			"SSH_ASKPASS=",
			"GIT_TERMINAL_PROMPT=0",
		)
	}
	cmd.Env = append(cmd.Env, r.Env...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = fmt.Errorf("%w: %w", ctxErr, err)
		}
		return "", &CommandError{
			Args:   args,
			Dir:    dir,
			Output: strings.TrimSpace(stderr.String() + stdout.String()),
			Err:    err,
		}
	}

	return strings.TrimSpace(stdout.String()), nil
}

func (r *ExecRunner) logf(format string, args ...interface{}) {
	if r.Verbose {
		log.Printf("[GIT] "+format, args...)
	}
}

// Classify maps a git failure to a short, actionable category
func Classify(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	if errors.Is(err, context.Canceled) {
		return "cancelled"
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "rate limit", "too many requests", "abuse detection"):
		return "rate limited"
	case containsAny(msg, "terminal prompts disabled", "could not read username", "could not read password"):
		return "credentials required"
	case containsAny(msg, "authentication failed", "permission denied", "access denied", "host key verification failed"):
		return "authentication failed"
	case containsAny(msg, "could not resolve host", "connection timed out", "network is unreachable", "connection refused"):
		return "network error"
	case containsAny(msg, "repository not found", "does not exist", "not found"):
		return "repository not found"
	case containsAny(msg, "already exists and is not an empty directory"):
		return "destination path exists and is not empty"
	default:
		return "git error"
	}
}

func containsAny(msg string, needles ...string) bool {
	for _, needle := range needles {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}
