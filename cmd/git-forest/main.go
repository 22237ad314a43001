// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: 2025 The Linux Foundation

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/ModeSevenIndustrialSolutions/git-forest/internal/api"
	"github.com/ModeSevenIndustrialSolutions/git-forest/internal/clone"
	"github.com/ModeSevenIndustrialSolutions/git-forest/internal/config"
	"github.com/ModeSevenIndustrialSolutions/git-forest/internal/git"
	"github.com/ModeSevenIndustrialSolutions/git-forest/internal/provider"
	sshauth "github.com/ModeSevenIndustrialSolutions/git-forest/internal/ssh"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// Options holds the command line flags
type Options struct {
	ConfigFile   string
	Jobs         int
	Verbose      bool
	Timeout      time.Duration
	Repo         string
	Branch       string
	TargetBranch string
}

type app struct {
	opts     Options
	out      io.Writer
	glyphs   glyphs
	registry *provider.Registry

	// jobsSet is true when --jobs overrides the config file
	jobsSet bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stdout).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	a := &app{
		out:      out,
		glyphs:   glyphsFor(out),
		registry: provider.DefaultRegistry(),
	}

	rootCmd := &cobra.Command{
		Use:   "git-forest",
		Short: "Keep a directory of git checkouts in sync with a forge organization",
		Long: `git-forest mirrors every repository of a source (a GitHub, GitLab or Gitea
organization, a Gerrit server or a static JSON file) into a local directory,
keeps the checkouts on the remote HEAD, removes what is gone, and opens pull or
merge requests for branches committed inside a checkout.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			a.jobsSet = cmd.Flags().Changed("jobs")
		},
	}

	cloneCmd := &cobra.Command{
		Use:   "clone",
		Short: "Clone, update and prune the repositories of the configured source",
		Long: `Converge output_dir onto the configured source: clone new repositories,
reset existing checkouts to their remote HEAD and remove checkouts that are no
longer listed. repos.json and repos_filtered.json are written at the end.

Examples:
  git-forest clone                                 # Uses ./all-repos.json
  git-forest clone --config-file forest.yaml -j 8  # Eight concurrent git processes
  git-forest clone --timeout 10m                   # Fail any single clone after 10 minutes`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runClone(cmd.Context())
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "Print the filtered repository mapping without cloning",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runList(cmd.Context())
		},
	}

	publishCmd := &cobra.Command{
		Use:   "publish",
		Short: "Push a committed branch and open a pull or merge request",
		Long: `Push --branch from the checkout at --repo to origin and open a pull or merge
request against --target-branch with the configured push adapter. Without
--target-branch the request targets the branch origin's HEAD points to. The
title and description come from the HEAD commit message.

Running publish twice opens two requests.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runPublish(cmd.Context())
		},
	}

	sshCmd := &cobra.Command{
		Use:   "ssh-check",
		Short: "Check SSH agent, keys and connectivity to the hosts in repos_filtered.json",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runSSHCheck(cmd.Context())
		},
	}

	rootCmd.PersistentFlags().StringVarP(&a.opts.ConfigFile, "config-file", "C", config.DefaultConfigFile, "Path to the configuration file")
	rootCmd.PersistentFlags().IntVarP(&a.opts.Jobs, "jobs", "j", 0, "Concurrent git operations (default: jobs from the config file, else all CPUs)")
	rootCmd.PersistentFlags().BoolVarP(&a.opts.Verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().DurationVar(&a.opts.Timeout, "timeout", 0, "Deadline for each git operation (0 = none)")

	publishCmd.Flags().StringVar(&a.opts.Repo, "repo", ".", "Checkout holding the committed branch")
	publishCmd.Flags().StringVar(&a.opts.Branch, "branch", "", "Branch to push and propose")
	publishCmd.Flags().StringVar(&a.opts.TargetBranch, "target-branch", "", "Branch the request targets (default: origin's default branch)")
	_ = publishCmd.MarkFlagRequired("branch")

	rootCmd.AddCommand(cloneCmd, listCmd, publishCmd, sshCmd)
	return rootCmd
}

// load reads the config file and its credentials. The permission guard runs
// on both files before anything is parsed.
func (a *app) load() (*config.Config, *provider.Env, error) {
	cfg, err := config.Load(a.opts.ConfigFile)
	if err != nil {
		return nil, nil, err
	}

	credentialsPath := cfg.CredentialsFile
	if credentialsPath == "" {
		credentialsPath = config.FindCredentialsFile()
	}
	credentials := config.NewCredentialsLoader(credentialsPath)
	if err := credentials.LoadCredentials(); err != nil {
		return nil, nil, err
	}
	if a.opts.Verbose {
		if credentialsPath != "" {
			fmt.Fprintf(a.out, "Using credentials file: %s\n", credentialsPath)
		}
		fmt.Fprintf(a.out, "Available credentials: %s\n", availableCredentials(credentials))
	}

	apiConfig := api.DefaultConfig()
	apiConfig.Verbose = a.opts.Verbose

	env := &provider.Env{
		API:         api.NewClient(apiConfig),
		Credentials: credentials,
		BaseDir:     filepath.Dir(cfg.Path()),
		Verbose:     a.opts.Verbose,
	}
	return cfg, env, nil
}

// listDesired runs the source adapter and applies include/exclude
func (a *app) listDesired(ctx context.Context, cfg *config.Config, env *provider.Env) (all, desired provider.Mapping, err error) {
	src, err := a.registry.NewSource(cfg.Source, &cfg.SourceSettings, env)
	if err != nil {
		return nil, nil, err
	}

	all, err = src.ListRepos(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list repositories from %s: %w", src.Name(), err)
	}

	desired, err = all.Select(cfg.Include, cfg.Exclude)
	if err != nil {
		return nil, nil, err
	}
	return all, desired, nil
}

func (a *app) newRunner(urls []string) *git.ExecRunner {
	runner := git.NewExecRunner()
	runner.Verbose = a.opts.Verbose
	if sshauth.AnySSH(urls) {
		runner.Env = append(runner.Env, sshauth.GitEnv()...)
	}
	return runner
}

func (a *app) runClone(ctx context.Context) error {
	cfg, env, err := a.load()
	if err != nil {
		return err
	}

	all, desired, err := a.listDesired(ctx, cfg, env)
	if err != nil {
		return err
	}

	jobs := cfg.Jobs
	if a.jobsSet {
		jobs = a.opts.Jobs
	}

	executor, err := clone.NewExecutor(&clone.Config{
		OutputDir: cfg.OutputDir,
		Jobs:      jobs,
		Timeout:   a.opts.Timeout,
		Verbose:   a.opts.Verbose,
		Progress:  a.printOutcome,
	}, git.New(a.newRunner(urls(desired))))
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "Syncing %d repositories into %s (%d jobs)\n",
		len(desired), cfg.OutputDir, clone.ResolveJobs(jobs))

	result, err := executor.Sync(ctx, all, desired)
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "\n%s in %s\n", result.Summary(), result.Duration().Round(time.Millisecond))
	return result.Err()
}

func (a *app) printOutcome(o clone.Outcome) {
	if o.Err != nil {
		fmt.Fprintf(a.out, "%s %s %s [%s]\n", a.glyphs.fail, o.Action, o.Name, git.Classify(o.Err))
		if a.opts.Verbose {
			fmt.Fprintf(a.out, "    %v\n", o.Err)
		}
		return
	}
	switch o.Action {
	case clone.ActionRemove:
		fmt.Fprintf(a.out, "%s %s\n", a.glyphs.removed, o.Name)
	default:
		fmt.Fprintf(a.out, "%s %s (%s)\n", a.glyphs.ok, o.Name, o.Action)
	}
}

func (a *app) runList(ctx context.Context) error {
	cfg, env, err := a.load()
	if err != nil {
		return err
	}

	_, desired, err := a.listDesired(ctx, cfg, env)
	if err != nil {
		return err
	}

	for _, name := range desired.Names() {
		fmt.Fprintf(a.out, "%s\t%s\n", name, desired[name])
	}
	return nil
}

func (a *app) runPublish(ctx context.Context) error {
	cfg, env, err := a.load()
	if err != nil {
		return err
	}
	if cfg.Push == "" {
		return config.Errorf("%s: push is not configured", cfg.Path())
	}

	dir, err := filepath.Abs(a.opts.Repo)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", a.opts.Repo, err)
	}

	runner := git.NewExecRunner()
	runner.Verbose = a.opts.Verbose
	runner.Timeout = a.opts.Timeout
	// The remote is only known once git reports it, so batch mode is always on
	runner.Env = append(runner.Env, sshauth.GitEnv()...)
	env.Git = git.New(runner)

	publisher, err := a.registry.NewPublisher(cfg.Push, &cfg.PushSettings, env)
	if err != nil {
		return err
	}

	result, err := publisher.Publish(ctx, &provider.PublishRequest{
		Dir:          dir,
		Branch:       a.opts.Branch,
		TargetBranch: a.opts.TargetBranch,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "Pull request created at %s\n", result.URL)
	return nil
}

func (a *app) runSSHCheck(ctx context.Context) error {
	cfg, err := config.Load(a.opts.ConfigFile)
	if err != nil {
		return err
	}

	auth, err := sshauth.NewAuthenticator(&sshauth.Config{Verbose: a.opts.Verbose, Timeout: 10 * time.Second})
	if err != nil {
		return fmt.Errorf("failed to create SSH authenticator: %w", err)
	}
	defer func() { _ = auth.Close() }()

	fmt.Fprintln(a.out, "SSH authentication methods:")
	usable := 0
	for _, status := range auth.Status() {
		switch {
		case status.Available:
			usable++
			fmt.Fprintf(a.out, "  %s %s\n", a.glyphs.ok, status.Name)
		case status.Err != nil:
			fmt.Fprintf(a.out, "  %s %s: %v\n", a.glyphs.fail, status.Name, status.Err)
		default:
			fmt.Fprintf(a.out, "  %s %s: not available\n", a.glyphs.fail, status.Name)
		}
	}
	if usable == 0 {
		fmt.Fprintln(a.out, "  no agent or key files found")
	}

	manifest, err := clone.ReadManifest(filepath.Join(cfg.OutputDir, clone.FilteredManifestFile))
	if errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(a.out, "\nNo %s yet; run clone first to check repository hosts\n", clone.FilteredManifestFile)
		return nil
	}
	if err != nil {
		return err
	}

	results := auth.CheckHosts(ctx, urls(manifest))
	if len(results) == 0 {
		fmt.Fprintln(a.out, "\nNo repository uses an SSH clone URL")
		return nil
	}

	fmt.Fprintln(a.out, "\nSSH hosts:")
	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			fmt.Fprintf(a.out, "  %s %s: %v\n", a.glyphs.fail, r.Endpoint, r.Err)
			continue
		}
		fmt.Fprintf(a.out, "  %s %s\n", a.glyphs.ok, r.Endpoint)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d SSH hosts failed the connection test", failed, len(results))
	}
	return nil
}

// availableCredentials names the known credentials that resolve to a value
func availableCredentials(loader *config.CredentialsLoader) string {
	var names []string
	for key, ok := range loader.ListCredentials() {
		if ok {
			names = append(names, key)
		}
	}
	if len(names) == 0 {
		return "none"
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

func urls(mapping provider.Mapping) []string {
	out := make([]string, 0, len(mapping))
	for _, name := range mapping.Names() {
		out = append(out, mapping[name])
	}
	return out
}

// glyphs are the status markers printed per repository
type glyphs struct {
	ok      string
	fail    string
	removed string
}

// glyphsFor uses emoji on terminals and plain words everywhere else
func glyphsFor(out io.Writer) glyphs {
	if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return glyphs{ok: "✅", fail: "❌", removed: "🗑️"}
	}
	return glyphs{ok: "ok", fail: "FAIL", removed: "rm"}
}
