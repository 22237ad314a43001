// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: 2025 The Linux Foundation

// Package clone converges a directory of git checkouts (the forest) onto a
// desired mapping of repository names to clone URLs.
package clone

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ModeSevenIndustrialSolutions/git-forest/internal/git"
	"github.com/ModeSevenIndustrialSolutions/git-forest/internal/provider"
	"github.com/ModeSevenIndustrialSolutions/git-forest/internal/worker"
)

// Repos performs the git side of clone and update actions
type Repos interface {
	Clone(ctx context.Context, url, path string) error
	SyncToRemoteHead(ctx context.Context, path, url string) error
}

// Config holds configuration for sync operations
type Config struct {
	OutputDir string        // Root of the forest
	Jobs      int           // Concurrent git operations, <= 0 means runtime.NumCPU()
	Timeout   time.Duration // Per-action deadline, zero for none
	Verbose   bool

	// Progress, when set, is called once per finished action. Calls are
	// serialized.
	Progress func(Outcome)
}

// Outcome describes one finished action
type Outcome struct {
	Name     string
	URL      string
	Action   Action
	Err      error
	Duration time.Duration
}

// RepoError is the failure of a single repository. It never aborts the
// actions of other repositories.
type RepoError struct {
	Name string
	Op   Action
	Err  error
}

func (e *RepoError) Error() string {
	return fmt.Sprintf("%s %s: %s: %v", e.Op, e.Name, git.Classify(e.Err), e.Err)
}

func (e *RepoError) Unwrap() error {
	return e.Err
}

// Result is the outcome of a sync run
type Result struct {
	All       provider.Mapping // Written to repos.json
	Converged provider.Mapping // Written to repos_filtered.json
	Cloned    []string
	Updated   []string
	Removed   []string
	Errors    []*RepoError
	Stats     worker.Stats
	StartTime time.Time
	EndTime   time.Time
}

// Failed reports whether any repository failed
func (r *Result) Failed() bool {
	return len(r.Errors) > 0
}

// Err returns nil when every action succeeded and otherwise an error
// naming the failed repositories
func (r *Result) Err() error {
	if !r.Failed() {
		return nil
	}
	names := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		names = append(names, e.Name)
	}
	return fmt.Errorf("%d repositories failed to sync: %s", len(r.Errors), strings.Join(names, ", "))
}

// Duration returns the wall time of the run
func (r *Result) Duration() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}

// Summary returns a one-line count of the actions taken
func (r *Result) Summary() string {
	return fmt.Sprintf("cloned %d, updated %d, removed %d, failed %d",
		len(r.Cloned), len(r.Updated), len(r.Removed), len(r.Errors))
}

// Executor applies plans to the forest under OutputDir
type Executor struct {
	config Config
	repos  Repos
	root   string

	mu     sync.Mutex
	result *Result
}

// NewExecutor creates an executor that drives repos
func NewExecutor(config *Config, repos Repos) (*Executor, error) {
	if config == nil || config.OutputDir == "" {
		return nil, errors.New("output directory is required")
	}
	if repos == nil {
		return nil, errors.New("git implementation is required")
	}

	root, err := filepath.Abs(config.OutputDir)
	if err != nil {
		return nil, fmt.Errorf("resolving output directory: %w", err)
	}

	cfg := *config
	cfg.OutputDir = root
	return &Executor{config: cfg, repos: repos, root: root}, nil
}

// ResolveJobs maps the configured job count to the number of workers
func ResolveJobs(n int) int {
	return worker.ResolveWorkerCount(n)
}

// Sync loads the forest, plans against desired and executes the plan. all
// is the unfiltered listing persisted as repos.json.
func (e *Executor) Sync(ctx context.Context, all, desired provider.Mapping) (*Result, error) {
	if err := ValidateNames(desired); err != nil {
		return nil, err
	}
	forest, err := LoadForest(e.root)
	if err != nil {
		return nil, err
	}
	plan := NewPlan(desired, forest)
	e.logf("Plan: %s", plan)
	return e.Execute(ctx, plan, all, desired)
}

// Execute runs the clone and update actions of plan on the worker pool,
// then the removals, then writes both manifests. Per-repository failures
// are collected in the result; the returned error is reserved for
// configuration and manifest problems.
func (e *Executor) Execute(ctx context.Context, plan *Plan, all, desired provider.Mapping) (*Result, error) {
	if err := ValidateNames(desired); err != nil {
		return nil, err
	}
	for _, name := range append(append([]string{}, plan.Clone...), plan.Update...) {
		if _, ok := desired[name]; !ok {
			return nil, fmt.Errorf("planned repository %s is not in the desired mapping", name)
		}
	}
	for _, name := range plan.Remove {
		if err := ValidateName(name); err != nil {
			return nil, err
		}
	}

	if err := os.MkdirAll(e.root, 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory %s: %w", e.root, err)
	}

	e.mu.Lock()
	e.result = &Result{StartTime: time.Now()}
	e.mu.Unlock()

	failedRemovals := make(map[string]bool)
	early, late := plan.SplitRemovals()

	// Removals that overlap a clone target have to be gone before it is cloned
	blocked := make(map[string]bool)
	for _, name := range early {
		if err := e.remove(name); err != nil {
			failedRemovals[name] = true
			for _, target := range plan.Clone {
				if isAncestor(name, target) || isAncestor(target, name) {
					blocked[target] = true
				}
			}
		}
	}

	stats := e.runPool(ctx, plan, desired, blocked)

	for _, name := range late {
		if err := e.remove(name); err != nil {
			failedRemovals[name] = true
		}
	}

	result := e.finish(stats)

	// Failed repositories are left out of repos_filtered.json so the next run
	// starts them from a fresh clone. Their directories go with them, since
	// nothing outside the manifest is ever removed. Failed removals stay so
	// they are retried.
	failed := make(map[string]bool, len(result.Errors))
	for _, repoErr := range result.Errors {
		failed[repoErr.Name] = true
		if repoErr.Op == ActionRemove || blocked[repoErr.Name] || overlapsAny(repoErr.Name, failedRemovals) {
			continue
		}
		if err := e.discard(repoErr.Name); err != nil {
			e.logf("Could not discard %s: %v", repoErr.Name, err)
			if _, ok := plan.forest[repoErr.Name]; ok {
				failedRemovals[repoErr.Name] = true
			}
		}
	}
	converged := make(provider.Mapping, len(desired))
	for name, url := range desired {
		if !failed[name] {
			converged[name] = url
		}
	}
	for name := range failedRemovals {
		converged[name] = plan.forest[name]
	}

	if all == nil {
		all = desired
	}
	result.All = all
	result.Converged = converged

	if err := WriteManifest(filepath.Join(e.root, ManifestFile), all); err != nil {
		return result, err
	}
	if err := WriteManifest(filepath.Join(e.root, FilteredManifestFile), converged); err != nil {
		return result, err
	}

	e.logf("Sync finished in %s: %s", result.Duration(), result.Summary())
	return result, nil
}

// runPool distributes clone and update actions over a bounded worker pool
// and waits for all of them
func (e *Executor) runPool(ctx context.Context, plan *Plan, desired provider.Mapping, blocked map[string]bool) worker.Stats {
	jobs := ResolveJobs(e.config.Jobs)
	pool := worker.NewPool(ctx, &worker.Config{
		WorkerCount: jobs,
		MaxRetries:  1,
		QueueSize:   jobs * 2,
		LogVerbose:  e.config.Verbose,
	})
	pool.Start()

	type pending struct {
		url      string
		action   Action
		reported bool
	}
	submitted := make(map[string]*pending)

	submit := func(name string, action Action) {
		url := desired[name]
		if blocked[name] {
			e.record(Outcome{Name: name, URL: url, Action: action,
				Err: fmt.Errorf("could not clear an overlapping checkout before cloning %s", name)})
			return
		}
		p := &pending{url: url, action: action}
		job := &worker.Job{
			ID:          name,
			Description: fmt.Sprintf("%s %s", action, url),
			Execute: func(ctx context.Context) error {
				start := time.Now()
				err := e.run(ctx, name, url, action)
				p.reported = true
				e.record(Outcome{Name: name, URL: url, Action: action, Err: err, Duration: time.Since(start)})
				return err
			},
		}
		if err := pool.Submit(job); err != nil {
			e.record(Outcome{Name: name, URL: url, Action: action, Err: err})
			return
		}
		submitted[name] = p
	}

	for _, name := range plan.Clone {
		submit(name, ActionClone)
	}
	for _, name := range plan.Update {
		submit(name, ActionUpdate)
	}

	// Jobs skipped on cancellation or lost to a panic never reported themselves
	for _, job := range pool.Wait() {
		p, ok := submitted[job.ID]
		if !ok || p.reported || job.GetStatus() != worker.JobFailed {
			continue
		}
		err := job.GetError()
		if err == nil {
			err = errors.New("job did not run")
		}
		e.record(Outcome{Name: job.ID, URL: p.url, Action: p.action, Err: err})
	}
	return pool.GetStats()
}

func (e *Executor) run(ctx context.Context, name, url string, action Action) error {
	if e.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.Timeout)
		defer cancel()
	}

	dest := e.path(name)
	switch action {
	case ActionClone:
		// Anything at the path is not tracked by the manifest and is discarded
		if err := os.RemoveAll(dest); err != nil {
			return fmt.Errorf("clearing %s: %w", dest, err)
		}
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return fmt.Errorf("creating parent of %s: %w", dest, err)
		}
		e.logf("Cloning %s into %s", url, dest)
		return e.repos.Clone(ctx, url, dest)
	case ActionUpdate:
		e.logf("Updating %s from %s", dest, url)
		return e.repos.SyncToRemoteHead(ctx, dest, url)
	default:
		return fmt.Errorf("unsupported action %s", action)
	}
}

// remove deletes a checkout and prunes the directories it leaves empty
func (e *Executor) remove(name string) error {
	start := time.Now()
	dest := e.path(name)
	e.logf("Removing %s", dest)

	err := os.RemoveAll(dest)
	if err == nil {
		e.prune(filepath.Dir(dest))
	}
	e.record(Outcome{Name: name, Action: ActionRemove, Err: err, Duration: time.Since(start)})
	return err
}

// discard deletes whatever a failed clone or update left at the path of
// name, so the forest holds only checkouts the manifest tracks
func (e *Executor) discard(name string) error {
	dest := e.path(name)
	if _, err := os.Lstat(dest); os.IsNotExist(err) {
		return nil
	}
	e.logf("Discarding %s after a failed sync", dest)
	if err := os.RemoveAll(dest); err != nil {
		return err
	}
	e.prune(filepath.Dir(dest))
	return nil
}

func overlapsAny(name string, names map[string]bool) bool {
	for other := range names {
		if isAncestor(name, other) || isAncestor(other, name) {
			return true
		}
	}
	return false
}

// prune walks upward from dir deleting empty directories. It stops at the
// output root or at the first directory that still has entries.
func (e *Executor) prune(dir string) {
	for dir != e.root && strings.HasPrefix(dir, e.root+string(filepath.Separator)) {
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			return
		}
		if err := os.Remove(dir); err != nil {
			return
		}
		e.logf("Pruned empty directory %s", dir)
		dir = filepath.Dir(dir)
	}
}

func (e *Executor) path(name string) string {
	return filepath.Join(e.root, filepath.FromSlash(name))
}

// record stores an outcome and forwards it to the progress callback
func (e *Executor) record(o Outcome) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if o.Err != nil {
		e.result.Errors = append(e.result.Errors, &RepoError{Name: o.Name, Op: o.Action, Err: o.Err})
	} else {
		switch o.Action {
		case ActionClone:
			e.result.Cloned = append(e.result.Cloned, o.Name)
		case ActionUpdate:
			e.result.Updated = append(e.result.Updated, o.Name)
		case ActionRemove:
			e.result.Removed = append(e.result.Removed, o.Name)
		}
	}

	if e.config.Progress != nil {
		e.config.Progress(o)
	}
}

func (e *Executor) finish(stats worker.Stats) *Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	result := e.result
	result.Stats = stats
	result.EndTime = time.Now()
	result.Cloned = sortedCopy(result.Cloned)
	result.Updated = sortedCopy(result.Updated)
	result.Removed = sortedCopy(result.Removed)
	sortErrors(result.Errors)
	e.result = nil
	return result
}

func sortErrors(errs []*RepoError) {
	sort.Slice(errs, func(i, j int) bool {
		if errs[i].Name != errs[j].Name {
			return errs[i].Name < errs[j].Name
		}
		return errs[i].Op < errs[j].Op
	})
}

func (e *Executor) logf(format string, args ...interface{}) {
	if e.config.Verbose {
		log.Printf("[CLONE] "+format, args...)
	}
}
