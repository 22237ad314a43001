// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: 2025 The Linux Foundation

package clone_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/ModeSevenIndustrialSolutions/git-forest/internal/clone"
	"github.com/ModeSevenIndustrialSolutions/git-forest/internal/config"
	"github.com/ModeSevenIndustrialSolutions/git-forest/internal/provider"
)

var _ = Describe("Executor", func() {
	var (
		root  string
		repos *fakeRepos
	)

	BeforeEach(func() {
		root = filepath.Join(GinkgoT().TempDir(), "output")
		repos = newFakeRepos()
	})

	newExecutor := func(jobs int) *clone.Executor {
		exec, err := clone.NewExecutor(&clone.Config{OutputDir: root, Jobs: jobs}, repos)
		Expect(err).NotTo(HaveOccurred())
		return exec
	}

	readFile := func(name string) string {
		data, err := os.ReadFile(filepath.Join(root, name))
		Expect(err).NotTo(HaveOccurred())
		return string(data)
	}

	exists := func(name string) bool {
		_, err := os.Stat(filepath.Join(root, filepath.FromSlash(name)))
		return err == nil
	}

	It("requires an output directory and a git implementation", func() {
		_, err := clone.NewExecutor(&clone.Config{}, repos)
		Expect(err).To(HaveOccurred())
		_, err = clone.NewExecutor(&clone.Config{OutputDir: root}, nil)
		Expect(err).To(HaveOccurred())
	})

	It("clones every desired repository into a fresh directory", func() {
		desired := provider.Mapping{"repo1": "u1", "dir1/repo2": "u2"}

		result, err := newExecutor(2).Sync(context.Background(), nil, desired)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Failed()).To(BeFalse())
		Expect(result.Err()).NotTo(HaveOccurred())
		Expect(result.Cloned).To(Equal([]string{"dir1/repo2", "repo1"}))
		Expect(result.Updated).To(BeEmpty())
		Expect(result.Summary()).To(Equal("cloned 2, updated 0, removed 0, failed 0"))
		Expect(result.Stats.CompletedJobs).To(BeEquivalentTo(2))

		Expect(exists("repo1/.git")).To(BeTrue())
		Expect(exists("dir1/repo2/.git")).To(BeTrue())
		Expect(readFile(clone.ManifestFile)).To(Equal(
			"{\n  \"dir1/repo2\": \"u2\",\n  \"repo1\": \"u1\"\n}\n"))
		Expect(readFile(clone.FilteredManifestFile)).To(Equal(readFile(clone.ManifestFile)))
	})

	It("writes the unfiltered listing to repos.json", func() {
		all := provider.Mapping{"repo1": "u1", "skipped": "u9"}
		desired := provider.Mapping{"repo1": "u1"}

		_, err := newExecutor(1).Sync(context.Background(), all, desired)
		Expect(err).NotTo(HaveOccurred())
		Expect(readFile(clone.ManifestFile)).To(ContainSubstring(`"skipped": "u9"`))
		Expect(readFile(clone.FilteredManifestFile)).NotTo(ContainSubstring("skipped"))
		Expect(exists("skipped")).To(BeFalse())
	})

	It("updates instead of cloning on a second run and rewrites identical manifests", func() {
		desired := provider.Mapping{"repo1": "u1", "dir1/repo2": "u2"}
		_, err := newExecutor(2).Sync(context.Background(), nil, desired)
		Expect(err).NotTo(HaveOccurred())
		first := readFile(clone.ManifestFile)
		firstFiltered := readFile(clone.FilteredManifestFile)

		result, err := newExecutor(2).Sync(context.Background(), nil, desired)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Cloned).To(BeEmpty())
		Expect(result.Updated).To(Equal([]string{"dir1/repo2", "repo1"}))
		Expect(repos.cloned()).To(Equal([]string{"u1", "u2"}))
		Expect(repos.updated()).To(Equal([]string{"u1", "u2"}))
		Expect(readFile(clone.ManifestFile)).To(Equal(first))
		Expect(readFile(clone.FilteredManifestFile)).To(Equal(firstFiltered))
	})

	It("removes repositories that are no longer desired and prunes empty parents", func() {
		_, err := newExecutor(1).Sync(context.Background(), nil, provider.Mapping{"dir1/repo2": "u2"})
		Expect(err).NotTo(HaveOccurred())

		result, err := newExecutor(1).Sync(context.Background(), nil, provider.Mapping{"repo1": "u1"})
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Removed).To(Equal([]string{"dir1/repo2"}))
		Expect(exists("dir1")).To(BeFalse())
		Expect(exists("repo1/.git")).To(BeTrue())
		Expect(exists(clone.ManifestFile)).To(BeTrue())
	})

	It("keeps parent directories that still hold other checkouts", func() {
		_, err := newExecutor(1).Sync(context.Background(), nil, provider.Mapping{"dir1/a": "ua", "dir1/b": "ub"})
		Expect(err).NotTo(HaveOccurred())

		_, err = newExecutor(1).Sync(context.Background(), nil, provider.Mapping{"dir1/b": "ub"})
		Expect(err).NotTo(HaveOccurred())
		Expect(exists("dir1/a")).To(BeFalse())
		Expect(exists("dir1/b/.git")).To(BeTrue())
	})

	It("replaces a checkout with one at its parent path", func() {
		_, err := newExecutor(2).Sync(context.Background(), nil, provider.Mapping{"a/b": "old"})
		Expect(err).NotTo(HaveOccurred())

		result, err := newExecutor(2).Sync(context.Background(), nil, provider.Mapping{"a": "new"})
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Failed()).To(BeFalse())
		Expect(result.Removed).To(Equal([]string{"a/b"}))
		Expect(result.Cloned).To(Equal([]string{"a"}))
		Expect(exists("a/.git")).To(BeTrue())
		Expect(exists("a/b")).To(BeFalse())
	})

	It("replaces a checkout with one nested below it", func() {
		_, err := newExecutor(2).Sync(context.Background(), nil, provider.Mapping{"a": "old"})
		Expect(err).NotTo(HaveOccurred())

		result, err := newExecutor(2).Sync(context.Background(), nil, provider.Mapping{"a/b": "new"})
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Failed()).To(BeFalse())
		Expect(exists("a/b/.git")).To(BeTrue())
		Expect(exists("a/.git")).To(BeFalse())
	})

	It("isolates a failing repository from its siblings", func() {
		repos.fail["u2"] = errors.New("fatal: repository not found")
		desired := provider.Mapping{"repo1": "u1", "repo2": "u2", "repo3": "u3"}

		result, err := newExecutor(3).Sync(context.Background(), nil, desired)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Failed()).To(BeTrue())
		Expect(result.Err()).To(MatchError(ContainSubstring("repo2")))
		Expect(result.Errors).To(HaveLen(1))
		Expect(result.Errors[0].Name).To(Equal("repo2"))
		Expect(result.Errors[0].Op).To(Equal(clone.ActionClone))
		Expect(result.Cloned).To(Equal([]string{"repo1", "repo3"}))

		Expect(result.Converged).To(Equal(provider.Mapping{"repo1": "u1", "repo3": "u3"}))
		Expect(readFile(clone.FilteredManifestFile)).NotTo(ContainSubstring("repo2"))
		Expect(readFile(clone.ManifestFile)).To(ContainSubstring("repo2"))
	})

	It("retries a failed repository from a fresh clone on the next run", func() {
		repos.fail["u1"] = errors.New("fatal: unable to access")
		_, err := newExecutor(1).Sync(context.Background(), nil, provider.Mapping{"repo1": "u1"})
		Expect(err).NotTo(HaveOccurred())

		delete(repos.fail, "u1")
		result, err := newExecutor(1).Sync(context.Background(), nil, provider.Mapping{"repo1": "u1"})
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Cloned).To(Equal([]string{"repo1"}))
		Expect(result.Failed()).To(BeFalse())
	})

	It("drops an existing checkout from disk and forest when its update fails", func() {
		_, err := newExecutor(1).Sync(context.Background(), nil, provider.Mapping{"group/repo1": "u1", "repo2": "u2"})
		Expect(err).NotTo(HaveOccurred())

		repos.fail["u1"] = errors.New("fatal: could not read from remote")
		result, err := newExecutor(1).Sync(context.Background(), nil, provider.Mapping{"group/repo1": "u1", "repo2": "u2"})
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Errors).To(HaveLen(1))
		Expect(result.Errors[0].Op).To(Equal(clone.ActionUpdate))
		Expect(result.Converged).To(Equal(provider.Mapping{"repo2": "u2"}))
		Expect(exists("group/repo1")).To(BeFalse())
		Expect(exists("group")).To(BeFalse())

		result, err = newExecutor(1).Sync(context.Background(), nil, provider.Mapping{"repo2": "u2"})
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Failed()).To(BeFalse())
		Expect(exists("group/repo1")).To(BeFalse())
		Expect(exists("repo2")).To(BeTrue())
	})

	It("clones a repository again after its update failed", func() {
		_, err := newExecutor(1).Sync(context.Background(), nil, provider.Mapping{"repo1": "u1"})
		Expect(err).NotTo(HaveOccurred())

		repos.fail["u1"] = errors.New("fatal: could not read from remote")
		_, err = newExecutor(1).Sync(context.Background(), nil, provider.Mapping{"repo1": "u1"})
		Expect(err).NotTo(HaveOccurred())

		delete(repos.fail, "u1")
		result, err := newExecutor(1).Sync(context.Background(), nil, provider.Mapping{"repo1": "u1"})
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Cloned).To(Equal([]string{"repo1"}))
		Expect(exists("repo1/.git")).To(BeTrue())
	})

	It("does not leave an untracked checkout behind when a cancelled update never runs", func() {
		_, err := newExecutor(1).Sync(context.Background(), nil, provider.Mapping{"a": "ua"})
		Expect(err).NotTo(HaveOccurred())

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		result, err := newExecutor(1).Sync(ctx, nil, provider.Mapping{"a": "ua"})
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Errors).To(HaveLen(1))
		Expect(result.Converged).To(BeEmpty())
		Expect(exists("a")).To(BeFalse())
	})

	It("produces the same forest regardless of the job count", func() {
		desired := provider.Mapping{}
		for _, name := range []string{"a", "b", "c/d", "c/e", "f/g/h", "i"} {
			desired[name] = "url-" + name
		}
		repos.fail["url-c/e"] = errors.New("boom")

		serial, err := newExecutor(1).Sync(context.Background(), nil, desired)
		Expect(err).NotTo(HaveOccurred())
		serialManifest := readFile(clone.FilteredManifestFile)

		root = filepath.Join(GinkgoT().TempDir(), "parallel")
		parallel, err := newExecutor(4).Sync(context.Background(), nil, desired)
		Expect(err).NotTo(HaveOccurred())

		Expect(readFile(clone.FilteredManifestFile)).To(Equal(serialManifest))
		Expect(parallel.Cloned).To(Equal(serial.Cloned))
		Expect(parallel.Errors).To(HaveLen(len(serial.Errors)))
	})

	It("clears untracked content before cloning", func() {
		Expect(os.MkdirAll(filepath.Join(root, "repo1"), 0o755)).To(Succeed())
		Expect(os.WriteFile(filepath.Join(root, "repo1", "stale.txt"), []byte("x"), 0o644)).To(Succeed())

		result, err := newExecutor(1).Sync(context.Background(), nil, provider.Mapping{"repo1": "u1"})
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Cloned).To(Equal([]string{"repo1"}))
		Expect(exists("repo1/stale.txt")).To(BeFalse())
		Expect(exists("repo1/.git")).To(BeTrue())
	})

	It("rejects invalid names before touching the output directory", func() {
		_, err := newExecutor(1).Sync(context.Background(), nil, provider.Mapping{"../escape": "u"})
		Expect(err).To(HaveOccurred())
		Expect(config.IsConfigurationError(err)).To(BeTrue())
		Expect(repos.cloned()).To(BeEmpty())
		_, statErr := os.Stat(root)
		Expect(os.IsNotExist(statErr)).To(BeTrue())
	})

	It("reports every finished action to the progress callback", func() {
		_, err := newExecutor(1).Sync(context.Background(), nil, provider.Mapping{"old": "u0"})
		Expect(err).NotTo(HaveOccurred())

		var mu sync.Mutex
		seen := map[string]clone.Action{}
		exec, err := clone.NewExecutor(&clone.Config{
			OutputDir: root,
			Jobs:      2,
			Progress: func(o clone.Outcome) {
				mu.Lock()
				defer mu.Unlock()
				seen[o.Name] = o.Action
			},
		}, repos)
		Expect(err).NotTo(HaveOccurred())

		_, err = exec.Sync(context.Background(), nil, provider.Mapping{"new1": "u1", "new2": "u2"})
		Expect(err).NotTo(HaveOccurred())
		Expect(seen).To(Equal(map[string]clone.Action{
			"new1": clone.ActionClone,
			"new2": clone.ActionClone,
			"old":  clone.ActionRemove,
		}))
	})

	It("fails actions that exceed the per-repository timeout", func() {
		repos.block = make(chan struct{})
		defer close(repos.block)

		exec, err := clone.NewExecutor(&clone.Config{OutputDir: root, Jobs: 2, Timeout: 50 * time.Millisecond}, repos)
		Expect(err).NotTo(HaveOccurred())

		result, err := exec.Sync(context.Background(), nil, provider.Mapping{"slow": "u1"})
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Errors).To(HaveLen(1))
		Expect(errors.Is(result.Errors[0], context.DeadlineExceeded)).To(BeTrue())
		Expect(result.Converged).To(BeEmpty())
	})

	It("records every repository as failed when the context is already cancelled", func() {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		result, err := newExecutor(2).Sync(ctx, nil, provider.Mapping{"a": "ua", "b": "ub"})
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Errors).To(HaveLen(2))
		Expect(result.Converged).To(BeEmpty())
		Expect(repos.cloned()).To(BeEmpty())
	})
})
