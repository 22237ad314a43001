// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: 2025 The Linux Foundation

package clone_test

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/ModeSevenIndustrialSolutions/git-forest/internal/clone"
	"github.com/ModeSevenIndustrialSolutions/git-forest/internal/git"
	"github.com/ModeSevenIndustrialSolutions/git-forest/internal/provider"
)

func runGit(dir string, args ...string) string {
	full := append([]string{"-c", "user.name=Test", "-c", "user.email=test@example.com"}, args...)
	cmd := exec.Command("git", full...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	Expect(err).NotTo(HaveOccurred(), "git %s: %s", strings.Join(args, " "), out)
	return strings.TrimSpace(string(out))
}

func commit(dir, message string) string {
	runGit(dir, "commit", "--allow-empty", "--quiet", "-m", message)
	return runGit(dir, "rev-parse", "HEAD")
}

var _ = Describe("Sync against real repositories", func() {
	var (
		upstreams string
		root      string
		executor  *clone.Executor
	)

	BeforeEach(func() {
		if _, err := exec.LookPath("git"); err != nil {
			Skip("git not available")
		}
		base := GinkgoT().TempDir()
		upstreams = filepath.Join(base, "upstream")
		root = filepath.Join(base, "output")

		var err error
		executor, err = clone.NewExecutor(&clone.Config{OutputDir: root, Jobs: 2}, git.New(git.NewExecRunner()))
		Expect(err).NotTo(HaveOccurred())
	})

	initUpstream := func(name string) string {
		dir := filepath.Join(upstreams, name)
		runGit("", "init", "--quiet", dir)
		commit(dir, "initial "+name)
		return dir
	}

	head := func(dir string) string {
		return runGit(dir, "rev-parse", "HEAD")
	}

	It("clones, fast-forwards and discards local divergence", func() {
		repo1 := initUpstream("repo1")
		repo2 := initUpstream("repo2")
		desired := provider.Mapping{"repo1": repo1, "dir1/repo2": repo2}

		result, err := executor.Sync(context.Background(), nil, desired)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Failed()).To(BeFalse())
		Expect(head(filepath.Join(root, "repo1"))).To(Equal(head(repo1)))
		Expect(head(filepath.Join(root, "dir1", "repo2"))).To(Equal(head(repo2)))

		// Upstream moves on while the local checkout grows its own commit
		rev := commit(repo1, "second")
		local := filepath.Join(root, "repo1")
		commit(local, "local only")
		Expect(os.WriteFile(filepath.Join(local, "dirty.txt"), []byte("x"), 0o644)).To(Succeed())
		runGit(local, "add", "dirty.txt")

		result, err = executor.Sync(context.Background(), nil, desired)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Updated).To(Equal([]string{"dir1/repo2", "repo1"}))
		Expect(head(local)).To(Equal(rev))
		_, statErr := os.Stat(filepath.Join(local, "dirty.txt"))
		Expect(os.IsNotExist(statErr)).To(BeTrue())
	})

	It("follows a changed clone URL for an existing checkout", func() {
		first := initUpstream("first")
		second := initUpstream("second")

		_, err := executor.Sync(context.Background(), nil, provider.Mapping{"repo": first})
		Expect(err).NotTo(HaveOccurred())

		_, err = executor.Sync(context.Background(), nil, provider.Mapping{"repo": second})
		Expect(err).NotTo(HaveOccurred())
		checkout := filepath.Join(root, "repo")
		Expect(head(checkout)).To(Equal(head(second)))
		Expect(runGit(checkout, "config", "remote.origin.url")).To(Equal(second))
	})

	It("keeps going when one repository cannot be cloned", func() {
		good := initUpstream("good")
		result, err := executor.Sync(context.Background(), nil, provider.Mapping{
			"good":    good,
			"missing": filepath.Join(upstreams, "does-not-exist"),
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Errors).To(HaveLen(1))
		Expect(result.Errors[0].Name).To(Equal("missing"))
		Expect(result.Converged).To(Equal(provider.Mapping{"good": good}))
		Expect(head(filepath.Join(root, "good"))).To(Equal(head(good)))
	})
})
