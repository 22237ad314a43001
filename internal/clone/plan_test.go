// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: 2025 The Linux Foundation

package clone_test

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/ModeSevenIndustrialSolutions/git-forest/internal/clone"
	"github.com/ModeSevenIndustrialSolutions/git-forest/internal/config"
	"github.com/ModeSevenIndustrialSolutions/git-forest/internal/provider"
)

var _ = Describe("Plan", func() {
	It("splits names into clone, update and remove", func() {
		desired := provider.Mapping{"c": "u3", "a": "u1", "b": "u2"}
		forest := provider.Mapping{"b": "u2", "z": "u9", "d": "u4"}

		plan := clone.NewPlan(desired, forest)
		Expect(plan.Clone).To(Equal([]string{"a", "c"}))
		Expect(plan.Update).To(Equal([]string{"b"}))
		Expect(plan.Remove).To(Equal([]string{"d", "z"}))
		Expect(plan.Len()).To(Equal(5))
		Expect(plan.String()).To(Equal("2 to clone, 1 to update, 2 to remove"))
	})

	It("returns empty lists for empty inputs", func() {
		plan := clone.NewPlan(provider.Mapping{}, provider.Mapping{})
		Expect(plan.Clone).To(BeEmpty())
		Expect(plan.Update).To(BeEmpty())
		Expect(plan.Remove).To(BeEmpty())
		Expect(plan.Len()).To(BeZero())
	})

	It("moves removals that overlap a clone target ahead of the workers", func() {
		plan := clone.NewPlan(
			provider.Mapping{"a": "u", "x/y/z": "u", "keep": "u"},
			provider.Mapping{"a/b": "u", "x": "u", "gone": "u", "keep": "u"},
		)
		early, late := plan.SplitRemovals()
		Expect(early).To(Equal([]string{"a/b", "x"}))
		Expect(late).To(Equal([]string{"gone"}))
	})

	It("does not treat a shared name prefix as nesting", func() {
		plan := clone.NewPlan(provider.Mapping{"repo-two": "u"}, provider.Mapping{"repo": "u"})
		early, late := plan.SplitRemovals()
		Expect(early).To(BeEmpty())
		Expect(late).To(Equal([]string{"repo"}))
	})
})

var _ = Describe("ValidateName", func() {
	DescribeTable("rejects unusable names",
		func(name string) {
			err := clone.ValidateName(name)
			Expect(err).To(HaveOccurred())
			Expect(config.IsConfigurationError(err)).To(BeTrue())
		},
		Entry("empty", ""),
		Entry("absolute", "/etc/passwd"),
		Entry("parent reference", "../outside"),
		Entry("inner parent reference", "a/../../b"),
		Entry("dot element", "./a"),
		Entry("trailing slash", "a/"),
		Entry("double slash", "a//b"),
		Entry("backslash", `a\b`),
		Entry("manifest", "repos.json"),
		Entry("filtered manifest", "repos_filtered.json"),
	)

	DescribeTable("accepts relative names",
		func(name string) {
			Expect(clone.ValidateName(name)).To(Succeed())
		},
		Entry("flat", "repo1"),
		Entry("nested", "dir1/repo2"),
		Entry("deep", "releng/global-jjb/sub"),
		Entry("dotted", "example.github.io"),
	)

	It("rejects a repository nested inside another", func() {
		err := clone.ValidateNames(provider.Mapping{"a": "u", "a/b/c": "u"})
		Expect(err).To(HaveOccurred())
		Expect(config.IsConfigurationError(err)).To(BeTrue())
		Expect(err.Error()).To(ContainSubstring(`"a/b/c" is nested inside repository "a"`))
	})

	It("accepts siblings under a common directory", func() {
		Expect(clone.ValidateNames(provider.Mapping{"a/b": "u", "a/c": "u"})).To(Succeed())
	})
})

var _ = Describe("LoadForest", func() {
	It("returns an empty forest without a manifest", func() {
		forest, err := clone.LoadForest(GinkgoT().TempDir())
		Expect(err).NotTo(HaveOccurred())
		Expect(forest).To(BeEmpty())
	})

	It("keeps only manifest entries that are still checkouts", func() {
		dir := GinkgoT().TempDir()
		Expect(os.MkdirAll(filepath.Join(dir, "present", ".git"), 0o755)).To(Succeed())
		Expect(os.MkdirAll(filepath.Join(dir, "nested", "repo", ".git"), 0o755)).To(Succeed())
		Expect(os.MkdirAll(filepath.Join(dir, "nogit"), 0o755)).To(Succeed())
		Expect(clone.WriteManifest(filepath.Join(dir, clone.FilteredManifestFile), provider.Mapping{
			"present":     "u1",
			"nested/repo": "u2",
			"nogit":       "u3",
			"missing":     "u4",
			"../escape":   "u5",
		})).To(Succeed())

		forest, err := clone.LoadForest(dir)
		Expect(err).NotTo(HaveOccurred())
		Expect(forest).To(Equal(provider.Mapping{"present": "u1", "nested/repo": "u2"}))
	})

	It("fails on a corrupt manifest", func() {
		dir := GinkgoT().TempDir()
		Expect(os.WriteFile(filepath.Join(dir, clone.FilteredManifestFile), []byte("not json"), 0o644)).To(Succeed())
		_, err := clone.LoadForest(dir)
		Expect(err).To(HaveOccurred())
	})
})
