// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: 2025 The Linux Foundation

package clone_test

import (
	"errors"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/ModeSevenIndustrialSolutions/git-forest/internal/clone"
	"github.com/ModeSevenIndustrialSolutions/git-forest/internal/provider"
)

var _ = Describe("Manifest", func() {
	var dir string

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
	})

	It("writes sorted keys with two-space indentation and a trailing newline", func() {
		path := filepath.Join(dir, clone.ManifestFile)
		Expect(clone.WriteManifest(path, provider.Mapping{
			"b":     "https://example.com/b?x=1&y=2",
			"a/<c>": "git@example.com:a/c.git",
		})).To(Succeed())

		data, err := os.ReadFile(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(Equal("{\n" +
			"  \"a/<c>\": \"git@example.com:a/c.git\",\n" +
			"  \"b\": \"https://example.com/b?x=1&y=2\"\n" +
			"}\n"))
	})

	It("writes an empty object for an empty mapping", func() {
		path := filepath.Join(dir, clone.FilteredManifestFile)
		Expect(clone.WriteManifest(path, nil)).To(Succeed())
		data, err := os.ReadFile(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(Equal("{}\n"))
	})

	It("replaces an existing file without leaving temporaries", func() {
		path := filepath.Join(dir, clone.ManifestFile)
		Expect(clone.WriteManifest(path, provider.Mapping{"old": "u"})).To(Succeed())
		Expect(clone.WriteManifest(path, provider.Mapping{"new": "u"})).To(Succeed())

		entries, err := os.ReadDir(dir)
		Expect(err).NotTo(HaveOccurred())
		Expect(entries).To(HaveLen(1))
		Expect(entries[0].Name()).To(Equal(clone.ManifestFile))

		info, err := os.Stat(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(info.Mode().Perm()).To(Equal(os.FileMode(0o644)))

		got, err := clone.ReadManifest(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal(provider.Mapping{"new": "u"}))
	})

	It("reports a missing manifest as not existing", func() {
		_, err := clone.ReadManifest(filepath.Join(dir, "absent.json"))
		Expect(errors.Is(err, os.ErrNotExist)).To(BeTrue())
	})

	It("fails when the directory does not exist", func() {
		err := clone.WriteManifest(filepath.Join(dir, "missing", clone.ManifestFile), provider.Mapping{})
		Expect(err).To(HaveOccurred())
	})
})
