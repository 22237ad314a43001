// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: 2025 The Linux Foundation

package config

import (
	"fmt"
	"os"
)

// RequiredMode is the only permission set accepted for files holding credentials
const RequiredMode os.FileMode = 0o600

// CheckPermissions refuses files readable or writable by anyone but the owner.
// It must run before the file is opened for reading.
func CheckPermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return &ConfigurationError{Message: fmt.Sprintf("cannot stat %s", path), Err: err}
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		return &ConfigurationError{
			Message: fmt.Sprintf("%s has too-permissive permissions, Expected 0o%o, got 0o%o",
				path, RequiredMode, mode),
		}
	}

	return nil
}
