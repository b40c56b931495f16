// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package devtools contains common functionality for development tools.
package devtools

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"go.astrophena.name/base/unwrap"
)

// ErrNotRoot is returned by CheckRoot outside the repository root.
var ErrNotRoot = errors.New("not at repository root")

// CheckRoot returns ErrNotRoot if the current working directory is not the
// repository root, identified by go.mod and .git.
func CheckRoot() error {
	wd := unwrap.Value(os.Getwd())
	for _, name := range []string{"go.mod", ".git"} {
		if _, err := os.Stat(filepath.Join(wd, name)); errors.Is(err, fs.ErrNotExist) {
			return ErrNotRoot
		} else if err != nil {
			return err
		}
	}
	return nil
}
