// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package deploy

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/css"
	"github.com/tdewolff/minify/v2/html"
	"github.com/tdewolff/minify/v2/js"
	mjson "github.com/tdewolff/minify/v2/json"
	"github.com/tdewolff/minify/v2/svg"
)

type min struct {
	m *minify.M
}

func newMin() *min {
	m := minify.New()
	m.AddFunc("text/css", css.Minify)
	m.Add("text/html", &html.Minifier{
		KeepDocumentTags:    true,
		KeepDefaultAttrVals: true,
		KeepEndTags:         true,
	})
	m.AddFunc("application/javascript", js.Minify)
	m.AddFunc("application/json", mjson.Minify)
	m.AddFunc("image/svg+xml", svg.Minify)

	return &min{m: m}
}

var mediaTypes = map[string]string{
	".css":  "text/css",
	".htm":  "text/html",
	".html": "text/html",
	".js":   "application/javascript",
	".mjs":  "application/javascript",
	".json": "application/json",
	".svg":  "image/svg+xml",
}

// Bytes minifies b if path has a known extension and returns it unchanged
// otherwise.
func (m *min) Bytes(path string, b []byte) ([]byte, error) {
	mediaType, ok := mediaTypes[filepath.Ext(path)]
	if !ok {
		return b, nil
	}
	minified, err := m.m.Bytes(mediaType, b)
	if err != nil {
		return nil, fmt.Errorf("%s: minify: %w", path, err)
	}
	return minified, nil
}

// copyDir recursively copies the contents of src into dst, creating dst if
// needed. File permission bits are preserved. If m is not nil, files with a
// known media type are minified on the way.
func copyDir(dst, src string, m *min) error {
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return err
	}
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		info, err := d.Info()
		if err != nil {
			return err
		}

		switch {
		case d.IsDir():
			return os.MkdirAll(target, info.Mode().Perm()|0o700)
		case d.Type()&fs.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			os.Remove(target)
			return os.Symlink(link, target)
		case !d.Type().IsRegular():
			return nil
		}

		if m != nil {
			return copyMinified(target, path, info.Mode().Perm(), m)
		}
		return copyFile(target, path, info.Mode().Perm())
	})
}

func copyFile(dst, src string, perm fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func copyMinified(dst, src string, perm fs.FileMode, m *min) error {
	b, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	b, err = m.Bytes(src, b)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, b, perm)
}

// keepFunc reports whether a top-level entry must survive cleaning.
type keepFunc func(name string) bool

// keepMatcher returns a keepFunc matching the names in fixed exactly and
// the names matched by any of globs.
func keepMatcher(fixed, globs []string) (keepFunc, error) {
	for _, g := range globs {
		if !doublestar.ValidatePattern(g) {
			return nil, fmt.Errorf("%w: bad keep pattern %q", errConfigInvalid, g)
		}
	}
	return func(name string) bool {
		if slices.Contains(fixed, name) {
			return true
		}
		for _, g := range globs {
			if ok, _ := doublestar.Match(g, name); ok {
				return true
			}
		}
		return false
	}, nil
}

// cleanDir removes every top-level entry of dir that keep doesn't protect.
// It returns the names of removed and kept entries.
func cleanDir(dir string, keep keepFunc) (removed, kept []string, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, err
	}
	for _, e := range entries {
		if keep(e.Name()) {
			kept = append(kept, e.Name())
			continue
		}
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return removed, kept, err
		}
		removed = append(removed, e.Name())
	}
	return removed, kept, nil
}
