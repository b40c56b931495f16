// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package gittest contains helpers for tests that need real git repositories.
package gittest

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// Isolate skips the test if git is missing and makes git ignore the user's
// and system configuration for the rest of the test.
func Isolate(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git is not installed, skipping test")
	}

	home := t.TempDir()
	global := filepath.Join(home, ".gitconfig")
	if err := os.WriteFile(global, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("HOME", home)
	t.Setenv("GIT_CONFIG_GLOBAL", global)
	t.Setenv("GIT_CONFIG_NOSYSTEM", "1")
	t.Setenv("GIT_AUTHOR_NAME", "Test")
	t.Setenv("GIT_AUTHOR_EMAIL", "test@example.com")
	t.Setenv("GIT_COMMITTER_NAME", "Test")
	t.Setenv("GIT_COMMITTER_EMAIL", "test@example.com")
	t.Setenv("GIT_TERMINAL_PROMPT", "0")
}

// Run runs git in dir and returns trimmed stdout, failing the test on error.
func Run(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		var stderr string
		if exitErr, ok := err.(*exec.ExitError); ok {
			stderr = string(exitErr.Stderr)
		}
		t.Fatalf("git %s: %v\n%s", strings.Join(args, " "), err, stderr)
	}
	return strings.TrimSpace(string(out))
}

// NewRepo creates a repository on branch main with a single commit that adds
// files (name -> content). It returns the working tree path.
func NewRepo(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	Run(t, dir, "init", "--quiet")
	Run(t, dir, "symbolic-ref", "HEAD", "refs/heads/main")
	WriteFiles(t, dir, files)
	Run(t, dir, "add", "--all")
	Run(t, dir, "commit", "--quiet", "--allow-empty", "--message", "Initial commit")
	return dir
}

// NewRemote creates a bare repository, registers it as remote name of the
// repository in dir and returns its path.
func NewRemote(t *testing.T, dir, name string) string {
	t.Helper()
	remote := t.TempDir()
	Run(t, remote, "init", "--quiet", "--bare")
	Run(t, dir, "remote", "add", name, remote)
	return remote
}

// WriteFiles writes files (slash-separated name -> content) under dir.
func WriteFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

// Show returns the content of path at rev, as in "git show rev:path".
func Show(t *testing.T, dir, rev, path string) string {
	t.Helper()
	cmd := exec.Command("git", "show", rev+":"+path)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		t.Fatalf("git show %s:%s: %v", rev, path, err)
	}
	return string(out)
}

// LsTree returns the top-level entry names recorded at rev.
func LsTree(t *testing.T, dir, rev string) []string {
	t.Helper()
	out := Run(t, dir, "ls-tree", "--name-only", rev)
	if out == "" {
		return nil
	}
	return strings.Split(out, "\n")
}
