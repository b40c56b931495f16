// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package git runs git commands against a working tree.
//
// It shells out to the git binary, so the user's configuration (identity,
// credentials, SSH setup) applies as usual.
package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"slices"
	"strings"
)

// ErrGitNotFound is returned when git is not installed or not in PATH.
var ErrGitNotFound = errors.New("git is not installed or not in PATH")

// Error is returned when a git command exits unsuccessfully.
type Error struct {
	Args     []string
	ExitCode int
	Stderr   string
}

func (e *Error) Error() string {
	cmd := "git " + strings.Join(e.Args, " ")
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		return fmt.Sprintf("%s failed (exit %d): %s", cmd, e.ExitCode, stderr)
	}
	return fmt.Sprintf("%s failed (exit %d)", cmd, e.ExitCode)
}

// Available reports whether git is in PATH.
func Available() bool {
	_, err := exec.LookPath("git")
	return err == nil
}

// Repo is a git working tree.
type Repo struct {
	// Dir is the working tree root. If empty, the current directory is used.
	Dir string
	// Stderr, if set, receives a copy of stderr of commands that talk to a
	// remote (push), so progress is visible.
	Stderr io.Writer
}

// Run executes git with args in the working tree and returns trimmed stdout.
func (r *Repo) Run(ctx context.Context, args ...string) (string, error) {
	return r.run(ctx, nil, args...)
}

func (r *Repo) run(ctx context.Context, tee io.Writer, args ...string) (string, error) {
	if !Available() {
		return "", ErrGitNotFound
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = r.Dir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if tee != nil {
		cmd.Stderr = io.MultiWriter(&stderr, tee)
	}

	if err := cmd.Run(); err != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return "", fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
		}
		return "", &Error{
			Args:     args,
			ExitCode: exitCode,
			Stderr:   stderr.String(),
		}
	}

	return strings.TrimSpace(stdout.String()), nil
}

// CurrentBranch returns the checked out branch, or an empty string if HEAD
// is detached.
func (r *Repo) CurrentBranch(ctx context.Context) (string, error) {
	branch, err := r.Run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", err
	}
	if branch == "HEAD" {
		return "", nil
	}
	return branch, nil
}

// BranchExists reports whether name exists as a local branch or as a
// remote-tracking branch of remote.
func (r *Repo) BranchExists(ctx context.Context, remote, name string) (bool, error) {
	for _, ref := range []string{
		"refs/heads/" + name,
		"refs/remotes/" + remote + "/" + name,
	} {
		_, err := r.Run(ctx, "rev-parse", "--verify", "--quiet", ref)
		if err == nil {
			return true, nil
		}
		// rev-parse --verify --quiet exits with 1 for a missing ref.
		var gitErr *Error
		if !errors.As(err, &gitErr) || gitErr.ExitCode != 1 {
			return false, err
		}
	}
	return false, nil
}

// Checkout switches the working tree to branch.
func (r *Repo) Checkout(ctx context.Context, branch string) error {
	_, err := r.Run(ctx, "checkout", branch)
	return err
}

// CheckoutOrphan creates and switches to a new branch without history.
func (r *Repo) CheckoutOrphan(ctx context.Context, branch string) error {
	_, err := r.Run(ctx, "checkout", "--orphan", branch)
	return err
}

// AddAll stages every change in the working tree, including removals,
// except for the top-level entries in exclude.
func (r *Repo) AddAll(ctx context.Context, exclude ...string) error {
	args := []string{"add", "--all", "--", "."}
	for _, name := range exclude {
		args = append(args, ":(top,exclude,literal)"+name)
	}
	_, err := r.Run(ctx, args...)
	return err
}

// TrackedTopLevel returns the sorted names of top-level entries that have
// tracked files in the index.
func (r *Repo) TrackedTopLevel(ctx context.Context) ([]string, error) {
	out, err := r.Run(ctx, "ls-files", "-z")
	if err != nil {
		return nil, err
	}
	var names []string
	for _, path := range strings.Split(out, "\x00") {
		if path == "" {
			continue
		}
		name, _, _ := strings.Cut(path, "/")
		if !slices.Contains(names, name) {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names, nil
}

// HasStagedChanges reports whether the index differs from HEAD. On a branch
// without commits any staged file counts as a change.
func (r *Repo) HasStagedChanges(ctx context.Context) (bool, error) {
	out, err := r.Run(ctx, "status", "--porcelain", "--untracked-files=no")
	if err != nil {
		return false, err
	}
	return out != "", nil
}

// Commit records staged changes with message.
func (r *Repo) Commit(ctx context.Context, message string) error {
	_, err := r.Run(ctx, "commit", "--quiet", "--message", message)
	return err
}

// Head returns the commit hash HEAD points to.
func (r *Repo) Head(ctx context.Context) (string, error) {
	return r.Run(ctx, "rev-parse", "HEAD")
}

// Push pushes branch to remote.
func (r *Repo) Push(ctx context.Context, remote, branch string) error {
	_, err := r.run(ctx, r.Stderr, "push", remote, branch)
	return err
}
