// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

/*
Package deploy publishes a built site to a git branch served by a static
hosting service, such as GitHub Pages.

# Sequence

Deploy runs these steps in order and stops at the first one that fails:

	build     Run the build command.
	stage     Copy the build output to the staging directory.
	checkout  Check out the deploy branch.
	clean     Remove everything at the top level of the working tree except
	          .git, the staging directory and entries matched by Keep.
	publish   Copy the staging directory contents to the working tree.
	unstage   Remove the staging directory.
	commit    Stage all changes and commit them. Nothing to commit is fine.
	push      Push the deploy branch.
	restore   Check out the branch that was checked out before.

When a step after build fails, Deploy removes the staging directory and checks
out the original branch before returning. If that fails too, the returned
error contains a [*RestoreError].

Deploy assumes it is the only process touching the repository.
*/
package deploy

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"

	"go.astrophena.name/base/logger"
	"go.astrophena.name/ghpages/internal/git"
)

// Step names a stage of the deploy sequence.
type Step string

// Steps, in the order they are run.
const (
	StepBuild    Step = "build"
	StepStage    Step = "stage"
	StepCheckout Step = "checkout"
	StepClean    Step = "clean"
	StepPublish  Step = "publish"
	StepUnstage  Step = "unstage"
	StepCommit   Step = "commit"
	StepPush     Step = "push"
	StepRestore  Step = "restore"
)

// Possible errors, used in tests.
var (
	errNotRepoRoot    = errors.New("not at repository root")
	errOnDeployBranch = errors.New("deploy branch is checked out")
	errNoBuildOutput  = errors.New("build output directory is missing")
)

// StepError is returned when a step of the sequence fails.
type StepError struct {
	Step Step
	Err  error
}

func (e *StepError) Error() string { return fmt.Sprintf("%s: %v", e.Step, e.Err) }

func (e *StepError) Unwrap() error { return e.Err }

// RestoreError is returned when the original branch couldn't be checked out
// again. The repository is left on the deploy branch.
type RestoreError struct {
	Branch string
	Err    error
}

func (e *RestoreError) Error() string {
	return fmt.Sprintf("failed to return to branch %q, repository is left on the deploy branch: %v", e.Branch, e.Err)
}

func (e *RestoreError) Unwrap() error { return e.Err }

// Result describes a successful deploy.
type Result struct {
	// OriginalBranch is the branch checked out before and after the deploy.
	OriginalBranch string
	// Committed is false when the build output matched the deploy branch
	// and no commit was made.
	Committed bool
	// Commit is the deploy branch head after the deploy.
	Commit string
}

var pushedHook func() // used in tests, called after a successful push

// run carries the state of a single deploy.
type run struct {
	c      *Config
	repo   *git.Repo
	keep   keepFunc
	origin string // branch to return to
	res    Result

	// untracked lists kept top-level entries that the deploy branch doesn't
	// track. They stay in the working tree but are never committed.
	untracked []string
}

// Deploy builds the site and publishes it to the deploy branch as described
// by [Config].
func Deploy(ctx context.Context, c *Config) (*Result, error) {
	if c == nil {
		c = new(Config)
	}
	c.setDefaults()
	if err := c.validate(); err != nil {
		return nil, err
	}

	r, err := newRun(ctx, c)
	if err != nil {
		return nil, err
	}

	if err := r.do(ctx, StepBuild, r.build); err != nil {
		return nil, err
	}
	if err := r.do(ctx, StepStage, r.stage); err != nil {
		r.unstage(ctx)
		return nil, err
	}

	// From here on the working tree is on the deploy branch, so any failure
	// must try to get back.
	for _, s := range []struct {
		step Step
		f    func(context.Context) error
	}{
		{StepCheckout, r.checkout},
		{StepClean, r.clean},
		{StepPublish, r.publish},
		{StepUnstage, r.unstage},
		{StepCommit, r.commit},
		{StepPush, r.push},
	} {
		if err := r.do(ctx, s.step, s.f); err != nil {
			return nil, r.abort(ctx, err)
		}
	}

	if pushedHook != nil {
		pushedHook()
	}

	// The deploy is published at this point. Returning to the original
	// branch must not be cut short by cancellation.
	if err := r.do(context.WithoutCancel(ctx), StepRestore, r.restore); err != nil {
		logger.Error(ctx, "repository is left on the deploy branch", slog.Any("err", err))
		return nil, err
	}

	logger.Info(ctx, "deployed",
		slog.String("branch", c.DeployBranch),
		slog.String("remote", c.Remote),
		slog.String("commit", r.res.Commit),
		slog.Bool("committed", r.res.Committed),
	)
	return &r.res, nil
}

func newRun(ctx context.Context, c *Config) (*run, error) {
	if _, err := os.Stat(filepath.Join(c.Dir, ".git")); errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s has no .git", errNotRepoRoot, c.Dir)
	} else if err != nil {
		return nil, err
	}
	if !git.Available() {
		return nil, git.ErrGitNotFound
	}

	keep, err := keepMatcher(fixedKeep(c), c.Keep)
	if err != nil {
		return nil, err
	}

	r := &run{
		c:    c,
		repo: &git.Repo{Dir: c.Dir, Stderr: c.Stderr},
		keep: keep,
	}

	branch, err := r.repo.CurrentBranch(ctx)
	if err != nil {
		return nil, err
	}
	if branch == "" {
		logger.Info(ctx, "HEAD is detached, will return to the main branch", slog.String("branch", c.MainBranch))
		branch = c.MainBranch
	}
	if branch == c.DeployBranch {
		return nil, fmt.Errorf("%w: switch to %s or another branch first", errOnDeployBranch, c.MainBranch)
	}
	r.origin = branch
	r.res.OriginalBranch = branch

	return r, nil
}

func (r *run) do(ctx context.Context, step Step, f func(context.Context) error) error {
	logger.Info(ctx, "running step", slog.String("step", string(step)))
	if err := f(ctx); err != nil {
		return &StepError{Step: step, Err: err}
	}
	return nil
}

// abort cleans up after a failed step and tries to return to the original
// branch. The restore runs even if ctx was cancelled.
func (r *run) abort(ctx context.Context, stepErr error) error {
	logger.Error(ctx, "deploy failed, restoring original branch",
		slog.Any("err", stepErr),
		slog.String("branch", r.origin),
	)
	ctx = context.WithoutCancel(ctx)

	if err := r.unstage(ctx); err != nil {
		logger.Error(ctx, "failed to remove staging directory", slog.Any("err", err))
	}
	if err := r.restore(ctx); err != nil {
		logger.Error(ctx, "repository is left on the deploy branch", slog.Any("err", err))
		return errors.Join(stepErr, err)
	}
	return stepErr
}

func (r *run) path(name string) string { return filepath.Join(r.c.Dir, name) }

func (r *run) build(ctx context.Context) error {
	name, args := r.c.BuildCommand[0], r.c.BuildCommand[1:]
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = r.c.Dir
	cmd.Stdout = r.c.Stdout
	cmd.Stderr = r.c.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w", strings.Join(r.c.BuildCommand, " "), err)
	}

	fi, err := os.Stat(r.path(r.c.BuildOutputDir))
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", errNoBuildOutput, r.c.BuildOutputDir)
	} else if err != nil {
		return err
	}
	if !fi.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", errNoBuildOutput, r.c.BuildOutputDir)
	}
	return nil
}

func (r *run) stage(ctx context.Context) error {
	var m *min
	if r.c.Minify {
		m = newMin()
	}
	return copyDir(r.path(r.c.StagingDir), r.path(r.c.BuildOutputDir), m)
}

func (r *run) checkout(ctx context.Context) error {
	if r.c.CreateBranch {
		ok, err := r.repo.BranchExists(ctx, r.c.Remote, r.c.DeployBranch)
		if err != nil {
			return err
		}
		if !ok {
			logger.Info(ctx, "creating deploy branch", slog.String("branch", r.c.DeployBranch))
			return r.repo.CheckoutOrphan(ctx, r.c.DeployBranch)
		}
	}
	return r.repo.Checkout(ctx, r.c.DeployBranch)
}

// fixedKeep returns the top-level entries that cleaning never touches.
func fixedKeep(c *Config) []string { return []string{".git", c.StagingDir} }

func (r *run) clean(ctx context.Context) error {
	tracked, err := r.repo.TrackedTopLevel(ctx)
	if err != nil {
		return err
	}
	removed, kept, err := cleanDir(r.c.Dir, r.keep)
	logger.Info(ctx, "cleaned deploy branch", slog.Int("removed", len(removed)))
	if err != nil {
		return err
	}

	fixed := fixedKeep(r.c)
	r.untracked = nil
	for _, name := range kept {
		if slices.Contains(fixed, name) || slices.Contains(tracked, name) {
			continue
		}
		logger.Info(ctx, "keeping untracked entry out of the deploy commit", slog.String("name", name))
		r.untracked = append(r.untracked, name)
	}
	return nil
}

func (r *run) publish(ctx context.Context) error {
	return copyDir(r.c.Dir, r.path(r.c.StagingDir), nil)
}

func (r *run) unstage(ctx context.Context) error {
	return os.RemoveAll(r.path(r.c.StagingDir))
}

func (r *run) commit(ctx context.Context) error {
	if err := r.repo.AddAll(ctx, r.untracked...); err != nil {
		return err
	}
	changed, err := r.repo.HasStagedChanges(ctx)
	if err != nil {
		return err
	}
	if changed {
		if err := r.repo.Commit(ctx, r.c.CommitMessage); err != nil {
			return err
		}
		r.res.Committed = true
	} else {
		logger.Info(ctx, "nothing to commit, deploy branch is up to date")
	}

	// An orphan branch created for this deploy has no commit if the build
	// output was empty.
	if head, err := r.repo.Head(ctx); err == nil {
		r.res.Commit = head
	}
	return nil
}

func (r *run) push(ctx context.Context) error {
	return r.repo.Push(ctx, r.c.Remote, r.c.DeployBranch)
}

func (r *run) restore(ctx context.Context) error {
	if err := r.repo.Checkout(ctx, r.origin); err != nil {
		return &RestoreError{Branch: r.origin, Err: err}
	}
	return nil
}
