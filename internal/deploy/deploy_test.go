// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package deploy

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"go.astrophena.name/base/testutil"
	"go.astrophena.name/base/txtar"
	"go.astrophena.name/ghpages/internal/git/gittest"
)

var mainFiles = map[string]string{
	"README.md":    "# Site\n",
	"src/app.js":   "console.log('hi');\n",
	"package.json": "{}\n",
}

// setup creates a repository on main with a gh-pages branch and an origin
// remote. It returns the working tree and the remote paths.
func setup(t *testing.T) (dir, remote string) {
	t.Helper()
	gittest.Isolate(t)
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh is not available, skipping test")
	}
	dir = gittest.NewRepo(t, mainFiles)
	gittest.Run(t, dir, "branch", "gh-pages")
	remote = gittest.NewRemote(t, dir, "origin")
	return dir, remote
}

// buildFromTxtar returns a build command that copies the files of the
// archive at path into dist.
func buildFromTxtar(t *testing.T, path string) []string {
	t.Helper()
	ar, err := txtar.ParseFile(path)
	if err != nil {
		t.Fatal(err)
	}
	out := t.TempDir()
	testutil.ExtractTxtar(t, ar, out)
	return []string{"sh", "-c", `mkdir -p dist && cp -R "$0"/. dist/`, out}
}

func testConfig(dir string, build []string) *Config {
	return &Config{
		Dir:          dir,
		BuildCommand: build,
		Stdout:       io.Discard,
		Stderr:       io.Discard,
	}
}

func assertOnBranch(t *testing.T, dir, want string) {
	t.Helper()
	testutil.AssertEqual(t, gittest.Run(t, dir, "rev-parse", "--abbrev-ref", "HEAD"), want)
}

func assertNoStaging(t *testing.T, dir string) {
	t.Helper()
	if _, err := os.Stat(filepath.Join(dir, DefaultStagingDir)); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("staging directory should be removed, stat returned %v", err)
	}
}

func assertStep(t *testing.T, err error, want Step) {
	t.Helper()
	var stepErr *StepError
	if !errors.As(err, &stepErr) {
		t.Fatalf("want *StepError, got %T (%v)", err, err)
	}
	testutil.AssertEqual(t, stepErr.Step, want)
}

func TestDeploy(t *testing.T) {
	dir, remote := setup(t)

	res, err := Deploy(context.Background(), testConfig(dir, buildFromTxtar(t, filepath.Join("testdata", "site.txtar"))))
	if err != nil {
		t.Fatal(err)
	}

	testutil.AssertEqual(t, res.OriginalBranch, "main")
	testutil.AssertEqual(t, res.Committed, true)
	assertOnBranch(t, dir, "main")
	assertNoStaging(t, dir)

	// The deploy branch holds exactly the build output.
	testutil.AssertEqual(t, gittest.LsTree(t, remote, "gh-pages"), []string{"404.html", "css", "index.html"})
	testutil.AssertEqual(t, gittest.Show(t, remote, "gh-pages", "index.html"), "hello\n")
	testutil.AssertEqual(t, gittest.Run(t, remote, "rev-parse", "gh-pages"), res.Commit)
	testutil.AssertEqual(t, gittest.Run(t, dir, "log", "-1", "--format=%s", "gh-pages"), DefaultCommitMessage)

	// The original branch is intact.
	for name, content := range mainFiles {
		got, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(name)))
		if err != nil {
			t.Fatal(err)
		}
		testutil.AssertEqual(t, string(got), content)
	}
	testutil.AssertEqual(t, gittest.Run(t, dir, "status", "--porcelain", "--untracked-files=no"), "")
}

func TestDeployExactContent(t *testing.T) {
	dir, remote := setup(t)

	build := []string{"sh", "-c", "mkdir -p dist && printf hello > dist/index.html"}
	if _, err := Deploy(context.Background(), testConfig(dir, build)); err != nil {
		t.Fatal(err)
	}

	testutil.AssertEqual(t, gittest.Show(t, remote, "gh-pages", "index.html"), "hello")
	testutil.AssertEqual(t, gittest.LsTree(t, remote, "gh-pages"), []string{"index.html"})
}

func TestDeployTwice(t *testing.T) {
	dir, remote := setup(t)
	build := buildFromTxtar(t, filepath.Join("testdata", "site.txtar"))

	first, err := Deploy(context.Background(), testConfig(dir, build))
	if err != nil {
		t.Fatal(err)
	}
	second, err := Deploy(context.Background(), testConfig(dir, build))
	if err != nil {
		t.Fatal(err)
	}

	testutil.AssertEqual(t, second.Committed, false)
	testutil.AssertEqual(t, second.Commit, first.Commit)
	testutil.AssertEqual(t, gittest.Run(t, remote, "rev-parse", "gh-pages"), first.Commit)
	testutil.AssertEqual(t, gittest.LsTree(t, remote, "gh-pages"), []string{"404.html", "css", "index.html"})
	assertOnBranch(t, dir, "main")
	assertNoStaging(t, dir)
}

func TestDeployBuildFailure(t *testing.T) {
	dir, remote := setup(t)
	before := gittest.Run(t, dir, "rev-parse", "gh-pages")

	_, err := Deploy(context.Background(), testConfig(dir, []string{"sh", "-c", "exit 3"}))
	assertStep(t, err, StepBuild)
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) || exitErr.ExitCode() != 3 {
		t.Fatalf("want build exit code 3 in error chain, got %v", err)
	}

	assertOnBranch(t, dir, "main")
	assertNoStaging(t, dir)
	testutil.AssertEqual(t, gittest.Run(t, dir, "rev-parse", "gh-pages"), before)
	testutil.AssertEqual(t, gittest.Run(t, remote, "branch", "--list"), "")
	for name := range mainFiles {
		if _, err := os.Stat(filepath.Join(dir, filepath.FromSlash(name))); err != nil {
			t.Fatalf("%s should be untouched: %v", name, err)
		}
	}
}

func TestDeployMissingBuildOutput(t *testing.T) {
	dir, _ := setup(t)

	_, err := Deploy(context.Background(), testConfig(dir, []string{"sh", "-c", "true"}))
	assertStep(t, err, StepBuild)
	if !errors.Is(err, errNoBuildOutput) {
		t.Fatalf("want errNoBuildOutput, got %v", err)
	}
	assertOnBranch(t, dir, "main")
}

func TestDeployCheckoutFailure(t *testing.T) {
	dir, _ := setup(t)
	gittest.Run(t, dir, "branch", "-D", "gh-pages")

	_, err := Deploy(context.Background(), testConfig(dir, buildFromTxtar(t, filepath.Join("testdata", "site.txtar"))))
	assertStep(t, err, StepCheckout)
	var restoreErr *RestoreError
	if errors.As(err, &restoreErr) {
		t.Fatalf("restore should succeed, got %v", restoreErr)
	}

	assertOnBranch(t, dir, "main")
	assertNoStaging(t, dir)
}

func TestDeployPushFailure(t *testing.T) {
	dir, _ := setup(t)

	c := testConfig(dir, buildFromTxtar(t, filepath.Join("testdata", "site.txtar")))
	c.Remote = "nonexistent"
	_, err := Deploy(context.Background(), c)
	assertStep(t, err, StepPush)

	// The commit is kept locally for manual resolution.
	testutil.AssertEqual(t, gittest.Show(t, dir, "gh-pages", "index.html"), "hello\n")
	assertOnBranch(t, dir, "main")
	assertNoStaging(t, dir)
}

func TestDeployRestoreFailure(t *testing.T) {
	dir, _ := setup(t)
	gittest.Run(t, dir, "checkout", "--quiet", "--detach")

	// With a detached HEAD the sequence returns to the main branch, which
	// doesn't exist here.
	c := testConfig(dir, buildFromTxtar(t, filepath.Join("testdata", "site.txtar")))
	c.MainBranch = "trunk"
	_, err := Deploy(context.Background(), c)

	assertStep(t, err, StepRestore)
	var restoreErr *RestoreError
	if !errors.As(err, &restoreErr) {
		t.Fatalf("want *RestoreError, got %v", err)
	}
	testutil.AssertEqual(t, restoreErr.Branch, "trunk")
	assertOnBranch(t, dir, "gh-pages")
}

func TestDeployFailureAndRestoreFailure(t *testing.T) {
	dir, _ := setup(t)
	gittest.Run(t, dir, "checkout", "--quiet", "--detach")

	c := testConfig(dir, buildFromTxtar(t, filepath.Join("testdata", "site.txtar")))
	c.MainBranch = "trunk"
	c.Remote = "nonexistent"
	_, err := Deploy(context.Background(), c)

	assertStep(t, err, StepPush)
	var restoreErr *RestoreError
	if !errors.As(err, &restoreErr) {
		t.Fatalf("want *RestoreError joined with the push error, got %v", err)
	}
	assertNoStaging(t, dir)
}

func TestDeployDetachedHead(t *testing.T) {
	dir, _ := setup(t)
	gittest.Run(t, dir, "checkout", "--quiet", "--detach")

	res, err := Deploy(context.Background(), testConfig(dir, buildFromTxtar(t, filepath.Join("testdata", "site.txtar"))))
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, res.OriginalBranch, "main")
	assertOnBranch(t, dir, "main")
}

func TestDeployCreateBranch(t *testing.T) {
	dir, remote := setup(t)
	gittest.Run(t, dir, "branch", "-D", "gh-pages")

	c := testConfig(dir, buildFromTxtar(t, filepath.Join("testdata", "site.txtar")))
	c.CreateBranch = true
	if _, err := Deploy(context.Background(), c); err != nil {
		t.Fatal(err)
	}

	testutil.AssertEqual(t, gittest.LsTree(t, remote, "gh-pages"), []string{"404.html", "css", "index.html"})
	// The new branch doesn't share history with main.
	testutil.AssertEqual(t, gittest.Run(t, remote, "rev-list", "--count", "gh-pages"), "1")
	assertOnBranch(t, dir, "main")
}

func TestDeployKeep(t *testing.T) {
	dir, remote := setup(t)
	gittest.Run(t, dir, "checkout", "--quiet", "gh-pages")
	gittest.WriteFiles(t, dir, map[string]string{"CNAME": "example.com\n"})
	gittest.Run(t, dir, "add", "CNAME")
	gittest.Run(t, dir, "commit", "--quiet", "--message", "Add CNAME")
	gittest.Run(t, dir, "checkout", "--quiet", "main")

	c := testConfig(dir, buildFromTxtar(t, filepath.Join("testdata", "site.txtar")))
	c.Keep = []string{"CNAME"}
	if _, err := Deploy(context.Background(), c); err != nil {
		t.Fatal(err)
	}

	testutil.AssertEqual(t, gittest.LsTree(t, remote, "gh-pages"), []string{"404.html", "CNAME", "css", "index.html"})
	testutil.AssertEqual(t, gittest.Show(t, remote, "gh-pages", "CNAME"), "example.com\n")
}

func TestDeployKeepUntracked(t *testing.T) {
	dir, remote := setup(t)
	gittest.WriteFiles(t, dir, map[string]string{".gitignore": "node_modules/\ndist/\n"})
	gittest.Run(t, dir, "add", ".gitignore")
	gittest.Run(t, dir, "commit", "--quiet", "--message", "Ignore node_modules")
	gittest.WriteFiles(t, dir, map[string]string{"node_modules/lib/index.js": "module.exports = 1;\n"})

	c := testConfig(dir, buildFromTxtar(t, filepath.Join("testdata", "site.txtar")))
	c.Keep = []string{"node_modules"}
	if _, err := Deploy(context.Background(), c); err != nil {
		t.Fatal(err)
	}

	// Kept entries the deploy branch doesn't track stay out of the commit.
	testutil.AssertEqual(t, gittest.LsTree(t, remote, "gh-pages"), []string{"404.html", "css", "index.html"})
	testutil.AssertEqual(t, gittest.LsTree(t, dir, "gh-pages"), []string{"404.html", "css", "index.html"})

	// And they survive the round trip through the deploy branch.
	assertOnBranch(t, dir, "main")
	got, err := os.ReadFile(filepath.Join(dir, "node_modules", "lib", "index.js"))
	if err != nil {
		t.Fatalf("node_modules should survive the deploy: %v", err)
	}
	testutil.AssertEqual(t, string(got), "module.exports = 1;\n")
	testutil.AssertEqual(t, gittest.Run(t, dir, "status", "--porcelain"), "")
}

func TestDeployRestoresAfterCancel(t *testing.T) {
	dir, remote := setup(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pushedHook = cancel
	t.Cleanup(func() { pushedHook = nil })

	res, err := Deploy(ctx, testConfig(dir, buildFromTxtar(t, filepath.Join("testdata", "site.txtar"))))
	if err != nil {
		t.Fatalf("cancellation after the push must not fail the deploy: %v", err)
	}
	testutil.AssertEqual(t, gittest.Run(t, remote, "rev-parse", "gh-pages"), res.Commit)
	assertOnBranch(t, dir, "main")
	assertNoStaging(t, dir)
}

func TestDeployMinify(t *testing.T) {
	dir, remote := setup(t)

	c := testConfig(dir, buildFromTxtar(t, filepath.Join("testdata", "site.txtar")))
	c.Minify = true
	if _, err := Deploy(context.Background(), c); err != nil {
		t.Fatal(err)
	}

	testutil.AssertEqual(t, gittest.Show(t, remote, "gh-pages", "css/main.css"), "body{color:red}")
}

func TestDeployPreflight(t *testing.T) {
	t.Run("not a repository root", func(t *testing.T) {
		gittest.Isolate(t)
		_, err := Deploy(context.Background(), testConfig(t.TempDir(), []string{"true"}))
		if !errors.Is(err, errNotRepoRoot) {
			t.Fatalf("want errNotRepoRoot, got %v", err)
		}
	})

	t.Run("on deploy branch", func(t *testing.T) {
		dir, _ := setup(t)
		gittest.Run(t, dir, "checkout", "--quiet", "gh-pages")

		_, err := Deploy(context.Background(), testConfig(dir, []string{"sh", "-c", "exit 1"}))
		if !errors.Is(err, errOnDeployBranch) {
			t.Fatalf("want errOnDeployBranch, got %v", err)
		}
		assertOnBranch(t, dir, "gh-pages")
	})

	t.Run("invalid config", func(t *testing.T) {
		c := testConfig(t.TempDir(), nil)
		c.StagingDir = ".git"
		if _, err := Deploy(context.Background(), c); !errors.Is(err, errConfigInvalid) {
			t.Fatalf("want errConfigInvalid, got %v", err)
		}
	})
}

func TestStepErrorMessage(t *testing.T) {
	err := &StepError{Step: StepPush, Err: errors.New("network is down")}
	testutil.AssertEqual(t, err.Error(), "push: network is down")

	restore := &RestoreError{Branch: "main", Err: errors.New("boom")}
	testutil.AssertEqual(t, restore.Error(), `failed to return to branch "main", repository is left on the deploy branch: boom`)
}
