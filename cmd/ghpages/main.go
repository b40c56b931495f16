// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.astrophena.name/base/cli"
	"go.astrophena.name/ghpages/internal/deploy"

	"github.com/fatih/color"
	"github.com/mattn/go-shellwords"
)

func main() { cli.Main(new(app)) }

type app struct {
	dir          string
	configFile   string
	build        string
	dist         string
	staging      string
	branch       string
	main         string
	remote       string
	message      string
	keep         []string
	minify       bool
	createBranch bool
}

func (a *app) Flags(fs *flag.FlagSet) {
	fs.StringVar(&a.dir, "C", "", "Run in `dir` instead of the current directory.")
	fs.StringVar(&a.configFile, "config", "", "Read configuration from `file` (default \"<dir>/"+deploy.ConfigFile+"\").")
	fs.StringVar(&a.build, "build", "", "Build `command`, split into words like a shell does without expansion (default \""+strings.Join(deploy.DefaultBuildCommand, " ")+"\").")
	fs.StringVar(&a.dist, "dist", "", "Build output `dir` (default \""+deploy.DefaultBuildOutputDir+"\").")
	fs.StringVar(&a.staging, "staging", "", "Staging `dir` (default \""+deploy.DefaultStagingDir+"\").")
	fs.StringVar(&a.branch, "branch", "", "Deploy `branch` (default \""+deploy.DefaultDeployBranch+"\").")
	fs.StringVar(&a.main, "main", "", "`branch` to return to if HEAD is detached (default \""+deploy.DefaultMainBranch+"\").")
	fs.StringVar(&a.remote, "remote", "", "`remote` to push to (default \""+deploy.DefaultRemote+"\").")
	fs.StringVar(&a.message, "m", "", "Commit `message` (default \""+deploy.DefaultCommitMessage+"\").")
	fs.Func("keep", "Keep top-level entries matching `glob` on the deploy branch (can be repeated).", func(s string) error {
		a.keep = append(a.keep, s)
		return nil
	})
	fs.BoolVar(&a.minify, "minify", false, "Minify HTML, CSS, JavaScript, JSON and SVG files.")
	fs.BoolVar(&a.createBranch, "create", false, "Create the deploy branch if it doesn't exist.")
}

func (a *app) Run(ctx context.Context) error {
	env := cli.GetEnv(ctx)
	if len(env.Args) != 0 {
		return fmt.Errorf("%w: no arguments expected", cli.ErrInvalidArgs)
	}

	c, err := a.config()
	if err != nil {
		return err
	}

	res, err := deploy.Deploy(ctx, c)
	if err != nil {
		return err
	}

	status := "deployed"
	if !res.Committed {
		status = "nothing changed"
	}
	color.New(color.FgGreen, color.Bold).Fprintf(os.Stdout, "Done: %s %s (%s), back on %s.\n",
		c.DeployBranch, shortHash(res.Commit), status, res.OriginalBranch)
	return nil
}

// config merges the configuration file with flags. Flags win.
func (a *app) config() (*deploy.Config, error) {
	path := a.configFile
	if path == "" {
		path = filepath.Join(a.dir, deploy.ConfigFile)
	}
	c, err := deploy.LoadConfig(path)
	if err != nil {
		return nil, err
	}

	c.Dir = a.dir
	if a.build != "" {
		args, err := shellwords.Parse(a.build)
		if err != nil {
			return nil, fmt.Errorf("%w: -build: %v", cli.ErrInvalidArgs, err)
		}
		if len(args) == 0 {
			return nil, fmt.Errorf("%w: -build: empty command", cli.ErrInvalidArgs)
		}
		c.BuildCommand = args
	}
	for _, f := range []struct {
		dst *string
		val string
	}{
		{&c.BuildOutputDir, a.dist},
		{&c.StagingDir, a.staging},
		{&c.DeployBranch, a.branch},
		{&c.MainBranch, a.main},
		{&c.Remote, a.remote},
		{&c.CommitMessage, a.message},
	} {
		if f.val != "" {
			*f.dst = f.val
		}
	}
	c.Keep = append(c.Keep, a.keep...)
	c.Minify = c.Minify || a.minify
	c.CreateBranch = c.CreateBranch || a.createBranch

	return c, nil
}

func shortHash(h string) string {
	if len(h) > 7 {
		return h[:7]
	}
	return h
}
