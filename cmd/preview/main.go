// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package main

import (
	"context"
	"flag"
	"fmt"
	"path/filepath"

	"go.astrophena.name/base/cli"
	"go.astrophena.name/ghpages/internal/deploy"
	"go.astrophena.name/ghpages/internal/preview"
)

func main() { cli.Main(new(app)) }

type app struct {
	dir        string
	configFile string
	listen     string
	watch      []string
}

func (a *app) Flags(fs *flag.FlagSet) {
	fs.StringVar(&a.dir, "C", "", "Run in `dir` instead of the current directory.")
	fs.StringVar(&a.configFile, "config", "", "Read configuration from `file` (default \"<dir>/"+deploy.ConfigFile+"\").")
	fs.StringVar(&a.listen, "listen", "localhost:3000", "Listen on `host:port`.")
	fs.Func("watch", "Rebuild when files in `dir` change (can be repeated).", func(s string) error {
		a.watch = append(a.watch, s)
		return nil
	})
}

func (a *app) Run(ctx context.Context) error {
	env := cli.GetEnv(ctx)
	if len(env.Args) != 0 {
		return fmt.Errorf("%w: no arguments expected", cli.ErrInvalidArgs)
	}

	path := a.configFile
	if path == "" {
		path = filepath.Join(a.dir, deploy.ConfigFile)
	}
	dc, err := deploy.LoadConfig(path)
	if err != nil {
		return err
	}

	build := dc.BuildCommand
	if len(build) == 0 {
		build = deploy.DefaultBuildCommand
	}
	return preview.Serve(ctx, &preview.Config{
		Dir:            a.dir,
		BuildCommand:   build,
		BuildOutputDir: dc.BuildOutputDir,
		Watch:          a.watch,
	}, a.listen)
}
