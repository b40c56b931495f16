// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Pre-commit runs the checks that CI runs.
package main

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"go.astrophena.name/base/cli"
	"go.astrophena.name/base/logger"
	"go.astrophena.name/ghpages/internal/devtools"
)

func main() { cli.Main(cli.AppFunc(run)) }

type check struct {
	args      []string
	emptyDiff bool // any output is a failure
	ciOnly    bool
}

func run(ctx context.Context) error {
	if err := devtools.CheckRoot(); err != nil {
		return err
	}
	isCI := os.Getenv("CI") == "true"

	test := []string{"go", "test", "./..."}
	if isCI {
		test = []string{"go", "test", "-race", "./..."}
	}

	for _, c := range []check{
		{args: []string{"gofmt", "-d", "."}, emptyDiff: true},
		{args: []string{"go", "tool", "staticcheck", "./..."}},
		{args: test},
		{args: []string{"go", "mod", "tidy", "--diff"}},
		{args: []string{"go", "tool", "addcopyright"}},
		{args: []string{"git", "diff", "--exit-code"}, ciOnly: true},
	} {
		if c.ciOnly && !isCI {
			continue
		}
		cmdline := strings.Join(c.args, " ")
		logger.Info(ctx, "running check", slog.String("cmd", cmdline))

		var buf bytes.Buffer
		cmd := exec.CommandContext(ctx, c.args[0], c.args[1:]...)
		cmd.Stdout = &buf
		cmd.Stderr = &buf
		if err := cmd.Run(); err != nil {
			return fmt.Errorf("%s failed: %w:\n%s", cmdline, err, buf.String())
		}
		if c.emptyDiff && buf.Len() > 0 {
			return fmt.Errorf("%s reported problems:\n%s", cmdline, buf.String())
		}
	}
	return nil
}
