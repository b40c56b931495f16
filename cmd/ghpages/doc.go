// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

/*
Ghpages builds a site and publishes it to the gh-pages branch.

# Usage

	$ ghpages [flags]

Run it at the repository root. Ghpages:

 1. runs the build command (npm run build by default);
 2. copies the build output (dist) to a staging directory (.deploy);
 3. checks out the deploy branch (gh-pages);
 4. removes everything at the top level except .git, the staging directory
    and entries matched by -keep;
 5. copies the staged files in and removes the staging directory;
 6. commits all changes with the message "Updated GitHub Pages", unless
    nothing changed;
 7. pushes the deploy branch to origin;
 8. checks out the branch you started on.

If any step fails, ghpages stops and tries to check out the original branch.
When that fails too, it says so: the repository is then left on the deploy
branch and needs to be switched back by hand.

Cleaning removes untracked and ignored files at the top level too. Entries
matched by -keep are left in place. Those the deploy branch already tracks,
such as CNAME, stay in the deploy commit, and those it doesn't track are
never committed.

The -build command is split into words the way a shell does, so quotes and
backslashes work, but variables, globs and pipes are not expanded. Use
"sh -c '...'" for those, or the list form in the configuration file.

# Configuration

Defaults can be changed in the .ghpages.yml file at the repository root.
Flags take precedence over it.

	build: [npm, run, build]
	dist: dist
	staging: .deploy
	branch: gh-pages
	main: main
	remote: origin
	message: Updated GitHub Pages
	keep: [CNAME]
	minify: false
	create_branch: false
*/
package main

import (
	_ "embed"

	"go.astrophena.name/base/cli"
)

//go:embed doc.go
var doc []byte

func init() { cli.SetDocComment(doc) }
