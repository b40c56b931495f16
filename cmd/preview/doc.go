// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

/*
Preview serves the built site locally before it is published.

# Usage

	$ preview [flags]

Preview runs the build command from .ghpages.yml (npm run build by default),
serves the build output on -listen (default localhost:3000) and rebuilds the
site when files in the watched directories change. By default "src" and
"public" are watched.

Like GitHub Pages, /foo is served from foo.html if it exists, directories are
served through their index.html and a custom 404.html is used for missing
pages.
*/
package main

import (
	_ "embed"

	"go.astrophena.name/base/cli"
)

//go:embed doc.go
var doc []byte

func init() { cli.SetDocComment(doc) }
