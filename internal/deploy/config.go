// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package deploy

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ConfigFile is the name of the optional configuration file looked up at the
// repository root.
const ConfigFile = ".ghpages.yml"

// Config represents a deployment configuration. Zero fields take the defaults
// documented on each field.
type Config struct {
	// Dir is the repository root. If empty, uses the current directory.
	Dir string `yaml:"-"`
	// BuildCommand is the command that builds the site. If empty, uses
	// "npm run build".
	BuildCommand []string `yaml:"build"`
	// BuildOutputDir is where BuildCommand puts the built site, relative to
	// Dir. If empty, uses "dist".
	BuildOutputDir string `yaml:"dist"`
	// StagingDir holds a copy of the build output while the deploy branch is
	// checked out, relative to Dir. If empty, uses ".deploy".
	StagingDir string `yaml:"staging"`
	// DeployBranch is the branch that is published. If empty, uses "gh-pages".
	DeployBranch string `yaml:"branch"`
	// MainBranch is checked out at the end when HEAD was detached at the
	// start. If empty, uses "main".
	MainBranch string `yaml:"main"`
	// Remote is where DeployBranch is pushed. If empty, uses "origin".
	Remote string `yaml:"remote"`
	// CommitMessage is the message of the deploy commit. If empty, uses
	// "Updated GitHub Pages".
	CommitMessage string `yaml:"message"`
	// Keep lists doublestar patterns of top-level entries that survive
	// cleaning of the deploy branch, for example "CNAME". Kept entries that
	// the deploy branch doesn't track are left in the working tree but never
	// committed.
	Keep []string `yaml:"keep"`
	// Minify determines if HTML, CSS, JavaScript, JSON and SVG files are
	// minified while staging.
	Minify bool `yaml:"minify"`
	// CreateBranch determines if DeployBranch is created without history when
	// it doesn't exist locally or on Remote.
	CreateBranch bool `yaml:"create_branch"`

	// Stdout and Stderr receive output of the build command and git push. If
	// nil, os.Stdout and os.Stderr are used.
	Stdout io.Writer `yaml:"-"`
	Stderr io.Writer `yaml:"-"`
}

// Defaults.
const (
	DefaultBuildOutputDir = "dist"
	DefaultStagingDir     = ".deploy"
	DefaultDeployBranch   = "gh-pages"
	DefaultMainBranch     = "main"
	DefaultRemote         = "origin"
	DefaultCommitMessage  = "Updated GitHub Pages"
)

// DefaultBuildCommand is used when Config.BuildCommand is empty.
var DefaultBuildCommand = []string{"npm", "run", "build"}

var errConfigInvalid = errors.New("invalid configuration")

func (c *Config) setDefaults() {
	if c.Dir == "" {
		c.Dir = filepath.Join(".")
	}
	if len(c.BuildCommand) == 0 {
		c.BuildCommand = DefaultBuildCommand
	}
	if c.BuildOutputDir == "" {
		c.BuildOutputDir = DefaultBuildOutputDir
	}
	if c.StagingDir == "" {
		c.StagingDir = DefaultStagingDir
	}
	if c.DeployBranch == "" {
		c.DeployBranch = DefaultDeployBranch
	}
	if c.MainBranch == "" {
		c.MainBranch = DefaultMainBranch
	}
	if c.Remote == "" {
		c.Remote = DefaultRemote
	}
	if c.CommitMessage == "" {
		c.CommitMessage = DefaultCommitMessage
	}
	if c.Stdout == nil {
		c.Stdout = os.Stdout
	}
	if c.Stderr == nil {
		c.Stderr = os.Stderr
	}
}

// validate checks that directories are plain top-level names, since the
// clean step reasons about top-level entries only.
func (c *Config) validate() error {
	for _, d := range []struct{ name, val string }{
		{"build output directory", c.BuildOutputDir},
		{"staging directory", c.StagingDir},
	} {
		if d.val != filepath.Base(d.val) || d.val == "." || d.val == ".." || d.val == ".git" {
			return fmt.Errorf("%w: %s %q must be a single directory name", errConfigInvalid, d.name, d.val)
		}
	}
	if c.BuildOutputDir == c.StagingDir {
		return fmt.Errorf("%w: build output and staging directories are both %q", errConfigInvalid, c.StagingDir)
	}
	if c.DeployBranch == c.MainBranch {
		return fmt.Errorf("%w: deploy and main branches are both %q", errConfigInvalid, c.DeployBranch)
	}
	return nil
}

// LoadConfig reads a YAML configuration file. A missing file is not an error
// and results in an empty configuration.
func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &Config{}, nil
	} else if err != nil {
		return nil, err
	}

	c := new(Config)
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("%s: %w: %v", path, errConfigInvalid, err)
	}
	return c, nil
}
