// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package preview serves the build output locally the way a static host
// would, rebuilding it when sources change.
package preview

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.astrophena.name/base/logger"

	"github.com/fsnotify/fsnotify"
)

// Config represents a preview configuration.
type Config struct {
	// Dir is the project root. If empty, uses the current directory.
	Dir string
	// BuildCommand builds the site into BuildOutputDir. If empty, the
	// output is served as is.
	BuildCommand []string
	// BuildOutputDir is the served directory, relative to Dir. If empty, uses
	// "dist".
	BuildOutputDir string
	// Watch lists directories, relative to Dir, whose changes trigger a
	// rebuild. Missing directories are skipped.
	Watch []string
	// Stdout and Stderr receive output of the build command. If nil,
	// os.Stdout and os.Stderr are used.
	Stdout io.Writer
	Stderr io.Writer
}

// DefaultWatch is used when Config.Watch is empty.
var DefaultWatch = []string{"src", "public"}

func (c *Config) setDefaults() {
	if c.Dir == "" {
		c.Dir = filepath.Join(".")
	}
	if c.BuildOutputDir == "" {
		c.BuildOutputDir = "dist"
	}
	if len(c.Watch) == 0 {
		c.Watch = DefaultWatch
	}
	if c.Stdout == nil {
		c.Stdout = os.Stdout
	}
	if c.Stderr == nil {
		c.Stderr = os.Stderr
	}
}

func (c *Config) build(ctx context.Context) error {
	if len(c.BuildCommand) == 0 {
		return nil
	}
	cmd := exec.CommandContext(ctx, c.BuildCommand[0], c.BuildCommand[1:]...)
	cmd.Dir = c.Dir
	cmd.Stdout = c.Stdout
	cmd.Stderr = c.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w", strings.Join(c.BuildCommand, " "), err)
	}
	return nil
}

var serveReadyHook func(addr string) // used in tests, called when Serve started serving the site

// debouncer delays execution of a function until a specified duration has
// passed without any new events.
type debouncer struct {
	d  time.Duration
	mu sync.Mutex
	f  func()
	t  *time.Timer
}

func newDebouncer(d time.Duration, f func()) *debouncer {
	return &debouncer{
		d: d,
		f: f,
	}
}

// Do schedules f, cancelling a previously scheduled call.
func (d *debouncer) Do() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.t != nil {
		d.t.Stop()
	}

	d.t = time.AfterFunc(d.d, d.f)
}

// Serve builds the site and serves it on addr until ctx is done.
func Serve(ctx context.Context, c *Config, addr string) error {
	c.setDefaults()

	logger.Info(ctx, "performing an initial build")
	if err := c.build(ctx); err != nil {
		logger.Error(ctx, "initial build failed", slog.Any("err", err))
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	for _, dir := range c.Watch {
		dir = filepath.Join(c.Dir, dir)
		if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
			logger.Info(ctx, "not watching missing directory", slog.String("dir", dir))
			continue
		}
		if err := watchRecursive(watcher, dir); err != nil {
			return err
		}
	}

	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	defer l.Close()
	logger.Info(ctx, "listening for HTTP requests", slog.String("addr", "http://"+l.Addr().String()))

	httpSrv := &http.Server{Handler: &staticHandler{fs: os.DirFS(filepath.Join(c.Dir, c.BuildOutputDir))}}
	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	rebuild := func() {
		logger.Info(ctx, "triggering build")
		if err := c.build(ctx); err != nil {
			logger.Error(ctx, "failed to rebuild the site", slog.Any("err", err))
		}
	}
	// Don't rebuild on each keystroke.
	debouncer := newDebouncer(250*time.Millisecond, rebuild)

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !shouldRebuild(event.Name, event.Op) {
					continue
				}
				// New directories need their own watch.
				if event.Op&fsnotify.Create != 0 {
					if fi, err := os.Stat(event.Name); err == nil && fi.IsDir() {
						watchRecursive(watcher, event.Name)
					}
				}
				logger.Info(ctx, "detected change, scheduling build",
					slog.String("name", event.Name),
					slog.Any("op", event.Op),
				)
				debouncer.Do()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Error(ctx, "watcher error", slog.Any("err", err))
			case <-ctx.Done():
				return
			}
		}
	}()

	if serveReadyHook != nil {
		serveReadyHook(l.Addr().String())
	}

	select {
	case <-ctx.Done():
		logger.Info(ctx, "gracefully shutting down")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return httpSrv.Shutdown(shutdownCtx)
}

func watchRecursive(w *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if d.Name() == "node_modules" || d.Name() == ".git" {
			return filepath.SkipDir
		}
		return w.Add(path)
	})
}

// shouldRebuild filters out editor and OS noise.
func shouldRebuild(path string, op fsnotify.Op) bool {
	base := filepath.Base(path)

	// macOS Finder metadata.
	if base == ".DS_Store" {
		return false
	}

	// Vim creates this temporary file to see whether it can write into a target
	// directory.
	if base == "4913" {
		return false
	}

	// Vim backups.
	if strings.HasSuffix(base, "~") {
		return false
	}

	// chmod doesn't affect the build and rename is followed by create.
	return op&(fsnotify.Create|fsnotify.Remove|fsnotify.Write) != 0
}

type staticHandler struct {
	fs fs.FS
}

func (h *staticHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p := r.URL.Path
	if strings.HasSuffix(p, "/") {
		p += "index.html"
	}
	p = strings.TrimPrefix(path.Clean(p), "/")

	// GitHub Pages serves /foo from foo.html if it exists.
	if _, err := fs.Stat(h.fs, p+".html"); err == nil {
		p += ".html"
	}

	d, err := fs.Stat(h.fs, p)
	if errors.Is(err, fs.ErrNotExist) {
		h.serveNotFound(w, r)
		return
	} else if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if d.IsDir() {
		// Directories are served through their index.
		if _, err := fs.Stat(h.fs, path.Join(p, "index.html")); err == nil {
			http.Redirect(w, r, r.URL.Path+"/", http.StatusMovedPermanently)
			return
		}
		h.serveNotFound(w, r)
		return
	}

	b, err := fs.ReadFile(h.fs, p)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	http.ServeContent(w, r, d.Name(), d.ModTime(), bytes.NewReader(b))
}

func (h *staticHandler) serveNotFound(w http.ResponseWriter, r *http.Request) {
	f, err := h.fs.Open("404.html")
	if errors.Is(err, fs.ErrNotExist) {
		http.NotFound(w, r)
		return
	} else if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer f.Close()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	io.Copy(w, f)
}
