// Package watcher reports changes to log files in a directory whose names
// match a set of glob patterns.
package watcher

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
)

// Event represents a file change detected by the watcher.
type Event struct {
	Path string
	Op   fsnotify.Op
}

// Watcher monitors a directory so that files created after start-up, such as
// the next day's log or the fresh file after a rotation, are picked up too.
type Watcher struct {
	fsw      *fsnotify.Watcher
	Events   chan Event
	dir      string
	patterns []string
}

// New watches dir for files whose base name matches any of patterns.
func New(dir string, patterns ...string) (*Watcher, error) {
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid pattern %q", p)
		}
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(abs); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("cannot watch %s: %w", abs, err)
	}

	return &Watcher{
		fsw:      fsw,
		Events:   make(chan Event, 256),
		dir:      abs,
		patterns: patterns,
	}, nil
}

// Dir returns the absolute directory being watched.
func (w *Watcher) Dir() string { return w.dir }

// Matches reports whether a file name (or path) is one the watcher follows.
func (w *Watcher) Matches(name string) bool {
	base := filepath.Base(name)
	for _, p := range w.patterns {
		if ok, _ := doublestar.Match(p, base); ok {
			return true
		}
	}
	return false
}

// Paths returns the matching files that exist now, sorted.
func (w *Watcher) Paths() []string {
	fsys := os.DirFS(w.dir)
	seen := map[string]bool{}
	var out []string
	for _, p := range w.patterns {
		matches, err := doublestar.Glob(fsys, p, doublestar.WithFilesOnly())
		if err != nil {
			log.Printf("warning: failed to expand pattern %q: %v", p, err)
			continue
		}
		for _, m := range matches {
			path := filepath.Join(w.dir, m)
			if !seen[path] {
				seen[path] = true
				out = append(out, path)
			}
		}
	}
	sort.Strings(out)
	return out
}

// Start forwards events for matching files until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) {
	defer w.fsw.Close()
	defer close(w.Events)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !w.Matches(ev.Name) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) &&
				!ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}
			select {
			case w.Events <- Event{Path: ev.Name, Op: ev.Op}:
			case <-ctx.Done():
				return
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Printf("watcher error: %v", err)
		}
	}
}
