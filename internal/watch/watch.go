// Package watch reruns build tasks when files under the source directory
// change.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gobwas/glob"
	"github.com/rs/zerolog"

	"github.com/ben-ranford/wxpack/internal/pipeline"
	"github.com/ben-ranford/wxpack/internal/report"
)

const DefaultDebounce = 300 * time.Millisecond

// Builder is the part of pipeline.Builder a watcher drives.
type Builder interface {
	TasksMatching(rels []string) []string
	Forget(rels []string)
	Build(ctx context.Context, opts pipeline.BuildOptions) (report.Report, error)
}

// Result describes one rebuild triggered by a batch of changes.
type Result struct {
	Changed []string
	Tasks   []string
	Report  report.Report
	Err     error
}

type Option func(*Watcher) error

func Debounce(d time.Duration) Option {
	return func(w *Watcher) error {
		if d <= 0 {
			return fmt.Errorf("debounce must be positive, got %s", d)
		}
		w.debounce = d
		return nil
	}
}

// Exclude ignores changes to paths matching any pattern. Patterns are matched
// against slash paths relative to the project root. Without patterns, dot
// files are ignored.
func Exclude(patterns ...string) Option {
	return func(w *Watcher) error {
		for _, pattern := range patterns {
			compiled, err := glob.Compile(pattern, '/')
			if err != nil {
				return fmt.Errorf("%w in %q", err, pattern)
			}
			w.excludes = append(w.excludes, compiled)
		}
		return nil
	}
}

// OnRebuild is called after every rebuild, failed or not.
func OnRebuild(fn func(Result)) Option {
	return func(w *Watcher) error {
		w.onRebuild = fn
		return nil
	}
}

type Watcher struct {
	root      string
	builder   Builder
	debounce  time.Duration
	excludes  []glob.Glob
	onRebuild func(Result)
	fsnotify  *fsnotify.Watcher
}

// New watches dirs recursively. Watches are registered before New returns,
// so changes made afterwards are seen once Run starts.
func New(root string, dirs []string, builder Builder, options ...Option) (*Watcher, error) {
	w := &Watcher{root: filepath.Clean(root), builder: builder, debounce: DefaultDebounce}
	for _, option := range options {
		if err := option(w); err != nil {
			return nil, err
		}
	}
	if len(w.excludes) == 0 {
		w.excludes = []glob.Glob{glob.MustCompile("**/.*", '/'), glob.MustCompile(".*", '/')}
	}
	notify, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	w.fsnotify = notify
	for _, dir := range dirs {
		if _, err := w.addRecursive(dir); err != nil {
			_ = notify.Close()
			return nil, err
		}
	}
	return w, nil
}

// Run processes change events until ctx is done. Build failures are reported
// and watching continues.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsnotify.Close()
	log := zerolog.Ctx(ctx)

	var timer *time.Timer
	var fire <-chan time.Time
	pending := make(map[string]struct{})
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.fsnotify.Events:
			if !ok {
				return nil
			}
			if !w.record(ctx, event, pending) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case err, ok := <-w.fsnotify.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("file watcher error")
		case <-fire:
			fire = nil
			changed := slices.Sorted(maps.Keys(pending))
			clear(pending)
			w.rebuild(ctx, changed)
		}
	}
}

// record adds the paths touched by event to pending and reports whether any
// were added.
func (w *Watcher) record(ctx context.Context, event fsnotify.Event, pending map[string]struct{}) bool {
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			files, err := w.addRecursive(event.Name)
			if err != nil {
				zerolog.Ctx(ctx).Warn().Err(err).Str("path", event.Name).Msg("watch new directory")
			}
			added := false
			for _, file := range files {
				added = w.enqueue(file, pending) || added
			}
			return added
		}
	}
	if event.Has(fsnotify.Remove) {
		_ = w.fsnotify.Remove(event.Name)
	}
	if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
		return w.enqueue(event.Name, pending)
	}
	return false
}

func (w *Watcher) enqueue(path string, pending map[string]struct{}) bool {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	for _, exclude := range w.excludes {
		if exclude.Match(rel) {
			return false
		}
	}
	pending[rel] = struct{}{}
	return true
}

func (w *Watcher) rebuild(ctx context.Context, changed []string) {
	log := zerolog.Ctx(ctx)
	tasks := w.builder.TasksMatching(changed)
	if len(tasks) == 0 {
		log.Debug().Strs("changed", changed).Msg("no task selects the changed files")
		return
	}
	if removed := w.removed(changed); len(removed) > 0 {
		log.Debug().Strs("removed", removed).Msg("forgetting removed sources")
		w.builder.Forget(removed)
	}
	log.Info().Strs("tasks", tasks).Int("changed", len(changed)).Msg("rebuilding")
	rep, err := w.builder.Build(ctx, pipeline.BuildOptions{Tasks: tasks})
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return
	}
	if err != nil {
		log.Error().Err(err).Strs("tasks", tasks).Msg("rebuild failed")
	}
	if w.onRebuild != nil {
		w.onRebuild(Result{Changed: changed, Tasks: tasks, Report: rep, Err: err})
	}
}

// removed returns the changed paths that no longer exist.
func (w *Watcher) removed(changed []string) []string {
	var gone []string
	for _, rel := range changed {
		if _, err := os.Lstat(filepath.Join(w.root, filepath.FromSlash(rel))); errors.Is(err, fs.ErrNotExist) {
			gone = append(gone, rel)
		}
	}
	return gone
}

// addRecursive watches dir and every directory below it and returns the
// regular files found.
func (w *Watcher) addRecursive(dir string) ([]string, error) {
	files := make([]string, 0)
	err := filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			if err := w.fsnotify.Add(path); err != nil {
				return fmt.Errorf("watch %s: %w", path, err)
			}
			return nil
		}
		if entry.Type().IsRegular() {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}
