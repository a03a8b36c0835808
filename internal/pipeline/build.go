// Package pipeline builds a mini-program project: it selects source files per
// task, transforms them and writes the results to the distribution directory.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/sync/errgroup"

	"github.com/ben-ranford/wxpack/internal/cache"
	"github.com/ben-ranford/wxpack/internal/config"
	"github.com/ben-ranford/wxpack/internal/report"
	"github.com/ben-ranford/wxpack/internal/rewrite"
	"github.com/ben-ranford/wxpack/internal/safeio"
)

var ErrUnknownTask = errors.New("unknown task")

type compiledTask struct {
	Task
	matcher *Matcher
}

type Builder struct {
	values config.Values
	tasks  []compiledTask
	cache  *cache.Cache
	writer *Writer
	now    func() time.Time
}

type Option func(*Builder)

// WithTasks replaces the default task list.
func WithTasks(tasks ...Task) Option {
	return func(b *Builder) {
		b.tasks = b.tasks[:0]
		for _, task := range tasks {
			b.tasks = append(b.tasks, compiledTask{Task: task})
		}
	}
}

// WithCache replaces the cache opened from the configuration. A nil cache
// disables caching.
func WithCache(c *cache.Cache) Option {
	return func(b *Builder) { b.cache = c }
}

func WithClock(now func() time.Time) Option {
	return func(b *Builder) { b.now = now }
}

func New(values config.Values, options ...Option) (*Builder, error) {
	b := &Builder{
		values: values,
		writer: NewWriter(values.Path(values.DistDir)),
		now:    time.Now,
	}
	for _, task := range DefaultTasks(values) {
		b.tasks = append(b.tasks, compiledTask{Task: task})
	}
	if values.CacheEnabled {
		digest, err := ConfigDigest(values)
		if err != nil {
			return nil, err
		}
		b.cache = cache.Open(values.Path(values.CachePath), digest)
	}
	for _, option := range options {
		option(b)
	}
	for i := range b.tasks {
		exclude := append(slices.Clone(values.Exclude), b.tasks[i].Exclude...)
		matcher, err := NewMatcher(b.tasks[i].Include, exclude)
		if err != nil {
			return nil, fmt.Errorf("task %s: %w", b.tasks[i].Name, err)
		}
		b.tasks[i].matcher = matcher
	}
	return b, nil
}

func (b *Builder) Values() config.Values {
	return b.values
}

func (b *Builder) TaskNames() []string {
	names := make([]string, 0, len(b.tasks))
	for _, task := range b.tasks {
		names = append(names, task.Name)
	}
	return names
}

// TasksMatching returns, in run order, the tasks that select any of rels.
func (b *Builder) TasksMatching(rels []string) []string {
	names := make([]string, 0)
	for _, task := range b.tasks {
		for _, rel := range rels {
			if task.matcher.Match(filepath.ToSlash(rel)) {
				names = append(names, task.Name)
				break
			}
		}
	}
	return names
}

// Forget drops the cache entries every task holds for rels, slash paths of
// sources that no longer exist.
func (b *Builder) Forget(rels []string) {
	for _, task := range b.tasks {
		for _, rel := range rels {
			b.cache.Forget(cache.Key(task.Name, rel))
		}
	}
}

// ConfigDigest fingerprints the settings that affect build output.
func ConfigDigest(values config.Values) (string, error) {
	fingerprint := struct {
		SrcDir     string
		DistDir    string
		ManagedDir string
		TargetDir  string
		Alias      string
		MainFields []string
		Env        string
		Exclude    []string
		Define     map[string]string
	}{
		SrcDir:     values.SrcDir,
		DistDir:    values.DistDir,
		ManagedDir: values.ManagedDir,
		TargetDir:  values.TargetDir,
		Alias:      values.Alias,
		MainFields: values.MainFields,
		Env:        values.Env,
		Exclude:    values.Exclude,
		Define:     values.Define,
	}
	var buffer bytes.Buffer
	encoder := msgpack.NewEncoder(&buffer)
	encoder.SetSortMapKeys(true)
	if err := encoder.Encode(fingerprint); err != nil {
		return "", fmt.Errorf("fingerprint configuration: %w", err)
	}
	return cache.Digest(buffer.Bytes()), nil
}

// Clean removes everything inside the distribution directory and drops the
// build cache.
func (b *Builder) Clean(ctx context.Context) error {
	dist := b.writer.Dist()
	entries, err := os.ReadDir(dist)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("clean %s: %w", dist, err)
	}
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := os.RemoveAll(filepath.Join(dist, entry.Name())); err != nil {
			return fmt.Errorf("clean %s: %w", dist, err)
		}
	}
	if err := b.cache.Reset(); err != nil {
		return err
	}
	zerolog.Ctx(ctx).Debug().Str("dist", dist).Int("removed", len(entries)).Msg("cleaned distribution directory")
	return nil
}

type BuildOptions struct {
	Clean bool
	// Tasks limits the run to the named tasks. Empty runs every task.
	Tasks       []string
	ListModules bool
}

// Build runs the selected tasks in order; the files of one task are
// processed concurrently.
func (b *Builder) Build(ctx context.Context, opts BuildOptions) (report.Report, error) {
	started := b.now()
	selected, err := b.selectTasks(opts.Tasks)
	if err != nil {
		return report.Report{}, err
	}
	if opts.Clean {
		if err := b.Clean(ctx); err != nil {
			return report.Report{}, err
		}
	}

	files, err := b.sourceFiles(ctx)
	if err != nil {
		return report.Report{}, err
	}

	b.writer.Reset()
	run := &runState{listModules: opts.ListModules}
	for _, task := range selected {
		if err := b.runTask(ctx, task, files, run); err != nil {
			return report.Report{}, err
		}
	}
	if err := b.cache.Save(); err != nil {
		return report.Report{}, err
	}

	summaries := make([]report.TaskSummary, 0, len(selected))
	for _, task := range selected {
		summaries = append(summaries, run.summary(task.Name))
	}
	sort.SliceStable(run.modules, func(i, j int) bool { return run.modules[i].Destination < run.modules[j].Destination })
	sort.SliceStable(run.invalidations, func(i, j int) bool { return run.invalidations[i].Key < run.invalidations[j].Key })
	return report.Report{
		SchemaVersion: report.SchemaVersion,
		GeneratedAt:   started.UTC(),
		Root:          b.values.Root,
		Env:           b.values.Env,
		Summary:       report.ComputeSummary(summaries, b.now().Sub(started)),
		Tasks:         summaries,
		Modules:       run.modules,
		Invalidations: run.invalidations,
		Warnings:      b.cache.Warnings(),
	}, nil
}

func (b *Builder) selectTasks(names []string) ([]compiledTask, error) {
	if len(names) == 0 {
		return b.tasks, nil
	}
	selected := make([]compiledTask, 0, len(names))
	for _, name := range names {
		if !slices.ContainsFunc(b.tasks, func(task compiledTask) bool { return task.Name == name }) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownTask, name)
		}
	}
	for _, task := range b.tasks {
		if slices.Contains(names, task.Name) {
			selected = append(selected, task)
		}
	}
	return selected, nil
}

// sourceFiles lists the files under the source directory, slash separated
// and relative to the project root.
func (b *Builder) sourceFiles(ctx context.Context) ([]string, error) {
	root := b.values.Root
	files := make([]string, 0)
	err := filepath.WalkDir(b.values.Path(b.values.SrcDir), func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if entry.IsDir() || !entry.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list source files: %w", err)
	}
	sort.Strings(files)
	return files, nil
}

func (b *Builder) runTask(ctx context.Context, task compiledTask, files []string, run *runState) error {
	log := zerolog.Ctx(ctx)
	selected := make([]string, 0)
	for _, rel := range files {
		if task.matcher.Match(rel) {
			selected = append(selected, rel)
		}
	}
	log.Debug().Str("task", task.Name).Int("files", len(selected)).Msg("running task")
	run.ensure(task.Name)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, b.values.Jobs))
	for _, rel := range selected {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if err := b.processFile(gctx, task, rel, run); err != nil {
				return fmt.Errorf("%s: %w", task.Name, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (b *Builder) processFile(ctx context.Context, task compiledTask, rel string, run *runState) error {
	path := b.values.Path(rel)
	data, err := safeio.ReadFileUnder(b.values.Root, path)
	if err != nil {
		return fmt.Errorf("read %s: %w", rel, err)
	}
	if data == nil {
		data = []byte{}
	}
	key := cache.Key(task.Name, rel)
	digest := cache.Digest(data)
	entry, hit, invalidation := b.cache.Lookup(key, digest)
	if hit {
		invalidation = b.staleResolution(ctx, task, key, entry)
		hit = invalidation == nil
	}
	if hit {
		run.add(task.Name, report.TaskSummary{FilesRead: 1, CacheHits: 1})
		return nil
	}
	if invalidation != nil {
		run.invalidate(report.Invalidation{Key: invalidation.Key, Reason: invalidation.Reason})
	}

	unit := &rewrite.SourceUnit{Path: path, Base: b.values.Path(task.Base), Contents: data}
	result, err := task.Transformer.Transform(ctx, unit)
	if err != nil {
		return err
	}

	counts := report.TaskSummary{FilesRead: 1, ModulesRelocated: result.Relocated}
	outputs := make([]string, 0, len(result.Units))
	for i, emitted := range result.Units {
		target, err := b.writer.Destination(emitted, task.Dest)
		if err != nil {
			return err
		}
		written, err := b.writer.Write(target, emitted.Contents)
		if err != nil {
			return fmt.Errorf("write %s: %w", target, err)
		}
		if written {
			counts.FilesWritten++
		} else {
			counts.Deduplicated++
		}
		outputs = append(outputs, target)
		if run.listModules {
			run.module(b.mapping(result, i, target, emitted.Contents))
		}
	}
	run.add(task.Name, counts)
	b.cache.Record(key, cache.Entry{
		Digest:       digest,
		Dependencies: result.Dependencies,
		Resolutions:  result.Resolutions,
		Outputs:      outputs,
	})
	return nil
}

func (b *Builder) staleResolution(ctx context.Context, task compiledTask, key string, entry cache.Entry) *cache.Invalidation {
	verifier, ok := task.Transformer.(ResolutionVerifier)
	if !ok || len(entry.Resolutions) == 0 {
		return nil
	}
	stale, changed := verifier.StaleResolution(ctx, entry.Resolutions)
	if !changed {
		return nil
	}
	return &cache.Invalidation{
		Key:    key,
		Reason: fmt.Sprintf("resolution changed: %q from %s", stale.Request, b.relative(stale.BaseDir)),
	}
}

func (b *Builder) mapping(result Result, i int, target string, contents []byte) report.ModuleMapping {
	source := result.Units[i].Path
	if i < len(result.Sources) {
		source = result.Sources[i]
	}
	return report.ModuleMapping{
		Source:      b.relative(source),
		Destination: b.relative(target),
		Relocated:   safeio.IsWithin(b.values.Path(b.values.ManagedDir), source),
		Bytes:       len(contents),
	}
}

func (b *Builder) relative(path string) string {
	rel, err := filepath.Rel(b.values.Root, path)
	if err != nil {
		return path
	}
	return filepath.ToSlash(rel)
}

// runState accumulates per-task counters across concurrent file workers.
type runState struct {
	mu            sync.Mutex
	listModules   bool
	tasks         map[string]report.TaskSummary
	modules       []report.ModuleMapping
	invalidations []report.Invalidation
}

func (r *runState) ensure(task string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tasks == nil {
		r.tasks = make(map[string]report.TaskSummary)
	}
	if _, ok := r.tasks[task]; !ok {
		r.tasks[task] = report.TaskSummary{Name: task}
	}
}

func (r *runState) add(task string, counts report.TaskSummary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current := r.tasks[task]
	current.Name = task
	current.FilesRead += counts.FilesRead
	current.FilesWritten += counts.FilesWritten
	current.ModulesRelocated += counts.ModulesRelocated
	current.CacheHits += counts.CacheHits
	current.Deduplicated += counts.Deduplicated
	r.tasks[task] = current
}

func (r *runState) module(mapping report.ModuleMapping) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modules = append(r.modules, mapping)
}

func (r *runState) invalidate(item report.Invalidation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invalidations = append(r.invalidations, item)
}

func (r *runState) summary(task string) report.TaskSummary {
	r.mu.Lock()
	defer r.mu.Unlock()
	summary := r.tasks[task]
	summary.Name = task
	return summary
}
