package pipeline

import (
	"context"
	"fmt"
	"maps"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/evanw/esbuild/pkg/api"

	"github.com/ben-ranford/wxpack/internal/cache"
	"github.com/ben-ranford/wxpack/internal/config"
	"github.com/ben-ranford/wxpack/internal/rewrite"
	"github.com/ben-ranford/wxpack/internal/safeio"
)

var compiledExtensions = map[string]bool{
	".js":  true,
	".cjs": true,
	".mjs": true,
}

// ScriptTransformer rewrites the requires of a script entry, relocates its
// managed dependencies and compiles every emitted script with esbuild.
type ScriptTransformer struct {
	options   rewrite.Options
	planner   rewrite.Planner
	extractor rewrite.ReferenceExtractor
	compile   api.TransformOptions
}

func NewScriptTransformer(values config.Values) *ScriptTransformer {
	options := rewrite.Options{
		Root:       values.Root,
		ManagedDir: values.ManagedDir,
		TargetDir:  values.TargetDir,
		Alias:      values.Alias,
		MainFields: values.MainFields,
	}
	planner := rewrite.NewPlanner(options.Root, options.ManagedDir, options.TargetDir, options.Alias)
	production := values.Production()
	return &ScriptTransformer{
		options:   options,
		planner:   planner,
		extractor: rewrite.NewTreeSitterExtractor(),
		compile:   api.TransformOptions{
			Loader:            api.LoaderJS,
			Define:            Defines(values),
			MinifyWhitespace:  production,
			MinifyIdentifiers: production,
			MinifySyntax:      production,
			Charset:           api.CharsetUTF8,
			LogLevel:          api.LogLevelSilent,
		},
	}
}

// Defines returns the compile-time replacements: the configured define
// entries plus process.env.NODE_ENV.
func Defines(values config.Values) map[string]string {
	define := maps.Clone(values.Define)
	if define == nil {
		define = make(map[string]string, 1)
	}
	define["process.env.NODE_ENV"] = strconv.Quote(values.Env)
	return define
}

func (s *ScriptTransformer) Transform(ctx context.Context, unit *rewrite.SourceUnit) (Result, error) {
	result, err := s.Rewrite(ctx, unit)
	if err != nil {
		return Result{}, err
	}
	for i, emitted := range result.Units {
		if !compiledExtensions[strings.ToLower(filepath.Ext(emitted.Path))] {
			continue
		}
		compiled, err := s.compileUnit(result.Sources[i], emitted.Contents)
		if err != nil {
			return Result{}, err
		}
		emitted.Contents = compiled
	}
	return result, nil
}

// Rewrite runs only the require rewriter over unit. Sources[i] is the file
// Units[i] was read from.
func (s *ScriptTransformer) Rewrite(ctx context.Context, unit *rewrite.SourceUnit) (Result, error) {
	reader := &recordingReader{root: s.planner.Root}
	resolver := &recordingResolver{next: s.newResolver()}
	rewriter := rewrite.New(s.options,
		rewrite.WithResolver(resolver),
		rewrite.WithExtractor(s.extractor),
		rewrite.WithReader(reader),
	)
	entry := unit.Path
	units, err := rewriter.Collect(ctx, unit, nil)
	if err != nil {
		return Result{}, err
	}

	result := Result{
		Units:        units,
		Sources:      append([]string{entry}, reader.paths...),
		Dependencies: reader.digests,
		Resolutions:  resolver.resolutions,
	}
	if len(result.Sources) != len(result.Units) {
		return Result{}, fmt.Errorf("rewrite %s: emitted %d modules for %d reads", entry, len(result.Units), len(result.Sources))
	}
	for _, source := range result.Sources {
		if s.planner.IsManaged(source) {
			result.Relocated++
		}
	}
	return result, nil
}

// newResolver returns a resolver whose package.json memo lives for one
// traversal, so installs between builds are observed.
func (s *ScriptTransformer) newResolver() *rewrite.Resolver {
	return rewrite.NewResolver(s.planner.ManagedDir, s.options.MainFields)
}

// StaleResolution re-resolves recorded requests and returns the first one
// that no longer lands on the same file.
func (s *ScriptTransformer) StaleResolution(ctx context.Context, resolutions []cache.Resolution) (cache.Resolution, bool) {
	resolver := s.newResolver()
	for _, item := range resolutions {
		resolved, err := resolver.Resolve(ctx, item.Request, item.BaseDir)
		if err != nil || resolved != item.Path {
			return item, true
		}
	}
	return cache.Resolution{}, false
}

func (s *ScriptTransformer) compileUnit(source string, contents []byte) ([]byte, error) {
	options := s.compile
	options.Sourcefile = source
	out := api.Transform(string(contents), options)
	if len(out.Errors) > 0 {
		return nil, &CompileError{Path: source, Messages: messages(out.Errors)}
	}
	return out.Code, nil
}

// CompileError reports esbuild diagnostics for one file.
type CompileError struct {
	Path     string
	Messages []string
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("compile %s: %s", e.Path, strings.Join(e.Messages, "; "))
}

func messages(msgs []api.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		if msg.Location != nil {
			out = append(out, fmt.Sprintf("%d:%d: %s", msg.Location.Line, msg.Location.Column, msg.Text))
			continue
		}
		out = append(out, msg.Text)
	}
	return out
}

// recordingReader reads dependencies under root and remembers what it read,
// in order, for cache validation.
type recordingReader struct {
	root    string
	mu      sync.Mutex
	paths   []string
	digests map[string]string
}

func (r *recordingReader) ReadFile(path string) ([]byte, error) {
	data, err := safeio.ReadFileUnder(r.root, path)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.digests == nil {
		r.digests = make(map[string]string)
	}
	r.paths = append(r.paths, path)
	r.digests[path] = cache.Digest(data)
	return data, nil
}

// recordingResolver remembers every request it answered.
type recordingResolver struct {
	next        rewrite.ModuleResolver
	mu          sync.Mutex
	seen        map[cache.Resolution]bool
	resolutions []cache.Resolution
}

func (r *recordingResolver) Resolve(ctx context.Context, request string, baseDir string) (string, error) {
	resolved, err := r.next.Resolve(ctx, request, baseDir)
	if err != nil {
		return "", err
	}
	item := cache.Resolution{Request: request, BaseDir: baseDir, Path: resolved}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.seen == nil {
		r.seen = make(map[cache.Resolution]bool)
	}
	if !r.seen[item] {
		r.seen[item] = true
		r.resolutions = append(r.resolutions, item)
	}
	return resolved, nil
}
