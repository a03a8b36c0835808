// Package rewrite relocates CommonJS dependencies out of the managed
// dependency directory and rewrites require calls to relative paths.
package rewrite

import (
	"context"
	"fmt"
	"iter"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/ben-ranford/wxpack/internal/safeio"
)

type Options struct {
	Root       string
	ManagedDir string
	TargetDir  string
	Alias      string
	MainFields []string
}

// FileReader loads the contents of a discovered dependency.
type FileReader interface {
	ReadFile(path string) ([]byte, error)
}

type rootReader struct {
	root string
}

func (r rootReader) ReadFile(path string) ([]byte, error) {
	return safeio.ReadFileUnder(r.root, path)
}

type Rewriter struct {
	planner   Planner
	resolver  ModuleResolver
	extractor ReferenceExtractor
	reader    FileReader
}

type Option func(*Rewriter)

func WithResolver(resolver ModuleResolver) Option {
	return func(r *Rewriter) { r.resolver = resolver }
}

func WithExtractor(extractor ReferenceExtractor) Option {
	return func(r *Rewriter) { r.extractor = extractor }
}

func WithReader(reader FileReader) Option {
	return func(r *Rewriter) { r.reader = reader }
}

func New(opts Options, options ...Option) *Rewriter {
	planner := NewPlanner(opts.Root, opts.ManagedDir, opts.TargetDir, opts.Alias)
	r := &Rewriter{
		planner:   planner,
		resolver:  NewResolver(planner.ManagedDir, opts.MainFields),
		extractor: NewTreeSitterExtractor(),
		reader:    rootReader{root: planner.Root},
	}
	for _, option := range options {
		option(r)
	}
	return r
}

func (r *Rewriter) Planner() Planner {
	return r.planner
}

// Stream is the lazy output of one traversal. It can be ranged over once.
type Stream struct {
	run      func(yield func(*SourceUnit, error) bool)
	consumed atomic.Bool
}

// All yields the entry unit followed by every relocated dependency, depth
// first. An error ends the sequence.
func (s *Stream) All() iter.Seq2[*SourceUnit, error] {
	return func(yield func(*SourceUnit, error) bool) {
		if !s.consumed.CompareAndSwap(false, true) {
			yield(nil, ErrStreamConsumed)
			return
		}
		s.run(yield)
	}
}

// Rewrite starts a traversal rooted at unit. A nil visited set starts a fresh
// one; pass a shared set only when several entries must not emit the same
// module twice.
func (r *Rewriter) Rewrite(ctx context.Context, unit *SourceUnit, visited *VisitedSet) *Stream {
	if visited == nil {
		visited = NewVisitedSet()
	}
	return &Stream{run: func(yield func(*SourceUnit, error) bool) {
		switch {
		case unit.IsStream():
			yield(nil, unsupportedInput(unit.Path))
			return
		case unit.IsNull():
			yield(unit, nil)
			return
		}
		visited.Add(unit.Path)
		r.visit(ctx, unit, visited, yield)
	}}
}

// Collect drains a traversal into a slice.
func (r *Rewriter) Collect(ctx context.Context, unit *SourceUnit, visited *VisitedSet) ([]*SourceUnit, error) {
	units := make([]*SourceUnit, 0, 1)
	for emitted, err := range r.Rewrite(ctx, unit, visited).All() {
		if err != nil {
			return units, err
		}
		units = append(units, emitted)
	}
	return units, nil
}

func (r *Rewriter) visit(ctx context.Context, unit *SourceUnit, visited *VisitedSet, yield func(*SourceUnit, error) bool) bool {
	if err := ctx.Err(); err != nil {
		yield(nil, err)
		return false
	}
	pending, err := r.rewriteUnit(ctx, unit, visited)
	if err != nil {
		yield(nil, err)
		return false
	}
	if !yield(unit, nil) {
		return false
	}

	for _, path := range pending {
		if !r.planner.IsManaged(path) {
			continue
		}
		contents, err := r.reader.ReadFile(path)
		if err != nil {
			yield(nil, fmt.Errorf("read dependency %s: %w", path, err))
			return false
		}
		if contents == nil {
			contents = []byte{}
		}
		dependency := &SourceUnit{Path: path, Base: unit.Base, Contents: contents}
		if !r.visit(ctx, dependency, visited, yield) {
			return false
		}
	}
	return true
}

// rewriteUnit rewrites the requires of unit in place, relocates it when it
// is managed and returns the newly discovered module paths.
func (r *Rewriter) rewriteUnit(ctx context.Context, unit *SourceUnit, visited *VisitedSet) ([]string, error) {
	log := zerolog.Ctx(ctx)
	refs, err := r.extractor.Extract(ctx, unit.Path, unit.Contents)
	if err != nil {
		return nil, fmt.Errorf("extract references from %s: %w", unit.Path, err)
	}

	baseDir := unit.Dir()
	table := make(map[string]string)
	pending := make([]string, 0)
	for _, literal := range Literals(refs) {
		if _, ok := table[literal]; ok {
			continue
		}
		resolved, err := r.resolver.Resolve(ctx, literal, baseDir)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", unit.Path, err)
		}
		if visited.Add(resolved) {
			pending = append(pending, resolved)
		}
		request, err := r.planner.RelativeRequest(baseDir, resolved)
		if err != nil {
			return nil, fmt.Errorf("%s: require %q: %w", unit.Path, literal, err)
		}
		table[literal] = request
	}

	if len(table) > 0 {
		unit.Contents = substitute(unit.Contents, refs, table)
	}
	if r.planner.IsManaged(unit.Path) {
		relocated, err := r.planner.Relocate(unit.Path)
		if err != nil {
			return nil, err
		}
		log.Debug().Str("from", unit.Path).Str("to", relocated).Msg("relocated module")
		unit.Path = relocated
	}
	log.Debug().Str("module", unit.Path).Int("requires", len(table)).Msg("rewrote module")
	return pending, nil
}
