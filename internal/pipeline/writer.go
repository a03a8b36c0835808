package pipeline

import (
	"path/filepath"
	"sync"

	"github.com/ben-ranford/wxpack/internal/cache"
	"github.com/ben-ranford/wxpack/internal/rewrite"
	"github.com/ben-ranford/wxpack/internal/safeio"
)

const outputFileMode = 0o644

// Writer places emitted units under the distribution directory. Within one
// run, a destination already written with identical contents is skipped.
type Writer struct {
	dist    string
	mu      sync.Mutex
	targets map[string]*writtenTarget
}

// writtenTarget serializes writes to one destination and holds the digest of
// the last successful one.
type writtenTarget struct {
	mu     sync.Mutex
	digest string
}

func NewWriter(dist string) *Writer {
	return &Writer{dist: filepath.Clean(dist), targets: make(map[string]*writtenTarget)}
}

func (w *Writer) Dist() string {
	return w.dist
}

// Reset starts a new run.
func (w *Writer) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.targets = make(map[string]*writtenTarget)
}

// Destination maps unit to its output path: the unit path relative to its
// base, under dest inside the distribution directory.
func (w *Writer) Destination(unit *rewrite.SourceUnit, dest string) (string, error) {
	rel, err := unit.Rel()
	if err != nil {
		return "", err
	}
	target := filepath.Join(w.dist, filepath.FromSlash(dest), filepath.FromSlash(rel))
	if target == w.dist || !safeio.IsWithin(w.dist, target) {
		return "", &rewrite.PathEscapeError{Path: target, Root: w.dist}
	}
	return target, nil
}

// Write stores data at target and reports whether anything was written.
func (w *Writer) Write(target string, data []byte) (bool, error) {
	digest := cache.Digest(data)
	state := w.target(target)
	state.mu.Lock()
	defer state.mu.Unlock()
	if state.digest == digest {
		return false, nil
	}
	if err := safeio.WriteFileUnder(w.dist, target, data, outputFileMode); err != nil {
		return false, err
	}
	state.digest = digest
	return true, nil
}

func (w *Writer) target(path string) *writtenTarget {
	w.mu.Lock()
	defer w.mu.Unlock()
	state, ok := w.targets[path]
	if !ok {
		state = &writtenTarget{}
		w.targets[path] = state
	}
	return state
}
