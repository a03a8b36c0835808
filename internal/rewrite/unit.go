package rewrite

import (
	"io"
	"path/filepath"
	"sync"
)

// SourceUnit is one file flowing through the rewriter. Base is the directory
// that output paths are computed relative to.
type SourceUnit struct {
	Path     string
	Base     string
	Contents []byte
	// Stream is set for inputs that only expose streaming content. Such
	// units are rejected.
	Stream io.Reader
}

func (u *SourceUnit) Dir() string {
	return filepath.Dir(u.Path)
}

// IsNull reports whether the unit carries no content at all.
func (u *SourceUnit) IsNull() bool {
	return u.Contents == nil && u.Stream == nil
}

func (u *SourceUnit) IsStream() bool {
	return u.Stream != nil
}

// Rel returns the unit path relative to its base, slash separated.
func (u *SourceUnit) Rel() (string, error) {
	rel, err := filepath.Rel(u.Base, u.Path)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}

// VisitedSet holds the absolute module paths already scheduled during one
// traversal. It is safe for concurrent use so a caller can share a set across
// entries on purpose; by default every entry gets a fresh one.
type VisitedSet struct {
	mu    sync.Mutex
	paths map[string]struct{}
}

func NewVisitedSet() *VisitedSet {
	return &VisitedSet{paths: make(map[string]struct{})}
}

// Add marks path as visited and reports whether it was new.
func (s *VisitedSet) Add(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := filepath.Clean(path)
	if _, ok := s.paths[key]; ok {
		return false
	}
	s.paths[key] = struct{}{}
	return true
}

func (s *VisitedSet) Has(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.paths[filepath.Clean(path)]
	return ok
}

func (s *VisitedSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.paths)
}
