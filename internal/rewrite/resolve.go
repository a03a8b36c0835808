package rewrite

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ben-ranford/wxpack/internal/safeio"
)

var defaultExtensions = []string{".js", ".json"}

// ModuleResolver maps a require request made from baseDir to an absolute file.
type ModuleResolver interface {
	Resolve(ctx context.Context, request string, baseDir string) (string, error)
}

// Resolver implements Node-style CommonJS resolution against the local file
// system. package.json lookups are memoized, so one Resolver can serve many
// concurrent traversals.
type Resolver struct {
	ManagedDir string
	MainFields []string
	Extensions []string

	mu       sync.Mutex
	packages map[string]packageEntry
}

type packageEntry struct {
	main  string
	found bool
	err   error
}

func NewResolver(managedDir string, mainFields []string) *Resolver {
	if strings.TrimSpace(managedDir) == "" {
		managedDir = DefaultManagedDir
	}
	if len(mainFields) == 0 {
		mainFields = []string{"main"}
	}
	return &Resolver{
		ManagedDir: managedDir,
		MainFields: append([]string(nil), mainFields...),
		Extensions: append([]string(nil), defaultExtensions...),
		packages:   make(map[string]packageEntry),
	}
}

func (r *Resolver) Resolve(ctx context.Context, request string, baseDir string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if request == "" {
		return "", &ModuleNotFoundError{Request: request, BaseDir: baseDir, Reason: "empty request"}
	}

	if isPathRequest(request) {
		target := filepath.FromSlash(request)
		if !filepath.IsAbs(target) {
			target = filepath.Join(baseDir, target)
		}
		resolved, ok, err := r.loadPath(target, isDirRequest(request))
		if err != nil {
			return "", r.notFound(request, baseDir, err.Error())
		}
		if ok {
			return resolved, nil
		}
		return "", r.notFound(request, baseDir, "")
	}

	for _, dir := range r.modulePaths(baseDir) {
		resolved, ok, err := r.loadPath(filepath.Join(dir, filepath.FromSlash(request)), strings.HasSuffix(request, "/"))
		if err != nil {
			return "", r.notFound(request, baseDir, err.Error())
		}
		if ok {
			return resolved, nil
		}
	}
	if isNodeBuiltin(request) {
		return "", r.notFound(request, baseDir, "node core modules are not available in the mini-program runtime")
	}
	return "", r.notFound(request, baseDir, "")
}

func (r *Resolver) notFound(request, baseDir, reason string) error {
	return &ModuleNotFoundError{Request: request, BaseDir: baseDir, Reason: reason}
}

func isPathRequest(request string) bool {
	switch {
	case request == "." || request == "..":
		return true
	case strings.HasPrefix(request, "./"), strings.HasPrefix(request, "../"), strings.HasPrefix(request, "/"):
		return true
	default:
		return false
	}
}

// isDirRequest reports whether request names a directory only, as "." and
// ".." do and any request with a trailing slash.
func isDirRequest(request string) bool {
	return request == "." || request == ".." || strings.HasSuffix(request, "/")
}

func (r *Resolver) loadPath(target string, dirOnly bool) (string, bool, error) {
	if !dirOnly {
		if resolved, ok := r.loadAsFile(target); ok {
			return resolved, true, nil
		}
	}
	return r.loadAsDirectory(target)
}

func (r *Resolver) loadAsFile(target string) (string, bool) {
	if isFile(target) {
		return target, true
	}
	for _, ext := range r.Extensions {
		if candidate := target + ext; isFile(candidate) {
			return candidate, true
		}
	}
	return "", false
}

func (r *Resolver) loadIndex(dir string) (string, bool) {
	for _, ext := range r.Extensions {
		if candidate := filepath.Join(dir, "index"+ext); isFile(candidate) {
			return candidate, true
		}
	}
	return "", false
}

func (r *Resolver) loadAsDirectory(dir string) (string, bool, error) {
	entry := r.packageMain(dir)
	if entry.err != nil {
		return "", false, entry.err
	}
	if entry.found && entry.main != "" {
		mainPath := filepath.Join(dir, filepath.FromSlash(entry.main))
		if resolved, ok := r.loadAsFile(mainPath); ok {
			return resolved, true, nil
		}
		if resolved, ok := r.loadIndex(mainPath); ok {
			return resolved, true, nil
		}
	}
	resolved, ok := r.loadIndex(dir)
	return resolved, ok, nil
}

func (r *Resolver) packageMain(dir string) packageEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.packages[dir]; ok {
		return entry
	}
	entry := r.readPackageMain(dir)
	r.packages[dir] = entry
	return entry
}

func (r *Resolver) readPackageMain(dir string) packageEntry {
	pkgPath := filepath.Join(dir, "package.json")
	if !isFile(pkgPath) {
		return packageEntry{}
	}
	data, err := safeio.ReadFileUnder(dir, pkgPath)
	if err != nil {
		return packageEntry{err: fmt.Errorf("read %s: %w", pkgPath, err)}
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return packageEntry{err: fmt.Errorf("parse %s: %w", pkgPath, err)}
	}
	for _, name := range r.MainFields {
		if value, ok := fields[name].(string); ok && strings.TrimSpace(value) != "" {
			return packageEntry{main: strings.TrimSpace(value), found: true}
		}
	}
	return packageEntry{found: true}
}

// modulePaths lists the managed directories searched for a bare request,
// nearest first.
func (r *Resolver) modulePaths(start string) []string {
	dirs := make([]string, 0, 8)
	dir := filepath.Clean(start)
	for {
		if filepath.Base(dir) != r.ManagedDir {
			dirs = append(dirs, filepath.Join(dir, r.ManagedDir))
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return dirs
		}
		dir = parent
	}
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
