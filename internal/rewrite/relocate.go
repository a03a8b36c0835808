package rewrite

import (
	"path/filepath"
	"strings"

	"github.com/ben-ranford/wxpack/internal/safeio"
)

const (
	DefaultManagedDir = "node_modules"
	DefaultTargetDir  = "src/npm"
	DefaultAlias      = "npm"
)

// Planner maps paths inside the managed dependency directory into the
// project's source tree and computes the relative requests between them.
type Planner struct {
	Root       string
	ManagedDir string
	TargetDir  string
	Alias      string
}

func NewPlanner(root, managedDir, targetDir, alias string) Planner {
	p := Planner{
		Root:       filepath.Clean(root),
		ManagedDir: managedDir,
		TargetDir:  targetDir,
		Alias:      alias,
	}
	if strings.TrimSpace(p.ManagedDir) == "" {
		p.ManagedDir = DefaultManagedDir
	}
	if strings.TrimSpace(p.TargetDir) == "" {
		p.TargetDir = DefaultTargetDir
	}
	if strings.TrimSpace(p.Alias) == "" {
		p.Alias = DefaultAlias
	}
	return p
}

func (p Planner) managedRoot() string {
	return filepath.Join(p.Root, p.ManagedDir)
}

// TargetRoot is the directory relocated modules are written under.
func (p Planner) TargetRoot() string {
	return filepath.Join(p.Root, filepath.FromSlash(p.TargetDir))
}

// IsManaged reports whether path lies in the managed dependency directory
// anchored at the project root.
func (p Planner) IsManaged(path string) bool {
	return safeio.IsWithin(p.managedRoot(), filepath.Clean(path))
}

// Relocate returns the destination of path. Paths outside the managed
// directory come back unchanged; paths outside the root are rejected.
func (p Planner) Relocate(path string) (string, error) {
	path = filepath.Clean(path)
	if !safeio.IsWithin(p.Root, path) {
		return "", &PathEscapeError{Path: path, Root: p.Root}
	}
	if !p.IsManaged(path) {
		return path, nil
	}

	rel, err := filepath.Rel(p.managedRoot(), path)
	if err != nil {
		return "", err
	}
	segments := []string{p.TargetRoot()}
	if rel != "." {
		for _, segment := range strings.Split(rel, string(filepath.Separator)) {
			if segment == p.ManagedDir {
				segment = p.Alias
			}
			segments = append(segments, segment)
		}
	}
	relocated := filepath.Join(segments...)
	if !safeio.IsWithin(p.Root, relocated) {
		return "", &PathEscapeError{Path: relocated, Root: p.Root}
	}
	return relocated, nil
}

// RelativeRequest returns the literal a file in fromDir must require to load
// target once both have been relocated. The result always starts with "./"
// or "../" so the runtime never treats it as a package name.
func (p Planner) RelativeRequest(fromDir, target string) (string, error) {
	from, err := p.Relocate(fromDir)
	if err != nil {
		return "", err
	}
	to, err := p.Relocate(target)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(from, to)
	if err != nil {
		return "", err
	}
	rel = filepath.ToSlash(rel)
	if !strings.HasPrefix(rel, "./") && !strings.HasPrefix(rel, "../") {
		rel = "./" + rel
	}
	return rel, nil
}
