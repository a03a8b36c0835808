// Package workspace locates the project a command runs against.
package workspace

import (
	"os"
	"path/filepath"
	"slices"

	"github.com/ben-ranford/wxpack/internal/config"
)

// projectMarkers are files whose presence marks a project root, after the
// wxpack config files.
var projectMarkers = []string{"project.config.json", "package.json"}

func NormalizeRoot(path string) (string, error) {
	if path == "" {
		path = "."
	}
	return filepath.Abs(path)
}

// FindRoot walks up from start to the nearest directory holding a wxpack
// config file, project.config.json or package.json. Without one, the
// normalized start directory is returned.
func FindRoot(start string) (string, error) {
	normalized, err := NormalizeRoot(start)
	if err != nil {
		return "", err
	}
	for dir := normalized; ; dir = filepath.Dir(dir) {
		if isProjectRoot(dir) {
			return dir, nil
		}
		if filepath.Dir(dir) == dir {
			return normalized, nil
		}
	}
}

func isProjectRoot(dir string) bool {
	for _, name := range slices.Concat(config.ConfigFileNames, projectMarkers) {
		info, err := os.Stat(filepath.Join(dir, name))
		if err == nil && info.Mode().IsRegular() {
			return true
		}
	}
	return false
}
