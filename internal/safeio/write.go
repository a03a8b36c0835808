package safeio

import (
	"fmt"
	"os"
	"path/filepath"
)

// WriteFileUnder atomically writes data to targetPath, creating parent
// directories, only if targetPath resolves under rootDir.
func WriteFileUnder(rootDir, targetPath string, data []byte, perm os.FileMode) error {
	rootAbs, rel, err := relativeUnder(rootDir, targetPath)
	if err != nil {
		return err
	}
	if rel == "." {
		return fmt.Errorf("refusing to overwrite root: %s", rootAbs)
	}
	return WriteFileAtomic(filepath.Join(rootAbs, rel), data, perm)
}

// WriteFileAtomic writes through a temp file in the destination directory and
// renames it into place.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	tmpFile, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()
	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmpFile.Chmod(perm); err != nil {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmpFile.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if os.Rename(tmpPath, path) == nil {
		return nil
	}
	_ = os.Remove(tmpPath)
	// Windows cannot atomically rename over existing files; fall back to overwrite.
	return os.WriteFile(path, data, perm)
}
