package testutil

import (
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"testing"
)

func TestCanceledContextIsDone(t *testing.T) {
	ctx := CanceledContext()
	select {
	case <-ctx.Done():
	default:
		t.Fatal("expected canceled context")
	}
}

func TestWriteHelpers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "file.txt")

	MustWriteFile(t, path, "hello")
	if got := MustReadFile(t, path); got != "hello" {
		t.Fatalf("unexpected content: %q", got)
	}
	if info, err := os.Stat(path); err != nil {
		t.Fatalf("stat: %v", err)
	} else if got := info.Mode().Perm(); got != 0o600 {
		t.Fatalf("expected 0600, got %o", got)
	}
}

func TestWriteTreeAndListFiles(t *testing.T) {
	root := t.TempDir()
	WriteTree(t, root, map[string]string{
		"src/app.js":                       "require('lodash')",
		"node_modules/lodash/index.js":     "module.exports = {}",
		"node_modules/lodash/package.json": `{"main":"index.js"}`,
	})

	got := ListFiles(t, root)
	want := []string{
		"node_modules/lodash/index.js",
		"node_modules/lodash/package.json",
		"src/app.js",
	}
	if !slices.Equal(got, want) {
		t.Fatalf("unexpected files: got %v want %v", got, want)
	}
}

func TestFatalPathsViaHelperProcess(t *testing.T) {
	t.Parallel()
	for _, tc := range []string{
		"mkdir-failure",
		"write-failure",
		"read-failure",
	} {
		t.Run(tc, func(t *testing.T) {
			cmd := exec.Command(os.Args[0], "-test.run=TestHelperFatalPath", "--", tc)
			cmd.Env = append(os.Environ(), "TESTUTIL_FATAL_HELPER=1")
			err := cmd.Run()
			if err == nil {
				t.Fatalf("expected helper to fail for scenario %s", tc)
			}
			if _, ok := err.(*exec.ExitError); !ok {
				t.Fatalf("expected ExitError, got %T: %v", err, err)
			}
		})
	}
}

func TestHelperFatalPath(t *testing.T) {
	if os.Getenv("TESTUTIL_FATAL_HELPER") != "1" {
		return
	}
	if len(os.Args) < 2 {
		t.Fatal("missing helper scenario")
	}
	scenario := os.Args[len(os.Args)-1]

	switch scenario {
	case "mkdir-failure":
		dir := t.TempDir()
		parentFile := filepath.Join(dir, "parent")
		if err := os.WriteFile(parentFile, []byte("x"), 0o600); err != nil {
			t.Fatalf("setup parent file: %v", err)
		}
		MustWriteFileMode(t, filepath.Join(parentFile, "child.txt"), "x", 0o600)
	case "write-failure":
		dir := t.TempDir()
		MustWriteFileMode(t, dir, "x", 0o600)
	case "read-failure":
		_ = MustReadFile(t, filepath.Join(t.TempDir(), "missing"))
	default:
		t.Fatalf("unknown helper scenario %q", scenario)
	}
}
