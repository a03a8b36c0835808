package rewrite

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ben-ranford/wxpack/internal/testutil"
)

func TestResolverResolvesRelativeRequests(t *testing.T) {
	root := t.TempDir()
	testutil.WriteTree(t, root, map[string]string{
		"src/util.js":              "",
		"src/data.json":            "{}",
		"src/lib/index.js":         "",
		"src/exact.mjs":            "",
		"src/pkgdir/package.json":  `{"main": "./dist/entry"}`,
		"src/pkgdir/dist/entry.js": "",
		"shared/common.js":         "",
	})
	srcDir := filepath.Join(root, "src")
	resolver := NewResolver("", nil)

	cases := []struct {
		request string
		want    string
	}{
		{"./util", "src/util.js"},
		{"./util.js", "src/util.js"},
		{"./data", "src/data.json"},
		{"./lib", "src/lib/index.js"},
		{"./lib/", "src/lib/index.js"},
		{"./exact.mjs", "src/exact.mjs"},
		{"./pkgdir", "src/pkgdir/dist/entry.js"},
		{"../shared/common", "shared/common.js"},
		{filepath.ToSlash(filepath.Join(root, "src", "util")), "src/util.js"},
	}
	for _, tc := range cases {
		t.Run(tc.request, func(t *testing.T) {
			got, err := resolver.Resolve(context.Background(), tc.request, srcDir)
			if err != nil {
				t.Fatalf("resolve %q: %v", tc.request, err)
			}
			want := filepath.Join(root, filepath.FromSlash(tc.want))
			if got != want {
				t.Fatalf("resolve %q: got %s want %s", tc.request, got, want)
			}
		})
	}
}

func TestResolverTreatsDotRequestsAsDirectories(t *testing.T) {
	root := t.TempDir()
	testutil.WriteTree(t, root, map[string]string{
		"src/lib.js":           "",
		"src/lib/index.js":     "",
		"src/lib/inner/use.js": "",
	})
	resolver := NewResolver("", nil)
	want := filepath.Join(root, "src", "lib", "index.js")

	cases := []struct {
		request string
		baseDir string
	}{
		{".", filepath.Join(root, "src", "lib")},
		{"..", filepath.Join(root, "src", "lib", "inner")},
	}
	for _, tc := range cases {
		got, err := resolver.Resolve(context.Background(), tc.request, tc.baseDir)
		if err != nil {
			t.Fatalf("resolve %q: %v", tc.request, err)
		}
		if got != want {
			t.Fatalf("resolve %q: got %s want %s", tc.request, got, want)
		}
	}
}

func TestResolverResolvesPackages(t *testing.T) {
	root := t.TempDir()
	testutil.WriteTree(t, root, map[string]string{
		"node_modules/lodash/package.json":               `{"name": "lodash", "main": "lodash.js"}`,
		"node_modules/lodash/lodash.js":                  "",
		"node_modules/lodash/fp/map.js":                  "",
		"node_modules/noindex/index.js":                  "",
		"node_modules/@scope/pkg/package.json":           `{"main": "lib"}`,
		"node_modules/@scope/pkg/lib/index.js":           "",
		"node_modules/outer/index.js":                    "",
		"node_modules/outer/node_modules/inner/index.js": "",
		"node_modules/inner/index.js":                    "",
		"src/pages/home/home.js":                         "",
	})
	resolver := NewResolver("", nil)
	homeDir := filepath.Join(root, "src", "pages", "home")
	outerDir := filepath.Join(root, "node_modules", "outer")

	cases := []struct {
		name    string
		request string
		baseDir string
		want    string
	}{
		{"package main", "lodash", homeDir, "node_modules/lodash/lodash.js"},
		{"package subpath", "lodash/fp/map", homeDir, "node_modules/lodash/fp/map.js"},
		{"index fallback", "noindex", homeDir, "node_modules/noindex/index.js"},
		{"scoped main directory", "@scope/pkg", homeDir, "node_modules/@scope/pkg/lib/index.js"},
		{"nearest nested package wins", "inner", outerDir, "node_modules/outer/node_modules/inner/index.js"},
		{"hoisted package from project", "inner", homeDir, "node_modules/inner/index.js"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := resolver.Resolve(context.Background(), tc.request, tc.baseDir)
			if err != nil {
				t.Fatalf("resolve %q: %v", tc.request, err)
			}
			want := filepath.Join(root, filepath.FromSlash(tc.want))
			if got != want {
				t.Fatalf("resolve %q: got %s want %s", tc.request, got, want)
			}
		})
	}
}

func TestResolverHonorsMainFieldOrder(t *testing.T) {
	root := t.TempDir()
	testutil.WriteTree(t, root, map[string]string{
		"node_modules/dual/package.json": `{"main": "node.js", "browser": "browser.js", "module": {"not": "a string"}}`,
		"node_modules/dual/node.js":      "",
		"node_modules/dual/browser.js":   "",
	})

	got, err := NewResolver("", []string{"module", "browser", "main"}).Resolve(context.Background(), "dual", root)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if want := filepath.Join(root, "node_modules", "dual", "browser.js"); got != want {
		t.Fatalf("expected browser field to win, got %s", got)
	}

	got, err = NewResolver("", nil).Resolve(context.Background(), "dual", root)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if want := filepath.Join(root, "node_modules", "dual", "node.js"); got != want {
		t.Fatalf("expected main field by default, got %s", got)
	}
}

func TestResolverReportsMissingModules(t *testing.T) {
	root := t.TempDir()
	testutil.WriteTree(t, root, map[string]string{
		"src/app.js": "",
	})
	resolver := NewResolver("", nil)
	srcDir := filepath.Join(root, "src")

	for _, request := range []string{"./missing", "missing-package", "", "./app.js/"} {
		_, err := resolver.Resolve(context.Background(), request, srcDir)
		if !errors.Is(err, ErrModuleNotFound) {
			t.Fatalf("resolve %q: expected ErrModuleNotFound, got %v", request, err)
		}
		var notFound *ModuleNotFoundError
		if !errors.As(err, &notFound) {
			t.Fatalf("resolve %q: expected *ModuleNotFoundError, got %T", request, err)
		}
		if notFound.Request != request || notFound.BaseDir != srcDir {
			t.Fatalf("unexpected error details: %#v", notFound)
		}
	}
}

func TestResolverNodeBuiltins(t *testing.T) {
	root := t.TempDir()
	testutil.WriteTree(t, root, map[string]string{
		"node_modules/events/index.js": "",
	})
	resolver := NewResolver("", nil)

	_, err := resolver.Resolve(context.Background(), "fs", root)
	if !errors.Is(err, ErrModuleNotFound) || !strings.Contains(err.Error(), "node core modules") {
		t.Fatalf("expected builtin not-found error, got %v", err)
	}

	got, err := resolver.Resolve(context.Background(), "events", root)
	if err != nil {
		t.Fatalf("expected installed events shim to resolve: %v", err)
	}
	if want := filepath.Join(root, "node_modules", "events", "index.js"); got != want {
		t.Fatalf("got %s want %s", got, want)
	}
}

func TestResolverInvalidPackageJSON(t *testing.T) {
	root := t.TempDir()
	testutil.WriteTree(t, root, map[string]string{
		"node_modules/broken/package.json": `{"main": `,
		"node_modules/broken/index.js":     "",
	})

	_, err := NewResolver("", nil).Resolve(context.Background(), "broken", root)
	if !errors.Is(err, ErrModuleNotFound) || !strings.Contains(err.Error(), "package.json") {
		t.Fatalf("expected package.json parse failure, got %v", err)
	}
}

func TestResolverHonorsCanceledContext(t *testing.T) {
	_, err := NewResolver("", nil).Resolve(testutil.CanceledContext(), "./x", t.TempDir())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestModulePathsSkipManagedAncestors(t *testing.T) {
	resolver := NewResolver("", nil)
	base := filepath.Join(string(filepath.Separator), "p", "node_modules", "a", "lib")
	got := resolver.modulePaths(base)
	want := []string{
		filepath.Join(string(filepath.Separator), "p", "node_modules", "a", "lib", "node_modules"),
		filepath.Join(string(filepath.Separator), "p", "node_modules", "a", "node_modules"),
		filepath.Join(string(filepath.Separator), "p", "node_modules"),
		filepath.Join(string(filepath.Separator), "node_modules"),
	}
	if len(got) != len(want) {
		t.Fatalf("unexpected module paths: %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("module path %d: got %s want %s", i, got[i], want[i])
		}
	}
}

func TestIsNodeBuiltin(t *testing.T) {
	tests := []struct {
		module   string
		expected bool
	}{
		{"fs", true},
		{"node:fs", true},
		{"fs/promises", true},
		{"node:path/posix", true},
		{"lodash", false},
		{"@babel/core", false},
		{"fake-fs", false},
		{"", false},
		{"node:", false},
	}
	for _, tt := range tests {
		if got := isNodeBuiltin(tt.module); got != tt.expected {
			t.Errorf("isNodeBuiltin(%q) = %v, want %v", tt.module, got, tt.expected)
		}
	}
}
