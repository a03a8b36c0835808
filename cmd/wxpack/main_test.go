package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ben-ranford/wxpack/internal/testutil"
)

func TestRunHelp(t *testing.T) {
	var out bytes.Buffer
	var errOut bytes.Buffer

	code := run([]string{"--help"}, &out, &errOut)
	if code != 0 {
		t.Fatalf("expected exit code 0 for help, got %d", code)
	}
	if !strings.Contains(out.String(), "Usage:") {
		t.Fatalf("expected usage output on stdout, got %q", out.String())
	}
	if errOut.Len() != 0 {
		t.Fatalf("expected no stderr output for help, got %q", errOut.String())
	}
}

func TestRunParseError(t *testing.T) {
	var out bytes.Buffer
	var errOut bytes.Buffer

	code := run([]string{"nope"}, &out, &errOut)
	if code != 2 {
		t.Fatalf("expected parse error exit code 2, got %d", code)
	}
	if !strings.Contains(errOut.String(), "unknown command") || !strings.Contains(errOut.String(), "Usage:") {
		t.Fatalf("expected parse error details and usage on stderr, got %q", errOut.String())
	}
	if out.Len() != 0 {
		t.Fatalf("expected no stdout output for parse error, got %q", out.String())
	}
}

func TestRunBuild(t *testing.T) {
	root := t.TempDir()
	testutil.WriteTree(t, root, map[string]string{
		"src/app.js":                      "module.exports = require('dayjs')\n",
		"node_modules/dayjs/index.js":     "module.exports = {}\n",
		"node_modules/dayjs/package.json": `{"name": "dayjs"}`,
	})
	var out bytes.Buffer
	var errOut bytes.Buffer

	code := run([]string{"build", "-C", root, "--no-cache"}, &out, &errOut)
	if code != 0 {
		t.Fatalf("expected build to succeed, got %d: %s", code, errOut.String())
	}
	if !strings.Contains(out.String(), "Summary:") {
		t.Fatalf("expected summary on stdout, got %q", out.String())
	}
	if got := testutil.MustReadFile(t, filepath.Join(root, "dist", "app.js")); !strings.Contains(got, `require("./npm/dayjs/index.js")`) {
		t.Fatalf("unexpected entry output: %q", got)
	}
}

func TestRunBuildFailure(t *testing.T) {
	root := t.TempDir()
	testutil.MustWriteFile(t, filepath.Join(root, "src", "app.js"), "require('nowhere')\n")
	var out bytes.Buffer
	var errOut bytes.Buffer

	if code := run([]string{"build", "-C", root}, &out, &errOut); code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
	if !strings.Contains(errOut.String(), `cannot find module "nowhere"`) {
		t.Fatalf("expected module error on stderr, got %q", errOut.String())
	}
}
