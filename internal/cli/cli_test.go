package cli

import (
	"bytes"
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/ben-ranford/wxpack/internal/app"
	"github.com/ben-ranford/wxpack/internal/report"
)

type fakeRunner struct {
	output  string
	err     error
	called  bool
	lastReq app.Request
}

type failWriter struct{}

func (f *fakeRunner) Execute(_ context.Context, req app.Request) (string, error) {
	f.called = true
	f.lastReq = req
	return f.output, f.err
}

func (*failWriter) Write([]byte) (int, error) {
	return 0, errors.New("write failed")
}

func run(t *testing.T, runner *fakeRunner, args ...string) (int, string, string) {
	t.Helper()
	var out, errOut bytes.Buffer
	code := New(runner, &out, &errOut).Run(context.Background(), args)
	return code, out.String(), errOut.String()
}

func TestRunHelp(t *testing.T) {
	for _, args := range [][]string{nil, {"--help"}, {"build", "--help"}} {
		runner := &fakeRunner{}
		code, out, errOut := run(t, runner, args...)
		if code != exitOK {
			t.Fatalf("%v: expected code 0, got %d", args, code)
		}
		if !strings.Contains(out, "Usage:") || errOut != "" {
			t.Fatalf("%v: expected usage on stdout only, got %q / %q", args, out, errOut)
		}
		if runner.called {
			t.Fatalf("%v: runner should not run for help", args)
		}
	}
}

func TestRunUsageErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{name: "unknown command", args: []string{"nope"}, want: "unknown command"},
		{name: "unknown flag", args: []string{"build", "--bogus"}, want: "unknown flag"},
		{name: "bad format", args: []string{"build", "--format", "xml"}, want: "unknown format"},
		{name: "missing entry", args: []string{"rewrite"}, want: "accepts 1 arg"},
		{name: "extra args", args: []string{"clean", "now"}, want: "unknown command"},
		{name: "bad jobs", args: []string{"build", "--jobs", "many"}, want: "invalid argument"},
		{name: "bad log level", args: []string{"build", "--log-level", "loud"}, want: "invalid log level"},
		{name: "bad env", args: []string{"build", "--env", "staging"}, want: "env"},
		{name: "bad define", args: []string{"build", "--define", "DEBUG"}, want: "expected KEY=EXPR"},
		{name: "bad debounce", args: []string{"watch", "--debounce", "0s"}, want: "--debounce"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			runner := &fakeRunner{}
			code, out, errOut := run(t, runner, tc.args...)
			if code != exitUsage {
				t.Fatalf("expected code 2, got %d (%s)", code, errOut)
			}
			if !strings.HasPrefix(errOut, "error: ") || !strings.Contains(errOut, tc.want) || !strings.Contains(errOut, "Usage:") {
				t.Fatalf("unexpected stderr: %q", errOut)
			}
			if out != "" || runner.called {
				t.Fatalf("expected nothing to run, got stdout %q", out)
			}
		})
	}
}

func TestRunUsageWriterFailure(t *testing.T) {
	code := New(&fakeRunner{}, &bytes.Buffer{}, &failWriter{}).Run(context.Background(), []string{"nope"})
	if code != exitError {
		t.Fatalf("expected writer failure to return code 1, got %d", code)
	}
}

func TestRunRunnerError(t *testing.T) {
	code, _, errOut := run(t, &fakeRunner{output: "partial", err: errors.New("boom")}, "build")
	if code != exitError {
		t.Fatalf("expected code 1, got %d", code)
	}
	if errOut != "error: boom\n" {
		t.Fatalf("expected error without usage, got %q", errOut)
	}
}

func TestRunOutputNewlineHandling(t *testing.T) {
	code, out, _ := run(t, &fakeRunner{output: "ok"}, "clean")
	if code != exitOK || out != "ok\n" {
		t.Fatalf("expected newline-appended output, got %d %q", code, out)
	}
}

func TestRunOutputWriterFailure(t *testing.T) {
	code := New(&fakeRunner{output: "ok"}, &failWriter{}, &bytes.Buffer{}).Run(context.Background(), []string{"clean"})
	if code != exitError {
		t.Fatalf("expected output writer failure to return code 1, got %d", code)
	}
}

func TestBuildRequestDefaults(t *testing.T) {
	runner := &fakeRunner{}
	if code, _, errOut := run(t, runner, "build"); code != exitOK {
		t.Fatalf("build failed: %s", errOut)
	}
	req := runner.lastReq
	if req.Mode != app.ModeBuild || req.Root != "." || !req.DiscoverRoot || !req.Build.Clean || req.Build.Format != report.FormatTable {
		t.Fatalf("unexpected request: %+v", req)
	}
	if req.Flags.Env != nil || req.Flags.Jobs != nil || req.Flags.CacheEnabled != nil || req.Flags.Define != nil {
		t.Fatalf("expected no overrides without flags, got %+v", req.Flags)
	}
}

func TestBuildRequestFlags(t *testing.T) {
	runner := &fakeRunner{}
	code, _, errOut := run(t, runner,
		"build", "-C", "/work/app", "--config", "ci.yml", "--env", "production",
		"--src", "source", "--dist", "out", "--jobs", "3", "--no-cache", "--cache-path", "tmp/cache",
		"--exclude", "**/*.tmp", "--exclude", "**/fixtures/**",
		"--define", "__API__=\"https://api.test\"", "--define", "DEBUG=false",
		"--incremental", "--task", "js,json", "--format", "json", "--list-modules",
		"--log-format", "json", "--log-level", "debug",
	)
	if code != exitOK {
		t.Fatalf("build failed: %s", errOut)
	}
	req := runner.lastReq
	checks := []struct {
		name string
		ok   bool
	}{
		{"root", req.Root == "/work/app" && !req.DiscoverRoot},
		{"config", req.ConfigPath == "ci.yml"},
		{"env", req.Flags.Env != nil && *req.Flags.Env == "production"},
		{"src", req.Flags.SrcDir != nil && *req.Flags.SrcDir == "source"},
		{"dist", req.Flags.DistDir != nil && *req.Flags.DistDir == "out"},
		{"jobs", req.Flags.Jobs != nil && *req.Flags.Jobs == 3},
		{"cache disabled", req.Flags.CacheEnabled != nil && !*req.Flags.CacheEnabled},
		{"cache path", req.Flags.CachePath != nil && *req.Flags.CachePath == "tmp/cache"},
		{"exclude", slices.Equal(req.Flags.Exclude, []string{"**/*.tmp", "**/fixtures/**"})},
		{"define", req.Flags.Define["__API__"] == `"https://api.test"` && req.Flags.Define["DEBUG"] == "false"},
		{"incremental", !req.Build.Clean},
		{"tasks", slices.Equal(req.Build.Tasks, []string{"js", "json"})},
		{"format", req.Build.Format == report.FormatJSON},
		{"list modules", req.Build.ListModules},
		{"log format", req.Log.Format == "json"},
		{"log level", req.Log.Level == "debug"},
	}
	for _, check := range checks {
		if !check.ok {
			t.Fatalf("flag not forwarded: %s (%+v)", check.name, req)
		}
	}
}

func TestWatchRequest(t *testing.T) {
	runner := &fakeRunner{}
	if code, _, errOut := run(t, runner, "watch", "--debounce", "1s", "--incremental"); code != exitOK {
		t.Fatalf("watch failed: %s", errOut)
	}
	req := runner.lastReq
	if req.Mode != app.ModeWatch || req.Watch.Debounce != time.Second || req.Build.Clean {
		t.Fatalf("unexpected request: %+v", req)
	}
}

func TestRewriteRequest(t *testing.T) {
	runner := &fakeRunner{output: "done"}
	code, out, errOut := run(t, runner, "rewrite", "src/app.js", "--write", "--format", "json")
	if code != exitOK || out != "done\n" {
		t.Fatalf("rewrite failed: %d %q %q", code, out, errOut)
	}
	req := runner.lastReq
	if req.Mode != app.ModeRewrite || req.Rewrite.Entry != "src/app.js" || !req.Rewrite.Write || req.Rewrite.Format != report.FormatJSON {
		t.Fatalf("unexpected request: %+v", req.Rewrite)
	}
}

func TestCleanAndVersionRequests(t *testing.T) {
	for args, mode := range map[string]app.Mode{"clean": app.ModeClean, "version": app.ModeVersion} {
		runner := &fakeRunner{}
		if code, _, errOut := run(t, runner, args); code != exitOK {
			t.Fatalf("%s failed: %s", args, errOut)
		}
		if runner.lastReq.Mode != mode {
			t.Fatalf("%s: unexpected mode %s", args, runner.lastReq.Mode)
		}
	}
}
