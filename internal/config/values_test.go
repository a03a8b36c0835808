package config

import (
	"maps"
	"slices"
	"strings"
	"testing"
)

func TestOverridesApplyLeavesUnsetFields(t *testing.T) {
	alias := "vendor"
	overrides := Overrides{Alias: &alias}
	got := overrides.Apply(Defaults())
	if got.Alias != "vendor" || got.SrcDir != DefaultSrcDir || got.DistDir != DefaultDistDir {
		t.Fatalf("unexpected values: %+v", got)
	}
	if !slices.Equal(got.MainFields, []string{"main"}) {
		t.Fatalf("expected default main fields, got %v", got.MainFields)
	}
}

func TestOverridesApplyCleansDirectories(t *testing.T) {
	src := "./app/"
	target := "app//npm"
	overrides := Overrides{SrcDir: &src, TargetDir: &target}
	got := overrides.Apply(Defaults())
	if got.SrcDir != "app" || got.TargetDir != "app/npm" {
		t.Fatalf("unexpected cleaned directories: %q %q", got.SrcDir, got.TargetDir)
	}
	if err := got.Validate(); err != nil {
		t.Fatalf("expected cleaned values to validate: %v", err)
	}
}

func TestOverridesApplyDoesNotAliasSlices(t *testing.T) {
	fields := []string{"miniprogram"}
	overrides := Overrides{MainFields: fields}
	got := overrides.Apply(Defaults())
	fields[0] = "mutated"
	if got.MainFields[0] != "miniprogram" {
		t.Fatalf("expected main fields to be copied, got %v", got.MainFields)
	}
}

func TestMergePrefersHigherLayer(t *testing.T) {
	low, high := 1, 2
	enabled := false
	base := Overrides{Jobs: &low, Define: map[string]string{"A": "1", "B": "1"}}
	higher := Overrides{Jobs: &high, CacheEnabled: &enabled, Define: map[string]string{"B": "2"}}

	merged := Merge(base, higher)
	if *merged.Jobs != 2 || merged.CacheEnabled == nil || *merged.CacheEnabled {
		t.Fatalf("unexpected merge: %+v", merged)
	}
	want := map[string]string{"A": "1", "B": "2"}
	if !maps.Equal(merged.Define, want) {
		t.Fatalf("unexpected define merge: %v", merged.Define)
	}
	if base.Define["B"] != "1" {
		t.Fatalf("expected base layer untouched, got %v", base.Define)
	}
}

func TestValuesValidateDefaults(t *testing.T) {
	values := Defaults()
	if err := values.Validate(); err != nil {
		t.Fatalf("expected defaults to validate: %v", err)
	}
	if values.Production() {
		t.Fatalf("expected development by default")
	}
	if values.Jobs < 1 {
		t.Fatalf("expected positive jobs, got %d", values.Jobs)
	}
}

func TestValuesValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Values)
		want   string
	}{
		{name: "empty src", mutate: func(v *Values) { v.SrcDir = " " }, want: "src_dir"},
		{name: "root dist", mutate: func(v *Values) { v.DistDir = "." }, want: "dist_dir"},
		{name: "same src and dist", mutate: func(v *Values) { v.DistDir = "src" }, want: "must not overlap"},
		{name: "dist inside src", mutate: func(v *Values) { v.DistDir = "src/dist" }, want: "must not overlap src_dir"},
		{name: "src inside dist", mutate: func(v *Values) { v.DistDir = "app"; v.SrcDir = "app/src"; v.TargetDir = "app/src/npm" }, want: "must not overlap src_dir"},
		{name: "dist is managed dir", mutate: func(v *Values) { v.DistDir = "node_modules" }, want: "must not overlap managed_dir"},
		{name: "cache is src", mutate: func(v *Values) { v.CachePath = "src" }, want: "invalid cache.path"},
		{name: "cache inside src", mutate: func(v *Values) { v.CachePath = "src/.cache" }, want: "invalid cache.path"},
		{name: "cache holds dist", mutate: func(v *Values) { v.CachePath = "build"; v.DistDir = "build/dist" }, want: "invalid cache.path \"build\": must not overlap dist_dir"},
		{name: "cache is managed dir", mutate: func(v *Values) { v.CachePath = "node_modules" }, want: "must not overlap managed_dir"},
		{name: "cache inside dist", mutate: func(v *Values) { v.CachePath = "dist/.cache" }, want: "must not overlap"},
		{name: "no main fields", mutate: func(v *Values) { v.MainFields = nil }, want: "main_fields"},
		{name: "blank main field", mutate: func(v *Values) { v.MainFields = []string{""} }, want: "main_fields"},
		{name: "env", mutate: func(v *Values) { v.Env = "test" }, want: "invalid env"},
		{name: "jobs", mutate: func(v *Values) { v.Jobs = 0 }, want: "invalid jobs"},
		{name: "alias dots", mutate: func(v *Values) { v.Alias = ".." }, want: "alias"},
		{name: "define empty value", mutate: func(v *Values) { v.Define = map[string]string{"X": " "} }, want: "value must not be empty"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			values := Defaults()
			tc.mutate(&values)
			err := values.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestValuesPath(t *testing.T) {
	values := Defaults()
	values.Root = "/proj"
	if got := values.Path("src/npm"); got != "/proj/src/npm" {
		t.Fatalf("unexpected path: %s", got)
	}
}
