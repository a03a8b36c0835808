package rewrite

import (
	"context"
	"slices"
	"testing"
)

func TestExtractReferencesRecognizesStaticRequires(t *testing.T) {
	source := []byte(`const a = require('lodash')
const b = require("./util/helper")
const c = require('@scope/pkg/sub.js')
const d = require("../up")
`)
	refs, err := ExtractReferences(context.Background(), "app.js", source)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	got := Literals(refs)
	want := []string{"lodash", "./util/helper", "@scope/pkg/sub.js", "../up"}
	if !slices.Equal(got, want) {
		t.Fatalf("unexpected literals: got %v want %v", got, want)
	}
	for _, ref := range refs {
		if string(source[ref.Start:ref.End]) != ref.Literal {
			t.Fatalf("span %d:%d does not cover literal %q", ref.Start, ref.End, ref.Literal)
		}
		if source[ref.Start-1] != ref.Quote || source[ref.End] != ref.Quote {
			t.Fatalf("expected literal %q to be wrapped in %q", ref.Literal, ref.Quote)
		}
	}
}

func TestExtractReferencesSkipsDynamicAndUnsupportedForms(t *testing.T) {
	cases := []struct {
		name   string
		source string
	}{
		{"identifier argument", "const name = 'x'; require(name)"},
		{"template literal", "require(`lodash`)"},
		{"concatenation", "require('lod' + 'ash')"},
		{"space in literal", "require('has space')"},
		{"query characters", "require('pkg?raw')"},
		{"member call", "require.resolve('lodash')"},
		{"second argument", "require('lodash', true)"},
		{"no arguments", "require()"},
		{"line comment", "// require('lodash')\nmodule.exports = 1"},
		{"block comment", "/* require('lodash') */ module.exports = 1"},
		{"string contents", "const s = \"require('lodash')\""},
		{"other callee", "load('lodash')"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			refs, err := ExtractReferences(context.Background(), "app.js", []byte(tc.source))
			if err != nil {
				t.Fatalf("extract: %v", err)
			}
			if len(refs) != 0 {
				t.Fatalf("expected no references, got %#v", refs)
			}
		})
	}
}

func TestExtractReferencesToleratesSyntaxErrors(t *testing.T) {
	source := []byte("const a = require('lodash');\nfunction broken( {\n")
	refs, err := ExtractReferences(context.Background(), "broken.js", source)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if got := Literals(refs); !slices.Contains(got, "lodash") {
		t.Fatalf("expected lodash to survive parse errors, got %v", got)
	}
}

func TestExtractReferencesIgnoresNonScripts(t *testing.T) {
	refs, err := ExtractReferences(context.Background(), "data.json", []byte(`{"require": "require('x')"}`))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if refs != nil {
		t.Fatalf("expected nil references for json, got %#v", refs)
	}
}

func TestExtractReferencesHonorsCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := ExtractReferences(ctx, "app.js", []byte("require('x')")); err == nil {
		t.Fatal("expected canceled context to fail parsing")
	}
}

func TestLiteralsDeduplicatesInOrder(t *testing.T) {
	refs := []Reference{{Literal: "b"}, {Literal: "a"}, {Literal: "b"}}
	if got := Literals(refs); !slices.Equal(got, []string{"b", "a"}) {
		t.Fatalf("unexpected literals: %v", got)
	}
}

func TestSubstituteReplacesMappedLiteralsOnly(t *testing.T) {
	source := []byte(`require('a'); require("b"); require('a')`)
	refs, err := ExtractReferences(context.Background(), "x.js", source)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	got := string(substitute(source, refs, map[string]string{"a": "./npm/a/index.js"}))
	want := `require('./npm/a/index.js'); require("b"); require('./npm/a/index.js')`
	if got != want {
		t.Fatalf("unexpected substitution:\n got %s\nwant %s", got, want)
	}
}

func TestIsScript(t *testing.T) {
	for path, want := range map[string]bool{
		"a.js":   true,
		"a.CJS":  true,
		"a.wxs":  true,
		"a.json": false,
		"a.wxml": false,
		"a":      false,
	} {
		if got := IsScript(path); got != want {
			t.Fatalf("IsScript(%q) = %v, want %v", path, got, want)
		}
	}
}
