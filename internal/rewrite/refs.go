package rewrite

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
)

// requireLiteralPattern is the conservative set of characters accepted inside
// a require literal. Anything else is left alone.
var requireLiteralPattern = regexp.MustCompile(`^[@\w./-]+$`)

var scriptExtensions = map[string]bool{
	".js":  true,
	".cjs": true,
	".mjs": true,
	".jsx": true,
	".wxs": true,
}

// Reference is one static require call site. Start and End delimit the
// literal's contents, excluding quotes.
type Reference struct {
	Literal string
	Start   int
	End     int
	Quote   byte
}

// ReferenceExtractor finds static require references in a source file.
type ReferenceExtractor interface {
	Extract(ctx context.Context, path string, source []byte) ([]Reference, error)
}

// TreeSitterExtractor parses JavaScript with tree-sitter and reports
// require("literal") calls whose only argument is a plain string literal.
// Computed and template-literal arguments are never reported.
type TreeSitterExtractor struct {
	lang *sitter.Language
}

func NewTreeSitterExtractor() *TreeSitterExtractor {
	return &TreeSitterExtractor{lang: javascript.GetLanguage()}
}

func (e *TreeSitterExtractor) Extract(ctx context.Context, path string, source []byte) ([]Reference, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !IsScript(path) || len(source) == 0 {
		return nil, nil
	}
	parser := sitter.NewParser()
	parser.SetLanguage(e.lang)
	tree, err := parser.ParseCtx(ctx, nil, source)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if tree == nil {
		return nil, fmt.Errorf("tree-sitter returned nil tree for %s", path)
	}

	refs := make([]Reference, 0)
	walkNode(tree.RootNode(), func(node *sitter.Node) {
		if node.Type() != "call_expression" {
			return
		}
		if ref, ok := requireReference(node, source); ok {
			refs = append(refs, ref)
		}
	})
	sort.Slice(refs, func(i, j int) bool { return refs[i].Start < refs[j].Start })
	return refs, nil
}

// ExtractReferences runs the default extractor.
func ExtractReferences(ctx context.Context, path string, source []byte) ([]Reference, error) {
	return NewTreeSitterExtractor().Extract(ctx, path, source)
}

// Literals returns the distinct literals of refs in first-seen order.
func Literals(refs []Reference) []string {
	seen := make(map[string]struct{}, len(refs))
	literals := make([]string, 0, len(refs))
	for _, ref := range refs {
		if _, ok := seen[ref.Literal]; ok {
			continue
		}
		seen[ref.Literal] = struct{}{}
		literals = append(literals, ref.Literal)
	}
	return literals
}

func IsScript(path string) bool {
	return scriptExtensions[strings.ToLower(filepath.Ext(path))]
}

func requireReference(node *sitter.Node, source []byte) (Reference, bool) {
	functionNode := node.ChildByFieldName("function")
	if functionNode == nil || functionNode.Type() != "identifier" {
		return Reference{}, false
	}
	if nodeText(functionNode, source) != "require" {
		return Reference{}, false
	}
	argumentsNode := node.ChildByFieldName("arguments")
	if argumentsNode == nil || argumentsNode.NamedChildCount() != 1 {
		return Reference{}, false
	}
	arg := argumentsNode.NamedChild(0)
	if arg == nil || arg.Type() != "string" {
		return Reference{}, false
	}

	start, end := int(arg.StartByte()), int(arg.EndByte())
	if end-start < 2 {
		return Reference{}, false
	}
	quote := source[start]
	if (quote != '"' && quote != '\'') || source[end-1] != quote {
		return Reference{}, false
	}
	literal := string(source[start+1 : end-1])
	if !requireLiteralPattern.MatchString(literal) {
		return Reference{}, false
	}
	return Reference{Literal: literal, Start: start + 1, End: end - 1, Quote: quote}, true
}

// substitute replaces every reference whose literal is mapped in table.
// refs must be sorted by position.
func substitute(source []byte, refs []Reference, table map[string]string) []byte {
	var out strings.Builder
	out.Grow(len(source))
	last := 0
	for _, ref := range refs {
		replacement, ok := table[ref.Literal]
		if !ok {
			continue
		}
		out.Write(source[last:ref.Start])
		out.WriteString(replacement)
		last = ref.End
	}
	out.Write(source[last:])
	return []byte(out.String())
}

func walkNode(node *sitter.Node, visit func(*sitter.Node)) {
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		visit(child)
		walkNode(child, visit)
	}
}

func nodeText(node *sitter.Node, content []byte) string {
	if node == nil {
		return ""
	}
	return string(content[node.StartByte():node.EndByte()])
}
