package pipeline

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"
)

// Matcher selects slash-separated paths relative to the project root. A path
// is selected when it matches an include pattern and no exclude pattern.
type Matcher struct {
	include []glob.Glob
	exclude []glob.Glob
}

func NewMatcher(include, exclude []string) (*Matcher, error) {
	m := &Matcher{}
	var err error
	if m.include, err = compilePatterns(include); err != nil {
		return nil, err
	}
	if m.exclude, err = compilePatterns(exclude); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Matcher) Match(rel string) bool {
	included := false
	for _, pattern := range m.include {
		if pattern.Match(rel) {
			included = true
			break
		}
	}
	if !included {
		return false
	}
	for _, pattern := range m.exclude {
		if pattern.Match(rel) {
			return false
		}
	}
	return true
}

func compilePatterns(patterns []string) ([]glob.Glob, error) {
	compiled := make([]glob.Glob, 0, len(patterns))
	for _, pattern := range patterns {
		for _, variant := range expandGlobstar(pattern) {
			g, err := glob.Compile(variant, '/')
			if err != nil {
				return nil, fmt.Errorf(`%w in %q`, err, pattern)
			}
			compiled = append(compiled, g)
		}
	}
	return compiled, nil
}

// expandGlobstar adds the variants of pattern in which each "**/" segment
// matches zero directories, so "src/**/*.js" also selects "src/app.js".
func expandGlobstar(pattern string) []string {
	variants := []string{pattern}
	seen := map[string]bool{pattern: true}
	for i := 0; i < len(variants); i++ {
		current := variants[i]
		for idx := strings.Index(current, "**/"); idx >= 0; {
			if idx == 0 || current[idx-1] == '/' {
				variant := current[:idx] + current[idx+3:]
				if !seen[variant] {
					seen[variant] = true
					variants = append(variants, variant)
				}
			}
			next := strings.Index(current[idx+3:], "**/")
			if next < 0 {
				break
			}
			idx += 3 + next
		}
	}
	return variants
}
