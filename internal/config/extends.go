package config

import (
	"fmt"
	"path/filepath"
	"strings"
)

// extendsResolver loads a configuration file together with the files it
// extends. Extended files form lower layers, in listed order.
type extendsResolver struct {
	root  string
	stack []string
}

type extendsResult struct {
	overrides Overrides
	// sources is lowest priority first.
	sources []string
}

func newExtendsResolver(root string) *extendsResolver {
	return &extendsResolver{root: root, stack: make([]string, 0, 4)}
}

func (r *extendsResolver) resolveFile(path string, explicitProvided bool) (extendsResult, error) {
	canonical, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return extendsResult{}, fmt.Errorf("resolve config path: %w", err)
	}
	if err := r.push(canonical); err != nil {
		return extendsResult{}, err
	}
	defer r.pop()

	data, err := readConfigFile(r.root, canonical, explicitProvided)
	if err != nil {
		return extendsResult{}, fmt.Errorf(readConfigFileErrFmt, canonical, err)
	}
	cfg, err := parseConfig(canonical, data)
	if err != nil {
		return extendsResult{}, fmt.Errorf(parseConfigErrFmt, canonical, err)
	}

	merged := Overrides{}
	sources := make([]string, 0, len(cfg.Extends)+1)
	for idx, ref := range cfg.Extends {
		trimmed := strings.TrimSpace(ref)
		if trimmed == "" {
			return extendsResult{}, fmt.Errorf("parse config file %s: invalid extends[%d]: reference must not be empty", canonical, idx)
		}
		if !filepath.IsAbs(trimmed) {
			trimmed = filepath.Join(filepath.Dir(canonical), trimmed)
		}
		parent, err := r.resolveFile(trimmed, true)
		if err != nil {
			return extendsResult{}, err
		}
		merged = Merge(merged, parent.overrides)
		sources = append(sources, parent.sources...)
	}

	merged = Merge(merged, cfg.toOverrides())
	sources = append(sources, canonical)
	return extendsResult{overrides: merged, sources: dedupeStable(sources)}, nil
}

func (r *extendsResolver) push(path string) error {
	for _, current := range r.stack {
		if current == path {
			chain := append(append([]string{}, r.stack...), path)
			return fmt.Errorf("config extends cycle detected: %s", strings.Join(chain, " -> "))
		}
	}
	r.stack = append(r.stack, path)
	return nil
}

func (r *extendsResolver) pop() {
	if len(r.stack) > 0 {
		r.stack = r.stack[:len(r.stack)-1]
	}
}

func dedupeStable(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, value := range values {
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		result = append(result, value)
	}
	return result
}
