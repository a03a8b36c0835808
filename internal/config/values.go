package config

import (
	"fmt"
	"maps"
	"path"
	"path/filepath"
	"regexp"
	"runtime"
	"slices"
	"strings"

	"github.com/gobwas/glob"
)

const (
	DefaultSrcDir     = "src"
	DefaultDistDir    = "dist"
	DefaultManagedDir = "node_modules"
	DefaultTargetDir  = "src/npm"
	DefaultAlias      = "npm"
	DefaultCachePath  = ".wxpack-cache"

	EnvDevelopment = "development"
	EnvProduction  = "production"
)

var validEnvs = []string{EnvDevelopment, EnvProduction}

var defineKeyPattern = regexp.MustCompile(`^[A-Za-z_$][\w$]*(\.[A-Za-z_$][\w$]*)*$`)

// Values is a fully resolved build configuration. Directory values are
// slash-separated and relative to Root.
type Values struct {
	Root         string
	SrcDir       string
	DistDir      string
	ManagedDir   string
	TargetDir    string
	Alias        string
	MainFields   []string
	Env          string
	Exclude      []string
	Jobs         int
	CacheEnabled bool
	CachePath    string
	Define       map[string]string
}

// Overrides carries one configuration layer. Nil fields leave the lower
// layer untouched.
type Overrides struct {
	SrcDir       *string
	DistDir      *string
	ManagedDir   *string
	TargetDir    *string
	Alias        *string
	MainFields   []string
	Env          *string
	Exclude      []string
	Jobs         *int
	CacheEnabled *bool
	CachePath    *string
	Define       map[string]string
}

func Defaults() Values {
	return Values{
		SrcDir:       DefaultSrcDir,
		DistDir:      DefaultDistDir,
		ManagedDir:   DefaultManagedDir,
		TargetDir:    DefaultTargetDir,
		Alias:        DefaultAlias,
		MainFields:   []string{"main"},
		Env:          EnvDevelopment,
		Exclude:      []string{"**/*.bak", "**/*.bak/**"},
		Jobs:         runtime.GOMAXPROCS(0),
		CacheEnabled: true,
		CachePath:    DefaultCachePath,
		Define:       map[string]string{},
	}
}

func (v Values) Production() bool {
	return v.Env == EnvProduction
}

// Path joins a slash-separated directory value onto the project root.
func (v Values) Path(rel string) string {
	return filepath.Join(v.Root, filepath.FromSlash(rel))
}

func (v *Values) Validate() error {
	for _, dir := range []struct {
		name  string
		value string
	}{
		{name: "src_dir", value: v.SrcDir},
		{name: "dist_dir", value: v.DistDir},
		{name: "managed_dir", value: v.ManagedDir},
		{name: "target_dir", value: v.TargetDir},
		{name: "cache.path", value: v.CachePath},
	} {
		if err := validateRelativeDir(dir.name, dir.value); err != nil {
			return err
		}
	}
	if err := validateAlias(v.Alias); err != nil {
		return err
	}
	if strings.Contains(v.ManagedDir, "/") {
		return fmt.Errorf("invalid managed_dir %q: must be a single directory name", v.ManagedDir)
	}
	if !isUnder(v.SrcDir, v.TargetDir) {
		return fmt.Errorf("invalid target_dir %q: must be inside src_dir %q", v.TargetDir, v.SrcDir)
	}
	if err := validateDisjoint(v); err != nil {
		return err
	}
	if err := validateMainFields(v.MainFields); err != nil {
		return err
	}
	if err := validateEnv(v.Env); err != nil {
		return err
	}
	if err := validateExclude(v.Exclude); err != nil {
		return err
	}
	if err := validateJobs(v.Jobs); err != nil {
		return err
	}
	return validateDefine(v.Define)
}

func (o *Overrides) Apply(base Values) Values {
	resolved := base
	applyString(&resolved.SrcDir, o.SrcDir)
	applyString(&resolved.DistDir, o.DistDir)
	applyString(&resolved.ManagedDir, o.ManagedDir)
	applyString(&resolved.TargetDir, o.TargetDir)
	applyString(&resolved.Alias, o.Alias)
	applyString(&resolved.Env, o.Env)
	applyString(&resolved.CachePath, o.CachePath)
	if o.MainFields != nil {
		resolved.MainFields = slices.Clone(o.MainFields)
	}
	if o.Exclude != nil {
		resolved.Exclude = slices.Clone(o.Exclude)
	}
	if o.Jobs != nil {
		resolved.Jobs = *o.Jobs
	}
	if o.CacheEnabled != nil {
		resolved.CacheEnabled = *o.CacheEnabled
	}
	// define entries merge key by key; the higher layer wins per key.
	define := maps.Clone(base.Define)
	if define == nil {
		define = map[string]string{}
	}
	maps.Copy(define, o.Define)
	resolved.Define = define
	for _, dir := range []*string{&resolved.SrcDir, &resolved.DistDir, &resolved.TargetDir, &resolved.CachePath} {
		*dir = cleanDir(*dir)
	}
	return resolved
}

func (o *Overrides) Validate() error {
	checks := []struct {
		name  string
		value *string
	}{
		{name: "src_dir", value: o.SrcDir},
		{name: "dist_dir", value: o.DistDir},
		{name: "managed_dir", value: o.ManagedDir},
		{name: "target_dir", value: o.TargetDir},
		{name: "cache.path", value: o.CachePath},
	}
	for _, check := range checks {
		if check.value == nil {
			continue
		}
		if err := validateRelativeDir(check.name, *check.value); err != nil {
			return err
		}
	}
	if o.Alias != nil {
		if err := validateAlias(*o.Alias); err != nil {
			return err
		}
	}
	if o.MainFields != nil {
		if err := validateMainFields(o.MainFields); err != nil {
			return err
		}
	}
	if o.Env != nil {
		if err := validateEnv(*o.Env); err != nil {
			return err
		}
	}
	if err := validateExclude(o.Exclude); err != nil {
		return err
	}
	if o.Jobs != nil {
		if err := validateJobs(*o.Jobs); err != nil {
			return err
		}
	}
	return validateDefine(o.Define)
}

// Merge layers higher on top of base.
func Merge(base, higher Overrides) Overrides {
	merged := base
	mergeString(&merged.SrcDir, higher.SrcDir)
	mergeString(&merged.DistDir, higher.DistDir)
	mergeString(&merged.ManagedDir, higher.ManagedDir)
	mergeString(&merged.TargetDir, higher.TargetDir)
	mergeString(&merged.Alias, higher.Alias)
	mergeString(&merged.Env, higher.Env)
	mergeString(&merged.CachePath, higher.CachePath)
	if higher.MainFields != nil {
		merged.MainFields = slices.Clone(higher.MainFields)
	}
	if higher.Exclude != nil {
		merged.Exclude = slices.Clone(higher.Exclude)
	}
	if higher.Jobs != nil {
		merged.Jobs = higher.Jobs
	}
	if higher.CacheEnabled != nil {
		merged.CacheEnabled = higher.CacheEnabled
	}
	if len(higher.Define) > 0 {
		define := maps.Clone(base.Define)
		if define == nil {
			define = make(map[string]string, len(higher.Define))
		}
		maps.Copy(define, higher.Define)
		merged.Define = define
	}
	return merged
}

func applyString(target *string, value *string) {
	if value != nil {
		*target = *value
	}
}

func mergeString(target **string, value *string) {
	if value != nil {
		*target = value
	}
}

func cleanDir(value string) string {
	return path.Clean(filepath.ToSlash(strings.TrimSpace(value)))
}

func isUnder(parent, child string) bool {
	parent = cleanDir(parent)
	child = cleanDir(child)
	return strings.HasPrefix(child, parent+"/")
}

// validateDisjoint keeps the directories that clean and cache reset remove
// apart from the trees that hold user sources and installed packages.
func validateDisjoint(v *Values) error {
	removable := []struct{ name, value string }{
		{name: "dist_dir", value: v.DistDir},
		{name: "cache.path", value: v.CachePath},
	}
	protected := []struct{ name, value string }{
		{name: "src_dir", value: v.SrcDir},
		{name: "managed_dir", value: v.ManagedDir},
		{name: "dist_dir", value: v.DistDir},
	}
	for _, r := range removable {
		for _, p := range protected {
			if r.name == p.name {
				continue
			}
			if overlaps(r.value, p.value) {
				return fmt.Errorf("invalid %s %q: must not overlap %s %q", r.name, r.value, p.name, p.value)
			}
		}
	}
	return nil
}

func overlaps(a, b string) bool {
	return cleanDir(a) == cleanDir(b) || isUnder(a, b) || isUnder(b, a)
}

func validateRelativeDir(name, value string) error {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fmt.Errorf("invalid %s: must not be empty", name)
	}
	slashed := filepath.ToSlash(trimmed)
	if path.IsAbs(slashed) || filepath.IsAbs(trimmed) {
		return fmt.Errorf("invalid %s %q: must be relative to the project root", name, value)
	}
	cleaned := path.Clean(slashed)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return fmt.Errorf("invalid %s %q: must stay inside the project root", name, value)
	}
	return nil
}

func validateAlias(value string) error {
	if strings.TrimSpace(value) == "" || strings.ContainsAny(value, `/\`) || value == "." || value == ".." {
		return fmt.Errorf("invalid alias %q: must be a single path segment", value)
	}
	return nil
}

func validateMainFields(fields []string) error {
	if len(fields) == 0 {
		return fmt.Errorf("invalid main_fields: at least one field is required")
	}
	for _, field := range fields {
		if strings.TrimSpace(field) == "" {
			return fmt.Errorf("invalid main_fields: entries must not be empty")
		}
	}
	return nil
}

func validateEnv(value string) error {
	if slices.Contains(validEnvs, value) {
		return nil
	}
	return fmt.Errorf("invalid env %q (must be one of: %s)", value, strings.Join(validEnvs, ", "))
}

func validateExclude(patterns []string) error {
	for _, pattern := range patterns {
		if _, err := glob.Compile(pattern, '/'); err != nil {
			return fmt.Errorf("invalid exclude pattern %q: %w", pattern, err)
		}
	}
	return nil
}

func validateJobs(value int) error {
	if value < 1 {
		return fmt.Errorf("invalid jobs: %d (must be >= 1)", value)
	}
	return nil
}

func validateDefine(define map[string]string) error {
	for _, key := range slices.Sorted(maps.Keys(define)) {
		if !defineKeyPattern.MatchString(key) {
			return fmt.Errorf("invalid define key %q: must be an identifier or member expression", key)
		}
		if strings.TrimSpace(define[key]) == "" {
			return fmt.Errorf("invalid define %q: value must not be empty", key)
		}
	}
	return nil
}
