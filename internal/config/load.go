// Package config discovers, validates and layers wxpack build settings.
package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/ben-ranford/wxpack/internal/safeio"
)

const (
	readConfigFileErrFmt = "read config file %s: %w"
	parseConfigErrFmt    = "parse config file %s: %w"
	defaultsSource       = "defaults"
	envSource            = "environment"
	flagsSource          = "flags"
	nodeEnvVar           = "NODE_ENV"
)

// ConfigFileNames lists the files discovered in the project root, highest
// priority first.
var ConfigFileNames = []string{".wxpack.yml", ".wxpack.yaml", "wxpack.toml", "wxpack.json"}

//go:embed schema.json
var schemaJSON []byte

var configSchema = gojsonschema.NewBytesLoader(schemaJSON)

type LoadResult struct {
	Overrides  Overrides
	Resolved   Values
	ConfigPath string
	// Sources lists the layers that contributed, highest priority first.
	Sources []string
}

type LoadOptions struct {
	Root         string
	ExplicitPath string
	Flags        Overrides
	// Getenv defaults to os.Getenv.
	Getenv func(string) string
}

// Load resolves the configuration file layer on top of the defaults.
func Load(root, explicitPath string) (LoadResult, error) {
	return Resolve(LoadOptions{Root: root, ExplicitPath: explicitPath, Getenv: func(string) string { return "" }})
}

// Resolve layers defaults, the configuration file, NODE_ENV and command
// line flags, in increasing priority.
func Resolve(opts LoadOptions) (LoadResult, error) {
	rootAbs, err := filepath.Abs(opts.Root)
	if err != nil {
		return LoadResult{}, fmt.Errorf("resolve project root: %w", err)
	}
	getenv := opts.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}

	configPath, found, err := resolveConfigPath(rootAbs, strings.TrimSpace(opts.ExplicitPath))
	if err != nil {
		return LoadResult{}, err
	}

	merged := Overrides{}
	sources := []string{defaultsSource}
	if found {
		resolver := newExtendsResolver(rootAbs)
		fileResult, err := resolver.resolveFile(configPath, opts.ExplicitPath != "")
		if err != nil {
			return LoadResult{}, err
		}
		if err := fileResult.overrides.Validate(); err != nil {
			return LoadResult{}, fmt.Errorf(parseConfigErrFmt, configPath, err)
		}
		merged = fileResult.overrides
		sources = append(sources, fileResult.sources...)
	}

	if env := strings.TrimSpace(getenv(nodeEnvVar)); env != "" {
		layer := Overrides{Env: &env}
		if err := layer.Validate(); err != nil {
			return LoadResult{}, fmt.Errorf("%s: %w", nodeEnvVar, err)
		}
		merged = Merge(merged, layer)
		sources = append(sources, envSource)
	}

	if err := opts.Flags.Validate(); err != nil {
		return LoadResult{}, err
	}
	if !opts.Flags.isZero() {
		merged = Merge(merged, opts.Flags)
		sources = append(sources, flagsSource)
	}

	base := Defaults()
	base.Root = rootAbs
	resolved := merged.Apply(base)
	if err := resolved.Validate(); err != nil {
		if found {
			return LoadResult{}, fmt.Errorf(parseConfigErrFmt, configPath, err)
		}
		return LoadResult{}, err
	}

	return LoadResult{
		Overrides:  merged,
		Resolved:   resolved,
		ConfigPath: configPath,
		Sources:    reversed(sources),
	}, nil
}

func (o *Overrides) isZero() bool {
	return o.SrcDir == nil && o.DistDir == nil && o.ManagedDir == nil && o.TargetDir == nil &&
		o.Alias == nil && o.MainFields == nil && o.Env == nil && o.Exclude == nil &&
		o.Jobs == nil && o.CacheEnabled == nil && o.CachePath == nil && len(o.Define) == 0
}

func resolveConfigPath(root, explicitPath string) (string, bool, error) {
	if explicitPath != "" {
		candidate := explicitPath
		if !filepath.IsAbs(candidate) {
			candidate = filepath.Join(root, candidate)
		}
		candidate = filepath.Clean(candidate)
		if _, err := os.Stat(candidate); err != nil {
			if os.IsNotExist(err) {
				return "", false, fmt.Errorf("config file not found: %s", candidate)
			}
			return "", false, fmt.Errorf(readConfigFileErrFmt, candidate, err)
		}
		return candidate, true, nil
	}

	for _, name := range ConfigFileNames {
		candidate := filepath.Join(root, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true, nil
		} else if !os.IsNotExist(err) {
			return "", false, fmt.Errorf(readConfigFileErrFmt, candidate, err)
		}
	}
	return "", false, nil
}

func readConfigFile(root, path string, explicitProvided bool) ([]byte, error) {
	if !explicitProvided || safeio.IsWithin(root, path) {
		return safeio.ReadFileUnder(root, path)
	}
	return safeio.ReadFile(path)
}

type rawConfig struct {
	Extends    []string          `yaml:"extends" json:"extends" toml:"extends"`
	SrcDir     *string           `yaml:"src_dir" json:"src_dir" toml:"src_dir"`
	DistDir    *string           `yaml:"dist_dir" json:"dist_dir" toml:"dist_dir"`
	ManagedDir *string           `yaml:"managed_dir" json:"managed_dir" toml:"managed_dir"`
	TargetDir  *string           `yaml:"target_dir" json:"target_dir" toml:"target_dir"`
	Alias      *string           `yaml:"alias" json:"alias" toml:"alias"`
	MainFields []string          `yaml:"main_fields" json:"main_fields" toml:"main_fields"`
	Env        *string           `yaml:"env" json:"env" toml:"env"`
	Exclude    []string          `yaml:"exclude" json:"exclude" toml:"exclude"`
	Jobs       *int              `yaml:"jobs" json:"jobs" toml:"jobs"`
	Cache      rawCache          `yaml:"cache" json:"cache" toml:"cache"`
	Define     map[string]string `yaml:"define" json:"define" toml:"define"`
}

type rawCache struct {
	Enabled *bool   `yaml:"enabled" json:"enabled" toml:"enabled"`
	Path    *string `yaml:"path" json:"path" toml:"path"`
}

func (c *rawConfig) toOverrides() Overrides {
	return Overrides{
		SrcDir:       c.SrcDir,
		DistDir:      c.DistDir,
		ManagedDir:   c.ManagedDir,
		TargetDir:    c.TargetDir,
		Alias:        c.Alias,
		MainFields:   c.MainFields,
		Env:          c.Env,
		Exclude:      c.Exclude,
		Jobs:         c.Jobs,
		CacheEnabled: c.Cache.Enabled,
		CachePath:    c.Cache.Path,
		Define:       c.Define,
	}
}

func parseConfig(path string, data []byte) (rawConfig, error) {
	format := strings.ToLower(filepath.Ext(path))
	document, err := decodeDocument(format, data)
	if err != nil {
		return rawConfig{}, err
	}
	if err := validateDocument(document); err != nil {
		return rawConfig{}, err
	}

	var cfg rawConfig
	switch format {
	case ".json":
		decoder := json.NewDecoder(bytes.NewReader(data))
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return rawConfig{}, fmt.Errorf("invalid JSON config: %w", err)
		}
	case ".toml":
		decoder := toml.NewDecoder(bytes.NewReader(data))
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return rawConfig{}, fmt.Errorf("invalid TOML config: %w", err)
		}
	default:
		decoder := yaml.NewDecoder(bytes.NewReader(data))
		decoder.KnownFields(true)
		if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return rawConfig{}, fmt.Errorf("invalid YAML config: %w", err)
		}
	}
	return cfg, nil
}

// decodeDocument produces the generic form of the file that the schema is
// checked against.
func decodeDocument(format string, data []byte) (any, error) {
	var document any
	switch format {
	case ".json":
		decoder := json.NewDecoder(bytes.NewReader(data))
		decoder.UseNumber()
		if err := decoder.Decode(&document); err != nil {
			return nil, fmt.Errorf("invalid JSON config: %w", err)
		}
		if decoder.More() {
			return nil, fmt.Errorf("invalid JSON config: multiple JSON values")
		}
	case ".toml":
		table := map[string]any{}
		if err := toml.Unmarshal(data, &table); err != nil {
			return nil, fmt.Errorf("invalid TOML config: %w", err)
		}
		document = table
	default:
		if err := yaml.Unmarshal(data, &document); err != nil {
			return nil, fmt.Errorf("invalid YAML config: %w", err)
		}
	}
	if document == nil {
		document = map[string]any{}
	}
	return document, nil
}

func validateDocument(document any) error {
	result, err := gojsonschema.Validate(configSchema, gojsonschema.NewGoLoader(document))
	if err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	if result.Valid() {
		return nil
	}
	problems := make([]string, 0, len(result.Errors()))
	for _, problem := range result.Errors() {
		problems = append(problems, fmt.Sprintf("%s: %s", problem.Field(), problem.Description()))
	}
	return fmt.Errorf("config does not match schema: %s", strings.Join(problems, "; "))
}

func reversed(values []string) []string {
	out := make([]string, 0, len(values))
	for i := len(values) - 1; i >= 0; i-- {
		out = append(out, values[i])
	}
	return out
}
