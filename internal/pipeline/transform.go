package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/tailscale/hujson"

	"github.com/ben-ranford/wxpack/internal/cache"
	"github.com/ben-ranford/wxpack/internal/rewrite"
)

// Result is what a transformer produced for one input file.
type Result struct {
	Units []*rewrite.SourceUnit
	// Sources holds the path each unit was read from, index aligned with
	// Units.
	Sources []string
	// Dependencies maps every file read besides the input to its digest.
	Dependencies map[string]string
	Resolutions  []cache.Resolution
	Relocated    int
}

type Transformer interface {
	Transform(ctx context.Context, unit *rewrite.SourceUnit) (Result, error)
}

// ResolutionVerifier is implemented by transformers whose output depends on
// module resolution. StaleResolution reports the first recorded resolution
// that no longer holds.
type ResolutionVerifier interface {
	StaleResolution(ctx context.Context, resolutions []cache.Resolution) (cache.Resolution, bool)
}

type TransformFunc func(ctx context.Context, unit *rewrite.SourceUnit) (Result, error)

func (f TransformFunc) Transform(ctx context.Context, unit *rewrite.SourceUnit) (Result, error) {
	return f(ctx, unit)
}

func single(source string, unit *rewrite.SourceUnit) Result {
	return Result{Units: []*rewrite.SourceUnit{unit}, Sources: []string{source}}
}

// Copy emits the input unchanged.
func Copy() Transformer {
	return TransformFunc(func(ctx context.Context, unit *rewrite.SourceUnit) (Result, error) {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		return single(unit.Path, unit), nil
	})
}

// Rename emits the input with its extension replaced by ext.
func Rename(ext string) Transformer {
	return TransformFunc(func(ctx context.Context, unit *rewrite.SourceUnit) (Result, error) {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		source := unit.Path
		renamed := *unit
		renamed.Path = strings.TrimSuffix(unit.Path, filepath.Ext(unit.Path)) + ext
		return single(source, &renamed), nil
	})
}

// JSON strips comments and trailing commas, and removes insignificant
// whitespace when minify is set.
func JSON(minify bool) Transformer {
	return TransformFunc(func(ctx context.Context, unit *rewrite.SourceUnit) (Result, error) {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		value, err := hujson.Parse(unit.Contents)
		if err != nil {
			return Result{}, fmt.Errorf("parse %s: %w", unit.Path, err)
		}
		value.Standardize()
		if minify {
			value.Minimize()
		}
		out := *unit
		out.Contents = value.Pack()
		return single(unit.Path, &out), nil
	})
}
