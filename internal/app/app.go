package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/rs/zerolog"

	"github.com/ben-ranford/wxpack/internal/config"
	"github.com/ben-ranford/wxpack/internal/logging"
	"github.com/ben-ranford/wxpack/internal/pipeline"
	"github.com/ben-ranford/wxpack/internal/report"
	"github.com/ben-ranford/wxpack/internal/rewrite"
	"github.com/ben-ranford/wxpack/internal/safeio"
	"github.com/ben-ranford/wxpack/internal/watch"
	"github.com/ben-ranford/wxpack/internal/workspace"
)

const rewriteFileMode = 0o644

// Version is stamped at link time.
var Version = "dev"

var ErrUnknownMode = errors.New("unknown mode")

type App struct {
	Out       io.Writer
	Err       io.Writer
	Formatter report.Formatter
	Getenv    func(string) string
	Version   string
}

func New(out io.Writer, errOut io.Writer) *App {
	return &App{
		Out:       out,
		Err:       errOut,
		Formatter: report.NewFormatter(),
		Getenv:    os.Getenv,
		Version:   Version,
	}
}

func (a *App) Execute(ctx context.Context, req Request) (string, error) {
	if !slices.Contains([]Mode{ModeBuild, ModeWatch, ModeClean, ModeRewrite, ModeVersion}, req.Mode) {
		return "", fmt.Errorf("%w: %s", ErrUnknownMode, req.Mode)
	}
	if req.Mode == ModeVersion {
		return fmt.Sprintf("wxpack %s\n", a.Version), nil
	}

	logger, err := logging.New(a.Err, req.Log)
	if err != nil {
		return "", err
	}
	ctx = logger.WithContext(ctx)

	root := req.Root
	if req.DiscoverRoot {
		if root, err = workspace.FindRoot(root); err != nil {
			return "", err
		}
	}
	loaded, err := config.Resolve(config.LoadOptions{
		Root:         root,
		ExplicitPath: req.ConfigPath,
		Flags:        req.Flags,
		Getenv:       a.Getenv,
	})
	if err != nil {
		return "", err
	}
	logger.Debug().
		Str("config", loaded.ConfigPath).
		Strs("sources", loaded.Sources).
		Str("env", loaded.Resolved.Env).
		Msg("configuration resolved")

	switch req.Mode {
	case ModeBuild:
		return a.executeBuild(ctx, loaded.Resolved, req.Build)
	case ModeWatch:
		return a.executeWatch(ctx, loaded.Resolved, req)
	case ModeClean:
		return a.executeClean(ctx, loaded.Resolved)
	default:
		return a.executeRewrite(ctx, loaded.Resolved, req.Rewrite)
	}
}

func (a *App) executeBuild(ctx context.Context, values config.Values, req BuildRequest) (string, error) {
	builder, err := pipeline.New(values)
	if err != nil {
		return "", err
	}
	reportData, err := builder.Build(ctx, pipeline.BuildOptions{
		Clean:       req.Clean,
		Tasks:       req.Tasks,
		ListModules: req.ListModules,
	})
	if err != nil {
		return "", err
	}
	return a.Formatter.Format(reportData, req.Format)
}

func (a *App) executeClean(ctx context.Context, values config.Values) (string, error) {
	builder, err := pipeline.New(values)
	if err != nil {
		return "", err
	}
	if err := builder.Clean(ctx); err != nil {
		return "", err
	}
	return fmt.Sprintf("Cleaned %s\n", values.DistDir), nil
}

// executeWatch builds once, then rebuilds the affected tasks on every change
// until ctx is done. Failed builds are logged and watching continues.
func (a *App) executeWatch(ctx context.Context, values config.Values, req Request) (string, error) {
	log := zerolog.Ctx(ctx)
	builder, err := pipeline.New(values)
	if err != nil {
		return "", err
	}

	reportData, err := builder.Build(ctx, pipeline.BuildOptions{Clean: req.Build.Clean, Tasks: req.Build.Tasks})
	if err != nil {
		log.Error().Err(err).Msg("initial build failed")
	} else {
		a.printReport(reportData, req.Build.Format)
	}

	options := []watch.Option{
		watch.Exclude(append([]string{".*", "**/.*"}, values.Exclude...)...),
		watch.OnRebuild(func(result watch.Result) {
			if result.Err == nil {
				a.printReport(result.Report, req.Build.Format)
			}
		}),
	}
	if req.Watch.Debounce > 0 {
		options = append(options, watch.Debounce(req.Watch.Debounce))
	}
	watcher, err := watch.New(values.Root, []string{values.Path(values.SrcDir)}, builder, options...)
	if err != nil {
		return "", err
	}
	log.Info().Str("dir", values.SrcDir).Msg("watching for changes")
	return "", watcher.Run(ctx)
}

func (a *App) printReport(reportData report.Report, format report.Format) {
	output, err := a.Formatter.Format(reportData, format)
	if err != nil {
		return
	}
	fmt.Fprint(a.Out, output)
}

// executeRewrite runs only the require rewriter over one entry and reports
// where every emitted module lands. With Write set, the rewritten entry and
// relocated modules are stored under the project root.
func (a *App) executeRewrite(ctx context.Context, values config.Values, req RewriteRequest) (string, error) {
	started := time.Now()
	entry := req.Entry
	if !filepath.IsAbs(entry) {
		entry = filepath.Join(values.Root, entry)
	}
	data, err := safeio.ReadFileUnder(values.Root, entry)
	if err != nil {
		return "", fmt.Errorf("read entry %s: %w", req.Entry, err)
	}

	unit := &rewrite.SourceUnit{Path: entry, Base: values.Path(values.SrcDir), Contents: data}
	result, err := pipeline.NewScriptTransformer(values).Rewrite(ctx, unit)
	if err != nil {
		return "", err
	}

	summary := report.TaskSummary{Name: string(ModeRewrite), FilesRead: len(result.Units), ModulesRelocated: result.Relocated}
	modules := make([]report.ModuleMapping, 0, len(result.Units))
	for i, emitted := range result.Units {
		source := result.Sources[i]
		modules = append(modules, report.ModuleMapping{
			Source:      relativeTo(values.Root, source),
			Destination: relativeTo(values.Root, emitted.Path),
			Relocated:   emitted.Path != source,
			Bytes:       len(emitted.Contents),
		})
		if !req.Write {
			continue
		}
		if err := safeio.WriteFileUnder(values.Root, emitted.Path, emitted.Contents, rewriteFileMode); err != nil {
			return "", fmt.Errorf("write %s: %w", emitted.Path, err)
		}
		summary.FilesWritten++
	}

	tasks := []report.TaskSummary{summary}
	return a.Formatter.Format(report.Report{
		SchemaVersion: report.SchemaVersion,
		GeneratedAt:   started.UTC(),
		Root:          values.Root,
		Env:           values.Env,
		Summary:       report.ComputeSummary(tasks, time.Since(started)),
		Tasks:         tasks,
		Modules:       modules,
	}, req.Format)
}

func relativeTo(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return path
	}
	return filepath.ToSlash(rel)
}
