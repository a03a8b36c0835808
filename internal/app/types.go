package app

import (
	"time"

	"github.com/ben-ranford/wxpack/internal/config"
	"github.com/ben-ranford/wxpack/internal/logging"
	"github.com/ben-ranford/wxpack/internal/report"
	"github.com/ben-ranford/wxpack/internal/watch"
)

type Mode string

const (
	ModeBuild   Mode = "build"
	ModeWatch   Mode = "watch"
	ModeClean   Mode = "clean"
	ModeRewrite Mode = "rewrite"
	ModeVersion Mode = "version"
)

type Request struct {
	Mode Mode
	Root string
	// DiscoverRoot walks up from Root to the nearest project root.
	DiscoverRoot bool
	ConfigPath   string
	// Flags is the command line configuration layer.
	Flags   config.Overrides
	Log     logging.Options
	Build   BuildRequest
	Watch   WatchRequest
	Rewrite RewriteRequest
}

type BuildRequest struct {
	Clean       bool
	Tasks       []string
	ListModules bool
	Format      report.Format
}

type WatchRequest struct {
	Debounce time.Duration
}

type RewriteRequest struct {
	Entry  string
	Write  bool
	Format report.Format
}

func DefaultRequest() Request {
	return Request{
		Mode: ModeBuild,
		Root: ".",
		Log:  logging.Options{
			Format: logging.FormatConsole,
			Level:  "info",
		},
		Build: BuildRequest{
			Clean:  true,
			Format: report.FormatTable,
		},
		Watch: WatchRequest{
			Debounce: watch.DefaultDebounce,
		},
		Rewrite: RewriteRequest{
			Format: report.FormatTable,
		},
	}
}
