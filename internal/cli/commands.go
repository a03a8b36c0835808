package cli

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ben-ranford/wxpack/internal/app"
	"github.com/ben-ranford/wxpack/internal/config"
	"github.com/ben-ranford/wxpack/internal/logging"
	"github.com/ben-ranford/wxpack/internal/report"
)

func (c *CLI) rootCommand() *cobra.Command {
	defaults := app.DefaultRequest()
	root := &cobra.Command{
		Use:           "wxpack",
		Short:         "Mini-program build tool with node_modules relocation",
		Long:          rootLong,
		Example:       rootExample,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.SetOut(c.Out)
	root.SetErr(c.Err)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error { return err })

	flags := root.PersistentFlags()
	flags.StringP("root", "C", defaults.Root, "project root")
	flags.String("config", "", "config file (default: discovered in the project root)")
	flags.String("env", "", "build environment: development|production (default: NODE_ENV)")
	flags.String("src", "", "source directory")
	flags.String("dist", "", "distribution directory")
	flags.Int("jobs", 0, "files processed concurrently per task")
	flags.StringArray("exclude", nil, "glob excluded from every task (repeatable)")
	flags.StringArray("define", nil, "compile-time replacement KEY=EXPR (repeatable)")
	flags.Bool("no-cache", false, "disable the incremental build cache")
	flags.String("cache-path", "", "build cache directory")
	flags.String("log-format", defaults.Log.Format, "log format: console|json")
	flags.String("log-level", defaults.Log.Level, "log level: debug|info|warn|error")
	flags.Bool("no-color", false, "disable colored output")

	root.AddCommand(
		c.buildCommand(defaults),
		c.watchCommand(defaults),
		c.cleanCommand(),
		c.rewriteCommand(defaults),
		c.versionCommand(),
	)
	return root
}

func (c *CLI) buildCommand(defaults app.Request) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Clean dist and run every build task",
		Args:  cobra.NoArgs,
		RunE:  func(cmd *cobra.Command, _ []string) error {
			req, err := baseRequest(cmd, app.ModeBuild)
			if err != nil {
				return err
			}
			if req.Build, err = buildRequest(cmd, req.Build); err != nil {
				return err
			}
			req.Build.ListModules, _ = cmd.Flags().GetBool("list-modules")
			return c.execute(cmd.Context(), req)
		},
	}
	addBuildFlags(cmd, defaults)
	cmd.Flags().Bool("list-modules", false, "list every emitted module and its destination")
	return cmd
}

func (c *CLI) watchCommand(defaults app.Request) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Build, then rebuild the affected tasks whenever sources change",
		Args:  cobra.NoArgs,
		RunE:  func(cmd *cobra.Command, _ []string) error {
			req, err := baseRequest(cmd, app.ModeWatch)
			if err != nil {
				return err
			}
			if req.Build, err = buildRequest(cmd, req.Build); err != nil {
				return err
			}
			if req.Watch.Debounce, err = cmd.Flags().GetDuration("debounce"); err != nil {
				return err
			}
			if req.Watch.Debounce <= 0 {
				return fmt.Errorf("--debounce must be positive")
			}
			return c.execute(cmd.Context(), req)
		},
	}
	addBuildFlags(cmd, defaults)
	cmd.Flags().Duration("debounce", defaults.Watch.Debounce, "quiet period before a rebuild")
	return cmd
}

func (c *CLI) cleanCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "clean",
		Short: "Remove the contents of dist and drop the build cache",
		Args:  cobra.NoArgs,
		RunE:  func(cmd *cobra.Command, _ []string) error {
			req, err := baseRequest(cmd, app.ModeClean)
			if err != nil {
				return err
			}
			return c.execute(cmd.Context(), req)
		},
	}
}

func (c *CLI) rewriteCommand(defaults app.Request) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rewrite <entry>",
		Short: "Rewrite the requires of one script and show where its modules land",
		Args:  cobra.ExactArgs(1),
		RunE:  func(cmd *cobra.Command, args []string) error {
			req, err := baseRequest(cmd, app.ModeRewrite)
			if err != nil {
				return err
			}
			req.Rewrite.Entry = args[0]
			req.Rewrite.Write, _ = cmd.Flags().GetBool("write")
			if req.Rewrite.Format, err = formatFlag(cmd); err != nil {
				return err
			}
			return c.execute(cmd.Context(), req)
		},
	}
	cmd.Flags().String("format", string(defaults.Rewrite.Format), "output format: table|json")
	cmd.Flags().Bool("write", false, "write the rewritten entry and relocated modules")
	return cmd
}

func (c *CLI) versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the wxpack version",
		Args:  cobra.NoArgs,
		RunE:  func(cmd *cobra.Command, _ []string) error {
			return c.execute(cmd.Context(), app.Request{Mode: app.ModeVersion})
		},
	}
}

func addBuildFlags(cmd *cobra.Command, defaults app.Request) {
	cmd.Flags().Bool("incremental", false, "keep dist and reuse the build cache")
	cmd.Flags().StringSlice("task", nil, "run only the named tasks")
	cmd.Flags().String("format", string(defaults.Build.Format), "output format: table|json")
}

func buildRequest(cmd *cobra.Command, build app.BuildRequest) (app.BuildRequest, error) {
	incremental, err := cmd.Flags().GetBool("incremental")
	if err != nil {
		return build, err
	}
	build.Clean = !incremental
	if build.Tasks, err = cmd.Flags().GetStringSlice("task"); err != nil {
		return build, err
	}
	if build.Format, err = formatFlag(cmd); err != nil {
		return build, err
	}
	return build, nil
}

func formatFlag(cmd *cobra.Command) (report.Format, error) {
	value, err := cmd.Flags().GetString("format")
	if err != nil {
		return "", err
	}
	return report.ParseFormat(value)
}

// baseRequest reads the global flags. Only flags given on the command line
// become configuration overrides.
func baseRequest(cmd *cobra.Command, mode app.Mode) (app.Request, error) {
	req := app.DefaultRequest()
	req.Mode = mode

	flags := cmd.Flags()
	var err error
	if req.Root, err = flags.GetString("root"); err != nil {
		return req, err
	}
	req.DiscoverRoot = !flags.Changed("root")
	if req.ConfigPath, err = flags.GetString("config"); err != nil {
		return req, err
	}
	if req.Log.Format, err = flags.GetString("log-format"); err != nil {
		return req, err
	}
	if req.Log.Level, err = flags.GetString("log-level"); err != nil {
		return req, err
	}
	noColor, _ := flags.GetBool("no-color")
	if noColor {
		color.NoColor = true
	}
	req.Log.NoColor = color.NoColor
	if _, err := logging.ParseLevel(req.Log.Level); err != nil {
		return req, err
	}

	if req.Flags, err = overrides(cmd); err != nil {
		return req, err
	}
	return req, req.Flags.Validate()
}

func overrides(cmd *cobra.Command) (config.Overrides, error) {
	var o config.Overrides
	var err error
	if o.Env, err = changedString(cmd, "env"); err != nil {
		return o, err
	}
	if o.SrcDir, err = changedString(cmd, "src"); err != nil {
		return o, err
	}
	if o.DistDir, err = changedString(cmd, "dist"); err != nil {
		return o, err
	}
	if o.CachePath, err = changedString(cmd, "cache-path"); err != nil {
		return o, err
	}
	flags := cmd.Flags()
	if flags.Changed("jobs") {
		jobs, err := flags.GetInt("jobs")
		if err != nil {
			return o, err
		}
		o.Jobs = &jobs
	}
	if flags.Changed("no-cache") {
		disabled, err := flags.GetBool("no-cache")
		if err != nil {
			return o, err
		}
		enabled := !disabled
		o.CacheEnabled = &enabled
	}
	if flags.Changed("exclude") {
		if o.Exclude, err = flags.GetStringArray("exclude"); err != nil {
			return o, err
		}
	}
	if flags.Changed("define") {
		pairs, err := flags.GetStringArray("define")
		if err != nil {
			return o, err
		}
		o.Define = make(map[string]string, len(pairs))
		for _, pair := range pairs {
			key, value, ok := strings.Cut(pair, "=")
			if !ok {
				return o, fmt.Errorf("--define %q: expected KEY=EXPR", pair)
			}
			o.Define[strings.TrimSpace(key)] = value
		}
	}
	return o, nil
}

func changedString(cmd *cobra.Command, name string) (*string, error) {
	if !cmd.Flags().Changed(name) {
		return nil, nil
	}
	value, err := cmd.Flags().GetString(name)
	if err != nil {
		return nil, err
	}
	return &value, nil
}
