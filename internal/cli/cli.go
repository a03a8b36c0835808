// Package cli maps command lines onto app requests and app results onto exit
// codes: 0 on success, 1 when a command fails, 2 for usage errors.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/ben-ranford/wxpack/internal/app"
)

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

type Runner interface {
	Execute(ctx context.Context, req app.Request) (string, error)
}

type CLI struct {
	Runner Runner
	Out    io.Writer
	Err    io.Writer
}

func New(runner Runner, out io.Writer, errOut io.Writer) *CLI {
	return &CLI{
		Runner: runner,
		Out:    out,
		Err:    errOut,
	}
}

// runError marks a failure of the command itself rather than of its
// invocation.
type runError struct {
	err error
}

func (e *runError) Error() string { return e.err.Error() }

func (e *runError) Unwrap() error { return e.err }

func (c *CLI) Run(ctx context.Context, args []string) int {
	root := c.rootCommand()
	root.SetArgs(args)
	cmd, err := root.ExecuteContextC(ctx)
	if err == nil {
		return exitOK
	}

	var failed *runError
	if errors.As(err, &failed) {
		c.printError(failed.err)
		return exitError
	}
	if !c.printError(err) {
		return exitError
	}
	if _, writeErr := fmt.Fprintf(c.Err, "\n%s", cmd.UsageString()); writeErr != nil {
		return exitError
	}
	return exitUsage
}

func (c *CLI) execute(ctx context.Context, req app.Request) error {
	output, err := c.Runner.Execute(ctx, req)
	if output != "" {
		if !strings.HasSuffix(output, "\n") {
			output += "\n"
		}
		if _, writeErr := fmt.Fprint(c.Out, output); writeErr != nil {
			return &runError{err: fmt.Errorf("write output: %w", writeErr)}
		}
	}
	if err != nil {
		return &runError{err: err}
	}
	return nil
}

func (c *CLI) printError(err error) bool {
	prefix := color.New(color.FgRed, color.Bold).Sprint("error:")
	_, writeErr := fmt.Fprintf(c.Err, "%s %v\n", prefix, err)
	return writeErr == nil
}
