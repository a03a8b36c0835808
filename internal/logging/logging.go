// Package logging builds the zerolog loggers used by the command line.
package logging

import (
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"github.com/rs/zerolog/pkgerrors"
)

const (
	FormatConsole = "console"
	FormatJSON    = "json"

	consoleTimeFormat = `2006-01-02 15:04:05`
)

type Options struct {
	Format  string
	Level   string
	NoColor bool
}

func ParseLevel(value string) (zerolog.Level, error) {
	trimmed := strings.ToLower(strings.TrimSpace(value))
	if trimmed == "" {
		return zerolog.InfoLevel, nil
	}
	level, err := zerolog.ParseLevel(trimmed)
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("invalid log level %q", value)
	}
	return level, nil
}

// New returns a logger writing to out and installs it as the default
// context logger.
func New(out io.Writer, opts Options) (zerolog.Logger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return zerolog.Nop(), err
	}

	var writer io.Writer
	switch strings.ToLower(strings.TrimSpace(opts.Format)) {
	case "", FormatConsole:
		writer = zerolog.ConsoleWriter{Out: out, TimeFormat: consoleTimeFormat, NoColor: opts.NoColor}
	case FormatJSON:
		writer = out
	default:
		return zerolog.Nop(), fmt.Errorf("invalid log format %q (must be one of: %s, %s)", opts.Format, FormatConsole, FormatJSON)
	}

	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack
	log := zerolog.New(writer).Level(level).With().Timestamp().Logger()
	zlog.Logger = log
	zerolog.DefaultContextLogger = &log
	return log, nil
}
