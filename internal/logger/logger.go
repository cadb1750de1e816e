// Package logger builds the slog loggers used by the command line tools.
// Output goes through tint, with colors and short timestamps on terminals
// and plain RFC 3339 lines otherwise.
package logger

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

type Level = slog.Level

const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

type Option func(*options)

type options struct {
	out        io.Writer
	level      Level
	name       string
	timeFormat string
	noColor    *bool
}

// WithWriter sends output to w instead of stderr.
func WithWriter(w io.Writer) Option {
	return func(o *options) {
		o.out = w
	}
}

func WithLevel(level Level) Option {
	return func(o *options) {
		o.level = level
	}
}

// WithDebug lowers the level to debug when debug is set.
func WithDebug(debug bool) Option {
	return func(o *options) {
		if debug {
			o.level = LevelDebug
		}
	}
}

// WithName tags every record with component=name.
func WithName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}

func WithTimeFormat(format string) Option {
	return func(o *options) {
		o.timeFormat = format
	}
}

func WithNoColor(noColor bool) Option {
	return func(o *options) {
		o.noColor = &noColor
	}
}

// New returns a tint-backed logger.
func New(opts ...Option) *slog.Logger {
	o := &options{
		out:   os.Stderr,
		level: LevelInfo,
	}
	for _, opt := range opts {
		opt(o)
	}

	terminal := isTerminal(o.out)
	if o.timeFormat == "" {
		o.timeFormat = time.RFC3339
		if terminal {
			o.timeFormat = time.Stamp
		}
	}
	noColor := !terminal
	if o.noColor != nil {
		noColor = *o.noColor
	}

	l := slog.New(tint.NewHandler(o.out, &tint.Options{
		Level:      o.level,
		NoColor:    noColor,
		TimeFormat: o.timeFormat,
	}))
	if o.name != "" {
		l = l.With("component", o.name)
	}
	return l
}

// Component derives a logger for one part of the program.
func Component(l *slog.Logger, name string) *slog.Logger {
	return l.With("component", name)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
