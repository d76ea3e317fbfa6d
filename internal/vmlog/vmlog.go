// Package vmlog builds the single zerolog.Logger that cmd/ember passes
// into the VM and, from there, the scheduler; the GC, reactor and
// timer wheel take no logger. It
// carries no spec semantics of its own; it exists so the ambient
// logging stack is in one place rather than each package picking its
// own defaults.
package vmlog

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Level mirrors the handful of zerolog levels cmd/ember's --log-level
// flag accepts.
type Level = zerolog.Level

const (
	LevelDebug = zerolog.DebugLevel
	LevelInfo  = zerolog.InfoLevel
	LevelWarn  = zerolog.WarnLevel
	LevelError = zerolog.ErrorLevel
)

// Options configures New.
type Options struct {
	Level  Level
	Pretty bool
	Output io.Writer
}

// New builds the root logger. Pretty selects zerolog.ConsoleWriter for
// interactive terminals; the default is newline-delimited JSON,
// matching how the rest of the pack's services log in production.
func New(opts Options) zerolog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	if opts.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).Level(opts.Level).With().Timestamp().Logger()
}

// Component returns a child logger tagged with a "component" field so
// a subsystem's log lines can be filtered independently.
func Component(base zerolog.Logger, name string) zerolog.Logger {
	return base.With().Str("component", name).Logger()
}

// Process returns a child logger tagged with the originating process
// ID, for per-process panic/lifecycle log lines.
func Process(base zerolog.Logger, processID int64) zerolog.Logger {
	return base.With().Int64("process", processID).Logger()
}
