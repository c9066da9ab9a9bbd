// Package logging provides the structured zerolog logger every rtbus
// component logs through.
package logging

import (
	"io"
	"os"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
)

// Options configures New.
type Options struct {
	Level  string // debug|info|warn|error
	Format string // json|console
}

// New builds a zerolog.Logger with a timestamp, caller info, and a fixed
// "service" field, and sets zerolog's process-wide minimum level as a
// side effect (matching the teacher's NewLogger, which also calls
// zerolog.SetGlobalLevel).
func New(opts Options) zerolog.Logger {
	var output io.Writer = os.Stdout

	level, err := zerolog.ParseLevel(opts.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if opts.Format == "console" {
		output = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	return zerolog.New(output).
		With().
		Timestamp().
		Caller().
		Str("service", "rtbus").
		Logger().
		Level(level)
}

// Error logs err with msg and arbitrary structured fields, for the single
// boundary point where an internal error kind is first observed.
func Error(logger zerolog.Logger, err error, msg string, fields map[string]any) {
	event := logger.Error().Err(err)
	for k, v := range fields {
		event = event.Interface(k, v)
	}
	event.Msg(msg)
}

// Panic logs a recovered panic with its stack trace before the caller
// decides whether to re-panic or degrade gracefully.
func Panic(logger zerolog.Logger, panicValue any, msg string, fields map[string]any) {
	event := logger.Error().
		Interface("panic_value", panicValue).
		Str("stack_trace", string(debug.Stack()))
	for k, v := range fields {
		event = event.Interface(k, v)
	}
	event.Msg(msg)
}
