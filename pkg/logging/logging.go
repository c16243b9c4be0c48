// Package logging defines the structured logging contract used across the
// media core. Per the spec, log transport is a host concern — a host
// process supplies its own callback/sink. This package supplies both the
// interface every component logs through and a default implementation
// backed by zerolog, so the module is runnable standalone (the demo, and
// the test suite, attach the zerolog sink by default).
package logging

import (
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Logger is the narrow interface every package depends on. A host that
// wants to route logs to its own transport implements this instead of
// pulling in zerolog.
type Logger interface {
	Debug(msg string, kv ...any)
	Info(msg string, kv ...any)
	Warn(msg string, kv ...any)
	Error(msg string, err error, kv ...any)
	With(kv ...any) Logger
}

// zerologLogger adapts zerolog.Logger to the Logger interface.
type zerologLogger struct {
	l zerolog.Logger
}

// NewDefault returns the default zerolog-backed sink, writing
// console-formatted output to w. Pass os.Stdout for CLI/demo use; a host
// embedding the core typically supplies its own Logger implementation
// instead.
func NewDefault(w io.Writer) Logger {
	if w == nil {
		w = os.Stderr
	}
	zl := zerolog.New(w).With().Timestamp().Logger()
	return &zerologLogger{l: zl}
}

// NewSessionCorrelated returns a logger tagged with a fresh correlation id,
// used by session.New so every graph/node/scheduler log line
// for the lifetime of the session can be grepped together.
func NewSessionCorrelated(base Logger, sessionID uint32) Logger {
	return base.With("session_id", sessionID, "trace_id", uuid.NewString())
}

func fields(e *zerolog.Event, kv []any) *zerolog.Event {
	for i := 0; i+1 < len(kv); i += 2 {
		key, _ := kv[i].(string)
		e = e.Interface(key, kv[i+1])
	}
	return e
}

func (z *zerologLogger) Debug(msg string, kv ...any) { fields(z.l.Debug(), kv).Msg(msg) }
func (z *zerologLogger) Info(msg string, kv ...any)  { fields(z.l.Info(), kv).Msg(msg) }
func (z *zerologLogger) Warn(msg string, kv ...any)  { fields(z.l.Warn(), kv).Msg(msg) }

func (z *zerologLogger) Error(msg string, err error, kv ...any) {
	fields(z.l.Error().Err(err), kv).Msg(msg)
}

func (z *zerologLogger) With(kv ...any) Logger {
	ctx := z.l.With()
	for i := 0; i+1 < len(kv); i += 2 {
		key, _ := kv[i].(string)
		ctx = ctx.Interface(key, kv[i+1])
	}
	return &zerologLogger{l: ctx.Logger()}
}

// Nop returns a Logger that discards everything, for tests that don't care
// about log output.
func Nop() Logger { return NewDefault(io.Discard) }
