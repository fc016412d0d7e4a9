// Package logging wraps zerolog with the teacher's console texture: short,
// emoji-tagged human messages (e.g. "📦 [Bridge] ...") carried as the Msg()
// of an otherwise structured, field-bearing record.
package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Logger is the structured logger every component takes by injection,
// replacing the teacher's bare package-level log.Printf calls (spec.md
// §9's "explicitly-constructed application context" in miniature).
type Logger struct {
	zl zerolog.Logger
}

// New builds a Logger writing to w (os.Stdout in production, a test buffer
// in tests) with the given component tag, e.g. "bridge", "gateway".
func New(w io.Writer, component string) Logger {
	zl := zerolog.New(w).With().Timestamp().Str("component", component).Logger()
	return Logger{zl: zl}
}

// Default returns a Logger writing to stdout, for main() entrypoints.
func Default(component string) Logger {
	return New(os.Stdout, component)
}

func (l Logger) Debug() *zerolog.Event { return l.zl.Debug() }
func (l Logger) Info() *zerolog.Event  { return l.zl.Info() }
func (l Logger) Warn() *zerolog.Event  { return l.zl.Warn() }
func (l Logger) Error() *zerolog.Event { return l.zl.Error() }

// With returns a child logger with an added field, mirroring the teacher's
// per-operation tag (e.g. "[Bridge API]").
func (l Logger) With(key, value string) Logger {
	return Logger{zl: l.zl.With().Str(key, value).Logger()}
}
