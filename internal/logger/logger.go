// Package logger provides the leveled logger used throughout ingestcore.
//
// It wraps zerolog behind a small Info/Infof/Error/Errorf/Debug/Debugf,
// SetLevel surface so call sites stay simple regardless of which backend
// emits the line.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is a structured, leveled logger. The zero value is not usable; call
// New.
type Logger struct {
	zl zerolog.Logger
}

// New creates a Logger that writes human-readable console output to w at the
// given minimum level. Pass nil for w to use stderr.
func New(level zerolog.Level, w io.Writer) *Logger {
	if w == nil {
		w = os.Stderr
	}
	console := zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	zl := zerolog.New(console).With().Timestamp().Logger().Level(level)
	return &Logger{zl: zl}
}

// With returns a child logger with an additional string field attached to
// every subsequent line — used to tag log output with a correlation ID (see
// internal/orchestrator) without threading a prefix string by hand.
func (l *Logger) With(key, value string) *Logger {
	return &Logger{zl: l.zl.With().Str(key, value).Logger()}
}

// SetLevel changes the minimum log level at runtime by replacing the wrapped
// zerolog.Logger value. The replacement is not synchronized, so SetLevel
// must not run concurrently with other calls on the same Logger.
func (l *Logger) SetLevel(level zerolog.Level) {
	l.zl = l.zl.Level(level)
}

func (l *Logger) Info(msg string)  { l.zl.Info().Msg(msg) }
func (l *Logger) Error(msg string) { l.zl.Error().Msg(msg) }
func (l *Logger) Debug(msg string) { l.zl.Debug().Msg(msg) }
func (l *Logger) Warn(msg string)  { l.zl.Warn().Msg(msg) }

func (l *Logger) Infof(format string, args ...interface{})  { l.zl.Info().Msgf(format, args...) }
func (l *Logger) Errorf(format string, args ...interface{}) { l.zl.Error().Msgf(format, args...) }
func (l *Logger) Debugf(format string, args ...interface{}) { l.zl.Debug().Msgf(format, args...) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.zl.Warn().Msgf(format, args...) }

// ErrorErr logs an error at ERROR level with the error attached as a
// structured field, the idiomatic zerolog pattern for wrapped errors.
func (l *Logger) ErrorErr(msg string, err error) {
	l.zl.Error().Err(err).Msg(msg)
}
