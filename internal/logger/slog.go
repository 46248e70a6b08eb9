package logger

import (
	"context"
	"log/slog"

	"github.com/rs/zerolog"
)

// slogHandler implements slog.Handler backed by a zerolog.Logger, so that
// libraries which require an *slog.Logger (sutureslog, for the supervisor
// tree's event hook) still emit through the same backend as everything
// else.
type slogHandler struct {
	zl    zerolog.Logger
	attrs []slog.Attr
}

// Slog returns an *slog.Logger that writes through this Logger's zerolog
// backend.
func (l *Logger) Slog() *slog.Logger {
	return slog.New(&slogHandler{zl: l.zl})
}

func (h *slogHandler) Enabled(_ context.Context, level slog.Level) bool {
	return h.zl.GetLevel() <= slogToZerologLevel(level)
}

func (h *slogHandler) Handle(_ context.Context, record slog.Record) error {
	var event *zerolog.Event
	switch record.Level {
	case slog.LevelDebug:
		event = h.zl.Debug()
	case slog.LevelWarn:
		event = h.zl.Warn()
	case slog.LevelError:
		event = h.zl.Error()
	default:
		event = h.zl.Info()
	}
	for _, a := range h.attrs {
		event = addSlogAttr(event, a)
	}
	record.Attrs(func(a slog.Attr) bool {
		event = addSlogAttr(event, a)
		return true
	})
	event.Msg(record.Message)
	return nil
}

func (h *slogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, len(h.attrs)+len(attrs))
	copy(merged, h.attrs)
	copy(merged[len(h.attrs):], attrs)
	return &slogHandler{zl: h.zl, attrs: merged}
}

func (h *slogHandler) WithGroup(_ string) slog.Handler { return h }

func addSlogAttr(event *zerolog.Event, attr slog.Attr) *zerolog.Event {
	switch attr.Value.Kind() {
	case slog.KindString:
		return event.Str(attr.Key, attr.Value.String())
	case slog.KindInt64:
		return event.Int64(attr.Key, attr.Value.Int64())
	case slog.KindUint64:
		return event.Uint64(attr.Key, attr.Value.Uint64())
	case slog.KindFloat64:
		return event.Float64(attr.Key, attr.Value.Float64())
	case slog.KindBool:
		return event.Bool(attr.Key, attr.Value.Bool())
	case slog.KindDuration:
		return event.Dur(attr.Key, attr.Value.Duration())
	case slog.KindTime:
		return event.Time(attr.Key, attr.Value.Time())
	default:
		return event.Interface(attr.Key, attr.Value.Any())
	}
}

func slogToZerologLevel(level slog.Level) zerolog.Level {
	switch {
	case level < slog.LevelDebug:
		return zerolog.TraceLevel
	case level < slog.LevelInfo:
		return zerolog.DebugLevel
	case level < slog.LevelWarn:
		return zerolog.InfoLevel
	case level < slog.LevelError:
		return zerolog.WarnLevel
	default:
		return zerolog.ErrorLevel
	}
}
