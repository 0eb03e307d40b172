package router

import (
	"log/slog"

	"github.com/soypat/ip4rt/internal"
)

// logger wraps a *slog.Logger the way the rest of the codec/transport layers
// do, routing through internal.LogAttrs so the debugheaplog build tag can
// swap in a non-allocating logger.
type logger struct {
	log *slog.Logger
}

func newLogger(l *slog.Logger) *logger {
	if l == nil {
		l = slog.Default()
	}
	return &logger{log: l}
}

func (l *logger) error(msg string, attrs ...slog.Attr) {
	internal.LogAttrs(l.log, slog.LevelError, msg, attrs...)
}

func (l *logger) warn(msg string, attrs ...slog.Attr) {
	internal.LogAttrs(l.log, slog.LevelWarn, msg, attrs...)
}

func (l *logger) info(msg string, attrs ...slog.Attr) {
	internal.LogAttrs(l.log, slog.LevelInfo, msg, attrs...)
}

func (l *logger) debug(msg string, attrs ...slog.Attr) {
	internal.LogAttrs(l.log, slog.LevelDebug, msg, attrs...)
}

func (l *logger) trace(msg string, attrs ...slog.Attr) {
	internal.LogAttrs(l.log, internal.LevelTrace, msg, attrs...)
}
