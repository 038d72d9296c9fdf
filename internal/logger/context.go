package logger

import (
	"context"
	"fmt"
	"log/slog"
)

type contextKey struct{}

var discardLogger = NewLogger(WithQuiet())

// WithLogger attaches lg to ctx so it can be retrieved by the package-level
// helpers below.
func WithLogger(ctx context.Context, lg Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, lg)
}

// FromContext returns the Logger attached to ctx, or a no-op Logger if none
// was attached.
func FromContext(ctx context.Context) Logger {
	if lg, ok := ctx.Value(contextKey{}).(Logger); ok {
		return lg
	}
	return discardLogger
}

// ctxLogSkip dispatches to the attached Logger's logSkip when available, so
// that these package-level helpers attribute source location to their own
// caller rather than to a frame inside this package. Falls back to a plain
// call (losing precise source attribution) for a Logger implementation that
// does not support it.
func ctxLogSkip(ctx context.Context, level slog.Level, msg string, args []any) {
	lg := FromContext(ctx)
	if sl, ok := lg.(sourceLogger); ok {
		sl.logSkip(level, msg, args, 4)
		return
	}
	switch level {
	case slog.LevelDebug:
		lg.Debug(msg, args...)
	case slog.LevelWarn:
		lg.Warn(msg, args...)
	case slog.LevelError:
		lg.Error(msg, args...)
	default:
		lg.Info(msg, args...)
	}
}

func Debug(ctx context.Context, msg string, args ...any) { ctxLogSkip(ctx, slog.LevelDebug, msg, args) }
func Info(ctx context.Context, msg string, args ...any)  { ctxLogSkip(ctx, slog.LevelInfo, msg, args) }
func Warn(ctx context.Context, msg string, args ...any)  { ctxLogSkip(ctx, slog.LevelWarn, msg, args) }
func Error(ctx context.Context, msg string, args ...any) { ctxLogSkip(ctx, slog.LevelError, msg, args) }

func Debugf(ctx context.Context, format string, args ...any) {
	ctxLogSkip(ctx, slog.LevelDebug, fmt.Sprintf(format, args...), nil)
}
func Infof(ctx context.Context, format string, args ...any) {
	ctxLogSkip(ctx, slog.LevelInfo, fmt.Sprintf(format, args...), nil)
}
func Warnf(ctx context.Context, format string, args ...any) {
	ctxLogSkip(ctx, slog.LevelWarn, fmt.Sprintf(format, args...), nil)
}
func Errorf(ctx context.Context, format string, args ...any) {
	ctxLogSkip(ctx, slog.LevelError, fmt.Sprintf(format, args...), nil)
}
