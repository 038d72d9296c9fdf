// Package logger provides the structured logger used throughout the
// orchestrator: every dispatch, completion and re-enqueue decision the
// scheduler loop makes is logged here, so a post-mortem can reconstruct the
// timeline of a run.
//
// It wraps log/slog and fans output out to multiple sinks (stdout and an
// optional writer given with WithWriter) with github.com/samber/slog-multi.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"time"

	slogmulti "github.com/samber/slog-multi"
)

// Logger is the logging surface the rest of the orchestrator depends on.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
	// With returns a Logger that includes the given key-value attributes in
	// every record it emits.
	With(args ...any) Logger
	// WithGroup returns a Logger that nests subsequent attributes under name.
	WithGroup(name string) Logger
}

type logger struct {
	handler slog.Handler
}

// Option configures a Logger built by NewLogger.
type Option func(*options)

type options struct {
	debug  bool
	format string
	writer io.Writer
	quiet  bool
}

// WithDebug enables debug-level output.
func WithDebug() Option { return func(o *options) { o.debug = true } }

// WithFormat selects the handler format: "text" or "json". Defaults to "text".
func WithFormat(format string) Option { return func(o *options) { o.format = format } }

// WithWriter sends output to w instead of os.Stdout.
func WithWriter(w io.Writer) Option { return func(o *options) { o.writer = w } }

// WithQuiet suppresses the default stdout sink, useful in tests that supply
// their own writer via WithWriter.
func WithQuiet() Option { return func(o *options) { o.quiet = true } }

// NewLogger builds a Logger from the given options.
func NewLogger(opts ...Option) Logger {
	o := &options{format: "text"}
	for _, opt := range opts {
		opt(o)
	}

	level := slog.LevelInfo
	if o.debug {
		level = slog.LevelDebug
	}

	var sinks []slog.Handler
	if !o.quiet {
		sinks = append(sinks, newHandler(os.Stdout, o.format, level, o.debug))
	}
	if o.writer != nil {
		sinks = append(sinks, newHandler(o.writer, o.format, level, o.debug))
	}
	if len(sinks) == 0 {
		sinks = append(sinks, newHandler(io.Discard, o.format, level, o.debug))
	}

	var handler slog.Handler
	if len(sinks) == 1 {
		handler = sinks[0]
	} else {
		handler = slogmulti.Fanout(sinks...)
	}

	return &logger{handler: handler}
}

// newHandler builds one sink. Source locations are recorded in debug mode
// only; production logs stay free of file:line noise.
func newHandler(w io.Writer, format string, level slog.Level, addSource bool) slog.Handler {
	handlerOpts := &slog.HandlerOptions{Level: level, AddSource: addSource}
	if format == "json" {
		return slog.NewJSONHandler(w, handlerOpts)
	}
	return slog.NewTextHandler(w, handlerOpts)
}

func (l *logger) Debug(msg string, args ...any) { l.logSkip(slog.LevelDebug, msg, args, 3) }
func (l *logger) Info(msg string, args ...any)  { l.logSkip(slog.LevelInfo, msg, args, 3) }
func (l *logger) Warn(msg string, args ...any)  { l.logSkip(slog.LevelWarn, msg, args, 3) }
func (l *logger) Error(msg string, args ...any) { l.logSkip(slog.LevelError, msg, args, 3) }

func (l *logger) Debugf(format string, args ...any) {
	l.logSkip(slog.LevelDebug, fmt.Sprintf(format, args...), nil, 3)
}
func (l *logger) Infof(format string, args ...any) {
	l.logSkip(slog.LevelInfo, fmt.Sprintf(format, args...), nil, 3)
}
func (l *logger) Warnf(format string, args ...any) {
	l.logSkip(slog.LevelWarn, fmt.Sprintf(format, args...), nil, 3)
}
func (l *logger) Errorf(format string, args ...any) {
	l.logSkip(slog.LevelError, fmt.Sprintf(format, args...), nil, 3)
}

func (l *logger) With(args ...any) Logger {
	if len(args) == 0 {
		return l
	}
	return &logger{handler: l.handler.WithAttrs(argsToAttrs(args))}
}

func (l *logger) WithGroup(name string) Logger {
	if name == "" {
		return l
	}
	return &logger{handler: l.handler.WithGroup(name)}
}

// argsToAttrs converts loosely-typed key-value args into slog.Attrs using
// the same pairing rules slog's own variadic methods apply.
func argsToAttrs(args []any) []slog.Attr {
	record := slog.NewRecord(time.Time{}, slog.LevelInfo, "", 0)
	record.Add(args...)
	attrs := make([]slog.Attr, 0, record.NumAttrs())
	record.Attrs(func(a slog.Attr) bool {
		attrs = append(attrs, a)
		return true
	})
	return attrs
}

// sourceLogger is implemented by *logger and used by the package-level
// context helpers in context.go so they can attribute source location to
// their own caller without going through an extra exported-method frame.
type sourceLogger interface {
	logSkip(level slog.Level, msg string, args []any, skip int)
}

// logSkip records a slog.Record whose source PC is taken skip frames above
// this one, mirroring how log/slog's own convenience methods resolve
// source location for their callers.
func (l *logger) logSkip(level slog.Level, msg string, args []any, skip int) {
	if !l.handler.Enabled(context.Background(), level) {
		return
	}
	var pcs [1]uintptr
	runtime.Callers(skip, pcs[:])

	record := slog.NewRecord(time.Now(), level, msg, pcs[0])
	if len(args) > 0 {
		record.Add(args...)
	}
	_ = l.handler.Handle(context.Background(), record)
}
