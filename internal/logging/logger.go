// Package logging provides structured logging for the IMAP client core.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	// Context keys for common fields.
	tagKey     contextKey = "tag"
	commandKey contextKey = "command"
	mailboxKey contextKey = "mailbox"
	hostKey    contextKey = "host"
)

// levelTrace sits below slog's Debug level, for the "trace" verbosity
// tier in addition to slog's four built-in levels.
const levelTrace = slog.Level(-8)

// Logger wraps slog with goimap-specific functionality: level methods
// trace/debug/info/warn/error/fatal on plain records.
type Logger struct {
	*slog.Logger
}

// Config configures the logger.
type Config struct {
	// Level is the minimum log level (trace, debug, info, warn, error).
	Level string
	// Format is the output format (json, text).
	Format string
	// Output is the output destination (stdout, stderr, or file path).
	Output string
	// AddSource adds source code location to log entries.
	AddSource bool
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() Config {
	return Config{
		Level:  "info",
		Format: "json",
		Output: "stdout",
	}
}

// New creates a new Logger with the given configuration.
func New(cfg Config) (*Logger, error) {
	var level slog.Level
	switch cfg.Level {
	case "trace":
		level = levelTrace
	case "debug":
		level = slog.LevelDebug
	case "info", "":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error", "fatal":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var output io.Writer
	switch cfg.Output {
	case "stdout", "":
		output = os.Stdout
	case "stderr":
		output = os.Stderr
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, err
		}
		output = f
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: cfg.AddSource,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.Format(time.RFC3339Nano))
				}
			}
			if a.Key == slog.LevelKey {
				if lvl, ok := a.Value.Any().(slog.Level); ok && lvl == levelTrace {
					a.Value = slog.StringValue("TRACE")
				}
			}
			return a
		},
	}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(output, opts)
	default:
		handler = slog.NewJSONHandler(output, opts)
	}

	return &Logger{Logger: slog.New(handler)}, nil
}

// Default returns a default logger writing JSON to stdout at info level.
func Default() *Logger {
	logger, _ := New(DefaultConfig())
	return logger
}

// Nop returns a logger that discards everything, for tests and library
// callers who have not wired up a logger.
func Nop() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// WithTag returns a new context carrying the command tag.
func WithTag(ctx context.Context, tag string) context.Context {
	return context.WithValue(ctx, tagKey, tag)
}

// WithCommand returns a new context carrying the command name.
func WithCommand(ctx context.Context, command string) context.Context {
	return context.WithValue(ctx, commandKey, command)
}

// WithMailbox returns a new context carrying the selected mailbox path.
func WithMailbox(ctx context.Context, mailbox string) context.Context {
	return context.WithValue(ctx, mailboxKey, mailbox)
}

// WithHost returns a new context carrying the server host.
func WithHost(ctx context.Context, host string) context.Context {
	return context.WithValue(ctx, hostKey, host)
}

func extractContextAttrs(ctx context.Context) []slog.Attr {
	var attrs []slog.Attr
	if v := ctx.Value(tagKey); v != nil {
		attrs = append(attrs, slog.String("tag", v.(string)))
	}
	if v := ctx.Value(commandKey); v != nil {
		attrs = append(attrs, slog.String("command", v.(string)))
	}
	if v := ctx.Value(mailboxKey); v != nil {
		attrs = append(attrs, slog.String("mailbox", v.(string)))
	}
	if v := ctx.Value(hostKey); v != nil {
		attrs = append(attrs, slog.String("host", v.(string)))
	}
	return attrs
}

func (l *Logger) withContextArgs(ctx context.Context, args []any) []any {
	attrs := extractContextAttrs(ctx)
	if len(attrs) == 0 {
		return args
	}
	allArgs := make([]any, 0, len(attrs)*2+len(args))
	for _, attr := range attrs {
		allArgs = append(allArgs, attr.Key, attr.Value.Any())
	}
	return append(allArgs, args...)
}

// Trace logs below debug level; used for raw wire traffic.
func (l *Logger) Trace(msg string, args ...any) {
	l.Logger.Log(context.Background(), levelTrace, msg, args...)
}

// Fatal logs at error level. The core never calls os.Exit itself; callers
// that treat a condition as fatal log it here and then unwind on their own.
func (l *Logger) Fatal(msg string, args ...any) {
	l.Logger.Error(msg, args...)
}

// InfoContext logs an info message with context-derived fields attached.
func (l *Logger) InfoContext(ctx context.Context, msg string, args ...any) {
	l.Logger.InfoContext(ctx, msg, l.withContextArgs(ctx, args)...)
}

// ErrorContext logs an error message with context-derived fields attached.
func (l *Logger) ErrorContext(ctx context.Context, msg string, err error, args ...any) {
	if err != nil {
		args = append([]any{"error", err.Error()}, args...)
	}
	l.Logger.ErrorContext(ctx, msg, l.withContextArgs(ctx, args)...)
}

// WarnContext logs a warning message with context-derived fields attached.
func (l *Logger) WarnContext(ctx context.Context, msg string, args ...any) {
	l.Logger.WarnContext(ctx, msg, l.withContextArgs(ctx, args)...)
}

// DebugContext logs a debug message with context-derived fields attached.
func (l *Logger) DebugContext(ctx context.Context, msg string, args ...any) {
	l.Logger.DebugContext(ctx, msg, l.withContextArgs(ctx, args)...)
}

// WithError returns a logger with the error attached.
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return &Logger{Logger: l.Logger.With("error", err.Error())}
}

// WithFields returns a logger with additional fields.
func (l *Logger) WithFields(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// Session returns a logger scoped to the connection's session engine.
func (l *Logger) Session() *Logger {
	return &Logger{Logger: l.Logger.With("component", "session")}
}

// Wire returns a logger scoped to the framer/parser/compiler.
func (l *Logger) Wire() *Logger {
	return &Logger{Logger: l.Logger.With("component", "wire")}
}

// Download returns a logger scoped to the download pipeline.
func (l *Logger) Download() *Logger {
	return &Logger{Logger: l.Logger.With("component", "download")}
}
