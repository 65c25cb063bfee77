package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger is the logging interface used across matnpu.
// It wraps slog.Logger so drivers and sessions can be handed a logger in tests.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	With(args ...any) Logger
	WithGroup(name string) Logger
}

// Format selects the output encoding of a logger.
type Format string

const (
	FormatPretty Format = "pretty"
	FormatText   Format = "text"
	FormatJSON   Format = "json"
)

// Options configures New.
type Options struct {
	Format    Format
	Level     slog.Level
	AddSource bool
}

// SlogLogger is a Logger backed by slog.Logger.
type SlogLogger struct {
	logger *slog.Logger
}

// FromHandler wraps an arbitrary slog handler.
func FromHandler(handler slog.Handler) Logger {
	return &SlogLogger{logger: slog.New(handler)}
}

// New builds a logger writing to w in the requested format.
func New(w io.Writer, opts Options) Logger {
	hopts := &slog.HandlerOptions{Level: opts.Level, AddSource: opts.AddSource}
	switch opts.Format {
	case FormatJSON:
		return FromHandler(slog.NewJSONHandler(w, hopts))
	case FormatText:
		return FromHandler(slog.NewTextHandler(w, hopts))
	default:
		return FromHandler(NewPrettyHandler(w, hopts))
	}
}

// Default writes text at info level to stderr.
func Default() Logger {
	return New(os.Stderr, Options{Format: FormatText, Level: slog.LevelInfo})
}

// Discard drops every record.
func Discard() Logger {
	return FromHandler(slog.DiscardHandler)
}

// JSON creates a JSON logger for the HTTP service.
func JSON(w io.Writer, level slog.Level) Logger {
	return New(w, Options{Format: FormatJSON, Level: level, AddSource: true})
}

// Pretty creates a colored logger for interactive CLI use.
func Pretty(w io.Writer, level slog.Level) Logger {
	return New(w, Options{Format: FormatPretty, Level: level})
}

// FromContext retrieves the Logger stored in ctx, or Default when there is none.
func FromContext(ctx context.Context) Logger {
	if logger, ok := ctx.Value(loggerKey{}).(Logger); ok {
		return logger
	}
	return Default()
}

// WithContext stores logger in ctx.
func WithContext(ctx context.Context, logger Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

type loggerKey struct{}

func (l *SlogLogger) Debug(msg string, args ...any) {
	l.logger.Debug(msg, args...)
}

func (l *SlogLogger) Info(msg string, args ...any) {
	l.logger.Info(msg, args...)
}

func (l *SlogLogger) Warn(msg string, args ...any) {
	l.logger.Warn(msg, args...)
}

func (l *SlogLogger) Error(msg string, args ...any) {
	l.logger.Error(msg, args...)
}

func (l *SlogLogger) With(args ...any) Logger {
	return &SlogLogger{logger: l.logger.With(args...)}
}

func (l *SlogLogger) WithGroup(name string) Logger {
	return &SlogLogger{logger: l.logger.WithGroup(name)}
}

// ParseLevel converts a flag value to slog.Level.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q (expected debug, info, warn or error)", level)
	}
}

// ParseFormat converts a flag value to a Format.
func ParseFormat(format string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(format))); f {
	case "":
		return FormatPretty, nil
	case FormatPretty, FormatText, FormatJSON:
		return f, nil
	default:
		return FormatPretty, fmt.Errorf("unknown log format %q (expected pretty, text or json)", format)
	}
}
