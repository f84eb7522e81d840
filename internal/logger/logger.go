package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger is the logging interface passed through qmem via the context.
// It wraps slog.Logger so tests can swap in a silent or buffered logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	With(args ...any) Logger
	WithGroup(name string) Logger
}

// SlogLogger is a Logger implementation that wraps slog.Logger.
type SlogLogger struct {
	logger *slog.Logger
}

// New creates a Logger on top of handler.
func New(handler slog.Handler) Logger {
	return &SlogLogger{
		logger: slog.New(handler),
	}
}

// Format selects the output encoding of a Logger.
type Format string

const (
	FormatPretty Format = "pretty"
	FormatText   Format = "text"
	FormatJSON   Format = "json"
)

// ParseFormat accepts "pretty", "text" or "json". The empty string means
// pretty.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatPretty, nil
	case FormatPretty, FormatText, FormatJSON:
		return f, nil
	}
	return "", fmt.Errorf("logger: unknown format %q (want pretty, text or json)", s)
}

// Options configures NewWriter.
type Options struct {
	Format Format
	Level  slog.Level
	// Color enables ANSI colors in the pretty format.
	Color bool
	// AddSource records file:line in text and json output.
	AddSource bool
}

// NewWriter builds a Logger writing to w in the requested format.
func NewWriter(w io.Writer, opts Options) Logger {
	hopts := &slog.HandlerOptions{Level: opts.Level, AddSource: opts.AddSource}
	switch opts.Format {
	case FormatJSON:
		return New(slog.NewJSONHandler(w, hopts))
	case FormatText:
		return New(slog.NewTextHandler(w, hopts))
	}
	return New(NewPrettyHandler(w, opts.Level, opts.Color))
}

// Default is a pretty, uncolored info logger on stderr.
func Default() Logger {
	return NewWriter(os.Stderr, Options{Format: FormatPretty, Level: slog.LevelInfo})
}

// JSON creates a Logger with a JSON handler, for logs read by other tools.
func JSON(w io.Writer, level slog.Level) Logger {
	return NewWriter(w, Options{Format: FormatJSON, Level: level})
}

// Pretty creates a colored Logger for interactive use.
func Pretty(w io.Writer, level slog.Level) Logger {
	return NewWriter(w, Options{Format: FormatPretty, Level: level, Color: true})
}

// Nop discards everything.
func Nop() Logger {
	return New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// FromContext retrieves a Logger from the context.
// If no logger is found, returns a default logger.
func FromContext(ctx context.Context) Logger {
	if logger, ok := ctx.Value(loggerKey{}).(Logger); ok {
		return logger
	}
	return Default()
}

// WithContext adds the logger to the context.
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
	return &SlogLogger{
		logger: l.logger.With(args...),
	}
}

func (l *SlogLogger) WithGroup(name string) Logger {
	return &SlogLogger{
		logger: l.logger.WithGroup(name),
	}
}

// ParseLevel converts a level name to slog.Level. Unknown names are an
// error so a typo on the command line is not silently ignored.
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
	}
	return slog.LevelInfo, fmt.Errorf("logger: unknown level %q", level)
}
