package logs

import (
	"context"
	"log/slog"
	"os"
)

// Level represents the severity of a log message
type Level = slog.Level

// Format selects the handler encoding
type Format string

const (
	TextFormat Format = "text"
	JSONFormat Format = "json"
)

// Logger is the interface that wraps the basic logging methods.
type Logger interface {
	Debug(ctx context.Context, msg string, keysAndValues ...any)
	Info(ctx context.Context, msg string, keysAndValues ...any)
	Warn(ctx context.Context, msg string, keysAndValues ...any)
	Error(ctx context.Context, msg string, keysAndValues ...any)
	WithFields(fields map[string]any) Logger
}

type config struct {
	format Format
	level  Level
	output *os.File
}

// Option defines functional options for logger configuration
type Option func(*config)

// WithFormat sets the log format
func WithFormat(format Format) Option {
	return func(cfg *config) {
		cfg.format = format
	}
}

// WithOutput sets a custom output file
func WithOutput(output *os.File) Option {
	return func(cfg *config) {
		cfg.output = output
	}
}

type defaultLogger struct {
	logger *slog.Logger
}

// NewLogger creates a new slog-backed logger with the given options
func NewLogger(level Level, opts ...Option) Logger {
	cfg := &config{
		format: TextFormat,
		level:  level,
		output: os.Stdout,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	handlerOpts := &slog.HandlerOptions{Level: cfg.level}

	var handler slog.Handler
	switch cfg.format {
	case JSONFormat:
		handler = slog.NewJSONHandler(cfg.output, handlerOpts)
	default:
		handler = slog.NewTextHandler(cfg.output, handlerOpts)
	}

	return &defaultLogger{logger: slog.New(handler)}
}

func (l *defaultLogger) Debug(ctx context.Context, msg string, keysAndValues ...any) {
	l.logger.DebugContext(ctx, msg, keysAndValues...)
}

func (l *defaultLogger) Info(ctx context.Context, msg string, keysAndValues ...any) {
	l.logger.InfoContext(ctx, msg, keysAndValues...)
}

func (l *defaultLogger) Warn(ctx context.Context, msg string, keysAndValues ...any) {
	l.logger.WarnContext(ctx, msg, keysAndValues...)
}

func (l *defaultLogger) Error(ctx context.Context, msg string, keysAndValues ...any) {
	l.logger.ErrorContext(ctx, msg, keysAndValues...)
}

func (l *defaultLogger) WithFields(fields map[string]any) Logger {
	if len(fields) == 0 {
		return l
	}
	args := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return &defaultLogger{logger: l.logger.With(args...)}
}

// NewNopLogger returns a logger that discards everything.
func NewNopLogger() Logger {
	return nopLogger{}
}

type nopLogger struct{}

func (nopLogger) Debug(ctx context.Context, msg string, keysAndValues ...any) {}
func (nopLogger) Info(ctx context.Context, msg string, keysAndValues ...any)  {}
func (nopLogger) Warn(ctx context.Context, msg string, keysAndValues ...any)  {}
func (nopLogger) Error(ctx context.Context, msg string, keysAndValues ...any) {}
func (nopLogger) WithFields(fields map[string]any) Logger                     { return nopLogger{} }
