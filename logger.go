package wholestore

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with wholestore-specific context. It keeps
// field names consistent across the conversion and training surfaces.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a Logger with the given handler. A nil handler
// falls back to a text handler on stderr at info level.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{Logger: slog.New(handler)}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
func NewJSONLogger(level slog.Level) *Logger {
	return &Logger{Logger: slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))}
}

// NoopLogger creates a Logger that discards all output.
func NoopLogger() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	}))}
}

// WithName tags the logger with an embedding name.
func (l *Logger) WithName(name string) *Logger {
	return &Logger{Logger: l.Logger.With("name", name)}
}

// WithRank tags the logger with the process rank.
func (l *Logger) WithRank(rank int) *Logger {
	return &Logger{Logger: l.Logger.With("rank", rank)}
}

// LogGather logs one indexed read.
func (l *Logger) LogGather(ctx context.Context, indices int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "gather failed", "indices", indices, "error", err)
	} else {
		l.DebugContext(ctx, "gather completed", "indices", indices)
	}
}

// LogScatter logs one indexed write.
func (l *Logger) LogScatter(ctx context.Context, indices int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "scatter failed", "indices", indices, "error", err)
	} else {
		l.DebugContext(ctx, "scatter completed", "indices", indices)
	}
}

// LogAttach logs an optimizer attachment.
func (l *Logger) LogAttach(ctx context.Context, optimizer string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "optimizer attach failed", "optimizer", optimizer, "error", err)
	} else {
		l.InfoContext(ctx, "optimizer attached", "optimizer", optimizer)
	}
}
