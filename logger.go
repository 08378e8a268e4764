package mamstore

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/hupe1980/mamstore/page"
)

// Logger wraps slog.Logger with mamstore-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.DiscardHandler),
	}
}

// WithPath adds the page file path to the logger.
func (l *Logger) WithPath(path string) *Logger {
	return &Logger{
		Logger: l.Logger.With("path", path),
	}
}

// WithClient adds a client field to the logger.
func (l *Logger) WithClient(id page.ClientID) *Logger {
	return &Logger{
		Logger: l.Logger.With("client", id),
	}
}

// LogOpen logs opening or creating the page file.
func (l *Logger) LogOpen(ctx context.Context, created, unclean bool, err error) {
	if err != nil {
		l.ErrorContext(ctx, "open failed",
			"created", created,
			"error", err,
		)
		return
	}
	if unclean {
		l.WarnContext(ctx, "page file was not closed cleanly")
	}
	l.InfoContext(ctx, "db opened",
		"created", created,
	)
}

// LogClose logs closing the DB.
func (l *Logger) LogClose(ctx context.Context, err error) {
	if err != nil {
		l.ErrorContext(ctx, "close failed",
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "db closed")
	}
}

// LogCreateClient logs a client registration.
func (l *Logger) LogCreateClient(ctx context.Context, id page.ClientID, err error) {
	if err != nil {
		l.ErrorContext(ctx, "create client failed",
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "client created",
			"client", id,
		)
	}
}

// LogFlush logs a cache flush.
func (l *Logger) LogFlush(ctx context.Context, dirty int, duration time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "flush failed",
			"dirty", dirty,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "flush completed",
			"dirty", dirty,
			"duration", duration,
		)
	}
}

// LogVerify logs the outcome of a consistency check.
func (l *Logger) LogVerify(ctx context.Context, problems int, err error) {
	switch {
	case err != nil:
		l.ErrorContext(ctx, "verify failed",
			"error", err,
		)
	case problems > 0:
		l.WarnContext(ctx, "verify found problems",
			"problems", problems,
		)
	default:
		l.InfoContext(ctx, "verify passed")
	}
}

// LogSnapshot logs a snapshot operation.
func (l *Logger) LogSnapshot(ctx context.Context, name string, chunks int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "snapshot failed",
			"name", name,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "snapshot saved",
			"name", name,
			"chunks", chunks,
		)
	}
}
