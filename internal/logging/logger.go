// Package logging provides structured logging configuration using log/slog.
//
// Loggers obtained through FromContext carry the chi request id of an admin
// request and the id of the file being ingested, so every entry of a run
// can be correlated.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/checkin/internal/core"
)

// Setup configures the global slog logger and returns it.
//
// Level values: "debug", "info", "warn", "error" (default: "info")
// Format values: "text", "json" (default: "text")
func Setup(level, format string) *slog.Logger {
	logger := New(os.Stdout, level, format)
	slog.SetDefault(logger)
	return logger
}

// New returns a logger writing to w.
func New(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: parseLevel(level),
	}

	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// FromContext returns the default logger enriched with the request id and
// file id found in ctx.
//
// Usage:
//
//	ctx = core.ContextWithFileID(ctx, fileID)
//	logging.FromContext(ctx).Info("claimed file")
func FromContext(ctx context.Context) *slog.Logger {
	return Enrich(ctx, slog.Default())
}

// Enrich adds the request id and file id found in ctx to logger.
func Enrich(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if reqID := middleware.GetReqID(ctx); reqID != "" {
		logger = logger.With("request_id", reqID)
	}
	if fileID := core.FileIDFromContext(ctx); fileID != "" {
		logger = logger.With("file_id", fileID)
	}
	return logger
}

// WithFields returns a context logger with additional structured fields.
//
// Usage:
//
//	chunkLogger := logging.WithFields(ctx, "chunk", c.Index, "rows", c.Count)
//	chunkLogger.Info("chunk started")
func WithFields(ctx context.Context, args ...any) *slog.Logger {
	return FromContext(ctx).With(args...)
}

// Printf adapts a slog logger to Printf-style loggers such as the one
// ants.WithLogger expects. Messages are logged at warn level.
type Printf struct {
	Logger *slog.Logger
}

// Printf logs the formatted message.
func (p Printf) Printf(format string, args ...any) {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}
