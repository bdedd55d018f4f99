// Package logger wraps slog with the console/json dual handler used across
// the service host and deployer processes.
package logger

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

// Logger wraps slog.Logger with contextual fields.
type Logger struct {
	*slog.Logger
}

// New creates a logger. format "json" uses slog's JSON handler (production);
// anything else uses tint for colored console output (local/dev).
func New(level, format string) *Logger {
	var handler slog.Handler
	lvl := parseLevel(level)

	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      lvl,
			TimeFormat: time.TimeOnly,
		})
	}

	return &Logger{Logger: slog.New(handler)}
}

// WithPlace adds place_id/service/operation to logger context.
func (l *Logger) WithPlace(placeID, service, operation string) *Logger {
	return &Logger{Logger: l.With("place_id", placeID, "service", service, "operation", operation)}
}

// WithSequence adds sequence_id/workflow_base to logger context.
func (l *Logger) WithSequence(sequenceID, workflowBase int64) *Logger {
	return &Logger{Logger: l.With("sequence_id", sequenceID, "workflow_base", workflowBase)}
}

// WithContext returns a logger enriched with a trace id found in ctx, if any.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if traceID := ctx.Value(traceIDKey{}); traceID != nil {
		return &Logger{Logger: l.With("trace_id", traceID)}
	}
	return l
}

type traceIDKey struct{}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
