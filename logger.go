package cloudpipe

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// Logger wraps slog.Logger with cloudpipe-specific context.
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
func NewJSONLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return &Logger{Logger: slog.New(slog.DiscardHandler)}
}

// WithRunID adds the job run id.
func (l *Logger) WithRunID(id string) *Logger {
	return &Logger{Logger: l.Logger.With("run_id", id)}
}

// WithChunk adds a chunk name.
func (l *Logger) WithChunk(name string) *Logger {
	return &Logger{Logger: l.Logger.With("chunk", name)}
}

// WithStage adds a stage kind and uid.
func (l *Logger) WithStage(kind, uid string) *Logger {
	return &Logger{Logger: l.Logger.With("stage", kind, "uid", uid)}
}

// LogBuild logs a pipeline build.
func (l *Logger) LogBuild(ctx context.Context, stages int, mode string, margin float64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "pipeline rejected",
			"stages", stages,
			"error", err,
		)
		return
	}
	l.DebugContext(ctx, "pipeline built",
		"stages", stages,
		"mode", mode,
		"buffer", margin,
	)
}

// LogJob logs the end of a job.
func (l *Logger) LogJob(ctx context.Context, chunks, failed int, interrupted bool, d time.Duration) {
	switch {
	case failed > 0:
		l.WarnContext(ctx, "job completed with failures",
			"chunks", chunks,
			"failed", failed,
			"duration", d,
		)
	case interrupted:
		l.WarnContext(ctx, "job interrupted",
			"chunks", chunks,
			"duration", d,
		)
	default:
		l.InfoContext(ctx, "job completed",
			"chunks", chunks,
			"duration", d,
		)
	}
}

// LogQuery logs a query on a loaded cloud.
func (l *Logger) LogQuery(ctx context.Context, kind string, results int, interrupted bool, err error) {
	if err != nil {
		l.ErrorContext(ctx, "query failed",
			"kind", kind,
			"error", err,
		)
		return
	}
	l.DebugContext(ctx, "query completed",
		"kind", kind,
		"results", results,
		"interrupted", interrupted,
	)
}
