package log

import (
	"context"
	"log/slog"
	"os"

	"github.com/levenlabs/go-llog"
)

var (
	defaultLogLevel slog.LevelVar
	defaultLogger   = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		AddSource: true,
		Level:     &defaultLogLevel,
	}))
)

func init() {
	defaultLogLevel.Set(slog.LevelInfo)
}

type contextKey struct{}

var loggerKey = contextKey{}

// Ctx returns the logger from the context. If no logger is found, it returns the default logger.
func Ctx(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return l
	}
	return defaultLogger
}

// With returns a new context with the given logger.
func With(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// WithAttrs returns a new context whose logger carries the given attributes
// in addition to whatever the context logger already had.
func WithAttrs(ctx context.Context, attrs ...slog.Attr) context.Context {
	args := make([]any, len(attrs))
	for i, a := range attrs {
		args[i] = a
	}
	return With(ctx, Ctx(ctx).With(args...))
}

// SetDefaultLogLevel changes the level of the default logger.
func SetDefaultLogLevel(level slog.Level) {
	defaultLogLevel.Set(level)
}

// ConfigureLevel maps the llog level (set by lflag while parsing flags) onto
// the default logger and slog's default and returns the chosen level.
func ConfigureLevel() slog.Level {
	var level slog.Level
	switch llog.GetLevel() {
	case llog.DebugLevel:
		level = slog.LevelDebug
	case llog.InfoLevel:
		level = slog.LevelInfo
	case llog.WarnLevel:
		level = slog.LevelWarn
	case llog.ErrorLevel:
		level = slog.LevelError
	default:
		level = slog.LevelInfo
		defaultLogger.Warn("unknown llog level, using info", slog.String("level", llog.GetLevel().String()))
	}
	SetDefaultLogLevel(level)
	slog.SetDefault(defaultLogger)
	return level
}
