package logger

import (
	"log/slog"
	"os"
	"strings"
)

var defaultLogger *slog.Logger

// Init configures the process-wide logger. format is "json" or "text";
// an empty level falls back to debug for text and info for json.
func Init(format, level string) {
	var handler slog.Handler

	lvl := parseLevel(level, format)
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}

	defaultLogger = slog.New(handler)
	slog.SetDefault(defaultLogger)
}

// InitForEnv keeps the old behaviour of choosing the handler from APP_ENV.
func InitForEnv(env string) {
	if env == "production" {
		Init("json", "info")
		return
	}
	Init("text", "debug")
}

func LoggerWrapper() *slog.Logger {
	if defaultLogger == nil {
		// lazy initialize a development logger to avoid nil pointer panics
		InitForEnv("development")
	}
	return defaultLogger
}

func parseLevel(level, format string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	if format == "json" {
		return slog.LevelInfo
	}
	return slog.LevelDebug
}
