// Package logger builds the process-wide slog logger.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/dontdude/imgcap/internal/config"
)

// Setup creates a logger from cfg writing to stdout and installs it as the slog default.
func Setup(cfg config.LogConfig) *slog.Logger {
	logger := New(os.Stdout, cfg.Level, cfg.Format)
	slog.SetDefault(logger)
	return logger
}

// New creates a logger writing to w. Unknown levels fall back to info; format "json" selects
// the JSON handler and anything else the text handler.
func New(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}

	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// ParseLevel maps a level name (case-insensitive) to a slog.Level.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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
