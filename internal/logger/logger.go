// Package logger initializes the process-wide slog logger.
package logger

import (
	"log/slog"
	"os"
	"strings"
)

// L is the root logger. Init must be called before use; until then it
// falls back to slog.Default.
var L = slog.Default()

// Init configures the root logger with the given level and format.
// Level is one of debug/info/warn/error; format is "text" or "json".
func Init(level, format string) {
	var lvl slog.Level
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	L = slog.New(handler)
	slog.SetDefault(L)
}
