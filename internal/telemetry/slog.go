package telemetry

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// logLevel backs the default logger so the level can change without rebuilding the handler
var logLevel = new(slog.LevelVar)

// ParseLevel maps "debug", "info", "warn"/"warning" and "error" (case-insensitive)
// to a slog.Level. Anything else is info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// NewHandler builds a JSON handler when format is "json" and a text handler otherwise.
// The handler honours the shared, runtime-adjustable level.
func NewHandler(w io.Writer, format string, addSource bool) slog.Handler {
	opts := &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: addSource,
	}
	if strings.ToLower(format) == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// SetupLogger installs the default slog logger writing to stdout.
//
// format: "json" for production, anything else for human-readable text.
// level: "debug", "info", "warn", "error"; defaults to "info".
//
// File and line are included only at debug level.
func SetupLogger(format, level string) {
	lvl := ParseLevel(level)
	logLevel.Set(lvl)

	slog.SetDefault(slog.New(NewHandler(os.Stdout, format, lvl == slog.LevelDebug)))
	slog.Info("logger initialised", "format", format, "level", lvl.String())
}

// SetLevel changes the level of the default logger in place. Used by config hot reload.
func SetLevel(level string) {
	lvl := ParseLevel(level)
	if logLevel.Level() == lvl {
		return
	}
	logLevel.Set(lvl)
	slog.Info("log level changed", "level", lvl.String())
}

// Level reports the current level of the default logger
func Level() slog.Level {
	return logLevel.Level()
}
