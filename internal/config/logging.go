package config

import (
	"io"
	"log/slog"
	"os"
)

// NewLogger builds the process logger from the logging section. An
// unrecognized output falls back to stderr rather than failing startup;
// Validate has already rejected bad levels and formats.
func NewLogger(cfg LoggingConfig) *slog.Logger {
	var out io.Writer
	switch cfg.Output {
	case "stdout":
		out = os.Stdout
	default:
		out = os.Stderr
	}

	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	return slog.New(handler)
}
