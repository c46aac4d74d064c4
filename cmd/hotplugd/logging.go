package main

import (
	"io"
	"log/slog"
	"strings"

	"github.com/goatkit/hotplug/internal/config"
)

// installLogger builds the process logger and makes it the slog default, so
// components created without an explicit logger use the same handler.
func installLogger(w io.Writer, cfg config.LogConfig) *slog.Logger {
	logger := newLogger(w, cfg)
	slog.SetDefault(logger)
	return logger
}

// newLogger builds the process logger from cfg.
func newLogger(w io.Writer, cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
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
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}
