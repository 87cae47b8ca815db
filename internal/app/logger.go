package app

import (
	"io"
	"log/slog"
	"os"
)

// NewLogger returns a configured slog.Logger based on configuration.
func NewLogger(cfg *Config) *slog.Logger {
	return newLogger(cfg, os.Stdout, &slog.HandlerOptions{AddSource: true})
}

// NewCLILogger logs warnings and errors to stderr so command output stays
// parseable.
func NewCLILogger(cfg *Config) *slog.Logger {
	return newLogger(cfg, os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})
}

func newLogger(cfg *Config, w io.Writer, opts *slog.HandlerOptions) *slog.Logger {
	if cfg != nil && cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
