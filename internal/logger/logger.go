// Package logger configures the process-wide structured logger.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/ppiankov/proofpack/internal/model"
)

// Config selects level and output format
type Config struct {
	Level  slog.Level
	Format string // json or text
	Output io.Writer
}

// FromModel converts the configuration section, rejecting unknown values
func FromModel(cfg model.LogConfig) (Config, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return Config{}, err
	}

	format := strings.ToLower(cfg.Format)
	switch format {
	case "", "text":
		format = "text"
	case "json":
	default:
		return Config{}, fmt.Errorf("unknown log format %q (use json or text)", cfg.Format)
	}

	return Config{Level: level, Format: format}, nil
}

// ParseLevel accepts debug, info, warn and error
func ParseLevel(s string) (slog.Level, error) {
	if s == "" {
		return slog.LevelInfo, nil
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
	return level, nil
}

// New creates a logger and installs it as the default. Logs go to stderr
// unless cfg.Output is set; stdout is left for command output.
func New(cfg Config) *slog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	opts := &slog.HandlerOptions{Level: cfg.Level}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(out, opts)
	default:
		handler = slog.NewTextHandler(out, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)

	return logger
}

type ctxKey struct{}

// WithContext returns ctx carrying l
func WithContext(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the logger carried by ctx, or fallback
func FromContext(ctx context.Context, fallback *slog.Logger) *slog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	if fallback != nil {
		return fallback
	}
	return slog.Default()
}
