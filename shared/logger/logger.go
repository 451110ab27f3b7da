package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Options controls how the process logger is built
type Options struct {
	Service string
	Level   string // debug, info, warn, error
	Format  string // json or text
	Output  io.Writer
}

// New builds a slog.Logger tagged with the service name
func New(opts Options) *slog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}

	handlerOpts := &slog.HandlerOptions{Level: ParseLevel(opts.Level)}

	var h slog.Handler
	if strings.EqualFold(opts.Format, "text") {
		h = slog.NewTextHandler(out, handlerOpts)
	} else {
		h = slog.NewJSONHandler(out, handlerOpts)
	}

	l := slog.New(h)
	if opts.Service != "" {
		l = l.With(slog.String("service", opts.Service))
	}
	return l
}

// Setup builds the logger and installs it as the slog default
func Setup(opts Options) *slog.Logger {
	l := New(opts)
	slog.SetDefault(l)
	return l
}

// ParseLevel maps a level name to a slog.Level, defaulting to info
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LogPass logs the outcome of a scheduler pass or batch job
func LogPass(l *slog.Logger, name string, processed, failed int, took time.Duration) {
	attrs := []any{
		slog.String("pass", name),
		slog.Int("processed", processed),
		slog.Int("failed", failed),
		slog.Duration("took", took),
	}
	if failed > 0 {
		l.Warn("Pass finished with errors", attrs...)
		return
	}
	l.Info("Pass finished", attrs...)
}
