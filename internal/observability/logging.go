package observability

import (
	"io"
	"log/slog"
	"os"
)

// NewLogger returns the JSON logger every reserve binary writes to stdout.
// It also becomes the slog default.
func NewLogger(service string, level slog.Level) *slog.Logger {
	return newLogger(os.Stdout, service, level)
}

func newLogger(w io.Writer, service string, level slog.Level) *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})).With("service", service)
	slog.SetDefault(logger)
	return logger
}
