package logging

import (
	"io"
	"log/slog"
	"os"
)

// SetupJSON sets slog's default logger to use JSON output at the given level.
func SetupJSON(level slog.Level) {
	slog.SetDefault(NewJSON(os.Stdout, level))
}

// SetupText installs a human readable handler on stderr, used by the CLI.
func SetupText(level slog.Level) {
	slog.SetDefault(slog.New(
		slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}),
	))
}

func NewJSON(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(
		slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}),
	)
}

// OrDefault returns l, or slog.Default() when l is nil.
func OrDefault(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}

	return l
}

// Discard is a logger that drops every record. Handy in tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
