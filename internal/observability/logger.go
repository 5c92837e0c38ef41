package observability

import (
	"io"
	"log/slog"
	"strings"
)

// NewLogger builds a slog logger from a level name (debug, info, warn,
// error) and a format (json or text). Unknown values fall back to info/json.
func NewLogger(out io.Writer, level, format string) *slog.Logger {
	lvl := slog.LevelInfo
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: lvl}

	var h slog.Handler = slog.NewJSONHandler(out, opts)
	if strings.EqualFold(strings.TrimSpace(format), "text") {
		h = slog.NewTextHandler(out, opts)
	}
	return slog.New(h).With("service", "guardian")
}
