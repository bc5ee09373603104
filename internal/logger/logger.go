// Package logger builds the process slog.Logger. Attributes whose key names
// a credential are replaced before they reach any output.
package logger

import (
	"io"
	"log/slog"
	"strings"
)

const Redacted = "[REDACTED]"

const (
	FormatPretty = "pretty"
	FormatJSON   = "json"
)

var sensitiveKeyParts = []string{"password", "refresh", "csrf", "token", "secret", "pepper"}

// Sensitive reports whether values logged under key must be redacted.
func Sensitive(key string) bool {
	lower := strings.ToLower(key)
	for _, part := range sensitiveKeyParts {
		if strings.Contains(lower, part) {
			return true
		}
	}
	return false
}

// ParseLevel accepts debug, info, warn and error; anything else is info.
func ParseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
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

func New(w io.Writer, format string, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(format, FormatPretty) {
		return slog.New(NewPrettyHandler(w, opts))
	}

	opts.ReplaceAttr = func(_ []string, a slog.Attr) slog.Attr {
		if a.Value.Kind() != slog.KindGroup && Sensitive(a.Key) {
			return slog.String(a.Key, Redacted)
		}
		return a
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
