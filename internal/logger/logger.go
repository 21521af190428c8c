// Package logger builds the slog loggers used by the daemon and the CLI.
package logger

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/ppiankov/wheelguard/internal/interlock"
	"github.com/ppiankov/wheelguard/internal/policy"
)

const defaultLevel = slog.LevelInfo

// ParseLevel converts debug/info/warn/error (any case) to a slog.Level.
// Unknown strings fall back to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return defaultLevel
	}
}

// New returns a logger writing to w (stderr when nil) in "text" or "json"
// format. Any other format is treated as text.
func New(level, format string, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}

	opts := &slog.HandlerOptions{
		Level:       ParseLevel(level),
		ReplaceAttr: replaceLevelAttribute,
	}

	var h slog.Handler
	switch strings.ToLower(format) {
	case "json":
		h = slog.NewJSONHandler(w, opts)
	default:
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h)
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// OrDiscard returns l, or a discarding logger when l is nil.
func OrDiscard(l *slog.Logger) *slog.Logger {
	if l == nil {
		return Discard()
	}
	return l
}

var levelNames = map[slog.Level]string{
	slog.LevelDebug: "DEBUG",
	slog.LevelInfo:  "INFO",
	slog.LevelWarn:  "WARN",
	slog.LevelError: "ERROR",
}

func replaceLevelAttribute(_ []string, a slog.Attr) slog.Attr {
	if a.Key != slog.LevelKey {
		return a
	}
	level, ok := a.Value.Any().(slog.Level)
	if !ok {
		return a
	}
	name, ok := levelNames[level]
	if !ok {
		name = level.String()
	}
	a.Value = slog.StringValue(name)
	return a
}

// Err returns structured attributes for err. Interlock errors carry their
// kind and policy violations their violation kind, so log pipelines can
// filter on them without parsing the message.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}

	attrs := []any{slog.String("msg", err.Error())}
	if kind := interlock.KindOf(err); kind != "" {
		attrs = append(attrs, slog.String("kind", string(kind)))
	}
	var v *policy.Violation
	if errors.As(err, &v) {
		attrs = append(attrs, slog.String("violation", string(v.Kind)))
	}
	return slog.Group("error", attrs...)
}
