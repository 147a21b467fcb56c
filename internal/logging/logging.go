// Package logging provides the structured logging used throughout mcprelay.
//
// It wraps log/slog behind a small subsystem-tagged API so callers write
// logging.Info("Router", "dispatched %s to %s", name, backend) instead of
// threading a *slog.Logger through every constructor.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"
)

// Level mirrors slog.Level with names matched to the rest of the codebase.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) slogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

var defaultLogger *slog.Logger

// Init configures the package-level logger. Call once at process startup.
func Init(level Level, out io.Writer) {
	if out == nil {
		out = os.Stderr
	}
	handler := slog.NewTextHandler(out, &slog.HandlerOptions{Level: level.slogLevel()})
	defaultLogger = slog.New(handler)
	slog.SetDefault(defaultLogger)
}

func logger() *slog.Logger {
	if defaultLogger == nil {
		Init(LevelInfo, os.Stderr)
	}
	return defaultLogger
}

// Default returns the package-level slog.Logger, for the few callers (the
// suture supervisor tree's event hook) that need a *slog.Logger directly
// rather than the subsystem-tagged helpers above.
func Default() *slog.Logger { return logger() }

func logf(level slog.Level, subsystem string, err error, format string, args ...any) {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	attrs := []slog.Attr{slog.String("subsystem", subsystem)}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	logger().LogAttrs(context.Background(), level, msg, attrs...)
}

// Debug logs a debug-level message tagged with subsystem.
func Debug(subsystem, format string, args ...any) { logf(slog.LevelDebug, subsystem, nil, format, args...) }

// Info logs an info-level message tagged with subsystem.
func Info(subsystem, format string, args ...any) { logf(slog.LevelInfo, subsystem, nil, format, args...) }

// Warn logs a warning-level message tagged with subsystem.
func Warn(subsystem, format string, args ...any) { logf(slog.LevelWarn, subsystem, nil, format, args...) }

// Error logs an error-level message with the causing error attached.
func Error(subsystem string, err error, format string, args ...any) {
	logf(slog.LevelError, subsystem, err, format, args...)
}

// PluginFailure emits the structured record §9 requires for every swallowed
// plugin failure: plugin name, phase, and error kind. Tests can assert on
// these records by passing a buffer to Init.
func PluginFailure(pluginName, phase, kind string, err error) {
	logger().LogAttrs(context.Background(), slog.LevelWarn, "plugin failure swallowed",
		slog.String("subsystem", "Plugin"),
		slog.String("plugin", pluginName),
		slog.String("phase", phase),
		slog.String("kind", kind),
		slog.String("error", errString(err)),
		slog.Time("time", time.Now()),
	)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
