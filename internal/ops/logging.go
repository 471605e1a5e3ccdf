package ops

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/driftchat/driftchat/internal/config"
)

// Logger is a structured logger wrapper
type Logger struct {
	*slog.Logger
	level  slog.Level
	format string
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a new structured logger based on config
func NewLogger(cfg *config.Logging) *Logger {
	return NewLoggerWithWriter(cfg, os.Stdout)
}

// NewLoggerWithWriter creates a logger with a custom writer
func NewLoggerWithWriter(cfg *config.Logging, w io.Writer) *Logger {
	level := parseLevel(cfg.Level)

	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.Format(time.RFC3339))
				}
			}
			return a
		},
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return &Logger{
		Logger: slog.New(handler),
		level:  level,
		format: cfg.Format,
	}
}

// WithComponent adds a component field to all log messages
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		Logger: l.Logger.With("component", component),
		level:  l.level,
		format: l.format,
	}
}

// WithFields adds custom fields to the logger
func (l *Logger) WithFields(fields ...any) *Logger {
	return &Logger{
		Logger: l.Logger.With(fields...),
		level:  l.level,
		format: l.format,
	}
}

// IsDebugEnabled returns true if debug logging is enabled
func (l *Logger) IsDebugEnabled() bool {
	return l.level <= slog.LevelDebug
}

// Component-specific logger helpers

// LogQuery logs a historical relay query
func (l *Logger) LogQuery(community, channel string, raw, kept int, duration time.Duration, err error) {
	if err != nil {
		l.Warn("historical query failed",
			"community", community,
			"channel", channel,
			"duration_ms", duration.Milliseconds(),
			"error", err)
	} else {
		l.Debug("historical query completed",
			"community", community,
			"channel", channel,
			"raw", raw,
			"kept", kept,
			"duration_ms", duration.Milliseconds())
	}
}

// LogSubscription logs a live subscription lifecycle event
func (l *Logger) LogSubscription(community, channel, state string, since int64) {
	l.Debug("subscription state",
		"community", community,
		"channel", channel,
		"state", state,
		"since", since)
}

// LogCacheOperation logs a cache operation
func (l *Logger) LogCacheOperation(op string, key string, hit bool) {
	l.Debug("cache operation",
		"operation", op,
		"key", key,
		"hit", hit)
}

// LogBatchFlush logs a related-event batch flush
func (l *Logger) LogBatchFlush(community string, ids int, reason string, err error) {
	if err != nil {
		l.Warn("batch flush failed",
			"community", community,
			"ids", ids,
			"reason", reason,
			"error", err)
	} else {
		l.Debug("batch flushed",
			"community", community,
			"ids", ids,
			"reason", reason)
	}
}

// LogPreload logs a speculative preload attempt
func (l *Logger) LogPreload(kind string, community string, skipped bool, err error) {
	if err != nil {
		// Preload failures never surface to the user; debug only
		l.Debug("preload failed",
			"kind", kind,
			"community", community,
			"error", err)
	} else {
		l.Debug("preload",
			"kind", kind,
			"community", community,
			"skipped", skipped)
	}
}

// LogReconcile logs an optimistic reconciliation outcome
func (l *Logger) LogReconcile(community, channel, eventID string, matched bool) {
	l.Debug("optimistic reconcile",
		"community", community,
		"channel", channel,
		"event_id", eventID,
		"matched", matched)
}

// LogPublish logs an outgoing event publish
func (l *Logger) LogPublish(eventID string, relays int, err error) {
	if err != nil {
		l.Warn("publish failed",
			"event_id", eventID,
			"relays", relays,
			"error", err)
	} else {
		l.Info("event published",
			"event_id", eventID,
			"relays", relays)
	}
}

// LogStartup logs application startup information
func (l *Logger) LogStartup(version, commit string) {
	l.Info("driftchat starting",
		"version", version,
		"commit", commit)
}

// LogShutdown logs application shutdown
func (l *Logger) LogShutdown(reason string) {
	l.Info("driftchat shutting down",
		"reason", reason)
}

// LogPanic logs a panic with stack trace
func (l *Logger) LogPanic(recovered interface{}, stack string) {
	l.Error("panic recovered",
		"panic", fmt.Sprintf("%v", recovered),
		"stack", stack)
}

// Default logger configuration
var defaultLogger *Logger

func init() {
	defaultLogger = NewLogger(&config.Logging{
		Level:  "info",
		Format: "text",
	})
}

// Default returns the default logger
func Default() *Logger {
	return defaultLogger
}

// SetDefault sets the default logger
func SetDefault(l *Logger) {
	defaultLogger = l
}

// Helper functions for common logging patterns

// Info logs an info message
func Info(msg string, fields ...any) {
	defaultLogger.Info(msg, fields...)
}

// Debug logs a debug message
func Debug(msg string, fields ...any) {
	defaultLogger.Debug(msg, fields...)
}

// Warn logs a warning message
func Warn(msg string, fields ...any) {
	defaultLogger.Warn(msg, fields...)
}

// Error logs an error message
func Error(msg string, fields ...any) {
	defaultLogger.Error(msg, fields...)
}
