package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Logger provides structured logging for the worker
type Logger struct {
	prefix string
	logger zerolog.Logger
}

// NewLogger creates a new logger with a prefix, configured from LOG_LEVEL and LOG_FORMAT
func NewLogger(prefix string) *Logger {
	return NewLoggerTo(prefix, os.Stdout)
}

// NewLoggerTo is NewLogger writing to w instead of stdout
func NewLoggerTo(prefix string, w io.Writer) *Logger {
	out := w
	if strings.EqualFold(os.Getenv("LOG_FORMAT"), "console") {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
	}
	return NewLoggerWithWriter(prefix, out, ParseLevel(os.Getenv("LOG_LEVEL")))
}

// NewLoggerWithWriter creates a logger writing JSON lines to w
func NewLoggerWithWriter(prefix string, w io.Writer, level zerolog.Level) *Logger {
	zl := zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Str("component", prefix).
		Logger()

	return &Logger{prefix: prefix, logger: zl}
}

// ParseLevel maps LOG_LEVEL values to zerolog levels (info by default)
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// With returns a child logger that always carries the given key-value pairs
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	ctx := l.logger.With()
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		ctx = ctx.Interface(fmt.Sprint(keysAndValues[i]), keysAndValues[i+1])
	}
	return &Logger{prefix: l.prefix, logger: ctx.Logger()}
}

// Info logs an informational message with key-value pairs
func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.logWithKV(l.logger.Info(), msg, keysAndValues...)
}

// Warn logs a warning message with key-value pairs
func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	l.logWithKV(l.logger.Warn(), msg, keysAndValues...)
}

// Error logs an error message with key-value pairs
func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
	l.logWithKV(l.logger.Error(), msg, keysAndValues...)
}

// Debug logs a debug message with key-value pairs
func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	l.logWithKV(l.logger.Debug(), msg, keysAndValues...)
}

func (l *Logger) logWithKV(event *zerolog.Event, msg string, keysAndValues ...interface{}) {
	if event == nil {
		return
	}
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key := fmt.Sprint(keysAndValues[i])
		switch v := keysAndValues[i+1].(type) {
		case error:
			event = event.AnErr(key, v)
		default:
			event = event.Interface(key, v)
		}
	}
	event.Msg(msg)
}
