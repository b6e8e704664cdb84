// Package logging provides the shared logger for the studio gateway.
// It wraps log/slog with a compact console handler, leveled helpers,
// and optional rotating file output.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"
)

var (
	defaultLogger *slog.Logger
	logLevel                = new(slog.LevelVar)
	logOutput     io.Writer = os.Stdout
	outputMu      sync.RWMutex
	initOnce      sync.Once
)

// Fields carries structured key/value pairs for a single log entry.
type Fields map[string]any

const (
	DebugLevel = slog.LevelDebug
	InfoLevel  = slog.LevelInfo
	WarnLevel  = slog.LevelWarn
	ErrorLevel = slog.LevelError
)

func init() {
	initLogger()
}

func initLogger() {
	initOnce.Do(func() {
		logLevel.Set(slog.LevelInfo)
		handler := NewConsoleHandler(os.Stdout, logLevel, true)
		defaultLogger = slog.New(handler)
	})
}

func reconfigureLogger(w io.Writer, addSource bool) {
	outputMu.Lock()
	defer outputMu.Unlock()
	logOutput = w
	handler := NewConsoleHandler(w, logLevel, addSource)
	defaultLogger = slog.New(handler)
}

// SetOutput replaces the destination for all subsequent log entries.
func SetOutput(w io.Writer) {
	reconfigureLogger(w, true)
}

// SetLevel adjusts the minimum level emitted by the logger.
func SetLevel(level slog.Level) {
	logLevel.Set(level)
}

// GetLevel returns the current minimum level.
func GetLevel() slog.Level {
	return logLevel.Level()
}

func Debug(msg string) {
	logAt(slog.LevelDebug, msg, nil)
}

func Debugf(format string, args ...any) {
	logAt(slog.LevelDebug, fmt.Sprintf(format, args...), nil)
}

func Info(msg string) {
	logAt(slog.LevelInfo, msg, nil)
}

func Infof(format string, args ...any) {
	logAt(slog.LevelInfo, fmt.Sprintf(format, args...), nil)
}

func Warn(msg string) {
	logAt(slog.LevelWarn, msg, nil)
}

func Warnf(format string, args ...any) {
	logAt(slog.LevelWarn, fmt.Sprintf(format, args...), nil)
}

func Error(msg string) {
	logAt(slog.LevelError, msg, nil)
}

func Errorf(format string, args ...any) {
	logAt(slog.LevelError, fmt.Sprintf(format, args...), nil)
}

func Fatal(msg string) {
	logAt(slog.LevelError, msg, nil)
	os.Exit(1)
}

func Fatalf(format string, args ...any) {
	logAt(slog.LevelError, fmt.Sprintf(format, args...), nil)
	os.Exit(1)
}

// entry is a pending log line carrying structured fields.
type entry struct {
	fields Fields
}

// WithFields returns an entry that logs with the supplied fields attached.
func WithFields(fields Fields) *entry {
	return &entry{fields: fields}
}

// WithError is shorthand for WithFields(Fields{"error": err}).
func WithError(err error) *entry {
	return &entry{fields: Fields{"error": err}}
}

func (e *entry) Debug(msg string)  { logAt(slog.LevelDebug, msg, e.attrs()) }
func (e *entry) Info(msg string)   { logAt(slog.LevelInfo, msg, e.attrs()) }
func (e *entry) Warn(msg string)   { logAt(slog.LevelWarn, msg, e.attrs()) }
func (e *entry) Error(msg string)  { logAt(slog.LevelError, msg, e.attrs()) }

func (e *entry) attrs() []slog.Attr {
	attrs := make([]slog.Attr, 0, len(e.fields))
	for k, v := range e.fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	return attrs
}

func logAt(level slog.Level, msg string, attrs []slog.Attr) {
	if !defaultLogger.Enabled(context.Background(), level) {
		return
	}
	r := newRecord(level, msg)
	if len(attrs) > 0 {
		r.AddAttrs(attrs...)
	}
	_ = defaultLogger.Handler().Handle(context.Background(), r)
}

func newRecord(level slog.Level, msg string) slog.Record {
	return slog.NewRecord(time.Now(), level, msg, callerPC())
}
