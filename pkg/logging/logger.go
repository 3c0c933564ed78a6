// Package logging provides the structured logger used across the connector.
// The Logger interface keeps call sites decoupled from the backend; the
// default implementation is zap-based (see zap.go), with a plain JSON
// fallback for environments where zap construction fails.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Level is the severity of a log entry.
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel maps a configuration string ("debug", "info", ...) to a Level.
// Unknown values fall back to INFO.
func ParseLevel(s string) Level {
	switch s {
	case "debug":
		return DEBUG
	case "warn":
		return WARN
	case "error":
		return ERROR
	default:
		return INFO
	}
}

// Logger is the structured logging interface used by every package in the
// connector.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)

	// WithFields returns a child logger that attaches the given fields to
	// every entry.
	WithFields(fields ...Field) Logger

	SetLevel(level Level)
	SetOutput(w io.Writer)
}

// Field is a key-value pair attached to a log entry.
type Field struct {
	Key   string
	Value interface{}
}

// Field constructors.

func String(key, value string) Field { return Field{Key: key, Value: value} }

func Int(key string, value int) Field { return Field{Key: key, Value: value} }

func Int64(key string, value int64) Field { return Field{Key: key, Value: value} }

func Float64(key string, value float64) Field { return Field{Key: key, Value: value} }

func Bool(key string, value bool) Field { return Field{Key: key, Value: value} }

func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value.String()}
}

func Error(err error) Field { return Field{Key: "error", Value: err.Error()} }

// jsonLogger is the dependency-free fallback implementation. One JSON object
// per line, written under a mutex.
type jsonLogger struct {
	mu     sync.Mutex
	out    io.Writer
	level  Level
	fields []Field
}

// NewLogger creates a logger with default settings (INFO to stdout).
func NewLogger() Logger {
	return &jsonLogger{
		out:   os.Stdout,
		level: INFO,
	}
}

func (l *jsonLogger) log(level Level, msg string, fields ...Field) {
	if level < l.level {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	entry := map[string]interface{}{
		"timestamp": time.Now().Format(time.RFC3339),
		"level":     level.String(),
		"message":   msg,
	}
	for _, f := range l.fields {
		entry[f.Key] = f.Value
	}
	for _, f := range fields {
		entry[f.Key] = f.Value
	}

	data, err := json.Marshal(entry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error marshaling log entry: %v\n", err)
		return
	}
	data = append(data, '\n')
	if _, err := l.out.Write(data); err != nil {
		fmt.Fprintf(os.Stderr, "error writing log entry: %v\n", err)
	}
}

func (l *jsonLogger) Debug(msg string, fields ...Field) { l.log(DEBUG, msg, fields...) }

func (l *jsonLogger) Info(msg string, fields ...Field) { l.log(INFO, msg, fields...) }

func (l *jsonLogger) Warn(msg string, fields ...Field) { l.log(WARN, msg, fields...) }

func (l *jsonLogger) Error(msg string, fields ...Field) { l.log(ERROR, msg, fields...) }

func (l *jsonLogger) WithFields(fields ...Field) Logger {
	child := &jsonLogger{
		out:   l.out,
		level: l.level,
	}
	child.fields = make([]Field, 0, len(l.fields)+len(fields))
	child.fields = append(child.fields, l.fields...)
	child.fields = append(child.fields, fields...)
	return child
}

func (l *jsonLogger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

func (l *jsonLogger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.out = w
}
