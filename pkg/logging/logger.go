// Package logging provides the structured, leveled logger used across
// the module. Loggers are cheap to derive: WithFields and Named return
// children sharing the parent's output and level.
package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	mcperrors "github.com/hualong-shen/mcp-go/pkg/errors"
)

// Level orders log severities.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return fmt.Sprintf("LEVEL(%d)", int(l))
	}
}

// ParseLevel maps a config string to a Level. Unknown strings fall back
// to info.
func ParseLevel(s string) Level {
	switch s {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Field is one structured key/value pair on a log line.
type Field struct {
	Key   string
	Value interface{}
}

func String(key, value string) Field             { return Field{Key: key, Value: value} }
func Int(key string, value int) Field            { return Field{Key: key, Value: value} }
func Int64(key string, value int64) Field        { return Field{Key: key, Value: value} }
func Float64(key string, value float64) Field    { return Field{Key: key, Value: value} }
func Bool(key string, value bool) Field          { return Field{Key: key, Value: value} }
func Duration(key string, d time.Duration) Field { return Field{Key: key, Value: d} }
func Any(key string, value interface{}) Field    { return Field{Key: key, Value: value} }

// Err builds the conventional "error" field. Typed errors also
// contribute their code and category.
func Err(err error) Field { return Field{Key: "error", Value: err} }

// Logger is the logging interface accepted throughout the module.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)

	// Named returns a child logger tagged with a component name.
	// Nested calls join with a dot.
	Named(name string) Logger
	// WithFields returns a child logger carrying extra fields.
	WithFields(fields ...Field) Logger
	// WithContext returns a child logger carrying the request ID from
	// ctx, when present.
	WithContext(ctx context.Context) Logger

	SetLevel(level Level)
	Level() Level
}

// Entry is a single formatted log event.
type Entry struct {
	Time      time.Time
	Level     Level
	Component string
	Message   string
	Fields    map[string]interface{}
}

// Formatter renders entries to bytes, newline included.
type Formatter interface {
	Format(e *Entry) ([]byte, error)
}

type logger struct {
	core      *core
	component string
	fields    map[string]interface{}
}

// core is shared by a logger and all its children so SetLevel on any of
// them takes effect everywhere.
type core struct {
	mu        sync.Mutex
	level     Level
	out       io.Writer
	formatter Formatter
}

// New creates a root logger. A nil output defaults to stderr; a nil
// formatter defaults to the text formatter.
func New(out io.Writer, formatter Formatter) Logger {
	if out == nil {
		out = os.Stderr
	}
	if formatter == nil {
		formatter = NewTextFormatter()
	}
	return &logger{core: &core{level: LevelInfo, out: out, formatter: formatter}}
}

// Nop returns a logger that discards everything. Useful as a default in
// tests and optional configs.
func Nop() Logger {
	return &logger{core: &core{level: LevelError + 1, out: io.Discard, formatter: NewTextFormatter()}}
}

func (l *logger) Debug(msg string, fields ...Field) { l.log(LevelDebug, msg, fields) }
func (l *logger) Info(msg string, fields ...Field)  { l.log(LevelInfo, msg, fields) }
func (l *logger) Warn(msg string, fields ...Field)  { l.log(LevelWarn, msg, fields) }
func (l *logger) Error(msg string, fields ...Field) { l.log(LevelError, msg, fields) }

func (l *logger) Named(name string) Logger {
	child := l.clone()
	if child.component != "" {
		child.component = child.component + "." + name
	} else {
		child.component = name
	}
	return child
}

func (l *logger) WithFields(fields ...Field) Logger {
	child := l.clone()
	for _, f := range fields {
		child.fields[f.Key] = f.Value
	}
	return child
}

func (l *logger) WithContext(ctx context.Context) Logger {
	if id := RequestIDFromContext(ctx); id != "" {
		return l.WithFields(String("request_id", id))
	}
	return l
}

func (l *logger) SetLevel(level Level) {
	l.core.mu.Lock()
	defer l.core.mu.Unlock()
	l.core.level = level
}

func (l *logger) Level() Level {
	l.core.mu.Lock()
	defer l.core.mu.Unlock()
	return l.core.level
}

func (l *logger) clone() *logger {
	fields := make(map[string]interface{}, len(l.fields))
	for k, v := range l.fields {
		fields[k] = v
	}
	return &logger{core: l.core, component: l.component, fields: fields}
}

func (l *logger) log(level Level, msg string, fields []Field) {
	if level < l.Level() {
		return
	}

	entry := &Entry{
		Time:      time.Now(),
		Level:     level,
		Component: l.component,
		Message:   msg,
		Fields:    make(map[string]interface{}, len(l.fields)+len(fields)),
	}
	for k, v := range l.fields {
		entry.Fields[k] = v
	}
	for _, f := range fields {
		entry.Fields[f.Key] = f.Value
		if f.Key == "error" {
			if e, ok := f.Value.(*mcperrors.Error); ok {
				entry.Fields["error_code"] = e.Code()
				entry.Fields["error_category"] = string(e.Category())
			}
		}
	}

	data, err := l.core.formatter.Format(entry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "log format failed: %v\n", err)
		return
	}

	l.core.mu.Lock()
	defer l.core.mu.Unlock()
	if _, err := l.core.out.Write(data); err != nil {
		fmt.Fprintf(os.Stderr, "log write failed: %v\n", err)
	}
}

type contextKey struct{}

// ContextWithRequestID tags ctx with a request ID for log correlation.
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, contextKey{}, requestID)
}

// RequestIDFromContext returns the request ID on ctx, or "".
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(contextKey{}).(string); ok {
		return id
	}
	return ""
}
