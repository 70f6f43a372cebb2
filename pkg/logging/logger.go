// Package logging provides structured logging for termit.
//
// It wraps zerolog behind a small Logger interface. Output is human readable
// on a console by default and JSON when configured; every entry can also be
// copied to in-memory sinks, which `termit analyze --explain` uses to replay
// a run.
package logging

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// ContextKey type for context values to avoid collisions.
type ContextKey string

// RequestedByKey carries the user who requested an analysis run.
const RequestedByKey ContextKey = "requested_by"

// traceIDField is filled from the active otel span, if any.
const traceIDField = "trace_id"

// Level represents logging severity levels.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Config holds logger configuration.
type Config struct {
	Level       Level
	ServiceName string
	Environment string

	// JSONFormat enables JSON output when true, console output when false.
	JSONFormat bool

	// Output defaults to os.Stderr so command output on stdout stays
	// machine readable.
	Output io.Writer

	// Sinks receive a copy of every entry at or above Level.
	Sinks []Sink
}

// DefaultConfig returns the development configuration.
func DefaultConfig() *Config {
	return &Config{
		Level:       LevelInfo,
		ServiceName: "termit",
		Environment: "development",
		Output:      os.Stderr,
	}
}

// Logger is the interface for structured logging.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)

	// With returns a Logger that adds fields to every entry.
	With(fields ...Field) Logger

	// WithContext returns a Logger carrying the requester and trace id found
	// in ctx.
	WithContext(ctx context.Context) Logger
}

// Field represents a key-value pair for structured logging.
type Field struct {
	Key   string
	Value interface{}
}

// F creates a new Field with the given key and value.
func F(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

// Err creates a Field for an error.
func Err(err error) Field {
	return Field{Key: "error", Value: err}
}

// Component names the part of termit that logs an entry.
func Component(name string) Field {
	return Field{Key: "component", Value: name}
}

type logger struct {
	zl          zerolog.Logger
	serviceName string
	sinks       []Sink
	bound       []Field
}

// NewLogger creates a new Logger with the given configuration.
func NewLogger(cfg *Config) Logger {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if !cfg.JSONFormat {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}
	}

	zl := zerolog.New(output).
		Level(ParseLevel(cfg.Level)).
		With().
		Timestamp().
		Str("service_name", cfg.ServiceName).
		Str("environment", cfg.Environment).
		Logger()

	return &logger{zl: zl, serviceName: cfg.ServiceName, sinks: cfg.Sinks}
}

// ParseLevel converts Level to zerolog.Level. Unknown values map to info.
func ParseLevel(l Level) zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func (l *logger) Debug(msg string, fields ...Field) { l.log(LevelDebug, msg, fields) }
func (l *logger) Info(msg string, fields ...Field)  { l.log(LevelInfo, msg, fields) }
func (l *logger) Warn(msg string, fields ...Field)  { l.log(LevelWarn, msg, fields) }
func (l *logger) Error(msg string, fields ...Field) { l.log(LevelError, msg, fields) }

func (l *logger) log(level Level, msg string, fields []Field) {
	zlevel := ParseLevel(level)
	if l.zl.GetLevel() > zlevel {
		return
	}
	l.zl.WithLevel(zlevel).Fields(fieldMap(fields)).Msg(msg)

	if len(l.sinks) > 0 {
		l.sendToSinks(level, msg, fields)
	}
}

func (l *logger) With(fields ...Field) Logger {
	if len(fields) == 0 {
		return l
	}
	return l.derive(fields)
}

func (l *logger) WithContext(ctx context.Context) Logger {
	var fields []Field
	if v, ok := ctx.Value(RequestedByKey).(string); ok && v != "" {
		fields = append(fields, F(string(RequestedByKey), v))
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		fields = append(fields, F(traceIDField, sc.TraceID().String()))
	}
	return l.With(fields...)
}

func (l *logger) derive(fields []Field) *logger {
	bound := make([]Field, 0, len(l.bound)+len(fields))
	bound = append(bound, l.bound...)
	bound = append(bound, fields...)
	return &logger{
		zl:          l.zl.With().Fields(fieldMap(fields)).Logger(),
		serviceName: l.serviceName,
		sinks:       l.sinks,
		bound:       bound,
	}
}

// fieldMap lets zerolog pick the encoding per value type. Errors are written
// as their message.
func fieldMap(fields []Field) map[string]interface{} {
	m := make(map[string]interface{}, len(fields))
	for _, f := range fields {
		m[f.Key] = f.Value
	}
	return m
}

// sendToSinks hands a flattened copy of the entry to every configured sink.
func (l *logger) sendToSinks(level Level, msg string, fields []Field) {
	flat := make(map[string]string, len(l.bound)+len(fields))
	for _, f := range l.bound {
		flat[f.Key] = stringify(f.Value)
	}
	for _, f := range fields {
		flat[f.Key] = stringify(f.Value)
	}

	entry := LogEntry{
		Timestamp: time.Now(),
		Level:     level,
		Service:   l.serviceName,
		Message:   msg,
		Fields:    flat,
		TraceID:   flat[traceIDField],
		Caller:    getCaller(4), // sendToSinks, log, Debug/Info/Warn/Error, caller
	}
	for _, sink := range l.sinks {
		sink.Write(entry)
	}
}

type nopLogger struct{}

func (n nopLogger) Debug(msg string, fields ...Field)      {}
func (n nopLogger) Info(msg string, fields ...Field)       {}
func (n nopLogger) Warn(msg string, fields ...Field)       {}
func (n nopLogger) Error(msg string, fields ...Field)      {}
func (n nopLogger) With(fields ...Field) Logger            { return n }
func (n nopLogger) WithContext(ctx context.Context) Logger { return n }

// NewNopLogger returns a logger that discards all output.
func NewNopLogger() Logger {
	return nopLogger{}
}
