// Package logger defines the structured logging interface used across the
// credcore service. The production implementation is zap-backed and lives in
// internal/infrastructure/monitoring; this package only carries the contract
// so that domain and infrastructure code never import zap directly.
package logger

import (
	"context"
	"time"
)

// Logger is the structured logging contract. All methods take a context so
// implementations can attach request-scoped correlation fields.
type Logger interface {
	// Debug logs a debug message
	Debug(ctx context.Context, message string, fields ...Field)

	// Info logs an informational message
	Info(ctx context.Context, message string, fields ...Field)

	// Warn logs a warning message
	Warn(ctx context.Context, message string, fields ...Field)

	// Error logs an error message with its cause
	Error(ctx context.Context, message string, err error, fields ...Field)

	// WithFields returns a logger that always carries the given fields
	WithFields(fields ...Field) Logger

	// WithComponent returns a logger scoped to a named component
	WithComponent(component string) Logger
}

// Field is a key-value pair for structured logging.
type Field struct {
	Key   string
	Value interface{}
}

// String creates a string field.
func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

// Int creates an integer field.
func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

// Int64 creates an int64 field.
func Int64(key string, value int64) Field {
	return Field{Key: key, Value: value}
}

// Bool creates a boolean field.
func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value}
}

// Duration creates a duration field.
func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value.String()}
}

// Time creates a time field in RFC3339.
func Time(key string, value time.Time) Field {
	return Field{Key: key, Value: value.UTC().Format(time.RFC3339)}
}

// Any creates a field with an arbitrary value.
func Any(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}
