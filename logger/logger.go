package logger

import "context"

// Logger is the structured logging interface shared by every component.
// Fields are free-form key/value pairs attached to a single entry.
type Logger interface {
	Debug(ctx context.Context, msg string, fields map[string]interface{})
	Info(ctx context.Context, msg string, fields map[string]interface{})
	Warn(ctx context.Context, msg string, fields map[string]interface{})
	Error(ctx context.Context, msg string, fields map[string]interface{})

	// WithField returns a new logger carrying the field on all subsequent entries.
	WithField(key string, value interface{}) Logger

	// WithFields returns a new logger carrying all given fields on subsequent entries.
	WithFields(fields map[string]interface{}) Logger
}

// Nop discards everything. Used as a default when a component is
// constructed without an explicit logger.
type Nop struct{}

func (Nop) Debug(ctx context.Context, msg string, fields map[string]interface{}) {}
func (Nop) Info(ctx context.Context, msg string, fields map[string]interface{})  {}
func (Nop) Warn(ctx context.Context, msg string, fields map[string]interface{})  {}
func (Nop) Error(ctx context.Context, msg string, fields map[string]interface{}) {}
func (n Nop) WithField(key string, value interface{}) Logger                     { return n }
func (n Nop) WithFields(fields map[string]interface{}) Logger                    { return n }
