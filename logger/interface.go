// Package logger defines the structured logging contract used by the request
// executor and the model proxy client, together with a zerolog implementation.
package logger

import "time"

// Logger creates leveled log events. Implementations must be safe for
// concurrent use because a single executor serves many callers.
type Logger interface {
	Debug() LogEvent
	Info() LogEvent
	Warn() LogEvent
	Error() LogEvent
	WithFields(fields map[string]any) Logger
}

// LogEvent is a structured event that is built with fields and sent with Msg.
type LogEvent interface {
	Msg(msg string)
	Msgf(format string, args ...any)
	Err(err error) LogEvent
	Str(key, value string) LogEvent
	Int(key string, value int) LogEvent
	Int64(key string, value int64) LogEvent
	Bool(key string, value bool) LogEvent
	Dur(key string, d time.Duration) LogEvent
	Interface(key string, i any) LogEvent
}
