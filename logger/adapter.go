package logger

import (
	"time"

	"github.com/rs/zerolog"
)

// LogEventAdapter adapts a zerolog event to LogEvent.
type LogEventAdapter struct {
	event *zerolog.Event
}

func (a *LogEventAdapter) Msg(msg string) { a.event.Msg(msg) }

func (a *LogEventAdapter) Msgf(format string, args ...any) { a.event.Msgf(format, args...) }

func (a *LogEventAdapter) Err(err error) LogEvent {
	return &LogEventAdapter{event: a.event.Err(err)}
}

func (a *LogEventAdapter) Str(key, value string) LogEvent {
	return &LogEventAdapter{event: a.event.Str(key, value)}
}

func (a *LogEventAdapter) Strs(key string, values []string) LogEvent {
	return &LogEventAdapter{event: a.event.Strs(key, values)}
}

func (a *LogEventAdapter) Int(key string, value int) LogEvent {
	return &LogEventAdapter{event: a.event.Int(key, value)}
}

func (a *LogEventAdapter) Int64(key string, value int64) LogEvent {
	return &LogEventAdapter{event: a.event.Int64(key, value)}
}

func (a *LogEventAdapter) Dur(key string, d time.Duration) LogEvent {
	return &LogEventAdapter{event: a.event.Dur(key, d)}
}

func (a *LogEventAdapter) Interface(key string, i any) LogEvent {
	return &LogEventAdapter{event: a.event.Interface(key, i)}
}

// Info creates an info-level event.
func (l *ZeroLogger) Info() LogEvent { return &LogEventAdapter{event: l.zlog.Info()} }

// Error creates an error-level event.
func (l *ZeroLogger) Error() LogEvent { return &LogEventAdapter{event: l.zlog.Error()} }

// Debug creates a debug-level event.
func (l *ZeroLogger) Debug() LogEvent { return &LogEventAdapter{event: l.zlog.Debug()} }

// Warn creates a warn-level event.
func (l *ZeroLogger) Warn() LogEvent { return &LogEventAdapter{event: l.zlog.Warn()} }
