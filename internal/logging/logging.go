// Package logging wraps go-logr/logr with the small set of
// verbosity-keyed convenience methods flytecfs's components use, and
// provides a colored terminal sink for standalone CLI use.
package logging

import (
	"github.com/go-logr/logr"
)

const (
	LevelInfo  = 0
	LevelDebug = 1
	LevelTrace = 2
)

// Logger wraps a logr.Logger with Debug/Trace shortcuts at fixed
// verbosity levels, matching the verbosities protocol exchanges and
// cache hits are logged at throughout this module.
type Logger struct {
	log logr.Logger
}

// NewLogger wraps log, falling back to a discard sink if log is the
// zero value.
func NewLogger(log logr.Logger) *Logger {
	if log.GetSink() == nil {
		log = logr.Discard()
	}
	return &Logger{log: log}
}

// DefaultLogger discards everything; used where no logger was
// supplied via options.
func DefaultLogger() *Logger {
	return &Logger{log: logr.Discard()}
}

// Raw returns the underlying logr.Logger, for components that accept
// one directly (e.g. internal/serial.WithLogger).
func (l *Logger) Raw() logr.Logger {
	return l.log
}

func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Info(msg, keysAndValues...)
}

func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	l.log.V(LevelDebug).Info(msg, keysAndValues...)
}

func (l *Logger) Trace(msg string, keysAndValues ...interface{}) {
	l.log.V(LevelTrace).Info(msg, keysAndValues...)
}

func (l *Logger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error(err, msg, keysAndValues...)
}
