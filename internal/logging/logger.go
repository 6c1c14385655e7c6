// Package logging provides the logging interface and default
// implementation for the engine.
//
// Five-level interface (Error, Warn, Info, Debug, Fatal); users can wrap
// their own structured loggers behind it. Fatalf logs at FATAL level and
// invokes the configured fatal handler — the database wires the handler
// to its background error so writes stop — it does not exit the process.
//
// Log format: YYYY/MM/DD HH:MM:SS LEVEL [component] message
//
// Component namespace prefixes used for filtering: [flush], [compact],
// [wal], [manifest], [recovery], [db], [txn].
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync/atomic"
)

// FatalHandler is invoked when Fatalf is called. It must be safe for
// concurrent use and must not call Fatalf.
type FatalHandler func(msg string)

// Level is the logging verbosity.
type Level int

const (
	// LevelError logs only errors.
	LevelError Level = iota
	// LevelWarn logs warnings and errors.
	LevelWarn
	// LevelInfo logs info, warnings, and errors.
	LevelInfo
	// LevelDebug logs everything.
	LevelDebug
)

// String returns the level name.
func (l Level) String() string {
	switch l {
	case LevelError:
		return "ERROR"
	case LevelWarn:
		return "WARN"
	case LevelInfo:
		return "INFO"
	case LevelDebug:
		return "DEBUG"
	default:
		return "UNKNOWN"
	}
}

// Logger is the database logging interface. Implementations must be safe
// for concurrent use.
type Logger interface {
	// Errorf logs a formatted error message.
	Errorf(format string, args ...any)

	// Warnf logs a formatted warning message.
	Warnf(format string, args ...any)

	// Infof logs a formatted informational message.
	Infof(format string, args ...any)

	// Debugf logs a formatted debug message.
	Debugf(format string, args ...any)

	// Fatalf logs a fatal error and triggers the fatal handler. Writes
	// are rejected afterwards; reads may continue.
	Fatalf(format string, args ...any)
}

// Namespace prefixes for log messages.
const (
	NSFlush    = "[flush] "
	NSCompact  = "[compact] "
	NSWAL      = "[wal] "
	NSManifest = "[manifest] "
	NSRecovery = "[recovery] "
	NSDB       = "[db] "
	NSTxn      = "[txn] "
)

// DefaultLogger writes formatted lines to an io.Writer. The level is
// fixed at construction.
type DefaultLogger struct {
	logger       *log.Logger
	level        Level
	fatalHandler atomic.Pointer[FatalHandler]
}

// NewDefaultLogger creates a stderr logger at the given level.
func NewDefaultLogger(level Level) *DefaultLogger {
	return NewLogger(os.Stderr, level)
}

// NewLogger creates a logger writing to w at the given level.
func NewLogger(w io.Writer, level Level) *DefaultLogger {
	return &DefaultLogger{
		logger: log.New(w, "", log.LstdFlags),
		level:  level,
	}
}

// SetFatalHandler installs the handler invoked by Fatalf.
func (l *DefaultLogger) SetFatalHandler(h FatalHandler) {
	l.fatalHandler.Store(&h)
}

// Errorf logs a formatted error message.
func (l *DefaultLogger) Errorf(format string, args ...any) {
	if l.level >= LevelError {
		_ = l.logger.Output(2, "ERROR "+fmt.Sprintf(format, args...))
	}
}

// Warnf logs a formatted warning message.
func (l *DefaultLogger) Warnf(format string, args ...any) {
	if l.level >= LevelWarn {
		_ = l.logger.Output(2, "WARN "+fmt.Sprintf(format, args...))
	}
}

// Infof logs a formatted informational message.
func (l *DefaultLogger) Infof(format string, args ...any) {
	if l.level >= LevelInfo {
		_ = l.logger.Output(2, "INFO "+fmt.Sprintf(format, args...))
	}
}

// Debugf logs a formatted debug message.
func (l *DefaultLogger) Debugf(format string, args ...any) {
	if l.level >= LevelDebug {
		_ = l.logger.Output(2, "DEBUG "+fmt.Sprintf(format, args...))
	}
}

// Fatalf logs unconditionally and invokes the fatal handler.
func (l *DefaultLogger) Fatalf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	_ = l.logger.Output(2, "FATAL "+msg)
	if h := l.fatalHandler.Load(); h != nil {
		(*h)(msg)
	}
}

// OrDefault returns l, or a WARN-level stderr logger when l is nil.
func OrDefault(l Logger) Logger {
	if l == nil {
		return NewDefaultLogger(LevelWarn)
	}
	return l
}
