// Package logx provides the leveled, handler-based logging used throughout
// redisx. It mirrors the "bring your own sink" shape common in client
// libraries: the library never writes to stderr or holds global state, it
// just calls a Handler when Enabled() says the level is worth reporting.
package logx

import "fmt"

// Level describes a log entry's severity.
type Level int

const (
	// NONE disables logging entirely.
	NONE Level = iota
	// DEBUG is protocol-level chatter: bytes sent/received, handshake steps,
	// reconnect attempts. Too noisy for production under normal conditions.
	DEBUG
	// INFO covers client-visible lifecycle events: connect, disconnect,
	// cluster reconfiguration, subscription changes.
	INFO
	// ERROR covers failures that left a client or shard unusable.
	ERROR
)

var levelToString = map[Level]string{
	NONE:  "none",
	DEBUG: "debug",
	INFO:  "info",
	ERROR: "error",
}

// StringToLevel maps a level name back to a Level, for config parsing.
var StringToLevel = map[string]Level{
	"none":  NONE,
	"debug": DEBUG,
	"info":  INFO,
	"error": ERROR,
}

// String renders l as its canonical lowercase name.
func (l Level) String() string {
	if s, ok := levelToString[l]; ok {
		return s
	}
	return ""
}

// Entry is one log record.
type Entry struct {
	Level   Level
	Op      string // the operation that produced the entry, e.g. "client.connect"
	Message string
	Fields  map[string]interface{}
}

// NewEntry builds an Entry, taking an optional field map.
func NewEntry(level Level, op, message string, fields ...map[string]interface{}) Entry {
	var f map[string]interface{}
	if len(fields) > 0 {
		f = fields[0]
	}
	return Entry{Level: level, Op: op, Message: message, Fields: f}
}

// Logger can accept log entries and report whether a level would be logged.
type Logger interface {
	Log(Entry)
	Enabled(Level) bool
}

// Handler is called for every Entry whose level clears the configured
// threshold.
type Handler func(Entry)

// New builds a Logger that calls handler for every Entry at or above level.
// A nil logger (the zero value of *HandlerLogger, or simply a nil pointer)
// is always safe to call and never logs.
func New(level Level, handler Handler) *HandlerLogger {
	return &HandlerLogger{level: level, handler: handler}
}

// HandlerLogger is the default Logger implementation: dispatch to one
// Handler func.
type HandlerLogger struct {
	level   Level
	handler Handler
}

// Log dispatches entry to the configured handler if its level clears the
// threshold. Safe to call on a nil *HandlerLogger.
func (l *HandlerLogger) Log(entry Entry) {
	if l == nil {
		return
	}
	if entry.Level >= l.level && l.handler != nil {
		l.handler(entry)
	}
}

// Enabled reports whether level would be logged. Safe to call on a nil
// *HandlerLogger (always false).
func (l *HandlerLogger) Enabled(level Level) bool {
	if l == nil {
		return false
	}
	return level >= l.level
}

// Debugf, Infof and Errorf are convenience wrappers that format a message
// and skip the call entirely when the level is disabled.
func (l *HandlerLogger) Debugf(op, format string, args ...interface{}) {
	l.logf(DEBUG, op, format, args...)
}

func (l *HandlerLogger) Infof(op, format string, args ...interface{}) {
	l.logf(INFO, op, format, args...)
}

func (l *HandlerLogger) Errorf(op, format string, args ...interface{}) {
	l.logf(ERROR, op, format, args...)
}

func (l *HandlerLogger) logf(level Level, op, format string, args ...interface{}) {
	if !l.Enabled(level) {
		return
	}
	l.Log(NewEntry(level, op, fmt.Sprintf(format, args...)))
}
