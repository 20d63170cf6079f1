package observability

import (
	"fmt"
	"log"
	"os"
	"time"
)

// StandardLogger is a Logger implementation writing structured
// key=value lines to stderr, so stdout remains free for any
// line-oriented transport the process might also speak.
type StandardLogger struct {
	prefix string
	level  LogLevel
	fields map[string]interface{}
	logger *log.Logger
}

// NewLogger creates the primary logger factory used throughout the core.
func NewLogger(prefix string) Logger {
	if prefix == "" {
		prefix = "knowledgebeast"
	}
	return &StandardLogger{
		prefix: prefix,
		level:  LogLevelInfo,
		logger: log.New(os.Stderr, "", 0),
	}
}

// NewLoggerWithLevel creates a logger at an explicit minimum level.
func NewLoggerWithLevel(prefix string, level LogLevel) Logger {
	l := NewLogger(prefix).(*StandardLogger)
	l.level = level
	return l
}

func (l *StandardLogger) Debug(msg string, fields map[string]interface{}) {
	if l.levelEnabled(LogLevelDebug) {
		l.log(LogLevelDebug, msg, fields)
	}
}

func (l *StandardLogger) Info(msg string, fields map[string]interface{}) {
	if l.levelEnabled(LogLevelInfo) {
		l.log(LogLevelInfo, msg, fields)
	}
}

func (l *StandardLogger) Warn(msg string, fields map[string]interface{}) {
	if l.levelEnabled(LogLevelWarn) {
		l.log(LogLevelWarn, msg, fields)
	}
}

func (l *StandardLogger) Error(msg string, fields map[string]interface{}) {
	l.log(LogLevelError, msg, fields)
}

func (l *StandardLogger) Fatal(msg string, fields map[string]interface{}) {
	l.log(LogLevelFatal, msg, fields)
	os.Exit(1)
}

func (l *StandardLogger) WithPrefix(prefix string) Logger {
	return &StandardLogger{prefix: prefix, level: l.level, fields: l.fields, logger: l.logger}
}

func (l *StandardLogger) With(fields map[string]interface{}) Logger {
	merged := make(map[string]interface{}, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &StandardLogger{prefix: l.prefix, level: l.level, fields: merged, logger: l.logger}
}

func (l *StandardLogger) levelEnabled(level LogLevel) bool {
	rank := map[LogLevel]int{
		LogLevelDebug: 0,
		LogLevelInfo:  1,
		LogLevelWarn:  2,
		LogLevelError: 3,
		LogLevelFatal: 4,
	}
	return rank[level] >= rank[l.level]
}

func (l *StandardLogger) log(level LogLevel, msg string, fields map[string]interface{}) {
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)
	line := fmt.Sprintf("%s [%s] [%s] %s", timestamp, level, l.prefix, msg)
	for k, v := range l.fields {
		line += fmt.Sprintf(" %s=%v", k, v)
	}
	for k, v := range fields {
		line += fmt.Sprintf(" %s=%v", k, v)
	}
	l.logger.Println(line)
}

// NoopLogger discards every message. Used in tests and as a safe default
// when no logger is supplied to a constructor.
type NoopLogger struct{}

func NewNoopLogger() Logger { return &NoopLogger{} }

func (l *NoopLogger) Debug(string, map[string]interface{}) {}
func (l *NoopLogger) Info(string, map[string]interface{})  {}
func (l *NoopLogger) Warn(string, map[string]interface{})  {}
func (l *NoopLogger) Error(string, map[string]interface{}) {}
func (l *NoopLogger) Fatal(string, map[string]interface{}) {}
func (l *NoopLogger) WithPrefix(string) Logger              { return l }
func (l *NoopLogger) With(map[string]interface{}) Logger    { return l }
